// Package scope implements the ordered, de-duplicated scope set requested
// from the identity provider.
package scope

import (
	"net/url"
	"slices"
	"strings"

	"github.com/aussiebroadwan/graphauth/pkg/cryptox"
)

// Well-known scopes.
const (
	OfflineAccess = "offline_access"
	OpenID        = "openid"
	Profile       = "profile"

	// DefaultSuffix marks a request for all statically configured
	// permissions of a resource, e.g. https://graph.microsoft.com/.default.
	DefaultSuffix = "/.default"
)

// Set keeps scopes in insertion order without duplicates. The zero value is
// an empty set ready to use. A Set is not safe for concurrent mutation.
type Set struct {
	items []string
}

// New returns a set holding scopes in the given order.
func New(scopes ...string) *Set {
	s := &Set{}
	return s.Add(scopes...)
}

// Parse splits a space separated scope string, as found in token responses.
func Parse(s string) *Set {
	return New(strings.Fields(s)...)
}

// Add appends scopes that are not already present. Blank entries are
// ignored. It returns s for chaining.
func (s *Set) Add(scopes ...string) *Set {
	for _, sc := range scopes {
		sc = strings.TrimSpace(sc)
		if sc == "" || s.Contains(sc) {
			continue
		}
		s.items = append(s.items, sc)
	}
	return s
}

// Remove deletes scopes from the set. It returns s for chaining.
func (s *Set) Remove(scopes ...string) *Set {
	s.items = slices.DeleteFunc(s.items, func(item string) bool {
		return slices.Contains(scopes, item)
	})
	return s
}

// Contains reports whether scope is in the set.
func (s *Set) Contains(scope string) bool {
	return s != nil && slices.Contains(s.items, scope)
}

// ContainsOfflineAccess reports whether a refresh token is being requested.
func (s *Set) ContainsOfflineAccess() bool {
	return s.Contains(OfflineAccess)
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

func (s *Set) IsEmpty() bool { return s.Len() == 0 }

// Slice returns a copy of the scopes in insertion order.
func (s *Set) Slice() []string {
	if s == nil {
		return nil
	}
	return slices.Clone(s.items)
}

// Sorted returns a copy of the scopes in lexical order.
func (s *Set) Sorted() []string {
	out := s.Slice()
	slices.Sort(out)
	return out
}

// Clone returns an independent copy.
func (s *Set) Clone() *Set {
	return &Set{items: s.Slice()}
}

// Normalized returns a sorted copy. Two sets holding the same scopes in any
// order normalise to equal sets.
func (s *Set) Normalized() *Set {
	return &Set{items: s.Sorted()}
}

// Join concatenates the scopes with sep in insertion order.
func (s *Set) Join(sep string) string {
	if s == nil {
		return ""
	}
	return strings.Join(s.items, sep)
}

// String returns the space separated form used in token requests.
func (s *Set) String() string { return s.Join(" ") }

// QueryValue returns the query-escaped form used in authorize URLs, where
// the separating spaces become '+'.
func (s *Set) QueryValue() string {
	return url.QueryEscape(s.String())
}

// Hash returns a stable identifier for the set that ignores ordering.
func (s *Set) Hash() string {
	return cryptox.FingerprintToken(strings.Join(s.Sorted(), " "))
}

// ResourceDefault returns the single "<resource>/.default" scope when the set
// consists of exactly that, as the client credentials grant requires.
func (s *Set) ResourceDefault() (string, bool) {
	if s.Len() != 1 || !strings.HasSuffix(s.items[0], DefaultSuffix) {
		return "", false
	}
	return s.items[0], true
}
