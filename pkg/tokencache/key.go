package tokencache

import (
	"strings"

	"github.com/aussiebroadwan/graphauth/pkg/authority"
	"github.com/aussiebroadwan/graphauth/pkg/authsdk"
)

// Key identifies one cached token. Two credentials with the same client,
// tenant, scopes and account share an entry.
type Key struct {
	Cloud     authority.Cloud
	Tenant    string
	ClientID  string
	ScopeHash string

	// AccountID is empty for app-only tokens
	AccountID string
}

// KeyFor derives the cache key of a credential.
func KeyFor(cred authsdk.Credential) Key {
	a := cred.Authority()
	return Key{
		Cloud:     a.Cloud(),
		Tenant:    strings.ToLower(a.Tenant().String()),
		ClientID:  strings.ToLower(cred.ClientID()),
		ScopeHash: cred.Scopes().Hash(),
		AccountID: cred.AccountHint(),
	}
}

// String is the storage id of the key.
func (k Key) String() string {
	return strings.Join([]string{k.Cloud.String(), k.Tenant, k.ClientID, k.ScopeHash, k.AccountID}, "|")
}
