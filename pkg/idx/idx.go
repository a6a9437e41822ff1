// Package idx generates correlation identifiers for outbound requests.
//
// Identifiers are ULIDs from a monotonic source, so ids minted by one process
// sort by creation time. The identity provider and Graph expect the
// client-request-id header to be a GUID; GUID renders the same 128 bits in
// that form.
package idx

import (
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

type ID string

// Zero is the empty ID.
const Zero ID = ""

// ErrInvalid reports a malformed ULID string.
var ErrInvalid = errors.New("idx: invalid ulid")

var (
	globalOnce sync.Once
	global     *generator
)

// generator serialises access to the monotonic entropy source, which is not
// safe for concurrent use.
type generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func (g *generator) newAt(t time.Time) ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	return ID(ulid.MustNew(ulid.Timestamp(t), g.entropy).String())
}

func initGlobal() {
	global = &generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// New returns a fresh ID stamped with the current UTC time.
func New() ID {
	return NewAt(time.Now().UTC())
}

// NewAt returns an ID stamped with t. Useful in tests.
func NewAt(t time.Time) ID {
	globalOnce.Do(initGlobal)
	return global.newAt(t)
}

// Parse validates s as a ULID. GUID-formatted input is accepted as well, so
// ids echoed back by the server in client-request-id round-trip.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, ErrInvalid
	}

	if u, err := ulid.ParseStrict(s); err == nil {
		return ID(u.String()), nil
	}

	g, err := uuid.Parse(s)
	if err != nil {
		return Zero, ErrInvalid
	}
	return ID(ulid.ULID(g).String()), nil
}

func (id ID) IsZero() bool   { return id == Zero }
func (id ID) String() string { return string(id) }

// GUID renders the identifier as an RFC 4122 style string.
func (id ID) GUID() string {
	u, err := ulid.ParseStrict(id.String())
	if err != nil {
		return ""
	}
	return uuid.UUID(u).String()
}

// Time extracts the embedded timestamp. Zero or invalid IDs yield the zero
// time.
func (id ID) Time() time.Time {
	u, err := ulid.ParseStrict(id.String())
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(u.Time())
}
