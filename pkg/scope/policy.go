package scope

import "fmt"

// OfflineAccessPolicy decides whether offline_access is sent with a request.
//
// The identity provider only issues refresh tokens when offline_access is
// requested, and app-only grants reject it outright. Every credential applies
// one policy at serialization time.
type OfflineAccessPolicy int

const (
	// OfflineAccessAuto adds offline_access to delegated (user) flows. This
	// is the default.
	OfflineAccessAuto OfflineAccessPolicy = iota
	// OfflineAccessNever removes offline_access; no refresh token is expected.
	OfflineAccessNever
	// OfflineAccessAsRequested leaves delegated scopes as the caller gave
	// them, with or without offline_access.
	OfflineAccessAsRequested
)

func (p OfflineAccessPolicy) String() string {
	switch p {
	case OfflineAccessAuto:
		return "auto"
	case OfflineAccessNever:
		return "never"
	case OfflineAccessAsRequested:
		return "as_requested"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ApplyOfflineAccess returns a copy of s adjusted by policy. delegated
// reports whether the flow signs in a user. App-only flows drop
// offline_access under every policy since the provider rejects it there.
func (s *Set) ApplyOfflineAccess(policy OfflineAccessPolicy, delegated bool) *Set {
	out := s.Clone()
	if !delegated {
		return out.Remove(OfflineAccess)
	}

	switch policy {
	case OfflineAccessAuto:
		out.Add(OfflineAccess)
	case OfflineAccessNever:
		out.Remove(OfflineAccess)
	}
	return out
}
