package authority

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// TenantKind classifies the tenant segment of an authority.
type TenantKind int

const (
	KindCommon TenantKind = iota
	KindOrganizations
	KindConsumers
	KindTenantID
	KindNamed
)

func (k TenantKind) String() string {
	switch k {
	case KindCommon:
		return "common"
	case KindOrganizations:
		return "organizations"
	case KindConsumers:
		return "consumers"
	case KindTenantID:
		return "tenant_id"
	case KindNamed:
		return "named"
	default:
		return "unknown"
	}
}

// ErrInvalidTenant is returned when a tenant string is neither a well-known
// alias, a UUID nor a domain name.
var ErrInvalidTenant = errors.New("authority: invalid tenant")

// Tenant is the organisational scope segment of an authority URL.
type Tenant struct {
	kind  TenantKind
	value string
}

var (
	TenantCommon        = Tenant{kind: KindCommon, value: "common"}
	TenantOrganizations = Tenant{kind: KindOrganizations, value: "organizations"}
	TenantConsumers     = Tenant{kind: KindConsumers, value: "consumers"}
)

// domainPattern accepts dotted DNS names such as contoso.onmicrosoft.com.
var domainPattern = regexp.MustCompile(`^(?i)([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}$`)

// TenantFromID builds a tenant from a directory (tenant) id. The id must be
// a UUID and is stored in its canonical lower-case form.
func TenantFromID(id string) (Tenant, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return Tenant{}, fmt.Errorf("%w: %q is not a uuid", ErrInvalidTenant, id)
	}
	return Tenant{kind: KindTenantID, value: parsed.String()}, nil
}

// TenantFromDomain builds a tenant from a verified domain name.
func TenantFromDomain(domain string) (Tenant, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if !domainPattern.MatchString(domain) {
		return Tenant{}, fmt.Errorf("%w: %q is not a domain name", ErrInvalidTenant, domain)
	}
	return Tenant{kind: KindNamed, value: domain}, nil
}

// ParseTenant recognises the well-known aliases, tenant ids and domains.
func ParseTenant(s string) (Tenant, error) {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "", "common":
		return TenantCommon, nil
	case "organizations":
		return TenantOrganizations, nil
	case "consumers":
		return TenantConsumers, nil
	default:
		if _, err := uuid.Parse(v); err == nil {
			return TenantFromID(v)
		}
		return TenantFromDomain(v)
	}
}

// Kind returns the tenant classification.
func (t Tenant) Kind() TenantKind { return t.kind }

// String returns the path segment used in authority URLs.
func (t Tenant) String() string {
	if t.value == "" {
		return TenantCommon.value
	}
	return t.value
}

// IsSpecific reports whether the tenant names a single directory.
func (t Tenant) IsSpecific() bool {
	return t.kind == KindTenantID || t.kind == KindNamed
}
