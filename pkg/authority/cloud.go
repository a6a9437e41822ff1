package authority

import (
	"fmt"
	"strings"
)

// Cloud identifies a sovereign Azure cloud instance. The zero value is the
// public cloud.
type Cloud int

const (
	AzurePublic Cloud = iota
	AzureChina
	AzureGovernment
	AzureGermany
)

var cloudHosts = map[Cloud]string{
	AzurePublic:     "login.microsoftonline.com",
	AzureChina:      "login.chinacloudapi.cn",
	AzureGovernment: "login.microsoftonline.us",
	AzureGermany:    "login.microsoftonline.de",
}

var graphHosts = map[Cloud]string{
	AzurePublic:     "graph.microsoft.com",
	AzureChina:      "microsoftgraph.chinacloudapi.cn",
	AzureGovernment: "graph.microsoft.us",
	AzureGermany:    "graph.microsoft.de",
}

var cloudNames = map[Cloud]string{
	AzurePublic:     "public",
	AzureChina:      "china",
	AzureGovernment: "government",
	AzureGermany:    "germany",
}

// Host returns the login host for the cloud.
func (c Cloud) Host() string {
	return cloudHosts[c]
}

// GraphHost returns the Microsoft Graph host serving the cloud.
func (c Cloud) GraphHost() string {
	return graphHosts[c]
}

func (c Cloud) String() string {
	if name, ok := cloudNames[c]; ok {
		return name
	}
	return fmt.Sprintf("cloud(%d)", int(c))
}

// Valid reports whether c is one of the known cloud instances.
func (c Cloud) Valid() bool {
	_, ok := cloudHosts[c]
	return ok
}

// ParseCloud maps a configuration string to a Cloud. Both the short names
// ("public", "china", "government", "germany") and the login hosts are
// accepted.
func ParseCloud(s string) (Cloud, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return AzurePublic, nil
	}

	for c, name := range cloudNames {
		if s == name || s == cloudHosts[c] {
			return c, nil
		}
	}

	switch s {
	case "azurepublic", "global":
		return AzurePublic, nil
	case "azurechina":
		return AzureChina, nil
	case "azuregovernment", "usgov":
		return AzureGovernment, nil
	case "azuregermany":
		return AzureGermany, nil
	}

	return 0, fmt.Errorf("authority: unknown cloud %q", s)
}
