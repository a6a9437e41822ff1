package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds CLI settings. Environment variables are read first; a
// profile file fills anything still unset.
type Config struct {
	ClientID       string        // GRAPH_CLIENT_ID (required)
	Tenant         string        // GRAPH_TENANT_ID (default: common)
	ClientSecret   string        // GRAPH_CLIENT_SECRET
	Cloud          string        // GRAPH_CLOUD (default: public)
	Scopes         []string      // GRAPH_SCOPES, space separated
	RedirectURI    string        // GRAPH_REDIRECT_URI (default: http://localhost:8400/callback)
	CertFile       string        // GRAPH_CERT_FILE, PEM with certificate and key
	CertThumbprint string        // GRAPH_CERT_THUMBPRINT, checked against the certificate
	AuthorityHost  string        // GRAPH_AUTHORITY_HOST, overrides the cloud login host
	GraphBaseURL   string        // GRAPH_BASE_URL, overrides the cloud Graph endpoint
	StoreFile      string        // GRAPH_STORE_FILE, persisted credential document
	MasterKeyFile  string        // GRAPH_MASTER_KEY_FILE, key material sealing stored secrets
	RedisAddr      string        // REDIS_ADDR, shares the token cache through Redis
	RedisTTL       time.Duration // REDIS_TTL (default: 90 days)
	RequestTimeout time.Duration // GRAPH_REQUEST_TIMEOUT (default: off)
	MaxRetries     int           // GRAPH_MAX_RETRIES (default: 3)

	Env       string // ENV (default: dev)
	LogLevel  string // LOG_LEVEL (default: info)
	LogFormat string // LOG_FORMAT (default: text)
	LogOutput io.Writer
}

// Profile is the YAML profile file layout.
type Profile struct {
	ClientID      string   `yaml:"client_id"`
	Tenant        string   `yaml:"tenant"`
	Cloud         string   `yaml:"cloud"`
	Scopes        []string `yaml:"scopes"`
	RedirectURI   string   `yaml:"redirect_uri"`
	CertFile      string   `yaml:"cert_file"`
	AuthorityHost string   `yaml:"authority_host"`
	GraphBaseURL  string   `yaml:"graph_base_url"`
	StoreFile     string   `yaml:"store_file"`
	RedisAddr     string   `yaml:"redis_addr"`
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() Config {
	cfg := Config{
		ClientID:       os.Getenv("GRAPH_CLIENT_ID"),
		Tenant:         getEnvOrDefault("GRAPH_TENANT_ID", "common"),
		ClientSecret:   os.Getenv("GRAPH_CLIENT_SECRET"),
		Cloud:          getEnvOrDefault("GRAPH_CLOUD", "public"),
		Scopes:         strings.Fields(os.Getenv("GRAPH_SCOPES")),
		RedirectURI:    getEnvOrDefault("GRAPH_REDIRECT_URI", "http://localhost:8400/callback"),
		CertFile:       os.Getenv("GRAPH_CERT_FILE"),
		CertThumbprint: os.Getenv("GRAPH_CERT_THUMBPRINT"),
		AuthorityHost:  os.Getenv("GRAPH_AUTHORITY_HOST"),
		GraphBaseURL:   os.Getenv("GRAPH_BASE_URL"),
		StoreFile:      os.Getenv("GRAPH_STORE_FILE"),
		MasterKeyFile:  os.Getenv("GRAPH_MASTER_KEY_FILE"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisTTL:       getEnvDurationOrDefault("REDIS_TTL", 90*24*time.Hour),
		RequestTimeout: getEnvDurationOrDefault("GRAPH_REQUEST_TIMEOUT", 0),
		MaxRetries:     getEnvIntOrDefault("GRAPH_MAX_RETRIES", 3),
		Env:            getEnvOrDefault("ENV", "dev"),
		LogLevel:       getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:      getEnvOrDefault("LOG_FORMAT", "text"),
	}
	return cfg
}

// ApplyProfile reads the YAML profile at path and copies its values into
// fields that are still empty.
func (c *Config) ApplyProfile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read profile: %w", err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("failed to parse profile %s: %w", path, err)
	}

	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&c.ClientID, p.ClientID)
	fill(&c.CertFile, p.CertFile)
	fill(&c.AuthorityHost, p.AuthorityHost)
	fill(&c.GraphBaseURL, p.GraphBaseURL)
	fill(&c.StoreFile, p.StoreFile)
	fill(&c.RedisAddr, p.RedisAddr)

	// These carry defaults, so the profile wins unless the variable was set
	if os.Getenv("GRAPH_TENANT_ID") == "" && p.Tenant != "" {
		c.Tenant = p.Tenant
	}
	if os.Getenv("GRAPH_CLOUD") == "" && p.Cloud != "" {
		c.Cloud = p.Cloud
	}
	if os.Getenv("GRAPH_REDIRECT_URI") == "" && p.RedirectURI != "" {
		c.RedirectURI = p.RedirectURI
	}
	if len(c.Scopes) == 0 {
		c.Scopes = p.Scopes
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Plain integers are seconds
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
