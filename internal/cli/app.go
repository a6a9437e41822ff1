package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/aussiebroadwan/graphauth/pkg/authority"
	"github.com/aussiebroadwan/graphauth/pkg/authsdk"
	"github.com/aussiebroadwan/graphauth/pkg/credstore"
	"github.com/aussiebroadwan/graphauth/pkg/cryptox"
	"github.com/aussiebroadwan/graphauth/pkg/graph"
	"github.com/aussiebroadwan/graphauth/pkg/httpx"
	"github.com/aussiebroadwan/graphauth/pkg/jwtx"
	"github.com/aussiebroadwan/graphauth/pkg/slogx"
	"github.com/aussiebroadwan/graphauth/pkg/tokencache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

const (
	// BuildVersion is overridden at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application holds the collaborators shared by every command.
type Application struct {
	cfg    Config
	logger *slog.Logger

	httpClient *http.Client
	exec       *authsdk.Executor
	cache      *tokencache.Cache
	discoverer *authority.Discoverer
	limiter    *httpx.RateLimiter

	registry     *prometheus.Registry
	cacheMetrics *tokencache.Metrics
	graphMetrics *graph.Metrics

	redis *redis.Client
}

// NewApplication wires the application from cfg.
func NewApplication(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "graphauth",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
			Output:  cfg.LogOutput,
		}),
		registry: prometheus.NewRegistry(),
	}

	app.httpClient = &http.Client{Transport: slogx.NewTransport(nil, app.logger)}
	app.exec = authsdk.NewExecutor(app.httpClient)
	app.exec.Logger = app.logger
	app.discoverer = authority.NewDiscoverer(app.httpClient, 0)
	app.discoverer.Logger = app.logger
	app.limiter = httpx.NewRateLimiter(httpx.ParseRateLimitFromEnv("GRAPH", httpx.GraphLimit))

	if err := app.initMetrics(); err != nil {
		return nil, err
	}
	app.initCache()

	return app, nil
}

func (app *Application) initMetrics() error {
	var err error
	if app.cacheMetrics, err = tokencache.NewMetrics(app.registry); err != nil {
		return fmt.Errorf("failed to register cache metrics: %w", err)
	}
	if app.graphMetrics, err = graph.NewMetrics(app.registry); err != nil {
		return fmt.Errorf("failed to register graph metrics: %w", err)
	}
	return nil
}

// initCache shares tokens through Redis when REDIS_ADDR is set and keeps
// them in memory otherwise.
func (app *Application) initCache() {
	opts := []tokencache.Option{
		tokencache.WithLogger(app.logger),
		tokencache.WithMetrics(app.cacheMetrics),
	}

	if app.cfg.RedisAddr != "" {
		app.redis = redis.NewClient(&redis.Options{Addr: app.cfg.RedisAddr})
		opts = append(opts, tokencache.WithStore(
			tokencache.NewRedisStore[tokencache.Entry](app.redis, tokencache.WithTTL(app.cfg.RedisTTL)),
		))
		app.logger.Debug("token cache backed by redis", slog.String("addr", app.cfg.RedisAddr))
	}

	app.cache = tokencache.New(opts...)
}

// Close releases external connections.
func (app *Application) Close() error {
	if app.redis != nil {
		return app.redis.Close()
	}
	return nil
}

// authority resolves the configured cloud and tenant.
func (app *Application) authority() (authority.Authority, error) {
	cloud, err := authority.ParseCloud(app.cfg.Cloud)
	if err != nil {
		return authority.Authority{}, err
	}
	tenant, err := authority.ParseTenant(app.cfg.Tenant)
	if err != nil {
		return authority.Authority{}, err
	}

	var opts []authority.Option
	if app.cfg.AuthorityHost != "" {
		opts = append(opts, authority.WithHost(app.cfg.AuthorityHost))
	}
	return authority.New(cloud, tenant, opts...)
}

// builder starts a credential from the configuration.
func (app *Application) builder(defaultScopes ...string) (*authsdk.Builder, error) {
	if app.cfg.ClientID == "" {
		return nil, errors.New("GRAPH_CLIENT_ID is required")
	}

	a, err := app.authority()
	if err != nil {
		return nil, err
	}

	scopes := app.cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}

	return authsdk.NewBuilder(app.cfg.ClientID).
		Authority(a).
		Scopes(scopes...).
		RedirectURI(app.cfg.RedirectURI).
		Logger(app.logger), nil
}

// appCredential builds the client credentials grant, preferring a
// certificate over a secret.
func (app *Application) appCredential() (authsdk.Credential, error) {
	a, err := app.authority()
	if err != nil {
		return nil, err
	}
	b, err := app.builder(defaultAppScope(a))
	if err != nil {
		return nil, err
	}

	if app.cfg.CertFile != "" {
		signer, err := app.certificateSigner()
		if err != nil {
			return nil, err
		}
		return b.ClientCertificate(signer), nil
	}
	return b.ClientSecret(app.cfg.ClientSecret), nil
}

func (app *Application) certificateSigner() (*jwtx.RS256Signer, error) {
	pemData, err := os.ReadFile(app.cfg.CertFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}
	signer, err := jwtx.NewCertificateSigner(pemData, nil, jwtx.WithX5C())
	if err != nil {
		return nil, err
	}
	if want := app.cfg.CertThumbprint; want != "" && !strings.EqualFold(want, signer.KID()) {
		return nil, fmt.Errorf("certificate thumbprint %s does not match GRAPH_CERT_THUMBPRINT", signer.KID())
	}
	return signer, nil
}

// credentialStore opens the persisted credential document, if configured.
func (app *Application) credentialStore() (*credstore.Store, error) {
	if app.cfg.StoreFile == "" {
		return nil, nil
	}

	var sealer credstore.Sealer
	if app.cfg.MasterKeyFile != "" {
		s, err := cryptox.NewAESGCMSealerFromFile(app.cfg.MasterKeyFile)
		if err != nil {
			return nil, err
		}
		sealer = s
	}
	return credstore.New(app.cfg.StoreFile, sealer), nil
}

// graphClient binds a Graph client to cred.
func (app *Application) graphClient(cred authsdk.Credential) *graph.Client {
	opts := []graph.Option{
		graph.WithHTTPClient(app.httpClient),
		graph.WithExecutor(app.exec),
		graph.WithCache(app.cache),
		graph.WithLogger(app.logger),
		graph.WithMetrics(app.graphMetrics),
		graph.WithRateLimiter(app.limiter),
		graph.WithMaxRetries(app.cfg.MaxRetries),
		graph.WithTimeout(app.cfg.RequestTimeout),
	}
	if app.cfg.GraphBaseURL != "" {
		opts = append(opts, graph.WithBaseURL(app.cfg.GraphBaseURL))
	}
	return graph.New(cred, opts...)
}

// defaultAppScope is the .default scope of the Graph resource in a's cloud.
func defaultAppScope(a authority.Authority) string {
	return "https://" + a.Cloud().GraphHost() + "/.default"
}
