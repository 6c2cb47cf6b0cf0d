package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	defaultEnvFile          = ".env"
	defaultAddr             = ":8080"
	defaultReadTimeout      = 15 * time.Second
	defaultWriteTimeout     = 15 * time.Second
	defaultIdleTimeout      = 60 * time.Second
	defaultBackendTimeout   = 10 * time.Second
	defaultBreakerFailures  = 5
	defaultBreakerCooldown  = 30 * time.Second
	defaultAutoSaveInterval = 30 * time.Second
	defaultSearchDebounce   = 300 * time.Millisecond
	defaultRemoteTimeout    = 10 * time.Second
	defaultSaleChannel      = "store"
	defaultTaxRate          = "0.08"
	defaultSecretsFile      = ".secrets.local"
	defaultLogLevel         = "info"

	// HeldOrderStoreBackend keeps held orders on the REST backend.
	HeldOrderStoreBackend = "backend"
	// HeldOrderStoreFirestore keeps held orders in Firestore.
	HeldOrderStoreFirestore = "firestore"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server     ServerConfig
	Backend    BackendConfig
	Session    SessionConfig
	Pricing    PricingConfig
	HeldOrders HeldOrderConfig
	Firestore  FirestoreConfig
	PubSub     PubSubConfig
	Secrets    SecretsConfig
	LogLevel   string
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// BackendConfig points at the REST backend.
type BackendConfig struct {
	BaseURL         string
	Token           string
	Timeout         time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
}

// SessionConfig identifies the till and tunes its timers.
type SessionConfig struct {
	OperatorID       string
	TerminalID       string
	AutoSaveInterval time.Duration
	SearchDebounce   time.Duration
	RemoteTimeout    time.Duration
}

// PricingConfig holds the effective tax policy for the selected sale channel.
type PricingConfig struct {
	Channel      string
	ChannelsFile string
	TaxEnabled   bool
	TaxRate      decimal.Decimal
}

// HeldOrderConfig selects the held-order store.
type HeldOrderConfig struct {
	Store string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig configures sale-completed publishing. An empty topic disables it.
type PubSubConfig struct {
	ProjectID  string
	SalesTopic string
}

// SecretsConfig configures Secret Manager lookups.
type SecretsConfig struct {
	ProjectID    string
	FallbackFile string
}

// ChannelConfig is a single entry of the channels file.
type ChannelConfig struct {
	TaxEnabled *bool  `yaml:"taxEnabled"`
	TaxRate    string `yaml:"taxRate"`
}

type channelsFile struct {
	Channels map[string]ChannelConfig `yaml:"channels"`
}

// SecretResolver resolves secret:// references.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError lists every missing or invalid field.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path. An empty path disables it.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects explicit values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv stops Load from reading the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Lookup returns a single value using the same precedence as Load. Callers use it to build
// dependencies, such as the secret fetcher, before the full configuration is available.
func Lookup(key string, opts ...Option) (string, bool, error) {
	options := newLoaderOptions(opts)
	lookup, err := options.lookupFunc()
	if err != nil {
		return "", false, err
	}
	value, ok := lookup(key)
	return value, ok, nil
}

// Load assembles the configuration from defaults, the .env file, the process environment and
// explicit overrides, in increasing order of precedence.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	lookup, err := options.lookupFunc()
	if err != nil {
		return Config{}, err
	}

	var invalid []string
	cfg := Config{
		Server: ServerConfig{
			Addr:         stringWithDefault(lookup, "POS_HTTP_ADDR", defaultAddr),
			ReadTimeout:  durationWithDefault(lookup, "POS_HTTP_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "POS_HTTP_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "POS_HTTP_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Backend: BackendConfig{
			BaseURL:         strings.TrimRight(stringWithDefault(lookup, "POS_BACKEND_BASE_URL", ""), "/"),
			Token:           stringWithDefault(lookup, "POS_BACKEND_TOKEN", ""),
			Timeout:         durationWithDefault(lookup, "POS_BACKEND_TIMEOUT", defaultBackendTimeout),
			BreakerFailures: intWithDefault(lookup, "POS_BACKEND_BREAKER_FAILURES", defaultBreakerFailures),
			BreakerCooldown: durationWithDefault(lookup, "POS_BACKEND_BREAKER_COOLDOWN", defaultBreakerCooldown),
		},
		Session: SessionConfig{
			OperatorID:       stringWithDefault(lookup, "POS_OPERATOR_ID", ""),
			TerminalID:       stringWithDefault(lookup, "POS_TERMINAL_ID", ""),
			AutoSaveInterval: durationWithDefault(lookup, "POS_AUTOSAVE_INTERVAL", defaultAutoSaveInterval),
			SearchDebounce:   durationWithDefault(lookup, "POS_SEARCH_DEBOUNCE", defaultSearchDebounce),
			RemoteTimeout:    durationWithDefault(lookup, "POS_REMOTE_TIMEOUT", defaultRemoteTimeout),
		},
		Pricing: PricingConfig{
			Channel:      strings.ToLower(stringWithDefault(lookup, "POS_SALE_CHANNEL", defaultSaleChannel)),
			ChannelsFile: stringWithDefault(lookup, "POS_CHANNELS_FILE", ""),
			TaxEnabled:   boolWithDefault(lookup, "POS_TAX_ENABLED", true),
		},
		HeldOrders: HeldOrderConfig{
			Store: strings.ToLower(stringWithDefault(lookup, "POS_HELD_ORDER_STORE", HeldOrderStoreBackend)),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "POS_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:  stringWithDefault(lookup, "POS_PUBSUB_PROJECT_ID", ""),
			SalesTopic: stringWithDefault(lookup, "POS_PUBSUB_SALES_TOPIC", ""),
		},
		Secrets: SecretsConfig{
			ProjectID:    stringWithDefault(lookup, "POS_SECRETS_PROJECT_ID", ""),
			FallbackFile: stringWithDefault(lookup, "POS_SECRETS_FALLBACK_FILE", defaultSecretsFile),
		},
		LogLevel: strings.ToLower(stringWithDefault(lookup, "LOG_LEVEL", defaultLogLevel)),
	}

	rate, err := decimal.NewFromString(stringWithDefault(lookup, "POS_TAX_RATE", defaultTaxRate))
	if err != nil {
		invalid = append(invalid, "Pricing.TaxRate")
	}
	cfg.Pricing.TaxRate = rate

	if cfg.Pricing.ChannelsFile != "" {
		channels, err := loadChannels(cfg.Pricing.ChannelsFile)
		if err != nil {
			return Config{}, err
		}
		if err := applyChannel(&cfg.Pricing, channels); err != nil {
			invalid = append(invalid, "Pricing.Channel")
		}
	}

	// Pub/Sub and Firestore default to the Secret Manager project when unspecified.
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Secrets.ProjectID
	}
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Secrets.ProjectID
	}

	token, err := resolveSecret(ctx, cfg.Backend.Token, options.secret)
	if err != nil {
		return Config{}, err
	}
	cfg.Backend.Token = token

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", errSecretResolverNotConfigured
		}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

func (o loaderOptions) lookupFunc() (func(string) (string, bool), error) {
	dotEnvValues, err := loadDotEnv(o.envFile)
	if err != nil {
		return nil, err
	}
	return func(key string) (string, bool) {
		if value, ok := o.envMap[key]; ok {
			return value, true
		}
		if o.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnvValues[key]
		return value, ok
	}, nil
}

func applyChannel(pricing *PricingConfig, channels map[string]ChannelConfig) error {
	for name, channel := range channels {
		if !strings.EqualFold(strings.TrimSpace(name), pricing.Channel) {
			continue
		}
		if channel.TaxEnabled != nil {
			pricing.TaxEnabled = *channel.TaxEnabled
		}
		if strings.TrimSpace(channel.TaxRate) != "" {
			rate, err := decimal.NewFromString(strings.TrimSpace(channel.TaxRate))
			if err != nil {
				return err
			}
			pricing.TaxRate = rate
		}
		return nil
	}
	return fmt.Errorf("channel %q not defined", pricing.Channel)
}

func loadChannels(path string) (map[string]ChannelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: unable to read channels file %s: %w", path, err)
	}
	var parsed channelsFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("config: failed parsing channels file %s: %w", path, err)
	}
	return parsed.Channels, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !isSecretReference(trimmed) {
		return value, nil
	}
	normalized := normalizeSecretReference(trimmed)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)

	if strings.TrimSpace(cfg.Server.Addr) == "" {
		missing = append(missing, "Server.Addr")
	}
	if cfg.Backend.BaseURL == "" {
		missing = append(missing, "Backend.BaseURL")
	}
	if cfg.Backend.BreakerFailures <= 0 {
		missing = append(missing, "Backend.BreakerFailures")
	}
	if strings.TrimSpace(cfg.Session.OperatorID) == "" {
		missing = append(missing, "Session.OperatorID")
	}
	if cfg.Session.AutoSaveInterval <= 0 {
		missing = append(missing, "Session.AutoSaveInterval")
	}
	if cfg.Session.SearchDebounce < 0 {
		missing = append(missing, "Session.SearchDebounce")
	}
	if cfg.Session.RemoteTimeout <= 0 {
		missing = append(missing, "Session.RemoteTimeout")
	}
	if cfg.Pricing.TaxRate.IsNegative() || cfg.Pricing.TaxRate.GreaterThan(decimal.NewFromInt(1)) {
		missing = append(missing, "Pricing.TaxRate")
	}
	switch cfg.HeldOrders.Store {
	case HeldOrderStoreBackend:
	case HeldOrderStoreFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
	default:
		missing = append(missing, "HeldOrders.Store")
	}
	if cfg.PubSub.SalesTopic != "" && cfg.PubSub.ProjectID == "" {
		missing = append(missing, "PubSub.ProjectID")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	return strings.HasPrefix(value, "secret://") || strings.HasPrefix(value, "sm://")
}

func normalizeSecretReference(value string) string {
	if strings.HasPrefix(value, "sm://") {
		return "secret://" + strings.TrimPrefix(value, "sm://")
	}
	return value
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}
