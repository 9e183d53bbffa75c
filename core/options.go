package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	opts "github.com/goliatone/go-options"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// TokenStoreFactory builds a TokenStore from a persistence client, letting
// callers hand the service a go-persistence-bun client or *bun.DB instead of
// a pre-built store.
type TokenStoreFactory interface {
	BuildTokenStore(persistenceClient any) (TokenStore, error)
}

type serviceBuilder struct {
	runtimeConfig     Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorMapper       ErrorMapper
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	persistenceClient any
	storeFactory      TokenStoreFactory
	registry          Registry
	tokenStore        TokenStore
	dispatcher        CallbackDispatcher
	signatureService  SignatureService
	now               func() time.Time
}

type Option func(*serviceBuilder)

func WithConfig(cfg Config) Option {
	return func(b *serviceBuilder) {
		b.runtimeConfig = cfg
	}
}

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

func WithTokenStoreFactory(factory TokenStoreFactory) Option {
	return func(b *serviceBuilder) {
		b.storeFactory = factory
	}
}

func WithRegistry(registry Registry) Option {
	return func(b *serviceBuilder) {
		b.registry = registry
	}
}

func WithTokenStore(store TokenStore) Option {
	return func(b *serviceBuilder) {
		b.tokenStore = store
	}
}

func WithCallbackDispatcher(dispatcher CallbackDispatcher) Option {
	return func(b *serviceBuilder) {
		b.dispatcher = dispatcher
	}
}

func WithSignatureService(signatures SignatureService) Option {
	return func(b *serviceBuilder) {
		b.signatureService = signatures
	}
}

// WithNow overrides the clock, primarily for tests.
func WithNow(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.now = now
	}
}

func defaultServiceBuilder(cfg Config) serviceBuilder {
	return serviceBuilder{
		runtimeConfig:   cfg,
		optionsResolver: GoOptionsResolver{},
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return connectorErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	hub := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Hub.BaseURL) != "" {
		hub["base_url"] = cfg.Hub.BaseURL
	}
	if includeZero || strings.TrimSpace(cfg.Hub.AppCode) != "" {
		hub["app_code"] = cfg.Hub.AppCode
	}
	if includeZero || strings.TrimSpace(cfg.Hub.AppID) != "" {
		hub["app_id"] = cfg.Hub.AppID
	}
	if includeZero || strings.TrimSpace(cfg.Hub.AppSecret) != "" {
		hub["app_secret"] = cfg.Hub.AppSecret
	}
	if includeZero || strings.TrimSpace(cfg.Hub.PublicKeyPEM) != "" {
		hub["public_key_pem"] = cfg.Hub.PublicKeyPEM
	}
	if includeZero || strings.TrimSpace(cfg.Hub.PrivateKeyPEM) != "" {
		hub["private_key_pem"] = cfg.Hub.PrivateKeyPEM
	}
	if len(hub) > 0 {
		layer["hub"] = hub
	}

	funds := map[string]any{}
	if includeZero || cfg.Funds.MaxAmount != 0 {
		funds["max_amount"] = cfg.Funds.MaxAmount
	}
	if includeZero || strings.TrimSpace(cfg.Funds.BalanceType) != "" {
		funds["balance_type"] = cfg.Funds.BalanceType
	}
	if len(funds) > 0 {
		layer["funds"] = funds
	}

	callback := map[string]any{}
	if includeZero || cfg.Callback.MaxAttempts != 0 {
		callback["max_attempts"] = cfg.Callback.MaxAttempts
	}
	if includeZero || cfg.Callback.InitialBackoff != 0 {
		callback["initial_backoff"] = cfg.Callback.InitialBackoff
	}
	if includeZero || cfg.Callback.MaxBackoff != 0 {
		callback["max_backoff"] = cfg.Callback.MaxBackoff
	}
	if len(callback) > 0 {
		layer["callback"] = callback
	}

	return layer
}
