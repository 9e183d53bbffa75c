// Package connector implements the bank-side core of a PSD2 compliance hub
// integration: authorization and consent lifecycle, signed session callbacks,
// funds confirmation, and payment initiation, with providers plugged in per
// bank code.
package connector

import (
	"github.com/goliatone/go-psd2-connector/callback"
	"github.com/goliatone/go-psd2-connector/core"
	"github.com/goliatone/go-psd2-connector/security"
	sqlstore "github.com/goliatone/go-psd2-connector/store/sql"
)

type Config = core.Config

type HubConfig = core.HubConfig

type FundsConfig = core.FundsConfig

type CallbackConfig = core.CallbackConfig

type Option = core.Option

type Service = core.Service

type Token = core.Token

type Consent = core.Consent

type TokenStatus = core.TokenStatus

type ProviderService = core.ProviderService

type StartAuthorizationRequest = core.StartAuthorizationRequest

type ConfirmTokenRequest = core.ConfirmTokenRequest

type FundsConfirmationRequest = core.FundsConfirmationRequest

type CreatePaymentRequest = core.CreatePaymentRequest

var (
	WithConfig             = core.WithConfig
	WithLogger             = core.WithLogger
	WithLoggerProvider     = core.WithLoggerProvider
	WithMetricsRecorder    = core.WithMetricsRecorder
	WithErrorMapper        = core.WithErrorMapper
	WithConfigProvider     = core.WithConfigProvider
	WithOptionsResolver    = core.WithOptionsResolver
	WithPersistenceClient  = core.WithPersistenceClient
	WithTokenStoreFactory  = core.WithTokenStoreFactory
	WithRegistry           = core.WithRegistry
	WithTokenStore         = core.WithTokenStore
	WithCallbackDispatcher = core.WithCallbackDispatcher
	WithSignatureService   = core.WithSignatureService
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}

// Bootstrap wires the full stack from configuration: the RSA signature
// service from the configured PEM keys, the hub session dispatcher, and the
// SQL token store built from persistenceClient (a go-persistence-bun client
// or *bun.DB). Explicit options are applied last and win.
func Bootstrap(cfg Config, persistenceClient any, opts ...Option) (*Service, error) {
	built := []Option{}

	var signer core.SignatureService
	if cfg.Hub.PrivateKeyPEM != "" || cfg.Hub.PublicKeyPEM != "" {
		rsaSigner, err := security.NewRSASignatureService(cfg.Hub.PrivateKeyPEM, cfg.Hub.PublicKeyPEM)
		if err != nil {
			return nil, err
		}
		signer = rsaSigner
		built = append(built, WithSignatureService(signer))
	}

	if cfg.Hub.BaseURL != "" {
		dispatcher, err := callback.NewSessionDispatcher(callback.DispatcherConfig{
			BaseURL:     cfg.Hub.BaseURL,
			AppID:       cfg.Hub.AppID,
			AppSecret:   cfg.Hub.AppSecret,
			MaxAttempts: cfg.Callback.MaxAttempts,
			Backoff: callback.ExponentialBackoffScheduler{
				Initial: cfg.Callback.InitialBackoff,
				Max:     cfg.Callback.MaxBackoff,
			},
			Signer: signer,
		})
		if err != nil {
			return nil, err
		}
		built = append(built, WithCallbackDispatcher(dispatcher))
	}

	if persistenceClient != nil {
		factory := sqlstore.NewRepositoryFactory()
		store, err := factory.BuildTokenStore(persistenceClient)
		if err != nil {
			return nil, err
		}
		built = append(built, WithTokenStore(store))
	}

	return core.NewService(cfg, append(built, opts...)...)
}
