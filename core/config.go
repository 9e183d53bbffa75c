package core

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// HubConfig identifies the connector against the compliance hub and locates
// its session callback endpoint.
type HubConfig struct {
	BaseURL       string `koanf:"base_url" mapstructure:"base_url"`
	AppCode       string `koanf:"app_code" mapstructure:"app_code"`
	AppID         string `koanf:"app_id" mapstructure:"app_id"`
	AppSecret     string `koanf:"app_secret" mapstructure:"app_secret"`
	PublicKeyPEM  string `koanf:"public_key_pem" mapstructure:"public_key_pem"`
	PrivateKeyPEM string `koanf:"private_key_pem" mapstructure:"private_key_pem"`
}

// FundsConfig bounds funds confirmations. MaxAmount is the sanity ceiling in
// EUR; requests converting above it are denied rather than approved blindly.
type FundsConfig struct {
	MaxAmount   float64 `koanf:"max_amount" mapstructure:"max_amount"`
	BalanceType string  `koanf:"balance_type" mapstructure:"balance_type"`
}

// CallbackConfig is the retry budget for hub session callbacks.
type CallbackConfig struct {
	MaxAttempts    int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff" mapstructure:"max_backoff"`
}

type Config struct {
	ServiceName string         `koanf:"service_name" mapstructure:"service_name"`
	Hub         HubConfig      `koanf:"hub" mapstructure:"hub"`
	Funds       FundsConfig    `koanf:"funds" mapstructure:"funds"`
	Callback    CallbackConfig `koanf:"callback" mapstructure:"callback"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "connector",
		Hub: HubConfig{
			BaseURL: "https://hub.example.com/",
		},
		Funds: FundsConfig{
			MaxAmount:   1_000_000,
			BalanceType: "openingBooked",
		},
		Callback: CallbackConfig{
			MaxAttempts:    5,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.Hub.BaseURL) != "" {
		if _, err := url.Parse(c.Hub.BaseURL); err != nil {
			return fmt.Errorf("core: hub base_url is not a valid URL: %w", err)
		}
	}
	if c.Funds.MaxAmount < 0 {
		return fmt.Errorf("core: funds max_amount must not be negative")
	}
	if c.Callback.MaxAttempts < 0 {
		return fmt.Errorf("core: callback max_attempts must not be negative")
	}
	return nil
}
