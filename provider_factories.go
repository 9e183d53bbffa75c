package connector

import (
	"github.com/goliatone/go-psd2-connector/core"
	"github.com/goliatone/go-psd2-connector/providers/sandbox"
)

// SandboxProvider builds the in-memory sandbox bank adapter.
func SandboxProvider(cfg sandbox.Config) core.ProviderService {
	return sandbox.New(cfg)
}

// RegisterSandboxProvider registers the sandbox adapter under its default
// provider code.
func RegisterSandboxProvider(service *Service, cfg sandbox.Config) error {
	return service.Registry().Register(sandbox.ProviderCode, sandbox.New(cfg))
}
