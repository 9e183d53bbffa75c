package connector

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/goliatone/go-psd2-connector/core"
	"github.com/goliatone/go-psd2-connector/providers/sandbox"
	connectorquery "github.com/goliatone/go-psd2-connector/query"
)

type memoryTokenStore struct {
	tokens map[string]core.Token
}

func newMemoryTokenStore() *memoryTokenStore {
	return &memoryTokenStore{tokens: map[string]core.Token{}}
}

func (s *memoryTokenStore) Create(_ context.Context, token core.Token) (core.Token, error) {
	s.tokens[token.ID] = token
	return token, nil
}

func (s *memoryTokenStore) FindBySessionSecret(_ context.Context, sessionSecret string) (core.Token, error) {
	for _, token := range s.tokens {
		if token.SessionSecret == sessionSecret {
			return token, nil
		}
	}
	return core.Token{}, core.ErrTokenNotFound
}

func (s *memoryTokenStore) FindByAccessToken(_ context.Context, accessToken string) (core.Token, error) {
	for _, token := range s.tokens {
		if token.AccessToken != "" && token.AccessToken == accessToken {
			return token, nil
		}
	}
	return core.Token{}, core.ErrTokenNotFound
}

func (s *memoryTokenStore) SaveCAS(_ context.Context, token core.Token, expected core.TokenStatus) (core.Token, error) {
	current, ok := s.tokens[token.ID]
	if !ok {
		return core.Token{}, core.ErrTokenNotFound
	}
	if current.Status != expected {
		return core.Token{}, core.ErrStatusConflict
	}
	s.tokens[token.ID] = token
	return token, nil
}

func (s *memoryTokenStore) UpdateStatusCAS(_ context.Context, id string, expected, next core.TokenStatus) (core.Token, error) {
	current, ok := s.tokens[id]
	if !ok {
		return core.Token{}, core.ErrTokenNotFound
	}
	if current.Status != expected {
		return core.Token{}, core.ErrStatusConflict
	}
	if err := current.TransitionTo(next, time.Now().UTC()); err != nil {
		return core.Token{}, err
	}
	s.tokens[id] = current
	return current, nil
}

func (s *memoryTokenStore) ListExpired(_ context.Context, before time.Time, limit int) ([]core.Token, error) {
	out := []core.Token{}
	for _, token := range s.tokens {
		if token.Status.Terminal() || !token.TokenExpiresAt.Before(before) {
			continue
		}
		out = append(out, token)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type nopDispatcher struct{}

func (nopDispatcher) SendUpdateCallback(context.Context, string, core.SessionUpdatePayload) {}
func (nopDispatcher) SendSuccessCallback(context.Context, string, core.SessionSuccessPayload) {
}
func (nopDispatcher) SendFailCallback(context.Context, string, error) {}

func newTestService(t *testing.T) *Service {
	t.Helper()
	service, err := NewService(DefaultConfig(),
		WithTokenStore(newMemoryTokenStore()),
		WithCallbackDispatcher(nopDispatcher{}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := RegisterSandboxProvider(service, sandbox.Config{}); err != nil {
		t.Fatalf("register sandbox provider: %v", err)
	}
	return service
}

func TestNewFacade_WiresCommandsAndQueries(t *testing.T) {
	service := newTestService(t)

	facade, err := NewFacade(service)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	commands := facade.Commands()
	if commands.StartAuthorization == nil || commands.ConfirmToken == nil ||
		commands.RejectToken == nil || commands.RevokeToken == nil ||
		commands.StartPayment == nil || commands.ExpireTokens == nil {
		t.Fatalf("expected all commands to be wired: %+v", commands)
	}
	queries := facade.Queries()
	if queries.ResolveToken == nil || queries.ConfirmFunds == nil || queries.ListProviders == nil {
		t.Fatalf("expected all queries to be wired: %+v", queries)
	}

	codes, err := queries.ListProviders.Query(context.Background(), connectorquery.ListProvidersMessage{})
	if err != nil {
		t.Fatalf("list providers: %v", err)
	}
	if len(codes) != 1 || codes[0] != sandbox.ProviderCode {
		t.Fatalf("expected sandbox provider listed, got %v", codes)
	}
}

func TestNewFacade_RequiresService(t *testing.T) {
	if _, err := NewFacade(nil); err == nil {
		t.Fatalf("expected error for nil service")
	}
}

func TestExtensionHooks_ApplyRegistersProviders(t *testing.T) {
	hooks := NewExtensionHooks()
	err := hooks.RegisterProviderPack(ProviderPack{
		Name: "group-brands",
		Providers: map[string]core.ProviderService{
			"brand-a": sandbox.New(sandbox.Config{}),
			"brand-b": sandbox.New(sandbox.Config{}),
		},
	})
	if err != nil {
		t.Fatalf("register provider pack: %v", err)
	}
	if err := hooks.RegisterProviderPack(ProviderPack{Name: "group-brands", Providers: map[string]core.ProviderService{
		"brand-c": sandbox.New(sandbox.Config{}),
	}}); err == nil {
		t.Fatalf("expected duplicate pack rejection")
	}

	registry := core.NewProviderRegistry()
	if err := hooks.Apply(registry); err != nil {
		t.Fatalf("apply hooks: %v", err)
	}
	codes := registry.List()
	if len(codes) != 2 || codes[0] != "brand-a" || codes[1] != "brand-b" {
		t.Fatalf("expected both brands registered, got %v", codes)
	}
}

func TestExtensionHooks_ValidatesPacks(t *testing.T) {
	hooks := NewExtensionHooks()
	if err := hooks.RegisterProviderPack(ProviderPack{Name: " "}); err == nil {
		t.Fatalf("expected error for blank pack name")
	}
	if err := hooks.RegisterProviderPack(ProviderPack{Name: "empty"}); err == nil {
		t.Fatalf("expected error for empty pack")
	}
	if err := hooks.RegisterProviderPack(ProviderPack{
		Name:      "nil-provider",
		Providers: map[string]core.ProviderService{"code": nil},
	}); err == nil {
		t.Fatalf("expected error for nil provider")
	}
}

func testKeyPEMs(t *testing.T) (string, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	privatePEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	publicPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PUBLIC KEY",
		Bytes: x509.MarshalPKCS1PublicKey(&key.PublicKey),
	})
	return string(privatePEM), string(publicPEM)
}

func TestBootstrap_WiresSignerAndDispatcher(t *testing.T) {
	privatePEM, publicPEM := testKeyPEMs(t)
	cfg := DefaultConfig()
	cfg.Hub.BaseURL = "https://hub.example.com/"
	cfg.Hub.AppID = "app-id"
	cfg.Hub.AppSecret = "app-secret"
	cfg.Hub.PrivateKeyPEM = privatePEM
	cfg.Hub.PublicKeyPEM = publicPEM

	service, err := Bootstrap(cfg, nil, WithTokenStore(newMemoryTokenStore()))
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if service == nil {
		t.Fatalf("expected service")
	}
}

func TestBootstrap_RejectsBadKeys(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Hub.PrivateKeyPEM = "not a pem"

	if _, err := Bootstrap(cfg, nil, WithTokenStore(newMemoryTokenStore())); err == nil {
		t.Fatalf("expected error for malformed key material")
	}
}
