package core

import "testing"

func TestProviderRegistry(t *testing.T) {
	registry := NewProviderRegistry()

	if err := registry.Register("demobank", &stubProvider{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := registry.Register("demobank", &stubProvider{}); err == nil {
		t.Fatalf("duplicate registration must fail")
	}
	if err := registry.Register("", &stubProvider{}); err == nil {
		t.Fatalf("blank provider code must fail")
	}
	if err := registry.Register("other", nil); err == nil {
		t.Fatalf("nil provider must fail")
	}

	if _, ok := registry.Get("demobank"); !ok {
		t.Fatalf("expected registered provider to resolve")
	}
	if _, ok := registry.Get("nobody"); ok {
		t.Fatalf("unknown provider must not resolve")
	}

	if err := registry.Register("acme", &stubProvider{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	codes := registry.List()
	if len(codes) != 2 || codes[0] != "acme" || codes[1] != "demobank" {
		t.Fatalf("expected sorted codes, got %v", codes)
	}
}
