package broker

import (
	"context"
	"testing"

	"github.com/ov-project/govmd/internal/config"
)

func TestRelayResolverIdentityWhenUnconfigured(t *testing.T) {
	var r *RelayResolver
	got, err := r.Resolve(context.Background(), "scanner.example", 9390, "ca-pem", "OSP")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.Host != "scanner.example" || got.Port != 9390 || got.CACert != "ca-pem" {
		t.Fatalf("expected identity passthrough, got %+v", got)
	}
}

func TestNewRelayResolverNilWithoutMapperPath(t *testing.T) {
	if r := NewRelayResolver(config.RelayConfig{}); r != nil {
		t.Fatal("expected nil resolver when mapper_path unset")
	}
}

func TestClientTLSConfigNilWithoutMaterial(t *testing.T) {
	cfg, err := clientTLSConfig("", "", "")
	if err != nil {
		t.Fatalf("clientTLSConfig: %v", err)
	}
	if cfg != nil {
		t.Fatal("expected nil TLS config with no CA/cert material")
	}
}

func TestClientTLSConfigRejectsBadCA(t *testing.T) {
	_, err := clientTLSConfig("not a pem", "", "")
	if err == nil {
		t.Fatal("expected error for invalid CA PEM")
	}
}

func TestBrokerNewDefaultsRetryNonNegative(t *testing.T) {
	b := New(-5, nil)
	if b.ConnectRetry != 0 {
		t.Fatalf("expected ConnectRetry clamped to 0, got %d", b.ConnectRetry)
	}
}
