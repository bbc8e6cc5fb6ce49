package risk_test

import (
	"testing"

	"github.com/atlas-quant/strategy-forge/internal/risk"
)

func TestRegistryResolveIsCaseAndSeparatorInsensitive(t *testing.T) {
	r := risk.NewRegistry()

	canonical, err := r.Resolve("StopLossPct")
	if err != nil {
		t.Fatalf("resolving canonical name: %v", err)
	}

	for _, alt := range []string{"stoplosspct", "STOPLOSSPCT", "stop_loss_pct", "Stop-Loss-Pct"} {
		h, err := r.Resolve(alt)
		if err != nil {
			t.Fatalf("resolving %q: %v", alt, err)
		}
		if h.Name() != canonical.Name() {
			t.Fatalf("resolving %q: got handler %q, want %q", alt, h.Name(), canonical.Name())
		}
	}
}

func TestRegistryResolveUnknownNameFails(t *testing.T) {
	r := risk.NewRegistry()
	if _, err := r.Resolve("NotARealHandler"); err == nil {
		t.Fatal("expected an error resolving an unregistered handler name")
	}
}
