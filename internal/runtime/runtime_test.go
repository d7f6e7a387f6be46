package runtime

import (
	"testing"

	"github.com/duskrail/switchboard/internal/config"
	"github.com/duskrail/switchboard/internal/registry"
)

func TestBuildStore_Memory(t *testing.T) {
	store, err := buildStore(config.StateConfig{Backend: "memory"})
	if err != nil {
		t.Fatalf("buildStore(memory): %v", err)
	}
	if store == nil {
		t.Fatal("expected a non-nil store")
	}
}

func TestBuildStore_UnrecognizedBackend(t *testing.T) {
	if _, err := buildStore(config.StateConfig{Backend: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error for unrecognized backend")
	}
}

func TestBuildAdapter_UnrecognizedKind(t *testing.T) {
	_, err := buildAdapter("primary", config.AdapterConfig{Kind: "fax"}, "bot", nil)
	if err == nil {
		t.Fatal("expected error for unrecognized adapter kind")
	}
}

func TestBuildAdapter_Discord(t *testing.T) {
	a, err := buildAdapter("primary", config.AdapterConfig{Kind: "discord", BotToken: "tok"}, "bot", nil)
	if err != nil {
		t.Fatalf("buildAdapter(discord): %v", err)
	}
	if a.Name() != "discord" {
		t.Errorf("expected adapter name %q, got %q", "discord", a.Name())
	}
	if a.UserName() != "bot" {
		t.Errorf("expected user name %q, got %q", "bot", a.UserName())
	}
}

func TestBuildAdapter_SlackRequiresSigningSecret(t *testing.T) {
	_, err := buildAdapter("primary", config.AdapterConfig{Kind: "slack", BotToken: "tok"}, "bot", nil)
	if err == nil {
		t.Fatal("expected error when slack adapter config omits signing_secret")
	}
}

func TestBuild_RegistersWebhookRoutesAndInitializesHandlers(t *testing.T) {
	cfg := &config.Config{
		UserName: "bot",
		Adapters: map[string]config.AdapterConfig{
			"primary": {Kind: "slack", BotToken: "tok", SigningSecret: "secret"},
		},
		State: config.StateConfig{Backend: "memory"},
	}
	registeredCalled := false
	rt, err := Build(cfg, func(r *registry.Registry) { registeredCalled = true }, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !registeredCalled {
		t.Error("expected the register callback to run before any adapter is initialized")
	}
	if _, ok := rt.Adapters["primary"]; !ok {
		t.Error("expected the configured adapter to be built")
	}
	routes := rt.Router.Routes()
	found := false
	for _, r := range routes {
		if r.Path == "/webhooks/primary" {
			found = true
		}
	}
	if !found {
		t.Error("expected a registered webhook route at the adapter's default path")
	}
}
