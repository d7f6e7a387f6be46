package config

import (
	"os"
	"testing"
)

func TestParseAppliesDefaultsAndResolvesEnv(t *testing.T) {
	os.Setenv("SWITCHBOARD_TEST_TOKEN", "xoxb-secret")
	defer os.Unsetenv("SWITCHBOARD_TEST_TOKEN")

	yamlDoc := []byte(`
user_name: rybot
adapters:
  slack:
    kind: slack
    bot_token: "${SWITCHBOARD_TEST_TOKEN}"
`)
	cfg, err := Parse(yamlDoc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.State.Backend != "memory" {
		t.Errorf("State.Backend = %q, want memory", cfg.State.Backend)
	}
	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q, want info", cfg.Logger.Level)
	}
	if got := cfg.Adapters["slack"].BotToken; got != "xoxb-secret" {
		t.Errorf("BotToken = %q, want resolved env value", got)
	}
	if cfg.Adapters["slack"].ReplaySkewSec != 300 {
		t.Errorf("ReplaySkewSec = %d, want 300", cfg.Adapters["slack"].ReplaySkewSec)
	}
}

func TestParseRejectsMissingUserName(t *testing.T) {
	_, err := Parse([]byte(`adapters: {slack: {kind: slack}}`))
	if err == nil {
		t.Fatal("expected validation error for missing user_name")
	}
}

func TestParseRejectsRedisBackendWithoutURL(t *testing.T) {
	yamlDoc := []byte(`
user_name: rybot
adapters:
  slack: {kind: slack}
state:
  backend: redis
`)
	_, err := Parse(yamlDoc)
	if err == nil {
		t.Fatal("expected validation error for redis backend without redis_url")
	}
}
