package internal

import (
	"strings"
	"testing"
	"time"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if !cfg.Watcher.Enabled {
		t.Error("watcher should be enabled by default")
	}
}

func TestVaultConfig_IgnorePatterns(t *testing.T) {
	cfg := VaultConfig{Path: "./vault", Ignore: []string{"drafts/**", "*.tmp"}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid globs should pass: %v", err)
	}
	cfg.Ignore = append(cfg.Ignore, "[unclosed")
	if err := cfg.Validate(); err == nil {
		t.Fatal("malformed glob should fail validation")
	}
}

func TestNotesConfig_IndexRetries(t *testing.T) {
	tests := []struct {
		retries int
		wantErr bool
	}{
		{0, false},
		{2, false},
		{10, false},
		{-1, true},
		{11, true},
	}
	for _, tt := range tests {
		cfg := NotesConfig{IndexRetries: tt.retries}
		if err := cfg.Validate(); (err != nil) != tt.wantErr {
			t.Errorf("retries=%d: err = %v, wantErr %v", tt.retries, err, tt.wantErr)
		}
	}
}

func TestWatcherConfig_NegativeInterval(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Watcher.ReconcileInterval = -time.Second
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative reconcile interval should fail validation")
	}
}
