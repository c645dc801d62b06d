package cfg

import (
	"flag"
	"strings"
	"testing"
	"time"
)

// validBase returns a Config with all required fields set to valid values.
func validBase() Config {
	return Config{
		DrainSeconds:          60,
		ShutdownBudgetSeconds: 90,
		APIPort:               8080,
		SourceMode:            SourceMemory,
		FetchTimeout:          10 * time.Second,
		ApprovalActor:         "loan-officer",
		ClaudeModel:           "claude-sonnet-4-5",
	}
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	if c.DrainSeconds != 60 || c.ShutdownBudgetSeconds != 90 || c.APIPort != 8080 {
		t.Errorf("budgets/port = %d/%d/%d", c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort)
	}
	if c.SourceMode != SourceMemory {
		t.Errorf("SourceMode = %q, want memory", c.SourceMode)
	}
	if c.FetchTimeout != 10*time.Second {
		t.Errorf("FetchTimeout = %s, want 10s", c.FetchTimeout)
	}
	if c.ClaudeAPIKey != "" || c.APIToken != "" {
		t.Error("secrets should default to empty")
	}
	if err := c.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-http-port", "9090",
		"-api-token", "desk",
		"-source-mode", "rest",
		"-source-base-url", "https://crm.example.com",
		"-source-token", "crm",
		"-fetch-timeout", "3s",
		"-approval-actor", "ops",
		"-claude-api-key", "sk-override",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	if c.APIPort != 9090 || c.APIToken != "desk" {
		t.Errorf("APIPort/APIToken = %d/%q", c.APIPort, c.APIToken)
	}
	if c.SourceMode != SourceREST || c.SourceBaseURL != "https://crm.example.com" || c.SourceToken != "crm" {
		t.Errorf("source = %q %q %q", c.SourceMode, c.SourceBaseURL, c.SourceToken)
	}
	if c.FetchTimeout != 3*time.Second {
		t.Errorf("FetchTimeout = %s", c.FetchTimeout)
	}
	if c.ApprovalActor != "ops" || c.ClaudeAPIKey != "sk-override" {
		t.Errorf("ApprovalActor/ClaudeAPIKey = %q/%q", c.ApprovalActor, c.ClaudeAPIKey)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid memory", func(*Config) {}, ""},
		{"drain zero", func(c *Config) { c.DrainSeconds = 0 }, "DRAIN_SECONDS"},
		{"drain too large", func(c *Config) { c.DrainSeconds = 301; c.ShutdownBudgetSeconds = 300 }, "DRAIN_SECONDS"},
		{"budget not above drain", func(c *Config) { c.ShutdownBudgetSeconds = 60 }, "must be greater than"},
		{"port zero", func(c *Config) { c.APIPort = 0 }, "HTTP_PORT"},
		{"port too large", func(c *Config) { c.APIPort = 65536 }, "HTTP_PORT"},
		{"fetch timeout zero", func(c *Config) { c.FetchTimeout = 0 }, "FETCH_TIMEOUT"},
		{"fetch timeout too long", func(c *Config) { c.FetchTimeout = 2 * time.Minute }, "FETCH_TIMEOUT"},
		{"unknown mode", func(c *Config) { c.SourceMode = "sqlite" }, "SOURCE_MODE"},
		{"rest without url", func(c *Config) { c.SourceMode = SourceREST }, "SOURCE_BASE_URL"},
		{"rest relative url", func(c *Config) {
			c.SourceMode = SourceREST
			c.SourceBaseURL = "/api"
		}, "SOURCE_BASE_URL"},
		{"rest valid", func(c *Config) {
			c.SourceMode = SourceREST
			c.SourceBaseURL = "http://crm:8000"
		}, ""},
		{"rest bad approval url", func(c *Config) {
			c.SourceMode = SourceREST
			c.SourceBaseURL = "http://crm:8000"
			c.ApprovalURL = "ftp://approvals"
		}, "APPROVAL_URL"},
		{"postgres without dsn", func(c *Config) { c.SourceMode = SourcePostgres }, "DATABASE_URL"},
		{"postgres valid", func(c *Config) {
			c.SourceMode = SourcePostgres
			c.DatabaseURL = "postgres://localhost/taskdesk"
		}, ""},
		{"no approval actor", func(c *Config) { c.ApprovalActor = "" }, "APPROVAL_ACTOR"},
		{"key without model", func(c *Config) {
			c.ClaudeAPIKey = "sk"
			c.ClaudeModel = ""
		}, "CLAUDE_MODEL"},
		{"no key no model", func(c *Config) { c.ClaudeModel = "" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := validBase()
			tt.mutate(&c)
			err := c.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_JoinsErrors(t *testing.T) {
	t.Parallel()

	c := validBase()
	c.APIPort = -1
	c.SourceMode = "bogus"

	err := c.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"HTTP_PORT", "SOURCE_MODE"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestApprovalBaseURL(t *testing.T) {
	t.Parallel()

	c := validBase()
	c.SourceBaseURL = "http://crm"
	if got := c.ApprovalBaseURL(); got != "http://crm" {
		t.Errorf("fallback = %q", got)
	}
	c.ApprovalURL = "http://approvals"
	if got := c.ApprovalBaseURL(); got != "http://approvals" {
		t.Errorf("explicit = %q", got)
	}
}
