package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"time"
)

// Source modes select which backend the task sources are read from.
const (
	SourceMemory   = "memory"
	SourceREST     = "rest"
	SourcePostgres = "postgres"
)

// Config holds the application settings. It satisfies the go-core
// cfg.Registerable and cfg.Validatable interfaces.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string

	SourceMode    string
	SourceBaseURL string
	SourceToken   string
	DatabaseURL   string
	FixtureFile   string
	FetchTimeout  time.Duration

	ApprovalURL   string
	ApprovalActor string

	ClaudeAPIKey string
	ClaudeModel  string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on /api/v1 (empty = no auth)")

	fs.StringVar(&c.SourceMode, "source-mode", SourceMemory, "where tasks are read from: memory, rest or postgres")
	fs.StringVar(&c.SourceBaseURL, "source-base-url", "", "base URL of the CRM REST API (rest mode)")
	fs.StringVar(&c.SourceToken, "source-token", "", "bearer token for the CRM REST API")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (postgres mode)")
	fs.StringVar(&c.FixtureFile, "fixture-file", "", "JSON fixture to serve in memory mode (empty = built-in demo data)")
	fs.DurationVar(&c.FetchTimeout, "fetch-timeout", 10*time.Second, "per-source fetch timeout for a refresh")

	fs.StringVar(&c.ApprovalURL, "approval-url", "", "base URL of the AI action approval API (rest mode, empty = source-base-url)")
	fs.StringVar(&c.ApprovalActor, "approval-actor", "loan-officer", "name recorded as the approver of AI actions")

	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "Anthropic API key for draft suggestions (empty = disabled)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-5", "Claude model used for draft suggestions")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.FetchTimeout <= 0 || c.FetchTimeout > time.Minute {
		errs = append(errs, fmt.Errorf("invalid FETCH_TIMEOUT %s (must be >0 and <=1m)", c.FetchTimeout))
	}

	switch c.SourceMode {
	case SourceMemory:
	case SourceREST:
		if err := checkURL("SOURCE_BASE_URL", c.SourceBaseURL); err != nil {
			errs = append(errs, err)
		}
		if c.ApprovalURL != "" {
			if err := checkURL("APPROVAL_URL", c.ApprovalURL); err != nil {
				errs = append(errs, err)
			}
		}
	case SourcePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required in postgres source mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid SOURCE_MODE %q (must be memory, rest or postgres)", c.SourceMode))
	}

	if c.ApprovalActor == "" {
		errs = append(errs, errors.New("APPROVAL_ACTOR is required"))
	}

	// model only matters once drafting is turned on
	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when CLAUDE_API_KEY is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ApprovalBaseURL returns the approval API base URL, falling back to the source API.
func (c *Config) ApprovalBaseURL() string {
	if c.ApprovalURL != "" {
		return c.ApprovalURL
	}
	return c.SourceBaseURL
}

func checkURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required in rest source mode", name)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid %s %q (must be an absolute http(s) URL)", name, raw)
	}
	return nil
}
