package main

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/taskdesk/internal/approval"
	tc "github.com/linnemanlabs/taskdesk/internal/cfg"
	"github.com/linnemanlabs/taskdesk/internal/llm/claude"
	"github.com/linnemanlabs/taskdesk/internal/postgres"
	"github.com/linnemanlabs/taskdesk/internal/sources/memsource"
	"github.com/linnemanlabs/taskdesk/internal/sources/pgsource"
	"github.com/linnemanlabs/taskdesk/internal/sources/restsource"
	"github.com/linnemanlabs/taskdesk/internal/triage"
)

// backend is the set of task sources and the approver for one source mode.
type backend struct {
	sources  triage.Sources
	approver triage.Approver
	close    func()
}

// openBackend builds the sources for the configured mode. close must be called
// once the server has stopped.
func openBackend(ctx context.Context, c *tc.Config, L log.Logger) (*backend, error) {
	switch c.SourceMode {
	case tc.SourceMemory:
		var (
			src *memsource.Source
			err error
		)
		if c.FixtureFile != "" {
			src, err = memsource.Load(c.FixtureFile)
			if err != nil {
				return nil, fmt.Errorf("memory source: %w", err)
			}
			L.Info(ctx, "using in-memory sources", "fixture", c.FixtureFile)
		} else {
			src = memsource.New(memsource.Demo(time.Now()))
			L.Info(ctx, "using in-memory sources with demo data")
		}
		return &backend{sources: triage.SourcesFrom(src), approver: src, close: func() {}}, nil

	case tc.SourceREST:
		client, err := restsource.New(c.SourceBaseURL, c.SourceToken, c.FetchTimeout)
		if err != nil {
			return nil, fmt.Errorf("rest source: %w", err)
		}
		approver, err := approval.New(c.ApprovalBaseURL(), c.SourceToken, c.ApprovalActor, L)
		if err != nil {
			return nil, fmt.Errorf("approval client: %w", err)
		}
		L.Info(ctx, "using rest sources", "base_url", c.SourceBaseURL, "approval_url", c.ApprovalBaseURL())
		return &backend{sources: triage.SourcesFrom(client), approver: approver, close: func() {}}, nil

	case tc.SourcePostgres:
		pool, err := postgres.NewPool(ctx, c.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres pool: %w", err)
		}
		src := pgsource.New(pool)
		if err := src.ApplySchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		L.Info(ctx, "using postgres sources")
		return &backend{sources: triage.SourcesFrom(src), approver: src, close: pool.Close}, nil

	default:
		return nil, fmt.Errorf("unknown source mode %q", c.SourceMode)
	}
}

// newDrafter returns the Claude drafter, or nil when no API key is configured.
// Without a drafter SuggestDraft reports ErrNoDrafter.
func newDrafter(ctx context.Context, c *tc.Config, L log.Logger) triage.Drafter {
	if c.ClaudeAPIKey == "" {
		L.Info(ctx, "draft suggestions disabled")
		return nil
	}
	L.Info(ctx, "draft suggestions enabled", "provider", "claude", "model", c.ClaudeModel)
	return claude.New(c.ClaudeAPIKey, c.ClaudeModel)
}
