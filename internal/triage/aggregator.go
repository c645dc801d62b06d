package triage

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/go-core/log"
)

var tracer = otel.Tracer("github.com/linnemanlabs/taskdesk/internal/triage")

// DefaultFetchTimeout bounds a single adapter call when no timeout is configured.
const DefaultFetchTimeout = 10 * time.Second

// AggregatorHooks receives per-fetch and per-refresh observations. Nil fields are skipped.
type AggregatorHooks struct {
	OnSourceFetch func(source SourceTag, duration float64, records int, err error)
	OnRefresh     func(duration float64, failed int)
}

// Aggregator queries every source adapter concurrently and collects their results
// into a Snapshot. A failing source contributes nothing; it never fails the pass.
type Aggregator struct {
	sources Sources
	timeout time.Duration
	logger  log.Logger
	hooks   AggregatorHooks
}

// NewAggregator creates an aggregator over the given adapters. A zero timeout uses
// DefaultFetchTimeout.
func NewAggregator(sources Sources, timeout time.Duration, logger log.Logger, hooks AggregatorHooks) *Aggregator {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Aggregator{
		sources: sources,
		timeout: timeout,
		logger:  logger,
		hooks:   hooks,
	}
}

// fetchResult is what one goroutine hands back for its slot.
type fetchResult struct {
	records int
	err     error
}

// Fetch issues all adapter calls at once and waits for every one of them to finish or
// time out. Total latency is that of the slowest adapter.
func (a *Aggregator) Fetch(ctx context.Context) *Snapshot {
	ctx, span := tracer.Start(ctx, "triage.refresh")
	defer span.End()

	start := time.Now()
	snap := &Snapshot{}

	// every goroutine owns exactly one slot of snap and one entry of results
	results := make([]fetchResult, len(sourceOrder))
	calls := []func(context.Context) (int, error){
		fetchSlot(a.sources.Manual, func(ctx context.Context, s ManualTaskSource) ([]ManualTask, error) {
			return s.GetPrioritizedTasks(ctx)
		}, &snap.Manual),
		fetchSlot(a.sources.LoanIssues, func(ctx context.Context, s LoanIssueSource) ([]LoanIssue, error) {
			return s.GetLoanIssues(ctx)
		}, &snap.LoanIssues),
		fetchSlot(a.sources.AIPending, func(ctx context.Context, s PendingAIActionSource) ([]AIAction, error) {
			return s.GetPendingAIActions(ctx)
		}, &snap.AIPending),
		fetchSlot(a.sources.AIWaiting, func(ctx context.Context, s WaitingAIActionSource) ([]AIAction, error) {
			return s.GetWaitingAIActions(ctx)
		}, &snap.AIWaiting),
		fetchSlot(a.sources.Retention, func(ctx context.Context, s RetentionAlertSource) ([]RetentionAlert, error) {
			return s.GetRetentionAlerts(ctx)
		}, &snap.Retention),
		fetchSlot(a.sources.LeadAlerts, func(ctx context.Context, s LeadAlertSource) ([]LeadAlert, error) {
			return s.GetLeadAlerts(ctx)
		}, &snap.LeadAlerts),
		fetchSlot(a.sources.Messages, func(ctx context.Context, s MessageSource) ([]Message, error) {
			return s.GetUnreadMessages(ctx)
		}, &snap.Messages),
	}

	var g errgroup.Group
	for i, call := range calls {
		tag := sourceOrder[i]
		g.Go(func() error {
			results[i] = a.fetchOne(ctx, tag, call)
			return nil
		})
	}
	_ = g.Wait() // fetchOne never returns an error to the group

	for i, r := range results {
		if r.err != nil {
			snap.Failed = append(snap.Failed, sourceOrder[i])
		}
	}

	duration := time.Since(start).Seconds()
	span.SetAttributes(
		attribute.Int("taskdesk.refresh.failed_sources", len(snap.Failed)),
		attribute.Float64("taskdesk.refresh.duration_s", duration),
	)
	if a.hooks.OnRefresh != nil {
		a.hooks.OnRefresh(duration, len(snap.Failed))
	}

	return snap
}

func (a *Aggregator) fetchOne(ctx context.Context, tag SourceTag, call func(context.Context) (int, error)) fetchResult {
	ctx, span := tracer.Start(ctx, "source.fetch", trace.WithAttributes(
		attribute.String("taskdesk.source", string(tag)),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	n, err := safeCall(ctx, call)
	duration := time.Since(start).Seconds()

	if a.hooks.OnSourceFetch != nil {
		a.hooks.OnSourceFetch(tag, duration, n, err)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.logger.Warn(ctx, "source fetch failed, continuing without it",
			"source", tag,
			"duration", duration,
			"error", err,
		)
		return fetchResult{err: err}
	}

	span.SetAttributes(attribute.Int("taskdesk.source.records", n))
	return fetchResult{records: n}
}

// safeCall turns an adapter panic into a fetch failure.
func safeCall(ctx context.Context, call func(context.Context) (int, error)) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("source adapter panic: %v", r)
		}
	}()
	return call(ctx)
}

// fetchSlot binds an adapter to the snapshot slot it fills. A nil adapter yields no
// records. On error the slot stays empty.
func fetchSlot[S any, R any](src S, get func(context.Context, S) ([]R, error), slot *[]R) func(context.Context) (int, error) {
	return func(ctx context.Context) (int, error) {
		if any(src) == nil {
			return 0, nil
		}
		recs, err := get(ctx, src)
		if err != nil {
			return 0, err
		}
		*slot = recs
		return len(recs), nil
	}
}
