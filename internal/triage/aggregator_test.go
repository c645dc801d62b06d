package triage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/linnemanlabs/go-core/log"
)

// fakeBackend serves a snapshot, failing or stalling the sources named in errs/delay.
type fakeBackend struct {
	snap  *Snapshot
	errs  map[SourceTag]error
	delay map[SourceTag]time.Duration
	panic SourceTag

	mu    sync.Mutex
	calls map[SourceTag]int
}

func newFakeBackend(snap *Snapshot) *fakeBackend {
	return &fakeBackend{
		snap:  snap,
		errs:  make(map[SourceTag]error),
		delay: make(map[SourceTag]time.Duration),
		calls: make(map[SourceTag]int),
	}
}

func get[R any](ctx context.Context, f *fakeBackend, tag SourceTag, recs []R) ([]R, error) {
	f.mu.Lock()
	f.calls[tag]++
	d := f.delay[tag]
	err := f.errs[tag]
	f.mu.Unlock()

	if tag == f.panic {
		panic("adapter exploded")
	}
	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (f *fakeBackend) current() *Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeBackend) GetPrioritizedTasks(ctx context.Context) ([]ManualTask, error) {
	return get(ctx, f, SourceManual, f.current().Manual)
}

func (f *fakeBackend) GetLoanIssues(ctx context.Context) ([]LoanIssue, error) {
	return get(ctx, f, SourceMilestoneRisk, f.current().LoanIssues)
}

func (f *fakeBackend) GetPendingAIActions(ctx context.Context) ([]AIAction, error) {
	return get(ctx, f, SourceAIPending, f.current().AIPending)
}

func (f *fakeBackend) GetWaitingAIActions(ctx context.Context) ([]AIAction, error) {
	return get(ctx, f, SourceAIWaiting, f.current().AIWaiting)
}

func (f *fakeBackend) GetRetentionAlerts(ctx context.Context) ([]RetentionAlert, error) {
	return get(ctx, f, SourceRetention, f.current().Retention)
}

func (f *fakeBackend) GetLeadAlerts(ctx context.Context) ([]LeadAlert, error) {
	return get(ctx, f, SourceLeadAlert, f.current().LeadAlerts)
}

func (f *fakeBackend) GetUnreadMessages(ctx context.Context) ([]Message, error) {
	return get(ctx, f, SourceMessages, f.current().Messages)
}

func TestAggregator_FetchAllSources(t *testing.T) {
	t.Parallel()

	b := newFakeBackend(testSnapshot())
	agg := NewAggregator(SourcesFrom(b), time.Second, log.Nop(), AggregatorHooks{})

	snap := agg.Fetch(context.Background())

	if len(snap.Failed) != 0 {
		t.Errorf("Failed = %v, want none", snap.Failed)
	}
	got := ids(Normalize(snap))
	want := ids(Normalize(testSnapshot()))
	if len(got) != len(want) {
		t.Fatalf("normalized = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("normalized[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	for _, tag := range SourceTags() {
		if b.calls[tag] != 1 {
			t.Errorf("calls[%s] = %d, want 1", tag, b.calls[tag])
		}
	}
}

func TestAggregator_FailedSourceIsolated(t *testing.T) {
	t.Parallel()

	b := newFakeBackend(testSnapshot())
	b.errs[SourceMilestoneRisk] = errors.New("401 unauthorized")
	b.errs[SourceMessages] = errors.New("connection reset")

	agg := NewAggregator(SourcesFrom(b), time.Second, log.Nop(), AggregatorHooks{})
	snap := agg.Fetch(context.Background())

	if len(snap.Failed) != 2 || snap.Failed[0] != SourceMilestoneRisk || snap.Failed[1] != SourceMessages {
		t.Errorf("Failed = %v, want [milestone-risk message]", snap.Failed)
	}
	if len(snap.LoanIssues) != 0 || len(snap.Messages) != 0 {
		t.Error("failed sources contributed records")
	}
	if len(snap.Manual) != 2 || len(snap.AIPending) != 1 || len(snap.Retention) != 1 {
		t.Error("healthy sources lost records")
	}
}

func TestAggregator_PanickingSourceIsolated(t *testing.T) {
	t.Parallel()

	b := newFakeBackend(testSnapshot())
	b.panic = SourceLeadAlert

	agg := NewAggregator(SourcesFrom(b), time.Second, log.Nop(), AggregatorHooks{})
	snap := agg.Fetch(context.Background())

	if len(snap.Failed) != 1 || snap.Failed[0] != SourceLeadAlert {
		t.Errorf("Failed = %v, want [lead-alert]", snap.Failed)
	}
	if len(snap.Manual) != 2 {
		t.Errorf("Manual = %d records, want 2", len(snap.Manual))
	}
}

func TestAggregator_TimeoutBoundsSlowSource(t *testing.T) {
	t.Parallel()

	b := newFakeBackend(testSnapshot())
	b.delay[SourceRetention] = 5 * time.Second

	agg := NewAggregator(SourcesFrom(b), 50*time.Millisecond, log.Nop(), AggregatorHooks{})

	start := time.Now()
	snap := agg.Fetch(context.Background())
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Fetch took %v, want bounded by timeout", elapsed)
	}
	if len(snap.Failed) != 1 || snap.Failed[0] != SourceRetention {
		t.Errorf("Failed = %v, want [client-for-life]", snap.Failed)
	}
	if len(snap.Retention) != 0 {
		t.Error("timed out source contributed records")
	}
}

func TestAggregator_FetchesConcurrently(t *testing.T) {
	t.Parallel()

	b := newFakeBackend(testSnapshot())
	for _, tag := range SourceTags() {
		b.delay[tag] = 100 * time.Millisecond
	}

	agg := NewAggregator(SourcesFrom(b), time.Second, log.Nop(), AggregatorHooks{})

	start := time.Now()
	snap := agg.Fetch(context.Background())
	elapsed := time.Since(start)

	if len(snap.Failed) != 0 {
		t.Fatalf("Failed = %v", snap.Failed)
	}
	// sequential would take 700ms
	if elapsed > 500*time.Millisecond {
		t.Errorf("Fetch took %v, want roughly one source's latency", elapsed)
	}
}

func TestAggregator_NilSourcesContributeNothing(t *testing.T) {
	t.Parallel()

	b := newFakeBackend(testSnapshot())
	agg := NewAggregator(Sources{Manual: b}, time.Second, nil, AggregatorHooks{})

	snap := agg.Fetch(context.Background())
	if len(snap.Failed) != 0 {
		t.Errorf("Failed = %v, want none", snap.Failed)
	}
	if got := len(Normalize(snap)); got != 2 {
		t.Errorf("normalized %d tasks, want 2", got)
	}
}

func TestAggregator_Hooks(t *testing.T) {
	t.Parallel()

	b := newFakeBackend(testSnapshot())
	b.errs[SourceAIWaiting] = errors.New("boom")

	var (
		mu       sync.Mutex
		fetched  = make(map[SourceTag]error)
		records  = make(map[SourceTag]int)
		refreshN int
		failedN  int
	)
	hooks := AggregatorHooks{
		OnSourceFetch: func(source SourceTag, _ float64, n int, err error) {
			mu.Lock()
			defer mu.Unlock()
			fetched[source] = err
			records[source] = n
		},
		OnRefresh: func(_ float64, failed int) {
			refreshN++
			failedN = failed
		},
	}

	NewAggregator(SourcesFrom(b), time.Second, log.Nop(), hooks).Fetch(context.Background())

	if len(fetched) != len(SourceTags()) {
		t.Errorf("OnSourceFetch called for %d sources, want %d", len(fetched), len(SourceTags()))
	}
	if fetched[SourceAIWaiting] == nil {
		t.Error("OnSourceFetch did not see the ai-waiting error")
	}
	if records[SourceMessages] != 3 {
		t.Errorf("records[message] = %d, want 3", records[SourceMessages])
	}
	if refreshN != 1 || failedN != 1 {
		t.Errorf("OnRefresh calls = %d failed = %d, want 1/1", refreshN, failedN)
	}
}

func TestAggregator_CreatesSpans(t *testing.T) {
	// Not parallel: swaps the global OTel tracer provider.

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	b := newFakeBackend(testSnapshot())
	b.errs[SourceManual] = errors.New("boom")

	NewAggregator(SourcesFrom(b), time.Second, log.Nop(), AggregatorHooks{}).Fetch(context.Background())

	counts := make(map[string]int)
	var errored int
	for _, s := range exporter.GetSpans() {
		counts[s.Name]++
		if s.Name == "source.fetch" && s.Status.Code == codes.Error {
			errored++
		}
	}

	if counts["triage.refresh"] != 1 {
		t.Errorf("triage.refresh spans = %d, want 1", counts["triage.refresh"])
	}
	if counts["source.fetch"] != len(SourceTags()) {
		t.Errorf("source.fetch spans = %d, want %d", counts["source.fetch"], len(SourceTags()))
	}
	if errored != 1 {
		t.Errorf("errored source.fetch spans = %d, want 1", errored)
	}
}
