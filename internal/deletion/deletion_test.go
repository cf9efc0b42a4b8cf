package deletion

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/yairfalse/wipeit/internal/audit"
	"github.com/yairfalse/wipeit/internal/confirm"
	"github.com/yairfalse/wipeit/internal/handler"
	"github.com/yairfalse/wipeit/internal/telemetry"
	"github.com/yairfalse/wipeit/pkg/resource"
)

type fakeHandler struct {
	kind   resource.Kind
	delete func(ctx context.Context, id string) error

	mu       sync.Mutex
	deleted  []string
	inFlight map[string]int
	overlap  atomic.Bool
	calls    atomic.Int32
}

func newFake(kind resource.Kind) *fakeHandler {
	return &fakeHandler{kind: kind, inFlight: map[string]int{}}
}

func (f *fakeHandler) Kind() resource.Kind { return f.kind }

func (f *fakeHandler) Discover(context.Context, resource.Scope) ([]resource.Descriptor, error) {
	return []resource.Descriptor{}, nil
}

func (f *fakeHandler) Delete(ctx context.Context, id string) error {
	f.calls.Add(1)
	f.mu.Lock()
	f.inFlight[id]++
	if f.inFlight[id] > 1 {
		f.overlap.Store(true)
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight[id]--
		f.deleted = append(f.deleted, id)
		f.mu.Unlock()
	}()

	if f.delete != nil {
		return f.delete(ctx, id)
	}
	return nil
}

type memRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memRecorder) Record(e audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memRecorder) types() []audit.EntryType {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []audit.EntryType
	for _, e := range m.entries {
		out = append(out, e.Type)
	}
	return out
}

func approve(t *testing.T, sel resource.Selection) confirm.Approval {
	t.Helper()
	p := confirm.RequiresConfirmation(sel, nil)
	a, err := confirm.Approve(p, p.Digest, true)
	require.NoError(t, err)
	return a
}

func newEngine(t *testing.T, cfg Config, rec audit.Recorder, hs ...handler.Handler) *Engine {
	t.Helper()
	reg, err := handler.NewRegistry(hs...)
	require.NoError(t, err)
	return NewEngine(reg, cfg, rec, nil)
}

func ids(results []resource.DeletionResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Resource)
	}
	return out
}

// ═══ Ordering Tests ═══

func TestDeleteBatch_OrderAndCount(t *testing.T) {
	secrets := newFake(resource.KindSecret)
	volumes := newFake(resource.KindBlockVolume)
	volumes.delete = func(_ context.Context, id string) error {
		if id == "vol-a" {
			time.Sleep(30 * time.Millisecond) // finish last
		}
		return nil
	}

	e := newEngine(t, Config{Concurrency: 4}, nil, secrets, volumes)
	sel := resource.Selection{
		resource.KindBlockVolume: {"vol-a", "vol-b"},
		resource.KindSecret:      {"s-2", "s-1"},
	}

	results := e.DeleteBatch(context.Background(), "run-1", approve(t, sel))

	require.Len(t, results, 4)
	// secret is declared before block-volume; ids keep caller order.
	assert.Equal(t, []string{"s-2", "s-1", "vol-a", "vol-b"}, ids(results))
	for _, r := range results {
		assert.Equal(t, resource.OutcomeDeleted, r.Outcome)
	}
}

func TestDeleteBatch_BestEffort(t *testing.T) {
	queues := newFake(resource.KindMessageQueue)
	queues.delete = func(_ context.Context, id string) error {
		if id == "q2" {
			return resource.NewProviderError("delete queue", errors.New("AccessDenied: not allowed"))
		}
		return nil
	}

	e := newEngine(t, Config{Concurrency: 1}, nil, queues)
	results := e.DeleteBatch(context.Background(), "run-1", approve(t, resource.Selection{
		resource.KindMessageQueue: {"q1", "q2", "q3"},
	}))

	require.Len(t, results, 3)
	assert.Equal(t, resource.OutcomeDeleted, results[0].Outcome)
	assert.Equal(t, resource.OutcomeFailed, results[1].Outcome)
	assert.Equal(t, resource.CauseProvider, results[1].Cause)
	assert.Contains(t, results[1].Error, "AccessDenied: not allowed")
	assert.Equal(t, resource.OutcomeDeleted, results[2].Outcome)
	assert.Equal(t, int32(3), queues.calls.Load(), "no retry")
}

// ═══ Unsupported Kind Tests ═══

func TestDeleteBatch_UnsupportedKindContinues(t *testing.T) {
	secrets := newFake(resource.KindSecret)
	e := newEngine(t, Config{Concurrency: 2}, nil, secrets)

	sel := resource.Selection{
		resource.KindSecret:       {"s1", "s2"},
		resource.Kind("dns-zone"): {"Z123"},
		resource.KindFunction:     {"fn"}, // known kind, no handler registered
	}
	results := e.DeleteBatch(context.Background(), "run-1", approve(t, sel))

	require.Len(t, results, 4)
	assert.Equal(t, []string{"s1", "s2", "fn", "Z123"}, ids(results))

	assert.Equal(t, resource.OutcomeDeleted, results[0].Outcome)
	assert.Equal(t, resource.OutcomeDeleted, results[1].Outcome)
	assert.Equal(t, resource.CauseUnsupportedKind, results[2].Cause)
	assert.Equal(t, resource.OutcomeFailed, results[3].Outcome)
	assert.Equal(t, resource.CauseUnsupportedKind, results[3].Cause)
	assert.Equal(t, int32(2), secrets.calls.Load())
}

func TestDeleteBatch_MixedReferences(t *testing.T) {
	secrets := newFake(resource.KindSecret)
	volumes := newFake(resource.KindBlockVolume)
	e := newEngine(t, Config{Concurrency: 2}, nil, secrets, volumes)

	table := "arn:aws:dynamodb:us-east-1:123456789012:table/orders"
	sel := resource.ParseRefs([]string{"block-volume/vol-1", table, "secret/s-1", "tape-drive/t-1"})
	results := e.DeleteBatch(context.Background(), "run-1", approve(t, sel))

	require.Len(t, results, 4)
	assert.Equal(t, []string{"s-1", "vol-1", table, "t-1"}, ids(results))
	assert.Equal(t, resource.Summary{Deleted: 2, Failed: 2}, resource.Summarize(results))
	assert.Equal(t, resource.CauseUnsupportedKind, results[2].Cause)
	assert.Equal(t, resource.CauseUnsupportedKind, results[3].Cause)
	assert.Equal(t, resource.Kind("tape-drive"), results[3].Kind)
}

// ═══ Confirmation Tests ═══

func TestDeleteBatch_RejectedApprovalDeletesNothing(t *testing.T) {
	secrets := newFake(resource.KindSecret)
	rec := &memRecorder{}
	e := newEngine(t, Config{Concurrency: 2}, rec, secrets)

	p := confirm.RequiresConfirmation(resource.Selection{resource.KindSecret: {"s1"}}, nil)
	rejected, err := confirm.Approve(p, p.Digest, false)
	require.NoError(t, err)

	results := e.DeleteBatch(context.Background(), "run-1", rejected)
	assert.Empty(t, results)
	assert.NotNil(t, results)

	results = e.DeleteBatch(context.Background(), "run-2", confirm.Approval{})
	assert.Empty(t, results)

	assert.Zero(t, secrets.calls.Load())
	assert.Empty(t, rec.entries)
}

// ═══ Concurrency Tests ═══

func TestDeleteBatch_RepeatedIDsSerialized(t *testing.T) {
	volumes := newFake(resource.KindBlockVolume)
	volumes.delete = func(context.Context, string) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	}

	e := newEngine(t, Config{Concurrency: 8}, nil, volumes)
	results := e.DeleteBatch(context.Background(), "run-1", approve(t, resource.Selection{
		resource.KindBlockVolume: {"vol-1", "vol-1", "vol-2", "vol-1"},
	}))

	require.Len(t, results, 4)
	assert.Equal(t, []string{"vol-1", "vol-1", "vol-2", "vol-1"}, ids(results))
	assert.False(t, volumes.overlap.Load(), "same id must never be deleted concurrently")
	assert.Equal(t, int32(4), volumes.calls.Load())
}

func TestDeleteBatch_ConcurrencyBound(t *testing.T) {
	var current, peak atomic.Int32
	fns := newFake(resource.KindFunction)
	fns.delete = func(context.Context, string) error {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		current.Add(-1)
		return nil
	}

	e := newEngine(t, Config{Concurrency: 2}, nil, fns)
	results := e.DeleteBatch(context.Background(), "run-1", approve(t, resource.Selection{
		resource.KindFunction: {"a", "b", "c", "d", "e", "f"},
	}))

	require.Len(t, results, 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

// ═══ Timeout Tests ═══

func TestDeleteBatch_TimeoutSurfacesAsFailed(t *testing.T) {
	volumes := newFake(resource.KindBlockVolume)
	volumes.delete = func(ctx context.Context, id string) error {
		<-ctx.Done()
		return &resource.PreconditionError{Step: "wait-available", Timeout: true, Err: ctx.Err()}
	}

	e := newEngine(t, Config{Concurrency: 1, Timeout: 30 * time.Millisecond}, nil, volumes)

	start := time.Now()
	results := e.DeleteBatch(context.Background(), "run-1", approve(t, resource.Selection{
		resource.KindBlockVolume: {"vol-1", "vol-2"},
	}))

	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, resource.OutcomeFailed, r.Outcome)
		assert.Equal(t, resource.CauseTimeout, r.Cause)
	}
	// The second volume is never handed to the handler once the batch deadline passed.
	assert.Equal(t, int32(1), volumes.calls.Load())
}

func TestDeleteBatch_PanicCaptured(t *testing.T) {
	logs := newFake(resource.KindLogGroup)
	logs.delete = func(context.Context, string) error { panic("boom") }

	e := newEngine(t, Config{Concurrency: 1}, nil, logs)
	results := e.DeleteBatch(context.Background(), "run-1", approve(t, resource.Selection{
		resource.KindLogGroup: {"/aws/lambda/x"},
	}))

	require.Len(t, results, 1)
	assert.Equal(t, resource.OutcomeFailed, results[0].Outcome)
	assert.Contains(t, results[0].Error, "handler panic")
}

// ═══ Audit Tests ═══

func TestDeleteBatch_Audit(t *testing.T) {
	secrets := newFake(resource.KindSecret)
	secrets.delete = func(_ context.Context, id string) error {
		if id == "bad" {
			return errors.New("denied")
		}
		return nil
	}
	rec := &memRecorder{}

	e := newEngine(t, Config{Concurrency: 1}, rec, secrets)
	e.DeleteBatch(context.Background(), "run-9", approve(t, resource.Selection{
		resource.KindSecret: {"good", "bad"},
	}))

	assert.Equal(t, []audit.EntryType{
		audit.EntryApproved,
		audit.EntryDeleting, audit.EntryDeleted,
		audit.EntryDeleting, audit.EntryFailed,
	}, rec.types())
	for _, entry := range rec.entries {
		assert.Equal(t, "run-9", entry.RunID)
	}
	assert.Equal(t, "denied", rec.entries[4].Error)
}

// ═══ Tracing Tests ═══

func TestDeleteBatch_SpanPerResource(t *testing.T) {
	secrets := newFake(resource.KindSecret)
	secrets.delete = func(_ context.Context, id string) error {
		if id == "bad" {
			return resource.NewProviderError("delete secret", errors.New("AccessDenied: nope"))
		}
		return nil
	}

	var buf bytes.Buffer
	saved := log.Logger
	log.Logger = zerolog.New(&buf).Hook(telemetry.OTELHook{})
	defer func() { log.Logger = saved }()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	e := newEngine(t, Config{Concurrency: 1}, nil, secrets)
	e.tracer = provider.Tracer("test")

	e.DeleteBatch(context.Background(), "run-1", approve(t, resource.Selection{
		resource.KindSecret: {"good", "bad"},
	}))

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	byID := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range spans {
		assert.Equal(t, "deletion.delete", s.Name())
		for _, kv := range s.Attributes() {
			if kv.Key == "resource.id" {
				byID[kv.Value.AsString()] = s
			}
		}
	}
	assert.Equal(t, codes.Ok, byID["good"].Status().Code)
	assert.Equal(t, codes.Error, byID["bad"].Status().Code)
	assert.Equal(t, string(resource.CauseProvider), byID["bad"].Status().Description)

	for _, id := range []string{"good", "bad"} {
		traceID := byID[id].SpanContext().TraceID().String()
		assert.True(t, strings.Contains(buf.String(), traceID), "log entries for %s carry its trace id", id)
	}
}
