package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/switchboardhq/switchboard/internal/core/domain"
)

const (
	traceRingSize = 500  // recent traces kept in memory
	spanTextLimit = 2000 // cap on recorded span input/output
)

// Trace lifecycle event types published on the bus (key "trace:<id>").
const (
	EventTypeTraceStarted  EventType = "trace_started"
	EventTypeSpanFinished  EventType = "span_finished"
	EventTypeTraceFinished EventType = "trace_finished"
)

// TraceRepository is the slice of persistence the collector needs.
type TraceRepository interface {
	SaveTrace(ctx context.Context, trace *domain.Trace) error
}

// SpanStart carries the optional fields of a new span.
type SpanStart struct {
	Input      string
	Model      string
	Attributes map[string]string
}

// liveTrace is one in-flight or recently finished trace together with the
// spans it owns. Spans never outlive their trace.
type liveTrace struct {
	trace domain.Trace
	spans map[domain.SpanID]*domain.Span
}

// TraceCollector records one trace per reasoning-loop execution: an agent
// root span with llm and tool children. Recent traces live in a ring buffer
// for the API; finished traces are additionally persisted when a repository
// is attached. Thread-safe.
type TraceCollector struct {
	logger *slog.Logger
	bus    *EventBus
	store  TraceRepository // may be nil

	mu    sync.RWMutex
	live  map[domain.TraceID]*liveTrace
	index map[domain.SpanID]domain.TraceID
	order []domain.TraceID // oldest first, for eviction
}

func NewTraceCollector(logger *slog.Logger, bus *EventBus, store TraceRepository) *TraceCollector {
	return &TraceCollector{
		logger: logger,
		bus:    bus,
		store:  store,
		live:   make(map[domain.TraceID]*liveTrace, traceRingSize),
		index:  make(map[domain.SpanID]domain.TraceID, traceRingSize*8),
	}
}

type traceCtxKey struct{}
type spanCtxKey struct{}

// ContextWithTrace stores trace and span IDs in a context for propagation.
func ContextWithTrace(ctx context.Context, traceID domain.TraceID, spanID domain.SpanID) context.Context {
	ctx = context.WithValue(ctx, traceCtxKey{}, traceID)
	return context.WithValue(ctx, spanCtxKey{}, spanID)
}

// TraceFromContext extracts the trace and current span ID from a context.
func TraceFromContext(ctx context.Context) (domain.TraceID, domain.SpanID, bool) {
	traceID, ok1 := ctx.Value(traceCtxKey{}).(domain.TraceID)
	spanID, ok2 := ctx.Value(spanCtxKey{}).(domain.SpanID)
	return traceID, spanID, ok1 && ok2
}

// StartTrace begins a trace for one execution and opens its agent root span.
// The returned context carries both IDs so child spans can attach.
func (tc *TraceCollector) StartTrace(ctx context.Context, name string, convID domain.ConversationID, agentID domain.AgentID) (context.Context, domain.TraceID) {
	traceID := domain.TraceID(uuid.New().String())
	rootID := domain.SpanID(uuid.New().String())
	now := time.Now()

	lt := &liveTrace{
		trace: domain.Trace{
			ID:             traceID,
			RootSpanID:     rootID,
			Name:           name,
			Status:         domain.SpanStatusRunning,
			ConversationID: string(convID),
			AgentID:        string(agentID),
			StartTime:      now,
			SpanCount:      1,
		},
		spans: map[domain.SpanID]*domain.Span{
			rootID: {
				ID:        rootID,
				TraceID:   traceID,
				Name:      name,
				Kind:      domain.SpanKindAgent,
				Status:    domain.SpanStatusRunning,
				StartTime: now,
			},
		},
	}

	tc.mu.Lock()
	tc.evict()
	tc.live[traceID] = lt
	tc.index[rootID] = traceID
	tc.order = append(tc.order, traceID)
	tc.mu.Unlock()

	tc.publish(EventTypeTraceStarted, traceEvent{TraceID: string(traceID), Name: name})
	tc.logger.Debug("trace started", "trace_id", string(traceID), "name", name)

	return ContextWithTrace(ctx, traceID, rootID), traceID
}

// EndTrace finalizes a trace and its root span. Status derives from runErr;
// with a repository attached the finished trace is persisted asynchronously.
func (tc *TraceCollector) EndTrace(traceID domain.TraceID, runErr error) {
	now := time.Now()
	status := domain.SpanStatusOK
	if runErr != nil {
		status = domain.SpanStatusError
	}

	tc.mu.Lock()
	lt, ok := tc.live[traceID]
	if !ok {
		tc.mu.Unlock()
		return
	}

	lt.trace.Status = status
	lt.trace.EndTime = &now
	lt.trace.DurationMs = now.Sub(lt.trace.StartTime).Milliseconds()

	if root, ok := lt.spans[lt.trace.RootSpanID]; ok {
		root.Status = status
		root.EndTime = &now
		root.DurationMs = now.Sub(root.StartTime).Milliseconds()
		if runErr != nil {
			root.Error = runErr.Error()
		}
	}

	ev := traceEvent{
		TraceID:    string(traceID),
		Name:       lt.trace.Name,
		Status:     string(status),
		DurationMs: lt.trace.DurationMs,
	}
	var snapshot *domain.Trace
	if tc.store != nil {
		snapshot = lt.snapshot()
	}
	tc.mu.Unlock()

	tc.publish(EventTypeTraceFinished, ev)

	if snapshot != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := tc.store.SaveTrace(ctx, snapshot); err != nil {
				tc.logger.Warn("failed to persist trace", "trace_id", traceID, "error", err)
			}
		}()
	}
}

// StartSpan opens a child span under the context's current span. Without a
// trace in the context it is a no-op and returns an empty span ID.
func (tc *TraceCollector) StartSpan(ctx context.Context, name string, kind domain.SpanKind, opts SpanStart) (context.Context, domain.SpanID) {
	traceID, parentID, ok := TraceFromContext(ctx)
	if !ok {
		return ctx, ""
	}

	spanID := domain.SpanID(uuid.New().String())
	span := &domain.Span{
		ID:         spanID,
		ParentID:   parentID,
		TraceID:    traceID,
		Name:       name,
		Kind:       kind,
		Status:     domain.SpanStatusRunning,
		Input:      clampText(opts.Input),
		Model:      opts.Model,
		Attributes: opts.Attributes,
		StartTime:  time.Now(),
	}

	tc.mu.Lock()
	lt, ok := tc.live[traceID]
	if !ok {
		tc.mu.Unlock()
		return ctx, ""
	}
	lt.spans[spanID] = span
	lt.trace.SpanCount++
	if parent, ok := lt.spans[parentID]; ok {
		parent.Children = append(parent.Children, spanID)
	}
	tc.index[spanID] = traceID
	tc.mu.Unlock()

	return ContextWithTrace(ctx, traceID, spanID), spanID
}

// EndSpan finalizes a span. Status derives from spanErr.
func (tc *TraceCollector) EndSpan(spanID domain.SpanID, output string, spanErr error) {
	if spanID == "" {
		return
	}
	now := time.Now()

	tc.mu.Lock()
	traceID, ok := tc.index[spanID]
	if !ok {
		tc.mu.Unlock()
		return
	}
	span := tc.live[traceID].spans[spanID]

	span.Output = clampText(output)
	span.EndTime = &now
	span.DurationMs = now.Sub(span.StartTime).Milliseconds()
	if spanErr != nil {
		span.Status = domain.SpanStatusError
		span.Error = spanErr.Error()
	} else {
		span.Status = domain.SpanStatusOK
	}
	ev := traceEvent{
		TraceID:    string(traceID),
		SpanID:     string(spanID),
		Name:       span.Name,
		Kind:       string(span.Kind),
		Status:     string(span.Status),
		DurationMs: span.DurationMs,
	}
	tc.mu.Unlock()

	tc.publish(EventTypeSpanFinished, ev)
}

// ListTraces returns summaries of recent traces, newest first.
func (tc *TraceCollector) ListTraces(limit int) []domain.TraceSummary {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	if limit <= 0 || limit > len(tc.order) {
		limit = len(tc.order)
	}

	out := make([]domain.TraceSummary, 0, limit)
	for i := len(tc.order) - 1; i >= 0 && len(out) < limit; i-- {
		lt, ok := tc.live[tc.order[i]]
		if !ok {
			continue
		}
		out = append(out, domain.TraceSummary{
			ID:         lt.trace.ID,
			Name:       lt.trace.Name,
			Status:     lt.trace.Status,
			StartTime:  lt.trace.StartTime,
			DurationMs: lt.trace.DurationMs,
			SpanCount:  lt.trace.SpanCount,
		})
	}
	return out
}

// GetTrace returns one trace with all its spans, ordered by start time.
func (tc *TraceCollector) GetTrace(traceID domain.TraceID) (*domain.Trace, error) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	lt, ok := tc.live[traceID]
	if !ok {
		return nil, fmt.Errorf("trace not found: %s", traceID)
	}
	return lt.snapshot(), nil
}

// snapshot copies the trace with its spans attached. Caller holds tc.mu.
func (lt *liveTrace) snapshot() *domain.Trace {
	cp := lt.trace
	cp.Spans = make([]domain.Span, 0, len(lt.spans))
	for _, span := range lt.spans {
		cp.Spans = append(cp.Spans, *span)
	}
	sort.Slice(cp.Spans, func(i, j int) bool {
		return cp.Spans[i].StartTime.Before(cp.Spans[j].StartTime)
	})
	return &cp
}

// evict drops the oldest trace once the ring is full. Caller holds tc.mu.
func (tc *TraceCollector) evict() {
	for len(tc.order) >= traceRingSize {
		oldest := tc.order[0]
		tc.order = tc.order[1:]
		if lt, ok := tc.live[oldest]; ok {
			for spanID := range lt.spans {
				delete(tc.index, spanID)
			}
			delete(tc.live, oldest)
		}
	}
}

// traceEvent is the wire payload of trace lifecycle events.
type traceEvent struct {
	TraceID    string `json:"trace_id"`
	SpanID     string `json:"span_id,omitempty"`
	Name       string `json:"name"`
	Kind       string `json:"kind,omitempty"`
	Status     string `json:"status,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

func (tc *TraceCollector) publish(eventType EventType, ev traceEvent) {
	if tc.bus == nil {
		return
	}
	payload, _ := json.Marshal(ev)
	tc.bus.Publish(Event{
		Key:       "trace:" + ev.TraceID,
		Type:      eventType,
		Data:      string(payload),
		Timestamp: time.Now().UnixMilli(),
	})
}

func clampText(s string) string {
	if len(s) <= spanTextLimit {
		return s
	}
	return s[:spanTextLimit] + "...[truncated]"
}
