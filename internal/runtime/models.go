package runtime

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/drblury/polyflow/internal/runtime/dispatch"
	errspkg "github.com/drblury/polyflow/internal/runtime/errors"
	"github.com/drblury/polyflow/internal/runtime/jsoncodec"
)

var errPanicked = errors.New("handler panicked")

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// HandlerInfo is the introspection view of one compiled handler.
type HandlerInfo struct {
	Name     string        `json:"name"`
	Arity    int           `json:"arity"`
	Bindings []BindingInfo `json:"bindings"`
	Stats    *HandlerStats `json:"stats"`
}

// BindingInfo is one protocol binding of a handler.
type BindingInfo struct {
	Tag         string   `json:"tag"`
	Target      string   `json:"target"`
	Description string   `json:"description,omitempty"`
	Disabled    bool     `json:"disabled,omitempty"`
	Middleware  []string `json:"middleware,omitempty"`
	HasSchema   bool     `json:"has_schema"`
}

// StatsSnapshot is a point-in-time copy of a handler's statistics.
type StatsSnapshot struct {
	InvocationsProcessed uint64            `json:"invocations_processed"`
	InvocationsFailed    uint64            `json:"invocations_failed"`
	TotalProcessingTime  int64             `json:"total_processing_time_ns"`
	LastProcessedAt      time.Time         `json:"last_processed_at"`
	ByTransport          map[string]uint64 `json:"by_transport"`

	Latency    LatencyMetrics    `json:"latency"`
	Throughput ThroughputMetrics `json:"throughput"`
	Errors     ErrorBreakdown    `json:"errors"`
	Resource   ResourceUsage     `json:"resource"`
	InFlight   InFlightMetrics   `json:"in_flight"`
}

// HandlerStats aggregates invocation outcomes of one handler across every
// transport.
type HandlerStats struct {
	mu   sync.Mutex
	snap StatsSnapshot

	latency    *latencyWindow
	throughput *throughputWindow
	sampler    *resourceSampler
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS          float64 `json:"current_rps"`
	WindowSeconds       float64 `json:"window_seconds"`
	InvocationsInWindow uint64  `json:"invocations_in_window"`
}

type ErrorBreakdown struct {
	Validation uint64 `json:"validation"`
	NotFound   uint64 `json:"not_found"`
	Downstream uint64 `json:"downstream"`
	Panic      uint64 `json:"panic"`
	Other      uint64 `json:"other"`
	LastError  string `json:"last_error,omitempty"`
}

type InFlightMetrics struct {
	Current uint64 `json:"current"`
	Max     uint64 `json:"max"`
}

// ErrorCategory buckets failures for the stats breakdown.
type ErrorCategory string

const (
	ErrorCategoryNone       ErrorCategory = "none"
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategoryNotFound   ErrorCategory = "not_found"
	ErrorCategoryDownstream ErrorCategory = "downstream"
	ErrorCategoryPanic      ErrorCategory = "panic"
	ErrorCategoryOther      ErrorCategory = "other"
)

// ErrorClassifier maps an invocation error to a category.
type ErrorClassifier func(error) ErrorCategory

// DefaultErrorClassifier understands the dispatch error taxonomy and treats
// cancelled or timed out contexts as downstream failures.
func DefaultErrorClassifier(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}
	var exec *errspkg.HandlerExecutionError
	switch {
	case errspkg.IsValidation(err):
		return ErrorCategoryValidation
	case errspkg.IsNotFound(err):
		return ErrorCategoryNotFound
	case errors.As(err, &exec) && exec.Panic:
		return ErrorCategoryPanic
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorCategoryDownstream
	}
	return ErrorCategoryOther
}

func newHandlerStats(sampler *resourceSampler) *HandlerStats {
	return &HandlerStats{
		snap:       StatsSnapshot{ByTransport: make(map[string]uint64)},
		latency:    newLatencyWindow(latencySampleSize),
		throughput: newThroughputWindow(throughputWindowSize),
		sampler:    sampler,
	}
}

func (h *HandlerStats) begin() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snap.InFlight.Current++
	if h.snap.InFlight.Current > h.snap.InFlight.Max {
		h.snap.InFlight.Max = h.snap.InFlight.Current
	}
}

func (h *HandlerStats) finish(transport string, duration time.Duration, err error, classify ErrorClassifier) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := &h.snap

	if st.InFlight.Current > 0 {
		st.InFlight.Current--
	}
	st.InvocationsProcessed++
	if err != nil {
		st.InvocationsFailed++
	}
	st.ByTransport[transport]++
	st.TotalProcessingTime += int64(duration)
	now := time.Now()
	st.LastProcessedAt = now.UTC()

	h.latency.Add(duration)
	st.Latency = h.latency.Snapshot()
	st.Latency.AverageNs = st.TotalProcessingTime / int64(st.InvocationsProcessed)

	window := h.throughput.AddAndSnapshot(now)
	st.Throughput = ThroughputMetrics{
		CurrentRPS:          window.CurrentRPS,
		WindowSeconds:       window.WindowSeconds,
		InvocationsInWindow: uint64(window.Count),
	}

	if classify == nil {
		classify = DefaultErrorClassifier
	}
	st.Errors.Record(classify(err), err)

	if h.sampler != nil {
		st.Resource = h.sampler.Snapshot()
	}
}

// Snapshot copies the current statistics.
func (h *HandlerStats) Snapshot() StatsSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.snap
	out.ByTransport = make(map[string]uint64, len(h.snap.ByTransport))
	for k, v := range h.snap.ByTransport {
		out.ByTransport[k] = v
	}
	return out
}

func (h *HandlerStats) MarshalJSON() ([]byte, error) {
	return jsoncodec.Marshal(h.Snapshot())
}

func (e *ErrorBreakdown) Record(category ErrorCategory, err error) {
	if err == nil {
		return
	}
	switch category {
	case ErrorCategoryValidation:
		e.Validation++
	case ErrorCategoryNotFound:
		e.NotFound++
	case ErrorCategoryDownstream:
		e.Downstream++
	case ErrorCategoryPanic:
		e.Panic++
	default:
		e.Other++
	}
	e.LastError = err.Error()
}

// statsMiddleware records every invocation that reaches the chain.
func statsMiddleware(s *Service) dispatch.Middleware {
	return func(c *dispatch.Context) error {
		stats := s.statsFor(c.Entry.Name)
		stats.begin()
		start := time.Now()
		done := false
		defer func() {
			// a panic unwinds past us; the dispatcher recovers it
			if !done {
				panicked := &errspkg.HandlerExecutionError{Method: c.Entry.Name, Panic: true, Err: errPanicked}
				stats.finish(c.Transport, time.Since(start), panicked, s.errorClassifier)
			}
		}()
		err := c.Next()
		done = true
		stats.finish(c.Transport, time.Since(start), err, s.errorClassifier)
		return err
	}
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	m := LatencyMetrics{LastNs: lw.last, SampleSize: lw.filled}
	if lw.filled == 0 {
		return m
	}
	sorted := make([]int64, 0, lw.filled)
	if lw.filled < len(lw.samples) {
		sorted = append(sorted, lw.samples[:lw.filled]...)
	} else {
		sorted = append(sorted, lw.samples...)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	m.P50Ns = percentile(sorted, 0.50)
	m.P95Ns = percentile(sorted, 0.95)
	m.P99Ns = percentile(sorted, 0.99)
	var sum int64
	for _, v := range sorted {
		sum += v
	}
	m.AverageNs = sum / int64(len(sorted))
	return m
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []int64, q float64) int64 {
	switch {
	case len(sorted) == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo, hi := int(math.Floor(pos)), int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + int64(float64(sorted[hi]-sorted[lo])*(pos-float64(lo)))
}

type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{horizon: horizon, samples: make([]time.Time, 0, 64)}
}

func (tw *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	tw.samples = append(tw.samples, now)

	cutoff := now.Add(-tw.horizon)
	drop := sort.Search(len(tw.samples), func(i int) bool { return !tw.samples[i].Before(cutoff) })
	if drop > 0 {
		tw.samples = append(tw.samples[:0], tw.samples[drop:]...)
	}

	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	return throughputSnapshot{
		Count:         len(tw.samples),
		WindowSeconds: span.Seconds(),
		CurrentRPS:    float64(len(tw.samples)) / span.Seconds(),
	}
}
