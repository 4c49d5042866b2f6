package routing

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/upb/ip-broker/internal/observability"
	"github.com/upb/ip-broker/internal/shared"
	"github.com/upb/ip-broker/services"
	"github.com/upb/ip-broker/services/providers"
	"go.uber.org/zap"
)

// AdmissionMode controls how the admission check relates to the dispatch.
type AdmissionMode string

const (
	// AdmissionReserve holds a slot on the selected provider from selection
	// until its outcome is recorded, so concurrent requests never exceed
	// MaxRequestsPerMinute.
	AdmissionReserve AdmissionMode = "reserve"

	// AdmissionAdvisory only checks recorded outcomes. Requests selected at
	// the same moment may all pass the check and overshoot the limit.
	AdmissionAdvisory AdmissionMode = "advisory"
)

// ParseAdmissionMode converts a configuration value into an AdmissionMode.
func ParseAdmissionMode(s string) (AdmissionMode, error) {
	switch mode := AdmissionMode(s); mode {
	case AdmissionReserve, AdmissionAdvisory:
		return mode, nil
	case "":
		return AdmissionReserve, nil
	default:
		return "", services.WrapValidation("unknown admission mode", fmt.Errorf("%q", s))
	}
}

// RoutingConfig holds configuration for the routing service
type RoutingConfig struct {
	// Admission selects reserve-then-confirm or advisory admission
	Admission AdmissionMode

	// Clock measures dispatch latency. Defaults to the system clock and
	// should be the clock the registry was built with.
	Clock providers.Clock
}

// DefaultRoutingConfig returns a sensible default configuration
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		Admission: AdmissionReserve,
		Clock:     providers.SystemClock,
	}
}

// LookupResult is returned for every request a provider served successfully.
type LookupResult struct {
	RequestID     string          `json:"request_id"`
	RequestNumber uint64          `json:"request_number"`
	Provider      string          `json:"provider"`
	Key           string          `json:"ip"`
	LatencyMs     int64           `json:"latency_ms"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// RoutingService picks the healthiest admitted provider for each request,
// dispatches to it and feeds the outcome back into the provider's windows.
type RoutingService struct {
	config     RoutingConfig
	registry   *providers.Registry
	dispatcher providers.Dispatcher
	metrics    observability.Metrics
	logger     observability.Logger

	// selectMu makes snapshot, ranking and reservation one atomic step
	// across the whole provider set.
	selectMu       sync.Mutex
	requestCounter atomic.Uint64
}

// NewRoutingService creates a new routing service
func NewRoutingService(
	config RoutingConfig,
	registry *providers.Registry,
	dispatcher providers.Dispatcher,
	logger *zap.Logger,
	metrics observability.Metrics,
) (*RoutingService, error) {
	if registry == nil || registry.Count() == 0 {
		return nil, services.WrapValidation("routing requires at least one provider", nil)
	}
	if dispatcher == nil {
		return nil, services.WrapValidation("routing requires a dispatcher", nil)
	}
	mode, err := ParseAdmissionMode(string(config.Admission))
	if err != nil {
		return nil, err
	}
	config.Admission = mode
	if config.Clock == nil {
		config.Clock = providers.SystemClock
	}
	if metrics == nil {
		metrics = observability.NopMetrics{}
	}

	return &RoutingService{
		config:     config,
		registry:   registry,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     observability.NewLogger(logger),
	}, nil
}

// candidate pairs a provider with the snapshot it was ranked on.
type candidate struct {
	order    int
	metrics  *providers.ProviderMetrics
	snapshot providers.Snapshot
}

// CodeInvalidPayload marks a dispatch that returned bytes that are not JSON.
const CodeInvalidPayload = "INVALID_PAYLOAD"

// HandleRequest serves one lookup. It fails with services.ErrNoProviderAvailable
// when every provider is at its limit, and with a provider error naming the
// selected provider when the dispatch fails or returns a non-JSON payload.
// Failed dispatches are not retried.
func (s *RoutingService) HandleRequest(ctx context.Context, key string) (*LookupResult, error) {
	if key == "" {
		return nil, services.ErrInvalidLookupKey
	}

	requestNumber := s.requestCounter.Add(1)

	requestID := shared.RequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
		ctx = shared.WithRequestID(ctx, requestID)
	}

	selected, ranked := s.selectProvider()
	s.logCandidates(ctx, requestNumber, ranked)

	if selected == nil {
		s.metrics.RecordRejection(ctx)
		s.logger.Warn(ctx, "no available provider",
			zap.Uint64("request", requestNumber),
			zap.String("ip", key),
		)
		return nil, services.ErrNoProviderAvailable
	}

	desc := selected.Descriptor()
	s.logger.Info(ctx, "provider selected",
		zap.Uint64("request", requestNumber),
		zap.String("provider", desc.Name),
		zap.String("url", desc.URL(key)),
	)

	start := s.config.Clock.Now()
	payload, dispatchErr := s.dispatch(ctx, desc, key)
	elapsedMs := s.config.Clock.Now().Sub(start).Milliseconds()

	if dispatchErr == nil && len(payload) > 0 && !json.Valid(payload) {
		dispatchErr = providers.NewCallError(desc.Name, CodeInvalidPayload, "provider returned a non-JSON payload", 0, nil)
		payload = nil
	}

	failed := dispatchErr != nil
	s.record(ctx, selected, failed, elapsedMs)

	if failed {
		s.logger.Warn(ctx, "provider call failed",
			zap.Uint64("request", requestNumber),
			zap.String("provider", desc.Name),
			zap.Int64("latency_ms", elapsedMs),
			zap.Error(dispatchErr),
		)
		return nil, services.NewProviderError(desc.Name, dispatchErr)
	}

	s.logger.Info(ctx, "provider call succeeded",
		zap.Uint64("request", requestNumber),
		zap.String("provider", desc.Name),
		zap.Int64("latency_ms", elapsedMs),
	)

	return &LookupResult{
		RequestID:     requestID,
		RequestNumber: requestNumber,
		Provider:      desc.Name,
		Key:           key,
		LatencyMs:     elapsedMs,
		Payload:       payload,
	}, nil
}

// selectProvider snapshots, filters and ranks the provider set and, in
// reserve mode, reserves a slot on the winner. It returns nil when no
// provider admits the request. The ranked candidates are returned for logging.
func (s *RoutingService) selectProvider() (*providers.ProviderMetrics, []candidate) {
	s.selectMu.Lock()
	defer s.selectMu.Unlock()

	all := s.registry.List()
	admitted := make([]candidate, 0, len(all))
	for i, m := range all {
		snap := m.Snapshot()
		if !snap.CanAccept {
			continue
		}
		admitted = append(admitted, candidate{order: i, metrics: m, snapshot: snap})
	}

	rank(admitted)

	for _, c := range admitted {
		if s.config.Admission == AdmissionAdvisory || c.metrics.Reserve() {
			return c.metrics, admitted
		}
	}
	return nil, admitted
}

// rank orders candidates by fewest errors in the ranking window, then lowest
// average latency. Providers without samples carry NoLatency and so lose
// latency ties to any measured provider. Remaining ties keep configuration order.
func rank(candidates []candidate) {
	slices.SortStableFunc(candidates, func(a, b candidate) int {
		if c := cmp.Compare(a.snapshot.ErrorCountLast5Min, b.snapshot.ErrorCountLast5Min); c != 0 {
			return c
		}
		if c := cmp.Compare(a.snapshot.AvgLatencyLast5Min, b.snapshot.AvgLatencyLast5Min); c != 0 {
			return c
		}
		return cmp.Compare(a.order, b.order)
	})
}

// dispatch invokes the dispatcher exactly once. A panicking dispatcher is
// reported as a failed call so the reservation is always released.
func (s *RoutingService) dispatch(ctx context.Context, desc providers.Descriptor, key string) (payload []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			payload = nil
			err = providers.NewCallError(desc.Name, "PANIC", "dispatcher panicked", 0, fmt.Errorf("%v", r))
		}
	}()
	return s.dispatcher.Dispatch(ctx, desc, key)
}

func (s *RoutingService) record(ctx context.Context, m *providers.ProviderMetrics, failed bool, elapsedMs int64) {
	if s.config.Admission == AdmissionReserve {
		m.Complete(failed, elapsedMs)
	} else {
		m.RecordOutcome(failed, elapsedMs)
	}

	status := observability.StatusSuccess
	if failed {
		status = observability.StatusError
	}
	labels := observability.RequestLabels{Provider: m.Name(), Status: status}
	s.metrics.RecordRequest(ctx, labels)
	s.metrics.RecordLatency(ctx, float64(elapsedMs), labels)

	snap := m.Snapshot()
	s.metrics.ObserveProvider(ctx, observability.ProviderState{
		Provider:            snap.Name,
		RequestsLastMinute:  snap.RequestsLastMinute,
		InFlight:            snap.InFlight,
		ErrorRateLastMinute: snap.ErrorRateLastMinute,
	})
}

func (s *RoutingService) logCandidates(ctx context.Context, requestNumber uint64, ranked []candidate) {
	for position, c := range ranked {
		fields := []observability.Field{
			zap.Uint64("request", requestNumber),
			zap.Int("rank", position+1),
			zap.String("provider", c.snapshot.Name),
			zap.Int("errors_5m", c.snapshot.ErrorCountLast5Min),
			zap.Float64("error_rate_1m", c.snapshot.ErrorRateLastMinute),
		}
		if c.snapshot.HasLatency() {
			fields = append(fields, zap.Float64("avg_latency_ms", c.snapshot.AvgLatencyLast5Min))
		}
		s.logger.Debug(ctx, "candidate provider", fields...)
	}
}

// Stats returns a snapshot of every provider in configuration order.
func (s *RoutingService) Stats() []providers.Snapshot {
	all := s.registry.List()
	stats := make([]providers.Snapshot, 0, len(all))
	for _, m := range all {
		stats = append(stats, m.Snapshot())
	}
	return stats
}

// Available reports how many providers would currently admit a request.
func (s *RoutingService) Available() int {
	n := 0
	for _, m := range s.registry.List() {
		if m.CanAcceptRequest() {
			n++
		}
	}
	return n
}

// RequestCount returns how many requests HandleRequest has received.
func (s *RoutingService) RequestCount() uint64 {
	return s.requestCounter.Load()
}

// Mode returns the admission mode in effect.
func (s *RoutingService) Mode() AdmissionMode {
	return s.config.Admission
}
