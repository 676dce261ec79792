package calls

import (
	"context"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/sweeney/homer-callflow/internal/capture"
	"github.com/sweeney/homer-callflow/internal/correlator"
	"github.com/sweeney/homer-callflow/internal/homer"
	"github.com/sweeney/homer-callflow/internal/metrics"
)

// Backend is the slice of the Homer API the service needs.
type Backend interface {
	Search(ctx context.Context, f homer.Filters, fromMS, toMS int64) ([]capture.Record, time.Duration, error)
	Transaction(ctx context.Context, callID string, anchorID, centerMS, windowMS int64) (capture.Transaction, time.Duration, error)
}

const DefaultHours = 168

// Query is a call search. Hours is the look-back from now; zero means
// DefaultHours. Lookback, when set, takes precedence over Hours.
type Query struct {
	homer.Filters
	Hours    int
	Lookback time.Duration
}

// Result is the outcome of a search.
type Result struct {
	Calls []correlator.CallSummary `json:"calls"`
	// LatencyMS is the Homer round trip, in milliseconds.
	LatencyMS float64 `json:"latency_ms"`
	// CallIDLookup is set when the search went through the transaction
	// endpoint instead of the capped search endpoint.
	CallIDLookup bool `json:"callid_lookup"`
}

// DetailResult wraps a rebuilt call with the request context it came from.
type DetailResult struct {
	CallID    string  `json:"callid"`
	RecordID  int64   `json:"record_id"`
	Timestamp int64   `json:"ts"`
	LatencyMS float64 `json:"latency_ms"`
	correlator.Detail
}

// Options configures a Service.
type Options struct {
	// DetailWindow is the half-width of the transaction fetch around a
	// known call timestamp.
	DetailWindow time.Duration
	// CallIDWindow is the half-width used for call-id-only searches, where
	// the call time is unknown.
	CallIDWindow time.Duration
}

// Service answers call list, detail and export requests against a Backend.
type Service struct {
	backend Backend
	opts    Options
	logger  *zap.SugaredLogger
	now     func() time.Time
}

// New creates a Service. A nil logger discards output.
func New(backend Backend, opts Options, logger *zap.SugaredLogger) *Service {
	if opts.DetailWindow <= 0 {
		opts.DetailWindow = time.Hour
	}
	if opts.CallIDWindow <= 0 {
		opts.CallIDWindow = 30 * 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{backend: backend, opts: opts, logger: logger, now: time.Now}
}

// WithClock sets the clock used for "now". Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Search lists calls matching q, newest first. A query whose only filter is
// the call id is answered from the transaction endpoint over a wide window,
// since the search endpoint caps its results and can miss older calls.
func (s *Service) Search(ctx context.Context, q Query) (Result, error) {
	nowMS := s.now().UnixMilli()

	if q.OnlyCallID() {
		callID := strings.TrimSpace(q.CallID)
		tx, latency, err := s.backend.Transaction(ctx, callID, 0, nowMS, s.opts.CallIDWindow.Milliseconds())
		if err != nil {
			s.logger.Warnw("call id lookup failed", "callid", callID, "error", err)
			return Result{}, err
		}
		metrics.RecordsProcessedTotal.Add(float64(len(tx.Messages)))

		res := Result{Calls: []correlator.CallSummary{}, LatencyMS: millis(latency), CallIDLookup: true}
		if sum, ok := correlator.SummarizeCall(callID, tx); ok {
			res.Calls = append(res.Calls, sum)
			metrics.CallsReconstructedTotal.WithLabelValues("single").Inc()
		}
		s.logger.Debugw("call id lookup", "callid", callID, "messages", len(tx.Messages), "found", len(res.Calls) == 1)
		return res, nil
	}

	lookback := q.Lookback
	if lookback <= 0 {
		hours := q.Hours
		if hours <= 0 {
			hours = DefaultHours
		}
		lookback = time.Duration(hours) * time.Hour
	}
	fromMS := nowMS - lookback.Milliseconds()

	records, latency, err := s.backend.Search(ctx, q.Filters, fromMS, nowMS)
	if err != nil {
		s.logger.Warnw("call search failed", "lookback", lookback, "error", err)
		return Result{}, err
	}
	metrics.RecordsProcessedTotal.Add(float64(len(records)))

	calls := correlator.Group(records)
	metrics.CallsReconstructedTotal.WithLabelValues("list").Add(float64(len(calls)))
	s.logger.Debugw("call search", "lookback", lookback, "records", len(records), "calls", len(calls))
	return Result{Calls: calls, LatencyMS: millis(latency)}, nil
}

// Detail rebuilds the flow of one call from the transaction around ts
// (now when zero). anchorID is the representative record id, 0 if unknown.
func (s *Service) Detail(ctx context.Context, callID string, anchorID, ts int64) (DetailResult, error) {
	tx, latency, err := s.transaction(ctx, callID, anchorID, ts)
	if err != nil {
		return DetailResult{}, err
	}
	metrics.RecordsProcessedTotal.Add(float64(len(tx.Messages)))
	metrics.CallsReconstructedTotal.WithLabelValues("detail").Inc()

	return DetailResult{
		CallID:    callID,
		RecordID:  anchorID,
		Timestamp: ts,
		LatencyMS: millis(latency),
		Detail:    correlator.BuildDetail(tx),
	}, nil
}

// Export returns the transaction response body exactly as Homer sent it,
// and a file name for saving it.
func (s *Service) Export(ctx context.Context, callID string, anchorID, ts int64) ([]byte, string, error) {
	tx, _, err := s.transaction(ctx, callID, anchorID, ts)
	if err != nil {
		return nil, "", err
	}
	return tx.Raw, ExportFilename(callID), nil
}

func (s *Service) transaction(ctx context.Context, callID string, anchorID, ts int64) (capture.Transaction, time.Duration, error) {
	if ts == 0 {
		ts = s.now().UnixMilli()
	}
	tx, latency, err := s.backend.Transaction(ctx, callID, anchorID, ts, s.opts.DetailWindow.Milliseconds())
	if err != nil {
		s.logger.Warnw("transaction fetch failed", "callid", callID, "id", anchorID, "ts", ts, "error", err)
		return capture.Transaction{}, 0, err
	}
	return tx, latency, nil
}

// ExportFilename builds "call-<id>.json", replacing every character of the
// call id other than letters, digits, '-', '_' and '.' with '_'.
func ExportFilename(callID string) string {
	var b strings.Builder
	b.WriteString("call-")
	for _, r := range callID {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	b.WriteString(".json")
	return b.String()
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
