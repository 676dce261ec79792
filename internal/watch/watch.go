package watch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/homer-callflow/internal/calls"
	"github.com/sweeney/homer-callflow/internal/correlator"
	"github.com/sweeney/homer-callflow/internal/metrics"
	"github.com/sweeney/homer-callflow/internal/publisher"
)

// Searcher lists recent calls.
type Searcher interface {
	Search(ctx context.Context, q calls.Query) (calls.Result, error)
}

// Options configures a Watcher.
type Options struct {
	Interval    time.Duration
	Lookback    time.Duration
	TopicPrefix string
}

// Watcher polls Homer for recent calls and publishes each status change to
// <prefix>/call/<callid>/<status>.
type Watcher struct {
	search  Searcher
	pub     publisher.Publisher
	tracker *Tracker
	opts    Options
	logger  *zap.SugaredLogger
}

// New creates a Watcher. Calls are remembered for twice the lookback so a
// call is not reported again while it is still inside the polled window.
func New(search Searcher, pub publisher.Publisher, opts Options, logger *zap.SugaredLogger, trackerOpts ...Option) *Watcher {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 15 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Watcher{
		search:  search,
		pub:     pub,
		tracker: NewTrackerWithOptions(2*opts.Lookback, trackerOpts...),
		opts:    opts,
		logger:  logger,
	}
}

// Run polls immediately and then every interval until ctx is cancelled.
// Poll failures are logged and retried on the next tick.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	w.logger.Infow("watching calls", "interval", w.opts.Interval, "lookback", w.opts.Lookback, "prefix", w.opts.TopicPrefix)
	for {
		if err := w.Poll(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warnw("poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll runs one search and publishes the resulting changes. It returns the
// search error, or the first publish error after attempting every change.
func (w *Watcher) Poll(ctx context.Context) error {
	res, err := w.search.Search(ctx, calls.Query{Lookback: w.opts.Lookback})
	if err != nil {
		return fmt.Errorf("searching recent calls: %w", err)
	}

	var firstErr error
	for _, change := range w.tracker.Process(res.Calls) {
		if err := w.publish(ctx, change); err != nil {
			// Report it again next time round.
			w.tracker.Forget(change.Call.CallID)
			w.logger.Warnw("publish failed", "callid", change.Call.CallID, "status", change.Call.Status, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	metrics.WatchedCalls.Set(float64(w.tracker.ActiveCalls()))
	return firstErr
}

// Payload is the JSON structure published for a status change.
type Payload struct {
	Event         string   `json:"event"`
	Description   string   `json:"description"`
	Previous      string   `json:"previous,omitempty"`
	CallID        string   `json:"call_id"`
	FromUser      string   `json:"from_user"`
	ToUser        string   `json:"to_user"`
	SourceIP      string   `json:"source_ip"`
	DestinationIP string   `json:"destination_ip"`
	Methods       []string `json:"methods"`
	Duration      string   `json:"duration"`
	DurationMS    int64    `json:"duration_ms"`
	StartedAt     string   `json:"started_at,omitempty"`
	RecordID      int64    `json:"id"`
	Timestamp     string   `json:"timestamp"`
}

var statusDescriptions = map[correlator.Status]string{
	correlator.StatusTrying:    "An INVITE has been sent and no final answer seen yet",
	correlator.StatusAnswered:  "The call has been answered and parties are now connected",
	correlator.StatusCancelled: "The caller cancelled the call before it was answered",
	correlator.StatusFinished:  "The call was answered and has ended",
	correlator.StatusUnknown:   "The captured messages do not show a recognisable call",
}

// NewPayload renders a change for publishing.
func NewPayload(change Change) Payload {
	call := change.Call
	p := Payload{
		Event:         call.Status.Slug(),
		Description:   statusDescriptions[call.Status],
		Previous:      change.Previous.Slug(),
		CallID:        call.CallID,
		FromUser:      call.FromUser,
		ToUser:        call.ToUser,
		SourceIP:      call.SourceIP,
		DestinationIP: call.DestinationIP,
		Methods:       call.Methods,
		Duration:      call.Duration,
		DurationMS:    call.DurationMS,
		RecordID:      call.RepresentativeID,
		Timestamp:     change.Timestamp.UTC().Format(time.RFC3339),
	}
	if call.EarliestTimestamp > 0 {
		p.StartedAt = time.UnixMilli(call.EarliestTimestamp).UTC().Format(time.RFC3339Nano)
	}
	return p
}

func (w *Watcher) publish(ctx context.Context, change Change) error {
	topic := publisher.Topic(w.opts.TopicPrefix, "call", change.Call.CallID, change.Call.Status.Slug())
	w.logger.Infow("publishing status change",
		"topic", topic,
		"callid", change.Call.CallID,
		"previous", change.Previous,
		"status", change.Call.Status,
	)
	if err := publisher.PublishJSON(ctx, w.pub, topic, NewPayload(change)); err != nil {
		return err
	}
	metrics.StatusChangesPublishedTotal.WithLabelValues(change.Call.Status.Slug()).Inc()
	return nil
}
