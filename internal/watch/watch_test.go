package watch_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/homer-callflow/internal/calls"
	"github.com/sweeney/homer-callflow/internal/capture"
	"github.com/sweeney/homer-callflow/internal/correlator"
	"github.com/sweeney/homer-callflow/internal/publisher"
	"github.com/sweeney/homer-callflow/internal/watch"
)

func fixturesDir() string {
	return filepath.Join("..", "..", "testdata", "fixtures")
}

func loadSearch(t *testing.T) []capture.Record {
	t.Helper()
	records, err := capture.LoadSearch(filepath.Join(fixturesDir(), "search.json"))
	if err != nil {
		t.Fatalf("loading fixture: %v", err)
	}
	return records
}

// fakeSearcher returns the configured records, grouped, on every poll.
type fakeSearcher struct {
	mu       sync.Mutex
	records  []capture.Record
	err      error
	lookback time.Duration
	polls    int
}

func (f *fakeSearcher) Search(_ context.Context, q calls.Query) (calls.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	f.lookback = q.Lookback
	if f.err != nil {
		return calls.Result{}, f.err
	}
	return calls.Result{Calls: correlator.Group(f.records)}, nil
}

func (f *fakeSearcher) set(records []capture.Record, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = records
	f.err = err
}

func (f *fakeSearcher) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func parsePayload(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	return m
}

func assertPayloadField(t *testing.T, m map[string]any, key, want string) {
	t.Helper()
	if got, ok := m[key].(string); !ok || got != want {
		t.Errorf("expected %s=%q, got %v", key, want, m[key])
	}
}

func newWatcher(s watch.Searcher, pub publisher.Publisher) *watch.Watcher {
	return watch.New(s, pub, watch.Options{
		Interval:    10 * time.Millisecond,
		Lookback:    15 * time.Minute,
		TopicPrefix: "homer",
	}, nil)
}

func TestPollPublishesEachCallOnce(t *testing.T) {
	s := &fakeSearcher{records: loadSearch(t)}
	mock := publisher.NewMockPublisher()
	w := newWatcher(s, mock)

	if err := w.Poll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.lookback != 15*time.Minute {
		t.Errorf("expected lookback 15m, got %v", s.lookback)
	}

	msgs := mock.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}

	// Newest first, as grouped
	wantTopics := []string{
		"homer/call/trying-only-77@10.0.0.40/trying",
		"homer/call/a84b4c76e66710@pc33.example.com/finished",
		"homer/call/3848276298220188511@10.0.0.30/cancelled",
	}
	for i, want := range wantTopics {
		if msgs[i].Topic != want {
			t.Errorf("message %d: expected topic %s, got %s", i, want, msgs[i].Topic)
		}
	}

	finished := parsePayload(t, msgs[1].Payload)
	assertPayloadField(t, finished, "event", "finished")
	assertPayloadField(t, finished, "description", "The call was answered and has ended")
	assertPayloadField(t, finished, "call_id", "a84b4c76e66710@pc33.example.com")
	assertPayloadField(t, finished, "from_user", "alice")
	assertPayloadField(t, finished, "duration", "9s")
	assertPayloadField(t, finished, "started_at", "2025-10-09T08:53:20Z")
	if _, ok := finished["previous"]; ok {
		t.Error("expected no previous status on first sighting")
	}
	if finished["id"].(float64) != 101 {
		t.Errorf("expected id=101, got %v", finished["id"])
	}

	// A second poll with nothing new publishes nothing
	mock.Reset()
	if err := w.Poll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := len(mock.Messages()); n != 0 {
		t.Errorf("expected no messages on unchanged poll, got %d", n)
	}
}

func TestPollPublishesTransition(t *testing.T) {
	records := loadSearch(t)
	s := &fakeSearcher{records: records}
	mock := publisher.NewMockPublisher()
	w := newWatcher(s, mock)

	if err := w.Poll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mock.Reset()

	answered := append(append([]capture.Record(nil), records...), capture.Record{
		ID:          302,
		CallID:      "trying-only-77@10.0.0.40",
		Method:      "200",
		PayloadType: capture.PayloadSIP,
		Timestamp:   1760000033000,
	})
	s.set(answered, nil)

	if err := w.Poll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msgs := mock.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Topic != "homer/call/trying-only-77@10.0.0.40/answered" {
		t.Errorf("unexpected topic %s", msgs[0].Topic)
	}
	p := parsePayload(t, msgs[0].Payload)
	assertPayloadField(t, p, "event", "answered")
	assertPayloadField(t, p, "previous", "trying")
}

func TestPollSearchError(t *testing.T) {
	s := &fakeSearcher{err: errors.New("homer search returned HTTP 503: unavailable")}
	mock := publisher.NewMockPublisher()
	w := newWatcher(s, mock)

	err := w.Poll(context.Background())
	if err == nil || !strings.Contains(err.Error(), "HTTP 503") {
		t.Fatalf("expected search error, got %v", err)
	}
	if len(mock.Messages()) != 0 {
		t.Error("expected nothing published")
	}
}

func TestPollRetriesFailedPublish(t *testing.T) {
	s := &fakeSearcher{records: loadSearch(t)}
	mock := publisher.NewMockPublisher()
	w := newWatcher(s, mock)

	brokerDown := errors.New("broker down")
	mock.SetError(brokerDown)
	if err := w.Poll(context.Background()); !errors.Is(err, brokerDown) {
		t.Fatalf("expected %v, got %v", brokerDown, err)
	}

	mock.SetError(nil)
	if err := w.Poll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := len(mock.Messages()); n != 3 {
		t.Errorf("expected all 3 calls published after recovery, got %d", n)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := &fakeSearcher{records: loadSearch(t)}
	mock := publisher.NewMockPublisher()
	w := newWatcher(s, mock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for s.pollCount() < 2 {
		select {
		case <-deadline:
			t.Fatal("expected at least two polls")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil error on cancel, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if n := len(mock.Messages()); n != 3 {
		t.Errorf("expected 3 messages across polls, got %d", n)
	}
}
