package main

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sweeney/homer-callflow/internal/calls"
	"github.com/sweeney/homer-callflow/internal/capture"
	"github.com/sweeney/homer-callflow/internal/config"
	"github.com/sweeney/homer-callflow/internal/logging"
	"github.com/sweeney/homer-callflow/internal/publisher"
)

func fixturesDir() string {
	return filepath.Join("..", "..", "testdata", "fixtures")
}

// runPipeline feeds the search fixture through the call service and watch
// loop into a mock publisher until the first poll has been published.
func runPipeline(t *testing.T, prefix string) *publisher.MockPublisher {
	t.Helper()
	records, err := capture.LoadSearch(filepath.Join(fixturesDir(), "search.json"))
	if err != nil {
		t.Fatalf("loading fixture: %v", err)
	}

	b := new(calls.MockBackend)
	b.On("Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(records, time.Duration(0), nil)
	svc := calls.New(b, calls.Options{}, nil)

	cfg := config.Defaults()
	cfg.MQTT.TopicPrefix = prefix
	cfg.Watch.Interval = 5 * time.Millisecond

	pub := publisher.NewMockPublisher()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, mode{watch: true}, cfg, svc, pub, logging.Nop()) }()

	deadline := time.After(2 * time.Second)
	for len(pub.Messages()) < 3 {
		select {
		case <-deadline:
			cancel()
			t.Fatalf("expected 3 messages, got %d", len(pub.Messages()))
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("serve returned %v", err)
	}
	return pub
}

func parsePayload(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	return m
}

func TestIntegrationWatchPublishesSearchFixture(t *testing.T) {
	pub := runPipeline(t, "sip")
	msgs := pub.Messages()

	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages across polls, got %d", len(msgs))
	}

	assertTopicSuffix(t, msgs[0].Topic, "/trying")
	assertTopicSuffix(t, msgs[1].Topic, "/finished")
	assertTopicSuffix(t, msgs[2].Topic, "/cancelled")

	for _, m := range msgs {
		if !strings.HasPrefix(m.Topic, "sip/call/") {
			t.Errorf("expected sip/call/ prefix, got %s", m.Topic)
		}
	}

	cancelled := parsePayload(t, msgs[2].Payload)
	assertPayloadField(t, cancelled, "event", "cancelled")
	assertPayloadField(t, cancelled, "description", "The caller cancelled the call before it was answered")
	assertPayloadField(t, cancelled, "call_id", extractCallID(t, msgs[2].Topic))
	assertPayloadField(t, cancelled, "from_user", "carol")
	assertPayloadHasKey(t, cancelled, "timestamp")
	assertPayloadHasKey(t, cancelled, "duration_ms")
}

func TestPayloadCommonShape(t *testing.T) {
	pub := runPipeline(t, "homer")
	for _, m := range pub.Messages() {
		p := parsePayload(t, m.Payload)
		for _, key := range []string{"event", "description", "call_id", "from_user", "to_user", "methods", "duration", "id", "timestamp"} {
			assertPayloadHasKey(t, p, key)
		}
	}
}

func TestParseMode(t *testing.T) {
	cases := []struct {
		args    []string
		want    mode
		wantErr bool
	}{
		{[]string{"serve"}, mode{serve: true}, false},
		{[]string{"watch"}, mode{watch: true}, false},
		{[]string{"run"}, mode{serve: true, watch: true}, false},
		{nil, mode{}, true},
		{[]string{"serve", "watch"}, mode{}, true},
		{[]string{"bridge"}, mode{}, true},
	}
	for _, tc := range cases {
		got, err := parseMode(tc.args)
		if (err != nil) != tc.wantErr {
			t.Errorf("parseMode(%v) error = %v, wantErr %v", tc.args, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("parseMode(%v) = %+v, want %+v", tc.args, got, tc.want)
		}
	}
}

func assertTopicSuffix(t *testing.T, topic, suffix string) {
	t.Helper()
	if !strings.HasSuffix(topic, suffix) {
		t.Errorf("expected topic ending in %s, got %s", suffix, topic)
	}
}

func assertPayloadField(t *testing.T, p map[string]any, key string, expected string) {
	t.Helper()
	v, ok := p[key].(string)
	if !ok || v != expected {
		t.Errorf("expected %s=%q, got %v", key, expected, p[key])
	}
}

func assertPayloadHasKey(t *testing.T, p map[string]any, key string) {
	t.Helper()
	if _, ok := p[key]; !ok {
		t.Errorf("expected key %q in payload", key)
	}
}

// extractCallID returns the call id segment of <prefix>/call/<id>/<status>.
func extractCallID(t *testing.T, topic string) string {
	t.Helper()
	parts := strings.Split(topic, "/")
	if len(parts) != 4 {
		t.Fatalf("unexpected topic shape %s", topic)
	}
	return parts[2]
}
