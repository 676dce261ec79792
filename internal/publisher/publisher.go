package publisher

import (
	"context"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

// Publisher delivers payloads to broker topics.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// PublishJSON encodes v as JSON and publishes it to topic.
func PublishJSON(ctx context.Context, p Publisher, topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling payload for %s: %w", topic, err)
	}
	return p.Publish(ctx, topic, data)
}

var segmentReplacer = strings.NewReplacer("/", "_", "+", "_", "#", "_")

// Topic joins prefix and segments with "/". Segments are made safe for MQTT:
// separators and wildcards inside a segment (SIP call ids may carry them)
// become "_".
func Topic(prefix string, segments ...string) string {
	parts := make([]string, 0, len(segments)+1)
	parts = append(parts, strings.TrimRight(prefix, "/"))
	for _, s := range segments {
		if s == "" {
			s = "_"
		}
		parts = append(parts, segmentReplacer.Replace(s))
	}
	return strings.Join(parts, "/")
}
