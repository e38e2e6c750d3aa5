package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/obs"
)

// LogSink writes entries as JSON lines on the shared structured logger.
// Suitable for development and as a tee alongside a durable sink.
type LogSink struct{}

func (LogSink) Append(ctx context.Context, entry *Entry) error {
	payload := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"entry": entry,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}

// MultiSink fans an entry out to several sinks; the first error wins so a
// failing durable sink still fails closed even when a log tee succeeded.
type MultiSink []Sink

func (m MultiSink) Append(ctx context.Context, entry *Entry) error {
	var first error
	for _, s := range m {
		if err := s.Append(ctx, entry); err != nil && first == nil {
			first = err
		}
	}
	return first
}
