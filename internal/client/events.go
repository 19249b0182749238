package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zjrosen/repoloop/internal/log"
)

// EventConnected is the synthetic first frame of every stream.
const EventConnected = "connected"

// Event is one frame of the server's event stream. Payload is left raw so
// callers decode only the types they care about.
type Event struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Events opens the server's event stream. The returned channel closes when
// ctx ends or the server closes the stream.
func (c *Client) Events(ctx context.Context) (<-chan Event, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/events", nil)
	if err != nil {
		return nil, err
	}
	if err := checkResponse(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected content type %q for event stream", ct)
	}

	out := make(chan Event, 64)
	go func() {
		defer close(out)
		readEvents(ctx, resp.Body, out)
	}()
	return out, nil
}

// readEvents parses server-sent event frames from body until it ends.
func readEvents(ctx context.Context, body io.ReadCloser, out chan<- Event) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), 4<<20)

	var eventType string
	var data bytes.Buffer

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if eventType == "" && data.Len() == 0 {
				continue
			}
			ev, ok := parseFrame(eventType, bytes.TrimSuffix(data.Bytes(), []byte("\n")))
			eventType = ""
			data.Reset()
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		case strings.HasPrefix(line, ":"):
			// heartbeat
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			data.WriteByte('\n')
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		log.Warn(log.CatHTTP, "event stream read error", "error", err)
	}
}

func parseFrame(eventType string, data []byte) (Event, bool) {
	if eventType == EventConnected {
		return Event{Type: EventConnected}, true
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Warn(log.CatHTTP, "malformed event frame", "event", eventType, "error", err)
		return Event{}, false
	}
	if ev.Type == "" {
		ev.Type = eventType
	}
	return ev, true
}
