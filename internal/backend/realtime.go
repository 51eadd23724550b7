package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// RealtimeEvent is one server-sent event from a realtime feed.
type RealtimeEvent struct {
	Type string
	Data json.RawMessage
}

// SubscribeNotifications opens the caller's live notification feed. The
// channel is closed when ctx is cancelled or the server ends the stream.
func (c *Client) SubscribeNotifications(ctx context.Context) (<-chan RealtimeEvent, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrNoSession
	}

	query := url.Values{"access_token": {token}}
	req, err := c.newRequest(ctx, http.MethodGet, "/api/realtime/notifications", query, nil, "")
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open notification feed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("open notification feed: %w", readAPIError(resp))
	}

	events := make(chan RealtimeEvent)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		err := readEventStream(resp.Body, func(event RealtimeEvent) bool {
			select {
			case events <- event:
				return true
			case <-ctx.Done():
				return false
			}
		})
		if err != nil && ctx.Err() == nil {
			c.logger.Warn("notification feed closed", "error", err)
		}
	}()
	return events, nil
}

// readEventStream parses a text/event-stream body, calling emit for every
// complete event until emit returns false or the stream ends.
func readEventStream(r io.Reader, emit func(RealtimeEvent) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)

	var (
		eventType string
		data      []string
	)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				if eventType == "" {
					eventType = "message"
				}
				if !emit(RealtimeEvent{Type: eventType, Data: json.RawMessage(strings.Join(data, "\n"))}) {
					return nil
				}
			}
			eventType, data = "", nil
		case strings.HasPrefix(line, ":"):
			// comment or heartbeat
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return scanner.Err()
}
