package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	natspkg "github.com/brojonat/osmosync/service/nats"
)

// ErrStreamClosed is returned when the server ends the event stream.
var ErrStreamClosed = errors.New("event stream closed")

// Stream subscribes to new operations of address, or of every account when
// address is empty, and calls fn for each one until ctx is done, the stream
// ends, or fn returns an error.
func (c *Client) Stream(ctx context.Context, address string, fn func(*natspkg.OperationEvent) error) error {
	path := "/api/v1/stream/operations"
	if address != "" {
		path += "/" + url.PathEscape(address)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream is long-lived; the client timeout must not cut it.
	httpClient := *c.httpClient
	httpClient.Timeout = 0

	resp, err := httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	var event string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			event = ""
		case strings.HasPrefix(line, ":"):
			// keepalive
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if event != "" && event != "operation" {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			var op natspkg.OperationEvent
			if err := json.Unmarshal([]byte(data), &op); err != nil {
				c.logger.Warn("failed to decode operation event", "error", err)
				continue
			}
			if err := fn(&op); err != nil {
				return err
			}
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read failed: %w", err)
	}
	return ErrStreamClosed
}

var errMatched = errors.New("matched")

// Await blocks until an operation of address satisfies match, and returns it.
// Only operations published after the subscription starts are seen.
func (c *Client) Await(ctx context.Context, address string, match func(*natspkg.OperationEvent) bool) (*natspkg.OperationEvent, error) {
	var found *natspkg.OperationEvent
	err := c.Stream(ctx, address, func(op *natspkg.OperationEvent) error {
		if match(op) {
			found = op
			return errMatched
		}
		c.logger.Debug("operation did not match", "id", op.ID)
		return nil
	})
	if errors.Is(err, errMatched) {
		return found, nil
	}
	return nil, err
}
