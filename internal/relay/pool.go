// Package relay implements the query and publish engines: the same
// subscription fanned out to every configured relay in parallel, with
// per-event verification, dedupe and a single shared deadline.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/gorilla/websocket"

	"agentfeed/internal/types"
)

// DefaultQueryTimeout bounds a query call when the caller passes zero
const DefaultQueryTimeout = 1500 * time.Millisecond

// DefaultPublishTimeout bounds a publish call when the caller passes zero
const DefaultPublishTimeout = 3 * time.Second

// Pool fans requests out to a fixed set of relay endpoints. All relays
// are equally untrusted; every event is verified before it is accepted.
type Pool struct {
	relays []string
	dialer *websocket.Dialer
}

// NewPool creates a pool over the given relay websocket URLs
func NewPool(relays []string) *Pool {
	return &Pool{
		relays: relays,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Relays returns the configured endpoint list
func (p *Pool) Relays() []string {
	return p.relays
}

// Query issues the filter to every relay in parallel and returns the
// merged result: verified events only, deduplicated by id (first
// occurrence wins), sorted by created_at descending with id descending
// as tie-break.
//
// Partial relay failure degrades gracefully: a relay that is down,
// slow or returns garbage contributes whatever was collected before it
// failed, empty if nothing. The call itself never fails; an empty list
// means no relay answered in time.
func (p *Pool) Query(ctx context.Context, f types.Filter, timeout time.Duration) []types.Event {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// One goroutine per relay, each writing only its own accumulator.
	// The merge runs after all have resolved, so no lock is needed.
	results := make(chan []types.Event, len(p.relays))
	for _, url := range p.relays {
		go func(relayURL string) {
			results <- p.collectFromRelay(ctx, relayURL, f)
		}(url)
	}

	seen := make(map[string]bool)
	var merged []types.Event
	for range p.relays {
		for _, evt := range <-results {
			if !seen[evt.ID] {
				seen[evt.ID] = true
				merged = append(merged, evt)
			}
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].CreatedAt != merged[j].CreatedAt {
			return merged[i].CreatedAt > merged[j].CreatedAt
		}
		return merged[i].ID > merged[j].ID
	})

	slog.Debug("query merged", "relays", len(p.relays), "events", len(merged))
	return merged
}

// QueryOne returns the single newest event matching the filter, if any
func (p *Pool) QueryOne(ctx context.Context, f types.Filter, timeout time.Duration) (types.Event, bool) {
	if f.Limit == 0 {
		f.Limit = 1
	}
	events := p.Query(ctx, f, timeout)
	if len(events) == 0 {
		return types.Event{}, false
	}
	return events[0], true
}

// collectFromRelay runs one subscription against one relay and returns
// the verified events it delivered. Every exit path resolves with the
// partial result: EOSE, transport error, or the shared deadline.
func (p *Pool) collectFromRelay(ctx context.Context, relayURL string, f types.Filter) []types.Event {
	conn, _, err := p.dialer.DialContext(ctx, relayURL, nil)
	if err != nil {
		slog.Debug("relay dial failed", "relay", relayURL, "error", err)
		return nil
	}
	defer conn.Close()
	closeOnDone(ctx, conn)

	subID := newSubscriptionID()
	req := []interface{}{"REQ", subID, filterObject(f)}
	if err := conn.WriteJSON(req); err != nil {
		slog.Debug("relay REQ failed", "relay", relayURL, "error", err)
		return nil
	}

	var collected []types.Event
	for {
		var msg []json.RawMessage
		if err := conn.ReadJSON(&msg); err != nil {
			// Transport error or forced close at the deadline;
			// either way this connection resolves with what it has
			return collected
		}
		if len(msg) < 2 {
			continue
		}

		var msgType string
		if err := json.Unmarshal(msg[0], &msgType); err != nil {
			continue
		}

		switch msgType {
		case "EVENT":
			if len(msg) < 3 {
				continue
			}
			var gotSub string
			json.Unmarshal(msg[1], &gotSub)
			if gotSub != subID {
				continue
			}
			var evt types.Event
			if err := json.Unmarshal(msg[2], &evt); err != nil {
				continue
			}
			// Silently drop events that fail verification
			if !VerifyEvent(&evt) {
				slog.Debug("dropping unverifiable event", "relay", relayURL, "event_id", shortID(evt.ID))
				continue
			}
			collected = append(collected, evt)
		case "EOSE":
			var gotSub string
			json.Unmarshal(msg[1], &gotSub)
			if gotSub == subID {
				slog.Debug("relay EOSE", "relay", relayURL, "events", len(collected))
				return collected
			}
		}
	}
}

// Publish broadcasts one signed event to every relay in parallel and
// returns the relay URLs that acknowledged it with an accepting OK,
// matched by event id. A rejecting or timed-out relay contributes
// nothing. Acceptance by zero relays is the caller's error to raise.
func (p *Pool) Publish(ctx context.Context, evt types.Event, timeout time.Duration) []string {
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make(chan string, len(p.relays))
	for _, url := range p.relays {
		go func(relayURL string) {
			if p.publishToRelay(ctx, relayURL, evt) {
				results <- relayURL
			} else {
				results <- ""
			}
		}(url)
	}

	var accepted []string
	for range p.relays {
		if url := <-results; url != "" {
			accepted = append(accepted, url)
		}
	}

	slog.Info("publish complete", "event_id", shortID(evt.ID), "accepted", len(accepted), "relays", len(p.relays))
	return accepted
}

// publishToRelay sends the event to one relay and waits for its OK
func (p *Pool) publishToRelay(ctx context.Context, relayURL string, evt types.Event) bool {
	conn, _, err := p.dialer.DialContext(ctx, relayURL, nil)
	if err != nil {
		slog.Debug("relay dial failed", "relay", relayURL, "error", err)
		return false
	}
	defer conn.Close()
	closeOnDone(ctx, conn)

	if err := conn.WriteJSON([]interface{}{"EVENT", evt}); err != nil {
		return false
	}

	for {
		var msg []json.RawMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return false
		}
		if len(msg) < 3 {
			continue
		}

		var msgType string
		if err := json.Unmarshal(msg[0], &msgType); err != nil || msgType != "OK" {
			continue
		}

		var eventID string
		var success bool
		json.Unmarshal(msg[1], &eventID)
		json.Unmarshal(msg[2], &success)
		if eventID != evt.ID {
			continue
		}

		if !success {
			var message string
			if len(msg) >= 4 {
				json.Unmarshal(msg[3], &message)
			}
			slog.Debug("relay rejected event", "relay", relayURL, "event_id", shortID(evt.ID), "reason", message)
		}
		return success
	}
}

// closeOnDone force-closes the connection when the context expires so
// a blocked read unblocks. The goroutine exits with the context.
func closeOnDone(ctx context.Context, conn *websocket.Conn) {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
		conn.SetWriteDeadline(deadline)
	}
}

// shortID truncates an id to 12 chars for logging
func shortID(id string) string {
	if len(id) >= 12 {
		return id[:12]
	}
	return id
}
