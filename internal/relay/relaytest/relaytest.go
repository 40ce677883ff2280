// Package relaytest runs an in-process relay speaking the wire subset
// the client uses (REQ/EVENT/EOSE/OK), for tests that need real
// websocket round trips without a network.
package relaytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"agentfeed/internal/types"
)

// Options configure a stub relay's behavior
type Options struct {
	// Stall makes the relay accept connections but never answer,
	// simulating a relay that hangs past the client timeout
	Stall bool
	// NoEOSE delivers stored events but never signals end-of-stored-
	// events, so the client only resolves at its deadline
	NoEOSE bool
	// RejectPublish answers every EVENT with a rejecting OK
	RejectPublish bool
	// DropPublish never answers EVENT at all
	DropPublish bool
}

// Relay is an in-process stub relay backed by a fixed event store.
type Relay struct {
	server *httptest.Server
	opts   Options

	mu        sync.Mutex
	stored    []types.Event
	published []types.Event
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// New starts a stub relay seeded with the given events. Callers must
// Close it.
func New(opts Options, seed ...types.Event) *Relay {
	r := &Relay{opts: opts, stored: seed}
	r.server = httptest.NewServer(http.HandlerFunc(r.handle))
	return r
}

// URL returns the ws:// endpoint of the relay
func (r *Relay) URL() string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http")
}

// Close shuts the relay down
func (r *Relay) Close() {
	r.server.Close()
}

// Store adds events to the relay's store
func (r *Relay) Store(events ...types.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stored = append(r.stored, events...)
}

// Published returns the events the relay received via EVENT messages
func (r *Relay) Published() []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Event(nil), r.published...)
}

func (r *Relay) handle(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var msg []json.RawMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if r.opts.Stall || len(msg) < 2 {
			continue
		}

		var msgType string
		json.Unmarshal(msg[0], &msgType)

		switch msgType {
		case "REQ":
			if len(msg) < 3 {
				continue
			}
			var subID string
			json.Unmarshal(msg[1], &subID)
			var f wireFilter
			json.Unmarshal(msg[2], &f)

			r.mu.Lock()
			matched := matchEvents(r.stored, f)
			r.mu.Unlock()

			for _, evt := range matched {
				conn.WriteJSON([]interface{}{"EVENT", subID, evt})
			}
			if !r.opts.NoEOSE {
				conn.WriteJSON([]interface{}{"EOSE", subID})
			}
		case "EVENT":
			var evt types.Event
			if json.Unmarshal(msg[1], &evt) != nil {
				continue
			}

			r.mu.Lock()
			r.published = append(r.published, evt)
			accept := !r.opts.RejectPublish
			if accept {
				r.stored = append(r.stored, evt)
			}
			r.mu.Unlock()

			if r.opts.DropPublish {
				continue
			}
			reason := ""
			if !accept {
				reason = "blocked: rejected by policy"
			}
			conn.WriteJSON([]interface{}{"OK", evt.ID, accept, reason})
		}
	}
}

// wireFilter is the subset of filter fields the stub matches on
type wireFilter struct {
	IDs     []string `json:"ids"`
	Authors []string `json:"authors"`
	Kinds   []int    `json:"kinds"`
	ETags   []string `json:"#e"`
	PTags   []string `json:"#p"`
	Limit   int      `json:"limit"`
	Search  string   `json:"search"`
}

// matchEvents answers a filter the way real relays do: newest events
// first, limit applied after ordering
func matchEvents(stored []types.Event, f wireFilter) []types.Event {
	var out []types.Event
	for _, evt := range stored {
		if matches(evt, f) {
			out = append(out, evt)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID > out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func matches(evt types.Event, f wireFilter) bool {
	if len(f.IDs) > 0 && !contains(f.IDs, evt.ID) {
		return false
	}
	if len(f.Authors) > 0 && !contains(f.Authors, evt.PubKey) {
		return false
	}
	if len(f.Kinds) > 0 && !containsInt(f.Kinds, evt.Kind) {
		return false
	}
	if len(f.ETags) > 0 && !tagged(evt, "e", f.ETags) {
		return false
	}
	if len(f.PTags) > 0 && !tagged(evt, "p", f.PTags) {
		return false
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(evt.Content), strings.ToLower(f.Search)) {
		return false
	}
	return true
}

func tagged(evt types.Event, name string, values []string) bool {
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == name && contains(values, tag[1]) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsInt(list []int, v int) bool {
	for _, n := range list {
		if n == v {
			return true
		}
	}
	return false
}
