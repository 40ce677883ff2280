// Package profiles resolves author metadata: batched kind-0 lookups
// over the relay pool with best-effort parsing and caching.
package profiles

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"agentfeed/internal/cache"
	"agentfeed/internal/nip19"
	"agentfeed/internal/relay"
	"agentfeed/internal/types"
)

// profileContent is the JSON profile record carried in a kind-0 event
type profileContent struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	About       string `json:"about"`
	Picture     string `json:"picture"`
	Nip05       string `json:"nip05"`
}

// BareAuthor builds the fallback author for a pubkey with no resolved
// metadata: just the key and its npub encoding, Resolved false
func BareAuthor(pubkey string) types.Author {
	npub, _ := nip19.EncodePubKey(pubkey)
	return types.Author{PubKey: pubkey, Npub: npub}
}

// ParseAuthor builds an author from a metadata event. Malformed or
// unknown content never fails: metadata is best-effort, and the result
// degrades to a bare author with Resolved false.
func ParseAuthor(pubkey string, metadataEvent *types.Event) types.Author {
	author := BareAuthor(pubkey)
	if metadataEvent == nil || metadataEvent.Kind != types.KindProfileMetadata {
		return author
	}

	var content profileContent
	if err := json.Unmarshal([]byte(metadataEvent.Content), &content); err != nil {
		return author
	}

	author.Resolved = true
	author.Name = content.Name
	author.DisplayName = content.DisplayName
	author.About = content.About
	author.Picture = content.Picture
	author.Nip05 = content.Nip05
	return author
}

// Resolver batches metadata lookups for sets of pubkeys into single
// relay queries
type Resolver struct {
	pool    *relay.Pool
	cache   cache.Backend
	ttl     cache.TTLConfig
	timeout time.Duration
}

// NewResolver creates a resolver over the given (profile) relay pool.
// The cache may be nil, in which case every call hits the relays.
func NewResolver(pool *relay.Pool, backend cache.Backend, ttl cache.TTLConfig, timeout time.Duration) *Resolver {
	return &Resolver{pool: pool, cache: backend, ttl: ttl, timeout: timeout}
}

// Resolve returns an author for each pubkey whose metadata could be
// found and parsed. Keys with no metadata event are absent from the
// map; callers supply their own fallback (BareAuthor) when displaying.
func (r *Resolver) Resolve(ctx context.Context, pubkeys []string) map[string]types.Author {
	unique := dedupe(pubkeys)
	if len(unique) == 0 {
		return nil
	}

	resolved := make(map[string]types.Author, len(unique))
	missing := unique

	if r.cache != nil {
		missing = make([]string, 0, len(unique))
		cached, err := r.cache.GetMultiple(ctx, cacheKeys(unique))
		if err != nil {
			slog.Warn("profile cache read failed", "error", err)
			cached = nil
		}
		for _, pk := range unique {
			if data, ok := cached[cacheKey(pk)]; ok {
				var author types.Author
				if json.Unmarshal(data, &author) == nil && author.Resolved {
					resolved[pk] = author
					continue
				}
			}
			missing = append(missing, pk)
		}
		if len(missing) == 0 {
			return resolved
		}
		slog.Debug("profile cache", "hits", len(resolved), "misses", len(missing))
	}

	// One query for the whole batch, capped at the key count: relays
	// return newest first, so the first event per pubkey is its latest
	events := r.pool.Query(ctx, types.Filter{
		Authors: missing,
		Kinds:   []int{types.KindProfileMetadata},
		Limit:   len(missing),
	}, r.timeout)

	fresh := make(map[string][]byte)
	for i := range events {
		evt := &events[i]
		if evt.Kind != types.KindProfileMetadata {
			continue
		}
		if _, ok := resolved[evt.PubKey]; ok {
			continue
		}
		author := ParseAuthor(evt.PubKey, evt)
		if !author.Resolved {
			continue
		}
		resolved[evt.PubKey] = author
		if data, err := json.Marshal(author); err == nil {
			fresh[cacheKey(evt.PubKey)] = data
		}
	}

	if r.cache != nil && len(fresh) > 0 {
		if err := r.cache.SetMultiple(ctx, fresh, r.ttl.Profile); err != nil {
			slog.Warn("profile cache write failed", "error", err)
		}
	}

	return resolved
}

func dedupe(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	var out []string
	for _, k := range keys {
		if k != "" && !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

func cacheKey(pubkey string) string {
	return "profile:" + pubkey
}

func cacheKeys(pubkeys []string) []string {
	keys := make([]string, len(pubkeys))
	for i, pk := range pubkeys {
		keys[i] = cacheKey(pk)
	}
	return keys
}
