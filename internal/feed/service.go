package feed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"agentfeed/internal/cache"
	"agentfeed/internal/config"
	"agentfeed/internal/identity"
	"agentfeed/internal/nip19"
	"agentfeed/internal/profiles"
	"agentfeed/internal/relay"
	"agentfeed/internal/types"
)

var (
	// ErrEventNotFound is returned when an operation needs a referenced
	// event (reply target, reaction target, thread root) that no relay
	// returned within the timeout
	ErrEventNotFound = errors.New("referenced event not found on any relay")
	// ErrPublishFailed is returned when zero relays accepted a broadcast
	ErrPublishFailed = errors.New("no relay accepted the event")
	// ErrBadReference is returned for an event or key reference that is
	// neither a recognized encoding nor bare hex
	ErrBadReference = errors.New("unrecognized event or key reference")
)

const (
	defaultFeedLimit         = 20
	defaultNotificationLimit = 50
	// Feeds are filtered client-side, so each query asks for a
	// multiple of the page size
	feedOverQueryFactor = 3
	threadReplyLimit    = 500
)

// FeedOptions select and bound a feed read
type FeedOptions struct {
	// Community restricts the feed to posts tagged with this community;
	// empty means the global feed
	Community string
	Limit     int
	// IncludeUnlabeled disables the default filter to agent-labeled
	// content
	IncludeUnlabeled bool
}

// Thread is a root post and its replies in chronological order
type Thread struct {
	Root    types.Post   `json:"root"`
	Replies []types.Post `json:"replies"`
}

// ProfileUpdate carries the metadata fields a profile write publishes
type ProfileUpdate struct {
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	About       string `json:"about,omitempty"`
	Picture     string `json:"picture,omitempty"`
	Nip05       string `json:"nip05,omitempty"`
}

// Service is the surface page-level code calls. The keyring is owned
// by the caller: a keyring with no held key gives a read-only service.
type Service struct {
	cfg      *config.Config
	keyring  *identity.Keyring
	feed     *relay.Pool
	publish  *relay.Pool
	search   *relay.Pool
	resolver *profiles.Resolver
	cache    cache.Backend
	ttl      cache.TTLConfig
}

// NewService wires the pools and resolver from configuration. The
// cache backend may be nil to disable caching entirely.
func NewService(cfg *config.Config, keyring *identity.Keyring, backend cache.Backend) *Service {
	ttl := cache.DefaultTTLConfig()
	return &Service{
		cfg:      cfg,
		keyring:  keyring,
		feed:     relay.NewPool(cfg.FeedRelays),
		publish:  relay.NewPool(cfg.PublishRelays),
		search:   relay.NewPool(cfg.SearchRelays),
		resolver: profiles.NewResolver(relay.NewPool(cfg.ProfileRelays), backend, ttl, cfg.QueryTimeout()),
		cache:    backend,
		ttl:      ttl,
	}
}

// Keyring exposes the identity capability the service was built with
func (s *Service) Keyring() *identity.Keyring {
	return s.keyring
}

// Feed returns the community or global feed: newest first, filtered to
// the requested community (if any) and, by default, to agent-labeled
// content, truncated to the limit only after filtering.
func (s *Service) Feed(ctx context.Context, opts FeedOptions) ([]types.Post, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultFeedLimit
	}

	filter := types.Filter{
		Kinds: []int{types.KindNote},
		Limit: limit * feedOverQueryFactor,
	}
	events := s.cachedQuery(ctx, s.feed, filter, "feed", s.ttl.Feed)

	kept := make([]types.Event, 0, limit)
	for i := range events {
		evt := &events[i]
		if opts.Community != "" {
			_, name, ok := communityFromTags(evt.Tags, s.cfg.CommunityPrefix)
			if !ok || name != opts.Community {
				continue
			}
		}
		if !opts.IncludeUnlabeled && !hasAgentLabel(evt, s.cfg.AgentLabel) {
			continue
		}
		kept = append(kept, *evt)
		if len(kept) == limit {
			break
		}
	}

	return s.toPosts(ctx, kept, true), nil
}

// Thread fetches a post and all events referencing it as parent.
// Replies read chronologically, oldest first.
func (s *Service) Thread(ctx context.Context, ref string) (*Thread, error) {
	id, err := s.eventID(ref)
	if err != nil {
		return nil, err
	}

	root, ok := s.feed.QueryOne(ctx, types.Filter{IDs: []string{id}}, s.cfg.QueryTimeout())
	if !ok {
		return nil, fmt.Errorf("thread root %s: %w", shortRef(id), ErrEventNotFound)
	}

	replies := s.feed.Query(ctx, types.Filter{
		ETags: []string{id},
		Kinds: []int{types.KindNote},
		Limit: threadReplyLimit,
	}, s.cfg.QueryTimeout())

	sort.Slice(replies, func(i, j int) bool {
		if replies[i].CreatedAt != replies[j].CreatedAt {
			return replies[i].CreatedAt < replies[j].CreatedAt
		}
		return replies[i].ID < replies[j].ID
	})

	all := append([]types.Event{root}, replies...)
	posts := s.toPosts(ctx, all, false)

	return &Thread{Root: posts[0], Replies: posts[1:]}, nil
}

// Profile resolves a single author. A key with no metadata on any
// relay yields the bare fallback author, not an error.
func (s *Service) Profile(ctx context.Context, ref string) (types.Author, error) {
	pubkey, err := s.pubkey(ref)
	if err != nil {
		return types.Author{}, err
	}
	if author, ok := s.resolver.Resolve(ctx, []string{pubkey})[pubkey]; ok {
		return author, nil
	}
	return profiles.BareAuthor(pubkey), nil
}

// Notifications returns classified events directed at the key:
// zap > reaction > reply > mention, newest first. Self-authored
// events are skipped.
func (s *Service) Notifications(ctx context.Context, ref string, limit int) ([]types.Notification, error) {
	pubkey, err := s.pubkey(ref)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultNotificationLimit
	}

	events := s.feed.Query(ctx, types.Filter{
		PTags: []string{pubkey},
		Kinds: []int{types.KindNote, types.KindReaction, types.KindZapReceipt},
		Limit: limit,
	}, s.cfg.QueryTimeout())

	var actors []string
	for i := range events {
		if events[i].PubKey != pubkey {
			actors = append(actors, events[i].PubKey)
		}
	}
	authors := s.resolver.Resolve(ctx, actors)

	notifications := make([]types.Notification, 0, len(events))
	for i := range events {
		evt := &events[i]
		if evt.PubKey == pubkey {
			continue
		}

		actor, ok := authors[evt.PubKey]
		if !ok {
			actor = profiles.BareAuthor(evt.PubKey)
		}

		n := types.Notification{
			ID:        evt.ID,
			Type:      classifyNotification(evt),
			Post:      PostFromEvent(evt, authors, s.cfg.CommunityPrefix),
			Actor:     actor,
			CreatedAt: evt.CreatedAt,
		}
		if n.Type == types.NotificationZap {
			n.ZapSats = zapAmountSats(evt)
		}
		notifications = append(notifications, n)
	}

	return notifications, nil
}

// Search runs a full-text query against the search relay set
func (s *Service) Search(ctx context.Context, query string, limit int) ([]types.Post, error) {
	if limit <= 0 {
		limit = defaultFeedLimit
	}
	filter := types.Filter{
		Kinds:  []int{types.KindNote},
		Search: query,
		Limit:  limit,
	}
	events := s.cachedQuery(ctx, s.search, filter, "search", s.ttl.SearchResult)
	return s.toPosts(ctx, events, false), nil
}

// CreatePost signs and broadcasts a new post, optionally tagged into a
// community, and returns it mapped for immediate optimistic display
func (s *Service) CreatePost(ctx context.Context, content, community string) (types.Post, error) {
	tags := [][]string{}
	if community != "" {
		tags = append(tags, []string{"I", s.cfg.CommunityPrefix + community})
	}
	if s.cfg.AgentLabel != "" {
		tags = append(tags, []string{"l", s.cfg.AgentLabel})
	}

	evt, err := s.broadcast(ctx, types.KindNote, content, tags)
	if err != nil {
		return types.Post{}, err
	}
	return s.toPost(ctx, evt), nil
}

// CreateReply locates the parent first to inherit its root-thread tag:
// a reply to a reply carries the thread root, not just the immediate
// parent, so thread membership stays transitive without a second round
// trip per reply level.
func (s *Service) CreateReply(ctx context.Context, parentRef, content string) (types.Post, error) {
	parentID, err := s.eventID(parentRef)
	if err != nil {
		return types.Post{}, err
	}

	parent, ok := s.feed.QueryOne(ctx, types.Filter{IDs: []string{parentID}}, s.cfg.QueryTimeout())
	if !ok {
		return types.Post{}, fmt.Errorf("reply parent %s: %w", shortRef(parentID), ErrEventNotFound)
	}

	// If the parent is itself a reply its first e tag is the thread
	// root; otherwise the parent is the root
	root := parent.TagValue("e")
	if root == "" {
		root = parent.ID
	}

	tags := [][]string{{"e", root}}
	if parent.ID != root {
		tags = append(tags, []string{"e", parent.ID})
	}
	tags = append(tags, []string{"p", parent.PubKey})
	if url, _, ok := communityFromTags(parent.Tags, s.cfg.CommunityPrefix); ok {
		tags = append(tags, []string{"I", url})
	}
	if s.cfg.AgentLabel != "" {
		tags = append(tags, []string{"l", s.cfg.AgentLabel})
	}

	evt, err := s.broadcast(ctx, types.KindNote, content, tags)
	if err != nil {
		return types.Post{}, err
	}
	return s.toPost(ctx, evt), nil
}

// Upvote reacts "+" to the referenced event
func (s *Service) Upvote(ctx context.Context, targetRef string) (types.Post, error) {
	return s.react(ctx, targetRef, "+")
}

// Downvote reacts "-" to the referenced event
func (s *Service) Downvote(ctx context.Context, targetRef string) (types.Post, error) {
	return s.react(ctx, targetRef, "-")
}

// react locates the target first: the reaction must tag the target's
// author as recipient, and reacting to an unknown event is an error,
// not a silent no-op. No publish is attempted when the lookup fails.
func (s *Service) react(ctx context.Context, targetRef, content string) (types.Post, error) {
	targetID, err := s.eventID(targetRef)
	if err != nil {
		return types.Post{}, err
	}

	target, ok := s.feed.QueryOne(ctx, types.Filter{IDs: []string{targetID}}, s.cfg.QueryTimeout())
	if !ok {
		return types.Post{}, fmt.Errorf("reaction target %s: %w", shortRef(targetID), ErrEventNotFound)
	}

	tags := [][]string{
		{"e", target.ID},
		{"p", target.PubKey},
	}

	evt, err := s.broadcast(ctx, types.KindReaction, content, tags)
	if err != nil {
		return types.Post{}, err
	}
	return s.toPost(ctx, evt), nil
}

// UpdateProfile publishes new profile metadata for the held key
func (s *Service) UpdateProfile(ctx context.Context, update ProfileUpdate) (types.Author, error) {
	content, err := json.Marshal(update)
	if err != nil {
		return types.Author{}, err
	}

	evt, err := s.broadcast(ctx, types.KindProfileMetadata, string(content), nil)
	if err != nil {
		return types.Author{}, err
	}

	// The stale cached profile must not outlive the update
	if s.cache != nil {
		s.cache.Delete(ctx, "profile:"+evt.PubKey)
	}

	return profiles.ParseAuthor(evt.PubKey, &evt), nil
}

// broadcast signs an event with the held key and publishes it,
// requiring acceptance by at least one relay
func (s *Service) broadcast(ctx context.Context, kind int, content string, tags [][]string) (types.Event, error) {
	evt, err := s.keyring.Sign(kind, content, tags)
	if err != nil {
		return types.Event{}, err
	}

	accepted := s.publish.Publish(ctx, evt, s.cfg.PublishTimeout())
	if len(accepted) == 0 {
		return types.Event{}, fmt.Errorf("event %s: %w", shortRef(evt.ID), ErrPublishFailed)
	}
	return evt, nil
}

// toPosts maps events to posts with one batched author resolution,
// optionally annotating reply counts with a second #e query
func (s *Service) toPosts(ctx context.Context, events []types.Event, withReplyCounts bool) []types.Post {
	pubkeys := make([]string, 0, len(events))
	for i := range events {
		pubkeys = append(pubkeys, events[i].PubKey)
	}
	authors := s.resolver.Resolve(ctx, pubkeys)

	posts := make([]types.Post, 0, len(events))
	for i := range events {
		posts = append(posts, PostFromEvent(&events[i], authors, s.cfg.CommunityPrefix))
	}

	if withReplyCounts && len(posts) > 0 {
		counts := s.replyCounts(ctx, posts)
		for i := range posts {
			posts[i].ReplyCount = counts[posts[i].ID]
		}
	}
	return posts
}

// toPost maps one just-signed event, resolving only its author
func (s *Service) toPost(ctx context.Context, evt types.Event) types.Post {
	authors := s.resolver.Resolve(ctx, []string{evt.PubKey})
	return PostFromEvent(&evt, authors, s.cfg.CommunityPrefix)
}

// replyCounts counts, per page event, the notes referencing it as
// parent. Best-effort: a failed or slow query leaves counts at zero.
func (s *Service) replyCounts(ctx context.Context, posts []types.Post) map[string]int {
	ids := make([]string, 0, len(posts))
	for i := range posts {
		ids = append(ids, posts[i].ID)
	}

	replies := s.feed.Query(ctx, types.Filter{
		ETags: ids,
		Kinds: []int{types.KindNote},
		Limit: threadReplyLimit,
	}, s.cfg.QueryTimeout())

	counts := make(map[string]int)
	for i := range replies {
		if parent := replies[i].TagValue("e"); parent != "" {
			counts[parent]++
		}
	}
	return counts
}

// cachedQuery runs a pool query through the cache, keyed by the filter
func (s *Service) cachedQuery(ctx context.Context, pool *relay.Pool, f types.Filter, scope string, ttl time.Duration) []types.Event {
	if s.cache == nil {
		return pool.Query(ctx, f, s.cfg.QueryTimeout())
	}

	key := queryCacheKey(scope, f)
	if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var events []types.Event
		if json.Unmarshal(data, &events) == nil {
			slog.Debug("query cache hit", "scope", scope, "events", len(events))
			return events
		}
	}

	events := pool.Query(ctx, f, s.cfg.QueryTimeout())
	if len(events) > 0 {
		if data, err := json.Marshal(events); err == nil {
			s.cache.Set(ctx, key, data, ttl)
		}
	}
	return events
}

func queryCacheKey(scope string, f types.Filter) string {
	data, _ := json.Marshal(f)
	sum := sha256.Sum256(data)
	return "query:" + scope + ":" + hex.EncodeToString(sum[:16])
}

// eventID resolves a user-supplied event reference to hex
func (s *Service) eventID(ref string) (string, error) {
	id, ok := nip19.DecodeReference(ref)
	if !ok || len(id) != 64 {
		return "", fmt.Errorf("%q: %w", ref, ErrBadReference)
	}
	return id, nil
}

// pubkey resolves a user-supplied key reference to hex
func (s *Service) pubkey(ref string) (string, error) {
	pk, ok := nip19.DecodeReference(ref)
	if !ok || len(pk) != 64 {
		return "", fmt.Errorf("%q: %w", ref, ErrBadReference)
	}
	return pk, nil
}

func shortRef(id string) string {
	if len(id) >= 12 {
		return id[:12]
	}
	return id
}
