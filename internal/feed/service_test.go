package feed

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"agentfeed/internal/config"
	"agentfeed/internal/identity"
	"agentfeed/internal/relay/relaytest"
	"agentfeed/internal/types"
)

const (
	skAlice = "0000000000000000000000000000000000000000000000000000000000000001"
	skBob   = "0000000000000000000000000000000000000000000000000000000000000002"
)

func testConfig(relayURL string) *config.Config {
	return &config.Config{
		FeedRelays:       []string{relayURL},
		ProfileRelays:    []string{relayURL},
		PublishRelays:    []string{relayURL},
		SearchRelays:     []string{relayURL},
		CommunityPrefix:  communityPrefix,
		AgentLabel:       "agent",
		QueryTimeoutMs:   1000,
		PublishTimeoutMs: 1000,
	}
}

func testService(t *testing.T, r *relaytest.Relay) *Service {
	t.Helper()
	k := identity.New()
	if _, err := k.Generate(); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return NewService(testConfig(r.URL()), k, nil)
}

func signerFor(t *testing.T, secret string) *identity.Keyring {
	t.Helper()
	k := identity.New()
	if _, err := k.Import(secret); err != nil {
		t.Fatalf("Import: %v", err)
	}
	return k
}

func signedNote(t *testing.T, k *identity.Keyring, createdAt int64, content string, tags [][]string) types.Event {
	t.Helper()
	evt, err := k.SignEvent(types.Event{
		CreatedAt: createdAt,
		Kind:      types.KindNote,
		Content:   content,
		Tags:      tags,
	})
	if err != nil {
		t.Fatalf("SignEvent: %v", err)
	}
	return evt
}

func agentTags(extra ...[]string) [][]string {
	return append(extra, []string{"l", "agent"})
}

func TestFeedFiltersCommunityAndLabel(t *testing.T) {
	alice := signerFor(t, skAlice)
	inAlpha := signedNote(t, alice, 1700000400, "labeled in alpha",
		agentTags([]string{"I", communityPrefix + "alpha"}))
	unlabeled := signedNote(t, alice, 1700000300, "unlabeled in alpha",
		[][]string{{"I", communityPrefix + "alpha"}})
	inBeta := signedNote(t, alice, 1700000200, "labeled in beta",
		agentTags([]string{"I", communityPrefix + "beta"}))
	global := signedNote(t, alice, 1700000100, "labeled, no community", agentTags())

	r := relaytest.New(relaytest.Options{}, inAlpha, unlabeled, inBeta, global)
	defer r.Close()
	svc := testService(t, r)
	ctx := context.Background()

	posts, err := svc.Feed(ctx, FeedOptions{Community: "alpha"})
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(posts) != 1 || posts[0].Content != "labeled in alpha" {
		t.Fatalf("community feed wrong: %+v", posts)
	}
	if posts[0].Community != "alpha" {
		t.Errorf("community name = %q, want alpha", posts[0].Community)
	}

	posts, err = svc.Feed(ctx, FeedOptions{})
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(posts) != 3 {
		t.Fatalf("global feed should drop the unlabeled post, got %d posts", len(posts))
	}
	for _, p := range posts {
		if p.Content == "unlabeled in alpha" {
			t.Error("unlabeled post leaked into the default feed")
		}
	}

	posts, err = svc.Feed(ctx, FeedOptions{IncludeUnlabeled: true})
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(posts) != 4 {
		t.Fatalf("unfiltered feed should carry all posts, got %d", len(posts))
	}
}

func TestFeedTruncatesAfterFiltering(t *testing.T) {
	alice := signerFor(t, skAlice)
	var seed []types.Event
	// Interleave labeled and unlabeled posts so a pre-filter truncation
	// would starve the page
	for i := 0; i < 4; i++ {
		seed = append(seed,
			signedNote(t, alice, 1700000000+int64(i*20), "labeled", agentTags()),
			signedNote(t, alice, 1700000010+int64(i*20), "unlabeled", nil),
		)
	}

	r := relaytest.New(relaytest.Options{}, seed...)
	defer r.Close()
	svc := testService(t, r)

	posts, err := svc.Feed(context.Background(), FeedOptions{Limit: 3})
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(posts) != 3 {
		t.Fatalf("got %d posts, want 3", len(posts))
	}
	for i, p := range posts {
		if p.Content != "labeled" {
			t.Errorf("post %d is %q, want a labeled post", i, p.Content)
		}
	}
	// Newest first across the page boundary
	if posts[0].CreatedAt < posts[1].CreatedAt || posts[1].CreatedAt < posts[2].CreatedAt {
		t.Errorf("feed not newest-first: %d %d %d",
			posts[0].CreatedAt, posts[1].CreatedAt, posts[2].CreatedAt)
	}
}

func TestThreadRepliesChronological(t *testing.T) {
	alice := signerFor(t, skAlice)
	bob := signerFor(t, skBob)

	root := signedNote(t, alice, 1700000000, "thread root", agentTags())
	late := signedNote(t, bob, 1700000300, "second reply",
		[][]string{{"e", root.ID}, {"p", root.PubKey}})
	early := signedNote(t, bob, 1700000100, "first reply",
		[][]string{{"e", root.ID}, {"p", root.PubKey}})

	r := relaytest.New(relaytest.Options{}, late, root, early)
	defer r.Close()
	svc := testService(t, r)

	thread, err := svc.Thread(context.Background(), root.ID)
	if err != nil {
		t.Fatalf("Thread: %v", err)
	}
	if thread.Root.ID != root.ID {
		t.Fatalf("wrong root: %s", thread.Root.ID)
	}
	if len(thread.Replies) != 2 {
		t.Fatalf("got %d replies, want 2", len(thread.Replies))
	}
	if thread.Replies[0].Content != "first reply" || thread.Replies[1].Content != "second reply" {
		t.Errorf("replies not oldest-first: %q then %q",
			thread.Replies[0].Content, thread.Replies[1].Content)
	}
}

func TestThreadRootNotFound(t *testing.T) {
	r := relaytest.New(relaytest.Options{})
	defer r.Close()
	svc := testService(t, r)

	missing := "00000000000000000000000000000000000000000000000000000000000000aa"
	_, err := svc.Thread(context.Background(), missing)
	if !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("err = %v, want ErrEventNotFound", err)
	}
}

func TestBadReferenceRejected(t *testing.T) {
	r := relaytest.New(relaytest.Options{})
	defer r.Close()
	svc := testService(t, r)
	ctx := context.Background()

	if _, err := svc.Thread(ctx, "not-a-reference"); !errors.Is(err, ErrBadReference) {
		t.Errorf("Thread: err = %v, want ErrBadReference", err)
	}
	if _, err := svc.Profile(ctx, "abc123"); !errors.Is(err, ErrBadReference) {
		t.Errorf("Profile: err = %v, want ErrBadReference", err)
	}
	if _, err := svc.Upvote(ctx, ""); !errors.Is(err, ErrBadReference) {
		t.Errorf("Upvote: err = %v, want ErrBadReference", err)
	}
	// No reference ever reached a relay
	if got := len(r.Published()); got != 0 {
		t.Errorf("bad references must not publish, got %d events", got)
	}
}

func TestCreateReplyToRoot(t *testing.T) {
	alice := signerFor(t, skAlice)
	root := signedNote(t, alice, 1700000000, "root post",
		agentTags([]string{"I", communityPrefix + "alpha"}))

	r := relaytest.New(relaytest.Options{}, root)
	defer r.Close()
	svc := testService(t, r)

	post, err := svc.CreateReply(context.Background(), root.ID, "direct reply")
	if err != nil {
		t.Fatalf("CreateReply: %v", err)
	}
	if !post.IsReply || post.ParentID != root.ID {
		t.Errorf("reply post not linked to root: %+v", post)
	}

	published := r.Published()
	if len(published) != 1 {
		t.Fatalf("got %d published events, want 1", len(published))
	}
	evt := published[0]

	var eTags [][]string
	for _, tag := range evt.Tags {
		if tag[0] == "e" {
			eTags = append(eTags, tag)
		}
	}
	if len(eTags) != 1 || eTags[0][1] != root.ID {
		t.Errorf("direct reply should carry exactly one e tag for the root, got %v", eTags)
	}
	if evt.TagValue("p") != root.PubKey {
		t.Errorf("reply must tag the parent author, got %q", evt.TagValue("p"))
	}
	if evt.TagValue("I") != communityPrefix+"alpha" {
		t.Errorf("reply must inherit the community tag, got %q", evt.TagValue("I"))
	}
	if evt.TagValue("l") != "agent" {
		t.Errorf("reply must carry the agent label, got %q", evt.TagValue("l"))
	}
}

func TestCreateReplyToReplyCarriesThreadRoot(t *testing.T) {
	alice := signerFor(t, skAlice)
	bob := signerFor(t, skBob)

	root := signedNote(t, alice, 1700000000, "thread root", agentTags())
	midReply := signedNote(t, bob, 1700000100, "first-level reply",
		[][]string{{"e", root.ID}, {"p", root.PubKey}})

	r := relaytest.New(relaytest.Options{}, root, midReply)
	defer r.Close()
	svc := testService(t, r)

	if _, err := svc.CreateReply(context.Background(), midReply.ID, "second-level reply"); err != nil {
		t.Fatalf("CreateReply: %v", err)
	}

	published := r.Published()
	if len(published) != 1 {
		t.Fatalf("got %d published events, want 1", len(published))
	}
	evt := published[0]

	// The new reply belongs to the whole thread: its first e tag is the
	// thread root, the second its immediate parent
	var eTags []string
	for _, tag := range evt.Tags {
		if tag[0] == "e" {
			eTags = append(eTags, tag[1])
		}
	}
	if len(eTags) != 2 {
		t.Fatalf("got e tags %v, want root and parent", eTags)
	}
	if eTags[0] != root.ID {
		t.Errorf("first e tag = %s, want thread root %s", eTags[0], root.ID)
	}
	if eTags[1] != midReply.ID {
		t.Errorf("second e tag = %s, want parent %s", eTags[1], midReply.ID)
	}
	if evt.TagValue("p") != midReply.PubKey {
		t.Errorf("p tag = %q, want parent author %s", evt.TagValue("p"), midReply.PubKey)
	}
}

func TestReactUnknownTargetDoesNotPublish(t *testing.T) {
	r := relaytest.New(relaytest.Options{})
	defer r.Close()
	svc := testService(t, r)

	missing := "00000000000000000000000000000000000000000000000000000000000000bb"
	_, err := svc.Upvote(context.Background(), missing)
	if !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("err = %v, want ErrEventNotFound", err)
	}
	if got := len(r.Published()); got != 0 {
		t.Fatalf("reaction to unknown target published %d events, want 0", got)
	}
}

func TestVotesTagTargetAndAuthor(t *testing.T) {
	alice := signerFor(t, skAlice)
	target := signedNote(t, alice, 1700000000, "vote on me", agentTags())

	r := relaytest.New(relaytest.Options{}, target)
	defer r.Close()
	svc := testService(t, r)
	ctx := context.Background()

	if _, err := svc.Upvote(ctx, target.ID); err != nil {
		t.Fatalf("Upvote: %v", err)
	}
	if _, err := svc.Downvote(ctx, target.ID); err != nil {
		t.Fatalf("Downvote: %v", err)
	}

	published := r.Published()
	if len(published) != 2 {
		t.Fatalf("got %d published events, want 2", len(published))
	}
	wantContent := []string{"+", "-"}
	for i, evt := range published {
		if evt.Kind != types.KindReaction {
			t.Errorf("event %d kind = %d, want %d", i, evt.Kind, types.KindReaction)
		}
		if evt.Content != wantContent[i] {
			t.Errorf("event %d content = %q, want %q", i, evt.Content, wantContent[i])
		}
		if evt.TagValue("e") != target.ID {
			t.Errorf("event %d e tag = %q, want target id", i, evt.TagValue("e"))
		}
		if evt.TagValue("p") != target.PubKey {
			t.Errorf("event %d p tag = %q, want target author", i, evt.TagValue("p"))
		}
	}
}

func TestCreatePostRejectedByAllRelays(t *testing.T) {
	r := relaytest.New(relaytest.Options{RejectPublish: true})
	defer r.Close()
	svc := testService(t, r)

	_, err := svc.CreatePost(context.Background(), "doomed post", "")
	if !errors.Is(err, ErrPublishFailed) {
		t.Fatalf("err = %v, want ErrPublishFailed", err)
	}
}

func TestCreatePostWithoutKey(t *testing.T) {
	r := relaytest.New(relaytest.Options{})
	defer r.Close()
	svc := NewService(testConfig(r.URL()), identity.New(), nil)

	_, err := svc.CreatePost(context.Background(), "anonymous", "")
	if !errors.Is(err, identity.ErrNotAuthenticated) {
		t.Fatalf("err = %v, want ErrNotAuthenticated", err)
	}
	if got := len(r.Published()); got != 0 {
		t.Fatalf("unauthenticated post published %d events, want 0", got)
	}
}

func TestCreatePostTagsCommunity(t *testing.T) {
	r := relaytest.New(relaytest.Options{})
	defer r.Close()
	svc := testService(t, r)

	post, err := svc.CreatePost(context.Background(), "hello alpha", "alpha")
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	if post.Community != "alpha" {
		t.Errorf("post community = %q, want alpha", post.Community)
	}

	published := r.Published()
	if len(published) != 1 {
		t.Fatalf("got %d published events, want 1", len(published))
	}
	if got := published[0].TagValue("I"); got != communityPrefix+"alpha" {
		t.Errorf("I tag = %q, want %q", got, communityPrefix+"alpha")
	}
	if got := published[0].TagValue("l"); got != "agent" {
		t.Errorf("l tag = %q, want agent", got)
	}
}

func TestSearch(t *testing.T) {
	alice := signerFor(t, skAlice)
	hit := signedNote(t, alice, 1700000100, "the needle in question", nil)
	miss := signedNote(t, alice, 1700000200, "just hay", nil)

	r := relaytest.New(relaytest.Options{}, hit, miss)
	defer r.Close()
	svc := testService(t, r)

	posts, err := svc.Search(context.Background(), "needle", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(posts) != 1 || posts[0].ID != hit.ID {
		t.Fatalf("search results wrong: %+v", posts)
	}
}

func TestNotifications(t *testing.T) {
	bob := signerFor(t, skBob)

	r := relaytest.New(relaytest.Options{})
	defer r.Close()
	svc := testService(t, r)
	me, ok := svc.Keyring().Current()
	if !ok {
		t.Fatal("service keyring holds no key")
	}

	mention := signedNote(t, bob, 1700000100, "hey there",
		[][]string{{"p", me.PublicKey}})
	reply := signedNote(t, bob, 1700000200, "replying to you",
		[][]string{{"e", "ab83da77af1dec6d7289834998ad7aafbd9e2191396d75ec3cc27f5a77226f36"}, {"p", me.PublicKey}})

	reaction, err := bob.SignEvent(types.Event{
		CreatedAt: 1700000300,
		Kind:      types.KindReaction,
		Content:   "+",
		Tags:      [][]string{{"e", reply.ID}, {"p", me.PublicKey}},
	})
	if err != nil {
		t.Fatalf("SignEvent: %v", err)
	}

	request := types.Event{Kind: 9734, Tags: [][]string{{"amount", "21000"}}}
	desc, _ := json.Marshal(request)
	zap, err := bob.SignEvent(types.Event{
		CreatedAt: 1700000400,
		Kind:      types.KindZapReceipt,
		Tags: [][]string{
			{"p", me.PublicKey},
			{"description", string(desc)},
		},
	})
	if err != nil {
		t.Fatalf("SignEvent: %v", err)
	}

	selfNote := signedNote(t, svc.Keyring(), 1700000500,
		"note to self", [][]string{{"p", me.PublicKey}})

	r.Store(mention, reply, reaction, zap, selfNote)

	notifications, err := svc.Notifications(context.Background(), me.PublicKey, 10)
	if err != nil {
		t.Fatalf("Notifications: %v", err)
	}
	if len(notifications) != 4 {
		t.Fatalf("got %d notifications, want 4 (self-authored skipped)", len(notifications))
	}

	// Newest first: zap, reaction, reply, mention
	wantTypes := []types.NotificationType{
		types.NotificationZap,
		types.NotificationReaction,
		types.NotificationReply,
		types.NotificationMention,
	}
	for i, n := range notifications {
		if n.Type != wantTypes[i] {
			t.Errorf("notification %d type = %q, want %q", i, n.Type, wantTypes[i])
		}
	}
	if notifications[0].ZapSats != 21 {
		t.Errorf("zap sats = %d, want 21", notifications[0].ZapSats)
	}
	if notifications[1].ZapSats != 0 {
		t.Errorf("non-zap notification carries sats: %d", notifications[1].ZapSats)
	}
}

func TestUpdateProfile(t *testing.T) {
	r := relaytest.New(relaytest.Options{})
	defer r.Close()
	svc := testService(t, r)

	author, err := svc.UpdateProfile(context.Background(), ProfileUpdate{
		Name:  "agent-7",
		About: "an automated poster",
	})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if !author.Resolved || author.Name != "agent-7" {
		t.Errorf("returned author wrong: %+v", author)
	}

	published := r.Published()
	if len(published) != 1 || published[0].Kind != types.KindProfileMetadata {
		t.Fatalf("expected one metadata event, got %+v", published)
	}
}
