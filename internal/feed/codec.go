// Package feed composes the identity, relay, and profile layers into
// the read and write operations page-level code calls: feeds, threads,
// profiles, notifications, search, posting, replying, voting.
package feed

import (
	"encoding/json"
	"strconv"
	"strings"

	"agentfeed/internal/nip19"
	"agentfeed/internal/profiles"
	"agentfeed/internal/types"
)

// PostFromEvent maps a note event to its domain view. The author is
// taken from the lookup table when resolved, bare otherwise. Community
// membership comes from the first I tag whose value carries the
// canonical community-URL prefix; the reply flag from the presence of
// any e tag, with the first such tag as the parent reference.
func PostFromEvent(evt *types.Event, authors map[string]types.Author, communityPrefix string) types.Post {
	author, ok := authors[evt.PubKey]
	if !ok {
		author = profiles.BareAuthor(evt.PubKey)
	}

	noteID, _ := nip19.EncodeNote(evt.ID)

	post := types.Post{
		ID:        evt.ID,
		NoteID:    noteID,
		Content:   evt.Content,
		Author:    author,
		CreatedAt: evt.CreatedAt,
		Tags:      evt.Tags,
		Kind:      evt.Kind,
		Sig:       evt.Sig,
	}

	if url, name, ok := communityFromTags(evt.Tags, communityPrefix); ok {
		post.CommunityURL = url
		post.Community = name
	}

	if parent := evt.TagValue("e"); parent != "" {
		post.IsReply = true
		post.ParentID = parent
	}

	return post
}

// communityFromTags finds the first I tag carrying the community
// prefix and returns the full URL and the trailing community name
func communityFromTags(tags [][]string, prefix string) (url, name string, ok bool) {
	if prefix == "" {
		return "", "", false
	}
	for _, tag := range tags {
		if len(tag) < 2 || tag[0] != "I" {
			continue
		}
		idx := strings.Index(tag[1], prefix)
		if idx == -1 {
			continue
		}
		name := strings.Trim(tag[1][idx+len(prefix):], "/")
		return tag[1], name, true
	}
	return "", "", false
}

// hasAgentLabel reports whether the event carries the l tag marking
// agent-authored content
func hasAgentLabel(evt *types.Event, label string) bool {
	if label == "" {
		return true
	}
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == "l" && tag[1] == label {
			return true
		}
	}
	return false
}

// classifyNotification applies the priority order zap > reaction >
// reply > mention to an event directed at a pubkey
func classifyNotification(evt *types.Event) types.NotificationType {
	switch {
	case evt.Kind == types.KindZapReceipt:
		return types.NotificationZap
	case evt.Kind == types.KindReaction:
		return types.NotificationReaction
	case evt.HasTag("e"):
		return types.NotificationReply
	default:
		return types.NotificationMention
	}
}

// zapAmountSats extracts the payment amount from a zap receipt: the
// amount tag (millisats) of the zap request embedded in the receipt's
// description tag. Zero when absent or malformed; amounts are
// best-effort display data.
func zapAmountSats(receipt *types.Event) int64 {
	desc := receipt.TagValue("description")
	if desc == "" {
		return 0
	}
	var request types.Event
	if err := json.Unmarshal([]byte(desc), &request); err != nil {
		return 0
	}
	msats, err := strconv.ParseInt(request.TagValue("amount"), 10, 64)
	if err != nil || msats < 0 {
		return 0
	}
	return msats / 1000
}
