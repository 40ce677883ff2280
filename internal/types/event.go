// Package types provides shared type definitions used across internal packages.
package types

// Event kinds used by the network subset this client speaks.
const (
	KindProfileMetadata = 0
	KindNote            = 1
	KindReaction        = 7
	KindZapReceipt      = 9735
)

// Event represents a signed Nostr event (NIP-01)
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// TagValue returns the value of the first tag with the given name,
// or "" if no such tag exists
func (e *Event) TagValue(name string) string {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

// HasTag reports whether any tag with the given name is present
func (e *Event) HasTag(name string) bool {
	for _, tag := range e.Tags {
		if len(tag) >= 1 && tag[0] == name {
			return true
		}
	}
	return false
}

// Filter represents a Nostr subscription filter (NIP-01)
type Filter struct {
	IDs     []string
	Authors []string
	Kinds   []int
	Limit   int
	Since   *int64
	Until   *int64
	ETags   []string // #e tag filter (events referencing these ids)
	PTags   []string // #p tag filter (mentions)
	ITags   []string // #I tag filter (external content ids)
	LTags   []string // #l tag filter (labels)
	Search  string   // NIP-50 search query
}
