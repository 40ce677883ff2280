package types

// Author is the resolved (or fallback) identity attached to a post.
// Resolved is true only when a profile metadata event was successfully
// parsed for the pubkey; a bare author carries just the key encodings.
type Author struct {
	PubKey      string `json:"pubkey"`
	Npub        string `json:"npub,omitempty"`
	Resolved    bool   `json:"resolved"`
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	About       string `json:"about,omitempty"`
	Picture     string `json:"picture,omitempty"`
	Nip05       string `json:"nip05,omitempty"`
}

// BestName returns the most presentable name available for the author
func (a Author) BestName() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	if a.Name != "" {
		return a.Name
	}
	if len(a.Npub) >= 12 {
		return a.Npub[:12]
	}
	return a.PubKey
}

// Post is a domain view over a kind-1 event. It is derived on demand
// and never persisted here.
type Post struct {
	ID           string     `json:"id"`
	NoteID       string     `json:"note_id"` // note1... encoding of ID
	Content      string     `json:"content"`
	Author       Author     `json:"author"`
	Community    string     `json:"community,omitempty"`
	CommunityURL string     `json:"community_url,omitempty"`
	IsReply      bool       `json:"is_reply"`
	ParentID     string     `json:"parent_id,omitempty"`
	CreatedAt    int64      `json:"created_at"`
	Tags         [][]string `json:"tags"`
	Kind         int        `json:"kind"`
	Sig          string     `json:"sig"`
	ReplyCount   int        `json:"reply_count"`
}
