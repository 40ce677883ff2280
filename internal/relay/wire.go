package relay

import (
	"crypto/rand"
	"encoding/hex"

	"agentfeed/internal/types"
)

// filterObject builds the NIP-01 filter object for a REQ message.
// Only populated fields are emitted; relays reject unknown nulls less
// gracefully than absent keys.
func filterObject(f types.Filter) map[string]interface{} {
	obj := map[string]interface{}{}
	if len(f.IDs) > 0 {
		obj["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		obj["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		obj["kinds"] = f.Kinds
	}
	if len(f.ETags) > 0 {
		obj["#e"] = f.ETags
	}
	if len(f.PTags) > 0 {
		obj["#p"] = f.PTags
	}
	if len(f.ITags) > 0 {
		obj["#I"] = f.ITags
	}
	if len(f.LTags) > 0 {
		obj["#l"] = f.LTags
	}
	if f.Since != nil {
		obj["since"] = *f.Since
	}
	if f.Until != nil {
		obj["until"] = *f.Until
	}
	if f.Limit > 0 {
		obj["limit"] = f.Limit
	}
	if f.Search != "" {
		obj["search"] = f.Search
	}
	return obj
}

// newSubscriptionID generates a per-connection subscription id
func newSubscriptionID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return "sub-" + hex.EncodeToString(b)
}
