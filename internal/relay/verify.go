package relay

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"agentfeed/internal/identity"
	"agentfeed/internal/types"
)

// VerifyEvent checks that an event's id is the content-addressed hash
// of its fields and that its schnorr signature covers that id. Events
// failing either check never enter a merged result set; a failure is
// evidence of a misbehaving or corrupt relay, not of a client fault.
func VerifyEvent(evt *types.Event) bool {
	if len(evt.Sig) != 128 || len(evt.PubKey) != 64 || len(evt.ID) != 64 {
		return false
	}
	if identity.ComputeEventID(evt) != evt.ID {
		return false
	}

	sigBytes, err := hex.DecodeString(evt.Sig)
	if err != nil {
		return false
	}
	pubKeyBytes, err := hex.DecodeString(evt.PubKey)
	if err != nil {
		return false
	}
	idBytes, err := hex.DecodeString(evt.ID)
	if err != nil {
		return false
	}

	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}
	pubKey, err := schnorr.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false
	}

	return sig.Verify(idBytes, pubKey)
}
