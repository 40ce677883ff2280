package nip19

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// TLV type constants for NIP-19 pointer encodings
const (
	tlvTypeSpecial = 0 // event_id for nevent, pubkey for nprofile
	tlvTypeRelay   = 1 // relay URL
	tlvTypeAuthor  = 2 // author pubkey
	tlvTypeKind    = 3 // kind (for naddr)
)

var errBadLength = errors.New("payload is not 32 bytes")

// encode32 encodes a 32-byte hex value under the given HRP
func encode32(hrp, hexValue string) (string, error) {
	raw, err := hex.DecodeString(hexValue)
	if err != nil {
		return "", fmt.Errorf("invalid hex: %w", err)
	}
	if len(raw) != 32 {
		return "", errBadLength
	}
	data, err := convertBits(raw, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32Encode(hrp, data), nil
}

// decode32 decodes a bech32 string into a 32-byte hex value, checking the HRP
func decode32(wantHrp, bech string) (string, error) {
	hrp, data, err := bech32Decode(bech)
	if err != nil {
		return "", err
	}
	if hrp != wantHrp {
		return "", fmt.Errorf("expected hrp %q, got %q", wantHrp, hrp)
	}
	raw, err := convertBits(data, 5, 8, false)
	if err != nil {
		return "", err
	}
	if len(raw) != 32 {
		return "", errBadLength
	}
	return hex.EncodeToString(raw), nil
}

// EncodeNote encodes an event id as note1...
func EncodeNote(eventID string) (string, error) {
	return encode32("note", eventID)
}

// EncodePubKey encodes a public key as npub1...
func EncodePubKey(pubkey string) (string, error) {
	return encode32("npub", pubkey)
}

// EncodeSecretKey encodes a private key as nsec1...
func EncodeSecretKey(seckey string) (string, error) {
	return encode32("nsec", seckey)
}

// DecodeNote decodes a note1... string to an event id
func DecodeNote(note string) (string, error) {
	return decode32("note", note)
}

// DecodePubKey decodes an npub1... string to a hex public key
func DecodePubKey(npub string) (string, error) {
	return decode32("npub", npub)
}

// DecodeSecretKey decodes an nsec1... string to a hex private key
func DecodeSecretKey(nsec string) (string, error) {
	return decode32("nsec", nsec)
}

// decodeTLVSpecial extracts the 32-byte special field from a TLV payload
// (event id for nevent, pubkey for nprofile)
func decodeTLVSpecial(data []byte) (string, error) {
	for i := 0; i+2 <= len(data); {
		tlvType := data[i]
		tlvLen := int(data[i+1])
		i += 2
		if i+tlvLen > len(data) {
			break
		}
		if tlvType == tlvTypeSpecial && tlvLen == 32 {
			return hex.EncodeToString(data[i : i+tlvLen]), nil
		}
		i += tlvLen
	}
	return "", errors.New("missing special TLV entry")
}

// decodeTLV decodes the TLV form under the given HRP and returns the
// 32-byte special value
func decodeTLV(wantHrp, bech string) (string, error) {
	hrp, data, err := bech32Decode(bech)
	if err != nil {
		return "", err
	}
	if hrp != wantHrp {
		return "", fmt.Errorf("expected hrp %q, got %q", wantHrp, hrp)
	}
	raw, err := convertBits(data, 5, 8, false)
	if err != nil {
		return "", err
	}
	return decodeTLVSpecial(raw)
}

func isHex64(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// DecodeReference resolves a user-supplied event or key reference to its
// 64-char hex form. Accepted inputs: note1/nevent1 (event ids),
// npub1/nprofile1 (pubkeys), or bare 64-char hex. Anything else passes
// through unchanged with ok=false: the caller may already hold a final
// form this package does not recognize, and that is not an error.
func DecodeReference(ref string) (string, bool) {
	switch {
	case isHex64(ref):
		return strings.ToLower(ref), true
	case strings.HasPrefix(ref, "note1"):
		if id, err := DecodeNote(ref); err == nil {
			return id, true
		}
	case strings.HasPrefix(ref, "nevent1"):
		if id, err := decodeTLV("nevent", ref); err == nil {
			return id, true
		}
	case strings.HasPrefix(ref, "npub1"):
		if pk, err := DecodePubKey(ref); err == nil {
			return pk, true
		}
	case strings.HasPrefix(ref, "nprofile1"):
		if pk, err := decodeTLV("nprofile", ref); err == nil {
			return pk, true
		}
	}
	return ref, false
}
