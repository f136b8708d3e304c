package interchange

import (
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/pkg/errors"
)

// decodeHexField parses a "0x"-prefixed, lower-case hex string of exactly
// len(dst) bytes. Upper-case digits and missing prefixes reject: the
// interchange format promises canonical lower-case hex, and accepting
// variants would make exported documents unequal to their own re-parse.
func decodeHexField(field, s string, dst []byte) error {
	if !strings.HasPrefix(s, "0x") {
		return errors.Errorf("%s: missing 0x prefix", field)
	}
	digits := s[2:]
	if strings.ToLower(digits) != digits {
		return errors.Errorf("%s: upper-case hex digits", field)
	}
	b, err := hex.DecodeString(digits)
	if err != nil {
		return errors.Wrap(err, field)
	}
	if len(b) != len(dst) {
		return errors.Errorf("%s: expected %d bytes, got %d", field, len(dst), len(b))
	}
	copy(dst, b)
	return nil
}

// PubKey is a BLS public key as it appears in an interchange document:
// lower-case hex with a 0x prefix. phase0.BLSPubKey itself has no JSON
// methods, so this repository's http/transport.go reuses this type for the
// one other place the wire format needs it.
type PubKey phase0.BLSPubKey

func (k PubKey) Phase0() phase0.BLSPubKey { return phase0.BLSPubKey(k) }

func (k PubKey) MarshalJSON() ([]byte, error) {
	return []byte(`"0x` + hex.EncodeToString(k[:]) + `"`), nil
}

func (k *PubKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrap(err, "pubkey")
	}
	return decodeHexField("pubkey", s, k[:])
}

// Hash32 is a 32-byte root as it appears in an interchange document:
// lower-case hex with a 0x prefix.
type Hash32 phase0.Root

func (h Hash32) Phase0() phase0.Root { return phase0.Root(h) }

func (h Hash32) MarshalJSON() ([]byte, error) {
	return []byte(`"0x` + hex.EncodeToString(h[:]) + `"`), nil
}

func (h *Hash32) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrap(err, "root")
	}
	return decodeHexField("root", s, h[:])
}

func rootToHash32(r *phase0.Root) *Hash32 {
	if r == nil {
		return nil
	}
	h := Hash32(*r)
	return &h
}

func hash32ToRoot(h *Hash32) *phase0.Root {
	if h == nil {
		return nil
	}
	r := phase0.Root(*h)
	return &r
}
