package http

import (
	"encoding/binary"
	"net/http"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/cespare/xxhash/v2"
	"github.com/go-chi/render"
	"github.com/pkg/errors"

	"github.com/watchtower-eth/slashing-protector/protector"
	"github.com/watchtower-eth/slashing-protector/protector/interchange"
)

type requestHasher interface {
	Hash() (uint64, error)
}

// hashOrZero tags a response with the request's identity hash, falling back
// to zero when hashing fails so a response is never withheld over it.
func hashOrZero(r requestHasher) uint64 {
	h, err := r.Hash()
	if err != nil {
		return 0
	}
	return h
}

type checkProposalRequest struct {
	Timestamp   int64               `json:"timestamp"`
	PubKey      interchange.PubKey  `json:"pub_key"`
	GenesisRoot interchange.Hash32  `json:"genesis_validators_root"`
	SigningRoot *interchange.Hash32 `json:"signing_root,omitempty"`
	Slot        phase0.Slot         `json:"slot"`
}

func (r *checkProposalRequest) Hash() (uint64, error) {
	h := xxhash.New()
	writeUint64(h, uint64(r.Timestamp))
	h.Write(r.PubKey[:])
	h.Write(r.GenesisRoot[:])
	if r.SigningRoot != nil {
		h.Write(r.SigningRoot[:])
	}
	writeUint64(h, uint64(r.Slot))
	return h.Sum64(), nil
}

type checkAttestationRequest struct {
	Timestamp   int64               `json:"timestamp"`
	PubKey      interchange.PubKey  `json:"pub_key"`
	GenesisRoot interchange.Hash32  `json:"genesis_validators_root"`
	SigningRoot *interchange.Hash32 `json:"signing_root,omitempty"`
	Source      phase0.Epoch        `json:"source_epoch"`
	Target      phase0.Epoch        `json:"target_epoch"`
}

func (r *checkAttestationRequest) Hash() (uint64, error) {
	h := xxhash.New()
	writeUint64(h, uint64(r.Timestamp))
	h.Write(r.PubKey[:])
	h.Write(r.GenesisRoot[:])
	if r.SigningRoot != nil {
		h.Write(r.SigningRoot[:])
	}
	writeUint64(h, uint64(r.Source))
	writeUint64(h, uint64(r.Target))
	return h.Sum64(), nil
}

func writeUint64(h *xxhash.Digest, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	h.Write(buf[:])
}

type checkResponse struct {
	Hash       uint64           `json:"hash"`
	Check      *protector.Check `json:"check,omitempty"`
	StatusCode int              `json:"status_code"`
	Error      string           `json:"error,omitempty"`
}

func (c *checkResponse) Render(w http.ResponseWriter, r *http.Request) error {
	if c.StatusCode != 0 {
		render.Status(r, c.StatusCode)
	}
	render.JSON(w, r, c)
	return nil
}

var errFormatRequired = errors.New(`query parameter "format" must be "minimal" or "complete"`)

func parseFormat(s string) (interchange.Format, error) {
	switch interchange.Format(s) {
	case interchange.FormatMinimal:
		return interchange.FormatMinimal, nil
	case interchange.FormatComplete:
		return interchange.FormatComplete, nil
	default:
		return "", errFormatRequired
	}
}
