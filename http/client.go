package http

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/carlmjohnson/requests"
	"github.com/pkg/errors"

	"github.com/watchtower-eth/slashing-protector/protector"
	"github.com/watchtower-eth/slashing-protector/protector/interchange"
)

// Client talks to a remote Server over HTTP, built on carlmjohnson/requests
// for request construction and JSON (de)serialization.
type Client struct {
	http *http.Client
	addr string
}

func NewClient(httpClient *http.Client, addr string) (*Client, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient, addr: addr}, nil
}

func (c *Client) builder() *requests.Builder {
	return requests.URL(c.addr).Client(c.http)
}

func (c *Client) CheckProposal(
	ctx context.Context,
	network string,
	pubKey phase0.BLSPubKey,
	genesisRoot phase0.Root,
	slot phase0.Slot,
	signingRoot *phase0.Root,
) (*protector.Check, error) {
	req := &checkProposalRequest{
		PubKey:      interchange.PubKey(pubKey),
		GenesisRoot: interchange.Hash32(genesisRoot),
		SigningRoot: rootPtr(signingRoot),
		Slot:        slot,
	}
	var resp checkResponse
	err := c.builder().
		Pathf("/v1/%s/slashable/proposal", network).
		BodyJSON(req).
		ToJSON(&resp).
		Fetch(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "CheckProposal")
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	return resp.Check, nil
}

func (c *Client) CheckAttestation(
	ctx context.Context,
	network string,
	pubKey phase0.BLSPubKey,
	genesisRoot phase0.Root,
	source, target phase0.Epoch,
	signingRoot *phase0.Root,
) (*protector.Check, error) {
	req := &checkAttestationRequest{
		PubKey:      interchange.PubKey(pubKey),
		GenesisRoot: interchange.Hash32(genesisRoot),
		SigningRoot: rootPtr(signingRoot),
		Source:      source,
		Target:      target,
	}
	var resp checkResponse
	err := c.builder().
		Pathf("/v1/%s/slashable/attestation", network).
		BodyJSON(req).
		ToJSON(&resp).
		Fetch(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "CheckAttestation")
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	return resp.Check, nil
}

func (c *Client) History(ctx context.Context, network string, pubKey phase0.BLSPubKey, genesisRoot phase0.Root) (*protector.History, error) {
	var history protector.History
	err := c.builder().
		Pathf("/v1/%s/history/%x", network, pubKey[:]).
		Param("genesis_validators_root", fmt.Sprintf("%#x", genesisRoot)).
		ToJSON(&history).
		Fetch(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "History")
	}
	return &history, nil
}

// ImportInterchange uploads doc for import under network.
func (c *Client) ImportInterchange(ctx context.Context, network string, doc *interchange.Document) error {
	return errors.Wrap(c.builder().
		Pathf("/v1/%s/interchange", network).
		BodyJSON(doc).
		Fetch(ctx), "ImportInterchange")
}

// ExportInterchange downloads the combined interchange document for network.
func (c *Client) ExportInterchange(ctx context.Context, network string, format interchange.Format) (*interchange.Document, error) {
	var body bytes.Buffer
	err := c.builder().
		Pathf("/v1/%s/interchange", network).
		Param("format", string(format)).
		ToBytesBuffer(&body).
		Fetch(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "ExportInterchange")
	}
	return interchange.Parse(bytes.NewReader(body.Bytes()))
}

func rootPtr(r *phase0.Root) *interchange.Hash32 {
	if r == nil {
		return nil
	}
	h := interchange.Hash32(*r)
	return &h
}
