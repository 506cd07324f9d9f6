// Package tsa obtains RFC 3161 timestamps over witness hashes.
package tsa

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/asn1"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"custodia/internal/document"
)

// sha256OID identifies the hash algorithm in the message imprint.
var sha256OID = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}

type algorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

type messageImprint struct {
	HashAlgorithm algorithmIdentifier
	HashedMessage []byte
}

type timeStampReq struct {
	Version        int
	MessageImprint messageImprint
	Nonce          *big.Int `asn1:"optional"`
	CertReq        bool     `asn1:"optional"`
}

// parseStatus extracts the PKIStatus integer from a DER TimeStampResp
// without decoding the rest of the message. Tolerant of optional fields the
// authority may or may not include.
func parseStatus(body []byte) (int, error) {
	var resp asn1.RawValue
	if _, err := asn1.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("unmarshal timestamp response: %w", err)
	}
	var statusInfo asn1.RawValue
	if _, err := asn1.Unmarshal(resp.Bytes, &statusInfo); err != nil {
		return 0, fmt.Errorf("unmarshal status info: %w", err)
	}
	var status int
	if _, err := asn1.Unmarshal(statusInfo.Bytes, &status); err != nil {
		return 0, fmt.Errorf("unmarshal status: %w", err)
	}
	return status, nil
}

// Client posts DER timestamp queries to one authority.
type Client struct {
	endpoint string
	client   *http.Client
}

func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Timestamp requests a timestamp over the witness hash and returns the
// canonical confirmation fact. The hash must already be a SHA-256 digest in
// hex, which is what the witness hash is by construction.
func (c *Client) Timestamp(ctx context.Context, witnessHash string) (*document.TSAConfirmation, error) {
	digest, err := hex.DecodeString(strings.TrimPrefix(witnessHash, "0x"))
	if err != nil {
		return nil, fmt.Errorf("witness hash is not hex: %w", err)
	}
	if len(digest) != 32 {
		return nil, fmt.Errorf("witness hash must be a sha-256 digest, got %d bytes", len(digest))
	}

	nonce, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	query, err := asn1.Marshal(timeStampReq{
		Version: 1,
		MessageImprint: messageImprint{
			HashAlgorithm: algorithmIdentifier{Algorithm: sha256OID},
			HashedMessage: digest,
		},
		Nonce:   nonce,
		CertReq: true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal timestamp query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(query))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/timestamp-query")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tsa request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tsa returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read tsa response: %w", err)
	}

	status, err := parseStatus(body)
	if err != nil {
		return nil, err
	}
	// PKIStatus 0 is granted, 1 is grantedWithMods.
	if status > 1 {
		return nil, fmt.Errorf("tsa rejected request with status %d", status)
	}

	return &document.TSAConfirmation{
		WitnessHash: witnessHash,
		Authority:   c.authority(),
		ConfirmedAt: time.Now().UTC(),
	}, nil
}

func (c *Client) authority() string {
	u, err := url.Parse(c.endpoint)
	if err != nil || u.Host == "" {
		return c.endpoint
	}
	return u.Host
}
