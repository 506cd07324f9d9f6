// Package bitcoin anchors witness hashes through OpenTimestamps calendars:
// submit the digest, then periodically ask the calendar to upgrade the proof
// until it carries a Bitcoin block attestation.
package bitcoin

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"custodia/internal/anchors"
)

// ErrNotReady means the calendar has not yet aggregated the commitment into
// a Bitcoin transaction.
var ErrNotReady = errors.New("calendar proof not ready")

const otsAccept = "application/vnd.opentimestamps.v1"

// maxProofSize bounds calendar responses; real proofs are well under 4 KiB.
const maxProofSize = 64 * 1024

// CalendarClient talks the raw OpenTimestamps calendar HTTP protocol:
// octet-stream bodies, no envelope.
type CalendarClient struct {
	calendars []string
	client    *http.Client
	logger    *slog.Logger
}

func NewCalendarClient(calendars []string, logger *slog.Logger) *CalendarClient {
	return &CalendarClient{
		calendars: calendars,
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    logger,
	}
}

// Submit posts the witness hash digest to the configured calendars. First
// success wins; redundancy is for availability, not aggregation.
func (c *CalendarClient) Submit(ctx context.Context, witnessHash string) (*anchors.Submission, error) {
	digest, err := hex.DecodeString(strings.TrimPrefix(witnessHash, "0x"))
	if err != nil {
		return nil, fmt.Errorf("witness hash is not hex: %w", err)
	}

	var lastErr error
	for _, calendar := range c.calendars {
		proof, err := c.post(ctx, calendar+"/digest", digest)
		if err != nil {
			c.logger.Warn("calendar submit failed",
				"calendar", calendar, "error", err)
			lastErr = err
			continue
		}
		return &anchors.Submission{Proof: proof, CalendarURL: calendar}, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no calendars configured")
	}
	return nil, fmt.Errorf("all calendars rejected submission: %w", lastErr)
}

// Upgrade posts the stored proof back to its calendar. The calendar answers
// with an upgraded proof once the aggregation transaction confirmed, 404
// while still pending.
func (c *CalendarClient) Upgrade(ctx context.Context, calendarURL string, proof []byte) ([]byte, error) {
	upgraded, err := c.post(ctx, calendarURL+"/timestamp", proof)
	if err != nil {
		return nil, err
	}
	return upgraded, nil
}

func (c *CalendarClient) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Accept", otsAccept)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotReady
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar returned %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxProofSize))
}
