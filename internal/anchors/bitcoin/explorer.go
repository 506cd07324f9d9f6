package bitcoin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ExplorerClient enriches a confirmed attestation with the canonical block
// hash and timestamp from a mempool.space compatible API. Enrichment is
// optional: confirmation stands without it.
type ExplorerClient struct {
	baseURL string
	client  *http.Client
}

func NewExplorerClient(baseURL string) *ExplorerClient {
	return &ExplorerClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// BlockAtHeight resolves a block height to its hash and timestamp.
func (e *ExplorerClient) BlockAtHeight(ctx context.Context, height int64) (hash string, blockTime time.Time, err error) {
	hashBytes, err := e.get(ctx, fmt.Sprintf("%s/block-height/%d", e.baseURL, height))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("block hash at height %d: %w", height, err)
	}
	hash = strings.TrimSpace(string(hashBytes))

	body, err := e.get(ctx, e.baseURL+"/block/"+hash)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("block %s: %w", hash, err)
	}
	var block struct {
		Timestamp int64 `json:"timestamp"`
	}
	if err := json.Unmarshal(body, &block); err != nil {
		return "", time.Time{}, fmt.Errorf("decode block %s: %w", hash, err)
	}
	return hash, time.Unix(block.Timestamp, 0).UTC(), nil
}

func (e *ExplorerClient) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("explorer returned %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}
