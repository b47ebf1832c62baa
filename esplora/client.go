package esplora

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"golang.org/x/time/rate"
)

const (
	// maxBodySize caps how much of a response body is read. All of the
	// endpoints used return a few dozen bytes of text.
	maxBodySize = 64 * 1024

	// errBodySnippet is the number of body bytes quoted in a RemoteError.
	errBodySnippet = 128
)

// ClientConfig holds the configuration for the Esplora client.
type ClientConfig struct {
	// URL is the base URL of the Esplora API, including the /api prefix
	// (e.g., https://mempool.space/api).
	URL string

	// RequestTimeout is the timeout for individual HTTP requests.
	RequestTimeout time.Duration

	// RequestsPerSecond throttles outbound requests. Zero or a negative
	// value disables throttling.
	RequestsPerSecond float64

	// UserAgent is sent with every request if set.
	UserAgent string
}

// Client is an HTTP client for the subset of the Esplora REST API needed to
// sample block headers. It performs exactly one request per call and neither
// retries nor caches.
type Client struct {
	cfg *ClientConfig

	httpClient *http.Client

	// limiter is nil when throttling is disabled.
	limiter *rate.Limiter
}

// NewClient creates a new Esplora client with the given configuration.
func NewClient(cfg *ClientConfig) *Client {
	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
	}

	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return c
}

// doGet performs a GET request and returns the trimmed response body.
func (c *Client) doGet(ctx context.Context, path string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", &RemoteError{Path: path, Err: err}
		}
	}

	url := strings.TrimSuffix(c.cfg.URL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &RemoteError{
			Path: path,
			Err:  fmt.Errorf("failed to create request: %w", err),
		}
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &RemoteError{Path: path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", &RemoteError{
			Path:       path,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("failed to read response: %w", err),
		}
	}

	log.Tracef("GET %s -> %d in %v", path, resp.StatusCode,
		time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &RemoteError{
			Path:       path,
			StatusCode: resp.StatusCode,
			Err:        statusError(resp.StatusCode, body),
		}
	}

	return strings.TrimSpace(string(body)), nil
}

// GetTipHeight returns the current blockchain tip height.
func (c *Client) GetTipHeight(ctx context.Context) (uint32, error) {
	const path = "/blocks/tip/height"

	body, err := c.doGet(ctx, path)
	if err != nil {
		return 0, err
	}

	height, err := strconv.ParseUint(body, 10, 32)
	if err != nil {
		return 0, &DecodeError{
			Path: path,
			Err:  fmt.Errorf("failed to parse height: %w", err),
		}
	}

	return uint32(height), nil
}

// GetBlockHashByHeight fetches the hash of the block at the given height on
// the remote's best chain.
func (c *Client) GetBlockHashByHeight(ctx context.Context,
	height uint32) (*chainhash.Hash, error) {

	path := fmt.Sprintf("/block-height/%d", height)

	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, err
	}

	// NewHashFromStr zero pads short input, so the length is checked
	// first to reject truncated responses.
	if len(body) != chainhash.MaxHashStringSize {
		return nil, &DecodeError{
			Path: path,
			Err: fmt.Errorf("invalid block hash length %d, want %d",
				len(body), chainhash.MaxHashStringSize),
		}
	}

	hash, err := chainhash.NewHashFromStr(body)
	if err != nil {
		return nil, &DecodeError{
			Path: path,
			Err:  fmt.Errorf("invalid block hash: %w", err),
		}
	}

	return hash, nil
}

// GetBlockHeader fetches the raw block header by hash.
func (c *Client) GetBlockHeader(ctx context.Context,
	hash *chainhash.Hash) (*wire.BlockHeader, error) {

	path := "/block/" + hash.String() + "/header"

	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, err
	}

	headerBytes, err := hex.DecodeString(body)
	if err != nil {
		return nil, &DecodeError{
			Path: path,
			Err:  fmt.Errorf("failed to decode header hex: %w", err),
		}
	}

	header, err := DecodeHeader(headerBytes)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}

	return header, nil
}

// DecodeHeader deserializes an 80 byte block header.
func DecodeHeader(b []byte) (*wire.BlockHeader, error) {
	if len(b) != wire.MaxBlockHeaderPayload {
		return nil, fmt.Errorf("invalid header length %d, want %d",
			len(b), wire.MaxBlockHeaderPayload)
	}

	header := &wire.BlockHeader{}
	if err := header.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("failed to deserialize header: %w", err)
	}

	return header, nil
}

// statusError builds the error for a non-2xx response, quoting the start of
// the body.
func statusError(code int, body []byte) error {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > errBodySnippet {
		snippet = snippet[:errBodySnippet] + "..."
	}

	if code == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, snippet)
	}

	return fmt.Errorf("API returned status %d: %s", code, snippet)
}
