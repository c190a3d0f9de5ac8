package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/noela-dervishi/StudentPerformancePrediction/internal/features"
)

// Config drives the remote model client.
type Config struct {
	BaseURL      string
	Token        string
	Timeout      time.Duration
	CacheTTL     time.Duration
	// CacheSize caps cached distributions; defaults to defaultCacheSize.
	CacheSize    int
	RetryBackoff time.Duration
}

const defaultCacheSize = 4096

// Client calls a model server exposing
//
//	GET  /dump          -> {"dump": "..."}
//	POST /distribution  {"record": {...}} -> {"distribution": [{"label": "FAIL", "p": 0.2}, ...]}
//
// Responses are cached for CacheTTL.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	cacheTTL   time.Duration
	backoff    time.Duration

	dumpMu sync.Mutex
	dump   cacheEntry[string]

	cacheMu    sync.Mutex
	cache      map[string]cacheEntry[Distribution]
	cacheOrder []string
	cacheSize  int
}

type cacheEntry[T any] struct {
	at    time.Time
	value T
}

// NewClient returns ErrDisabled when no base URL is configured.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrDisabled
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		token:      strings.TrimSpace(cfg.Token),
		cacheTTL:   ttl,
		backoff:    backoff,
		cache:      make(map[string]cacheEntry[Distribution]),
		cacheSize:  size,
	}, nil
}

type dumpResponse struct {
	Dump string `json:"dump"`
}

type distributionRequest struct {
	Record features.Record `json:"record"`
}

type distributionResponse struct {
	Distribution Distribution `json:"distribution"`
}

// Dump fetches the model's printed tree.
func (c *Client) Dump(ctx context.Context) (string, error) {
	if c == nil {
		return "", ErrDisabled
	}
	c.dumpMu.Lock()
	defer c.dumpMu.Unlock()
	if c.dump.value != "" && time.Since(c.dump.at) < c.cacheTTL {
		return c.dump.value, nil
	}

	var out dumpResponse
	if err := c.do(ctx, http.MethodGet, "/dump", nil, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Dump) == "" {
		return "", errors.New("model server returned an empty dump")
	}
	c.dump = cacheEntry[string]{at: time.Now(), value: out.Dump}
	return out.Dump, nil
}

// Distribution asks the model server for class probabilities.
func (c *Client) Distribution(ctx context.Context, rec features.Record) (Distribution, error) {
	if c == nil {
		return nil, ErrDisabled
	}
	key := recordKey(rec)
	if dist, ok := c.cached(key); ok {
		return dist, nil
	}

	var out distributionResponse
	if err := c.do(ctx, http.MethodPost, "/distribution", distributionRequest{Record: finite(rec)}, &out); err != nil {
		return nil, err
	}
	if len(out.Distribution) == 0 {
		return nil, ErrEmptyModel
	}
	c.remember(key, out.Distribution)
	return out.Distribution, nil
}

func (c *Client) cached(key string) (Distribution, bool) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	entry, ok := c.cache[key]
	if !ok || time.Since(entry.at) >= c.cacheTTL {
		return nil, false
	}
	return entry.value, true
}

// remember stores dist under key. A full cache first drops expired entries,
// then the oldest ones.
func (c *Client) remember(key string, dist Distribution) {
	now := time.Now()
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	if _, ok := c.cache[key]; ok {
		c.cache[key] = cacheEntry[Distribution]{at: now, value: dist}
		return
	}
	if len(c.cache) >= c.cacheSize {
		kept := c.cacheOrder[:0]
		for _, k := range c.cacheOrder {
			if now.Sub(c.cache[k].at) >= c.cacheTTL {
				delete(c.cache, k)
				continue
			}
			kept = append(kept, k)
		}
		c.cacheOrder = kept
	}
	for len(c.cache) >= c.cacheSize {
		delete(c.cache, c.cacheOrder[0])
		c.cacheOrder = c.cacheOrder[1:]
	}
	c.cache[key] = cacheEntry[Distribution]{at: now, value: dist}
	c.cacheOrder = append(c.cacheOrder, key)
}

func (c *Client) cacheLen() int {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	return len(c.cache)
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = encoded
	}

	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		// back off and retry once
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff):
		}
		if resp, err = c.send(ctx, method, path, body); err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("model server %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model server request: %w", err)
	}
	return resp, nil
}

// recordKey is a stable cache key for rec.
func recordKey(rec features.Record) string {
	names := make([]string, 0, len(rec))
	for name := range rec {
		names = append(names, name)
	}
	sort.Strings(names)
	var sb strings.Builder
	for _, name := range names {
		sb.WriteString(name)
		sb.WriteByte('=')
		sb.WriteString(strconv.FormatFloat(rec[name], 'g', -1, 64))
		sb.WriteByte(';')
	}
	return sb.String()
}

// finite drops values JSON cannot carry; the server treats them as missing.
func finite(rec features.Record) features.Record {
	out := make(features.Record, len(rec))
	for name, v := range rec {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[name] = v
		}
	}
	return out
}
