package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/lm-remote/LMBridge/internal/api/middleware"
	"github.com/lm-remote/LMBridge/internal/config"
)

// Remote API paths. Note the hyphenated trigger word path: the remote
// API uses hyphens while the locally handled route uses underscores.
const (
	lorasListPath       = "/api/lm/loras/list"
	checkpointsListPath = "/api/lm/checkpoints/list"
	triggerWordsPath    = "/api/lm/loras/get-trigger-words"
	randomSamplePath    = "/api/lm/loras/random-sample"
	cyclerListPath      = "/api/lm/loras/cycler-list"

	// listingPageSize asks for everything in one page; the remote caps
	// pages, so one large page stands in for "no pagination".
	listingPageSize = "9999"
)

// Client talks to the remote LoRA Manager API through the shared
// Session. All lookups run against the TTL listing caches; only cache
// misses and the explicit selection calls touch the network.
type Client struct {
	cfg     *config.RemoteConfig
	session *Session

	loras       *listingCache
	checkpoints *listingCache
}

// Stats bundles both listing cache counters for the status surface.
type Stats struct {
	Loras       CacheStats `json:"loras"`
	Checkpoints CacheStats `json:"checkpoints"`
}

// NewClient builds a Client over the given remote config and session.
func NewClient(cfg *config.RemoteConfig, session *Session) *Client {
	return &Client{
		cfg:         cfg,
		session:     session,
		loras:       newListingCache("loras"),
		checkpoints: newListingCache("checkpoints"),
	}
}

// Configured reports whether a remote endpoint is set.
func (c *Client) Configured() bool {
	return c.cfg.Configured()
}

// BaseURL returns the configured remote origin.
func (c *Client) BaseURL() string {
	if c.cfg == nil {
		return ""
	}
	return c.cfg.BaseURL
}

// Stats returns the current listing cache counters.
func (c *Client) Stats() Stats {
	return Stats{
		Loras:       c.loras.Stats(),
		Checkpoints: c.checkpoints.Stats(),
	}
}

// ListLoras returns the cached LoRA listing, refreshing it when the TTL
// has lapsed. A failed refresh serves whatever the cache already holds.
func (c *Client) ListLoras(ctx context.Context) []gjson.Result {
	return c.listing(ctx, c.loras, "loras_list", lorasListPath)
}

// ListCheckpoints returns the cached checkpoint listing under the same
// refresh rules as ListLoras.
func (c *Client) ListCheckpoints(ctx context.Context) []gjson.Result {
	return c.listing(ctx, c.checkpoints, "checkpoints_list", checkpointsListPath)
}

// FindLora scans the LoRA listing for the first item whose file_name
// matches name.
func (c *Client) FindLora(ctx context.Context, name string) (gjson.Result, bool) {
	return findByFileName(c.ListLoras(ctx), name)
}

// FindCheckpoint scans the checkpoint listing for the first item whose
// file_name matches name.
func (c *Client) FindCheckpoint(ctx context.Context, name string) (gjson.Result, bool) {
	return findByFileName(c.ListCheckpoints(ctx), name)
}

// ResolveLora maps a LoRA name to the relative path ComfyUI loads it by,
// plus its trigger words. Listing hits derive the path from the item's
// folder and remapped file_path; misses fall back to the remote trigger
// word endpoint with the name standing in for the path. Total failure
// yields the name and no words.
func (c *Client) ResolveLora(ctx context.Context, name string) (string, []string) {
	if item, ok := c.FindLora(ctx, name); ok {
		rel := name
		if filePath := item.Get("file_path").String(); filePath != "" {
			rel = path.Base(c.cfg.MapPath(filePath))
		}
		if folder := item.Get("folder").String(); folder != "" {
			rel = folder + "/" + rel
		}
		var words []string
		for _, w := range item.Get("civitai.trainedWords").Array() {
			words = append(words, w.String())
		}
		return rel, words
	}
	return name, c.fetchTriggerWords(ctx, name)
}

// LoraHash returns the sha256 of a LoRA by name, falling back to the
// legacy hash field. Empty string when unknown.
func (c *Client) LoraHash(ctx context.Context, name string) string {
	if item, ok := c.FindLora(ctx, name); ok {
		return hashOf(item)
	}
	return ""
}

// CheckpointHash returns the sha256 of a checkpoint by name, falling
// back to the legacy hash field. Empty string when unknown.
func (c *Client) CheckpointHash(ctx context.Context, name string) string {
	if item, ok := c.FindCheckpoint(ctx, name); ok {
		return hashOf(item)
	}
	return ""
}

// RandomSample asks the remote to draw LoRAs matching the given
// criteria payload. Failures come back as an empty slice, never an
// error, so node execution continues with whatever it already has.
func (c *Client) RandomSample(ctx context.Context, payload []byte) []gjson.Result {
	if !c.cfg.Configured() {
		return nil
	}
	result, err := c.postJSON(ctx, "random_sample", randomSamplePath, payload)
	if err != nil {
		log.Warnf("remote: random sample failed: %v", err)
		return nil
	}
	return itemsFromSelection(result)
}

// CyclerList fetches the deterministically ordered LoRA list for cycler
// stepping. poolConfig may be empty; sortBy defaults to filename on the
// remote side when blank. Failures come back as an empty slice.
func (c *Client) CyclerList(ctx context.Context, poolConfig []byte, sortBy string) []gjson.Result {
	if !c.cfg.Configured() {
		return nil
	}
	if len(poolConfig) == 0 {
		poolConfig = []byte("null")
	}
	body := []byte(`{}`)
	body, _ = sjson.SetRawBytes(body, "pool_config", poolConfig)
	body, _ = sjson.SetBytes(body, "sort_by", sortBy)

	result, err := c.postJSON(ctx, "cycler_list", cyclerListPath, body)
	if err != nil {
		log.Warnf("remote: cycler list failed: %v", err)
		return nil
	}
	return itemsFromSelection(result)
}

// listing serves one cache, refreshing on TTL expiry and serving stale
// contents when the refresh fails.
func (c *Client) listing(ctx context.Context, cache *listingCache, endpoint, apiPath string) []gjson.Result {
	if !c.cfg.Configured() {
		return nil
	}
	if cache.fresh() {
		cache.recordHit()
		return cache.snapshot()
	}
	cache.recordMiss()

	result, err := c.getJSON(ctx, endpoint, apiPath, url.Values{"page_size": {listingPageSize}})
	if err != nil {
		log.Warnf("remote: %s listing refresh failed: %v", cache.name, err)
		if items := cache.snapshot(); len(items) > 0 {
			cache.recordStaleServe()
			return items
		}
		return nil
	}

	items := result.Get("items").Array()
	cache.store(items)
	return items
}

// fetchTriggerWords hits the per-name trigger word endpoint, used only
// when the listing has no entry for the name.
func (c *Client) fetchTriggerWords(ctx context.Context, name string) []string {
	if !c.cfg.Configured() {
		return nil
	}
	result, err := c.getJSON(ctx, "get_trigger_words", triggerWordsPath, url.Values{"name": {name}})
	if err != nil {
		log.Warnf("remote: trigger word lookup for %q failed: %v", name, err)
		return nil
	}
	var words []string
	for _, w := range result.Get("trigger_words").Array() {
		words = append(words, w.String())
	}
	return words
}

func (c *Client) getJSON(ctx context.Context, endpoint, apiPath string, query url.Values) (gjson.Result, error) {
	target := c.cfg.BaseURL + apiPath
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		middleware.RecordRemoteRequest(endpoint, err)
		return gjson.Result{}, err
	}
	req.Header.Set("Accept", "application/json")
	return c.do(endpoint, req)
}

func (c *Client) postJSON(ctx context.Context, endpoint, apiPath string, payload []byte) (gjson.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+apiPath, bytes.NewReader(payload))
	if err != nil {
		middleware.RecordRemoteRequest(endpoint, err)
		return gjson.Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(endpoint, req)
}

func (c *Client) do(endpoint string, req *http.Request) (gjson.Result, error) {
	resp, err := c.session.HTTPClient().Do(req)
	if err != nil {
		middleware.RecordRemoteRequest(endpoint, err)
		return gjson.Result{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		err = fmt.Errorf("remote returned %s", resp.Status)
		middleware.RecordRemoteRequest(endpoint, err)
		return gjson.Result{}, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		middleware.RecordRemoteRequest(endpoint, err)
		return gjson.Result{}, err
	}
	middleware.RecordRemoteRequest(endpoint, nil)
	return gjson.ParseBytes(body), nil
}

// findByFileName returns the first item whose file_name equals name.
func findByFileName(items []gjson.Result, name string) (gjson.Result, bool) {
	for _, item := range items {
		if item.Get("file_name").String() == name {
			return item, true
		}
	}
	return gjson.Result{}, false
}

// hashOf prefers the sha256 field and falls back to the legacy hash.
func hashOf(item gjson.Result) string {
	if v := item.Get("sha256").String(); v != "" {
		return v
	}
	return item.Get("hash").String()
}

// itemsFromSelection accepts both selection response shapes: a bare
// JSON array, or an object with the items under "loras".
func itemsFromSelection(result gjson.Result) []gjson.Result {
	if result.IsArray() {
		return result.Array()
	}
	if loras := result.Get("loras"); loras.IsArray() {
		return loras.Array()
	}
	return nil
}
