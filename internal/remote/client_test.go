package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lm-remote/LMBridge/internal/config"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	cfg := &config.RemoteConfig{BaseURL: srv.URL, TimeoutSeconds: 5}
	session := NewSession(cfg.Timeout())
	t.Cleanup(session.Close)
	return NewClient(cfg, session), &calls
}

func listingHandler(items string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":` + items + `}`))
	})
}

func TestClient_ListingServedFromCacheWithinTTL(t *testing.T) {
	client, calls := newTestClient(t, listingHandler(`[{"file_name":"a"},{"file_name":"b"}]`))
	ctx := context.Background()

	first := client.ListLoras(ctx)
	second := client.ListLoras(ctx)

	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("listing lengths = %d, %d, want 2, 2", len(first), len(second))
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("remote fetches = %d, want 1 (second call must hit the cache)", got)
	}
	stats := client.Stats()
	if stats.Loras.Hits != 1 || stats.Loras.Misses != 1 {
		t.Errorf("stats = %+v, want 1 hit and 1 miss", stats.Loras)
	}
}

func TestClient_ExpiredCacheRefetches(t *testing.T) {
	client, calls := newTestClient(t, listingHandler(`[{"file_name":"a"}]`))
	ctx := context.Background()

	client.ListLoras(ctx)
	client.loras.mu.Lock()
	client.loras.fetchedAt = time.Now().Add(-2 * ListingTTL)
	client.loras.mu.Unlock()
	client.ListLoras(ctx)

	if got := calls.Load(); got != 2 {
		t.Errorf("remote fetches = %d, want 2 after TTL expiry", got)
	}
}

func TestClient_StaleListingServedAfterFailedRefresh(t *testing.T) {
	var fail atomic.Bool
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"items":[{"file_name":"keeper"}]}`))
	}))
	ctx := context.Background()

	before := client.ListLoras(ctx)
	if len(before) != 1 {
		t.Fatalf("initial listing len = %d, want 1", len(before))
	}

	fail.Store(true)
	client.loras.mu.Lock()
	client.loras.fetchedAt = time.Now().Add(-2 * ListingTTL)
	client.loras.mu.Unlock()

	after := client.ListLoras(ctx)
	if len(after) != 1 || after[0].Get("file_name").String() != "keeper" {
		t.Errorf("stale listing = %v, want the pre-failure items", after)
	}
	if got := client.Stats().Loras.StaleServes; got != 1 {
		t.Errorf("stale serves = %d, want 1", got)
	}
}

func TestClient_ResolveLora(t *testing.T) {
	items := `[
		{"file_name":"styleA","file_path":"/srv/loras/anime/styleA.safetensors","folder":"anime",
		 "civitai":{"trainedWords":["glow","neon"]}},
		{"file_name":"plain","file_path":"/srv/loras/plain.safetensors","folder":""}
	]`
	mux := http.NewServeMux()
	mux.Handle("/api/lm/loras/list", listingHandler(items))
	mux.HandleFunc("/api/lm/loras/get-trigger-words", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("name") != "elsewhere" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"trigger_words":["remote-word"]}`))
	})
	client, _ := newTestClient(t, mux)
	client.cfg.PathMappings = []config.PathMapping{{Remote: "/srv/loras", Local: "/home/user/loras"}}
	ctx := context.Background()

	tests := []struct {
		name      string
		lora      string
		wantPath  string
		wantWords []string
	}{
		{
			name:      "listed with folder",
			lora:      "styleA",
			wantPath:  "anime/styleA.safetensors",
			wantWords: []string{"glow", "neon"},
		},
		{
			name:      "listed without folder",
			lora:      "plain",
			wantPath:  "plain.safetensors",
			wantWords: nil,
		},
		{
			name:      "unlisted falls back to trigger word endpoint",
			lora:      "elsewhere",
			wantPath:  "elsewhere",
			wantWords: []string{"remote-word"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotPath, gotWords := client.ResolveLora(ctx, tt.lora)
			if gotPath != tt.wantPath {
				t.Errorf("ResolveLora() path = %q, want %q", gotPath, tt.wantPath)
			}
			if len(gotWords) != len(tt.wantWords) {
				t.Fatalf("ResolveLora() words = %v, want %v", gotWords, tt.wantWords)
			}
			for i := range gotWords {
				if gotWords[i] != tt.wantWords[i] {
					t.Errorf("ResolveLora() words[%d] = %q, want %q", i, gotWords[i], tt.wantWords[i])
				}
			}
		})
	}
}

func TestClient_ResolveLora_TotalFailure(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))

	gotPath, gotWords := client.ResolveLora(context.Background(), "ghost")
	if gotPath != "ghost" {
		t.Errorf("path = %q, want the name itself", gotPath)
	}
	if len(gotWords) != 0 {
		t.Errorf("words = %v, want none", gotWords)
	}
}

func TestClient_Hashes(t *testing.T) {
	loras := `[
		{"file_name":"modern","sha256":"abc123","hash":"legacy-ignored"},
		{"file_name":"old","hash":"legacy-hash"},
		{"file_name":"bare"}
	]`
	checkpoints := `[{"file_name":"ckpt","sha256":"ckpt-hash"}]`
	mux := http.NewServeMux()
	mux.Handle("/api/lm/loras/list", listingHandler(loras))
	mux.Handle("/api/lm/checkpoints/list", listingHandler(checkpoints))
	client, _ := newTestClient(t, mux)
	ctx := context.Background()

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"sha256 preferred", client.LoraHash(ctx, "modern"), "abc123"},
		{"legacy hash fallback", client.LoraHash(ctx, "old"), "legacy-hash"},
		{"no hash fields", client.LoraHash(ctx, "bare"), ""},
		{"unknown name", client.LoraHash(ctx, "missing"), ""},
		{"checkpoint hash", client.CheckpointHash(ctx, "ckpt"), "ckpt-hash"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("hash = %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestClient_RandomSampleShapes(t *testing.T) {
	tests := []struct {
		name     string
		response string
		status   int
		wantLen  int
	}{
		{"bare array", `[{"file_name":"a"},{"file_name":"b"}]`, http.StatusOK, 2},
		{"wrapped object", `{"loras":[{"file_name":"a"}]}`, http.StatusOK, 1},
		{"empty array", `[]`, http.StatusOK, 0},
		{"server error", `boom`, http.StatusInternalServerError, 0},
		{"garbage body", `{{{`, http.StatusOK, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.response))
			}))
			got := client.RandomSample(context.Background(), []byte(`{"count":2}`))
			if len(got) != tt.wantLen {
				t.Errorf("RandomSample() len = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestClient_CyclerListRequestBody(t *testing.T) {
	var gotBody []byte
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`[{"file_name":"one"}]`))
	}))

	items := client.CyclerList(context.Background(), []byte(`{"folder":"anime"}`), "filename")
	if len(items) != 1 {
		t.Fatalf("CyclerList() len = %d, want 1", len(items))
	}

	var body struct {
		PoolConfig map[string]any `json:"pool_config"`
		SortBy     string         `json:"sort_by"`
	}
	if err := json.Unmarshal(gotBody, &body); err != nil {
		t.Fatalf("request body is not JSON: %v", err)
	}
	if body.SortBy != "filename" {
		t.Errorf("sort_by = %q, want filename", body.SortBy)
	}
	if body.PoolConfig["folder"] != "anime" {
		t.Errorf("pool_config = %v, want folder anime", body.PoolConfig)
	}
}

func TestClient_UnconfiguredNeverTouchesNetwork(t *testing.T) {
	client, calls := newTestClient(t, listingHandler(`[]`))
	client.cfg.BaseURL = ""
	ctx := context.Background()

	if got := client.ListLoras(ctx); got != nil {
		t.Errorf("ListLoras() = %v, want nil", got)
	}
	if got := client.RandomSample(ctx, nil); got != nil {
		t.Errorf("RandomSample() = %v, want nil", got)
	}
	if got := client.CyclerList(ctx, nil, "filename"); got != nil {
		t.Errorf("CyclerList() = %v, want nil", got)
	}
	path, words := client.ResolveLora(ctx, "x")
	if path != "x" || words != nil {
		t.Errorf("ResolveLora() = %q, %v, want name and nil", path, words)
	}
	if got := calls.Load(); got != 0 {
		t.Errorf("remote fetches = %d, want 0 when unconfigured", got)
	}
}

func TestFindByFileName_FirstMatchWins(t *testing.T) {
	client, _ := newTestClient(t, listingHandler(`[
		{"file_name":"dup","sha256":"first"},
		{"file_name":"dup","sha256":"second"}
	]`))

	item, ok := client.FindLora(context.Background(), "dup")
	if !ok {
		t.Fatal("FindLora() ok = false, want true")
	}
	if got := item.Get("sha256").String(); got != "first" {
		t.Errorf("FindLora() picked %q, want the first match", got)
	}
}

func TestSession_CloseAndRecreate(t *testing.T) {
	session := NewSession(5 * time.Second)

	first := session.HTTPClient()
	if first == nil {
		t.Fatal("HTTPClient() = nil")
	}
	if again := session.HTTPClient(); again != first {
		t.Error("HTTPClient() must reuse the pooled client")
	}

	session.Close()
	session.Close() // second close is a no-op

	second := session.HTTPClient()
	if second == nil {
		t.Fatal("HTTPClient() after Close = nil")
	}
	if second == first {
		t.Error("HTTPClient() after Close must build a fresh client")
	}
}
