package loras

import (
	"testing"

	"github.com/tidwall/gjson"
)

func TestDefaultSampleRequest_Payload(t *testing.T) {
	payload, err := DefaultSampleRequest().Payload()
	if err != nil {
		t.Fatalf("Payload() error = %v", err)
	}
	body := gjson.ParseBytes(payload)

	checks := []struct {
		path string
		want any
	}{
		{"count", float64(5)},
		{"count_mode", "range"},
		{"count_min", float64(3)},
		{"count_max", float64(7)},
		{"model_strength_min", float64(0)},
		{"model_strength_max", float64(1)},
		{"use_same_clip_strength", true},
		{"clip_strength_min", float64(0)},
		{"clip_strength_max", float64(1)},
		{"use_recommended_strength", false},
		{"recommended_strength_scale_min", 0.5},
		{"recommended_strength_scale_max", float64(1)},
		{"seed", float64(0)},
	}
	for _, c := range checks {
		got := body.Get(c.path)
		if !got.Exists() {
			t.Errorf("payload missing %q", c.path)
			continue
		}
		if got.Value() != c.want {
			t.Errorf("payload %q = %v, want %v", c.path, got.Value(), c.want)
		}
	}

	if !body.Get("locked_loras").IsArray() {
		t.Error("locked_loras must default to an empty array")
	}
	if body.Get("pool_config").Type != gjson.Null {
		t.Errorf("pool_config = %v, want null", body.Get("pool_config"))
	}
}

func TestSampleRequest_PayloadOverrides(t *testing.T) {
	req := DefaultSampleRequest()
	req.CountMode = "fixed"
	req.Count = 2
	req.Seed = 42
	req.PoolConfig = []byte(`{"folder":"anime"}`)
	req.LockedLoras = []byte(`[{"file_name":"pinned"}]`)

	payload, err := req.Payload()
	if err != nil {
		t.Fatalf("Payload() error = %v", err)
	}
	body := gjson.ParseBytes(payload)

	if got := body.Get("count_mode").String(); got != "fixed" {
		t.Errorf("count_mode = %q, want fixed", got)
	}
	if got := body.Get("seed").Int(); got != 42 {
		t.Errorf("seed = %d, want 42", got)
	}
	if got := body.Get("pool_config.folder").String(); got != "anime" {
		t.Errorf("pool_config.folder = %q, want anime", got)
	}
	if got := body.Get("locked_loras.0.file_name").String(); got != "pinned" {
		t.Errorf("locked_loras[0] = %q, want pinned", got)
	}
}

func TestCycle(t *testing.T) {
	tests := []struct {
		name        string
		total       int
		index       int
		wantCurrent int
		wantNext    int
	}{
		{"middle of list", 5, 3, 3, 4},
		{"clamps low", 5, 0, 1, 2},
		{"clamps negative", 5, -7, 1, 2},
		{"clamps high", 5, 99, 5, 1},
		{"wraps at end", 5, 5, 5, 1},
		{"single item wraps to itself", 1, 1, 1, 1},
		{"empty list", 0, 3, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current, next := Cycle(tt.total, tt.index)
			if current != tt.wantCurrent || next != tt.wantNext {
				t.Errorf("Cycle(%d, %d) = (%d, %d), want (%d, %d)",
					tt.total, tt.index, current, next, tt.wantCurrent, tt.wantNext)
			}
		})
	}
}
