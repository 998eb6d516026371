package loras

import (
	"github.com/tidwall/sjson"
)

// SampleRequest carries the criteria the remote draws a random LoRA
// selection from. Zero values are meaningful here (a strength floor of
// 0.0 is legitimate), so construct it with DefaultSampleRequest and
// override fields rather than filling it from scratch.
type SampleRequest struct {
	// Count is the fixed draw size, used when CountMode is "fixed".
	Count int
	// CountMode selects "fixed" or "range" draw sizing.
	CountMode string
	// CountMin and CountMax bound the draw size in range mode.
	CountMin int
	CountMax int

	ModelStrengthMin float64
	ModelStrengthMax float64

	// UseSameClipStrength reuses the rolled model strength for clip.
	UseSameClipStrength bool
	ClipStrengthMin     float64
	ClipStrengthMax     float64

	// UseRecommendedStrength scales each item's recommended strength
	// instead of rolling inside the min/max band.
	UseRecommendedStrength      bool
	RecommendedStrengthScaleMin float64
	RecommendedStrengthScaleMax float64

	// LockedLoras are raw item objects pinned into every draw.
	LockedLoras []byte
	// PoolConfig narrows the draw pool (folders, tags). Raw JSON.
	PoolConfig []byte

	Seed int64
}

// DefaultSampleRequest returns the stock randomizer criteria.
func DefaultSampleRequest() SampleRequest {
	return SampleRequest{
		Count:                       5,
		CountMode:                   "range",
		CountMin:                    3,
		CountMax:                    7,
		ModelStrengthMin:            0.0,
		ModelStrengthMax:            1.0,
		UseSameClipStrength:         true,
		ClipStrengthMin:             0.0,
		ClipStrengthMax:             1.0,
		UseRecommendedStrength:      false,
		RecommendedStrengthScaleMin: 0.5,
		RecommendedStrengthScaleMax: 1.0,
	}
}

// Payload renders the criteria as the JSON body the random-sample
// endpoint expects.
func (s SampleRequest) Payload() ([]byte, error) {
	body := []byte(`{}`)
	var err error

	set := func(key string, value any) {
		if err != nil {
			return
		}
		body, err = sjson.SetBytes(body, key, value)
	}
	setRaw := func(key string, value []byte) {
		if err != nil {
			return
		}
		if len(value) == 0 {
			value = []byte("null")
		}
		body, err = sjson.SetRawBytes(body, key, value)
	}

	set("count", s.Count)
	set("count_mode", s.CountMode)
	set("count_min", s.CountMin)
	set("count_max", s.CountMax)
	set("model_strength_min", s.ModelStrengthMin)
	set("model_strength_max", s.ModelStrengthMax)
	set("use_same_clip_strength", s.UseSameClipStrength)
	set("clip_strength_min", s.ClipStrengthMin)
	set("clip_strength_max", s.ClipStrengthMax)
	set("use_recommended_strength", s.UseRecommendedStrength)
	set("recommended_strength_scale_min", s.RecommendedStrengthScaleMin)
	set("recommended_strength_scale_max", s.RecommendedStrengthScaleMax)
	setRaw("locked_loras", defaultRaw(s.LockedLoras, "[]"))
	setRaw("pool_config", s.PoolConfig)
	set("seed", s.Seed)

	return body, err
}

func defaultRaw(raw []byte, fallback string) []byte {
	if len(raw) == 0 {
		return []byte(fallback)
	}
	return raw
}

// Cycle steps a 1-based index through a list of the given size. The
// index clamps into [1, total] before stepping and the successor wraps
// back to 1 past the end. A zero-size list yields (0, 0).
func Cycle(total, index int) (current, next int) {
	if total <= 0 {
		return 0, 0
	}
	current = index
	if current < 1 {
		current = 1
	}
	if current > total {
		current = total
	}
	next = current + 1
	if next > total {
		next = 1
	}
	return current, next
}
