package loras

import (
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Ref
	}{
		{
			name: "single tag without clip strength",
			text: "a portrait <lora:styleA:0.8> of a cat",
			want: []Ref{{Name: "styleA", ModelStrength: 0.8}},
		},
		{
			name: "tag with clip strength",
			text: "<lora:styleA:0.8:0.6>",
			want: []Ref{{Name: "styleA", ModelStrength: 0.8, ClipStrength: 0.6, HasClip: true}},
		},
		{
			name: "case insensitive prefix",
			text: "<LoRA:Mixed:1>",
			want: []Ref{{Name: "Mixed", ModelStrength: 1}},
		},
		{
			name: "multiple tags keep order",
			text: "<lora:first:0.5> text <lora:second:0.7:0.2>",
			want: []Ref{
				{Name: "first", ModelStrength: 0.5},
				{Name: "second", ModelStrength: 0.7, ClipStrength: 0.2, HasClip: true},
			},
		},
		{
			name: "unparsable strength is dropped",
			text: "<lora:bad:abc> <lora:good:0.9>",
			want: []Ref{{Name: "good", ModelStrength: 0.9}},
		},
		{
			name: "no tags",
			text: "plain prompt text",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("Parse() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Parse()[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestRef_StringRoundTrip(t *testing.T) {
	tests := []string{
		"<lora:styleA:0.8>",
		"<lora:styleA:0.8:0.6>",
		"<lora:detail-tweaker:1>",
	}
	for _, tag := range tests {
		t.Run(tag, func(t *testing.T) {
			refs := Parse(tag)
			if len(refs) != 1 {
				t.Fatalf("Parse(%q) = %v, want one ref", tag, refs)
			}
			if got := refs[0].String(); got != tag {
				t.Errorf("String() = %q, want %q", got, tag)
			}
		})
	}
}

func TestFormatCode(t *testing.T) {
	refs := []Ref{
		{Name: "a", ModelStrength: 0.5},
		{Name: "b", ModelStrength: 0.7, ClipStrength: 0.3, HasClip: true},
	}
	if got, want := FormatCode(refs), "<lora:a:0.5> <lora:b:0.7:0.3>"; got != want {
		t.Errorf("FormatCode() = %q, want %q", got, want)
	}
	if got := FormatCode(nil); got != "" {
		t.Errorf("FormatCode(nil) = %q, want empty", got)
	}
}

func TestJoinTriggerWords(t *testing.T) {
	tests := []struct {
		name  string
		words []string
		want  string
	}{
		{"three words", []string{"t1", "t2", "t3"}, "t1,, t2,, t3"},
		{"single word", []string{"only"}, "only"},
		{"no words", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := JoinTriggerWords(tt.words); got != tt.want {
				t.Errorf("JoinTriggerWords(%v) = %q, want %q", tt.words, got, tt.want)
			}
		})
	}
}

func TestExtractName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"posix path", "/data/loras/anime style.safetensors", "anime style"},
		{"windows path", `C:\loras\detail.safetensors`, "detail"},
		{"bare file name", "styleA.safetensors", "styleA"},
		{"no extension", "styleA", "styleA"},
		{"nested folder", "anime/styleA.safetensors", "styleA"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractName(tt.in); got != tt.want {
				t.Errorf("ExtractName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
