// Package loras implements the LoRA prompt syntax and the selection
// arithmetic shared by the bridge handlers and the control CLI: parsing
// and formatting <lora:name:strength> tags, trigger word joining, and
// the randomizer/cycler request shapes the remote API understands.
package loras

import (
	"path"
	"regexp"
	"strconv"
	"strings"
)

// TriggerWordSeparator joins trigger words into the single string pushed
// to prompt widgets. The doubled comma is what the frontend splits on.
const TriggerWordSeparator = ",, "

// loraTagPattern matches <lora:name:model_strength> with an optional
// clip strength third field. Name and strengths exclude ':' and '>'.
var loraTagPattern = regexp.MustCompile(`(?i)<lora:([^:>]+):([^:>]+)(?::([^:>]+))?>`)

// Ref is one parsed LoRA tag.
type Ref struct {
	Name          string
	ModelStrength float64
	ClipStrength  float64
	// HasClip records whether the tag carried an explicit clip strength;
	// without it the formatted tag stays in its two-field form.
	HasClip bool
}

// Parse extracts every well-formed LoRA tag from text, in order.
// Tags with unparsable strengths are dropped.
func Parse(text string) []Ref {
	var refs []Ref
	for _, m := range loraTagPattern.FindAllStringSubmatch(text, -1) {
		ms, err := strconv.ParseFloat(strings.TrimSpace(m[2]), 64)
		if err != nil {
			continue
		}
		ref := Ref{Name: strings.TrimSpace(m[1]), ModelStrength: ms}
		if m[3] != "" {
			cs, err := strconv.ParseFloat(strings.TrimSpace(m[3]), 64)
			if err != nil {
				continue
			}
			ref.ClipStrength = cs
			ref.HasClip = true
		}
		refs = append(refs, ref)
	}
	return refs
}

// String renders the tag back into prompt syntax.
func (r Ref) String() string {
	if r.HasClip {
		return "<lora:" + r.Name + ":" + formatStrength(r.ModelStrength) + ":" + formatStrength(r.ClipStrength) + ">"
	}
	return "<lora:" + r.Name + ":" + formatStrength(r.ModelStrength) + ">"
}

// FormatCode renders a list of refs into one prompt fragment, space
// separated, the shape pushed by code update events.
func FormatCode(refs []Ref) string {
	parts := make([]string, 0, len(refs))
	for _, r := range refs {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, " ")
}

func formatStrength(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// JoinTriggerWords combines trigger words into the single widget string.
// No words yields the empty string, which the frontend treats as a clear.
func JoinTriggerWords(words []string) string {
	return strings.Join(words, TriggerWordSeparator)
}

// ExtractName reduces a LoRA file path or file name to the bare name:
// basename with the extension removed. Handles both path separators
// since names can originate on either side of the bridge.
func ExtractName(p string) string {
	if p == "" {
		return ""
	}
	base := path.Base(strings.ReplaceAll(p, "\\", "/"))
	return strings.TrimSuffix(base, path.Ext(base))
}
