package bridge

import (
	"reflect"
	"testing"

	"github.com/tidwall/gjson"
)

func TestParseNodeRefs(t *testing.T) {
	tests := []struct {
		name string
		json string
		want []NodeRef
	}{
		{
			name: "scalar ints",
			json: `{"node_ids": [3, 7]}`,
			want: []NodeRef{{ID: 3}, {ID: 7}},
		},
		{
			name: "numeric strings coerce",
			json: `{"node_ids": ["12", " 4 "]}`,
			want: []NodeRef{{ID: 12}, {ID: 4}},
		},
		{
			name: "non numeric strings stay strings",
			json: `{"node_ids": ["12:0", "abc"]}`,
			want: []NodeRef{{ID: "12:0"}, {ID: "abc"}},
		},
		{
			name: "objects with node_id and graph_id",
			json: `{"node_ids": [{"node_id": 5, "graph_id": "sub1"}, {"node_id": "9"}]}`,
			want: []NodeRef{{ID: 5, GraphID: "sub1"}, {ID: 9}},
		},
		{
			name: "object id fallback",
			json: `{"node_ids": [{"id": 2}]}`,
			want: []NodeRef{{ID: 2}},
		},
		{
			name: "mixed scalars and objects",
			json: `{"node_ids": [1, {"node_id": 2, "graph_id": "g"}]}`,
			want: []NodeRef{{ID: 1}, {ID: 2, GraphID: "g"}},
		},
		{
			name: "empty array",
			json: `{"node_ids": []}`,
			want: nil,
		},
		{
			name: "absent",
			json: `{}`,
			want: nil,
		},
		{
			name: "null",
			json: `{"node_ids": null}`,
			want: nil,
		},
		{
			name: "not an array",
			json: `{"node_ids": 5}`,
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseNodeRefs(gjson.Get(tt.json, "node_ids"))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseNodeRefs() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestNodeRefDecorate(t *testing.T) {
	base := map[string]any{"message": "hello"}

	got := NodeRef{ID: 4, GraphID: "sub"}.Decorate(base)
	want := map[string]any{"message": "hello", "id": 4, "graph_id": "sub"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Decorate() = %#v, want %#v", got, want)
	}

	// No graph_id key for top-level nodes.
	got = NodeRef{ID: 4}.Decorate(base)
	if _, ok := got["graph_id"]; ok {
		t.Errorf("Decorate() added graph_id for top-level ref: %#v", got)
	}

	// The base map stays untouched.
	if len(base) != 1 {
		t.Errorf("Decorate() mutated base: %#v", base)
	}
}

func TestBroadcastRef(t *testing.T) {
	got := Broadcast().Decorate(map[string]any{"lora_code": "<lora:a:1>"})
	if got["id"] != BroadcastID {
		t.Errorf("broadcast id = %v, want %v", got["id"], BroadcastID)
	}
}
