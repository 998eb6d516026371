package bridge

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// BroadcastID is the sentinel node id meaning "every node": used when a
// code update arrives without an explicit target list.
const BroadcastID = -1

// NodeRef identifies a frontend graph node targeted by a push event.
// A bare id addresses a top-level node; a graph id scopes the node into
// a subgraph. IDs are integers when the wire value coerces cleanly and
// stay as sent otherwise, so the frontend can match them either way.
type NodeRef struct {
	ID      any
	GraphID string
}

// Broadcast returns the sentinel ref addressing every node.
func Broadcast() NodeRef {
	return NodeRef{ID: BroadcastID}
}

// ParseNodeRefs extracts node references from a node_ids JSON array.
// Elements are either scalars (the id itself) or objects carrying
// node_id/id plus an optional graph_id.
func ParseNodeRefs(arr gjson.Result) []NodeRef {
	if !arr.IsArray() {
		return nil
	}
	var refs []NodeRef
	for _, el := range arr.Array() {
		if el.IsObject() {
			id := el.Get("node_id")
			if !id.Exists() {
				id = el.Get("id")
			}
			refs = append(refs, NodeRef{
				ID:      coerceID(id),
				GraphID: el.Get("graph_id").String(),
			})
			continue
		}
		refs = append(refs, NodeRef{ID: coerceID(el)})
	}
	return refs
}

// coerceID turns numeric ids (including numeric strings) into ints and
// leaves everything else as the wire value.
func coerceID(v gjson.Result) any {
	switch v.Type {
	case gjson.Number:
		return int(v.Int())
	case gjson.String:
		if n, err := strconv.Atoi(strings.TrimSpace(v.String())); err == nil {
			return n
		}
		return v.String()
	default:
		return v.Value()
	}
}

// Decorate copies the base payload and stamps the node's id and, for
// scoped nodes, its graph id onto it.
func (n NodeRef) Decorate(base map[string]any) map[string]any {
	out := make(map[string]any, len(base)+2)
	for k, v := range base {
		out[k] = v
	}
	out["id"] = n.ID
	if n.GraphID != "" {
		out["graph_id"] = n.GraphID
	}
	return out
}
