// Package bridge implements the selective reverse proxy between the
// local ComfyUI origin and a remote LoRA Manager instance. A classifier
// splits the URL surface into locally handled event routes, tunneled
// WebSocket routes, proxied HTTP routes, and passthrough; the dispatch
// middleware wires those outcomes into the gin request flow.
package bridge

import "strings"

// Classification is the dispatch decision for one request path.
type Classification int

const (
	// Passthrough hands the request to the local ComfyUI origin untouched.
	Passthrough Classification = iota
	// LocalEvent executes one of the bridged endpoints locally.
	LocalEvent
	// Websocket tunnels the connection to the remote twin endpoint.
	Websocket
	// HTTPProxy relays the HTTP exchange to the remote instance.
	HTTPProxy
)

// String returns the metrics label for the outcome.
func (c Classification) String() string {
	switch c {
	case LocalEvent:
		return "local_event"
	case Websocket:
		return "websocket"
	case HTTPProxy:
		return "http_proxy"
	default:
		return "passthrough"
	}
}

// proxyPrefixes cover the remote instance's API and static asset trees.
var proxyPrefixes = []string{
	"/api/lm/",
	"/loras_static/",
	"/locales/",
	"/example_images_static/",
}

// pageRoutes are the UI pages served by the remote instance. Matched
// with and without a trailing slash.
var pageRoutes = map[string]struct{}{
	"/loras":         {},
	"/checkpoints":   {},
	"/embeddings":    {},
	"/loras/recipes": {},
	"/statistics":    {},
}

// websocketRoutes are the remote progress feeds tunneled frame by frame.
var websocketRoutes = map[string]struct{}{
	"/ws/fetch-progress":    {},
	"/ws/download-progress": {},
	"/ws/init-progress":     {},
}

// Routes handled locally so their push events reach the browser
// connected to this host rather than the remote one.
const (
	routeTriggerWords  = "/api/lm/loras/get_trigger_words"
	routeLoraCode      = "/api/lm/update-lora-code"
	routeWidgetUpdate  = "/api/lm/update-node-widget"
	routeRegisterNodes = "/api/lm/register-nodes"
)

// eventRoutes sit inside the proxied /api/lm/ tree and therefore must be
// classified first.
var eventRoutes = map[string]struct{}{
	routeTriggerWords:  {},
	routeLoraCode:      {},
	routeWidgetUpdate:  {},
	routeRegisterNodes: {},
}

// Classify decides how a request path is dispatched. Evaluation order
// matters: event routes win over the proxied prefix that contains them,
// and WebSocket routes win over the page/prefix rules.
func Classify(path string) Classification {
	if _, ok := eventRoutes[path]; ok {
		return LocalEvent
	}
	if _, ok := websocketRoutes[path]; ok {
		return Websocket
	}
	if shouldProxy(path) {
		return HTTPProxy
	}
	return Passthrough
}

func shouldProxy(path string) bool {
	for _, prefix := range proxyPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	if _, ok := pageRoutes[path]; ok {
		return true
	}
	if trimmed := strings.TrimRight(path, "/"); trimmed != path {
		if _, ok := pageRoutes[trimmed]; ok {
			return true
		}
	}
	return false
}
