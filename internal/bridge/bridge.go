package bridge

import (
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/lm-remote/LMBridge/internal/api/middleware"
	"github.com/lm-remote/LMBridge/internal/config"
	"github.com/lm-remote/LMBridge/internal/remote"
)

// Notifier pushes named events toward the connected frontend. The bridge
// never waits on delivery; a Notifier must not block.
type Notifier interface {
	Emit(event string, payload map[string]any)
}

// Bridge owns the dispatch decision for every inbound request and the
// connections behind each outcome: the pooled client for the remote
// instance, the untimed client for the local ComfyUI origin, and the
// dialers for both WebSocket legs.
type Bridge struct {
	cfg      *config.Config
	client   *remote.Client
	session  *remote.Session
	notifier Notifier

	comfy        *http.Client
	remoteDialer *websocket.Dialer
	comfyDialer  *websocket.Dialer
}

// New builds a Bridge from the loaded configuration. The notifier
// receives the events produced by the locally handled routes.
func New(cfg *config.Config, notifier Notifier) *Bridge {
	session := remote.NewSession(cfg.Remote.Timeout())
	return &Bridge{
		cfg:          cfg,
		client:       remote.NewClient(&cfg.Remote, session),
		session:      session,
		notifier:     notifier,
		comfy:        newComfyClient(),
		remoteDialer: newBridgeDialer(cfg.ProxyURL),
		comfyDialer:  newDirectDialer(),
	}
}

// Client exposes the remote client for status reporting and tooling.
func (b *Bridge) Client() *remote.Client {
	return b.client
}

// Configured reports whether a remote instance is set up. When false the
// bridge degrades to a pure passthrough in front of ComfyUI.
func (b *Bridge) Configured() bool {
	return b.client.Configured()
}

// Middleware dispatches each request according to its classification.
// Requests the bridge handles itself never reach later handlers.
func (b *Bridge) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !b.client.Configured() {
			middleware.RecordDispatch("passthrough")
			c.Next()
			return
		}

		outcome := Classify(c.Request.URL.Path)
		middleware.RecordDispatch(outcome.String())
		switch outcome {
		case LocalEvent:
			b.handleLocalEvent(c)
			c.Abort()
		case Websocket:
			b.bridgeWebsocket(c, b.client.BaseURL(), b.remoteDialer)
			c.Abort()
		case HTTPProxy:
			forwardHTTP(c, b.client.BaseURL(), b.session.HTTPClient())
			c.Abort()
		default:
			c.Next()
		}
	}
}

// PassthroughHandler relays everything the bridge does not claim to the
// local ComfyUI origin, reusing the same tunnel machinery as the remote
// leg but over direct connections.
func (b *Bridge) PassthroughHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		target := b.cfg.GetComfyURL()
		if websocket.IsWebSocketUpgrade(c.Request) {
			b.bridgeWebsocket(c, target, b.comfyDialer)
			return
		}
		forwardHTTP(c, target, b.comfy)
	}
}

// Close releases pooled connections on both legs.
func (b *Bridge) Close() {
	b.session.Close()
	b.comfy.CloseIdleConnections()
}

// newComfyClient builds the client for the loopback hop. It carries no
// total timeout: prompt execution and event streams on the ComfyUI side
// stay open for as long as the workflow runs.
func newComfyClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			MaxConnsPerHost:     50,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			ForceAttemptHTTP2:   true,
		},
	}
}
