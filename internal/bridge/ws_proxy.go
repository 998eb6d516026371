package bridge

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"

	"github.com/lm-remote/LMBridge/internal/api/middleware"
	"github.com/lm-remote/LMBridge/internal/logging"
)

// bridgeUpgrader accepts the browser side of a tunnel. Origin checks
// stay permissive: the frontend reaches this host under whatever name
// ComfyUI itself is reached under.
var bridgeUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// newDirectDialer builds a dialer that connects straight to the target.
// Used for the loopback hop to ComfyUI, which must never cross a proxy.
func newDirectDialer() *websocket.Dialer {
	return &websocket.Dialer{
		HandshakeTimeout:  30 * time.Second,
		EnableCompression: true,
		NetDialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
}

// newBridgeDialer builds the dialer for the remote leg. An empty
// proxyURL defers to the environment's proxy settings; SOCKS5 proxies
// need a custom net dialer since the Proxy field only speaks HTTP
// CONNECT.
func newBridgeDialer(proxyURL string) *websocket.Dialer {
	dialer := newDirectDialer()
	dialer.Proxy = http.ProxyFromEnvironment
	if strings.TrimSpace(proxyURL) == "" {
		return dialer
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		log.Warnf("bridge: ignoring unparsable proxy-url: %v", err)
		return dialer
	}
	switch strings.ToLower(parsed.Scheme) {
	case "socks5", "socks5h":
		var auth *proxy.Auth
		if parsed.User != nil {
			password, _ := parsed.User.Password()
			auth = &proxy.Auth{User: parsed.User.Username(), Password: password}
		}
		socksDialer, err := proxy.SOCKS5("tcp", parsed.Host, auth, proxy.Direct)
		if err != nil {
			log.Warnf("bridge: socks5 proxy unavailable, dialing direct: %v", err)
			return dialer
		}
		dialer.Proxy = nil
		if contextDialer, ok := socksDialer.(proxy.ContextDialer); ok {
			dialer.NetDialContext = contextDialer.DialContext
		}
	case "http", "https":
		dialer.Proxy = http.ProxyURL(parsed)
	default:
		log.Warnf("bridge: unsupported proxy scheme %q, dialing direct", parsed.Scheme)
	}
	return dialer
}

// websocketURL translates an http(s) base into its ws(s) twin and
// attaches the request path and query.
func websocketURL(base, path, rawQuery string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = path
	u.RawQuery = rawQuery
	return u.String(), nil
}

// bridgeWebsocket upgrades the inbound connection and relays frames to
// the twin endpoint under base until either side closes. The first loop
// to stop tears the whole bridge down; there is no reconnect and no
// idle timeout.
func (b *Bridge) bridgeWebsocket(c *gin.Context, base string, dialer *websocket.Dialer) {
	target, err := websocketURL(base, c.Request.URL.Path, c.Request.URL.RawQuery)
	if err != nil {
		respondBadGateway(c, err)
		return
	}

	// The upstream leg is dialed first: while the handshake has not been
	// hijacked yet, a dial failure can still answer as plain HTTP.
	upstream, resp, err := dialer.DialContext(c.Request.Context(), target, nil)
	if err != nil {
		respondBadGateway(c, err)
		return
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = upstream.Close() }()

	client, err := bridgeUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already answered the request.
		log.Warnf("bridge: websocket upgrade failed for %s: %v", c.Request.URL.Path, err)
		return
	}
	defer func() { _ = client.Close() }()

	logging.SkipGinRequestLogging(c)
	middleware.WebsocketBridgeOpened()
	defer middleware.WebsocketBridgeClosed()
	log.Debugf("bridge: websocket bridge open for %s", c.Request.URL.Path)

	errc := make(chan error, 2)
	go relayFrames(client, upstream, "to_remote", errc)
	go relayFrames(upstream, client, "to_client", errc)

	first := <-errc
	// Closing both ends unblocks the surviving loop.
	_ = client.Close()
	_ = upstream.Close()
	<-errc

	if websocket.IsUnexpectedCloseError(first, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		log.Warnf("bridge: websocket bridge for %s ended: %v", c.Request.URL.Path, first)
	} else {
		log.Debugf("bridge: websocket bridge closed for %s", c.Request.URL.Path)
	}
}

// relayFrames pumps data frames from src to dst until a read or write
// fails. Control frames are handled by the connections themselves.
func relayFrames(src, dst *websocket.Conn, direction string, errc chan<- error) {
	for {
		msgType, message, err := src.ReadMessage()
		if err != nil {
			errc <- err
			return
		}
		middleware.RecordWebsocketFrame(direction)
		if err = dst.WriteMessage(msgType, message); err != nil {
			errc <- err
			return
		}
	}
}
