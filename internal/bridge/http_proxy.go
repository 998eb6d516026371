package bridge

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Headers owned by the hop, never forwarded to the remote.
var strippedRequestHeaders = map[string]struct{}{
	"Host":              {},
	"Transfer-Encoding": {},
	"Connection":        {},
	"Keep-Alive":        {},
	"Upgrade":           {},
}

// Headers invalidated by re-framing the response on this side.
var strippedResponseHeaders = map[string]struct{}{
	"Transfer-Encoding": {},
	"Content-Encoding":  {},
	"Content-Length":    {},
}

// forwardHTTP relays the request to base and writes the upstream
// response back through gin. Transport failures become the 502 contract;
// this function never propagates an error to its caller.
func forwardHTTP(c *gin.Context, base string, client *http.Client) {
	target := base + c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		target += "?" + raw
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, target, c.Request.Body)
	if err != nil {
		respondBadGateway(c, err)
		return
	}
	copyRequestHeaders(req.Header, c.Request.Header)

	resp, err := client.Do(req)
	if err != nil {
		respondBadGateway(c, err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		respondBadGateway(c, err)
		return
	}

	// The encoding headers get stripped below, so the body has to leave
	// here in plain form. An undecodable body is served as received.
	if encoding := resp.Header.Get("Content-Encoding"); encoding != "" {
		decoded, decodeErr := decodeResponseBody(encoding, body)
		if decodeErr != nil {
			log.Warnf("bridge: serving %s response for %s undecoded: %v", encoding, c.Request.URL.Path, decodeErr)
		} else {
			body = decoded
		}
	}

	header := c.Writer.Header()
	for key, values := range resp.Header {
		if _, strip := strippedResponseHeaders[http.CanonicalHeaderKey(key)]; strip {
			continue
		}
		for _, v := range values {
			header.Add(key, v)
		}
	}

	c.Status(resp.StatusCode)
	if len(body) > 0 {
		_, _ = c.Writer.Write(body)
	}
}

func copyRequestHeaders(dst, src http.Header) {
	for key, values := range src {
		if _, strip := strippedRequestHeaders[http.CanonicalHeaderKey(key)]; strip {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func respondBadGateway(c *gin.Context, err error) {
	log.Warnf("bridge: remote request for %s failed: %v", c.Request.URL.Path, err)
	c.JSON(http.StatusBadGateway, gin.H{
		"error": fmt.Sprintf("Remote LoRA Manager unavailable: %v", err),
	})
}
