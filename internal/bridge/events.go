package bridge

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/lm-remote/LMBridge/internal/loras"
)

// Event names pushed to the frontend. They match what the stock LoRA
// Manager web extension listens for, so the bridge stays invisible to it.
const (
	EventTriggerWords = "trigger_word_update"
	EventLoraCode     = "lora_code_update"
	EventWidgetUpdate = "lm_widget_update"
)

// handleLocalEvent dispatches the four routes whose only useful side
// effect is a push to the local frontend. Proxying them would make the
// remote broadcast into its own empty listener set.
func (b *Bridge) handleLocalEvent(c *gin.Context) {
	switch c.Request.URL.Path {
	case routeTriggerWords:
		b.handleTriggerWords(c)
	case routeLoraCode:
		b.handleLoraCode(c)
	case routeWidgetUpdate:
		b.handleWidgetUpdate(c)
	case routeRegisterNodes:
		b.handleRegisterNodes(c)
	default:
		// Classify never routes anything else here.
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown event route"})
	}
}

// handleTriggerWords resolves trigger words for every requested lora and
// pushes the combined string to each addressed node.
func (b *Bridge) handleTriggerWords(c *gin.Context) {
	body := readEventBody(c)

	var words []string
	for _, name := range body.Get("lora_names").Array() {
		_, found := b.client.ResolveLora(c.Request.Context(), name.String())
		words = append(words, found...)
	}
	message := loras.JoinTriggerWords(words)

	refs := ParseNodeRefs(body.Get("node_ids"))
	for _, ref := range refs {
		b.notifier.Emit(EventTriggerWords, ref.Decorate(map[string]any{
			"message": message,
		}))
	}
	log.Debugf("bridge: trigger words pushed to %d node(s)", len(refs))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleLoraCode pushes a lora code update to the addressed nodes, or to
// every listening node when no targets are given.
func (b *Bridge) handleLoraCode(c *gin.Context) {
	body := readEventBody(c)

	code := body.Get("lora_code").String()
	mode := body.Get("mode").String()
	if mode == "" {
		mode = "replace"
	}

	var refs []NodeRef
	if ids := body.Get("node_ids"); !ids.Exists() || ids.Type == gjson.Null {
		refs = []NodeRef{Broadcast()}
	} else {
		refs = ParseNodeRefs(ids)
	}
	for _, ref := range refs {
		b.notifier.Emit(EventLoraCode, ref.Decorate(map[string]any{
			"lora_code": code,
			"mode":      mode,
		}))
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleWidgetUpdate pushes an arbitrary widget value to the addressed
// nodes. Unlike the code update there is no broadcast form, so targets
// are mandatory.
func (b *Bridge) handleWidgetUpdate(c *gin.Context) {
	body := readEventBody(c)

	widgetName := body.Get("widget_name")
	if !widgetName.Exists() || widgetName.Type == gjson.Null || widgetName.String() == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "widget_name is required"})
		return
	}
	value := body.Get("value")
	if !value.Exists() || value.Type == gjson.Null {
		c.JSON(http.StatusBadRequest, gin.H{"error": "value is required"})
		return
	}
	refs := ParseNodeRefs(body.Get("node_ids"))
	if len(refs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "node_ids is required"})
		return
	}

	for _, ref := range refs {
		b.notifier.Emit(EventWidgetUpdate, ref.Decorate(map[string]any{
			"widget_name": widgetName.String(),
			"value":       value.Value(),
		}))
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleRegisterNodes acknowledges node registration without doing
// anything. Registration binds nodes to a local model registry, and this
// install's registry lives on the remote.
func (b *Bridge) handleRegisterNodes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// readEventBody slurps the request body into a gjson document. A missing
// or unparsable body yields an empty document, which the handlers treat
// the same as one with no recognized fields.
func readEventBody(c *gin.Context) gjson.Result {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		log.Warnf("bridge: reading event body: %v", err)
		return gjson.Result{}
	}
	return gjson.ParseBytes(data)
}
