package hooks

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/instant-chat/instant/internal/fileproducer"
)

// roomNamePattern is the accepted room-name grammar.
var roomNamePattern = regexp.MustCompile(`^[a-zA-Z](?:[a-zA-Z0-9_-]*[a-zA-Z0-9])?$`)

// StaticFileHook serves any path the file producer pipeline resolves
// (static pages, aliases, synthetic content) and declines everything else,
// so the chain falls through to the redirect/WS/404 hooks. The file-alias
// resolver and static-file hook are collapsed into one stage here since the
// pipeline already performs alias resolution before the producer chain runs.
type StaticFileHook struct {
	Pipeline *fileproducer.Pipeline
}

func (h *StaticFileHook) Evaluate(c *gin.Context) bool {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		return false
	}

	blob, err := h.Pipeline.Get(c.Request.Context(), c.Request.URL.Path)
	if err != nil {
		c.String(http.StatusInternalServerError, "internal error")
		return true
	}
	if blob == nil {
		return false
	}

	c.Header("Content-Type", blob.ContentType)
	c.Data(http.StatusOK, blob.ContentType, blob.Bytes)
	return true
}

// RedirectRule is a single (pattern → location template, status code) entry.
// Templates expand the same \0-\9 backreferences as fileproducer aliases.
type RedirectRule struct {
	Pattern  *regexp.Regexp
	Template string
	Code     int
}

// RedirectHook answers matching paths with an HTTP redirect: each rule is a
// (regex → template, code) triple, used for the bare
// `/room/<ROOM>` → `/room/<ROOM>/` canonicalization.
type RedirectHook struct {
	Rules []RedirectRule
}

func (h *RedirectHook) Evaluate(c *gin.Context) bool {
	path := c.Request.URL.Path
	for _, rule := range h.Rules {
		m := rule.Pattern.FindStringSubmatch(path)
		if m == nil {
			continue
		}
		location := fileproducer.ExpandBackreferences(rule.Template, m)
		c.Redirect(rule.Code, location)
		return true
	}
	return false
}

// Upgrader performs the WebSocket handshake for a claimed path and takes
// over the connection's lifetime; room == "" designates the API endpoint,
// which never joins a named room.
type Upgrader interface {
	Upgrade(c *gin.Context, room string)
}

// WSAPIHook claims exactly `/api/ws`, the anonymous (no room) endpoint.
type WSAPIHook struct {
	Hub Upgrader
}

func (h *WSAPIHook) Evaluate(c *gin.Context) bool {
	if c.Request.URL.Path != "/api/ws" || !isUpgradeRequest(c) {
		return false
	}
	h.Hub.Upgrade(c, "")
	return true
}

// roomWSPattern matches `/room/<ROOM>/ws`.
var roomWSPattern = regexp.MustCompile(`^/room/([a-zA-Z][a-zA-Z0-9_-]*)/ws$`)

// WSRoomHook claims `/room/<ROOM>/ws` and upgrades into that room, creating
// it on first successful upgrade.
type WSRoomHook struct {
	Hub Upgrader
}

func (h *WSRoomHook) Evaluate(c *gin.Context) bool {
	if !isUpgradeRequest(c) {
		return false
	}
	m := roomWSPattern.FindStringSubmatch(c.Request.URL.Path)
	if m == nil {
		return false
	}
	if !roomNamePattern.MatchString(m[1]) {
		return false
	}
	h.Hub.Upgrade(c, m[1])
	return true
}

func isUpgradeRequest(c *gin.Context) bool {
	if c.Request.Method != http.MethodGet || c.GetHeader("Upgrade") == "" {
		return false
	}
	for _, token := range strings.Split(c.GetHeader("Connection"), ",") {
		if strings.EqualFold(strings.TrimSpace(token), "upgrade") {
			return true
		}
	}
	return false
}

// NotFoundHook always claims and writes a minimal 404 body; it
// must be registered last. A rejected upgrade attempt (an Upgrade request
// no WS hook claimed) additionally gets Connection: close, since the
// client asked for a long-lived connection it isn't getting.
type NotFoundHook struct{}

func (NotFoundHook) Evaluate(c *gin.Context) bool {
	if c.GetHeader("Upgrade") != "" {
		c.Header("Connection", "close")
	}
	c.String(http.StatusNotFound, "not found")
	return true
}
