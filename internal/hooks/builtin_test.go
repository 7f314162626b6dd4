package hooks

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newContext(method, target string, header http.Header) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req := httptest.NewRequest(method, target, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	c.Request = req
	return c, w
}

type upgradeRecorder struct {
	calls []string
}

func (u *upgradeRecorder) Upgrade(c *gin.Context, room string) {
	u.calls = append(u.calls, room)
	c.Status(http.StatusSwitchingProtocols)
}

func wsHeader() http.Header {
	h := http.Header{}
	h.Set("Upgrade", "websocket")
	h.Set("Connection", "keep-alive, Upgrade")
	return h
}

func TestRedirectHook_ExpandsBackreferences(t *testing.T) {
	h := &RedirectHook{Rules: []RedirectRule{{
		Pattern:  regexp.MustCompile(`^/room/([a-zA-Z][a-zA-Z0-9_-]*)$`),
		Template: `/room/\1/`,
		Code:     http.StatusMovedPermanently,
	}}}

	c, w := newContext(http.MethodGet, "/room/welcome", nil)
	require.True(t, h.Evaluate(c))
	assert.Equal(t, http.StatusMovedPermanently, w.Code)
	assert.Equal(t, "/room/welcome/", w.Header().Get("Location"))

	c, _ = newContext(http.MethodGet, "/pages/main.html", nil)
	assert.False(t, h.Evaluate(c))
}

func TestWSRoomHook_ClaimsOnlyUpgradeRequestsOnRoomPaths(t *testing.T) {
	rec := &upgradeRecorder{}
	h := &WSRoomHook{Hub: rec}

	c, _ := newContext(http.MethodGet, "/room/welcome/ws", wsHeader())
	require.True(t, h.Evaluate(c))
	assert.Equal(t, []string{"welcome"}, rec.calls)

	// Plain GET on the same path is not an upgrade and falls through.
	c, _ = newContext(http.MethodGet, "/room/welcome/ws", nil)
	assert.False(t, h.Evaluate(c))

	// A room name that violates the grammar is declined.
	c, _ = newContext(http.MethodGet, "/room/bad-/ws", wsHeader())
	assert.False(t, h.Evaluate(c))
}

func TestWSAPIHook_ClaimsExactAPIPath(t *testing.T) {
	rec := &upgradeRecorder{}
	h := &WSAPIHook{Hub: rec}

	c, _ := newContext(http.MethodGet, "/api/ws", wsHeader())
	require.True(t, h.Evaluate(c))
	assert.Equal(t, []string{""}, rec.calls)

	c, _ = newContext(http.MethodGet, "/api/ws/extra", wsHeader())
	assert.False(t, h.Evaluate(c))
}

func TestNotFoundHook_AddsConnectionCloseOnRejectedUpgrade(t *testing.T) {
	h := NotFoundHook{}

	c, w := newContext(http.MethodGet, "/nope/ws", wsHeader())
	require.True(t, h.Evaluate(c))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "close", w.Header().Get("Connection"))

	c, w = newContext(http.MethodGet, "/nope", nil)
	require.True(t, h.Evaluate(c))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, w.Header().Get("Connection"))
}

func TestRegistry_FirstClaimWins(t *testing.T) {
	var order []string
	declined := HookFunc(func(c *gin.Context) bool {
		order = append(order, "declined")
		return false
	})
	claims := HookFunc(func(c *gin.Context) bool {
		order = append(order, "claimed")
		c.Status(http.StatusOK)
		return true
	})
	never := HookFunc(func(c *gin.Context) bool {
		order = append(order, "never")
		return true
	})

	r := NewRegistry(declined, claims)
	r.Add(never)

	c, _ := newContext(http.MethodGet, "/x", nil)
	assert.True(t, r.Dispatch(c))
	assert.Equal(t, []string{"declined", "claimed"}, order)
}
