package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/instant-chat/instant/internal/config"
	"github.com/instant-chat/instant/internal/cookiecodec"
	"github.com/instant-chat/instant/internal/distributor"
	"github.com/instant-chat/instant/internal/envelope"
	"github.com/instant-chat/instant/internal/idallocator"
	"github.com/instant-chat/instant/internal/room"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := &config.Config{
		Webroot:          ".",
		ProducerCacheTTL: 60,
		CookiesInsecure:  true,
	}
	codec := cookiecodec.New([]byte("test-signing-key-0123456789abcdef"))
	alloc := idallocator.New()
	group := room.NewGroup(alloc)
	dist := distributor.New(group, nil)

	srv := New(Deps{
		Config:      cfg,
		Codec:       codec,
		Group:       group,
		Distributor: dist,
		Allocator:   alloc,
	})

	ts := httptest.NewServer(srv.Engine)
	t.Cleanup(ts.Close)
	return srv, ts
}

// GET / resolves through the alias to pages/main.html.
func TestStaticFetch_RootAlias(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
}

// GET /room/welcome redirects to /room/welcome/.
func TestRedirect_BareRoomPath(t *testing.T) {
	_, ts := newTestServer(t)

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Get(ts.URL + "/room/welcome")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	assert.Equal(t, "/room/welcome/", resp.Header.Get("Location"))
}

// The room WS endpoint completes the handshake and stamps
// the X-Magic-Cookie header.
func TestWSUpgrade_MagicCookie(t *testing.T) {
	_, ts := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/room/welcome/ws"

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Magic-Cookie"))
}

// Two clients join a room; a broadcast from one reaches both,
// with the sender's seq echoed and the receiver's seq absent.
func TestBroadcast_EchoFlow(t *testing.T) {
	_, ts := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/room/echoroom/ws"

	a, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer a.Close()
	drainPresence(t, a) // A's own "joined"

	b, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer b.Close()
	drainPresence(t, b) // B's own "joined"
	drainPresence(t, a) // A observes B's "joined"

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"type":"broadcast","seq":1,"data":{"text":"hi"}}`)))

	gotA := readEnvelope(t, a)
	assert.Equal(t, "broadcast", gotA.Type)
	require.NotNil(t, gotA.Seq)
	assert.Equal(t, "1", gotA.Seq.String())

	gotB := readEnvelope(t, b)
	assert.Equal(t, "broadcast", gotB.Type)
	assert.Nil(t, gotB.Seq)

	var dataA, dataB map[string]string
	require.NoError(t, json.Unmarshal(gotA.Data, &dataA))
	require.NoError(t, json.Unmarshal(gotB.Data, &dataB))
	assert.Equal(t, "hi", dataA["text"])
	assert.Equal(t, "hi", dataB["text"])
}

// Targeting a nonexistent ConnectionID replies with a
// no-such-member error to the originator.
func TestUnicast_MissingMember(t *testing.T) {
	_, ts := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/room/unicastroom/ws"

	a, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer a.Close()
	drainPresence(t, a)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"type":"unicast","to":"999999","seq":7,"data":{}}`)))

	got := readEnvelope(t, a)
	assert.Equal(t, "error", got.Type)
	require.NotNil(t, got.Seq)
	assert.Equal(t, "7", got.Seq.String())

	var data map[string]string
	require.NoError(t, json.Unmarshal(got.Data, &data))
	assert.Equal(t, "no-such-member", data["reason"])
}

// Anonymous /api/ws connections join no named room but still share the
// null room's membership, so they remain unicast-targetable by
// ConnectionID even though they receive no presence traffic. "who" still
// works against the null room, which is how a client discovers a peer's
// ConnectionID without any presence broadcast ever being sent.
func TestAPIWS_AnonymousClientsCanUnicastEachOther(t *testing.T) {
	_, ts := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"

	a, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer a.Close()

	b, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"type":"who","seq":1,"data":{}}`)))
	who := readEnvelope(t, a)
	require.Equal(t, "who", who.Type)

	var members []room.Presence
	require.NoError(t, json.Unmarshal(who.Data, &members))
	require.Len(t, members, 2)

	// Neither connection learns its own ConnectionID (the null room never
	// emits presence), so identify b as whichever uid is numerically
	// larger: connection IDs are strictly increasing and b dialed second.
	id0, err := strconv.ParseUint(members[0].UID, 10, 64)
	require.NoError(t, err)
	id1, err := strconv.ParseUint(members[1].UID, 10, 64)
	require.NoError(t, err)
	bID := members[0].UID
	if id1 > id0 {
		bID = members[1].UID
	}

	msg := `{"type":"unicast","to":"` + bID + `","seq":9,"data":{"text":"hi-b"}}`
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(msg)))

	got := readEnvelope(t, b)
	assert.Equal(t, "unicast", got.Type)
	var data map[string]string
	require.NoError(t, json.Unmarshal(got.Data, &data))
	assert.Equal(t, "hi-b", data["text"])
}

// When A disconnects, B observes a "left" event.
func TestDisconnect_EmitsLeftPresence(t *testing.T) {
	_, ts := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/room/leaveroom/ws"

	a, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	drainPresence(t, a) // A's own "joined"

	b, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer b.Close()
	drainPresence(t, b) // B's own "joined"
	drainPresence(t, a) // A observes B's "joined"

	require.NoError(t, a.Close())

	_ = b.SetReadDeadline(time.Now().Add(2 * time.Second))
	got := readEnvelope(t, b)
	assert.Equal(t, "left", got.Type)
}

func drainPresence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_ = readEnvelope(t, conn)
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var env envelope.Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}
