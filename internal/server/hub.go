// Package server assembles the request pipeline out of the
// hooks, file producer, room, and distributor packages, and performs the
// WebSocket upgrade itself (the one piece the rest of the core depends on
// but doesn't implement).
package server

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/instant-chat/instant/internal/distributor"
	"github.com/instant-chat/instant/internal/envelope"
	"github.com/instant-chat/instant/internal/idallocator"
	"github.com/instant-chat/instant/internal/logging"
	"github.com/instant-chat/instant/internal/metrics"
	"github.com/instant-chat/instant/internal/ratelimit"
	"github.com/instant-chat/instant/internal/room"
	"go.uber.org/zap"
	"k8s.io/utils/set"
)

// Hub performs the WebSocket upgrade state machine and
// hands the resulting connection to the room/distributor fabric. It
// implements hooks.Upgrader.
type Hub struct {
	group      *room.Group
	dist       *distributor.Distributor
	alloc      *idallocator.Allocator
	rateLimit  *ratelimit.RateLimiter
	upgrader   websocket.Upgrader
	allowAll   bool
	allowed    set.Set[string]
	mu         sync.Mutex
	clients    map[envelope.ConnectionID]*room.Client
	shutdownCh chan struct{}
}

// NewHub builds a Hub. allowedOrigins is a comma-free list of origins
// (scheme://host[:port]) permitted for the WS handshake's Origin header; an
// empty list allows every origin (useful for non-browser clients and local
// development, which send no Origin header at all).
func NewHub(group *room.Group, dist *distributor.Distributor, alloc *idallocator.Allocator, rl *ratelimit.RateLimiter, allowedOrigins []string) *Hub {
	h := &Hub{
		group:      group,
		dist:       dist,
		alloc:      alloc,
		rateLimit:  rl,
		allowAll:   len(allowedOrigins) == 0,
		allowed:    set.New(allowedOrigins...),
		clients:    make(map[envelope.ConnectionID]*room.Client),
		shutdownCh: make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if h.allowAll {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.allowed.UnsortedList() {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return true
		}
	}
	return false
}

// Upgrade implements hooks.Upgrader. roomName == "" designates the bare
// /api/ws endpoint, which never joins a named room.
func (h *Hub) Upgrade(c *gin.Context, roomName string) {
	if h.rateLimit != nil && !h.rateLimit.CheckWebSocket(c) {
		return
	}

	magicCookie, err := randomMagicCookie()
	if err != nil {
		c.String(http.StatusInternalServerError, "internal error")
		return
	}
	responseHeader := http.Header{}
	responseHeader.Set("X-Magic-Cookie", fmt.Sprintf("%q", magicCookie))

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, responseHeader)
	if err != nil {
		logging.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	id := envelope.ConnectionID(h.alloc.Next())
	client := room.NewClient(
		id,
		conn,
		h.dist,
		c.ClientIP(),
		c.Request.UserAgent(),
		c.Request.Referer(),
		sessionTokenFromContext(c),
		sessionIDFromContext(c),
	)

	h.register(client)
	metrics.IncConnection()

	ctx := context.Background()
	if roomName != "" {
		h.dist.JoinRoom(ctx, client, roomName)
	} else {
		h.dist.JoinNull(client)
	}

	go client.WritePump()
	go func() {
		client.ReadPump(ctx)
		h.unregister(client.ID)
	}()
}

func (h *Hub) register(c *room.Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
}

func (h *Hub) unregister(id envelope.ConnectionID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, id)
}

// Shutdown closes every live connection with WebSocket code 1001 (going
// away) and waits up to grace for the write pumps to flush, satisfying
// the rule that a server shutdown sends close (1001) to all clients, waits
// up to 5s, then severs remaining sockets.
func (h *Hub) Shutdown(grace time.Duration) {
	h.mu.Lock()
	clients := make([]*room.Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close(1001, "server shutting down")
	}

	deadline := time.After(grace)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-deadline:
			return
		case <-ticker.C:
			if h.activeCount() == 0 {
				return
			}
		}
	}
}

func (h *Hub) activeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func randomMagicCookie() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
