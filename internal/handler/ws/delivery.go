// Package ws is the enterprise transport: one websocket per connection,
// bearer-token admission, canonical JSON frames both ways.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaychat/chat-bridge-service/internal/adapter/pubsub"
	"github.com/relaychat/chat-bridge-service/internal/adapter/store"
	"github.com/relaychat/chat-bridge-service/internal/domain/model"
	"github.com/relaychat/chat-bridge-service/internal/domain/registry"
	"github.com/relaychat/chat-bridge-service/internal/ratelimit"
	"github.com/relaychat/chat-bridge-service/internal/service"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Verifier is the credential capability the handler needs from the
// directory adapter.
type Verifier interface {
	VerifyIdentity(token string) (registry.Identity, error)
}

// Options tune the transport boundary.
type Options struct {
	// MaxFrameBytes bounds a single inbound websocket frame.
	MaxFrameBytes int64
	// SendBuffer is the per-connection outbox depth.
	SendBuffer int
}

type Handler struct {
	logger     *slog.Logger
	engine     *service.Engine
	reg        *registry.Registry
	limiter    *ratelimit.Limiter
	verifier   Verifier
	store      *store.Store
	dispatcher *pubsub.Dispatcher
	upgrader   websocket.Upgrader
	opts       Options
}

func NewHandler(
	logger *slog.Logger,
	engine *service.Engine,
	reg *registry.Registry,
	limiter *ratelimit.Limiter,
	verifier Verifier,
	st *store.Store,
	dispatcher *pubsub.Dispatcher,
	opts Options,
) *Handler {
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = 10000
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	return &Handler{
		logger:     logger,
		engine:     engine,
		reg:        reg,
		limiter:    limiter,
		verifier:   verifier,
		store:      st,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		opts: opts,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	remoteAddr := remoteHost(r)
	userAgent := r.UserAgent()

	// Blocked and rate-limited callers get the same generic refusal;
	// the response never explains which limit tripped.
	if h.limiter.IsBlocked(remoteAddr) {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	if res := h.limiter.CheckConnectionRate(remoteAddr); !res.Allowed {
		h.store.RecordAudit("connection.rate_limited", "", nil, false, remoteAddr, userAgent)
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	token := bearerToken(r)
	if token == "" {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}
	if res := h.limiter.CheckLoginRate(remoteAddr); !res.Allowed {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	identity, err := h.verifier.VerifyIdentity(token)
	if err != nil {
		h.store.RecordAudit("login.failed", "", nil, false, remoteAddr, userAgent)
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", slog.Any("err", err))
		return
	}

	snk := newSink(h.opts.SendBuffer)
	conn, err := h.reg.AdmitEnterprise(r.Context(), identity, snk, remoteAddr, userAgent)
	if err != nil {
		// Typed rejection; the caller owns closing the refused socket.
		h.store.RecordAudit("connection.rejected", identity.ID,
			map[string]string{"reason": err.Error()}, false, remoteAddr, userAgent)
		code := websocket.ClosePolicyViolation
		if errors.Is(err, registry.ErrCapacityExceeded) {
			code = websocket.CloseTryAgainLater
		}
		_ = socket.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, "connection refused"),
			time.Now().Add(writeWait))
		socket.Close()
		return
	}

	h.store.RecordAudit("connection.accepted", identity.ID, nil, true, remoteAddr, userAgent)
	h.engine.BroadcastIdentityJoined(conn.DisplayName, conn.IdentityID)

	l := h.logger.With(
		slog.String("conn_id", conn.ID.String()),
		slog.String("identity_id", conn.IdentityID),
	)
	l.Info("ws opened")

	go h.writePump(socket, snk)
	h.readPump(r.Context(), socket, conn, l)
}

// readPump processes inbound frames in arrival order until the socket dies,
// then drives eviction. It is the sole reader on the wire.
func (h *Handler) readPump(ctx context.Context, socket *websocket.Conn, conn *registry.EnterpriseConn, l *slog.Logger) {
	defer h.reg.Evict(conn.ID)

	socket.SetReadLimit(h.opts.MaxFrameBytes)
	_ = socket.SetReadDeadline(time.Now().Add(pongWait))
	socket.SetPongHandler(func(string) error {
		conn.Touch()
		return socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				l.Warn("ws read failed", slog.Any("err", err))
			} else {
				l.Info("ws closed")
			}
			return
		}

		var msg model.CanonicalMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			l.Debug("malformed frame dropped", slog.Any("err", err))
			continue
		}

		_, accepted := h.engine.HandleEnterpriseInbound(conn, &msg)
		if accepted == nil {
			continue
		}
		if _, err := h.store.PersistMessage(accepted); err != nil {
			l.Warn("message persist failed", slog.String("msg_id", accepted.ID), slog.Any("err", err))
		}
		h.dispatcher.PublishAsync(ctx, accepted)
	}
}

// writePump owns all writes on the socket: queued frames plus keep-alive
// pings. Exits when the sink closes or a write fails.
func (h *Handler) writePump(socket *websocket.Conn, snk *sink) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		socket.Close()
	}()

	for {
		select {
		case <-snk.done:
			_ = socket.SetWriteDeadline(time.Now().Add(writeWait))
			_ = socket.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case data := <-snk.outbox:
			_ = socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := socket.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
