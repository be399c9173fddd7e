// Package tcp is the legacy transport: a plain TCP listener speaking
// line-delimited JSON frames, with server-assigned display names and
// periodic keep-alive pings.
package tcp

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/relaychat/chat-bridge-service/internal/adapter/pubsub"
	"github.com/relaychat/chat-bridge-service/internal/adapter/store"
	"github.com/relaychat/chat-bridge-service/internal/domain/model"
	"github.com/relaychat/chat-bridge-service/internal/domain/registry"
	"github.com/relaychat/chat-bridge-service/internal/ratelimit"
	"github.com/relaychat/chat-bridge-service/internal/service"
)

// Options tune the legacy transport boundary.
type Options struct {
	Addr string
	// PingInterval drives keep-alive frames. A missing pong is only a
	// liveness hint; eviction is driven by transport close/error.
	PingInterval time.Duration
	// MaxLineBytes bounds one inbound wire line.
	MaxLineBytes int
	// SendBuffer is the per-connection outbox depth.
	SendBuffer int
}

// Listener accepts legacy sockets and pumps their frames through the engine.
type Listener struct {
	logger     *slog.Logger
	engine     *service.Engine
	reg        *registry.Registry
	limiter    *ratelimit.Limiter
	store      *store.Store
	dispatcher *pubsub.Dispatcher
	opts       Options

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

func NewListener(
	logger *slog.Logger,
	engine *service.Engine,
	reg *registry.Registry,
	limiter *ratelimit.Limiter,
	st *store.Store,
	dispatcher *pubsub.Dispatcher,
	opts Options,
) *Listener {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = 10000
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	return &Listener{
		logger:     logger,
		engine:     engine,
		reg:        reg,
		limiter:    limiter,
		store:      st,
		dispatcher: dispatcher,
		opts:       opts,
	}
}

// Start binds the listener and launches the accept loop.
func (l *Listener) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", l.opts.Addr)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()

	l.logger.Info("legacy listener started", slog.String("addr", l.opts.Addr))

	l.wg.Add(1)
	go l.acceptLoop(ln)
	return nil
}

// Stop closes the listener and evicts every live legacy connection.
func (l *Listener) Stop(_ context.Context) error {
	l.mu.Lock()
	ln := l.ln
	l.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	for _, conn := range l.reg.AllLegacy() {
		l.reg.Evict(conn.ID)
	}
	l.wg.Wait()
	return nil
}

func (l *Listener) acceptLoop(ln net.Listener) {
	defer l.wg.Done()
	for {
		socket, err := ln.Accept()
		if err != nil {
			// Listener closed on shutdown.
			return
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handle(socket)
		}()
	}
}

// refusal is the generic frame sent to refused sockets. It deliberately
// does not say why; rate-limit internals must not leak to abusers.
var refusal = &model.LegacyMessage{Type: model.LegacyNotice, Payload: "connection refused"}

func (l *Listener) handle(socket net.Conn) {
	remoteAddr := hostOf(socket.RemoteAddr().String())

	if l.limiter.IsBlocked(remoteAddr) {
		l.refuse(socket)
		return
	}
	if res := l.limiter.CheckConnectionRate(remoteAddr); !res.Allowed {
		l.store.RecordAudit("connection.rate_limited", "", nil, false, remoteAddr, "")
		l.refuse(socket)
		return
	}

	snk := newSink(l.opts.SendBuffer)
	conn, err := l.reg.AdmitLegacy(snk, remoteAddr)
	if err != nil {
		l.store.RecordAudit("connection.rejected", "",
			map[string]string{"reason": err.Error()}, false, remoteAddr, "")
		l.refuse(socket)
		return
	}

	l.store.RecordAudit("connection.accepted", "legacy-"+conn.ID.String(), nil, true, remoteAddr, "")

	lg := l.logger.With(
		slog.String("conn_id", conn.ID.String()),
		slog.String("assigned_name", conn.AssignedName),
	)
	lg.Info("legacy connection opened")

	// Hand the client its server-assigned name before anything else.
	if frame, err := (&model.LegacyMessage{
		Type:    model.LegacyNameAssigned,
		Payload: conn.AssignedName,
	}).Encode(); err == nil {
		snk.Send(frame)
	}

	l.engine.BroadcastIdentityJoined(conn.AssignedName, "legacy-"+conn.ID.String())

	go l.writePump(socket, snk)
	l.readPump(socket, conn, snk, lg)
}

func (l *Listener) refuse(socket net.Conn) {
	if data, err := refusal.Encode(); err == nil {
		_ = socket.SetWriteDeadline(time.Now().Add(5 * time.Second))
		_, _ = socket.Write(append(data, '\n'))
	}
	_ = socket.Close()
}

// readPump consumes wire lines in arrival order until the socket dies, then
// drives eviction. Ping/pong frames are transport-level and never reach the
// translator.
func (l *Listener) readPump(socket net.Conn, conn *registry.LegacyConn, snk *sink, lg *slog.Logger) {
	defer l.reg.Evict(conn.ID)

	scanner := bufio.NewScanner(socket)
	scanner.Buffer(make([]byte, 0, 4096), l.opts.MaxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		frame, err := model.DecodeLegacy(line)
		if err != nil {
			lg.Debug("malformed line dropped", slog.Any("err", err))
			continue
		}

		switch frame.Type {
		case model.LegacyPing:
			if data, err := (&model.LegacyMessage{Type: model.LegacyPong}).Encode(); err == nil {
				snk.Send(data)
			}
			conn.Touch()
			continue
		case model.LegacyPong:
			conn.Touch()
			continue
		}

		_, accepted := l.engine.HandleLegacyInbound(conn, frame)
		if accepted == nil {
			continue
		}
		if _, err := l.store.PersistMessage(accepted); err != nil {
			lg.Warn("message persist failed", slog.String("msg_id", accepted.ID), slog.Any("err", err))
		}
		l.dispatcher.PublishAsync(context.Background(), accepted)
	}

	if err := scanner.Err(); err != nil {
		lg.Info("legacy connection closed", slog.Any("err", err))
	} else {
		lg.Info("legacy connection closed")
	}
}

// writePump owns all writes: queued frames plus keep-alive pings.
func (l *Listener) writePump(socket net.Conn, snk *sink) {
	ticker := time.NewTicker(l.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = socket.Close()
	}()

	ping, _ := (&model.LegacyMessage{Type: model.LegacyPing}).Encode()

	for {
		select {
		case <-snk.done:
			return
		case data := <-snk.outbox:
			_ = socket.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if _, err := socket.Write(append(data, '\n')); err != nil {
				return
			}
		case <-ticker.C:
			_ = socket.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if _, err := socket.Write(append(ping, '\n')); err != nil {
				return
			}
		}
	}
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
