// Package ws is the websocket transport in front of the game registry.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/youngZwiebelandtheGemuseBeat/goban/server/internal/game"
	"github.com/youngZwiebelandtheGemuseBeat/goban/server/internal/protocol"
)

const (
	maxFrameBytes = 16 * 1024
	pingInterval  = 15 * time.Second
	writeTimeout  = 10 * time.Second
)

// Hub accepts websocket connections, decodes their frames and hands the
// requests to the registry.
type Hub struct {
	registry       *game.Registry
	logger         *zap.Logger
	originPatterns []string

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// NewHub creates a hub. originPatterns are host patterns (as accepted by
// websocket.AcceptOptions) allowed to open a connection from a browser.
func NewHub(registry *game.Registry, logger *zap.Logger, originPatterns []string) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		registry:       registry,
		logger:         logger,
		originPatterns: originPatterns,
		clients:        map[*Client]struct{}{},
	}
}

// Handler serves /health and upgrades every other path, including the
// root that browser clients dial.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.ServeWS)
	mux.HandleFunc("/ws", h.ServeWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Connections reports how many websocket clients are attached.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and runs the connection until it ends.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Debug("websocket accept failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client := newClient(conn)
	log := h.logger.With(zap.String("client_id", client.id))

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	log.Info("client connected", zap.String("remote", r.RemoteAddr))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(ctx, cancel, client, log)
	}()

	h.readLoop(ctx, client, log)

	// Release the seat before the queue closes so that a concurrent
	// broadcast sees either a live client or a delivery failure.
	h.registry.OnDisconnect(client)
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
	client.close()
	<-writerDone

	log.Info("client disconnected")
}

func (h *Hub) readLoop(ctx context.Context, client *Client, log *zap.Logger) {
	for {
		typ, data, err := client.conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				log.Debug("read ended", zap.Error(err))
			}
			return
		}
		if typ != websocket.MessageText {
			h.reply(ctx, client, protocol.NewErrorFrame(string(game.CodeMalformedRequest), "invalid message format"), log)
			continue
		}

		req, err := protocol.Decode(data)
		if err != nil {
			var unknown *protocol.UnknownTypeError
			if errors.As(err, &unknown) {
				log.Debug("unknown message type", zap.String("type", unknown.Type))
				h.reply(ctx, client, protocol.NewErrorFrame(string(game.CodeUnknownType), "unknown message type: "+unknown.Type), log)
				continue
			}
			log.Debug("malformed frame", zap.Error(err))
			h.reply(ctx, client, protocol.NewErrorFrame(string(game.CodeMalformedRequest), "invalid message format"), log)
			continue
		}

		h.registry.Handle(ctx, client, req)
	}
}

func (h *Hub) reply(ctx context.Context, client *Client, msg protocol.Message, log *zap.Logger) {
	if err := client.Send(ctx, msg); err != nil {
		log.Warn("delivery failed", zap.String("type", msg.MessageType()), zap.Error(err))
	}
}

// writeLoop drains the client's queue and keeps the connection alive with
// pings. A failed write cancels ctx, which ends the read loop.
func (h *Hub) writeLoop(ctx context.Context, cancel context.CancelFunc, client *Client, log *zap.Logger) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case msg, ok := <-client.send:
			if !ok {
				_ = client.conn.Close(websocket.StatusNormalClosure, "bye")
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := client.conn.Write(wctx, websocket.MessageText, msg)
			wcancel()
			if err != nil {
				log.Debug("write failed", zap.Error(err))
				cancel()
				h.drain(client)
				return
			}
		case <-ping.C:
			pctx, pcancel := context.WithTimeout(ctx, writeTimeout)
			err := client.conn.Ping(pctx)
			pcancel()
			if err != nil {
				log.Debug("ping failed", zap.Error(err))
				cancel()
				h.drain(client)
				return
			}
		}
	}
}

// drain discards queued frames until the queue is closed.
func (h *Hub) drain(client *Client) {
	for range client.send {
	}
}
