package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

var (
	errConnClosed   = errors.New("connection closed")
	errBackpressure = errors.New("send buffer full")
)

// Options tunes websocket connections.
type Options struct {
	SendBuffer  int
	WriteWait   time.Duration
	PongWait    time.Duration
	MaxFrameLen int64
}

func DefaultOptions() Options {
	return Options{
		SendBuffer:  64,
		WriteWait:   5 * time.Second,
		PongWait:    60 * time.Second,
		MaxFrameLen: 8 << 10,
	}
}

type WSHandler struct {
	coord    *app.Coordinator
	opts     Options
	upgrader websocket.Upgrader
}

func NewWSHandler(coord *app.Coordinator, opts Options) *WSHandler {
	def := DefaultOptions()
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = def.WriteWait
	}
	if opts.PongWait <= 0 {
		opts.PongWait = def.PongWait
	}
	if opts.MaxFrameLen <= 0 {
		opts.MaxFrameLen = def.MaxFrameLen
	}
	return &WSHandler{
		coord: coord,
		opts:  opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// wsConn adapts a websocket to app.Conn. Send never blocks: events go to a
// buffered channel drained by the writer goroutine, and a full buffer is an error.
type wsConn struct {
	id   app.ConnID
	ws   *websocket.Conn
	send chan domain.Event
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

func newWSConn(ws *websocket.Conn, buffer int) *wsConn {
	return &wsConn{
		id:   app.ConnID(uuid.NewString()),
		ws:   ws,
		send: make(chan domain.Event, buffer),
		done: make(chan struct{}),
	}
}

func (c *wsConn) ID() app.ConnID { return c.id }

func (c *wsConn) Send(ev domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- ev:
		return nil
	default:
		return errBackpressure
	}
}

func (c *wsConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}

// ServeWS upgrades HTTP requests to websockets and feeds decoded commands to the coordinator.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("module", "transport.ws").Msg("upgrade failed")
		return
	}

	conn := newWSConn(ws, h.opts.SendBuffer)
	h.coord.Registry().Register(conn)
	log.Debug().Str("module", "transport.ws").Str("conn", string(conn.id)).Str("remote", r.RemoteAddr).Msg("connection opened")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(conn)
	}()

	h.readPump(r.Context(), conn)

	conn.Close()
	<-writerDone
	_ = ws.Close()
	h.coord.ConnectionLost(context.Background(), conn)
	log.Debug().Str("module", "transport.ws").Str("conn", string(conn.id)).Msg("connection closed")
}

func (h *WSHandler) readPump(ctx context.Context, conn *wsConn) {
	ws := conn.ws
	ws.SetReadLimit(h.opts.MaxFrameLen)
	_ = ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "transport.ws").Str("conn", string(conn.id)).Msg("read error")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))

		cmd, err := DecodeCommand(data)
		if err != nil {
			h.coord.Reject(conn, err)
			continue
		}
		_ = h.coord.Handle(ctx, conn, cmd)

		select {
		case <-conn.done:
			// closed by the coordinator (evicted or dropped as slow)
			return
		default:
		}
	}
}

// writePump is the only goroutine writing to the socket. It drains queued
// events after the connection is closed so an eviction notice still goes out.
func (h *WSHandler) writePump(conn *wsConn) {
	ping := time.NewTicker(h.opts.PongWait * 9 / 10)
	defer ping.Stop()
	ws := conn.ws

	for {
		select {
		case ev := <-conn.send:
			if err := h.write(ws, ev); err != nil {
				log.Debug().Err(err).Str("module", "transport.ws").Str("conn", string(conn.id)).Msg("write failed")
				conn.Close()
				_ = ws.Close()
				return
			}
		case <-ping.C:
			_ = ws.SetWriteDeadline(time.Now().Add(h.opts.WriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				_ = ws.Close()
				return
			}
		case <-conn.done:
			for {
				select {
				case ev := <-conn.send:
					if err := h.write(ws, ev); err != nil {
						_ = ws.Close()
						return
					}
				default:
					_ = ws.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
						time.Now().Add(h.opts.WriteWait))
					_ = ws.Close()
					return
				}
			}
		}
	}
}

func (h *WSHandler) write(ws *websocket.Conn, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "transport.ws").Str("event", string(ev.Type)).Msg("marshal event")
		return nil
	}
	if err := ws.SetWriteDeadline(time.Now().Add(h.opts.WriteWait)); err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, data)
}

// Health reports liveness along with the number of open connections.
func (h *WSHandler) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"connections": h.coord.Registry().Count(),
	})
}
