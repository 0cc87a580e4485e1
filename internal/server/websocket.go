package server

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"primeduel/internal/protocol"
)

const sendBuffer = 64

// Conns maps connection ids to their outbound queues. It implements
// session.Notifier: Send never blocks and drops messages for slow or
// unknown connections.
type Conns struct {
	mu  sync.RWMutex
	out map[string]chan []byte
	log zerolog.Logger
}

// NewConns creates an empty connection registry.
func NewConns(log zerolog.Logger) *Conns {
	return &Conns{out: make(map[string]chan []byte), log: log.With().Str("component", "conns").Logger()}
}

// Send encodes msg and queues it for the connection.
func (c *Conns) Send(id string, msg protocol.Outbound) {
	data, err := protocol.Encode(msg)
	if err != nil {
		c.log.Error().Err(err).Str("type", msg.OutboundType()).Msg("encode")
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.out[id]
	if !ok {
		return
	}
	select {
	case ch <- data:
	default:
		c.log.Warn().Str("conn", id).Str("type", msg.OutboundType()).Msg("send buffer full, dropping message")
	}
}

// Len returns the number of open connections.
func (c *Conns) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.out)
}

func (c *Conns) add(id string) <-chan []byte {
	ch := make(chan []byte, sendBuffer)
	c.mu.Lock()
	c.out[id] = ch
	c.mu.Unlock()
	return ch
}

func (c *Conns) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.out[id]; ok {
		close(ch)
		delete(c.out, id)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // allow any origin for dev
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket accept")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	id := uuid.NewString()
	log := s.log.With().Str("conn", id).Logger()
	send := s.conns.add(id)
	log.Info().Str("remote", r.RemoteAddr).Msg("connection opened")

	// Writer goroutine: drain the queue to the websocket
	go func() {
		for msg := range send {
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				cancel()
				return
			}
		}
	}()

	// Reader loop: decode and dispatch
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		msg, err := protocol.DecodeInbound(data)
		if err != nil {
			log.Debug().Err(err).Msg("bad frame")
			s.conns.Send(id, protocol.Error{Reason: "invalid message"})
			continue
		}
		s.hub.Dispatch(ctx, id, msg)
	}

	s.hub.Disconnect(id)
	s.conns.remove(id)
	log.Info().Msg("connection closed")
}
