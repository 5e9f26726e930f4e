package scribe

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bosley/medscribe/transcription"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10
)

type wsConnection struct {
	conn      *websocket.Conn
	requestID string
	send      chan []byte
	done      chan struct{}
	log       *slog.Logger
	closeOnce sync.Once
}

// handleWebSocket runs one full-mode transcription per connection. The client
// sends the audio as a single binary message; the server pushes a segment
// message per decoded segment and finishes with a result or error message.
func (s *Scribe) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id, done := s.requests.track("websocket", r.RemoteAddr)
	defer done()

	query := r.URL.Query()
	req := transcription.Request{
		ID:          id.String(),
		Mode:        transcription.ModeFull,
		ContentType: query.Get("content_type"),
		Filename:    query.Get("filename"),
		Language:    query.Get(fieldLanguage),
		Prompt:      query.Get(fieldInitialPrompt),
	}
	if req.Language == "" {
		req.Language = s.config.Language
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err, "request_id", id)
		return
	}

	c := &wsConnection{
		conn:      conn,
		requestID: id.String(),
		send:      make(chan []byte, 256),
		done:      make(chan struct{}),
		log:       s.log.With("request_id", id.String()),
	}
	go c.writePump()

	ctx, cancel := s.requestContext(r.Context())
	defer cancel()
	c.readPump(ctx, s, req)
}

// readPump waits for the audio message and runs the transcription on it.
func (c *wsConnection) readPump(ctx context.Context, s *Scribe, req transcription.Request) {
	defer c.finish()

	if s.config.MaxBodyBytes > 0 {
		c.conn.SetReadLimit(s.config.MaxBodyBytes)
	}
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	msgType, data, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
			c.log.Error("websocket read error", "error", err)
		}
		if err == websocket.ErrReadLimit {
			c.queue(messageError, wsErrorPayload{Status: http.StatusRequestEntityTooLarge, Detail: "audio message too large"})
		}
		return
	}
	if msgType != websocket.BinaryMessage {
		c.queue(messageError, wsErrorPayload{Status: http.StatusBadRequest, Detail: "expected a binary audio message"})
		return
	}

	req.Audio = data
	req.OnSegment = func(seg transcription.Segment) {
		c.queue(messageSegment, seg)
	}
	res, err := s.service.Transcribe(ctx, req)
	if err != nil {
		status, detail := errorStatus(req.Mode, err)
		c.queue(messageError, wsErrorPayload{Status: status, Detail: detail})
		return
	}
	c.queue(messageResult, newTranscribeResponse(res))
}

// queue hands a message to the write pump. Messages are dropped once the
// pump has exited.
func (c *wsConnection) queue(kind string, payload any) {
	message, err := json.Marshal(WebSocketMessage{
		Type:      kind,
		RequestID: c.requestID,
		Timestamp: time.Now(),
		Payload:   payload,
	})
	if err != nil {
		c.log.Error("failed to encode websocket message", "error", err, "type", kind)
		return
	}
	select {
	case c.send <- message:
	case <-c.done:
	}
}

// finish closes the send queue so the write pump flushes and says goodbye.
func (c *wsConnection) finish() {
	c.closeOnce.Do(func() { close(c.send) })
	<-c.done
}

func (c *wsConnection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.done)
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
