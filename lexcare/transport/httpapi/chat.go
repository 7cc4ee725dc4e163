package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ZanzyTHEbar/lexcare/lexcare/turn"
)

const (
	chatWriteWait  = 10 * time.Second
	chatPongWait   = 60 * time.Second
	chatPingPeriod = chatPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Authentication and origin policy belong to the fronting proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// chatMessage is one inbound chat frame. UserID and ConversationID default
// to the query parameters of the upgrade request.
type chatMessage struct {
	UserID         string `json:"user_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Text           string `json:"text"`
}

// chatReply is one outbound frame: a turn result or an error.
type chatReply struct {
	Turn  *turn.Result `json:"turn,omitempty"`
	Error string       `json:"error,omitempty"`
}

// chat runs one turn per inbound message until the client disconnects.
func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	conversationID := r.URL.Query().Get("conversation_id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		s.logger.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxBodyBytes)
	_ = conn.SetReadDeadline(time.Now().Add(chatPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(chatPongWait))
	})

	ctx := r.Context()
	done := make(chan struct{})
	defer close(done)
	go s.keepAlive(conn, done)

	log := s.logger.With().Str("user_id", userID).Logger()
	log.Info().Msg("Chat connected")

	for {
		var msg chatMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Chat read failed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(chatPongWait))

		in := turn.Input{UserID: msg.UserID, ConversationID: msg.ConversationID, Text: msg.Text}
		if in.UserID == "" {
			in.UserID = userID
		}
		if in.ConversationID == "" {
			in.ConversationID = conversationID
		}

		var reply chatReply
		res, err := s.turns.Orchestrate(ctx, in)
		if err != nil {
			_, reply.Error = turnStatus(err)
			if !errors.Is(err, turn.ErrEmptyInput) {
				log.Error().Err(err).Msg("Chat turn failed")
			}
		} else {
			reply.Turn = res
		}

		if err := s.writeFrame(conn, reply); err != nil {
			log.Debug().Err(err).Msg("Chat write failed")
			return
		}
	}
}

// writeFrame is the only data writer; keepAlive sends control frames only,
// which may run concurrently with it.
func (s *Server) writeFrame(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(chatWriteWait))
	return conn.WriteJSON(v)
}

func (s *Server) keepAlive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(chatPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(chatWriteWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
