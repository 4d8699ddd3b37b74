package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tagbox/internal/app/broadcast"
	"github.com/osa030/tagbox/internal/domain/observer"
)

// Inbound message types.
const (
	MsgJoin      = "join"
	MsgLeave     = "leave"
	MsgOperation = "operation"
	MsgPing      = "ping"
)

// Reply types. Broadcast envelopes carry eventType instead of type.
const (
	ReplyWelcome = "welcome"
	ReplyJoined  = "joined"
	ReplyLeft    = "left"
	ReplyPong    = "pong"
	ReplyError   = "error"
)

// Reply error codes.
const (
	CodeInvalidMessage = "invalid_message"
	CodeInvalidRoom    = "invalid_room"
	CodeUnknownType    = "unknown_type"
	CodeInternal       = "internal"
)

const (
	maxMessageSize    = 64 * 1024
	defaultPingPeriod = 30 * time.Second
	disconnectTimeout = 5 * time.Second
)

// Message is a client-to-server frame.
type Message struct {
	Type       string         `json:"type"`
	Room       string         `json:"room,omitempty"`
	ClientOpID string         `json:"clientOpId,omitempty"`
	Command    string         `json:"command,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
}

// Reply is a direct server-to-client answer to a Message.
type Reply struct {
	Type      string `json:"type"`
	ClientID  string `json:"clientId,omitempty"`
	Room      string `json:"room,omitempty"`
	ServerSeq uint64 `json:"serverSeq,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Session is the part of the session manager the handler drives.
type Session interface {
	Connect(remoteAddr, userAgent string) *observer.Session
	Join(ctx context.Context, clientID, room string) (uint64, error)
	Leave(ctx context.Context, clientID, room string) error
	SubmitOperation(ctx context.Context, clientID, clientOpID string, op broadcast.Operation) (broadcast.OperationRecord, error)
	Disconnect(ctx context.Context, clientID string)
}

// Handler upgrades HTTP requests to websocket observer sessions.
type Handler struct {
	session    Session
	hub        *Hub
	upgrader   websocket.Upgrader
	pingPeriod time.Duration
}

// NewHandler creates a websocket handler.
func NewHandler(session Session, hub *Hub) *Handler {
	return &Handler{
		session: session,
		hub:     hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		pingPeriod: defaultPingPeriod,
	}
}

// SetPingPeriod changes the keepalive interval. The read deadline is twice
// the ping period.
func (h *Handler) SetPingPeriod(d time.Duration) {
	h.pingPeriod = d
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zlog.Warn().Err(err).Msgf("ws: upgrade failed: remote=%s", r.RemoteAddr)
		return
	}
	defer conn.Close()

	s := h.session.Connect(r.RemoteAddr, r.UserAgent())
	h.hub.Register(s.ID, conn)
	defer func() {
		h.hub.Unregister(s.ID)
		ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		h.session.Disconnect(ctx, s.ID)
	}()

	if err := h.hub.Send(s.ID, Reply{Type: ReplyWelcome, ClientID: s.ID}); err != nil {
		zlog.Warn().Err(err).Msgf("ws: failed to greet client: client=%s", s.ID)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.keepalive(ctx, conn)

	h.readLoop(ctx, s.ID, conn)
}

func (h *Handler) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.pingPeriod)); err != nil {
				return
			}
		}
	}
}

func (h *Handler) readLoop(ctx context.Context, clientID string, conn *websocket.Conn) {
	readWait := 2 * h.pingPeriod
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				zlog.Info().Err(err).Msgf("ws: connection lost: client=%s", clientID)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			h.replyError(clientID, CodeInvalidMessage, err)
			continue
		}
		h.dispatch(ctx, clientID, msg)
	}
}

func (h *Handler) dispatch(ctx context.Context, clientID string, msg Message) {
	switch msg.Type {
	case MsgJoin:
		seq, err := h.session.Join(ctx, clientID, msg.Room)
		if err != nil {
			h.replyError(clientID, roomErrorCode(err), err)
			return
		}
		h.reply(clientID, Reply{Type: ReplyJoined, Room: msg.Room, ServerSeq: seq})
	case MsgLeave:
		if err := h.session.Leave(ctx, clientID, msg.Room); err != nil {
			h.replyError(clientID, roomErrorCode(err), err)
			return
		}
		h.reply(clientID, Reply{Type: ReplyLeft, Room: msg.Room})
	case MsgOperation:
		op := broadcast.Operation{Command: msg.Command, Args: msg.Args}
		// The ack or error is delivered as a broadcast envelope.
		if _, err := h.session.SubmitOperation(ctx, clientID, msg.ClientOpID, op); err != nil {
			h.replyError(clientID, CodeInternal, err)
		}
	case MsgPing:
		h.reply(clientID, Reply{Type: ReplyPong})
	default:
		h.reply(clientID, Reply{Type: ReplyError, Code: CodeUnknownType, Message: "unknown message type " + msg.Type})
	}
}

func roomErrorCode(err error) string {
	if errors.Is(err, broadcast.ErrInvalidRoom) {
		return CodeInvalidRoom
	}
	return CodeInternal
}

func (h *Handler) replyError(clientID, code string, err error) {
	h.reply(clientID, Reply{Type: ReplyError, Code: code, Message: err.Error()})
}

func (h *Handler) reply(clientID string, r Reply) {
	if err := h.hub.Send(clientID, r); err != nil {
		zlog.Debug().Err(err).Msgf("ws: failed to reply: client=%s type=%s", clientID, r.Type)
	}
}
