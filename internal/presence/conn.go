package presence

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/snarg/listen-together/internal/group"
)

// Transport timing constants (spec §4.7: "25 s ping interval and a 60 s
// pong timeout"). writeWait bounds a single frame write, independent of
// the ping/pong keep-alive.
const (
	pingPeriod     = 25 * time.Second
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 8192
	sendBufferSize = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// conn is one live WebSocket connection: the transport-independent
// connState plus the socket and its outbound send queue. Shaped directly
// on the navidrome listen-together hub's Participant read/write pump.
type conn struct {
	*connState
	ws   *websocket.Conn
	send chan []byte
	pres *Presence
}

// ServeHTTP upgrades the request to a WebSocket, authenticates the
// handshake bearer token, and runs the connection's read/write pumps until
// it closes. Registered at the single dedicated endpoint (spec §6, e.g.
// "/<brand>/listen-together").
func (p *Presence) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	ident, err := p.auth.Verify(r.Context(), token)
	if err != nil {
		http.Error(w, "auth failed", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &conn{
		connState: &connState{
			socketID: uuid.NewString(),
			userID:   ident.UserID,
			username: ident.Username,
		},
		ws:   ws,
		send: make(chan []byte, sendBufferSize),
		pres: p,
	}

	go c.writePump()
	c.readPump()
}

func bearerToken(r *http.Request) string {
	if tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return tok
	}
	return r.URL.Query().Get("token")
}

// readPump reads inbound frames, dispatches each through Presence.Dispatch,
// writes the ack, and — on a successful join-group — starts forwarding the
// returned fanout channel to the send queue for the lifetime of the room
// membership.
func (c *conn) readPump() {
	ctx := context.Background()
	var forwarding bool

	defer func() {
		c.pres.OnSocketClosed(context.Background(), c.connState)
		close(c.send)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}

		ack, joined := c.pres.Dispatch(ctx, c.connState, env)
		c.enqueue(Push{Type: "ack", Data: ack})

		if ack.OK && env.Verb == "join-group" {
			if groupID := c.currentGroup(); groupID != "" {
				if snap, ok := c.pres.JoinedState(groupID); ok {
					c.enqueue(Push{Type: "group:state", Data: snap})
				}
			}
			if joined != nil && !forwarding {
				forwarding = true
				go c.forward(joined)
			}
		}
	}
}

// forward relays one room's events to this socket's send queue as typed
// Push frames, translating each group.Event to the fixed event-name table
// from spec §4.6, until ch is closed (on Leave/disconnect).
func (c *conn) forward(ch <-chan group.Event) {
	for ev := range ch {
		typ, data := pushFor(ev)
		c.enqueue(Push{Type: typ, Data: data})
	}
}

// pushFor is C8's event→message translation: exactly the table in spec
// §4.6 from group.EventKind to the wire event name and its delta payload.
func pushFor(ev group.Event) (string, any) {
	switch ev.Kind {
	case group.EventPlaybackDelta:
		return "group:playback-delta", ev.Playback
	case group.EventQueueDelta:
		return "group:queue-delta", ev.Queue
	case group.EventWaiting:
		return "group:waiting", ev.Waiting
	case group.EventPlayAt:
		return "group:play-at", ev.PlayAt
	case group.EventMemberJoined, group.EventMemberLeft:
		return "group:member-" + string(ev.Member.Kind), ev.Member
	case group.EventGroupEnded:
		return "group:ended", ev.Ended
	default:
		return string(ev.Kind), nil
	}
}

// writePump drains the send queue to the socket and emits keep-alive
// pings on pingPeriod, mirroring the navidrome hub's WritePump.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *conn) enqueue(push Push) {
	data, err := json.Marshal(push)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		c.pres.log.Warn().Str("socketId", c.socketID).Msg("outbound send queue saturated, dropping frame")
	}
}
