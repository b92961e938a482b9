package websocket

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cipherchat/chat_backend/chat"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 10000
)

// Inbound event names.
const (
	eventJoin            = "join"
	eventChatMessage     = "chatMessage"
	eventTyping          = "typing"
	eventSwitchRoom      = "switchRoom"
	eventCreateRoom      = "createRoom"
	eventJoinPrivateRoom = "joinPrivateRoom"
	eventRequestHistory  = "requestHistory"
	eventPing            = "ping"
)

// Client is one connected websocket peer.
type Client struct {
	id          string
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	coordinator *chat.Coordinator
}

type joinPayload struct {
	Username string `json:"username"`
	Room     string `json:"room"`
}

type chatPayload struct {
	Message string `json:"message"`
}

type privateRoomPayload struct {
	RoomName string `json:"roomName"`
	Password string `json:"password"`
}

type switchRoomPayload struct {
	Room     string `json:"room"`
	Password string `json:"password"`
}

type historyPayload struct {
	Room string `json:"room"`
}

// readPump pumps frames from the websocket connection into the
// coordinator. Runs in its own goroutine per connection, so handlers for
// the same connection are naturally ordered.
func (c *Client) readPump() {
	defer func() {
		c.coordinator.Disconnect(c.id)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("client %s read error: %v", c.id, err)
			}
			break
		}

		var envelope Envelope
		if err := json.Unmarshal(message, &envelope); err != nil {
			log.Printf("client %s sent malformed frame: %v", c.id, err)
			continue
		}
		c.dispatch(envelope)
	}
}

// writePump pumps queued frames to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued frames to the current websocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

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

func (c *Client) dispatch(envelope Envelope) {
	switch envelope.Event {
	case eventJoin:
		var payload joinPayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			c.emitError("Invalid join data")
			return
		}
		if err := c.coordinator.Join(c.id, payload.Username, payload.Room); err != nil {
			c.reportError(err, "Failed to join room")
		}

	case eventChatMessage:
		var payload chatPayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			c.emitError("Invalid message format")
			return
		}
		receipt, err := c.coordinator.SendMessage(c.id, payload.Message)
		if err != nil {
			c.reportError(err, "Failed to send message")
			return
		}
		c.hub.ToConnection(c.id, chat.EventMessageAck, receipt)

	case eventTyping:
		var isTyping bool
		if err := json.Unmarshal(envelope.Data, &isTyping); err != nil {
			return
		}
		c.coordinator.Typing(c.id, isTyping)

	case eventSwitchRoom:
		room, password := parseSwitchRoom(envelope.Data)
		if room == "" {
			c.emitError("Invalid room name")
			return
		}
		if err := c.coordinator.SwitchRoom(c.id, room, password); err != nil {
			c.reportError(err, "Failed to switch room")
		}

	case eventCreateRoom:
		var payload chat.CreateRoomRequest
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			c.emitError("Invalid room data")
			return
		}
		if err := c.coordinator.CreateRoom(c.id, payload); err != nil {
			c.reportError(err, "Failed to create room")
		}

	case eventJoinPrivateRoom:
		var payload privateRoomPayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			c.emitError("Invalid room data")
			return
		}
		if err := c.coordinator.JoinPrivateRoom(c.id, payload.RoomName, payload.Password); err != nil {
			c.reportError(err, "Failed to join room")
		}

	case eventRequestHistory:
		var payload historyPayload
		if len(envelope.Data) > 0 {
			if err := json.Unmarshal(envelope.Data, &payload); err != nil {
				c.emitError("Invalid history request")
				return
			}
		}
		if err := c.coordinator.RequestHistory(c.id, payload.Room); err != nil {
			c.reportError(err, "Failed to fetch history")
		}

	case eventPing:
		c.hub.ToConnection(c.id, "pong", json.RawMessage(envelope.Data))

	default:
		log.Printf("client %s sent unknown event %q", c.id, envelope.Event)
	}
}

// parseSwitchRoom accepts both the bare room-name form and the
// {room, password} object form of the switchRoom event.
func parseSwitchRoom(data json.RawMessage) (room, password string) {
	if err := json.Unmarshal(data, &room); err == nil {
		return room, ""
	}
	var payload switchRoomPayload
	if err := json.Unmarshal(data, &payload); err == nil {
		return payload.Room, payload.Password
	}
	return "", ""
}

// reportError maps a coordinator error onto the user-facing error event.
// Validation and authorization errors go only to this connection.
func (c *Client) reportError(err error, fallback string) {
	var validation *chat.ValidationError
	switch {
	case errors.Is(err, chat.ErrUnauthorized):
		c.emitError("Incorrect password")
	case errors.Is(err, chat.ErrRoomNotFound):
		c.emitError("Room does not exist")
	case errors.Is(err, chat.ErrNotJoined):
		c.emitError("User not found. Please refresh and try again.")
	case errors.Is(err, chat.ErrInvalidMessage):
		c.emitError("Invalid message format")
	case errors.As(err, &validation):
		c.emitError(validation.Error())
	default:
		log.Printf("client %s: %s: %v", c.id, fallback, err)
		c.emitError(fallback)
	}
}

func (c *Client) emitError(message string) {
	c.hub.ToConnection(c.id, chat.EventError, chat.ErrorNotice{Message: message})
}
