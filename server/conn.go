package main

import (
	"errors"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 4096
	sendBufSize       = 64
	maxMessagesPerSec = 50

	// closeCodeFatal is the close code for protocol violations and
	// explicit unregistration.
	closeCodeFatal = 4001
)

// Transport is one ordered, message-framed duplex connection. Send
// enqueues one outbound frame; Close enqueues a close frame behind the
// writes already queued, so a fatal error message is flushed before the
// connection drops.
type Transport interface {
	Send(data []byte) error
	Close(code int, reason string)
}

type outFrame struct {
	data        []byte
	closeCode   int
	closeReason string
}

type wsTransport struct {
	conn *websocket.Conn
	send chan outFrame
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn, send: make(chan outFrame, sendBufSize)}
}

func (t *wsTransport) Send(data []byte) error {
	select {
	case t.send <- outFrame{data: data}:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

func (t *wsTransport) Close(code int, reason string) {
	select {
	case t.send <- outFrame{closeCode: code, closeReason: reason}:
	default:
		// Writer is wedged; drop the connection directly.
		t.conn.Close()
	}
}

// WritePump serializes all writes to the connection and keeps it alive
// with pings.
func (t *wsTransport) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		t.conn.Close()
	}()

	for {
		select {
		case frame := <-t.send:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if frame.closeCode != 0 {
				msg := websocket.FormatCloseMessage(frame.closeCode, frame.closeReason)
				t.conn.WriteMessage(websocket.CloseMessage, msg)
				return
			}
			if err := t.conn.WriteMessage(websocket.TextMessage, frame.data); err != nil {
				return
			}

		case <-ticker.C:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump reads frames and hands them to the hub one at a time. When the
// connection drops, the session is detached but kept alive for a later
// reconnect.
func (t *wsTransport) ReadPump(hub *Hub, client *ClientSession, ip string) {
	defer func() {
		hub.TrackDisconnect(ip)
		hub.DetachClient(client, t)
		t.conn.Close()
	}()

	t.conn.SetReadLimit(maxMessageSize)
	t.conn.SetReadDeadline(time.Now().Add(pongWait))
	t.conn.SetPongHandler(func(string) error {
		t.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	msgCount := 0
	msgResetAt := time.Now()

	for {
		_, message, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws error: %v", err)
			}
			break
		}

		now := time.Now()
		if now.After(msgResetAt) {
			msgCount = 0
			msgResetAt = now.Add(time.Second)
		}
		msgCount++
		if msgCount > maxMessagesPerSec {
			log.Printf("rate limit exceeded for %s, disconnecting", ip)
			break
		}

		hub.Dispatch(client, message)
	}
}
