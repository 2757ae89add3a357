package main

import (
	"encoding/json"
	"errors"
	"log"
	"math"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// tokenHashCost is deliberately low: tokens are 128-bit random values, so
// the hash is at-rest hygiene rather than a brute-force barrier, and login
// runs under the hub lock.
const tokenHashCost = 6

var ErrNotConnected = errors.New("not connected")

// ClientSession is one client identity. It outlives any single WebSocket
// connection: a reconnecting client presents its credential pair and the
// new connection's session absorbs this one's bindings. All fields are
// guarded by the hub lock; the transport itself does its own writing.
type ClientSession struct {
	hub       *Hub
	transport Transport // nil while disconnected

	id         string
	tokenHash  []byte
	registered bool
	lastActive time.Time

	queued []any

	game       *GameSession
	hostedGame *GameSession
	// hostedRoomIDSent marks that this connection saw its room id. It is
	// never copied to a reconnected session: the id must re-fire there.
	hostedRoomIDSent bool
}

func NewClientSession(hub *Hub) *ClientSession {
	return &ClientSession{hub: hub, lastActive: time.Now()}
}

func (c *ClientSession) RegistryID() string   { return c.id }
func (c *ClientSession) setRegistered(v bool) { c.registered = v }

func (c *ClientSession) touch() { c.lastActive = time.Now() }

// QueueResponse buffers messages to be prepended to the next send, for
// delivery that must survive the transport being momentarily absent.
func (c *ClientSession) QueueResponse(msgs ...any) {
	c.queued = append(c.queued, msgs...)
}

// SendResponse writes the batch, preceded by anything queued, as a single
// JSON-array frame. Without a transport the queued messages are retained
// and the error is returned to the caller, never thrown further.
func (c *ClientSession) SendResponse(msgs ...any) error {
	if c.transport == nil {
		return ErrNotConnected
	}
	if len(c.queued) > 0 {
		msgs = append(c.queued, msgs...)
		c.queued = nil
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		log.Printf("marshal response: %v", err)
		return err
	}
	return c.transport.Send(data)
}

// SendFatal reports one error message and then closes the transport with
// a fixed close code and the reason text.
func (c *ClientSession) SendFatal(text string) {
	c.SendResponse(ShowError(text))
	if c.transport != nil {
		c.transport.Close(closeCodeFatal, text)
	}
}

func (c *ClientSession) authCompleteMessages() []any {
	return []any{AuthComplete(), HostGameAvailable(), JoinRoomAvailable()}
}

// Register issues a fresh credential pair and enters the client registry.
func (c *ClientSession) Register() {
	if c.registered {
		c.SendFatal("Already registered")
		return
	}
	id, err := c.hub.clients.GenerateID()
	if err != nil {
		log.Printf("client id generation: %v", err)
		c.SendFatal("Failed to generate client id")
		return
	}
	token, err := GenerateToken()
	if err != nil {
		log.Printf("client token generation: %v", err)
		c.SendFatal("Failed to generate client token")
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), tokenHashCost)
	if err != nil {
		log.Printf("client token hashing: %v", err)
		c.SendFatal("Failed to generate client token")
		return
	}
	c.id = id
	c.tokenHash = hash
	if err := c.hub.clients.Put(c); err != nil {
		log.Printf("client registration: %v", err)
		c.SendFatal("Failed to register the client")
		return
	}
	c.SendResponse(append([]any{SetCredentials(id, token)}, c.authCompleteMessages()...)...)
}

// Unregister drops the session from the registry and closes its
// transport.
func (c *ClientSession) Unregister() {
	if !c.registered {
		return
	}
	c.hub.clients.RemoveID(c.id)
	c.SendFatal("Unregistered")
}

// Login reattaches this connection to the identity behind the credential
// pair. An unknown id or a token mismatch is not an auth failure: tokens
// are bearer credentials with no recovery path, so the session falls back
// to a fresh registration after an explanatory queued error. On a match
// the old session is force-unregistered and this one inherits its id,
// token and game bindings under the same hub lock acquisition, so the id
// is never observable as unregistered.
func (c *ClientSession) Login(id, token string) {
	if c.registered {
		c.SendFatal("Already registered")
		return
	}
	old, ok := c.hub.clients.GetByID(id)
	if !ok {
		c.QueueResponse(ShowError("Client not found, creating a new one"))
		c.Register()
		return
	}
	if bcrypt.CompareHashAndPassword(old.tokenHash, []byte(token)) != nil {
		c.QueueResponse(ShowError("Token mismatch, creating a new client"))
		c.Register()
		return
	}
	old.Unregister()
	c.id = id
	c.tokenHash = old.tokenHash
	c.game = old.game
	c.hostedGame = old.hostedGame
	if err := c.hub.clients.Put(c); err != nil {
		log.Printf("client relogin: %v", err)
		c.SendFatal("Failed to register the client")
		return
	}
	c.SendResponse(c.authCompleteMessages()...)
}

func (c *ClientSession) leaveGame() {
	if c.game == nil {
		return
	}
	game := c.game
	c.game = nil
	game.LeaveClient(c)
}

func (c *ClientSession) joinGame(game *GameSession) bool {
	return game.JoinClient(c)
}

// getHostedGame returns the client's hosted room, minting a new one when
// none exists, the previous one was reaped, or its id has already been
// revealed. A hosted room whose id is still unseen is returned unchanged,
// so an id on the client's screen is never silently rotated away.
func (c *ClientSession) getHostedGame() (*GameSession, error) {
	if c.hostedGame != nil && c.hostedGame.registered && !c.hostedRoomIDSent {
		return c.hostedGame, nil
	}
	game := c.hostedGame
	if game != nil {
		game.Unregister()
	} else {
		game = NewGameSession(c.hub)
	}
	c.hostedGame = game
	if err := game.Register(); err != nil {
		c.hostedGame = nil
		return nil, err
	}
	c.hostedRoomIDSent = false
	return game, nil
}

func (c *ClientSession) handleHostGame() {
	if !c.registered {
		c.SendResponse(ShowError("Not authenticated"))
		return
	}
	game, err := c.getHostedGame()
	if err != nil {
		log.Printf("host game: %v", err)
		c.SendResponse(ShowError("Failed to create a room"))
		return
	}
	c.hostedRoomIDSent = true
	c.QueueResponse(SetRoomID(game.roomID))
	// A reconnected session may already hold its membership
	if c.game != game && !c.joinGame(game) {
		c.SendResponse(ShowError("Failed to join the room"))
		return
	}
	c.SendResponse(game.FetchGameState(c)...)
}

func (c *ClientSession) handleJoinRoom(roomID string) {
	if !c.registered {
		c.SendResponse(ShowError("Not authenticated"))
		return
	}
	room, ok := c.hub.rooms.GetByID(roomID)
	if !ok {
		c.SendResponse(ShowError("Room not found"))
		return
	}
	room.RequestJoin(c)
}

// truncCoord coerces a wire coordinate: NaN and infinities collapse to
// zero, everything else truncates into int32.
func truncCoord(v float64) int32 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return int32(int64(v))
}

// HandleMessage authenticates the frame shape and routes the request to
// the session and, for game-scoped methods, the bound game. Malformed or
// unknown frames are fatal to the connection, never silently dropped.
func (c *ClientSession) HandleMessage(raw []byte) {
	c.touch()
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		c.SendFatal("Not a JSON message")
		return
	}
	var method string
	if err := json.Unmarshal(fields["method"], &method); err != nil {
		c.SendFatal("Server received a message without method")
		return
	}
	if !knownMethods[method] {
		c.SendFatal("Server received a message with an unknown method: " + method)
		return
	}
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		c.SendFatal("Malformed request")
		return
	}

	switch method {
	case MethRegister:
		c.Register()
	case MethLogin:
		c.Login(req.ID, req.Token)
	case MethHostGame:
		c.handleHostGame()
	case MethJoinRoom:
		c.handleJoinRoom(req.ID)
	case MethAcceptJoinRoom:
		if c.game != nil {
			c.game.AcceptJoin(c, req.ID)
		}
	case MethNewGame:
		if c.game != nil {
			c.game.RestartGame()
		}
	case MethFetchGameState:
		if c.game != nil {
			c.SendResponse(c.game.FetchGameState(c)...)
		} else {
			c.SendResponse(ClearField())
		}
	case MethPlaceSymbol:
		if c.game != nil {
			c.game.TryPlaceSymbol(c, truncCoord(req.X), truncCoord(req.Y))
		}
	}
}
