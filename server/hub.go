package main

import (
	"sync"
	"time"
)

const (
	maxConnsPerIP = 8
	maxTotalConns = 1000
)

// Idle reclamation policy. Rooms and sessions are otherwise never
// reclaimed, so abandoned ones would accumulate for the process lifetime.
// Vars rather than consts so tests can shorten them.
var (
	RoomIdleTimeout   = time.Hour
	ClientIdleTimeout = 24 * time.Hour
	janitorInterval   = time.Minute
)

// Hub owns the client and room registries and serializes every inbound
// request under one lock, so session and room state never sees parallel
// mutation. Connection pumps run outside the lock.
type Hub struct {
	mu      sync.Mutex
	clients *Registry[*ClientSession]
	rooms   *Registry[*GameSession]
	archive *Archive // nil when disabled

	// Connection limiting (accessed from HTTP handlers)
	connMu     sync.Mutex
	ipConns    map[string]int
	totalConns int

	stop chan struct{}
}

func NewHub(archive *Archive) *Hub {
	return &Hub{
		clients: NewRegistry[*ClientSession]("client", clientIDBytes),
		rooms:   NewRegistry[*GameSession]("game room", roomIDBytes),
		archive: archive,
		ipConns: make(map[string]int),
		stop:    make(chan struct{}),
	}
}

func (h *Hub) CanAccept(ip string) bool {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.totalConns >= maxTotalConns {
		return false
	}
	if h.ipConns[ip] >= maxConnsPerIP {
		return false
	}
	return true
}

func (h *Hub) TrackConnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]++
	h.totalConns++
}

func (h *Hub) TrackDisconnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]--
	if h.ipConns[ip] <= 0 {
		delete(h.ipConns, ip)
	}
	h.totalConns--
}

// AttachClient binds a fresh session to its transport.
func (h *Hub) AttachClient(client *ClientSession, t Transport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.transport = t
}

// DetachClient clears the transport, unless the session has already been
// handed a newer one by a reconnect race.
func (h *Hub) DetachClient(client *ClientSession, t Transport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client.transport == t {
		client.transport = nil
	}
}

// Dispatch handles one inbound frame under the hub lock.
func (h *Hub) Dispatch(client *ClientSession, raw []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.HandleMessage(raw)
}

// HasRoom reports whether a room id is live.
func (h *Hub) HasRoom(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms.HasID(id)
}

// ClientCount returns the number of registered client sessions.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients.Len()
}

// RoomCount returns the number of live rooms.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms.Len()
}

// Run sweeps idle rooms and sessions until Stop.
func (h *Hub) Run() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.sweep(time.Now())
		case <-h.stop:
			return
		}
	}
}

func (h *Hub) Stop() {
	close(h.stop)
}

// sweep unregisters rooms with no connected member past RoomIdleTimeout
// and sessions disconnected past ClientIdleTimeout, freeing their seats.
func (h *Hub) sweep(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, room := range h.rooms.All() {
		if room.ConnectedMembers() == 0 && now.Sub(room.lastActive) > RoomIdleTimeout {
			room.Unregister()
		}
	}
	for _, client := range h.clients.All() {
		if client.transport == nil && now.Sub(client.lastActive) > ClientIdleTimeout {
			client.leaveGame()
			client.Unregister()
		}
	}
}
