package main

import (
	"log"
	"time"
)

const (
	// winRunLength is how many symbols in a row win the game.
	winRunLength = 5
	// maxSymbolDistance bounds how far a new symbol may land from the
	// box enclosing all existing symbols, so a stray click cannot grow
	// the board without limit.
	maxSymbolDistance = 100
	maxRoomMembers    = 2
)

// winDirections are the four undirected lines scanned after a placement.
var winDirections = [4][2]int32{{0, 1}, {1, 0}, {1, 1}, {1, -1}}

// GameSession owns one board, its turn state, the two player seats, room
// membership and the join-request flow. All methods run under the hub
// lock.
type GameSession struct {
	hub        *Hub
	roomID     string
	registered bool

	board       *Board
	currentTurn CellValue
	won         bool
	winStart    Point
	winEnd      Point

	// boundsMin/boundsMax track the smallest box enclosing all placed
	// symbols, for the distance check.
	boundsMin Point
	boundsMax Point

	members  map[string]struct{}
	seatPool []CellValue
	seatOf   map[string]CellValue
	pending  map[string]struct{}

	lastActive time.Time
	startedAt  time.Time
	placements int
}

func NewGameSession(hub *Hub) *GameSession {
	return &GameSession{
		hub:         hub,
		board:       NewBoard(),
		currentTurn: CellCross,
		members:     make(map[string]struct{}),
		seatPool:    []CellValue{CellCross, CellNought},
		seatOf:      make(map[string]CellValue),
		pending:     make(map[string]struct{}),
		lastActive:  time.Now(),
		startedAt:   time.Now(),
	}
}

func (g *GameSession) RegistryID() string   { return g.roomID }
func (g *GameSession) setRegistered(v bool) { g.registered = v }

func (g *GameSession) touch() { g.lastActive = time.Now() }

// Register obtains a room id and enters the room registry.
func (g *GameSession) Register() error {
	if g.registered {
		return ErrDuplicateID
	}
	id, err := g.hub.rooms.GenerateID()
	if err != nil {
		return err
	}
	g.roomID = id
	return g.hub.rooms.Put(g)
}

// Unregister removes the room and tears down every member binding. Bound
// members are told the room is gone.
func (g *GameSession) Unregister() {
	if !g.registered {
		return
	}
	g.hub.rooms.RemoveID(g.roomID)
	for _, member := range g.memberSessions() {
		if member.game == g {
			member.game = nil
			member.SendResponse(ClearField(), ShowError("The room was closed"))
		}
	}
	g.members = make(map[string]struct{})
	g.seatPool = []CellValue{CellCross, CellNought}
	g.seatOf = make(map[string]CellValue)
	g.pending = make(map[string]struct{})
}

// memberSessions resolves the member id set through the client registry
// at call time, so a session replaced by a reconnect is picked up and an
// unregistered one is skipped.
func (g *GameSession) memberSessions() []*ClientSession {
	sessions := make([]*ClientSession, 0, len(g.members))
	for id := range g.members {
		if s, ok := g.hub.clients.GetByID(id); ok {
			sessions = append(sessions, s)
		}
	}
	return sessions
}

// Broadcast sends the batch to every current member. Iteration order, and
// therefore delivery order across members, is unspecified.
func (g *GameSession) Broadcast(msgs ...any) {
	for _, member := range g.memberSessions() {
		member.SendResponse(msgs...)
	}
}

// ConnectedMembers counts members with a live transport.
func (g *GameSession) ConnectedMembers() int {
	n := 0
	for _, member := range g.memberSessions() {
		if member.transport != nil {
			n++
		}
	}
	return n
}

// JoinClient makes the client a member and seats it if a seat is free.
// It fails without state change when the room is full or the client is
// already a member; otherwise the client leaves any other room first.
func (g *GameSession) JoinClient(c *ClientSession) bool {
	if _, ok := g.members[c.id]; ok {
		return false
	}
	if len(g.members) >= maxRoomMembers {
		return false
	}
	c.leaveGame()
	c.game = g
	g.members[c.id] = struct{}{}
	if len(g.seatPool) > 0 {
		seat := g.seatPool[0]
		g.seatPool = g.seatPool[1:]
		g.seatOf[c.id] = seat
	}
	g.touch()
	return true
}

// LeaveClient removes membership and returns the client's seat to the
// pool. The seat stays vacant until another join fills it.
func (g *GameSession) LeaveClient(c *ClientSession) {
	if _, ok := g.members[c.id]; !ok {
		return
	}
	delete(g.members, c.id)
	if seat, ok := g.seatOf[c.id]; ok {
		delete(g.seatOf, c.id)
		g.seatPool = append(g.seatPool, seat)
	}
	if c.game == g {
		c.game = nil
	}
	g.touch()
}

// RequestJoin records a join request from a non-member and notifies the
// current members.
func (g *GameSession) RequestJoin(c *ClientSession) {
	g.touch()
	if !c.registered {
		c.SendResponse(ShowError("Not authenticated"))
		return
	}
	if _, ok := g.members[c.id]; ok {
		c.SendResponse(ShowError("Already in the room"))
		return
	}
	if len(g.members) >= maxRoomMembers {
		c.SendResponse(ShowError("The room is full"))
		return
	}
	g.pending[c.id] = struct{}{}
	g.Broadcast(JoinRoomRequest(c.id))
	c.SendResponse(ShowInfo("Join request sent"))
}

// AcceptJoin lets any current member admit a pending candidate. The
// pending entry is consumed even when the join fails; the candidate must
// re-request.
func (g *GameSession) AcceptJoin(c *ClientSession, targetID string) {
	g.touch()
	if _, ok := g.members[c.id]; !ok {
		c.SendResponse(ShowError("Not a room member"))
		return
	}
	if _, ok := g.pending[targetID]; !ok {
		c.SendResponse(ShowError("No such join request"))
		return
	}
	delete(g.pending, targetID)
	target, ok := g.hub.clients.GetByID(targetID)
	if !ok {
		c.SendResponse(ShowError("The requesting client is gone"))
		return
	}
	if !g.JoinClient(target) {
		c.SendResponse(ShowError("The room is full"))
		target.SendResponse(ShowError("The room is full"))
		return
	}
	target.SendResponse(g.FetchGameState(target)...)
	c.SendResponse(ShowInfo("Join request accepted"))
}

func (g *GameSession) nextPlayer() {
	switch g.currentTurn {
	case CellCross:
		g.currentTurn = CellNought
	case CellNought:
		g.currentTurn = CellCross
	default:
		log.Printf("invalid current player: %d", g.currentTurn)
	}
}

// sendTurnReady tells only the active seat holder it may place.
func (g *GameSession) sendTurnReady() {
	for id, seat := range g.seatOf {
		if seat != g.currentTurn {
			continue
		}
		if s, ok := g.hub.clients.GetByID(id); ok {
			s.SendResponse(WaitSymbol())
		}
	}
}

// TryPlaceSymbol validates and applies one placement by the given client,
// broadcasting the resulting events to the room. Rejections go to the
// offender only and leave board and turn untouched.
func (g *GameSession) TryPlaceSymbol(c *ClientSession, x, y int32) {
	g.touch()
	if g.won {
		c.SendResponse(ShowError("Game is already over!"))
		return
	}
	if seat, ok := g.seatOf[c.id]; !ok || seat != g.currentTurn {
		c.SendResponse(ShowError("Not your turn!"))
		return
	}
	if g.board.GetAt(x, y) != CellEmpty {
		c.SendResponse(ShowError("Occupied!"), WaitSymbol())
		return
	}
	if x < g.boundsMin.X-maxSymbolDistance || x > g.boundsMax.X+maxSymbolDistance ||
		y < g.boundsMin.Y-maxSymbolDistance || y > g.boundsMax.Y+maxSymbolDistance {
		c.SendResponse(ShowError("Too far away!"), WaitSymbol())
		return
	}
	g.boundsMin.X = min(g.boundsMin.X, x)
	g.boundsMax.X = max(g.boundsMax.X, x)
	g.boundsMin.Y = min(g.boundsMin.Y, y)
	g.boundsMax.Y = max(g.boundsMax.Y, y)

	symbol := g.currentTurn
	g.board.SetAt(x, y, symbol)
	g.placements++
	g.Broadcast(PlaceSymbolAt(x, y, symbol))

	if start, end, won := g.checkWin(x, y); won {
		g.won = true
		g.winStart, g.winEnd = start, end
		g.Broadcast(WinGame(symbol, start, end))
		g.archiveMatch()
		return
	}
	g.nextPlayer()
	g.Broadcast(SetCurrentPlayer(g.currentTurn))
	g.sendTurnReady()
}

// checkWin scans the four directions around the placed cell; the first
// qualifying run wins. A winning run necessarily passes through the
// placed cell, so the directions cannot tie.
func (g *GameSession) checkWin(x, y int32) (Point, Point, bool) {
	for _, dir := range winDirections {
		if start, end, ok := g.checkWinAround(x, y, dir[0], dir[1]); ok {
			return start, end, true
		}
	}
	return Point{}, Point{}, false
}

// checkWinAround samples a 2K-1 window centered on the placed cell along
// one direction and looks for a run of at least K equal non-empty cells.
// The returned endpoints cover exactly the run, not the window.
func (g *GameSession) checkWinAround(cx, cy, dx, dy int32) (Point, Point, bool) {
	const count = winRunLength*2 - 1
	startX := cx - (winRunLength-1)*dx
	startY := cy - (winRunLength-1)*dy
	var values [count]CellValue
	px, py := startX, startY
	for i := 0; i < count; i++ {
		values[i] = g.board.GetAt(px, py)
		px += dx
		py += dy
	}
	runStart, runLen := maxNonEmptyRun(values[:])
	if runLen < winRunLength {
		return Point{}, Point{}, false
	}
	runEnd := runStart + runLen - 1
	start := Point{X: startX + int32(runStart)*dx, Y: startY + int32(runStart)*dy}
	end := Point{X: startX + int32(runEnd)*dx, Y: startY + int32(runEnd)*dy}
	return start, end, true
}

// maxNonEmptyRun returns the start and length of the longest run of equal
// cells in values. A run breaks on a value change or an empty cell, so an
// empty stretch can never accumulate length.
func maxNonEmptyRun(values []CellValue) (int, int) {
	bestStart, bestLen := -1, 0
	if len(values) == 0 {
		return bestStart, bestLen
	}
	start := 0
	value := values[0]
	for i := 1; i < len(values); i++ {
		if values[i] == CellEmpty || values[i] != value {
			if l := i - start; value != CellEmpty && l > bestLen {
				bestStart, bestLen = start, l
			}
			value = values[i]
			start = i
		}
	}
	if l := len(values) - start; value != CellEmpty && l > bestLen {
		bestStart, bestLen = start, l
	}
	return bestStart, bestLen
}

// RestartGame resets board, turn and bounds. Callable by any current
// member at any time, including mid-game or after a win.
func (g *GameSession) RestartGame() {
	g.touch()
	g.won = false
	g.winStart, g.winEnd = Point{}, Point{}
	g.board.Reset()
	g.currentTurn = CellCross
	g.boundsMin, g.boundsMax = Point{}, Point{}
	g.placements = 0
	g.startedAt = time.Now()
	for _, member := range g.memberSessions() {
		member.SendResponse(ClearField(), SetLocalPlayer(g.seatOf[member.id]), SetCurrentPlayer(g.currentTurn))
	}
	g.sendTurnReady()
}

// FetchGameState builds the full resync batch for one member: clear, turn,
// the client's own seat, every occupied cell, the win line if decided, a
// turn-ready signal if it is this client's move, and the still-pending
// join requests. Read-only and idempotent.
func (g *GameSession) FetchGameState(c *ClientSession) []any {
	msgs := []any{
		ClearField(),
		SetCurrentPlayer(g.currentTurn),
		SetLocalPlayer(g.seatOf[c.id]),
	}
	for _, box := range g.board.Boundaries() {
		for x := box.MinX; x < box.MaxX; x++ {
			for y := box.MinY; y < box.MaxY; y++ {
				if symbol := g.board.GetAt(x, y); symbol != CellEmpty {
					msgs = append(msgs, PlaceSymbolAt(x, y, symbol))
				}
			}
		}
	}
	if g.won {
		msgs = append(msgs, WinGame(g.currentTurn, g.winStart, g.winEnd))
	} else if g.seatOf[c.id] == g.currentTurn {
		msgs = append(msgs, WaitSymbol())
	}
	for id := range g.pending {
		msgs = append(msgs, JoinRoomRequest(id))
	}
	return msgs
}

func (g *GameSession) archiveMatch() {
	if g.hub.archive == nil {
		return
	}
	g.hub.archive.RecordMatch(MatchRecord{
		RoomID:     g.roomID,
		Winner:     g.currentTurn,
		Placements: g.placements,
		Duration:   time.Since(g.startedAt).Seconds(),
		Board:      g.board.Snapshot(),
	})
}
