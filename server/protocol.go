package main

// Client -> Server method names
const (
	MethRegister       = "register"
	MethLogin          = "login"
	MethHostGame       = "hostGame"
	MethJoinRoom       = "joinRoom"
	MethAcceptJoinRoom = "acceptJoinRoom"
	MethNewGame        = "newGame"
	MethFetchGameState = "fetchGameState"
	MethPlaceSymbol    = "placeSymbol"
)

// knownMethods is the closed set of inbound request kinds; anything else
// is a protocol violation and fatal to the connection.
var knownMethods = map[string]bool{
	MethRegister:       true,
	MethLogin:          true,
	MethHostGame:       true,
	MethJoinRoom:       true,
	MethAcceptJoinRoom: true,
	MethNewGame:        true,
	MethFetchGameState: true,
	MethPlaceSymbol:    true,
}

// Server -> Client method names
const (
	MsgSetCredentials    = "setCredentials"
	MsgAuthComplete      = "authComplete"
	MsgHostGameAvailable = "hostGameAvailable"
	MsgJoinRoomAvailable = "joinRoomAvailable"
	MsgSetRoomID         = "setRoomId"
	MsgJoinRoomRequest   = "joinRoomRequest"
	MsgClearField        = "clearField"
	MsgPlaceSymbol       = "placeSymbol"
	MsgSetLocalPlayer    = "setLocalPlayer"
	MsgSetCurrentPlayer  = "setCurrentPlayer"
	MsgWaitSymbol        = "waitSymbol"
	MsgWinGame           = "winGame"
	MsgShowError         = "showError"
	MsgShowInfo          = "showInfo"
)

// Request is the single inbound frame shape. Field usage depends on
// Method: login uses ID+Token, joinRoom and acceptJoinRoom use ID,
// placeSymbol uses X,Y. Coordinates arrive as JSON numbers and are
// truncated to int32 before use.
type Request struct {
	Method string  `json:"method"`
	ID     string  `json:"id,omitempty"`
	Token  string  `json:"token,omitempty"`
	X      float64 `json:"x,omitempty"`
	Y      float64 `json:"y,omitempty"`
}

// Point is a board coordinate as it appears on the wire.
type Point struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
}

// Outbound messages. Each carries its own method tag, set by its
// constructor, so a batch marshals to a JSON array of tagged objects.

type SetCredentialsMsg struct {
	Method string `json:"method"`
	ID     string `json:"id"`
	Token  string `json:"token"`
}

func SetCredentials(id, token string) SetCredentialsMsg {
	return SetCredentialsMsg{Method: MsgSetCredentials, ID: id, Token: token}
}

type PlainMsg struct {
	Method string `json:"method"`
}

func AuthComplete() PlainMsg      { return PlainMsg{Method: MsgAuthComplete} }
func HostGameAvailable() PlainMsg { return PlainMsg{Method: MsgHostGameAvailable} }
func JoinRoomAvailable() PlainMsg { return PlainMsg{Method: MsgJoinRoomAvailable} }
func ClearField() PlainMsg        { return PlainMsg{Method: MsgClearField} }
func WaitSymbol() PlainMsg        { return PlainMsg{Method: MsgWaitSymbol} }

type RoomIDMsg struct {
	Method string `json:"method"`
	ID     string `json:"id"`
}

func SetRoomID(id string) RoomIDMsg {
	return RoomIDMsg{Method: MsgSetRoomID, ID: id}
}

// JoinRoomRequest notifies room members that the client with the given id
// wants in.
func JoinRoomRequest(clientID string) RoomIDMsg {
	return RoomIDMsg{Method: MsgJoinRoomRequest, ID: clientID}
}

type PlaceSymbolMsg struct {
	Method string    `json:"method"`
	X      int32     `json:"x"`
	Y      int32     `json:"y"`
	Symbol CellValue `json:"symbol"`
}

func PlaceSymbolAt(x, y int32, symbol CellValue) PlaceSymbolMsg {
	return PlaceSymbolMsg{Method: MsgPlaceSymbol, X: x, Y: y, Symbol: symbol}
}

type PlayerMsg struct {
	Method string    `json:"method"`
	Player CellValue `json:"player"`
}

func SetLocalPlayer(player CellValue) PlayerMsg {
	return PlayerMsg{Method: MsgSetLocalPlayer, Player: player}
}

func SetCurrentPlayer(player CellValue) PlayerMsg {
	return PlayerMsg{Method: MsgSetCurrentPlayer, Player: player}
}

type WinGameMsg struct {
	Method string    `json:"method"`
	Player CellValue `json:"player"`
	Start  Point     `json:"start"`
	End    Point     `json:"end"`
}

func WinGame(player CellValue, start, end Point) WinGameMsg {
	return WinGameMsg{Method: MsgWinGame, Player: player, Start: start, End: end}
}

type TextMsg struct {
	Method string `json:"method"`
	Text   string `json:"text"`
}

func ShowError(text string) TextMsg { return TextMsg{Method: MsgShowError, Text: text} }
func ShowInfo(text string) TextMsg  { return TextMsg{Method: MsgShowInfo, Text: text} }
