package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// ---------- helpers ----------

// startTestServer spins up an httptest.Server with a Hub serving a
// temp client dir, and returns the server, its WebSocket URL, and a
// cleanup func.
func startTestServer(t *testing.T) (*httptest.Server, string, func()) {
	t.Helper()

	tmpDir := t.TempDir()
	os.WriteFile(filepath.Join(tmpDir, "index.html"), []byte("<html>test</html>"), 0o644)
	os.WriteFile(filepath.Join(tmpDir, "style.css"), []byte("body{}"), 0o644)
	os.WriteFile(filepath.Join(tmpDir, "script.js"), []byte("// test"), 0o644)

	hub := NewHub(nil)
	go hub.Run()

	mux := SetupRoutes(hub, tmpDir)
	srv := httptest.NewServer(mux)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	return srv, wsURL, func() {
		srv.Close()
		hub.Stop()
	}
}

// dialWS opens a WebSocket connection to the test server.
func dialWS(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial WS: %v", err)
	}
	return conn
}

func sendReq(t *testing.T, conn *websocket.Conn, req string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(req)); err != nil {
		t.Fatalf("write WS: %v", err)
	}
}

// readBatch reads one frame and decodes it as a message batch.
func readBatch(t *testing.T, conn *websocket.Conn) []map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read WS: %v", err)
	}
	var batch []map[string]any
	if err := json.Unmarshal(raw, &batch); err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
	return batch
}

// readUntil reads frames until a message with the given method arrives
// and returns everything read along the way.
func readUntil(t *testing.T, conn *websocket.Conn, method string) []map[string]any {
	t.Helper()
	var all []map[string]any
	for i := 0; i < 20; i++ {
		batch := readBatch(t, conn)
		all = append(all, batch...)
		if findMessage(batch, method) != nil {
			return all
		}
	}
	t.Fatalf("no %s message after 20 frames", method)
	return nil
}

// registerWS registers a fresh identity over the connection and returns
// the issued credential pair.
func registerWS(t *testing.T, conn *websocket.Conn) (string, string) {
	t.Helper()
	sendReq(t, conn, `{"method":"register"}`)
	batch := readBatch(t, conn)
	creds := findMessage(batch, MsgSetCredentials)
	if creds == nil {
		t.Fatalf("no credentials in %v", batch)
	}
	return creds["id"].(string), creds["token"].(string)
}

// ---------- tests ----------

func TestFullGameFlow(t *testing.T) {
	_, wsURL, cleanup := startTestServer(t)
	defer cleanup()

	host := dialWS(t, wsURL)
	defer host.Close()
	registerWS(t, host)

	sendReq(t, host, `{"method":"hostGame"}`)
	batch := readBatch(t, host)
	wantOrder := []string{MsgSetRoomID, MsgClearField, MsgSetCurrentPlayer, MsgSetLocalPlayer, MsgWaitSymbol}
	if len(batch) != len(wantOrder) {
		t.Fatalf("host batch %v, want methods %v", batch, wantOrder)
	}
	for i, want := range wantOrder {
		if batch[i]["method"] != want {
			t.Fatalf("host batch[%d] = %v, want %s", i, batch[i]["method"], want)
		}
	}
	roomID := batch[0]["id"].(string)
	if batch[3]["player"] != float64(CellCross) {
		t.Errorf("host seat = %v, want crosses", batch[3]["player"])
	}

	guest := dialWS(t, wsURL)
	defer guest.Close()
	guestID, _ := registerWS(t, guest)

	sendReq(t, guest, fmt.Sprintf(`{"method":"joinRoom","id":%q}`, roomID))
	if findMessage(readUntil(t, guest, MsgShowInfo), MsgShowInfo) == nil {
		t.Fatal("guest got no join confirmation")
	}
	req := findMessage(readUntil(t, host, MsgJoinRoomRequest), MsgJoinRoomRequest)
	if req["id"] != guestID {
		t.Fatalf("join request id = %v, want %s", req["id"], guestID)
	}

	sendReq(t, host, fmt.Sprintf(`{"method":"acceptJoinRoom","id":%q}`, guestID))
	state := readUntil(t, guest, MsgSetLocalPlayer)
	if seat := findMessage(state, MsgSetLocalPlayer); seat["player"] != float64(CellNought) {
		t.Fatalf("guest seat = %v, want noughts", seat["player"])
	}
	readUntil(t, host, MsgShowInfo)

	// Crosses race to five in a row while noughts build a parallel line
	moves := []struct {
		conn *websocket.Conn
		x, y int
	}{
		{host, 0, 0}, {guest, 0, 10},
		{host, 1, 0}, {guest, 1, 10},
		{host, 2, 0}, {guest, 2, 10},
		{host, 3, 0}, {guest, 3, 10},
	}
	for _, m := range moves {
		sendReq(t, m.conn, fmt.Sprintf(`{"method":"placeSymbol","x":%d,"y":%d}`, m.x, m.y))
		// Every placement reaches both members
		readUntil(t, host, MsgPlaceSymbol)
		readUntil(t, guest, MsgPlaceSymbol)
	}

	sendReq(t, host, `{"method":"placeSymbol","x":4,"y":0}`)
	for _, conn := range []*websocket.Conn{host, guest} {
		win := findMessage(readUntil(t, conn, MsgWinGame), MsgWinGame)
		if win["player"] != float64(CellCross) {
			t.Errorf("winGame player = %v, want crosses", win["player"])
		}
		start := win["start"].(map[string]any)
		end := win["end"].(map[string]any)
		if start["x"] != 0.0 || start["y"] != 0.0 || end["x"] != 4.0 || end["y"] != 0.0 {
			t.Errorf("win line = %v..%v, want (0,0)..(4,0)", start, end)
		}
	}
}

func TestReconnectWithCredentials(t *testing.T) {
	_, wsURL, cleanup := startTestServer(t)
	defer cleanup()

	first := dialWS(t, wsURL)
	id, token := registerWS(t, first)
	sendReq(t, first, `{"method":"hostGame"}`)
	batch := readBatch(t, first)
	roomID := findMessage(batch, MsgSetRoomID)["id"].(string)
	first.Close()

	second := dialWS(t, wsURL)
	defer second.Close()
	sendReq(t, second, fmt.Sprintf(`{"method":"login","id":%q,"token":%q}`, id, token))
	batch = readBatch(t, second)
	if findMessage(batch, MsgAuthComplete) == nil {
		t.Fatalf("reconnect batch %v lacks authComplete", batch)
	}
	if findMessage(batch, MsgSetCredentials) != nil {
		t.Error("reconnect must not reissue credentials")
	}

	// The game binding survived: fetching state shows the live room
	sendReq(t, second, `{"method":"fetchGameState"}`)
	state := readBatch(t, second)
	if findMessage(state, MsgClearField) == nil || findMessage(state, MsgSetLocalPlayer) == nil {
		t.Fatalf("post-reconnect state %v, want the room's game state", state)
	}
	seat := findMessage(state, MsgSetLocalPlayer)
	if seat["player"] != float64(CellCross) {
		t.Errorf("reconnected seat = %v, want crosses", seat["player"])
	}

	// And hosting again re-reveals the same room id
	sendReq(t, second, `{"method":"hostGame"}`)
	batch = readBatch(t, second)
	if got := findMessage(batch, MsgSetRoomID)["id"]; got != roomID {
		t.Errorf("room id after reconnect = %v, want %s", got, roomID)
	}
}

func TestProtocolViolationClosesConnection(t *testing.T) {
	_, wsURL, cleanup := startTestServer(t)
	defer cleanup()

	conn := dialWS(t, wsURL)
	defer conn.Close()

	sendReq(t, conn, `{"method":"selfDestruct"}`)

	batch := readBatch(t, conn)
	if findMessage(batch, MsgShowError) == nil {
		t.Fatalf("violation batch %v lacks showError", batch)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("read after violation: %v, want a close error", err)
	}
	if closeErr.Code != closeCodeFatal {
		t.Errorf("close code = %d, want %d", closeErr.Code, closeCodeFatal)
	}
}

func TestStaticAllowList(t *testing.T) {
	srv, _, cleanup := startTestServer(t)
	defer cleanup()

	cases := []struct {
		path string
		code int
	}{
		{"/", http.StatusOK},
		{"/index.html", http.StatusOK},
		{"/style.css", http.StatusOK},
		{"/script.js", http.StatusOK},
		{"/secret.txt", http.StatusNotFound},
		{"/js/main.js", http.StatusNotFound},
	}
	for _, tc := range cases {
		resp, err := http.Get(srv.URL + tc.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tc.path, err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != tc.code {
			t.Errorf("GET %s = %d, want %d", tc.path, resp.StatusCode, tc.code)
		}
	}

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "<html>test</html>") {
		t.Errorf("index body = %q", body)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", cc)
	}
}

func TestRoomQRCode(t *testing.T) {
	srv, wsURL, cleanup := startTestServer(t)
	defer cleanup()

	conn := dialWS(t, wsURL)
	defer conn.Close()
	registerWS(t, conn)
	sendReq(t, conn, `{"method":"hostGame"}`)
	roomID := findMessage(readBatch(t, conn), MsgSetRoomID)["id"].(string)

	resp, err := http.Get(srv.URL + "/qr/" + roomID + ".png")
	if err != nil {
		t.Fatalf("GET qr: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("qr status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("qr content type = %q, want image/png", ct)
	}
	if len(body) == 0 || body[0] != 0x89 {
		t.Error("qr response is not a PNG")
	}

	for _, path := range []string{"/qr/00000000.png", "/qr/nope.png", "/qr/" + roomID + ".jpg"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, resp.StatusCode)
		}
	}
}
