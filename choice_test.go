package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seednode/choicebox/games/choice"
)

func testConfig() *Config {
	return &Config{
		avatarMaxSize: 1 << 20,
		playerTimeout: time.Hour,
		starterDeck:   choice.DefaultDeck(),
	}
}

func newChoiceServer(t *testing.T) (*httptest.Server, *GameManager, *Config) {
	t.Helper()
	return newChoiceServerWithClock(t, quartz.NewMock(t))
}

func newChoiceServerWithClock(t *testing.T, clock quartz.Clock) (*httptest.Server, *GameManager, *Config) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := testConfig()
	mux := httprouter.New()
	gm := registerChoiceGame(ctx, cfg, "/choice", mux, clock, make(chan error, 64))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv, gm, cfg
}

func dial(t *testing.T, srv *httptest.Server, gameID, playerID string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/choice/" + gameID + "/ws"
	header := http.Header{"Cookie": {playerCookieName + "=" + playerID}}

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

// readUntil discards messages until one of type typ arrives and decodes it into v.
func readUntil(t *testing.T, conn *websocket.Conn, typ string, v any) {
	t.Helper()

	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var env struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(data, &env))

		if env.Type == typ {
			require.NoError(t, json.Unmarshal(data, v))
			return
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func TestChoiceFacilitatorRound(t *testing.T) {
	srv, _, _ := newChoiceServer(t)

	fac := dial(t, srv, "party", "fac")
	var info SessionInfoMessage
	readUntil(t, fac, "session_info", &info)
	assert.True(t, info.IsFacilitator)
	assert.Equal(t, "party", info.GameID)

	var state StateMessage
	readUntil(t, fac, "state", &state)
	assert.Len(t, state.Players, 2)
	assert.Len(t, state.Cards, 4)
	assert.Equal(t, choice.StepChooser, state.Wizard.Step)

	viewer := dial(t, srv, "party", "viewer")
	readUntil(t, viewer, "session_info", &info)
	assert.False(t, info.IsFacilitator)
	readUntil(t, viewer, "state", &state)

	for _, msg := range []ClientMessage{
		{Type: "select_chooser", ID: "1"},
		{Type: "select_target", ID: "2"},
		{Type: "pick_card", ID: "1"},
		{Type: "pick_card", ID: "3"},
		{Type: "confirm_cards"},
		{Type: "make_choice", ID: "3"},
	} {
		send(t, fac, msg)
	}

	for _, conn := range []*websocket.Conn{fac, viewer} {
		var notice SimpleMessage
		readUntil(t, conn, "notice", &notice)
		assert.Equal(t, "Maria chose: Ekaterina", notice.Message)

		var final StateMessage
		readUntil(t, conn, "state", &final)
		require.Len(t, final.History, 1)
		assert.Equal(t, "3", final.History[0].SelectedCardID)
		assert.Equal(t, choice.Wizard{Step: choice.StepChooser}, final.Wizard)
		require.Len(t, final.Stats.TopCards, 1)
		assert.Equal(t, "3", final.Stats.TopCards[0].CardID)
		require.Len(t, final.Stats.PlayerActivity, 1)
		assert.Equal(t, "2", final.Stats.PlayerActivity[0].PlayerID)
	}

	resp, err := http.Get(srv.URL + "/choice/party/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats choice.Statistics
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.Rounds)
	assert.Equal(t, 13, stats.Activity)
	assert.Equal(t, "Ekaterina", stats.TopCards[0].Title)
}

func TestChoiceWarningsGoToSender(t *testing.T) {
	srv, _, _ := newChoiceServer(t)

	fac := dial(t, srv, "warn", "fac")
	var info SessionInfoMessage
	readUntil(t, fac, "session_info", &info)
	require.True(t, info.IsFacilitator)

	viewer := dial(t, srv, "warn", "viewer")
	readUntil(t, viewer, "session_info", &info)
	require.False(t, info.IsFacilitator)

	var warning SimpleMessage

	send(t, fac, ClientMessage{Type: "add_player", Name: "   "})
	readUntil(t, fac, "warning", &warning)
	assert.Equal(t, "Enter the player's name.", warning.Message)

	send(t, fac, ClientMessage{Type: "select_chooser", ID: "1"})
	send(t, fac, ClientMessage{Type: "select_target", ID: "1"})
	readUntil(t, fac, "warning", &warning)
	assert.Equal(t, "Pick someone other than the chooser.", warning.Message)

	send(t, viewer, ClientMessage{Type: "add_player", Name: "Sneaky"})
	readUntil(t, viewer, "warning", &warning)
	assert.Equal(t, "Only the facilitator can change the game.", warning.Message)

	send(t, fac, ClientMessage{Type: "bogus"})
	readUntil(t, fac, "warning", &warning)
	assert.Equal(t, "Unknown action.", warning.Message)

	// A successful edit still reaches everyone, and nothing the viewer sent
	// made it into the registry.
	send(t, fac, ClientMessage{Type: "add_card", Title: "Anna", City: "Sochi"})

	var notice SimpleMessage
	readUntil(t, viewer, "notice", &notice)
	assert.Equal(t, "Card added!", notice.Message)

	var state StateMessage
	readUntil(t, viewer, "state", &state)
	assert.Len(t, state.Players, 2)
	assert.Len(t, state.Cards, 5)
	assert.Equal(t, choice.StepPlayer, state.Wizard.Step)
}

func TestChoiceFacilitatorSeatReleasedAfterTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clock := quartz.NewMock(t)
	srv, gm, cfg := newChoiceServerWithClock(t, clock)

	fac := dial(t, srv, "seat", "fac")
	var info SessionInfoMessage
	readUntil(t, fac, "session_info", &info)
	require.True(t, info.IsFacilitator)

	trap := clock.Trap().AfterFunc("facilitator")
	defer trap.Close()

	require.NoError(t, fac.Close())
	call := trap.MustWait(ctx)
	call.MustRelease(ctx)
	assert.Equal(t, cfg.playerTimeout, call.Duration)

	// The seat is held while the timer runs.
	other := dial(t, srv, "seat", "other")
	readUntil(t, other, "session_info", &info)
	assert.False(t, info.IsFacilitator)

	clock.Advance(cfg.playerTimeout).MustWait(ctx)

	hub, ok := gm.lookup("seat")
	require.True(t, ok)
	hub.mu.RLock()
	assert.Empty(t, hub.facilitatorID)
	hub.mu.RUnlock()

	late := dial(t, srv, "seat", "late")
	readUntil(t, late, "session_info", &info)
	assert.True(t, info.IsFacilitator)
}

func TestChoiceFacilitatorSeatKeptOnReconnect(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clock := quartz.NewMock(t)
	srv, gm, cfg := newChoiceServerWithClock(t, clock)

	fac := dial(t, srv, "reload", "fac")
	var info SessionInfoMessage
	readUntil(t, fac, "session_info", &info)
	require.True(t, info.IsFacilitator)

	trap := clock.Trap().AfterFunc("facilitator")
	defer trap.Close()

	require.NoError(t, fac.Close())
	trap.MustWait(ctx).MustRelease(ctx)

	back := dial(t, srv, "reload", "fac")
	readUntil(t, back, "session_info", &info)
	assert.True(t, info.IsFacilitator)

	clock.Advance(cfg.playerTimeout).MustWait(ctx)

	hub, ok := gm.lookup("reload")
	require.True(t, ok)
	hub.mu.RLock()
	assert.Equal(t, "fac", hub.facilitatorID)
	hub.mu.RUnlock()

	other := dial(t, srv, "reload", "other")
	readUntil(t, other, "session_info", &info)
	assert.False(t, info.IsFacilitator)
}

func TestChoiceReaperLoop(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const idle = 10 * time.Minute

	clock := quartz.NewMock(t)
	trap := clock.Trap().NewTicker("reaper")
	defer trap.Close()

	gm := newGameManager(ctx, idle, clock, choice.DefaultDeck())
	call := trap.MustWait(ctx)
	call.MustRelease(ctx)
	assert.Equal(t, idle/2, call.Duration)

	cfg := testConfig()

	stale, err := gm.getHub(cfg, "stale")
	require.NoError(t, err)

	clock.Advance(idle / 2).MustWait(ctx)
	clock.Advance(idle / 2).MustWait(ctx)

	_, err = gm.getHub(cfg, "fresh")
	require.NoError(t, err)

	clock.Advance(idle / 2).MustWait(ctx)

	require.Eventually(t, func() bool {
		_, ok := gm.lookup("stale")
		return !ok
	}, 5*time.Second, 10*time.Millisecond)

	select {
	case <-stale.done:
	case <-time.After(5 * time.Second):
		t.Fatal("reaped hub was not stopped")
	}

	_, ok := gm.lookup("fresh")
	assert.True(t, ok)
}

func TestChoiceReapIdle(t *testing.T) {
	clock := quartz.NewMock(t)
	gm := newGameManager(context.Background(), 0, clock, choice.DefaultDeck())

	hub, err := gm.getHub(testConfig(), "idle")
	require.NoError(t, err)

	assert.Equal(t, 0, gm.reapIdle(clock.Now()))

	assert.Equal(t, 1, gm.reapIdle(clock.Now().Add(time.Second)))
	_, ok := gm.lookup("idle")
	assert.False(t, ok)

	select {
	case <-hub.done:
	case <-time.After(5 * time.Second):
		t.Fatal("hub was not stopped")
	}
}

func TestChoiceStoppedHubRefusesClients(t *testing.T) {
	clock := quartz.NewMock(t)
	game, err := choice.NewGame(choice.DefaultDeck(), choice.WithClock(clock))
	require.NoError(t, err)

	cfg := testConfig()

	running := newHub("running", game, clock)
	live := &Client{send: make(chan any, 16), playerID: "first"}
	running.mu.Lock()
	require.True(t, running.admitLocked(cfg, live))
	running.mu.Unlock()
	assert.IsType(t, SessionInfoMessage{}, <-live.send)
	assert.IsType(t, StateMessage{}, <-live.send)

	hub := newHub("stopped", game, clock)
	hub.closeAll()

	late := &Client{send: make(chan any, 16), playerID: "late"}
	hub.mu.Lock()
	admitted := hub.admitLocked(cfg, late)
	hub.mu.Unlock()

	assert.False(t, admitted)
	_, open := <-late.send
	assert.False(t, open)

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	assert.Empty(t, hub.clients)
}

func TestChoiceAvatarBounds(t *testing.T) {
	srv, gm, cfg := newChoiceServer(t)
	cfg.avatarMaxSize = 1 << 10

	fac := dial(t, srv, "bounds", "fac")
	var info SessionInfoMessage
	readUntil(t, fac, "session_info", &info)
	require.True(t, info.IsFacilitator)

	big := "data:image/gif;base64," + base64.StdEncoding.EncodeToString(make([]byte, 2<<10))
	send(t, fac, ClientMessage{Type: "add_player", Name: "Olga", Avatar: big})

	var warning SimpleMessage
	readUntil(t, fac, "warning", &warning)
	assert.Equal(t, "That image is too large.", warning.Message)

	// A message far beyond the read limit ends the connection.
	_ = fac.WriteJSON(ClientMessage{Type: "add_player", Name: "Olga", Avatar: strings.Repeat("A", 256<<10)})
	for {
		require.NoError(t, fac.SetReadDeadline(time.Now().Add(5*time.Second)))
		if _, _, err := fac.ReadMessage(); err != nil {
			var netErr net.Error
			require.False(t, errors.As(err, &netErr) && netErr.Timeout(), "connection stayed open")
			break
		}
	}

	hub, ok := gm.lookup("bounds")
	require.True(t, ok)
	players, _, _ := hub.snapshot()
	assert.Len(t, players, 2)
}

func TestChoiceNewGameRedirect(t *testing.T) {
	srv, _, _ := newChoiceServer(t)

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Get(srv.URL + "/choice")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	location := resp.Header.Get("Location")
	require.True(t, strings.HasPrefix(location, "/choice/"))
	assert.Len(t, strings.TrimPrefix(location, "/choice/"), 8)
}

func TestChoiceStatsUnknownGame(t *testing.T) {
	srv, _, _ := newChoiceServer(t)

	for _, path := range []string{"/choice/nope/stats", "/choice/nope/scoresheet.pdf"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestChoiceScoresheet(t *testing.T) {
	srv, _, _ := newChoiceServer(t)

	fac := dial(t, srv, "sheet", "fac")
	var state StateMessage
	readUntil(t, fac, "state", &state)

	resp, err := http.Get(srv.URL + "/choice/sheet/scoresheet.pdf")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(body, []byte("%PDF")))
}

func TestChoiceQR(t *testing.T) {
	srv, _, _ := newChoiceServer(t)

	resp, err := http.Get(srv.URL + "/choice/share/qr")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(body, []byte("\x89PNG")))
}

func uploadAvatar(t *testing.T, srv *httptest.Server, contentType string, data []byte) *http.Response {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="avatar"; filename="avatar"`)
	header.Set("Content-Type", contentType)

	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(srv.URL+"/choice/any/avatar", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

func TestAvatarUpload(t *testing.T) {
	srv, _, _ := newChoiceServer(t)

	resp := uploadAvatar(t, srv, "image/gif", []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00;"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got avatarResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.True(t, strings.HasPrefix(got.Avatar, "data:image/gif;base64,"))
}

func TestAvatarUploadRejectsNonImage(t *testing.T) {
	srv, _, _ := newChoiceServer(t)

	resp := uploadAvatar(t, srv, "text/plain", []byte("just text"))
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Please choose an image.", strings.TrimSpace(string(body)))
}

func TestAvatarUploadTooLarge(t *testing.T) {
	srv, _, cfg := newChoiceServer(t)
	cfg.avatarMaxSize = 16

	resp := uploadAvatar(t, srv, "image/gif", append([]byte("GIF89a"), make([]byte, 64)...))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestAvatarUploadMissingFile(t *testing.T) {
	srv, _, _ := newChoiceServer(t)

	resp, err := http.Post(srv.URL+"/choice/any/avatar", "text/plain", strings.NewReader("nothing"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// The client clears a submitted form only when the matching notice arrives.
func TestChoiceFormNotices(t *testing.T) {
	srv, _, _ := newChoiceServer(t)

	fac := dial(t, srv, "forms", "fac")
	var info SessionInfoMessage
	readUntil(t, fac, "session_info", &info)
	require.True(t, info.IsFacilitator)

	tests := []struct {
		msg  ClientMessage
		want string
	}{
		{ClientMessage{Type: "add_player", Name: "Olga"}, "Player added!"},
		{ClientMessage{Type: "update_player", ID: "1", Name: "Sasha"}, "Player updated!"},
		{ClientMessage{Type: "add_card", Title: "Anna"}, "Card added!"},
		{ClientMessage{Type: "update_card", ID: "1", Title: "Sasha"}, "Card updated!"},
	}

	for _, tt := range tests {
		send(t, fac, tt.msg)

		var notice SimpleMessage
		readUntil(t, fac, "notice", &notice)
		assert.Equal(t, tt.want, notice.Message)
	}

	// A rejected submission produces a warning and no notice before the next state.
	send(t, fac, ClientMessage{Type: "update_card", ID: "1", Title: " "})
	var warning SimpleMessage
	readUntil(t, fac, "warning", &warning)
	assert.Equal(t, "Enter the card's name.", warning.Message)
}
