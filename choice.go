// Choicebox Choice Game
//
// A facilitator records players and prompt cards, then runs rounds: a chooser
// picks a target player and two cards, and the target picks one of them.
// Rounds are kept newest-first and summarized as statistics.
//
// Features:
// - WebSockets per game ID: /path/:gameid and /path/:gameid/ws
// - First connection to a game becomes the facilitator; everyone else watches
// - Only the facilitator may edit players and cards or drive a round
// - Validation failures are sent only to the offending client as warnings
// - A facilitator who disconnects keeps their seat for --player-timeout
// - Players identified by cookie (playerID)
// - Games auto-reaped after configurable idle timeout
// - Random 8-char game IDs via crypto/rand, with server-side collision check
// - Avatar upload, statistics JSON and a printable PDF scoresheet per game
// - In-browser QR button to share the current session, backed by go-qrcode

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"github.com/Seednode/choicebox/games/choice"
)

// Messages coming from clients
type ClientMessage struct {
	Type        string `json:"type"`                  // see handleCommand
	ID          string `json:"id,omitempty"`          // player or card id
	Name        string `json:"name,omitempty"`        // add_player / update_player
	Title       string `json:"title,omitempty"`       // add_card / update_card
	City        string `json:"city,omitempty"`        // add_card / update_card
	Age         string `json:"age,omitempty"`         // add_card / update_card
	Description string `json:"description,omitempty"` // players and cards
	Avatar      string `json:"avatar,omitempty"`      // players and cards
	Slot        string `json:"slot,omitempty"`        // clear_card
}

// SessionInfoMessage is sent immediately on connect so the client knows
// which role this cookie has.
type SessionInfoMessage struct {
	Type          string `json:"type"` // "session_info"
	GameID        string `json:"game_id"`
	IsFacilitator bool   `json:"is_facilitator"`
}

// StateMessage carries everything a client renders.
type StateMessage struct {
	Type              string            `json:"type"` // "state"
	Players           []choice.Player   `json:"players"`
	Cards             []choice.Card     `json:"cards"`
	Wizard            choice.Wizard     `json:"wizard"`
	History           []choice.Round    `json:"history"`
	SelectablePlayers []choice.Player   `json:"selectable_players"`
	SelectableCards   []choice.Card     `json:"selectable_cards"`
	Stats             choice.Statistics `json:"stats"`
}

// SimpleMessage is for "warning" (sender only) and "notice" (everyone).
type SimpleMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string
}

type command struct {
	client *Client
	msg    ClientMessage
}

type Hub struct {
	id    string
	game  *choice.Game
	clock quartz.Clock

	clients map[*Client]bool

	register chan *Client
	unreg    chan *Client
	commands chan command
	done     chan struct{}
	stop     sync.Once

	mu sync.RWMutex

	createdAt     time.Time
	lastActive    time.Time
	facilitatorID string // cookie/playerID of the facilitator
}

func newHub(gameID string, game *choice.Game, clock quartz.Clock) *Hub {
	now := clock.Now()
	return &Hub{
		id:         gameID,
		game:       game,
		clock:      clock,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		commands:   make(chan command),
		done:       make(chan struct{}),
		createdAt:  now,
		lastActive: now,
	}
}

func (h *Hub) run(cfg *Config) {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.admitLocked(cfg, c)
			h.mu.Unlock()

		case c := <-h.unreg:
			h.mu.Lock()
			h.lastActive = h.clock.Now()

			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			isFacilitator := c.playerID == h.facilitatorID
			h.mu.Unlock()

			if isFacilitator && cfg.playerTimeout > 0 {
				playerID := c.playerID
				h.clock.AfterFunc(cfg.playerTimeout, func() {
					h.releaseFacilitator(cfg, playerID)
				}, "facilitator")
			}

		case cmd := <-h.commands:
			h.handleCommand(cfg, cmd)

		case <-h.done:
			return
		}
	}
}

// admitLocked adds c to the session and sends it the role and current state.
// A stopped hub closes c instead and reports false.
func (h *Hub) admitLocked(cfg *Config, c *Client) bool {
	select {
	case <-h.done:
		close(c.send)
		return false
	default:
	}

	h.lastActive = h.clock.Now()

	// First connection, or first after the seat was released, facilitates.
	if h.facilitatorID == "" {
		h.facilitatorID = c.playerID
		logf(cfg, "GAMES: Facilitator %s took %s", c.playerID, h.id)
	}

	h.clients[c] = true

	c.send <- SessionInfoMessage{
		Type:          "session_info",
		GameID:        h.id,
		IsFacilitator: c.playerID == h.facilitatorID,
	}
	c.send <- h.stateLocked()

	return true
}

// releaseFacilitator frees the seat if playerID still holds it and has not
// reconnected.
func (h *Hub) releaseFacilitator(cfg *Config, playerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.facilitatorID != playerID {
		return
	}

	for client := range h.clients {
		if client.playerID == playerID {
			return
		}
	}

	h.facilitatorID = ""
	logf(cfg, "GAMES: Facilitator seat released in %s", h.id)
}

// stateLocked assumes h.mu is held.
func (h *Hub) stateLocked() StateMessage {
	return StateMessage{
		Type:              "state",
		Players:           h.game.Players(),
		Cards:             h.game.Cards(),
		Wizard:            h.game.Wizard(),
		History:           h.game.History(),
		SelectablePlayers: h.game.SelectablePlayers(),
		SelectableCards:   h.game.SelectableCards(),
		Stats:             h.game.Statistics(),
	}
}

// sendLocked queues msg for one client, dropping the client if it cannot keep up.
func (h *Hub) sendLocked(c *Client, msg any) {
	if _, ok := h.clients[c]; !ok {
		return
	}

	select {
	case c.send <- msg:
	default:
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) broadcastLocked(msg any) {
	for client := range h.clients {
		h.sendLocked(client, msg)
	}
}

var warnings = []struct {
	err  error
	text string
}{
	{choice.ErrNameRequired, "Enter the player's name."},
	{choice.ErrTitleRequired, "Enter the card's name."},
	{choice.ErrPlayerNotFound, "That player no longer exists."},
	{choice.ErrCardNotFound, "That card no longer exists."},
	{choice.ErrWrongStep, "That action is not available right now."},
	{choice.ErrSamePlayer, "Pick someone other than the chooser."},
	{choice.ErrCardAlreadyPicked, "That card is already picked."},
	{choice.ErrCardsFull, "Two cards are already picked."},
	{choice.ErrCardsIncomplete, "Pick two cards first."},
	{choice.ErrInvalidSlot, "Unknown card slot."},
	{choice.ErrCardNotOffered, "That card was not offered this round."},
	{choice.ErrNotImage, "Please choose an image."},
	{choice.ErrAvatarTooLong, "Use a single emoji as the avatar."},
	{choice.ErrEmptyAvatar, "The chosen file is empty."},
	{choice.ErrAvatarTooLarge, "That image is too large."},
	{choice.ErrInvalidAvatar, "That image could not be read."},
	{errUnknownCommand, "Unknown action."},
}

func warningText(err error) string {
	for _, w := range warnings {
		if errors.Is(err, w.err) {
			return w.text
		}
	}
	return "Something went wrong."
}

// handleCommand applies one facilitator action and publishes the result.
func (h *Hub) handleCommand(cfg *Config, cmd command) {
	c := cmd.client

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = h.clock.Now()

	if h.facilitatorID == "" || c.playerID != h.facilitatorID {
		h.sendLocked(c, SimpleMessage{
			Type:    "warning",
			Message: "Only the facilitator can change the game.",
		})
		return
	}

	notice, err := h.applyLocked(cfg, cmd.msg)
	if err != nil {
		logf(cfg, "GAMES: Rejected %s in %s: %v", cmd.msg.Type, h.id, err)
		h.sendLocked(c, SimpleMessage{
			Type:    "warning",
			Message: warningText(err),
		})
		return
	}

	if notice != "" {
		h.broadcastLocked(SimpleMessage{
			Type:    "notice",
			Message: notice,
		})
	}
	h.broadcastLocked(h.stateLocked())
}

func (h *Hub) applyLocked(cfg *Config, msg ClientMessage) (string, error) {
	g := h.game

	switch msg.Type {
	case "add_player":
		p, err := g.AddPlayer(choice.PlayerInput{
			Name:        msg.Name,
			Description: msg.Description,
			Avatar:      msg.Avatar,
		})
		if err != nil {
			return "", err
		}
		logf(cfg, "GAMES: Player %q added to %s", p.Name, h.id)
		return "Player added!", nil

	case "update_player":
		if _, err := g.UpdatePlayer(choice.Player{
			ID:          msg.ID,
			Name:        msg.Name,
			Description: msg.Description,
			Avatar:      msg.Avatar,
		}); err != nil {
			return "", err
		}
		return "Player updated!", nil

	case "add_card":
		c, err := g.AddCard(choice.CardInput{
			Title:       msg.Title,
			City:        msg.City,
			Age:         msg.Age,
			Description: msg.Description,
			Avatar:      msg.Avatar,
		})
		if err != nil {
			return "", err
		}
		logf(cfg, "GAMES: Card %q added to %s", c.Title, h.id)
		return "Card added!", nil

	case "update_card":
		if _, err := g.UpdateCard(choice.Card{
			ID:          msg.ID,
			Title:       msg.Title,
			City:        msg.City,
			Age:         msg.Age,
			Description: msg.Description,
			Avatar:      msg.Avatar,
		}); err != nil {
			return "", err
		}
		return "Card updated!", nil

	case "select_chooser":
		return "", g.SelectChooser(msg.ID)

	case "select_target":
		return "", g.SelectTarget(msg.ID)

	case "pick_card":
		return "", g.PickCard(msg.ID)

	case "clear_card":
		return "", g.ClearCard(choice.Slot(msg.Slot))

	case "confirm_cards":
		return "", g.ConfirmCards()

	case "make_choice":
		w := g.Wizard()
		round, err := g.MakeChoice(msg.ID)
		if err != nil {
			return "", err
		}
		card, _ := g.Card(round.SelectedCardID)
		logf(cfg, "GAMES: Round %s recorded in %s", round.ID, h.id)
		return w.Target.Name + " chose: " + card.Title, nil

	case "reset_round":
		g.Reset()
		return "", nil
	}

	return "", errUnknownCommand
}

var errUnknownCommand = errors.New("unknown command")

// statistics returns the current aggregates without touching activity.
func (h *Hub) statistics() choice.Statistics {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.game.Statistics()
}

// snapshot returns copies of the registries and history.
func (h *Hub) snapshot() ([]choice.Player, []choice.Card, []choice.Round) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.game.Players(), h.game.Cards(), h.game.History()
}

// closeAll disconnects all clients of this hub and stops its loop (used by reaper).
func (h *Hub) closeAll() {
	h.stop.Do(func() { close(h.done) })

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(h.clients, c)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "choicebox_id"

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		errorf("rand.Read error: %v", err)
		return ""
	}
	id := hex.EncodeToString(buf)

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// GameManager holds a set of hubs keyed by game ID, so each $path/$gameid
// is its own isolated session.
type GameManager struct {
	mu          sync.Mutex
	hubs        map[string]*Hub
	idleTimeout time.Duration
	clock       quartz.Clock
	deck        *choice.Deck
}

func newGameManager(ctx context.Context, idleTimeout time.Duration, clock quartz.Clock, deck *choice.Deck) *GameManager {
	gm := &GameManager{
		hubs:        make(map[string]*Hub),
		idleTimeout: idleTimeout,
		clock:       clock,
		deck:        deck,
	}
	if idleTimeout > 0 {
		go gm.reaperLoop(ctx)
	}
	return gm
}

func (gm *GameManager) getHub(cfg *Config, gameID string) (*Hub, error) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	if hub, ok := gm.hubs[gameID]; ok {
		return hub, nil
	}

	game, err := choice.NewGame(gm.deck,
		choice.WithClock(gm.clock),
		choice.WithAvatarLimit(cfg.avatarMaxSize),
	)
	if err != nil {
		return nil, err
	}

	hub := newHub(gameID, game, gm.clock)
	gm.hubs[gameID] = hub
	go hub.run(cfg)
	return hub, nil
}

// lookup returns an existing hub without creating one.
func (gm *GameManager) lookup(gameID string) (*Hub, bool) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	hub, ok := gm.hubs[gameID]
	return hub, ok
}

// newGameID generates a crypto-random game ID and ensures it doesn't
// collide with existing games.
func (gm *GameManager) newGameID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		gm.mu.Lock()
		_, exists := gm.hubs[id]
		gm.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// reaperLoop periodically removes hubs that have been idle longer than idleTimeout.
func (gm *GameManager) reaperLoop(ctx context.Context) {
	ticker := gm.clock.NewTicker(gm.idleTimeout/2, "reaper")
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			gm.reapIdle(gm.clock.Now().Add(-gm.idleTimeout))
		case <-ctx.Done():
			return
		}
	}
}

// reapIdle closes every hub last active before cutoff and returns how many.
func (gm *GameManager) reapIdle(cutoff time.Time) int {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	reaped := 0
	for id, hub := range gm.hubs {
		hub.mu.RLock()
		last := hub.lastActive
		hub.mu.RUnlock()

		if last.Before(cutoff) {
			delete(gm.hubs, id)
			go hub.closeAll()
			reaped++
		}
	}
	return reaped
}

// WebSocket handler that picks the hub based on :gameid
func serveWSForManager(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		if gameID == "" {
			http.Error(w, "missing game id", http.StatusBadRequest)
			return
		}

		playerID := getOrSetPlayerID(w, r)
		if playerID == "" {
			http.Error(w, "unable to assign player id", http.StatusInternalServerError)
			return
		}

		hub, err := gm.getHub(cfg, gameID)
		if err != nil {
			http.Error(w, "unable to start game", http.StatusInternalServerError)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			errorf("upgrade error: %v", err)
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 16),
			playerID: playerID,
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump(hub, readLimit(cfg))
	}
}

// readLimit bounds a single client message: one base64 avatar at the
// configured size plus room for the other fields.
func readLimit(cfg *Config) int64 {
	return int64(base64.StdEncoding.EncodedLen(int(cfg.avatarMaxSize))) + 16<<10
}

func (c *Client) readPump(h *Hub, limit int64) {
	defer func() {
		select {
		case h.unreg <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(limit)

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		if msg.Type == "" {
			continue
		}

		select {
		case h.commands <- command{client: c, msg: msg}:
		case <-h.done:
			return
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the current game URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	gameID := ps.ByName("gameid")
	if gameID == "" {
		http.Error(w, "missing game id", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:gameid/qr; strip trailing "/qr" to get the game URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func getIndexHandler(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		data, err := assets.ReadFile("assets/choice/index.html")
		if err != nil {
			errs <- err
			http.Error(w, "missing client", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		securityHeaders(cfg, w)

		_ = getOrSetPlayerID(w, r)

		_, err = w.Write(data)
		if err != nil {
			errs <- err
		}
	}
}

// redirectNewGame handles GET /path by generating a new random game ID
// (with server-side collision detection) and redirecting to /path/:gameid.
func redirectNewGame(cfg *Config, path string, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		gameID := gm.newGameID()
		logf(cfg, "GAMES: Created game %s/%s", path, gameID)
		http.Redirect(w, r, cfg.prefix+path+"/"+gameID, http.StatusTemporaryRedirect)
	}
}

// registerChoiceGame sets up routes so that:
//   - $path                        → redirects to new random game (8-char ID)
//   - $path/:gameid                → HTML client
//   - $path/:gameid/ws             → WebSocket for that game
//   - $path/:gameid/qr             → PNG QR code for that game URL
//   - $path/:gameid/stats          → statistics as JSON
//   - $path/:gameid/scoresheet.pdf → printable history and statistics
//   - $path/:gameid/avatar         → POST an image, get back a data URL
func registerChoiceGame(ctx context.Context, cfg *Config, path string, mux *httprouter.Router, clock quartz.Clock, errs chan<- error) *GameManager {
	deck := cfg.starterDeck
	if deck == nil {
		deck = choice.DefaultDeck()
	}

	gm := newGameManager(ctx, cfg.sessionTimeout, clock, deck)

	mux.GET(cfg.prefix+path, redirectNewGame(cfg, path, gm))

	mux.GET(cfg.prefix+path+"/:gameid", getIndexHandler(cfg, errs))

	mux.GET(cfg.prefix+path+"/:gameid/ws", serveWSForManager(cfg, gm))

	mux.GET(cfg.prefix+path+"/:gameid/qr", qrHandler)

	mux.GET(cfg.prefix+path+"/:gameid/stats", serveStats(cfg, gm, errs))

	mux.GET(cfg.prefix+path+"/:gameid/scoresheet.pdf", serveScoresheet(cfg, gm, errs))

	mux.POST(cfg.prefix+path+"/:gameid/avatar", serveAvatarUpload(cfg, errs))

	return gm
}
