/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package choice

import (
	"fmt"
	"slices"
	"strings"

	"github.com/coder/quartz"
)

// Game holds the registries, the history log and the round in progress.
type Game struct {
	players []Player
	cards   []Card
	history []Round // newest first
	wizard  Wizard

	clock       quartz.Clock
	ids         IDGenerator
	avatarLimit int64
}

type Option func(*Game)

// WithClock sets the clock used to timestamp rounds.
func WithClock(clock quartz.Clock) Option {
	return func(g *Game) {
		g.clock = clock
	}
}

// WithIDs sets the generator for new players, cards and rounds.
func WithIDs(ids IDGenerator) Option {
	return func(g *Game) {
		g.ids = ids
	}
}

// WithAvatarLimit caps the decoded size of image avatars, in bytes.
func WithAvatarLimit(n int64) Option {
	return func(g *Game) {
		g.avatarLimit = n
	}
}

// NewGame returns a game seeded from deck. A nil deck starts empty.
func NewGame(deck *Deck, opts ...Option) (*Game, error) {
	g := &Game{
		wizard: Wizard{Step: StepChooser},
		clock:  quartz.NewReal(),
		ids:    UUIDGenerator{},

		avatarLimit: DefaultAvatarLimit,
	}
	for _, opt := range opts {
		opt(g)
	}

	if deck == nil {
		return g, nil
	}

	for _, p := range deck.Players {
		if _, err := g.addPlayer(p); err != nil {
			return nil, fmt.Errorf("deck player %q: %w", p.Name, err)
		}
	}
	for _, c := range deck.Cards {
		if _, err := g.addCard(c); err != nil {
			return nil, fmt.Errorf("deck card %q: %w", c.Title, err)
		}
	}

	return g, nil
}

// Player registry

func (g *Game) Players() []Player {
	return slices.Clone(g.players)
}

func (g *Game) Player(id string) (Player, bool) {
	i := g.playerIndex(id)
	if i < 0 {
		return Player{}, false
	}
	return g.players[i], true
}

func (g *Game) AddPlayer(in PlayerInput) (Player, error) {
	return g.addPlayer(Player{
		Name:        in.Name,
		Description: in.Description,
		Avatar:      in.Avatar,
	})
}

func (g *Game) UpdatePlayer(p Player) (Player, error) {
	i := g.playerIndex(p.ID)
	if i < 0 {
		return Player{}, ErrPlayerNotFound
	}

	p, err := normalizePlayer(p, g.avatarLimit)
	if err != nil {
		return Player{}, err
	}

	g.players[i] = p
	return p, nil
}

func (g *Game) addPlayer(p Player) (Player, error) {
	p, err := normalizePlayer(p, g.avatarLimit)
	if err != nil {
		return Player{}, err
	}

	if p.ID == "" {
		p.ID = g.freshID(func(id string) bool { return g.playerIndex(id) >= 0 })
	} else if g.playerIndex(p.ID) >= 0 {
		return Player{}, fmt.Errorf("%w: player %s", ErrDuplicateID, p.ID)
	}

	g.players = append(g.players, p)
	return p, nil
}

func (g *Game) playerIndex(id string) int {
	return slices.IndexFunc(g.players, func(p Player) bool { return p.ID == id })
}

func normalizePlayer(p Player, avatarLimit int64) (Player, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return Player{}, ErrNameRequired
	}
	p.Description = strings.TrimSpace(p.Description)

	avatar, err := ValidateAvatar(p.Avatar, avatarLimit)
	if err != nil {
		return Player{}, err
	}
	if avatar == "" {
		avatar = DefaultPlayerAvatar
	}
	p.Avatar = avatar

	return p, nil
}

// Card registry

func (g *Game) Cards() []Card {
	return slices.Clone(g.cards)
}

func (g *Game) Card(id string) (Card, bool) {
	i := g.cardIndex(id)
	if i < 0 {
		return Card{}, false
	}
	return g.cards[i], true
}

func (g *Game) AddCard(in CardInput) (Card, error) {
	return g.addCard(Card{
		Title:       in.Title,
		City:        in.City,
		Age:         in.Age,
		Description: in.Description,
		Avatar:      in.Avatar,
	})
}

func (g *Game) UpdateCard(c Card) (Card, error) {
	i := g.cardIndex(c.ID)
	if i < 0 {
		return Card{}, ErrCardNotFound
	}

	c, err := normalizeCard(c, g.avatarLimit)
	if err != nil {
		return Card{}, err
	}

	g.cards[i] = c
	return c, nil
}

func (g *Game) addCard(c Card) (Card, error) {
	c, err := normalizeCard(c, g.avatarLimit)
	if err != nil {
		return Card{}, err
	}

	if c.ID == "" {
		c.ID = g.freshID(func(id string) bool { return g.cardIndex(id) >= 0 })
	} else if g.cardIndex(c.ID) >= 0 {
		return Card{}, fmt.Errorf("%w: card %s", ErrDuplicateID, c.ID)
	}

	g.cards = append(g.cards, c)
	return c, nil
}

func (g *Game) cardIndex(id string) int {
	return slices.IndexFunc(g.cards, func(c Card) bool { return c.ID == id })
}

func normalizeCard(c Card, avatarLimit int64) (Card, error) {
	c.Title = strings.TrimSpace(c.Title)
	if c.Title == "" {
		return Card{}, ErrTitleRequired
	}
	c.City = strings.TrimSpace(c.City)
	c.Age = strings.TrimSpace(c.Age)
	c.Description = strings.TrimSpace(c.Description)

	avatar, err := ValidateAvatar(c.Avatar, avatarLimit)
	if err != nil {
		return Card{}, err
	}
	if avatar == "" {
		avatar = DefaultCardAvatar
	}
	c.Avatar = avatar

	return c, nil
}

// freshID skips generated ids that are already taken, which can happen when
// a sequence generator meets ids loaded from a deck file.
func (g *Game) freshID(taken func(string) bool) string {
	for {
		id := g.ids.NewID()
		if !taken(id) {
			return id
		}
	}
}

// History returns completed rounds, newest first.
func (g *Game) History() []Round {
	return slices.Clone(g.history)
}

// Statistics aggregates the current history against the current registries.
func (g *Game) Statistics() Statistics {
	return Compute(g.players, g.cards, g.history)
}
