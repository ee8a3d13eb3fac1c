/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package choice implements the choice party game.
//
// A facilitator records players and prompt cards. Each round, one player (the
// chooser) picks a target player and two cards; the target then picks one of
// the two. Completed rounds are kept newest-first and feed simple statistics.
//
// A Game is not safe for concurrent use. Callers serialize access, typically
// by owning the Game from a single goroutine.
package choice

import (
	"errors"
	"time"
)

var (
	ErrNameRequired      = errors.New("player name is required")
	ErrTitleRequired     = errors.New("card title is required")
	ErrPlayerNotFound    = errors.New("player not found")
	ErrCardNotFound      = errors.New("card not found")
	ErrDuplicateID       = errors.New("duplicate id")
	ErrWrongStep         = errors.New("action not allowed at this step")
	ErrSamePlayer        = errors.New("target must differ from chooser")
	ErrCardAlreadyPicked = errors.New("card already picked")
	ErrCardsFull         = errors.New("both cards already picked")
	ErrCardsIncomplete   = errors.New("two cards must be picked")
	ErrInvalidSlot       = errors.New("invalid card slot")
	ErrCardNotOffered    = errors.New("card was not offered this round")
	ErrNotImage          = errors.New("avatar must be an image")
	ErrEmptyAvatar       = errors.New("avatar file is empty")
	ErrAvatarTooLong     = errors.New("avatar text is too long")
	ErrAvatarTooLarge    = errors.New("avatar image is too large")
	ErrInvalidAvatar     = errors.New("avatar is not a valid base64 data url")
)

const (
	DefaultPlayerAvatar = "🧑"
	DefaultCardAvatar   = "🎯"

	// DefaultAvatarLimit is the largest decoded image avatar a game accepts
	// unless WithAvatarLimit says otherwise.
	DefaultAvatarLimit int64 = 2 << 20
)

// Player is a participant who can choose or be chosen for.
type Player struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Avatar      string `json:"avatar" yaml:"avatar"`
}

// PlayerInput holds the editable fields of a new player.
type PlayerInput struct {
	Name        string
	Description string
	Avatar      string
}

// Card is a prompt offered to the target player.
type Card struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	City        string `json:"city,omitempty" yaml:"city"`
	Age         string `json:"age,omitempty" yaml:"age"`
	Description string `json:"description,omitempty" yaml:"description"`
	Avatar      string `json:"avatar" yaml:"avatar"`
}

// CardInput holds the editable fields of a new card.
type CardInput struct {
	Title       string
	City        string
	Age         string
	Description string
	Avatar      string
}

// Round is one completed chooser → target → two cards → selection.
// Ids are resolved against the registries when read.
type Round struct {
	ID             string    `json:"id"`
	ChooserID      string    `json:"chooser_id"`
	TargetID       string    `json:"target_id"`
	CardAID        string    `json:"card_a_id"`
	CardBID        string    `json:"card_b_id"`
	SelectedCardID string    `json:"selected_card_id"`
	Timestamp      time.Time `json:"timestamp"`
}

type Step string

const (
	StepChooser     Step = "chooser"
	StepPlayer      Step = "player"
	StepSelectCards Step = "selectCards"
	StepMakeChoice  Step = "makeChoice"
)

type Slot string

const (
	SlotA Slot = "a"
	SlotB Slot = "b"
)

// Wizard is the in-progress round. Selections are snapshots taken when picked.
type Wizard struct {
	Step    Step    `json:"step"`
	Chooser *Player `json:"chooser,omitempty"`
	Target  *Player `json:"target,omitempty"`
	CardA   *Card   `json:"card_a,omitempty"`
	CardB   *Card   `json:"card_b,omitempty"`
}

func (w Wizard) clone() Wizard {
	out := Wizard{Step: w.Step}
	if w.Chooser != nil {
		p := *w.Chooser
		out.Chooser = &p
	}
	if w.Target != nil {
		p := *w.Target
		out.Target = &p
	}
	if w.CardA != nil {
		c := *w.CardA
		out.CardA = &c
	}
	if w.CardB != nil {
		c := *w.CardB
		out.CardB = &c
	}
	return out
}

func (w Wizard) picked(id string) bool {
	return (w.CardA != nil && w.CardA.ID == id) || (w.CardB != nil && w.CardB.ID == id)
}
