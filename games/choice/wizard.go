/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package choice

import (
	"slices"
)

// Wizard returns a copy of the round in progress.
func (g *Game) Wizard() Wizard {
	return g.wizard.clone()
}

// SelectChooser starts a round with the given player choosing.
func (g *Game) SelectChooser(id string) error {
	if g.wizard.Step != StepChooser {
		return ErrWrongStep
	}

	p, ok := g.Player(id)
	if !ok {
		return ErrPlayerNotFound
	}

	g.wizard.Chooser = &p
	g.wizard.Step = StepPlayer
	return nil
}

// SelectTarget picks who the chooser is choosing for.
func (g *Game) SelectTarget(id string) error {
	if g.wizard.Step != StepPlayer {
		return ErrWrongStep
	}

	if g.wizard.Chooser != nil && g.wizard.Chooser.ID == id {
		return ErrSamePlayer
	}

	p, ok := g.Player(id)
	if !ok {
		return ErrPlayerNotFound
	}

	g.wizard.Target = &p
	g.wizard.Step = StepSelectCards
	return nil
}

// PickCard fills the first empty card slot.
func (g *Game) PickCard(id string) error {
	if g.wizard.Step != StepSelectCards {
		return ErrWrongStep
	}

	c, ok := g.Card(id)
	if !ok {
		return ErrCardNotFound
	}

	if g.wizard.picked(id) {
		return ErrCardAlreadyPicked
	}

	switch {
	case g.wizard.CardA == nil:
		g.wizard.CardA = &c
	case g.wizard.CardB == nil:
		g.wizard.CardB = &c
	default:
		return ErrCardsFull
	}

	return nil
}

// ClearCard empties a card slot so another card can be picked.
func (g *Game) ClearCard(slot Slot) error {
	if g.wizard.Step != StepSelectCards {
		return ErrWrongStep
	}

	switch slot {
	case SlotA:
		g.wizard.CardA = nil
	case SlotB:
		g.wizard.CardB = nil
	default:
		return ErrInvalidSlot
	}

	return nil
}

// ConfirmCards moves on to the target's choice once both slots are filled.
func (g *Game) ConfirmCards() error {
	if g.wizard.Step != StepSelectCards {
		return ErrWrongStep
	}

	if g.wizard.CardA == nil || g.wizard.CardB == nil {
		return ErrCardsIncomplete
	}

	g.wizard.Step = StepMakeChoice
	return nil
}

// MakeChoice records the target's pick and starts over.
func (g *Game) MakeChoice(cardID string) (Round, error) {
	w := g.wizard
	if w.Step != StepMakeChoice || w.Chooser == nil || w.Target == nil || w.CardA == nil || w.CardB == nil {
		return Round{}, ErrWrongStep
	}

	if cardID != w.CardA.ID && cardID != w.CardB.ID {
		return Round{}, ErrCardNotOffered
	}

	round := Round{
		ID: g.freshID(func(id string) bool {
			return slices.ContainsFunc(g.history, func(r Round) bool { return r.ID == id })
		}),
		ChooserID:      w.Chooser.ID,
		TargetID:       w.Target.ID,
		CardAID:        w.CardA.ID,
		CardBID:        w.CardB.ID,
		SelectedCardID: cardID,
		Timestamp:      g.clock.Now(),
	}

	g.history = slices.Insert(g.history, 0, round)
	g.Reset()

	return round, nil
}

// Reset discards the round in progress.
func (g *Game) Reset() {
	g.wizard = Wizard{Step: StepChooser}
}

// SelectablePlayers lists the players that may be picked at the current step.
func (g *Game) SelectablePlayers() []Player {
	switch g.wizard.Step {
	case StepChooser:
		return g.Players()
	case StepPlayer:
		out := make([]Player, 0, len(g.players))
		for _, p := range g.players {
			if g.wizard.Chooser != nil && p.ID == g.wizard.Chooser.ID {
				continue
			}
			out = append(out, p)
		}
		return out
	default:
		return []Player{}
	}
}

// SelectableCards lists the cards that may still be picked this round.
func (g *Game) SelectableCards() []Card {
	if g.wizard.Step != StepSelectCards {
		return []Card{}
	}

	out := make([]Card, 0, len(g.cards))
	for _, c := range g.cards {
		if g.wizard.picked(c.ID) {
			continue
		}
		out = append(out, c)
	}
	return out
}
