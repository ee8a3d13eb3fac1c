/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package choice

import (
	"math"
	"slices"
)

const topCardsLimit = 5

type CardCount struct {
	CardID string `json:"card_id"`
	Title  string `json:"title"`
	Avatar string `json:"avatar"`
	Count  int    `json:"count"`
}

type PlayerCount struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar"`
	Count    int    `json:"count"`
}

type Statistics struct {
	TopCards       []CardCount   `json:"top_cards"`
	PlayerActivity []PlayerCount `json:"player_activity"`
	Players        int           `json:"players"`
	Cards          int           `json:"cards"`
	Rounds         int           `json:"rounds"`
	Activity       int           `json:"activity"`
}

// Compute aggregates history against the given registries. References that no
// longer resolve are counted with blank display fields.
func Compute(players []Player, cards []Card, history []Round) Statistics {
	stats := Statistics{
		TopCards:       []CardCount{},
		PlayerActivity: []PlayerCount{},
		Players:        len(players),
		Cards:          len(cards),
		Rounds:         len(history),
		Activity:       activity(len(history), len(players), len(cards)),
	}

	for _, t := range tally(history, func(r Round) string { return r.SelectedCardID }) {
		cc := CardCount{CardID: t.id, Count: t.count}
		if i := slices.IndexFunc(cards, func(c Card) bool { return c.ID == t.id }); i >= 0 {
			cc.Title = cards[i].Title
			cc.Avatar = cards[i].Avatar
		}
		stats.TopCards = append(stats.TopCards, cc)
		if len(stats.TopCards) == topCardsLimit {
			break
		}
	}

	for _, t := range tally(history, func(r Round) string { return r.TargetID }) {
		pc := PlayerCount{PlayerID: t.id, Count: t.count}
		if i := slices.IndexFunc(players, func(p Player) bool { return p.ID == t.id }); i >= 0 {
			pc.Name = players[i].Name
			pc.Avatar = players[i].Avatar
		}
		stats.PlayerActivity = append(stats.PlayerActivity, pc)
	}

	return stats
}

type tallied struct {
	id    string
	count int
}

// tally counts keys in history order and sorts by count descending; equal
// counts keep the order in which the key first appeared.
func tally(history []Round, key func(Round) string) []tallied {
	var out []tallied
	index := make(map[string]int)

	for _, r := range history {
		k := key(r)
		if i, ok := index[k]; ok {
			out[i].count++
			continue
		}
		index[k] = len(out)
		out = append(out, tallied{id: k, count: 1})
	}

	slices.SortStableFunc(out, func(a, b tallied) int {
		return b.count - a.count
	})

	return out
}

func activity(rounds, players, cards int) int {
	if rounds == 0 || players == 0 || cards == 0 {
		return 0
	}
	return int(math.Floor(float64(rounds)/float64(players*cards)*100 + 0.5))
}
