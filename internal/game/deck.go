// internal/game/deck.go
package game

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/ohlushko/unobot/internal/models"
)

// DeckSize is the classic 108-card composition built by BuildDeck.
const DeckSize = 108

// BuildDeck returns a shuffled standard deck: per color one 0, two of each 1-9,
// two each of skip/reverse/+2, plus four wilds and four +4s.
func BuildDeck() []models.Card {
	deck := make([]models.Card, 0, DeckSize)

	for _, c := range models.PlayColors {
		deck = append(deck, models.Card{Kind: models.KindNumber, Value: 0, Color: c})
	}
	for _, c := range models.PlayColors {
		for v := 1; v <= 9; v++ {
			deck = append(deck,
				models.Card{Kind: models.KindNumber, Value: v, Color: c},
				models.Card{Kind: models.KindNumber, Value: v, Color: c},
			)
		}
	}
	for _, c := range models.PlayColors {
		for i := 0; i < 2; i++ {
			deck = append(deck,
				models.Card{Kind: models.KindSkip, Color: c},
				models.Card{Kind: models.KindReverse, Color: c},
				models.Card{Kind: models.KindPlusTwo, Color: c},
			)
		}
	}
	for i := 0; i < 4; i++ {
		deck = append(deck,
			models.Card{Kind: models.KindWild, Color: models.ColorWild},
			models.Card{Kind: models.KindPlus4, Color: models.ColorWild},
		)
	}

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	r.Shuffle(len(deck), func(i, j int) {
		deck[i], deck[j] = deck[j], deck[i]
	})
	return deck
}

// Deal pops handSize cards per player off the end of the deck, round-robin,
// and returns the hands keyed by player id plus the remaining deck. The deck
// must cover the full request.
func Deal(deck []models.Card, players []int64, handSize int) (map[string][]models.Card, []models.Card, error) {
	if need := handSize * len(players); need > len(deck) {
		return nil, deck, fmt.Errorf("deal %d cards to %d players: deck holds only %d", handSize, len(players), len(deck))
	}
	hands := make(map[string][]models.Card, len(players))
	for _, uid := range players {
		hands[models.Key(uid)] = make([]models.Card, 0, handSize)
	}
	for i := 0; i < handSize; i++ {
		for _, uid := range players {
			card := deck[len(deck)-1]
			deck = deck[:len(deck)-1]
			k := models.Key(uid)
			hands[k] = append(hands[k], card)
		}
	}
	return hands, deck, nil
}
