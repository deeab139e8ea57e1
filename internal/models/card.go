package models

import "fmt"

// CardKind enumerates the six UNO card kinds.
type CardKind string

const (
	KindNumber  CardKind = "num"
	KindSkip    CardKind = "skip"
	KindReverse CardKind = "rev"
	KindPlusTwo CardKind = "p2"
	KindWild    CardKind = "wild"
	KindPlus4   CardKind = "p4"
)

// CardColor enumerates the four play colors plus the wild pseudo-color.
type CardColor string

const (
	ColorRed    CardColor = "red"
	ColorGreen  CardColor = "green"
	ColorBlue   CardColor = "blue"
	ColorYellow CardColor = "yellow"
	ColorWild   CardColor = "wild"
)

// PlayColors are the colors a player may choose after a wild/+4.
var PlayColors = []CardColor{ColorRed, ColorGreen, ColorBlue, ColorYellow}

// Card is an immutable card value. Value is meaningful only for KindNumber.
type Card struct {
	Kind  CardKind  `json:"kind"`
	Value int       `json:"value"`
	Color CardColor `json:"color"`
}

// IsWild reports whether the card forces a color choice when played.
func (c Card) IsWild() bool {
	return c.Kind == KindWild || c.Kind == KindPlus4
}

// GroupKey buckets cards for group dumps: number cards group by value,
// action cards group by kind.
func (c Card) GroupKey() string {
	if c.Kind == KindNumber {
		return fmt.Sprintf("num:%d", c.Value)
	}
	return string(c.Kind)
}

// ValidKind reports whether k is one of the six known kinds.
func ValidKind(k CardKind) bool {
	switch k {
	case KindNumber, KindSkip, KindReverse, KindPlusTwo, KindWild, KindPlus4:
		return true
	}
	return false
}

// ValidChoiceColor reports whether a player-chosen color is one of the four play colors.
func ValidChoiceColor(c CardColor) bool {
	for _, pc := range PlayColors {
		if c == pc {
			return true
		}
	}
	return false
}
