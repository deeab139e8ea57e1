// internal/game/rules.go
//
// The rules engine: validates and applies one player action against a
// session's state, entirely in memory. Every operation returns (ok, code) and
// mutates the state only when ok is true. Persistence and timers are the
// caller's concern.
package game

import (
	"time"

	"github.com/ohlushko/unobot/internal/models"
)

// Code is the machine-readable outcome of a rules operation.
type Code string

// Success codes.
const (
	CodeOK           Code = "OK"
	CodeWin          Code = "WIN"           // the actor emptied their hand
	CodePendingColor Code = "PENDING_COLOR" // wild/+4 played, color choice outstanding
	CodeKicked       Code = "KICKED"        // the draw pushed the actor over the hand limit
)

// Rejection codes. No mutation occurred.
const (
	CodePlayerKicked   Code = "PLAYER_KICKED"    // actor was removed from this session
	CodeNotInGame      Code = "NOT_IN_GAME"      // actor never joined this session
	CodeChooseColor    Code = "CHOOSE_COLOR"     // actor must resolve their own color choice first
	CodeAwaitingColor  Code = "AWAITING_COLOR"   // someone else's color choice is outstanding
	CodeNotYourTurn    Code = "NOT_YOUR_TURN"    //
	CodeNoSuchCard     Code = "NO_SUCH_CARD"     // card index out of range
	CodeIllegalCard    Code = "ILLEGAL_CARD"     // card does not match top card / current color
	CodeNoPendingColor Code = "NO_PENDING_COLOR" // color chosen but nothing pending
	CodeBadColor       Code = "BAD_COLOR"        // not one of the four play colors
	CodeGroupTooSmall  Code = "GROUP_TOO_SMALL"  // fewer than 2 cards of the group in hand
	CodeEmptyHand      Code = "EMPTY_HAND"       //
)

// Rules applies game mutations with the configured penalty/limit constants.
type Rules struct {
	PlusTwoCards  int
	PlusFourCards int
	MaxHand       int
	UnoSeconds    int
}

// DefaultRules returns the constants the game shipped with.
func DefaultRules() Rules {
	return Rules{PlusTwoCards: 2, PlusFourCards: 4, MaxHand: 25, UnoSeconds: 10}
}

func nowTS() float64 { return float64(time.Now().UnixNano()) / float64(time.Second) }

// Start deals a fresh game into gs: shuffled 108-card deck, 7 cards per
// player, first player's turn. The caller must ensure len(gs.Players) >= 2.
// Lobby metadata (title, player meta) is preserved; all transients reset,
// so a finished room restarts in place from its current member list.
func (r Rules) Start(gs *models.GameState) error {
	deck := BuildDeck()
	hands, deck, err := Deal(deck, gs.Players, 7)
	if err != nil {
		return err
	}

	gs.Status = string(models.StatusPlaying)
	gs.TurnIdx = 0
	gs.Direction = 1
	gs.Deck = deck
	gs.Discard = nil
	gs.Hands = hands
	gs.TopCard = nil
	gs.CurrentColor = ""
	gs.PendingColor = models.PendingColor{Resolved: true}
	gs.UnoPending = models.UnoPending{Resolved: true}
	gs.Timers = models.Timers{}
	gs.Penalties = nil
	gs.DrewFlag = nil
	gs.Kicked = nil
	gs.Placements = nil
	gs.FinishedMeta = nil
	gs.Events = nil
	gs.RewardsApplied = false
	gs.Rewards = nil
	gs.LevelUps = nil
	gs.LevelUpsNotified = false
	return nil
}

// findNextActiveIndex walks the rotation from startIdx in the given direction
// and returns the first index whose player is not kicked, or -1 if none.
func findNextActiveIndex(gs *models.GameState, startIdx, direction int) int {
	n := len(gs.Players)
	if n == 0 {
		return -1
	}
	idx := ((startIdx % n) + n) % n
	step := 1
	if direction < 0 {
		step = -1
	}
	for i := 0; i < n; i++ {
		if !gs.IsKicked(gs.Players[idx]) {
			return idx
		}
		idx = ((idx+step)%n + n) % n
	}
	return -1
}

// CurrentPlayer resolves TurnIdx to a player id. If the index points at a
// kicked player it self-heals: the index is advanced to the next active player
// and the correction is kept in the state.
func (r Rules) CurrentPlayer(gs *models.GameState) (int64, bool) {
	n := len(gs.Players)
	if n == 0 {
		return 0, false
	}
	idx0 := ((gs.TurnIdx % n) + n) % n
	idx := findNextActiveIndex(gs, idx0, gs.Direction)
	if idx < 0 {
		return 0, false
	}
	if idx != idx0 {
		gs.TurnIdx = idx
	}
	return gs.Players[idx], true
}

// nextPlayerID returns the active player one rotation step ahead of the
// current one (the +2/+4 victim).
func (r Rules) nextPlayerID(gs *models.GameState) (int64, bool) {
	n := len(gs.Players)
	if n == 0 {
		return 0, false
	}
	idx0 := ((gs.TurnIdx % n) + n) % n
	idx := findNextActiveIndex(gs, ((idx0+gs.Direction)%n+n)%n, gs.Direction)
	if idx < 0 {
		return 0, false
	}
	return gs.Players[idx], true
}

// advanceTurn moves TurnIdx by the given number of active steps.
func (r Rules) advanceTurn(gs *models.GameState, steps int) {
	if len(gs.Players) == 0 {
		return
	}
	if steps < 1 {
		steps = 1
	}
	for i := 0; i < steps; i++ {
		n := len(gs.Players)
		idx0 := ((gs.TurnIdx % n) + n) % n
		idx := findNextActiveIndex(gs, ((idx0+gs.Direction)%n+n)%n, gs.Direction)
		if idx < 0 {
			return
		}
		gs.TurnIdx = idx
	}
}

// DrawOne moves the top deck card into uid's hand and enforces the hand
// limit. Kicked players and an exhausted deck are silent no-ops.
func (r Rules) DrawOne(gs *models.GameState, uid int64) {
	if gs.IsKicked(uid) {
		return
	}
	if len(gs.Deck) == 0 {
		return
	}
	card := gs.Deck[len(gs.Deck)-1]
	gs.Deck = gs.Deck[:len(gs.Deck)-1]
	k := models.Key(uid)
	gs.Hands[k] = append(gs.Hands[k], card)
	r.EnforceHandLimit(gs, uid)
}

// ClearUnoFor closes uid's callout window without penalty, if one is open.
func (r Rules) ClearUnoFor(gs *models.GameState, uid int64) {
	if gs.UnoPending.Open() && gs.UnoPending.PlayerID == uid {
		gs.UnoPending.Active = false
		gs.UnoPending.Resolved = true
		gs.Timers.Uno = models.TimerSlot{}
	}
}

func recordKickEvent(gs *models.GameState, uid int64, cards int) {
	gs.Events = append(gs.Events, models.KickEvent{PlayerID: uid, Cards: cards, TS: nowTS()})
}

// PopKickEvents drains the kick outbox. Callers call this after a save so
// each notification goes out exactly once.
func (r Rules) PopKickEvents(gs *models.GameState) []models.KickEvent {
	evs := gs.Events
	gs.Events = nil
	return evs
}

// KickPlayer permanently removes uid from the rotation: hand dropped, flags
// cleared, TurnIdx adjusted so the logical "next player" is preserved, and
// the session auto-finishes if at most one active player remains.
func (r Rules) KickPlayer(gs *models.GameState, uid int64, reason string, cardsAtKick int) {
	if gs.IsKicked(uid) {
		return
	}
	if cardsAtKick < 0 {
		cardsAtKick = gs.HandSize(uid)
	}

	k := models.Key(uid)
	delete(gs.Hands, k)
	delete(gs.Penalties, k)
	if gs.DrewFlag != nil && gs.DrewFlag.PlayerID == uid {
		gs.DrewFlag = nil
	}

	removeFromRotation(gs, uid)

	if gs.Kicked == nil {
		gs.Kicked = map[string]models.KickRecord{}
	}
	gs.Kicked[k] = models.KickRecord{Reason: reason, Cards: cardsAtKick, TS: nowTS()}

	r.ClearUnoFor(gs, uid)
	if gs.PendingColor.Blocking() && gs.PendingColor.PlayerID == uid {
		gs.PendingColor.Active = false
		gs.PendingColor.Resolved = true
	}

	r.FinishPlayer(gs, uid, reason)
	r.maybeFinish(gs)
}

// removeFromRotation drops uid from Players, shifting TurnIdx left when the
// removed slot was before it so the same next player keeps the turn.
func removeFromRotation(gs *models.GameState, uid int64) {
	idxRemove := -1
	for i, p := range gs.Players {
		if p == uid {
			idxRemove = i
			break
		}
	}
	if idxRemove < 0 {
		return
	}

	oldN := len(gs.Players)
	curIdx := ((gs.TurnIdx % oldN) + oldN) % oldN

	gs.Players = append(gs.Players[:idxRemove], gs.Players[idxRemove+1:]...)

	if len(gs.Players) == 0 {
		gs.TurnIdx = 0
		return
	}
	if idxRemove < curIdx {
		curIdx--
	}
	gs.TurnIdx = curIdx % len(gs.Players)
}

// EnforceHandLimit kicks uid when their hand exceeds the configured maximum.
// Returns true if the player was newly kicked. The kick event is recorded
// before removal so the notification still carries the overflowing count.
func (r Rules) EnforceHandLimit(gs *models.GameState, uid int64) bool {
	if gs.IsKicked(uid) {
		return false
	}
	cardsNow := gs.HandSize(uid)
	if cardsNow > r.MaxHand {
		recordKickEvent(gs, uid, cardsNow)
		r.KickPlayer(gs, uid, "hand_limit", cardsNow)
		return true
	}
	return false
}

// LeaveGame removes uid from a running game at their own request. Rotation
// and turn index adjust the same way a kick does, but no kick record is
// written, so the player may rejoin later. The session auto-finishes when at
// most one player remains.
func (r Rules) LeaveGame(gs *models.GameState, uid int64) {
	k := models.Key(uid)
	delete(gs.Hands, k)
	delete(gs.Penalties, k)
	if gs.DrewFlag != nil && gs.DrewFlag.PlayerID == uid {
		gs.DrewFlag = nil
	}

	r.ClearUnoFor(gs, uid)
	if gs.PendingColor.Blocking() && gs.PendingColor.PlayerID == uid {
		gs.PendingColor.Active = false
		gs.PendingColor.Resolved = true
	}

	removeFromRotation(gs, uid)
	r.maybeFinish(gs)
}

// FinishPlayer appends uid to the placements (idempotent), removes them from
// the rotation and drops their hand. An open callout window of theirs closes
// with it, a placed player owes no callout.
func (r Rules) FinishPlayer(gs *models.GameState, uid int64, reason string) {
	placed := false
	for _, p := range gs.Placements {
		if p == uid {
			placed = true
			break
		}
	}
	if !placed {
		gs.Placements = append(gs.Placements, uid)
	}

	r.ClearUnoFor(gs, uid)
	removeFromRotation(gs, uid)
	delete(gs.Hands, models.Key(uid))

	if gs.FinishedMeta == nil {
		gs.FinishedMeta = map[string]models.FinishMeta{}
	}
	gs.FinishedMeta[models.Key(uid)] = models.FinishMeta{Reason: reason}
}

// maybeFinish ends the session when at most one rotation member remains; a
// sole survivor is placed last.
func (r Rules) maybeFinish(gs *models.GameState) {
	if len(gs.Players) <= 1 {
		if len(gs.Players) == 1 {
			r.FinishPlayer(gs, gs.Players[0], "last_player")
		}
		gs.Status = string(models.StatusFinished)
	}
}

// CanPlay is the legality table: wild/+4 always; color match; number-value
// match; same action kind regardless of color. An empty table accepts anything.
func CanPlay(card models.Card, top *models.Card, currentColor models.CardColor) bool {
	if top == nil {
		return true
	}
	if card.IsWild() {
		return true
	}
	if currentColor != "" && card.Color == currentColor {
		return true
	}
	if card.Kind == models.KindNumber && top.Kind == models.KindNumber {
		return card.Value == top.Value
	}
	switch card.Kind {
	case models.KindSkip, models.KindReverse, models.KindPlusTwo:
		return top.Kind == card.Kind
	}
	return false
}

// rejectIfBlocked applies the shared preconditions: kicked players cannot act
// and an outstanding color choice blocks everyone.
func (r Rules) rejectIfBlocked(gs *models.GameState, uid int64) (Code, bool) {
	if gs.IsKicked(uid) {
		return CodePlayerKicked, false
	}
	if !gs.HasPlayer(uid) {
		return CodeNotInGame, false
	}
	if gs.PendingColor.Blocking() {
		if gs.PendingColor.PlayerID == uid {
			return CodeChooseColor, false
		}
		return CodeAwaitingColor, false
	}
	return "", true
}

// openUnoWindow opens the callout window after uid drops to exactly one card.
func (r Rules) openUnoWindow(gs *models.GameState, uid int64) {
	gs.UnoPending = models.UnoPending{
		Active:    true,
		PlayerID:  uid,
		ExpiresAt: nowTS() + float64(r.UnoSeconds),
	}
}

// closeStaleUnoWindow shuts any open window without penalty (hand back to 2+).
func (r Rules) closeStaleUnoWindow(gs *models.GameState) {
	if gs.UnoPending.Open() {
		gs.UnoPending.Active = false
		gs.UnoPending.Resolved = true
	}
}

// PlayCard validates and applies a single-card play by uid.
func (r Rules) PlayCard(gs *models.GameState, uid int64, cardIndex int) (bool, Code) {
	if code, ok := r.rejectIfBlocked(gs, uid); !ok {
		return false, code
	}
	if cur, ok := r.CurrentPlayer(gs); !ok || cur != uid {
		return false, CodeNotYourTurn
	}

	k := models.Key(uid)
	hand := gs.Hands[k]
	if cardIndex < 0 || cardIndex >= len(hand) {
		return false, CodeNoSuchCard
	}

	card := hand[cardIndex]
	if !CanPlay(card, gs.TopCard, gs.CurrentColor) {
		return false, CodeIllegalCard
	}

	hand = append(hand[:cardIndex], hand[cardIndex+1:]...)
	gs.Hands[k] = hand
	gs.Discard = append(gs.Discard, card)
	top := card
	gs.TopCard = &top

	if !card.IsWild() {
		gs.CurrentColor = card.Color
	}

	if len(hand) == 0 {
		r.FinishPlayer(gs, uid, "empty_hand")
		gs.PendingColor.Active = false
		gs.PendingColor.Resolved = true
		r.maybeFinish(gs)
		return true, CodeWin
	}

	if len(hand) == 1 {
		r.openUnoWindow(gs, uid)
	} else {
		r.closeStaleUnoWindow(gs)
	}

	switch card.Kind {
	case models.KindWild, models.KindPlus4:
		gs.PendingColor = models.PendingColor{Active: true, PlayerID: uid, Kind: card.Kind, Stack: 1}
		return true, CodePendingColor

	case models.KindSkip:
		r.advanceTurn(gs, 2)
		return true, CodeOK

	case models.KindReverse:
		gs.Direction = -gs.Direction
		if len(gs.Players) == 2 {
			r.advanceTurn(gs, 2)
		} else {
			r.advanceTurn(gs, 1)
		}
		return true, CodeOK

	case models.KindPlusTwo:
		if victim, ok := r.nextPlayerID(gs); ok {
			for i := 0; i < r.PlusTwoCards; i++ {
				r.DrawOne(gs, victim)
			}
		}
		// the victim still plays their own turn after the draws
		r.advanceTurn(gs, 1)
		return true, CodeOK
	}

	r.advanceTurn(gs, 1)
	return true, CodeOK
}

// ChooseColor resolves an outstanding wild/+4 color choice by uid.
func (r Rules) ChooseColor(gs *models.GameState, uid int64, color models.CardColor) (bool, Code) {
	if gs.IsKicked(uid) {
		return false, CodePlayerKicked
	}
	if !gs.PendingColor.Blocking() {
		return false, CodeNoPendingColor
	}
	if gs.PendingColor.PlayerID != uid {
		return false, CodeAwaitingColor
	}
	if !models.ValidChoiceColor(color) {
		return false, CodeBadColor
	}

	gs.CurrentColor = color
	kind := gs.PendingColor.Kind
	stack := gs.PendingColor.Stack
	if stack < 1 {
		stack = 1
	}
	gs.PendingColor.Active = false
	gs.PendingColor.Resolved = true

	if kind == models.KindPlus4 {
		if victim, ok := r.nextPlayerID(gs); ok {
			for i := 0; i < stack*r.PlusFourCards; i++ {
				r.DrawOne(gs, victim)
			}
		}
	}
	r.advanceTurn(gs, 1)
	return true, CodeOK
}

// DrawCardAndPass draws exactly one card for uid. If the draw evicted them,
// their turn is over (KICKED); otherwise the turn stays with them and the
// drew flag records that they may still play.
func (r Rules) DrawCardAndPass(gs *models.GameState, uid int64) (bool, Code) {
	if gs.PendingColor.Blocking() {
		if gs.PendingColor.PlayerID == uid {
			return false, CodeChooseColor
		}
		return false, CodeAwaitingColor
	}
	if gs.IsKicked(uid) {
		return false, CodePlayerKicked
	}
	if !gs.HasPlayer(uid) {
		return false, CodeNotInGame
	}
	if cur, ok := r.CurrentPlayer(gs); !ok || cur != uid {
		return false, CodeNotYourTurn
	}

	r.DrawOne(gs, uid)

	if gs.IsKicked(uid) {
		r.advanceTurn(gs, 1)
		return true, CodeKicked
	}
	gs.DrewFlag = &models.DrewFlag{PlayerID: uid, TS: nowTS()}
	return true, CodeOK
}

// PlayGroupDump plays every card of the given group from uid's hand in one
// action. The group must hold at least 2 cards and its first card must be
// legal right now. Effects scale with the count n, except: skip advances a
// fixed 2 steps regardless of n, and reverse flips direction only for odd n
// (both preserved from the original game, see DESIGN.md).
func (r Rules) PlayGroupDump(gs *models.GameState, uid int64, group string) (bool, Code) {
	if code, ok := r.rejectIfBlocked(gs, uid); !ok {
		return false, code
	}
	if cur, ok := r.CurrentPlayer(gs); !ok || cur != uid {
		return false, CodeNotYourTurn
	}

	k := models.Key(uid)
	hand := gs.Hands[k]
	if len(hand) == 0 {
		return false, CodeEmptyHand
	}

	var idxs []int
	for i, c := range hand {
		if c.GroupKey() == group {
			idxs = append(idxs, i)
		}
	}
	if len(idxs) < 2 {
		return false, CodeGroupTooSmall
	}

	if !CanPlay(hand[idxs[0]], gs.TopCard, gs.CurrentColor) {
		return false, CodeIllegalCard
	}

	toPlay := make([]models.Card, 0, len(idxs))
	for _, i := range idxs {
		toPlay = append(toPlay, hand[i])
	}
	kept := make([]models.Card, 0, len(hand)-len(idxs))
	next := 0
	for i, c := range hand {
		if next < len(idxs) && i == idxs[next] {
			next++
			continue
		}
		kept = append(kept, c)
	}
	gs.Hands[k] = kept

	gs.Discard = append(gs.Discard, toPlay...)
	last := toPlay[len(toPlay)-1]
	top := last
	gs.TopCard = &top

	if !last.IsWild() {
		gs.CurrentColor = last.Color
	}

	if len(kept) == 0 {
		r.FinishPlayer(gs, uid, "empty_hand")
		gs.PendingColor.Active = false
		gs.PendingColor.Resolved = true
		r.maybeFinish(gs)
		return true, CodeWin
	}

	if len(kept) == 1 {
		r.openUnoWindow(gs, uid)
	} else {
		r.closeStaleUnoWindow(gs)
	}

	n := len(toPlay)

	switch last.Kind {
	case models.KindWild, models.KindPlus4:
		gs.PendingColor = models.PendingColor{Active: true, PlayerID: uid, Kind: last.Kind, Stack: n}
		return true, CodePendingColor

	case models.KindSkip:
		r.advanceTurn(gs, 2)
		return true, CodeOK

	case models.KindReverse:
		if n%2 == 1 {
			gs.Direction = -gs.Direction
		}
		if len(gs.Players) == 2 {
			r.advanceTurn(gs, 2)
		} else {
			r.advanceTurn(gs, 1)
		}
		return true, CodeOK

	case models.KindPlusTwo:
		if victim, ok := r.nextPlayerID(gs); ok {
			for i := 0; i < n*r.PlusTwoCards; i++ {
				r.DrawOne(gs, victim)
			}
		}
		r.advanceTurn(gs, 1)
		return true, CodeOK
	}

	r.advanceTurn(gs, 1)
	return true, CodeOK
}

// ApplyPenalty deals the penalty cards to uid (hand limit still applies).
func (r Rules) ApplyPenalty(gs *models.GameState, uid int64, cards int) {
	for i := 0; i < cards; i++ {
		r.DrawOne(gs, uid)
	}
}

// ApplyPenaltyAndSkipIfPossible delivers the penalty and, if uid is (still)
// the current player afterwards, advances the rotation by one step. When the
// penalized player is not the one acting, a skip-next-turn flag is recorded
// instead so their next turn collapses. Returns true if the rotation advanced.
func (r Rules) ApplyPenaltyAndSkipIfPossible(gs *models.GameState, uid int64, cards int) bool {
	r.ApplyPenalty(gs, uid, cards)

	if gs.IsKicked(uid) {
		if cur, ok := r.CurrentPlayer(gs); ok && cur == uid {
			r.advanceTurn(gs, 1)
			return true
		}
		return false
	}

	if cur, ok := r.CurrentPlayer(gs); ok && cur == uid {
		r.advanceTurn(gs, 1)
		return true
	}

	if gs.Penalties == nil {
		gs.Penalties = map[string]models.PenaltyFlags{}
	}
	pen := gs.Penalties[models.Key(uid)]
	pen.SkipNextTurn = true
	gs.Penalties[models.Key(uid)] = pen
	return false
}

// ConsumeSkipIfMarked clears one pending skip flag on the current player and
// advances the rotation. Callers loop this before arming a turn deadline so
// chained flags collapse.
func (r Rules) ConsumeSkipIfMarked(gs *models.GameState) bool {
	uid, ok := r.CurrentPlayer(gs)
	if !ok {
		return false
	}
	pen := gs.Penalties[models.Key(uid)]
	if !pen.SkipNextTurn {
		return false
	}
	pen.SkipNextTurn = false
	gs.Penalties[models.Key(uid)] = pen
	r.advanceTurn(gs, 1)
	return true
}
