// internal/engine/timers.go
//
// Deadline arming and firing. The protocol: mutate state, write a fresh
// token into the deadline slot, commit, and only then hand the job to the
// scheduler. A fired callback reloads the session and acts only while its
// token still matches the stored one, so a deadline replaced or cleared by a
// later commit is a no-op even if its job slips through cancellation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ohlushko/unobot/internal/game"
	"github.com/ohlushko/unobot/internal/models"
)

func turnJobID(chatID int64) string { return fmt.Sprintf("turn:%d", chatID) }

func unoJobID(chatID, uid int64) string { return fmt.Sprintf("uno:%d:%d", chatID, uid) }

// armTurnSlot writes a fresh turn deadline descriptor for uid and returns its
// token. Must be followed by a save and then scheduleTurn.
func (e *Engine) armTurnSlot(gs *models.GameState, uid int64) string {
	token := uuid.NewString()
	gs.Timers.Turn = models.TimerSlot{
		Token:     token,
		PlayerID:  uid,
		ExpiresAt: nowTS() + float64(e.cfg.TurnSeconds),
		Seconds:   e.cfg.TurnSeconds,
	}
	return token
}

// prepareTurnDeadline collapses any chained skip flags on the rotation, then
// arms the turn slot for whoever actually acts next.
func (e *Engine) prepareTurnDeadline(gs *models.GameState) (uid int64, token string, ok bool) {
	for i := 0; i < len(gs.Players)+1; i++ {
		if !e.rules.ConsumeSkipIfMarked(gs) {
			break
		}
	}
	uid, ok = e.rules.CurrentPlayer(gs)
	if !ok {
		return 0, "", false
	}
	return uid, e.armTurnSlot(gs, uid), true
}

// armUnoSlot writes a callout deadline descriptor for the window owner.
func (e *Engine) armUnoSlot(gs *models.GameState, uid int64) string {
	token := uuid.NewString()
	gs.Timers.Uno = models.TimerSlot{
		Token:     token,
		PlayerID:  uid,
		ExpiresAt: nowTS() + float64(e.cfg.UnoSeconds),
		Seconds:   e.cfg.UnoSeconds,
	}
	return token
}

// scheduleTurn registers the turn deadline job. Call only after the slot
// committed.
func (e *Engine) scheduleTurn(chatID, uid int64, token string, seconds int) {
	e.sched.Schedule(turnJobID(chatID), time.Now().Add(time.Duration(seconds)*time.Second), func() {
		e.onTurnDeadline(chatID, uid, token)
	})
}

// scheduleUno registers the callout deadline job. Call only after the slot
// committed.
func (e *Engine) scheduleUno(chatID, uid int64, token string, seconds int) {
	e.sched.Schedule(unoJobID(chatID, uid), time.Now().Add(time.Duration(seconds)*time.Second), func() {
		e.onUnoDeadline(chatID, uid, token)
	})
}

// onTurnDeadline fires when a player sat on their turn too long. The stalled
// player draws the penalty and the rotation moves on. Stale tokens, resolved
// turns and outstanding color choices all make the firing a no-op; an
// outstanding color choice deliberately does not re-arm, the session stays
// blocked on the chooser.
func (e *Engine) onTurnDeadline(chatID, uid int64, token string) {
	ctx := context.Background()

	_, err := e.withRetry(ctx, chatID, false, "", func(sess *models.Session) (*outcome, error) {
		gs := sess.State
		if sess.Status != models.StatusPlaying || gs.Finished() {
			return &outcome{result: Result{OK: true, Code: CodeGameNotActive}}, nil
		}

		slot := gs.Timers.Turn
		if !slot.Armed() || slot.Token != token || slot.PlayerID != uid {
			return &outcome{result: Result{OK: true}}, nil
		}
		if cur, ok := e.rules.CurrentPlayer(gs); !ok || cur != uid {
			return &outcome{result: Result{OK: true}}, nil
		}
		if gs.PendingColor.Blocking() {
			return &outcome{result: Result{OK: true}}, nil
		}

		penalty := e.cfg.TurnPenaltyCards
		e.rules.ApplyPenaltyAndSkipIfPossible(gs, uid, penalty)
		gs.Timers.Turn = models.TimerSlot{}
		kicks := e.rules.PopKickEvents(gs)

		out := &outcome{result: Result{OK: true, Code: game.CodeOK}, save: true}
		out.after = append(out.after, func() { e.emitKicks(chatID, kicks) })

		if gs.Finished() {
			prevUnoOwner := e.clearUnoSlot(gs)
			levelUps := e.finishSession(ctx, sess)
			placements := append([]int64(nil), gs.Placements...)
			out.after = append(out.after, func() {
				e.cancelDeadlines(chatID, prevUnoOwner)
				e.emit(models.Event{Type: models.EventTurnTimeout, ChatID: chatID, Actor: uid, Cards: penalty})
				e.emitFinished(chatID, placements, levelUps)
			})
			return out, nil
		}

		nextUID, nextToken, ok := e.prepareTurnDeadline(gs)
		out.after = append(out.after, func() {
			e.emit(models.Event{
				Type:       models.EventTurnTimeout,
				ChatID:     chatID,
				Actor:      uid,
				Cards:      penalty,
				NextPlayer: nextUID,
			})
			if ok {
				e.scheduleTurn(chatID, nextUID, nextToken, gs.Timers.Turn.Seconds)
			}
		})
		return out, nil
	})
	if err != nil && !errors.Is(err, ErrNoSession) {
		e.log.WithError(err).WithFields(logrus.Fields{"chat": chatID, "player": uid}).Warn("turn deadline handling failed")
	}
}

// onUnoDeadline fires when a callout window closes. A confirmed window is
// cleaned up silently; an unconfirmed one costs the owner the penalty, and if
// the owner happened to be the current player the rotation moves on with a
// fresh turn deadline.
func (e *Engine) onUnoDeadline(chatID, uid int64, token string) {
	ctx := context.Background()

	_, err := e.withRetry(ctx, chatID, false, "", func(sess *models.Session) (*outcome, error) {
		gs := sess.State
		if sess.Status != models.StatusPlaying || gs.Finished() {
			return &outcome{result: Result{OK: true, Code: CodeGameNotActive}}, nil
		}

		slot := gs.Timers.Uno
		if !slot.Armed() || slot.Token != token || slot.PlayerID != uid {
			return &outcome{result: Result{OK: true}}, nil
		}
		if !gs.UnoPending.Open() || gs.UnoPending.PlayerID != uid {
			return &outcome{result: Result{OK: true}}, nil
		}

		out := &outcome{result: Result{OK: true, Code: game.CodeOK}, save: true}

		if gs.UnoPending.Said {
			gs.UnoPending.Active = false
			gs.UnoPending.Resolved = true
			gs.Timers.Uno = models.TimerSlot{}
			return out, nil
		}

		penalty := e.cfg.UnoPenaltyCards
		skippedNow := e.rules.ApplyPenaltyAndSkipIfPossible(gs, uid, penalty)
		gs.UnoPending.Active = false
		gs.UnoPending.Resolved = true
		gs.Timers.Uno = models.TimerSlot{}
		kicks := e.rules.PopKickEvents(gs)

		out.after = append(out.after, func() { e.emitKicks(chatID, kicks) })

		if gs.Finished() {
			levelUps := e.finishSession(ctx, sess)
			placements := append([]int64(nil), gs.Placements...)
			out.after = append(out.after, func() {
				e.cancelDeadlines(chatID, 0)
				e.emit(models.Event{Type: models.EventUnoTimeout, ChatID: chatID, Actor: uid, Cards: penalty})
				e.emitFinished(chatID, placements, levelUps)
			})
			return out, nil
		}

		var nextUID int64
		if skippedNow {
			uid2, nextToken, ok := e.prepareTurnDeadline(gs)
			nextUID = uid2
			if ok {
				seconds := gs.Timers.Turn.Seconds
				out.after = append(out.after, func() { e.scheduleTurn(chatID, uid2, nextToken, seconds) })
			}
		}
		out.after = append(out.after, func() {
			e.emit(models.Event{
				Type:       models.EventUnoTimeout,
				ChatID:     chatID,
				Actor:      uid,
				Cards:      penalty,
				NextPlayer: nextUID,
			})
		})
		return out, nil
	})
	if err != nil && !errors.Is(err, ErrNoSession) {
		e.log.WithError(err).WithFields(logrus.Fields{"chat": chatID, "player": uid}).Warn("uno deadline handling failed")
	}
}

// clearUnoSlot empties the uno deadline slot, returning the previous owner so
// the caller can cancel the matching job (0 when none was armed).
func (e *Engine) clearUnoSlot(gs *models.GameState) int64 {
	owner := int64(0)
	if gs.Timers.Uno.Armed() {
		owner = gs.Timers.Uno.PlayerID
	}
	gs.Timers.Uno = models.TimerSlot{}
	return owner
}

// cancelDeadlines drops the room's turn job and, when unoOwner is nonzero,
// that owner's callout job. Cancellation is best-effort; token checks catch
// whatever slips through.
func (e *Engine) cancelDeadlines(chatID, unoOwner int64) {
	e.sched.Cancel(turnJobID(chatID))
	if unoOwner != 0 {
		e.sched.Cancel(unoJobID(chatID, unoOwner))
	}
}
