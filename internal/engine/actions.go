// internal/engine/actions.go
package engine

import (
	"context"

	"github.com/ohlushko/unobot/internal/game"
	"github.com/ohlushko/unobot/internal/models"
)

// HandleAction applies one normalized inbound action. The returned Result
// carries the machine-readable outcome for the transport; an error means
// nothing was committed (store failure, missing session, retries exhausted).
func (e *Engine) HandleAction(ctx context.Context, act Action) (Result, error) {
	switch act.Type {
	case ActionJoin:
		return e.join(ctx, act)
	case ActionLeave:
		return e.leave(ctx, act)
	case ActionStart:
		return e.start(ctx, act)
	case ActionStop:
		return e.stop(ctx, act)
	case ActionPlayCard:
		return e.playCard(ctx, act)
	case ActionDrawAndPass:
		return e.drawAndPass(ctx, act)
	case ActionChooseColor:
		return e.chooseColor(ctx, act)
	case ActionPlayGroupDump:
		return e.playGroupDump(ctx, act)
	case ActionCallout:
		return e.calloutSignal(ctx, act)
	}
	return Result{OK: false, Code: CodeUnknownAction}, nil
}

// join adds a player to the room, creating the lobby on first contact. A
// mid-game joiner is dealt a starting hand and slots in at the end of the
// rotation; kicked players cannot rejoin until the game ends. A finished room
// keeps accepting joins, it refills the lobby for the next round.
func (e *Engine) join(ctx context.Context, act Action) (Result, error) {
	return e.withRetry(ctx, act.ChatID, true, act.Title, func(sess *models.Session) (*outcome, error) {
		gs := sess.State
		if sess.Status == models.StatusPlaying && gs.IsKicked(act.PlayerID) {
			return reject(game.CodePlayerKicked), nil
		}
		if gs.HasPlayer(act.PlayerID) {
			return reject(CodeAlreadyJoined), nil
		}

		gs.Players = append(gs.Players, act.PlayerID)
		k := models.Key(act.PlayerID)
		if gs.PlayerMeta == nil {
			gs.PlayerMeta = map[string]models.PlayerMeta{}
		}
		gs.PlayerMeta[k] = models.PlayerMeta{Name: act.Name, Username: act.Username}
		if _, ok := gs.Hands[k]; !ok {
			gs.Hands[k] = []models.Card{}
		}
		if sess.Status == models.StatusPlaying {
			for i := 0; i < 7; i++ {
				e.rules.DrawOne(gs, act.PlayerID)
			}
		}

		out := &outcome{result: Result{OK: true, Code: game.CodeOK}, save: true}
		out.after = append(out.after, func() {
			e.emit(models.Event{Type: models.EventPlayerJoined, ChatID: act.ChatID, Actor: act.PlayerID})
		})
		e.appendLog(out, act, sess)
		return out, nil
	})
}

// leave removes a player from the room at any stage. In a lobby it is plain
// bookkeeping; quitting a running game removes them from the rotation the way
// a kick does, without the kick record, and play proceeds with the remainder.
func (e *Engine) leave(ctx context.Context, act Action) (Result, error) {
	return e.withRetry(ctx, act.ChatID, false, "", func(sess *models.Session) (*outcome, error) {
		gs := sess.State
		if gs.IsKicked(act.PlayerID) {
			return reject(game.CodePlayerKicked), nil
		}
		if !gs.HasPlayer(act.PlayerID) {
			return reject(game.CodeNotInGame), nil
		}
		k := models.Key(act.PlayerID)

		if sess.Status != models.StatusPlaying {
			for i, p := range gs.Players {
				if p == act.PlayerID {
					gs.Players = append(gs.Players[:i], gs.Players[i+1:]...)
					break
				}
			}
			delete(gs.Hands, k)
			delete(gs.PlayerMeta, k)

			out := &outcome{result: Result{OK: true, Code: game.CodeOK}, save: true}
			out.after = append(out.after, func() {
				e.emit(models.Event{Type: models.EventPlayerLeft, ChatID: act.ChatID, Actor: act.PlayerID})
			})
			e.appendLog(out, act, sess)
			return out, nil
		}

		prevUno := gs.Timers.Uno
		cur, _ := e.rules.CurrentPlayer(gs)
		wasCurrent := cur == act.PlayerID

		e.rules.LeaveGame(gs, act.PlayerID)
		delete(gs.PlayerMeta, k)

		out := &outcome{result: Result{OK: true, Code: game.CodeOK}, save: true}

		if gs.Finished() {
			unoOwner := int64(0)
			if prevUno.Armed() {
				unoOwner = prevUno.PlayerID
			}
			levelUps := e.finishSession(ctx, sess)
			placements := append([]int64(nil), gs.Placements...)
			out.after = append(out.after, func() {
				e.cancelDeadlines(act.ChatID, unoOwner)
				e.emit(models.Event{Type: models.EventPlayerLeft, ChatID: act.ChatID, Actor: act.PlayerID})
				e.emitFinished(act.ChatID, placements, levelUps)
			})
			e.appendLog(out, act, sess)
			return out, nil
		}

		cancelUnoOwner := int64(0)
		if prevUno.Armed() && !gs.Timers.Uno.Armed() {
			cancelUnoOwner = prevUno.PlayerID
		}

		// only the leaver's own turn needs re-arming; someone else's running
		// clock keeps its deadline
		var nextUID int64
		var turnToken string
		var hasNext bool
		if wasCurrent && !gs.PendingColor.Blocking() {
			nextUID, turnToken, hasNext = e.prepareTurnDeadline(gs)
		}
		seconds := gs.Timers.Turn.Seconds
		out.after = append(out.after, func() {
			if cancelUnoOwner != 0 {
				e.sched.Cancel(unoJobID(act.ChatID, cancelUnoOwner))
			}
			if hasNext {
				e.scheduleTurn(act.ChatID, nextUID, turnToken, seconds)
			}
			e.emit(models.Event{Type: models.EventPlayerLeft, ChatID: act.ChatID, Actor: act.PlayerID, NextPlayer: nextUID})
		})
		e.appendLog(out, act, sess)
		return out, nil
	})
}

// start deals the game and arms the first turn deadline. Only a running game
// blocks it: a finished room restarts in place from whoever has joined since.
func (e *Engine) start(ctx context.Context, act Action) (Result, error) {
	return e.withRetry(ctx, act.ChatID, false, "", func(sess *models.Session) (*outcome, error) {
		if sess.Status == models.StatusPlaying {
			return reject(CodeGameRunning), nil
		}
		gs := sess.State
		if len(gs.Players) < 2 {
			return reject(CodeTooFewPlayers), nil
		}

		if err := e.rules.Start(gs); err != nil {
			return nil, err
		}
		sess.Status = models.StatusPlaying
		uid, token, ok := e.prepareTurnDeadline(gs)

		out := &outcome{result: Result{OK: true, Code: game.CodeOK}, save: true}
		seconds := gs.Timers.Turn.Seconds
		out.after = append(out.after, func() {
			if ok {
				e.scheduleTurn(act.ChatID, uid, token, seconds)
			}
			e.emit(models.Event{
				Type:       models.EventGameStarted,
				ChatID:     act.ChatID,
				NextPlayer: uid,
				Seconds:    seconds,
			})
		})
		e.appendLog(out, act, sess)
		return out, nil
	})
}

// stop deletes the session outright, whatever its status. Pending deadline
// jobs are cancelled; any that still fire find no session and no-op.
func (e *Engine) stop(ctx context.Context, act Action) (Result, error) {
	return e.withRetry(ctx, act.ChatID, false, "", func(sess *models.Session) (*outcome, error) {
		gs := sess.State
		unoOwner := int64(0)
		if gs.Timers.Uno.Armed() {
			unoOwner = gs.Timers.Uno.PlayerID
		}
		if err := e.store.Delete(ctx, sess); err != nil {
			return nil, err
		}

		out := &outcome{result: Result{OK: true, Code: game.CodeOK}}
		out.after = append(out.after, func() {
			e.cancelDeadlines(act.ChatID, unoOwner)
			e.emit(models.Event{Type: models.EventGameStopped, ChatID: act.ChatID, Actor: act.PlayerID})
		})
		return out, nil
	})
}

func (e *Engine) playCard(ctx context.Context, act Action) (Result, error) {
	return e.withRetry(ctx, act.ChatID, false, "", func(sess *models.Session) (*outcome, error) {
		if sess.Status != models.StatusPlaying {
			return reject(CodeGameNotActive), nil
		}
		gs := sess.State
		prevUno := gs.Timers.Uno

		ok, code := e.rules.PlayCard(gs, act.PlayerID, act.CardIndex)
		if !ok {
			return reject(code), nil
		}
		return e.settleAfterMove(ctx, sess, act, code, models.EventMove, 1, prevUno), nil
	})
}

// drawAndPass draws one card for the current player. Unless the draw evicted
// them, the turn stays theirs: the deadline is refreshed with a fresh token
// so they get a full window to play the drawn card.
func (e *Engine) drawAndPass(ctx context.Context, act Action) (Result, error) {
	return e.withRetry(ctx, act.ChatID, false, "", func(sess *models.Session) (*outcome, error) {
		if sess.Status != models.StatusPlaying {
			return reject(CodeGameNotActive), nil
		}
		gs := sess.State
		prevUno := gs.Timers.Uno

		ok, code := e.rules.DrawCardAndPass(gs, act.PlayerID)
		if !ok {
			return reject(code), nil
		}
		if code == game.CodeKicked {
			return e.settleAfterMove(ctx, sess, act, code, models.EventDraw, 1, prevUno), nil
		}

		kicks := e.rules.PopKickEvents(gs)
		token := e.armTurnSlot(gs, act.PlayerID)
		seconds := gs.Timers.Turn.Seconds

		out := &outcome{result: Result{OK: true, Code: code}, save: true}
		out.after = append(out.after, func() {
			e.emitKicks(act.ChatID, kicks)
			e.scheduleTurn(act.ChatID, act.PlayerID, token, seconds)
			e.emit(models.Event{
				Type:       models.EventDraw,
				ChatID:     act.ChatID,
				Actor:      act.PlayerID,
				NextPlayer: act.PlayerID,
				Cards:      1,
			})
		})
		e.appendLog(out, act, sess)
		return out, nil
	})
}

func (e *Engine) chooseColor(ctx context.Context, act Action) (Result, error) {
	return e.withRetry(ctx, act.ChatID, false, "", func(sess *models.Session) (*outcome, error) {
		if sess.Status != models.StatusPlaying {
			return reject(CodeGameNotActive), nil
		}
		gs := sess.State
		prevUno := gs.Timers.Uno

		ok, code := e.rules.ChooseColor(gs, act.PlayerID, act.Color)
		if !ok {
			return reject(code), nil
		}
		return e.settleAfterMove(ctx, sess, act, code, models.EventColorChosen, 0, prevUno), nil
	})
}

func (e *Engine) playGroupDump(ctx context.Context, act Action) (Result, error) {
	return e.withRetry(ctx, act.ChatID, false, "", func(sess *models.Session) (*outcome, error) {
		if sess.Status != models.StatusPlaying {
			return reject(CodeGameNotActive), nil
		}
		gs := sess.State
		prevUno := gs.Timers.Uno
		before := gs.HandSize(act.PlayerID)

		ok, code := e.rules.PlayGroupDump(gs, act.PlayerID, act.GroupKey)
		if !ok {
			return reject(code), nil
		}
		played := before - gs.HandSize(act.PlayerID)
		return e.settleAfterMove(ctx, sess, act, code, models.EventMove, played, prevUno), nil
	})
}

// calloutSignal confirms an open callout window. Only the exact window owner
// counts, and only before the window expires; a late signal is rejected and
// the deadline job delivers the penalty.
func (e *Engine) calloutSignal(ctx context.Context, act Action) (Result, error) {
	return e.withRetry(ctx, act.ChatID, false, "", func(sess *models.Session) (*outcome, error) {
		if sess.Status != models.StatusPlaying {
			return reject(CodeGameNotActive), nil
		}
		gs := sess.State
		if !gs.UnoPending.Open() || gs.UnoPending.PlayerID != act.PlayerID {
			return reject(CodeNoCallout), nil
		}
		if gs.UnoPending.ExpiresAt > 0 && nowTS() > gs.UnoPending.ExpiresAt {
			return reject(CodeNoCallout), nil
		}

		gs.UnoPending.Said = true
		gs.UnoPending.Active = false
		gs.UnoPending.Resolved = true
		hadJob := gs.Timers.Uno.Armed()
		gs.Timers.Uno = models.TimerSlot{}

		out := &outcome{result: Result{OK: true, Code: game.CodeOK}, save: true}
		out.after = append(out.after, func() {
			if hadJob {
				e.sched.Cancel(unoJobID(act.ChatID, act.PlayerID))
			}
			e.emit(models.Event{Type: models.EventUnoSaid, ChatID: act.ChatID, Actor: act.PlayerID})
		})
		e.appendLog(out, act, sess)
		return out, nil
	})
}

// settleAfterMove is the shared post-move bookkeeping for plays, dumps, color
// choices and evicting draws: drain the kick outbox, settle the callout
// window's deadline slot, then either finish the session, hold for a color
// choice, or arm the next turn. Side effects are queued for after the commit.
func (e *Engine) settleAfterMove(ctx context.Context, sess *models.Session, act Action, code game.Code, evType models.EventType, cardsPlayed int, prevUno models.TimerSlot) *outcome {
	gs := sess.State
	chatID := sess.ChatID
	actor := act.PlayerID

	kicks := e.rules.PopKickEvents(gs)
	out := &outcome{result: Result{OK: true, Code: code}, save: true}
	out.after = append(out.after, func() { e.emitKicks(chatID, kicks) })

	if gs.Finished() {
		unoOwner := int64(0)
		if prevUno.Armed() {
			unoOwner = prevUno.PlayerID
		}
		levelUps := e.finishSession(ctx, sess)
		placements := append([]int64(nil), gs.Placements...)
		topCard := gs.TopCard
		color := gs.CurrentColor
		out.after = append(out.after, func() {
			e.cancelDeadlines(chatID, unoOwner)
			e.emit(models.Event{
				Type:         evType,
				ChatID:       chatID,
				Actor:        actor,
				TopCard:      topCard,
				CurrentColor: color,
				Cards:        cardsPlayed,
			})
			e.emitFinished(chatID, placements, levelUps)
		})
		e.appendLog(out, act, sess)
		return out
	}

	// a window that closed (or changed owner) takes its deadline job with it
	cancelUnoOwner := int64(0)
	if prevUno.Armed() && (!gs.UnoPending.Open() || gs.UnoPending.PlayerID != prevUno.PlayerID) {
		gs.Timers.Uno = models.TimerSlot{}
		cancelUnoOwner = prevUno.PlayerID
	}
	var unoToken string
	if gs.UnoPending.Open() && gs.UnoPending.PlayerID == actor && !gs.Timers.Uno.Armed() {
		unoToken = e.armUnoSlot(gs, actor)
	}
	unoSeconds := gs.Timers.Uno.Seconds

	if code == game.CodePendingColor {
		// everything holds for the chooser; the turn deadline lapses on purpose
		gs.Timers.Turn = models.TimerSlot{}
		out.after = append(out.after, func() {
			e.sched.Cancel(turnJobID(chatID))
			if cancelUnoOwner != 0 {
				e.sched.Cancel(unoJobID(chatID, cancelUnoOwner))
			}
			if unoToken != "" {
				e.scheduleUno(chatID, actor, unoToken, unoSeconds)
				e.emit(models.Event{Type: models.EventUnoPrompt, ChatID: chatID, Actor: actor, Seconds: unoSeconds})
			}
			e.emit(models.Event{Type: models.EventColorPrompt, ChatID: chatID, Actor: actor})
		})
		e.appendLog(out, act, sess)
		return out
	}

	nextUID, turnToken, hasNext := e.prepareTurnDeadline(gs)
	turnSeconds := gs.Timers.Turn.Seconds
	topCard := gs.TopCard
	color := gs.CurrentColor

	out.after = append(out.after, func() {
		if cancelUnoOwner != 0 {
			e.sched.Cancel(unoJobID(chatID, cancelUnoOwner))
		}
		if unoToken != "" {
			e.scheduleUno(chatID, actor, unoToken, unoSeconds)
		}
		if hasNext {
			e.scheduleTurn(chatID, nextUID, turnToken, turnSeconds)
		}
		e.emit(models.Event{
			Type:         evType,
			ChatID:       chatID,
			Actor:        actor,
			TopCard:      topCard,
			CurrentColor: color,
			NextPlayer:   nextUID,
			Cards:        cardsPlayed,
		})
		if unoToken != "" {
			e.emit(models.Event{Type: models.EventUnoPrompt, ChatID: chatID, Actor: actor, Seconds: unoSeconds})
		}
	})
	e.appendLog(out, act, sess)
	return out
}
