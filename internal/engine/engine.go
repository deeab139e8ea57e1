// internal/engine/engine.go
//
// The orchestration layer: serializes actions per room, drives the rules
// engine against loaded state, commits through the version-checked store and
// performs post-commit side effects (deadline scheduling, notifications,
// action logging). Everything it talks to arrives through the ports in
// ports.go; nothing here touches pgx, redis or timers directly.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ohlushko/unobot/internal/cache"
	"github.com/ohlushko/unobot/internal/config"
	"github.com/ohlushko/unobot/internal/database"
	"github.com/ohlushko/unobot/internal/game"
	"github.com/ohlushko/unobot/internal/models"
)

// maxSaveAttempts bounds the reload-and-reapply loop on version conflicts.
const maxSaveAttempts = 3

// Deps wires an Engine. Store, Scheduler, Messenger, Config and Log are
// required; Rewards and Actions may be nil.
type Deps struct {
	Store     SessionStore
	Scheduler DeadlineScheduler
	Messenger Messenger
	Rewards   RewardHook
	Actions   ActionLogger
	Config    config.Settings
	Log       *logrus.Logger
}

// Engine is the room session coordinator.
type Engine struct {
	store   SessionStore
	sched   DeadlineScheduler
	msg     Messenger
	rewards RewardHook
	actions ActionLogger
	rules   game.Rules
	cfg     config.Settings
	locks   *roomLocks
	log     *logrus.Logger
}

// New builds an Engine from its dependencies.
func New(d Deps) *Engine {
	return &Engine{
		store:   d.Store,
		sched:   d.Scheduler,
		msg:     d.Messenger,
		rewards: d.Rewards,
		actions: d.Actions,
		rules: game.Rules{
			PlusTwoCards:  d.Config.PlusTwoCards,
			PlusFourCards: d.Config.PlusFourCards,
			MaxHand:       d.Config.MaxHand,
			UnoSeconds:    d.Config.UnoSeconds,
		},
		cfg:   d.Config,
		locks: newRoomLocks(),
		log:   d.Log,
	}
}

func nowTS() float64 { return float64(time.Now().UnixNano()) / float64(time.Second) }

// outcome is what one attempt of a mutation function produces: the result for
// the caller, whether the session must be saved, and side effects to run only
// after the commit (or after a clean no-save return). The retry loop discards
// outcomes of attempts that lost the version race, so side effects never fire
// for uncommitted state.
type outcome struct {
	result Result
	save   bool
	after  []func()
}

func reject(code game.Code) *outcome {
	return &outcome{result: Result{OK: false, Code: code}}
}

// withRetry runs fn against a freshly loaded session under the room lock,
// saving with the optimistic version check. On a conflict the session is
// reloaded and fn re-applied, up to maxSaveAttempts times. Side effects run
// after the lock is released so scheduler callbacks cannot deadlock on it.
func (e *Engine) withRetry(ctx context.Context, chatID int64, createIfMissing bool, title string, fn func(sess *models.Session) (*outcome, error)) (Result, error) {
	lock := e.locks.get(chatID)
	lock.Lock()

	var out *outcome
	err := func() error {
		defer lock.Unlock()

		for attempt := 0; attempt < maxSaveAttempts; attempt++ {
			sess, err := e.store.GetByChat(ctx, chatID)
			if err != nil {
				return err
			}
			if sess == nil {
				if !createIfMissing {
					return ErrNoSession
				}
				sess, err = e.store.CreateLobby(ctx, chatID, title)
				if err != nil {
					return err
				}
			}

			out, err = fn(sess)
			if err != nil {
				return err
			}
			if !out.save {
				return nil
			}

			err = e.store.Save(ctx, sess, sess.Version)
			if err == nil {
				return nil
			}
			if !errors.Is(err, database.ErrVersionConflict) {
				return err
			}
			e.log.WithFields(logrus.Fields{
				"chat":    chatID,
				"attempt": attempt + 1,
			}).Debug("version conflict, reloading session")
			out = nil
		}
		return nil
	}()
	if err != nil {
		return Result{}, err
	}
	if out == nil {
		return Result{OK: false, Code: CodeTryAgainLater}, ErrContention
	}

	for _, f := range out.after {
		f()
	}
	return out.result, nil
}

func (e *Engine) emit(ev models.Event) {
	if e.msg != nil {
		e.msg.Publish(ev)
	}
}

// emitKicks publishes one kick notification per drained outbox entry.
func (e *Engine) emitKicks(chatID int64, kicks []models.KickEvent) {
	for _, k := range kicks {
		e.emit(models.Event{
			Type:   models.EventKick,
			ChatID: chatID,
			Actor:  k.PlayerID,
			Cards:  k.Cards,
			Reason: "hand_limit",
		})
	}
}

// appendLog queues a historian record to run post-commit. The session pointer
// is captured so the record carries the committed version.
func (e *Engine) appendLog(out *outcome, act Action, sess *models.Session) {
	if e.actions == nil {
		return
	}
	var payload map[string]any
	switch act.Type {
	case ActionPlayCard:
		payload = map[string]any{"card_index": act.CardIndex}
	case ActionChooseColor:
		payload = map[string]any{"color": string(act.Color)}
	case ActionPlayGroupDump:
		payload = map[string]any{"group": act.GroupKey}
	}
	out.after = append(out.after, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		rec := cache.ActionRecord{
			ChatID:  act.ChatID,
			ActorID: act.PlayerID,
			Action:  string(act.Type),
			Code:    string(out.result.Code),
			Version: sess.Version,
			Payload: payload,
		}
		if err := e.actions.Log(ctx, rec); err != nil {
			e.log.WithError(err).WithField("chat", act.ChatID).Warn("action log push failed")
		}
	})
}

// finishSession settles a state that just went terminal: both deadline slots
// cleared, any open callout window closed, outer status flipped and rewards
// paid. Returns the level-ups that the caller should announce after the save.
// A reward payout failure is logged but does not block the finish; the
// RewardsApplied flag stays false so a later touch can retry the payout.
func (e *Engine) finishSession(ctx context.Context, sess *models.Session) map[string]models.LevelUp {
	gs := sess.State
	gs.Timers = models.Timers{}
	gs.UnoPending.Active = false
	gs.UnoPending.Resolved = true
	gs.PendingColor.Active = false
	gs.PendingColor.Resolved = true
	sess.Status = models.StatusFinished

	if e.rewards == nil {
		return nil
	}
	levelUps, err := e.rewards.ApplyIfNeeded(ctx, gs)
	if err != nil {
		e.log.WithError(err).WithField("chat", sess.ChatID).Error("reward payout failed")
		return nil
	}
	if len(levelUps) > 0 || gs.RewardsApplied {
		gs.LevelUpsNotified = true
	}
	return levelUps
}

// emitFinished publishes the podium and any level-up announcements.
func (e *Engine) emitFinished(chatID int64, placements []int64, levelUps map[string]models.LevelUp) {
	e.emit(models.Event{
		Type:       models.EventGameFinished,
		ChatID:     chatID,
		Placements: placements,
	})
	for key, lu := range levelUps {
		var uid int64
		for _, p := range placements {
			if models.Key(p) == key {
				uid = p
				break
			}
		}
		e.emit(models.Event{
			Type:   models.EventLevelUp,
			ChatID: chatID,
			Actor:  uid,
			Level:  lu.Level,
		})
	}
}
