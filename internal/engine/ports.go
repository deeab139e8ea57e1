// internal/engine/ports.go
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/ohlushko/unobot/internal/cache"
	"github.com/ohlushko/unobot/internal/game"
	"github.com/ohlushko/unobot/internal/models"
)

// SessionStore is the persistence port. Save must be a version-checked
// conditional write returning database.ErrVersionConflict on a lost race.
type SessionStore interface {
	GetByChat(ctx context.Context, chatID int64) (*models.Session, error)
	CreateLobby(ctx context.Context, chatID int64, title string) (*models.Session, error)
	Save(ctx context.Context, sess *models.Session, expectedVersion int) error
	Delete(ctx context.Context, sess *models.Session) error
}

// DeadlineScheduler is the scheduling port. Firing is at-most-once but
// neither exactly-once nor reliably cancelable; callbacks revalidate their
// token against freshly loaded state before acting.
type DeadlineScheduler interface {
	Schedule(jobID string, fireAt time.Time, fn func())
	Cancel(jobID string) bool
}

// Messenger receives outbound room notifications for the transport to render.
type Messenger interface {
	Publish(ev models.Event)
}

// ActionLogger records committed actions for the historian. Best-effort.
type ActionLogger interface {
	Log(ctx context.Context, rec cache.ActionRecord) error
}

// RewardHook pays out placements when a session finishes. Must be idempotent
// per state (guarded by the RewardsApplied flag it sets).
type RewardHook interface {
	ApplyIfNeeded(ctx context.Context, gs *models.GameState) (map[string]models.LevelUp, error)
}

// ActionType is a normalized inbound action kind.
type ActionType string

const (
	ActionJoin          ActionType = "join"
	ActionLeave         ActionType = "leave"
	ActionStart         ActionType = "start"
	ActionStop          ActionType = "stop"
	ActionPlayCard      ActionType = "play_card"
	ActionDrawAndPass   ActionType = "draw_and_pass"
	ActionChooseColor   ActionType = "choose_color"
	ActionPlayGroupDump ActionType = "play_group_dump"
	ActionCallout       ActionType = "callout"
)

// Action is one normalized user-originated event from the transport layer.
type Action struct {
	ChatID   int64
	PlayerID int64
	Type     ActionType

	CardIndex int              // play_card
	Color     models.CardColor // choose_color
	GroupKey  string           // play_group_dump

	// Display info carried along so the session can render players later.
	Name     string
	Username string

	// Title names the room on first contact (lobby creation).
	Title string
}

// Result is the outcome handed back to the transport.
type Result struct {
	OK   bool
	Code game.Code
}

// Session-level validation codes the rules engine has no say over.
const (
	CodeNoSession     game.Code = "NO_SESSION"      // room has no session at all
	CodeGameNotActive game.Code = "GAME_NOT_ACTIVE" // action needs a running game
	CodeGameRunning   game.Code = "GAME_RUNNING"    // start blocked while a game runs
	CodeAlreadyJoined game.Code = "ALREADY_JOINED"
	CodeTooFewPlayers game.Code = "TOO_FEW_PLAYERS" // start needs at least 2
	CodeNoCallout     game.Code = "NO_CALLOUT"      // no open callout window for this player
	CodeUnknownAction game.Code = "UNKNOWN_ACTION"
	CodeTryAgainLater game.Code = "TRY_AGAIN" // retries exhausted, nothing committed
)

// ErrNoSession is the structural failure for rooms expected to have a session.
var ErrNoSession = errors.New("no session for chat")

// ErrContention is surfaced when the bounded retry loop exhausts its attempts.
// The conditional save is atomic, so nothing was committed.
var ErrContention = errors.New("session contention: retries exhausted")
