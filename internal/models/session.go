package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// SessionStatus is the lifecycle status of a room session.
type SessionStatus string

const (
	StatusLobby    SessionStatus = "lobby"
	StatusPlaying  SessionStatus = "playing"
	StatusFinished SessionStatus = "finished"
)

// StateSchemaVersion is bumped whenever the persisted GameState shape changes.
const StateSchemaVersion = 1

// Session is one game instance bound to a chat room. Version is the optimistic
// lock counter: it increases by exactly 1 per committed save.
type Session struct {
	ID      int64
	ChatID  int64
	Status  SessionStatus
	Version int
	State   *GameState
}

// TimerSlot is a persisted deadline descriptor. A zero Token means the slot is
// empty. The token is the ABA guard: a fired callback acts only while its
// token still matches the stored one.
type TimerSlot struct {
	Token     string  `json:"token,omitempty"`
	PlayerID  int64   `json:"uid,omitempty"`
	ExpiresAt float64 `json:"expires_at,omitempty"`
	Seconds   int     `json:"seconds,omitempty"`
}

// Armed reports whether the slot holds a live descriptor.
func (t TimerSlot) Armed() bool { return t.Token != "" }

// Timers holds the two per-session deadline slots.
type Timers struct {
	Turn TimerSlot `json:"turn"`
	Uno  TimerSlot `json:"uno"`
}

// PendingColor blocks all actions after a wild/+4 until the player who played
// it picks a color. Stack counts how many +4 cards were dumped at once.
type PendingColor struct {
	Active   bool     `json:"active"`
	Resolved bool     `json:"resolved"`
	PlayerID int64    `json:"player_id,omitempty"`
	Kind     CardKind `json:"kind,omitempty"`
	Stack    int      `json:"stack,omitempty"`
}

// Blocking reports whether a color choice is currently outstanding.
func (pc PendingColor) Blocking() bool { return pc.Active && !pc.Resolved }

// UnoPending is the open callout window after a player drops to one card.
type UnoPending struct {
	Active    bool    `json:"active"`
	Resolved  bool    `json:"resolved"`
	PlayerID  int64   `json:"player_id,omitempty"`
	ExpiresAt float64 `json:"expires_at,omitempty"`
	Said      bool    `json:"said,omitempty"`
}

// Open reports whether the callout window is still awaiting a signal.
func (up UnoPending) Open() bool { return up.Active && !up.Resolved }

// PenaltyFlags carries deferred per-player penalties.
type PenaltyFlags struct {
	SkipNextTurn bool `json:"skip_next_turn,omitempty"`
}

// KickRecord marks a player permanently removed from this session.
type KickRecord struct {
	Reason string  `json:"reason"`
	Cards  int     `json:"cards"`
	TS     float64 `json:"ts"`
}

// FinishMeta records why a player left the rotation (empty_hand, hand_limit, last_player).
type FinishMeta struct {
	Reason string `json:"reason"`
}

// KickEvent is a transient outbox entry drained by the caller after each save.
type KickEvent struct {
	PlayerID int64   `json:"uid"`
	Cards    int     `json:"cards"`
	TS       float64 `json:"ts"`
}

// DrewFlag marks that the current player already drew this turn.
type DrewFlag struct {
	PlayerID int64   `json:"uid"`
	TS       float64 `json:"ts"`
}

// PlayerMeta keeps display info so outbound events can be rendered without
// another lookup. Transport-owned, opaque to the rules engine.
type PlayerMeta struct {
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
}

// Reward records what a single player earned when the session finished.
type Reward struct {
	Coins int `json:"coins"`
	XP    int `json:"xp"`
}

// LevelUp records levels gained from a reward payout.
type LevelUp struct {
	Gained int `json:"gained"`
	Level  int `json:"level"`
}

// GameState is the full persisted state blob of one session. Hands, penalties
// and the other per-player maps are keyed by the decimal player id, matching
// the JSON wire form.
type GameState struct {
	SchemaVersion int    `json:"schema_version"`
	Title         string `json:"title,omitempty"`

	Status    string  `json:"status"`
	Players   []int64 `json:"players"`
	TurnIdx   int     `json:"turn_idx"`
	Direction int     `json:"direction"`

	Deck         []Card            `json:"deck"`
	Discard      []Card            `json:"discard"`
	Hands        map[string][]Card `json:"hands"`
	TopCard      *Card             `json:"top_card"`
	CurrentColor CardColor         `json:"current_color,omitempty"`

	PendingColor PendingColor            `json:"pending_color"`
	UnoPending   UnoPending              `json:"uno_pending"`
	Timers       Timers                  `json:"timers"`
	Penalties    map[string]PenaltyFlags `json:"penalties,omitempty"`
	DrewFlag     *DrewFlag               `json:"turn_flags,omitempty"`

	Kicked       map[string]KickRecord `json:"kicked,omitempty"`
	Placements   []int64               `json:"placements"`
	FinishedMeta map[string]FinishMeta `json:"finished_meta,omitempty"`
	Events       []KickEvent           `json:"events,omitempty"`

	PlayerMeta map[string]PlayerMeta `json:"player_meta,omitempty"`

	RewardsApplied   bool               `json:"rewards_applied"`
	Rewards          map[string]Reward  `json:"rewards,omitempty"`
	LevelUps         map[string]LevelUp `json:"level_ups,omitempty"`
	LevelUpsNotified bool               `json:"level_ups_notified"`
}

// Key converts a player id to its map key form.
func Key(uid int64) string { return strconv.FormatInt(uid, 10) }

// NewLobbyState returns the minimal state a freshly created lobby holds.
func NewLobbyState(title string) *GameState {
	return &GameState{
		SchemaVersion: StateSchemaVersion,
		Title:         title,
		Status:        string(StatusLobby),
		Players:       []int64{},
		Direction:     1,
		Hands:         map[string][]Card{},
		PendingColor:  PendingColor{Resolved: true},
		UnoPending:    UnoPending{Resolved: true},
	}
}

// Hand returns uid's hand (nil if none).
func (gs *GameState) Hand(uid int64) []Card {
	return gs.Hands[Key(uid)]
}

// HandSize returns the number of cards uid holds.
func (gs *GameState) HandSize(uid int64) int {
	return len(gs.Hands[Key(uid)])
}

// IsKicked reports whether uid was removed from this session for good.
func (gs *GameState) IsKicked(uid int64) bool {
	_, ok := gs.Kicked[Key(uid)]
	return ok
}

// HasPlayer reports whether uid is still in the rotation order.
func (gs *GameState) HasPlayer(uid int64) bool {
	for _, p := range gs.Players {
		if p == uid {
			return true
		}
	}
	return false
}

// ActivePlayers returns rotation members that are not kicked.
func (gs *GameState) ActivePlayers() []int64 {
	out := make([]int64, 0, len(gs.Players))
	for _, p := range gs.Players {
		if !gs.IsKicked(p) {
			out = append(out, p)
		}
	}
	return out
}

// Finished reports whether the embedded status says the game is over.
func (gs *GameState) Finished() bool {
	return gs.Status == string(StatusFinished)
}

// EncodeState serializes a GameState for storage.
func EncodeState(gs *GameState) ([]byte, error) {
	gs.SchemaVersion = StateSchemaVersion
	b, err := json.Marshal(gs)
	if err != nil {
		return nil, fmt.Errorf("encode game state: %w", err)
	}
	return b, nil
}

// DecodeState deserializes and validates a persisted state blob. Malformed or
// unversioned blobs fail fast instead of being silently defaulted.
func DecodeState(raw []byte) (*GameState, error) {
	var gs GameState
	if err := json.Unmarshal(raw, &gs); err != nil {
		return nil, fmt.Errorf("decode game state: %w", err)
	}
	if gs.SchemaVersion != StateSchemaVersion {
		return nil, fmt.Errorf("decode game state: unsupported schema version %d", gs.SchemaVersion)
	}
	if gs.Direction != 1 && gs.Direction != -1 {
		return nil, fmt.Errorf("decode game state: invalid direction %d", gs.Direction)
	}
	if gs.Hands == nil {
		gs.Hands = map[string][]Card{}
	}
	if gs.Status == "" {
		return nil, fmt.Errorf("decode game state: missing status")
	}
	return &gs, nil
}
