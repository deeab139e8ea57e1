package models

// EventType is an enum-like type for outbound room notifications.
type EventType string

const (
	EventMove           EventType = "move"          // a card (or group) hit the table
	EventKick           EventType = "kick"          // player removed for exceeding the hand limit
	EventColorPrompt    EventType = "color_prompt"  // wild/+4 played, chooser must pick a color
	EventColorChosen    EventType = "color_chosen"  // color picked, play resumes
	EventUnoPrompt      EventType = "uno_prompt"    // callout window opened
	EventUnoSaid        EventType = "uno_said"      // callout confirmed in time
	EventUnoTimeout     EventType = "uno_timeout"   // callout window expired, penalty applied
	EventTurnTimeout    EventType = "turn_timeout"  // turn deadline expired, penalty applied
	EventDraw           EventType = "draw"          // player drew a card and kept the turn
	EventPlayerJoined   EventType = "player_joined"
	EventPlayerLeft     EventType = "player_left"
	EventGameStarted    EventType = "game_started"
	EventGameStopped    EventType = "game_stopped"  // session deleted by an admin
	EventGameFinished   EventType = "game_finished" // podium summary
	EventLevelUp        EventType = "level_up"
	EventActionRejected EventType = "action_rejected" // validation failure, addressed to the actor
)

// Event is a single outbound notification for the transport layer to render.
// It carries only ids and small scalars, never the full session state.
type Event struct {
	Type   EventType `json:"type"`
	ChatID int64     `json:"chat_id"`

	// Actor is the player the event is about (mover, kicked player, chooser...).
	Actor int64 `json:"actor,omitempty"`

	// NextPlayer is whoever acts next, when the event changes the turn.
	NextPlayer int64 `json:"next_player,omitempty"`

	TopCard      *Card     `json:"top_card,omitempty"`
	CurrentColor CardColor `json:"current_color,omitempty"`

	// Cards is a count: hand size on kick, penalty size on timeout, dump size on group moves.
	Cards int `json:"cards,omitempty"`

	// Seconds is the deadline length for prompt events.
	Seconds int `json:"seconds,omitempty"`

	// Reason is the machine-readable rejection or finish reason.
	Reason string `json:"reason,omitempty"`

	// Placements is the final ordered podium, winner first. Set on game_finished.
	Placements []int64 `json:"placements,omitempty"`

	// Level is the new level for level_up events.
	Level int `json:"level,omitempty"`
}
