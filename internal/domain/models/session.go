package models

import "time"

// SessionState is the controller state.
type SessionState string

const (
	StateUntrained    SessionState = "UNTRAINED"
	StateAwaitingSeed SessionState = "AWAITING_SEED"
	StatePredicting   SessionState = "PREDICTING"
)

// SessionView is the read model handed to the rendering layer.
type SessionView struct {
	ID            string         `json:"id"`
	State         SessionState   `json:"state"`
	WindowSize    int            `json:"window_size"`
	Backend       string         `json:"backend,omitempty"`
	LogLength     int            `json:"log_length"`
	TrainingRows  int            `json:"training_rows"`
	Window        Window         `json:"window,omitempty"`
	Prediction    *Prediction    `json:"prediction,omitempty"`
	Match         *Match         `json:"match,omitempty"`
	Corroboration Corroboration  `json:"corroboration,omitempty"`
	Ledger        LedgerSnapshot `json:"ledger"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// TurnEvent is emitted after each observed outcome has been committed.
type TurnEvent struct {
	SessionID string      `json:"session_id"`
	Entry     LedgerEntry `json:"entry"`
	Next      Prediction  `json:"next"`
}

// SessionSummary is a list item.
type SessionSummary struct {
	ID        string       `json:"id"`
	State     SessionState `json:"state"`
	UpdatedAt time.Time    `json:"updated_at"`
}
