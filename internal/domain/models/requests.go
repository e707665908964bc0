package models

// Requests for the session HTTP endpoints. Defined in domain for reuse by the Kafka handler.

type CreateSessionRequest struct {
	WindowSize int `json:"window_size" default:"0" validate:"gte=0,lte=18"`
	Capacity   int `json:"capacity" default:"0" validate:"gte=0,lte=1000"`
}

type SessionRef struct {
	ID string `param:"id" validate:"required,uuid"`
}

type TrainRequest struct {
	ID  string `param:"id" validate:"required,uuid"`
	Log []int  `json:"log" validate:"omitempty,dive,gte=-1,lte=9"`
}

type SeedRequest struct {
	ID   string `param:"id" validate:"required,uuid"`
	Seed string `json:"seed" validate:"required,numeric"`
}

type ObserveRequest struct {
	ID     string `param:"id" validate:"required,uuid"`
	Symbol *int   `json:"symbol" validate:"required,gte=0,lte=9"`
}

// OutcomeMessage is the Kafka payload for an observed outcome.
type OutcomeMessage struct {
	SessionID string `json:"session_id" validate:"required,uuid"`
	Symbol    *int   `json:"symbol" validate:"required,gte=0,lte=9"`
}
