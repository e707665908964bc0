package models

import "errors"

var (
	ErrInsufficientData = errors.New("insufficient data")
	ErrEmptyTable       = errors.New("empty training table")
	ErrFeatureArity     = errors.New("wrong feature arity")
	ErrNotTrained       = errors.New("model not trained")
	ErrNotInitialized   = errors.New("window not initialized")
	ErrInvalidSeed      = errors.New("invalid seed")
	ErrInvalidSymbol    = errors.New("invalid symbol")
	ErrSchema           = errors.New("schema error")
	ErrInvalidState     = errors.New("invalid session state")
	ErrSessionNotFound  = errors.New("session not found")
	ErrTooManySessions  = errors.New("session limit reached")
)
