package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidInput  = errors.New("invalid input")
	ErrNoCandles     = errors.New("no market data for the requested range")
	ErrUnsupported   = errors.New("unsupported exchange")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrLockHeld      = errors.New("lock already held")
	ErrSessionClosed = errors.New("session closed")
	ErrStrategyFault = errors.New("strategy fault")
)
