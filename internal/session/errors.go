package session

import "errors"

var (
	ErrInvalidSessionID    = errors.New("session: invalid session id")
	ErrDuplicateSession    = errors.New("session: session already exists")
	ErrSessionNotFound     = errors.New("session: session not found")
	ErrAuthLoadFailure     = errors.New("session: credential load failed")
	ErrConnectFailure      = errors.New("session: transport connect failed")
	ErrTimeout             = errors.New("session: timed out waiting for connection")
	ErrLoggedOut           = errors.New("session: logged out")
	ErrReconnectExhausted  = errors.New("session: reconnect attempts exhausted")
	ErrSessionNotConnected = errors.New("session: session is not connected")
	ErrOrchestratorStopped = errors.New("session: orchestrator is closed")
)
