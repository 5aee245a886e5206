// Package bridge defines what the session core needs from the remote
// service: a request/response dispatcher and a terminal hand-off back to the
// host system. Implementations live in sub-packages.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Operation names understood by the remote service.
const (
	OpLevelBegin    = "level_begin"
	OpLevelEnd      = "level_end"
	OpSessionOption = "session_option"
	OpHealthCheck   = "health_check"
)

// CodeUnavailable is reported by transports when a request cannot reach the
// remote side at all.
const CodeUnavailable = 503

// Response carries the remote payload of a successful operation.
type Response struct {
	RequestID string
	Payload   json.RawMessage
}

// Decode unmarshals the payload into target.
func (r Response) Decode(target any) error {
	if len(r.Payload) == 0 {
		return fmt.Errorf("bridge: empty payload")
	}
	if err := json.Unmarshal(r.Payload, target); err != nil {
		return fmt.Errorf("bridge: decode payload: %w", err)
	}
	return nil
}

// SuccessFunc is invoked when the remote side accepted the operation.
type SuccessFunc func(Response)

// FailureFunc is invoked when the remote side rejected the operation or the
// transport could not deliver it.
type FailureFunc func(code int, message string)

// Bridge submits named operations. Exactly one of onSuccess/onFailure runs,
// exactly once, at some later time, or never. Callers own timeouts.
// Callbacks may run on any goroutine.
type Bridge interface {
	Submit(operation string, payload any, onSuccess SuccessFunc, onFailure FailureFunc)
}

// Handoff returns control to the host system. Neither call returns control
// to session management.
type Handoff interface {
	ReturnToSystem()
	ReturnToSystemWithError(code int, message string)
}

// Connector establishes the transport before the first operation.
type Connector interface {
	Connect(ctx context.Context) error
}

// LevelBegin is the payload of OpLevelBegin.
type LevelBegin struct {
	Level      int    `json:"level"`
	Difficulty string `json:"difficulty,omitempty"`
}

// LevelEnd is the payload of OpLevelEnd.
type LevelEnd struct {
	Level int `json:"level"`
	Score int `json:"score"`
}

// SessionAction is the player's choice returned by OpSessionOption.
type SessionAction string

const (
	ActionRestart  SessionAction = "restart"
	ActionContinue SessionAction = "continue"
	ActionEnd      SessionAction = "end"
	ActionCancel   SessionAction = "cancel"
)

// ParseSessionAction normalizes a raw action string.
func ParseSessionAction(raw string) (SessionAction, error) {
	action := SessionAction(strings.ToLower(strings.TrimSpace(raw)))
	switch action {
	case ActionRestart, ActionContinue, ActionEnd, ActionCancel:
		return action, nil
	default:
		return "", fmt.Errorf("bridge: unknown session action %q", raw)
	}
}

// SessionOption is the reply payload of OpSessionOption.
type SessionOption struct {
	Action string `json:"action"`
}

// ErrorReturn is the payload sent with ReturnToSystemWithError.
type ErrorReturn struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
