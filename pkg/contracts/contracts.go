// Package contracts defines the boundary interfaces between mjnet services
// and their external collaborators: the response generator and the clock.
//
// The services depend on these interfaces, so swapping the OpenAI-compatible
// client for a fake in tests, or for a different provider in deployment,
// is a single line change in the wiring code.
package contracts

import (
	"context"
	"time"
)

// ── Response generator ──────────────────────────────────────

// Role tags one turn in a generation request.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one role-tagged text entry in the conversation fed to the
// generator.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// TokenUsage reports token accounting for one completion.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// CompletionRequest is the input to the response generator: an ordered
// list of role-tagged turns plus a system prompt.
type CompletionRequest struct {
	System      string
	Turns       []Turn
	Temperature float64
	MaxTokens   int
}

// CompletionResult is the generator output.
type CompletionResult struct {
	Content string
	Tokens  TokenUsage
}

// Generator produces conversational text. Callers must never propagate a
// generator failure into session state: on error they substitute a fixed
// fallback string with zero token usage.
type Generator interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error)
}

// ── Clock ───────────────────────────────────────────────────

// Clock abstracts time so the session processor and queues can be tested
// with a controllable clock.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
