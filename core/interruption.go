package core

import (
	"fmt"
	"strings"
)

// DefaultRejectionMessage is substituted for a gated tool's output when a
// reviewer rejects it without giving a reason, or gives an unusable answer.
const DefaultRejectionMessage = "Summary rejected by reviewer."

// Interruption describes a tool call suspended before execution pending a human decision.
type Interruption struct {
	CallID    string `json:"call_id"`
	ToolName  string `json:"tool_name"`
	Agent     string `json:"agent"`
	Arguments string `json:"arguments"`
}

// Decision is a human verdict on an Interruption.
type Decision struct {
	Approved bool   `json:"approved"`
	Message  string `json:"message,omitempty"`
}

// Approve returns an approving decision.
func Approve() Decision { return Decision{Approved: true} }

// Reject returns a rejecting decision with the message the calling agent will see.
func Reject(message string) Decision { return Decision{Message: message} }

// RejectionMessage returns the text substituted for the tool output.
func (d Decision) RejectionMessage() string {
	if strings.TrimSpace(d.Message) == "" {
		return DefaultRejectionMessage
	}
	return d.Message
}

// ParseDecision maps free-form reviewer input to a Decision. Only an explicit
// "y" (any case, surrounding space ignored) approves; everything else rejects
// with the default message so ambiguity never fails open.
func ParseDecision(raw string) Decision {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "y":
		return Approve()
	default:
		return Reject(DefaultRejectionMessage)
	}
}

// InterruptedError is returned by tool and delegate executions that cannot
// proceed until the listed interruptions are decided.
type InterruptedError struct {
	Interruptions []Interruption
}

func (e *InterruptedError) Error() string {
	names := make([]string, 0, len(e.Interruptions))
	for _, in := range e.Interruptions {
		names = append(names, in.ToolName+"#"+in.CallID)
	}
	return fmt.Sprintf("run interrupted awaiting approval: %s", strings.Join(names, ", "))
}
