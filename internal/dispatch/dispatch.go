// Package dispatch executes the planner's fixed set of action verbs as
// chat sends (spec §4.10): start-thread, ask-question, propose-resolution,
// follow-up and escalate.
package dispatch

import (
	"context"
	"fmt"

	"github.com/datacontracts/shepherd/internal/audit"
	"github.com/datacontracts/shepherd/internal/chat"
)

// ActionType is one of the planner's five verbs.
type ActionType string

const (
	ActionStartThread       ActionType = "start_thread"
	ActionAskQuestion       ActionType = "ask_question"
	ActionProposeResolution ActionType = "propose_resolution"
	ActionFollowUp          ActionType = "follow_up"
	ActionEscalate          ActionType = "escalate"
)

// Action is one planner decision ready to be sent.
type Action struct {
	Type       ActionType
	ContractID string
	ThreadID   string // empty for start_thread; required otherwise
	Recipient  string // DM target; only escalate uses this
	Message    string
}

// Dispatcher maps action verbs onto the chat boundary and records each
// send to the audit log.
type Dispatcher struct {
	Chat      chat.Service
	Audit     *audit.Log
	ChannelID string
}

// New builds a Dispatcher posting to the bot's single configured channel.
func New(chatSvc chat.Service, auditLog *audit.Log, channelID string) *Dispatcher {
	return &Dispatcher{Chat: chatSvc, Audit: auditLog, ChannelID: channelID}
}

// Dispatch sends the action's message and returns the thread id the caller
// should remember for this contract (unchanged except on start_thread,
// where it is the newly created thread's root post id).
func (d *Dispatcher) Dispatch(ctx context.Context, a Action) (string, error) {
	threadID := a.ThreadID
	var err error

	switch a.Type {
	case ActionStartThread:
		threadID, err = d.Chat.SendToChannel(ctx, d.ChannelID, "", a.Message)
	case ActionAskQuestion, ActionProposeResolution, ActionFollowUp:
		if a.ThreadID == "" {
			return "", fmt.Errorf("dispatch: %s requires a thread id", a.Type)
		}
		_, err = d.Chat.SendToChannel(ctx, d.ChannelID, a.ThreadID, a.Message)
	case ActionEscalate:
		if a.Recipient == "" {
			return "", fmt.Errorf("dispatch: escalate requires a recipient")
		}
		err = d.Chat.SendDM(ctx, a.Recipient, a.Message)
	default:
		return "", fmt.Errorf("dispatch: unknown action type %q", a.Type)
	}
	if err != nil {
		return "", fmt.Errorf("dispatch %s: %w", a.Type, err)
	}

	if d.Audit != nil {
		_ = d.Audit.Record(ctx, a.ContractID, audit.TypeActionDispatched, map[string]any{
			"action":      string(a.Type),
			"contract_id": a.ContractID,
			"thread_id":   threadID,
		})
	}
	return threadID, nil
}
