// Package agent orchestrates one inbound chat event into a reply: either a
// deterministic fast-path handler or an LLM tool-calling loop, per spec
// §4.2. It owns no storage of its own beyond the active-thread registry;
// every other read/write goes through internal/tools.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/datacontracts/shepherd/internal/chat"
	"github.com/datacontracts/shepherd/internal/identity"
	"github.com/datacontracts/shepherd/internal/llm"
	"github.com/datacontracts/shepherd/internal/policy"
	"github.com/datacontracts/shepherd/internal/router"
	"github.com/datacontracts/shepherd/internal/store"
	"github.com/datacontracts/shepherd/internal/tools"
)

// discussionShaped is the set of intents whose route carries an entity that
// should be re-attached to an existing active thread, per §4.2.
var discussionShaped = map[router.Intent]bool{
	router.IntentContractDiscussion: true,
	router.IntentNewContractInit:    true,
	router.IntentProblemReport:      true,
}

// Agent wires a Router, a tool Registry and an LLM provider into replies.
type Agent struct {
	Store    *store.Store
	Chat     chat.Service
	Router   *router.Router
	LLM      llm.Provider
	Identity *identity.Service
	Deps     *tools.Deps

	// Policy authorizes each tool call the tool loop wants to execute,
	// keyed off the tool's declared risk tier (tools.ToolTier).
	Policy policy.Engine

	// HeavyModel and CheapModel name the models passed to llm.ChatRequest
	// for routes resolved to router.ModelHeavy / router.ModelCheap.
	HeavyModel string
	CheapModel string

	// MaxToolIterations bounds the tool-calling loop (spec §4.2 tool loop
	// path); the executor runs at most this many LLM round-trips per reply.
	MaxToolIterations int

	// ThreadTTL is how long an active-thread entry stays eligible for
	// re-attachment (spec §3's "Active threads", default 7 days).
	ThreadTTL time.Duration
}

// New builds an Agent with spec-default tuning.
func New(s *store.Store, chatSvc chat.Service, rt *router.Router, provider llm.Provider, idSvc *identity.Service, deps *tools.Deps) *Agent {
	return &Agent{
		Store:             s,
		Chat:              chatSvc,
		Router:            rt,
		LLM:               provider,
		Identity:          idSvc,
		Deps:              deps,
		Policy:            policy.NewDefaultEngine(),
		HeavyModel:        provider.DefaultModel(),
		CheapModel:        provider.DefaultModel(),
		MaxToolIterations: 20,
		ThreadTTL:         7 * 24 * time.Hour,
	}
}

// HandleEvent dispatches one chat.Event to its side effect; for posted
// messages that is the reply path, which posts its own reply. Only an
// error is returned.
func (a *Agent) HandleEvent(ctx context.Context, ev chat.Event) error {
	switch ev.Kind {
	case chat.EventUserAdded:
		return a.onboard(ctx, ev.Username)
	case chat.EventUserRemoved:
		return a.Identity.Deactivate(ev.Username, time.Now())
	case chat.EventPosted:
		return a.onMessage(ctx, ev)
	default:
		return nil
	}
}

func (a *Agent) onboard(ctx context.Context, username string) error {
	idx, err := a.Identity.LoadIndex()
	if err != nil {
		return err
	}
	if _, known := idx[username]; known {
		return nil
	}
	if err := a.Identity.Onboard(username, time.Now()); err != nil {
		return err
	}
	return a.Chat.SendDM(ctx, username, welcomeMessage)
}

const welcomeMessage = `Welcome! I track data contracts for this workspace.

Send "show contract <id>" or "status <id>" any time, or just describe what
you're working on and I'll help shape it into a contract.`

func (a *Agent) onMessage(ctx context.Context, ev chat.Event) error {
	now := time.Now()

	idx, err := a.Identity.LoadIndex()
	if err != nil {
		return err
	}
	if _, known := idx[ev.Username]; !known {
		if err := a.onboard(ctx, ev.Username); err != nil {
			slog.Warn("agent: onboarding side-effect failed", "username", ev.Username, "error", err)
		}
	}
	if err := a.Identity.TouchLastActive(ev.Username, now); err != nil {
		slog.Warn("agent: failed to touch last-active", "username", ev.Username, "error", err)
	}

	kind := router.ChannelKindChannel
	if ev.IsDM {
		kind = router.ChannelKindDM
	}

	var transcript string
	if ev.ThreadRoot != "" {
		if msgs, err := a.Chat.GetThread(ctx, ev.ChannelID, ev.ThreadRoot); err == nil {
			transcript = renderTranscript(msgs)
		}
	}

	route, err := a.Router.Classify(ctx, router.Input{
		Username:         ev.Username,
		Message:          ev.Text,
		ChannelKind:      kind,
		ThreadTranscript: transcript,
	})
	if err != nil {
		return a.reply(ctx, ev, err.Error(), "")
	}

	threadRoot := ev.ThreadRoot
	if discussionShaped[route.Type] && route.Entity != "" {
		if at, ok := a.lookupActiveThread(route.Entity, now); ok {
			threadRoot = at.RootPostID
			if threadRoot != ev.ThreadRoot {
				if msgs, err := a.Chat.GetThread(ctx, ev.ChannelID, threadRoot); err == nil {
					transcript = renderTranscript(msgs)
				}
			}
		}
	}

	reply, err := a.respond(ctx, ev, route, transcript, kind)
	if err != nil {
		reply = fmt.Sprintf("something went wrong handling that: %v", err)
	}

	postID, sendErr := a.sendReply(ctx, ev, reply, threadRoot)
	if sendErr != nil {
		return sendErr
	}

	if discussionShaped[route.Type] && route.Entity != "" {
		root := threadRoot
		if root == "" {
			root = postID
		}
		if root == "" {
			root = ev.PostID
		}
		if err := a.registerActiveThread(route.Entity, root, now); err != nil {
			slog.Warn("agent: failed to register active thread", "entity", route.Entity, "error", err)
		}
	}

	return nil
}

func (a *Agent) sendReply(ctx context.Context, ev chat.Event, text, threadRoot string) (string, error) {
	if ev.IsDM {
		return "", a.Chat.SendDM(ctx, ev.Username, text)
	}
	return a.Chat.SendToChannel(ctx, ev.ChannelID, threadRoot, text)
}

func (a *Agent) reply(ctx context.Context, ev chat.Event, text, threadRoot string) error {
	_, err := a.sendReply(ctx, ev, text, threadRoot)
	return err
}

// respond dispatches to a deterministic fast-path handler when one exists
// for route.Type, else runs the LLM tool loop.
func (a *Agent) respond(ctx context.Context, ev chat.Event, route router.Route, transcript string, kind router.ChannelKind) (string, error) {
	if handler, ok := fastPaths[route.Type]; ok {
		return handler(a, ctx, ev, route)
	}
	return a.runToolLoop(ctx, ev, route, transcript, kind)
}

func renderTranscript(msgs []chat.ThreadMessage) string {
	s := ""
	for _, m := range msgs {
		s += fmt.Sprintf("%s: %s\n", m.Username, m.Text)
	}
	return s
}
