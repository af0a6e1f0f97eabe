// Package reminder implements the dunning-ladder reminder pass (spec §4.4):
// a periodic sweep over tasks/reminders.json that advances each due
// reminder one rung and sends the matching message.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/datacontracts/shepherd/internal/chat"
	"github.com/datacontracts/shepherd/internal/contract"
	"github.com/datacontracts/shepherd/internal/llm"
	"github.com/datacontracts/shepherd/internal/store"
)

const remindersPath = "tasks/reminders.json"

// templatesPath is an optional override file: if present, its per-step
// sections replace the built-in templates below. Not part of the spec's
// named persisted-layout table; this is an Open Question resolution (see
// DESIGN.md) modeled after the rest of context/*'s free-form operator files.
const templatesPath = "context/reminder_templates.md"

// terminalStep is the clamp ceiling: escalation_step never advances past it.
const terminalStep = 5

// Ladder runs the reminder pass: a single sweep over every reminder whose
// NextReminder is due, advancing each by one rung.
type Ladder struct {
	Store     *store.Store
	Chat      chat.Service
	LLM       llm.Provider
	ChannelID string // the bot's single configured operating channel

	CheapModel          string
	DefaultIntervalDays int    // REMINDER_DEFAULT_INTERVAL_DAYS (2)
	EscalationUser      string // ESCALATION_USER ("alexey")
}

// New builds a Ladder with spec defaults.
func New(s *store.Store, chatSvc chat.Service, provider llm.Provider) *Ladder {
	return &Ladder{
		Store:               s,
		Chat:                chatSvc,
		LLM:                 provider,
		CheapModel:          provider.DefaultModel(),
		DefaultIntervalDays: 2,
		EscalationUser:      "alexey",
	}
}

// Run advances every due reminder by one rung and persists the result.
func (l *Ladder) Run(ctx context.Context, now time.Time) error {
	var reminders []contract.Reminder
	if err := l.Store.ReadJSON(remindersPath, &reminders); err != nil && !os.IsNotExist(err) {
		slog.Warn("reminder: malformed reminders file treated as empty", "error", err)
	}
	if len(reminders) == 0 {
		return nil
	}

	changed := false
	for i := range reminders {
		r := &reminders[i]
		due, err := time.Parse(time.RFC3339, r.NextReminder)
		if err != nil || due.After(now) {
			continue
		}
		if r.EscalationStep >= terminalStep {
			continue
		}
		if err := l.fire(ctx, r, now); err != nil {
			slog.Warn("reminder: failed to send rung", "reminder_id", r.ID, "error", err)
			continue
		}
		changed = true
	}

	if !changed {
		return nil
	}
	return l.Store.WriteJSON(remindersPath, reminders)
}

// fire sends the message for r's current rung, then advances it.
func (l *Ladder) fire(ctx context.Context, r *contract.Reminder, now time.Time) error {
	step := r.EscalationStep
	text, err := l.render(ctx, step, r, now)
	if err != nil {
		return err
	}

	switch step {
	case 1, 2, 4:
		if _, err := l.Chat.SendToChannel(ctx, l.ChannelID, r.ThreadID, text); err != nil {
			return err
		}
	case 3:
		if err := l.Chat.SendDM(ctx, r.TargetUser, text); err != nil {
			return err
		}
	default:
		return fmt.Errorf("reminder: unhandled rung %d", step)
	}

	r.LastReminder = now.UTC().Format(time.RFC3339)
	r.NextReminder = now.Add(time.Duration(l.intervalDays()) * 24 * time.Hour).UTC().Format(time.RFC3339)
	if r.EscalationStep < terminalStep {
		r.EscalationStep++
	}
	return nil
}

func (l *Ladder) intervalDays() int {
	if l.DefaultIntervalDays <= 0 {
		return 2
	}
	return l.DefaultIntervalDays
}

func (l *Ladder) escalationUser() string {
	if l.EscalationUser == "" {
		return "alexey"
	}
	return l.EscalationUser
}

func (l *Ladder) daysBlocked(r *contract.Reminder, now time.Time) int {
	first, err := time.Parse(time.RFC3339, r.FirstAsked)
	if err != nil {
		return 0
	}
	return int(now.Sub(first).Hours() / 24)
}

// render builds the message text for rung `step` (the reminder's current
// escalation_step, i.e. the step->step+1 transition) by substituting
// placeholders into the step's template.
func (l *Ladder) render(ctx context.Context, step int, r *contract.Reminder, now time.Time) (string, error) {
	optionA, optionB := "", ""
	if step == 2 {
		var err error
		optionA, optionB, err = l.resolveOptions(ctx, r)
		if err != nil {
			return "", err
		}
	}

	tmpl := l.templateFor(step)
	repl := strings.NewReplacer(
		"{CONTRACT_ID}", r.ContractID,
		"{TARGET_USER}", r.TargetUser,
		"{QUESTION}", r.QuestionSummary,
		"{OPTION_A}", optionA,
		"{OPTION_B}", optionB,
		"{DAYS_BLOCKED}", fmt.Sprintf("%d", l.daysBlocked(r, now)),
		"{ESCALATION_USER}", l.escalationUser(),
	)
	return repl.Replace(tmpl), nil
}

// resolveOptions sources the two-option simplification from the discussion's
// last proposed resolution, falling back to the cheap model with a fixed
// prompt when none exists.
func (l *Ladder) resolveOptions(ctx context.Context, r *contract.Reminder) (a, b string, err error) {
	var disc contract.Discussion
	if err := l.Store.ReadJSON("drafts/"+r.ContractID+"_discussion.json", &disc); err == nil && len(disc.Resolutions) > 0 {
		last := disc.Resolutions[len(disc.Resolutions)-1]
		if a, b, ok := splitOptions(last.Text); ok {
			return a, b, nil
		}
	}
	if l.LLM == nil {
		return "Keep the current approach", "Revisit the definition", nil
	}
	resp, err := l.LLM.Chat(ctx, &llm.ChatRequest{
		Model:       l.CheapModel,
		Temperature: 0.2,
		MaxTokens:   200,
		Messages: []llm.Message{
			{Role: "system", Content: "Reduce an open data-contract question to exactly two short, concrete options labeled A and B. Reply with just the two lines, 'A: ...' and 'B: ...'."},
			{Role: "user", Content: fmt.Sprintf("Contract %s, open question: %s", r.ContractID, r.QuestionSummary)},
		},
	})
	if err != nil {
		return "", "", err
	}
	if a, b, ok := splitOptions(resp.Content); ok {
		return a, b, nil
	}
	return "Keep the current approach", "Revisit the definition", nil
}

var optionLineRe = regexp.MustCompile(`(?im)^\s*[AB][:.)]\s*(.+)$`)

// splitOptions extracts "A: ..." / "B: ..." lines from free-form text.
func splitOptions(text string) (a, b string, ok bool) {
	matches := optionLineRe.FindAllStringSubmatch(text, -1)
	if len(matches) < 2 {
		return "", "", false
	}
	return strings.TrimSpace(matches[0][1]), strings.TrimSpace(matches[1][1]), true
}

func (l *Ladder) templateFor(step int) string {
	if custom, ok := customTemplate(l.Store, step); ok {
		return custom
	}
	return builtinTemplates[step]
}

var builtinTemplates = map[int]string{
	1: "Hey @{TARGET_USER} — still waiting on an answer for {CONTRACT_ID}: {QUESTION}",
	2: "To unblock {CONTRACT_ID}, could we pick one of these?\nA: {OPTION_A}\nB: {OPTION_B}",
	3: "Quick nudge: {CONTRACT_ID} has been blocked {DAYS_BLOCKED} days on your answer to: {QUESTION}",
	4: "@{ESCALATION_USER} — {CONTRACT_ID} has been blocked {DAYS_BLOCKED} days waiting on @{TARGET_USER}. Needs a decision.",
}

var stepMarkerRe = regexp.MustCompile(`(?m)^##\s*Step\s+(\d+)\s*$`)

// customTemplate looks for a "## Step N" section in the operator-provided
// override file and returns its body if present.
func customTemplate(s *store.Store, step int) (string, bool) {
	data, err := s.Read(templatesPath)
	if err != nil {
		return "", false
	}
	text := string(data)
	locs := stepMarkerRe.FindAllStringSubmatchIndex(text, -1)
	for i, loc := range locs {
		if text[loc[2]:loc[3]] != fmt.Sprintf("%d", step) {
			continue
		}
		start := loc[1]
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := strings.TrimSpace(text[start:end])
		if body != "" {
			return body, true
		}
	}
	return "", false
}
