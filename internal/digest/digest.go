// Package digest implements the Scheduler's weekly-digest job (spec §4.4):
// a single heavy-model call summarizing the contracts index, queue and
// reminders, posted to the channel.
package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/datacontracts/shepherd/internal/chat"
	"github.com/datacontracts/shepherd/internal/contract"
	"github.com/datacontracts/shepherd/internal/llm"
	"github.com/datacontracts/shepherd/internal/store"
	"github.com/datacontracts/shepherd/internal/store/index"
)

const (
	indexPath     = "contracts/index.json"
	queuePath     = "tasks/queue.json"
	remindersPath = "tasks/reminders.json"

	defaultStaleReviewDays = 180
)

// Digest composes and posts the weekly summary.
type Digest struct {
	Store     *store.Store
	Chat      chat.Service
	LLM       llm.Provider
	ChannelID string

	HeavyModel string

	// StaleReviewDays flags in_review contracts stuck past this many days
	// (spec's GOVERNANCE_REVIEW_THRESHOLD_DAYS) as needing attention.
	StaleReviewDays int
}

// New builds a Digest with the provider's default model.
func New(s *store.Store, chatSvc chat.Service, provider llm.Provider, channelID string) *Digest {
	return &Digest{Store: s, Chat: chatSvc, LLM: provider, ChannelID: channelID, HeavyModel: provider.DefaultModel()}
}

const digestPrompt = `You write a weekly data-contract status digest for a team chat channel.
Given the contracts index, the operator's priority queue, the open reminders and the stuck-in-review
contracts below, write a short summary: what's agreed, what's stuck, what needs attention this week.
Plain text, no markdown headers, suitable for posting directly to a chat channel.

Contracts index:
%s

Status counts:
%s

Stuck in review (older than the review threshold):
%s

Queue:
%s

Open reminders:
%s
`

// Run composes a prompt from the index, queue, reminders and a SQLite
// mirror's status/staleness query, calls the heavy model once, and posts
// its response to the channel.
func (d *Digest) Run(ctx context.Context, now time.Time) error {
	var idx contract.Index
	if err := d.Store.ReadJSON(indexPath, &idx); err != nil && !os.IsNotExist(err) {
		return err
	}
	var queue []contract.QueueItem
	if err := d.Store.ReadJSON(queuePath, &queue); err != nil && !os.IsNotExist(err) {
		return err
	}
	var reminders []contract.Reminder
	if err := d.Store.ReadJSON(remindersPath, &reminders); err != nil && !os.IsNotExist(err) {
		return err
	}

	statusCounts, stale, err := d.queryMirror(idx, reminders, now)
	if err != nil {
		return fmt.Errorf("digest: mirror query: %w", err)
	}

	idxJSON, _ := json.Marshal(idx)
	queueJSON, _ := json.Marshal(queue)
	remindersJSON, _ := json.Marshal(reminders)
	statusJSON, _ := json.Marshal(statusCounts)
	staleJSON, _ := json.Marshal(stale)

	resp, err := d.LLM.Chat(ctx, &llm.ChatRequest{
		Model: d.model(),
		Messages: []llm.Message{
			{Role: "user", Content: fmt.Sprintf(digestPrompt, idxJSON, statusJSON, staleJSON, queueJSON, remindersJSON)},
		},
	})
	if err != nil {
		return fmt.Errorf("digest: compose: %w", err)
	}
	if resp.Content == "" {
		return nil
	}

	_, err = d.Chat.SendToChannel(ctx, d.ChannelID, "", resp.Content)
	return err
}

// queryMirror rebuilds the SQLite index mirror from the current file-tree
// state and runs the status/staleness queries the prompt needs.
func (d *Digest) queryMirror(idx contract.Index, reminders []contract.Reminder, now time.Time) (map[string]int, []index.StaleRecord, error) {
	m, err := index.Open()
	if err != nil {
		return nil, nil, err
	}
	defer m.Close()

	if err := m.Rebuild(idx, reminders); err != nil {
		return nil, nil, err
	}
	counts, err := m.StatusCounts()
	if err != nil {
		return nil, nil, err
	}
	stale, err := m.StaleInStatus(contract.StatusInReview, now.AddDate(0, 0, -d.staleReviewDays()))
	if err != nil {
		return nil, nil, err
	}
	return counts, stale, nil
}

func (d *Digest) staleReviewDays() int {
	if d.StaleReviewDays <= 0 {
		return defaultStaleReviewDays
	}
	return d.StaleReviewDays
}

func (d *Digest) model() string {
	if d.HeavyModel == "" {
		return d.LLM.DefaultModel()
	}
	return d.HeavyModel
}
