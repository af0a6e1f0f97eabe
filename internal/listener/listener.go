// Package listener runs the chat-event intake loop: it consumes events from
// a chat.Service, guards each post against duplicate delivery, and forwards
// admitted events to the Agent. Thread-transcript assembly and in-thread
// replies happen inside internal/agent (it already owns the Chat handle);
// this package's only job is the event loop and the dedup gate in front of
// it, per spec §5's "Listener loop" and "Dedup & idempotency".
package listener

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/datacontracts/shepherd/internal/chat"
	"github.com/datacontracts/shepherd/internal/store"
)

const seenPostsPath = "tasks/seen_posts.json"

// handler is the subset of *agent.Agent the Listener depends on. Kept as an
// interface (rather than importing internal/agent directly) so listener
// tests don't need a full Agent wiring.
type handler interface {
	HandleEvent(ctx context.Context, ev chat.Event) error
}

// threadActivity is the subset of *planner.Planner the Listener notifies
// when a reply lands in an existing thread (spec §4.5's thread-activity
// hook). Kept as an interface for the same reason handler is.
type threadActivity interface {
	NotifyThreadActivity(ctx context.Context, threadID, username string, now time.Time) error
}

// Listener consumes chat.Service events and dispatches admitted ones to an
// Agent, guarding against duplicate or concurrent delivery of the same post.
type Listener struct {
	Chat  chat.Service
	Agent handler
	Store *store.Store

	// Planner is optional: nil disables the thread-activity hook.
	Planner threadActivity

	// DedupTTL and DedupMaxEntries bound the persistent "seen" mirror
	// (spec: DEDUP_TTL_SECONDS default 86400, DEDUP_MAX_ENTRIES default 4000).
	DedupTTL        time.Duration
	DedupMaxEntries int

	mu       sync.Mutex
	inflight map[string]bool
	seen     map[string]time.Time
}

// New builds a Listener with spec-default dedup tuning.
func New(chatSvc chat.Service, a handler, s *store.Store) *Listener {
	l := &Listener{
		Chat:            chatSvc,
		Agent:           a,
		Store:           s,
		DedupTTL:        24 * time.Hour,
		DedupMaxEntries: 4000,
		inflight:        make(map[string]bool),
		seen:            make(map[string]time.Time),
	}
	l.loadSeen()
	return l
}

func (l *Listener) loadSeen() {
	var raw map[string]string
	if err := l.Store.ReadJSON(seenPostsPath, &raw); err != nil {
		return
	}
	for id, ts := range raw {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			l.seen[id] = t
		}
	}
}

func persistSeenSnapshot(s *store.Store, snapshot map[string]time.Time) {
	raw := make(map[string]string, len(snapshot))
	for id, t := range snapshot {
		raw[id] = t.Format(time.RFC3339)
	}
	if err := s.WriteJSON(seenPostsPath, raw); err != nil {
		slog.Warn("listener: failed to persist seen posts", "error", err)
	}
}

// Run blocks on Chat.Events() and dispatches each event synchronously,
// per spec §5's scheduling model. It returns when the event channel closes
// or ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	events := l.Chat.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			l.handle(ctx, ev)
		}
	}
}

func (l *Listener) handle(ctx context.Context, ev chat.Event) {
	if ev.Kind == chat.EventPosted && l.Chat.BotUserID() != "" && ev.Username == l.Chat.BotUserID() {
		return
	}

	if ev.Kind != chat.EventPosted || ev.PostID == "" {
		if err := l.Agent.HandleEvent(ctx, ev); err != nil {
			slog.Warn("listener: handling non-posted event failed", "kind", ev.Kind, "error", err)
		}
		return
	}

	if !l.admit(ev.PostID) {
		slog.Debug("listener: duplicate post dropped", "post_id", ev.PostID)
		return
	}
	defer l.complete(ev.PostID)

	if err := l.Agent.HandleEvent(ctx, ev); err != nil {
		slog.Warn("listener: agent failed to handle event", "post_id", ev.PostID, "error", err)
	}

	if l.Planner != nil && ev.ThreadRoot != "" {
		if err := l.Planner.NotifyThreadActivity(ctx, ev.ThreadRoot, ev.Username, time.Now()); err != nil {
			slog.Warn("listener: thread-activity hook failed", "thread_root", ev.ThreadRoot, "error", err)
		}
	}
}

// admit checks the inflight and seen sets under one lock and, if the post id
// is present in neither, marks it inflight and returns true. This is the
// Listener's only dedup gate: a post id present in either set is dropped.
func (l *Listener) admit(postID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked()

	if l.inflight[postID] {
		return false
	}
	if _, ok := l.seen[postID]; ok {
		return false
	}
	l.inflight[postID] = true
	return true
}

// complete moves a post id from inflight to seen and persists the mirror.
func (l *Listener) complete(postID string) {
	l.mu.Lock()
	delete(l.inflight, postID)
	l.seen[postID] = time.Now()
	l.pruneLocked()
	snapshot := make(map[string]time.Time, len(l.seen))
	for id, t := range l.seen {
		snapshot[id] = t
	}
	l.mu.Unlock()

	persistSeenSnapshot(l.Store, snapshot)
}

// pruneLocked drops TTL-expired entries, then, if still over
// DedupMaxEntries, discards the oldest half of the entries (or more, when
// half is not enough to get back within the limit). Caller must hold l.mu.
func (l *Listener) pruneLocked() {
	now := time.Now()
	for id, t := range l.seen {
		if now.Sub(t) > l.DedupTTL {
			delete(l.seen, id)
		}
	}
	if len(l.seen) <= l.DedupMaxEntries {
		return
	}
	type entry struct {
		id string
		t  time.Time
	}
	entries := make([]entry, 0, len(l.seen))
	for id, t := range l.seen {
		entries = append(entries, entry{id, t})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].t.Before(entries[j].t) })
	drop := len(entries) / 2
	if len(entries)-drop > l.DedupMaxEntries {
		drop = len(entries) - l.DedupMaxEntries
	}
	for i := 0; i < drop; i++ {
		delete(l.seen, entries[i].id)
	}
}
