package agent

import (
	"context"
	"os"
	"time"

	"github.com/datacontracts/shepherd/internal/contract"
)

const activeThreadsPath = "tasks/active_threads.json"

func (a *Agent) loadActiveThreads() (map[string]contract.ActiveThread, error) {
	var m map[string]contract.ActiveThread
	if err := a.Store.ReadJSON(activeThreadsPath, &m); err != nil {
		if os.IsNotExist(err) {
			return make(map[string]contract.ActiveThread), nil
		}
		return nil, err
	}
	if m == nil {
		m = make(map[string]contract.ActiveThread)
	}
	return m, nil
}

// lookupActiveThread returns the registered thread for entity if it exists
// and is still within ThreadTTL of its last update.
func (a *Agent) lookupActiveThread(entity string, now time.Time) (contract.ActiveThread, bool) {
	m, err := a.loadActiveThreads()
	if err != nil {
		return contract.ActiveThread{}, false
	}
	at, ok := m[entity]
	if !ok {
		return contract.ActiveThread{}, false
	}
	updated, err := time.Parse(time.RFC3339, at.UpdatedAt)
	if err != nil || now.Sub(updated) > a.ThreadTTL {
		return contract.ActiveThread{}, false
	}
	return at, true
}

// registerActiveThread records (entity -> root_post_id) and prunes any
// entries that have aged out past ThreadTTL.
func (a *Agent) registerActiveThread(entity, rootPostID string, now time.Time) error {
	m, err := a.loadActiveThreads()
	if err != nil {
		return err
	}
	a.pruneThreadsLocked(m, now)
	m[entity] = contract.ActiveThread{RootPostID: rootPostID, UpdatedAt: now.UTC().Format(time.RFC3339)}
	return a.Store.WriteJSON(activeThreadsPath, m)
}

func (a *Agent) pruneThreadsLocked(m map[string]contract.ActiveThread, now time.Time) {
	for id, at := range m {
		updated, perr := time.Parse(time.RFC3339, at.UpdatedAt)
		if perr != nil || now.Sub(updated) > a.ThreadTTL {
			delete(m, id)
		}
	}
}

// PruneActiveThreads removes every active-thread registry entry whose
// updated_at exceeds ThreadTTL (spec's scheduled Thread GC, run daily
// independent of any fresh registration).
func (a *Agent) PruneActiveThreads(ctx context.Context, now time.Time) error {
	m, err := a.loadActiveThreads()
	if err != nil {
		return err
	}
	before := len(m)
	a.pruneThreadsLocked(m, now)
	if len(m) == before {
		return nil
	}
	return a.Store.WriteJSON(activeThreadsPath, m)
}
