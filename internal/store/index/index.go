// Package index maintains a small SQLite mirror of contracts/index.json and
// tasks/reminders.json so the weekly digest can run
// one join instead of scanning both JSON documents by hand. The file tree
// under internal/store remains the single writer; this mirror is rebuilt
// from it on every query and never written to directly.
package index

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/datacontracts/shepherd/internal/contract"
)

const schema = `
CREATE TABLE IF NOT EXISTS contracts (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	status TEXT NOT NULL,
	tier TEXT NOT NULL,
	agreed_date TEXT,
	status_updated_at TEXT
);
CREATE TABLE IF NOT EXISTS reminders (
	id TEXT PRIMARY KEY,
	contract_id TEXT NOT NULL,
	target_user TEXT,
	next_reminder TEXT,
	escalation_step INTEGER
);
CREATE INDEX IF NOT EXISTS idx_reminders_contract ON reminders(contract_id);
`

// Mirror is an in-process SQLite mirror of the contracts index and the
// reminder ladder's open reminders.
type Mirror struct {
	db *sql.DB
}

// Open creates an in-memory SQLite mirror. Each process gets its own;
// nothing here is meant to be shared or durable across restarts.
func Open() (*Mirror, error) {
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	if err != nil {
		return nil, fmt.Errorf("open index mirror: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply index mirror schema: %w", err)
	}
	return &Mirror{db: db}, nil
}

// Close releases the underlying database handle.
func (m *Mirror) Close() error {
	return m.db.Close()
}

// Rebuild truncates and reloads the mirror from the current index and
// reminders documents. Callers run this immediately before querying, since
// the mirror holds no durability guarantee of its own.
func (m *Mirror) Rebuild(idx contract.Index, reminders []contract.Reminder) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM contracts`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM reminders`); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT INTO contracts(id, name, status, tier, agreed_date, status_updated_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	for id, rec := range idx {
		if rec == nil {
			continue
		}
		if _, err := stmt.Exec(id, rec.Name, rec.Status, rec.Tier, rec.AgreedDate, rec.StatusUpdatedAt); err != nil {
			stmt.Close()
			return err
		}
	}
	stmt.Close()

	rstmt, err := tx.Prepare(`INSERT INTO reminders(id, contract_id, target_user, next_reminder, escalation_step) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	for _, r := range reminders {
		if _, err := rstmt.Exec(r.ID, r.ContractID, r.TargetUser, r.NextReminder, r.EscalationStep); err != nil {
			rstmt.Close()
			return err
		}
	}
	rstmt.Close()

	return tx.Commit()
}

// StatusCounts returns the number of contracts in each status, for the
// digest's "what's agreed, what's stuck" summary.
func (m *Mirror) StatusCounts() (map[string]int, error) {
	rows, err := m.db.Query(`SELECT status, COUNT(*) FROM contracts GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

// StaleRecord is one row of StaleInStatus: a contract that has sat in a
// status since before cutoff, joined against one of its reminders (empty
// reminder fields if it has none) so the digest can name who's still owed
// a nudge.
type StaleRecord struct {
	ContractID   string
	Name         string
	Status       string
	TargetUser   string
	NextReminder string
}

// StaleInStatus returns every contract whose status_updated_at predates
// cutoff, left-joined against its reminders: a contract with several
// reminders yields one row per reminder.
func (m *Mirror) StaleInStatus(status string, cutoff time.Time) ([]StaleRecord, error) {
	rows, err := m.db.Query(`
		SELECT c.id, c.name, c.status, COALESCE(r.target_user, ''), COALESCE(r.next_reminder, '')
		FROM contracts c
		LEFT JOIN reminders r ON r.contract_id = c.id
		WHERE c.status = ? AND c.status_updated_at < ?
		ORDER BY c.status_updated_at ASC
	`, status, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StaleRecord
	for rows.Next() {
		var rec StaleRecord
		if err := rows.Scan(&rec.ContractID, &rec.Name, &rec.Status, &rec.TargetUser, &rec.NextReminder); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
