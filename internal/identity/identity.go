package identity

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/datacontracts/shepherd/internal/store"
)

const indexPath = "participants/index.json"

// Record is one entry in participants/index.json, per spec §3.
type Record struct {
	Username     string `json:"username"`
	Active       bool   `json:"active"`
	Onboarded    bool   `json:"onboarded"`
	JoinedAt     string `json:"joined_at"`
	LeftAt       string `json:"left_at,omitempty"`
	LastActiveAt string `json:"last_active_at,omitempty"`
}

// Index is the full participants/index.json document.
type Index map[string]*Record

// Service owns participant onboarding, profile scaffolding, and the
// last-active-at signal the planner reads for stakeholder_avail.
type Service struct {
	store *store.Store
}

// New creates a participant Service backed by s.
func New(s *store.Store) *Service {
	return &Service{store: s}
}

func profilePath(username string) string {
	return "participants/" + username + ".md"
}

// LoadIndex reads participants/index.json, treating an absent file as empty.
func (svc *Service) LoadIndex() (Index, error) {
	var idx Index
	if err := svc.store.ReadJSON(indexPath, &idx); err != nil {
		if os.IsNotExist(err) {
			return make(Index), nil
		}
		return nil, err
	}
	if idx == nil {
		idx = make(Index)
	}
	return idx, nil
}

func (svc *Service) saveIndex(idx Index) error {
	return svc.store.WriteJSON(indexPath, idx)
}

// Onboard marks username active and onboarded, seeding a profile file the
// first time the username is ever seen. Re-onboarding a known user (e.g.
// rejoining after a remove) reactivates the existing record without
// touching their profile notes.
func (svc *Service) Onboard(username string, now time.Time) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return fmt.Errorf("identity: empty username")
	}
	idx, err := svc.LoadIndex()
	if err != nil {
		return err
	}

	rec, known := idx[username]
	if !known {
		tmpl, err := profileTemplate()
		if err != nil {
			return fmt.Errorf("identity: load profile template: %w", err)
		}
		body := bytes.ReplaceAll(tmpl, []byte("{{username}}"), []byte(username))
		if err := svc.store.Write(profilePath(username), body); err != nil {
			return fmt.Errorf("identity: write profile for %s: %w", username, err)
		}
		rec = &Record{Username: username, JoinedAt: now.UTC().Format(time.RFC3339)}
		idx[username] = rec
	}
	rec.Active = true
	rec.Onboarded = true
	rec.LeftAt = ""
	return svc.saveIndex(idx)
}

// Deactivate marks username inactive, recording when they left. The
// profile file and any contract ownership are left untouched.
func (svc *Service) Deactivate(username string, now time.Time) error {
	username = strings.ToLower(strings.TrimSpace(username))
	idx, err := svc.LoadIndex()
	if err != nil {
		return err
	}
	rec, ok := idx[username]
	if !ok {
		return nil // never onboarded; nothing to deactivate
	}
	rec.Active = false
	rec.LeftAt = now.UTC().Format(time.RFC3339)
	return svc.saveIndex(idx)
}

// TouchLastActive records that username was just seen, for the planner's
// stakeholder_avail scoring term (SPEC_FULL.md §5). Silently onboards
// unknown usernames first, since a message implies presence regardless of
// whether a membership event was ever observed for them.
func (svc *Service) TouchLastActive(username string, now time.Time) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return nil
	}
	idx, err := svc.LoadIndex()
	if err != nil {
		return err
	}
	rec, ok := idx[username]
	if !ok {
		if err := svc.Onboard(username, now); err != nil {
			return err
		}
		idx, err = svc.LoadIndex()
		if err != nil {
			return err
		}
		rec = idx[username]
	}
	rec.LastActiveAt = now.UTC().Format(time.RFC3339)
	return svc.saveIndex(idx)
}

// UpdateProfile appends or replaces notes in username's profile file. It is
// the backing operation for the update_participant tool.
func (svc *Service) UpdateProfile(username, notes string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	existing, err := svc.store.Read(profilePath(username))
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		tmpl, terr := profileTemplate()
		if terr != nil {
			return terr
		}
		existing = bytes.ReplaceAll(tmpl, []byte("{{username}}"), []byte(username))
	}
	updated := replaceNotesSection(string(existing), notes)
	return svc.store.Write(profilePath(username), []byte(updated))
}

func replaceNotesSection(doc, notes string) string {
	const heading = "## Notes"
	idx := strings.Index(doc, heading)
	if idx < 0 {
		return strings.TrimRight(doc, "\n") + "\n\n" + heading + "\n" + notes + "\n"
	}
	before := doc[:idx]
	rest := doc[idx+len(heading):]
	nextHeading := strings.Index(rest, "\n## ")
	var after string
	if nextHeading >= 0 {
		after = rest[nextHeading:]
	}
	return before + heading + "\n" + notes + "\n" + after
}

// StaleAfter reports whether a participant's last known activity is older
// than threshold, used by the planner to down-weight stakeholder_avail.
func (r Record) StaleAfter(now time.Time, threshold time.Duration) bool {
	if r.LastActiveAt == "" {
		return true
	}
	t, err := time.Parse(time.RFC3339, r.LastActiveAt)
	if err != nil {
		return true
	}
	return now.Sub(t) > threshold
}

// ActiveUsernames returns every active participant's username, sorted.
func (idx Index) ActiveUsernames() []string {
	var out []string
	for u, r := range idx {
		if r.Active {
			out = append(out, u)
		}
	}
	sort.Strings(out)
	return out
}
