// Package store keeps the per-page ledger of extracted fragments and the
// units the stitcher produced from them.
//
// The store is owned by the orchestrator and passed explicitly to the
// components that need it. Every mutation bumps a revision counter so a
// snapshot can be matched to the checkpoint it was written with.
package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jackzampolin/quire/internal/types"
)

// SnapshotVersion is the schema version written into snapshots.
const SnapshotVersion = 1

var (
	// ErrOutOfOrderPage is returned when pages are appended out of sequence.
	ErrOutOfOrderPage = errors.New("out of order page")
	// ErrNotAppended is returned when recording results for a page that is
	// not the most recently appended one.
	ErrNotAppended = errors.New("page not appended")
	// ErrBadSnapshot is returned by Restore for snapshots that fail validation.
	ErrBadSnapshot = errors.New("invalid store snapshot")
)

// PageRecord is everything known about one page.
type PageRecord struct {
	Page       int              `json:"page"`
	Fragments  []types.Fragment `json:"fragments"`
	Units      []types.Unit     `json:"units,omitempty"`
	Pending    []types.Fragment `json:"pending,omitempty"`
	Reconciled bool             `json:"reconciled"`
}

func (r PageRecord) clone() PageRecord {
	r.Fragments = types.CloneFragments(r.Fragments)
	r.Units = types.CloneUnits(r.Units)
	r.Pending = types.CloneFragments(r.Pending)
	return r
}

// Snapshot is the serializable form of a Store.
type Snapshot struct {
	Version  int          `json:"version"`
	Revision uint64       `json:"revision"`
	LastPage int          `json:"last_page"`
	Pages    []PageRecord `json:"pages"`
}

// Store is the fragment ledger. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	pages    []PageRecord
	revision uint64
}

// New returns an empty store.
func New() *Store {
	return &Store{}
}

// Append records the raw fragments extracted from page. Pages must arrive
// strictly in order starting at 1.
func (s *Store) Append(page int, frags []types.Fragment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := len(s.pages) + 1
	if page != want {
		return fmt.Errorf("%w: got page %d, expected %d", ErrOutOfOrderPage, page, want)
	}
	s.pages = append(s.pages, PageRecord{
		Page:      page,
		Fragments: types.CloneFragments(frags),
	})
	s.revision++
	return nil
}

// Record stores the stitcher's outcome for the most recently appended page:
// the units completed on it and the continuations carried past it.
func (s *Store) Record(page int, units []types.Unit, pending []types.Fragment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pages) == 0 || s.pages[len(s.pages)-1].Page != page {
		return fmt.Errorf("%w: %d", ErrNotAppended, page)
	}
	rec := &s.pages[len(s.pages)-1]
	rec.Units = types.CloneUnits(units)
	rec.Pending = types.CloneFragments(pending)
	rec.Reconciled = true
	s.revision++
	return nil
}

// PendingContinuations returns the continuations of the most recently
// appended page that no later page has matched yet. Before that page is
// reconciled these are its raw continues-next-page fragments.
func (s *Store) PendingContinuations() []types.Fragment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.pages) == 0 {
		return nil
	}
	rec := s.pages[len(s.pages)-1]
	if rec.Reconciled {
		return types.CloneFragments(rec.Pending)
	}
	var out []types.Fragment
	for _, f := range rec.Fragments {
		if f.ContinuesNextPage {
			out = append(out, f.Clone())
		}
	}
	return out
}

// LastPage returns the most recently appended page, or 0.
func (s *Store) LastPage() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pages)
}

// Revision increases with every mutation.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// Page returns a copy of one page's record.
func (s *Store) Page(page int) (PageRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if page < 1 || page > len(s.pages) {
		return PageRecord{}, false
	}
	return s.pages[page-1].clone(), true
}

// Units returns every completed unit in page order.
func (s *Store) Units() []types.Unit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Unit
	for _, rec := range s.pages {
		out = append(out, types.CloneUnits(rec.Units)...)
	}
	return out
}

// FragmentCount returns the number of raw fragments appended so far.
func (s *Store) FragmentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rec := range s.pages {
		n += len(rec.Fragments)
	}
	return n
}

// Snapshot returns a deep copy suitable for serialization.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pages := make([]PageRecord, len(s.pages))
	for i, rec := range s.pages {
		pages[i] = rec.clone()
	}
	return Snapshot{
		Version:  SnapshotVersion,
		Revision: s.revision,
		LastPage: len(s.pages),
		Pages:    pages,
	}
}

// Restore rebuilds a store from a snapshot.
func Restore(snap Snapshot) (*Store, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	pages := make([]PageRecord, len(snap.Pages))
	for i, rec := range snap.Pages {
		pages[i] = rec.clone()
	}
	return &Store{pages: pages, revision: snap.Revision}, nil
}

// Validate checks the snapshot's structural invariants: a known version and
// pages numbered contiguously from 1.
func (snap Snapshot) Validate() error {
	if snap.Version != SnapshotVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrBadSnapshot, snap.Version)
	}
	if snap.LastPage != len(snap.Pages) {
		return fmt.Errorf("%w: last_page %d but %d pages", ErrBadSnapshot, snap.LastPage, len(snap.Pages))
	}
	for i, rec := range snap.Pages {
		if rec.Page != i+1 {
			return fmt.Errorf("%w: page %d at position %d", ErrBadSnapshot, rec.Page, i+1)
		}
		if !rec.Reconciled {
			return fmt.Errorf("%w: page %d not reconciled", ErrBadSnapshot, rec.Page)
		}
	}
	return nil
}
