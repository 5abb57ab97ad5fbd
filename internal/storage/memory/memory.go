// Package memory is a process-local store used by tests and DATA_BACKEND=memory.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tutorledger/internal/core"
	"tutorledger/internal/ports"
)

var _ ports.Store = (*Store)(nil)

type archiveKey struct {
	userID string
	key    core.MonthKey
}

type Store struct {
	mu       sync.Mutex
	records  []core.Record
	archives map[string]core.Archive
	byMonth  map[archiveKey]string
	failedAt map[string]time.Time // last failed export attempt by archive id
	users    map[string]core.User // by email
	now      func() time.Time
}

func New() *Store {
	return &Store{
		archives: make(map[string]core.Archive),
		byMonth:  make(map[archiveKey]string),
		failedAt: make(map[string]time.Time),
		users:    make(map[string]core.User),
		now:      time.Now,
	}
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

func (s *Store) CreateRecord(_ context.Context, r core.Record) (core.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	s.records = append(s.records, r)
	return r, nil
}

// ListRecords returns the user's records, newest date first.
func (s *Store) ListRecords(_ context.Context, userID string) ([]core.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Record, 0)
	for _, r := range s.records {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date.Time) {
			return out[i].Date.After(out[j].Date.Time)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) DeleteRecords(_ context.Context, userID string, ids []string) (int64, error) {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	return s.deleteWhere(func(r core.Record) bool {
		_, ok := drop[r.ID]
		return ok && r.UserID == userID
	}), nil
}

func (s *Store) DeleteAllRecords(_ context.Context, userID string) (int64, error) {
	return s.deleteWhere(func(r core.Record) bool { return r.UserID == userID }), nil
}

func (s *Store) deleteWhere(match func(core.Record) bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	var n int64
	for _, r := range s.records {
		if match(r) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	return n
}

func (s *Store) FindArchive(_ context.Context, userID string, key core.MonthKey) (core.Archive, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byMonth[archiveKey{userID, key}]
	if !ok {
		return core.Archive{}, false, nil
	}
	return cloneArchive(s.archives[id]), true, nil
}

// CreateArchive refuses a second archive for the same user and month.
func (s *Store) CreateArchive(_ context.Context, a core.Archive) (core.Archive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := archiveKey{a.UserID, a.Key()}
	if _, exists := s.byMonth[k]; exists {
		return core.Archive{}, core.ErrAlreadyArchived
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	a = cloneArchive(a)
	s.archives[a.ID] = a
	s.byMonth[k] = a.ID
	return cloneArchive(a), nil
}

func (s *Store) ListArchives(_ context.Context, userID string) ([]core.Archive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Archive, 0)
	for _, a := range s.archives {
		if a.UserID == userID {
			out = append(out, cloneArchive(a))
		}
	}
	core.SortArchives(out)
	return out, nil
}

func (s *Store) GetArchive(_ context.Context, userID, id string) (core.Archive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.archives[id]
	if !ok || a.UserID != userID {
		return core.Archive{}, core.ErrArchiveNotFound
	}
	return cloneArchive(a), nil
}

func (s *Store) DeleteArchive(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.archives[id]
	if !ok || a.UserID != userID {
		return core.ErrArchiveNotFound
	}
	delete(s.archives, id)
	delete(s.byMonth, archiveKey{a.UserID, a.Key()})
	delete(s.failedAt, id)
	return nil
}

func (s *Store) ListUnexported(_ context.Context, limit int) ([]core.Archive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Archive, 0)
	for _, a := range s.archives {
		if !a.Exported() {
			out = append(out, cloneArchive(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		fi, triedI := s.failedAt[out[i].ID]
		fj, triedJ := s.failedAt[out[j].ID]
		switch {
		case triedI != triedJ:
			return !triedI
		case triedI && !fi.Equal(fj):
			return fi.Before(fj)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkExported(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.archives[id]
	if !ok {
		return core.ErrArchiveNotFound
	}
	at = at.UTC()
	a.ExportedAt = &at
	s.archives[id] = a
	return nil
}

func (s *Store) CreateUser(_ context.Context, u core.User) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[u.Email]; exists {
		return core.User{}, core.ErrEmailTaken
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now().UTC()
	}
	s.users[u.Email] = u
	return u, nil
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	if !ok {
		return core.User{}, core.ErrUserNotFound
	}
	return u, nil
}

func cloneArchive(a core.Archive) core.Archive {
	a.Records = append([]core.Record(nil), a.Records...)
	if a.ExportedAt != nil {
		t := *a.ExportedAt
		a.ExportedAt = &t
	}
	return a
}

func (s *Store) MarkExportFailed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.archives[id]; !ok {
		return core.ErrArchiveNotFound
	}
	s.failedAt[id] = at.UTC()
	return nil
}
