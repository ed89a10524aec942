package collection

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/golang/glog"
)

// DefaultAdmin may mutate any record regardless of owner.
const DefaultAdmin = "admin"

var (
	// ErrNotFound is returned for an id or index that does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrNotAuthorized is returned when the caller does not own the record.
	ErrNotAuthorized = errors.New("not authorized to modify this record")
)

// PersistenceError reports a gateway failure. The store is left unchanged.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Gateway is the durable store behind the collection. Every call is
// synchronous and either fully applied or returns an error.
type Gateway interface {
	LoadAll(ctx context.Context) ([]Owned, error)
	Save(ctx context.Context, rec Record, owner string) error
	Delete(ctx context.Context, id int64) error
	DeleteMany(ctx context.Context, ids []int64) error
	Update(ctx context.Context, id int64, rec Record, owner string) error
}

// Info summarises the collection for the info command.
type Info struct {
	Type      string
	CreatedAt time.Time
	Size      int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithAdmin sets the username that bypasses ownership checks.
func WithAdmin(name string) StoreOption {
	return func(s *Store) { s.admin = name }
}

// WithClock replaces time.Now for creation timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// Store is the shared record set. A single RWMutex guards the records, the
// ownership table and the id counter; every mutation, gateway call
// included, runs inside one write-locked section.
type Store struct {
	mu      sync.RWMutex
	records []Record
	owners  map[int64]string
	nextID  int64

	gw        Gateway
	admin     string
	now       func() time.Time
	createdAt time.Time
}

// NewStore creates an empty store backed by gw.
func NewStore(gw Gateway, opts ...StoreOption) *Store {
	s := &Store{
		owners: make(map[int64]string),
		nextID: 1,
		gw:     gw,
		admin:  DefaultAdmin,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.createdAt = s.now()
	return s
}

// Load replaces the in-memory state with what the gateway holds.
func (s *Store) Load(ctx context.Context) error {
	rows, err := s.gw.LoadAll(ctx)
	if err != nil {
		return &PersistenceError{Op: "load", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = s.records[:0]
	clear(s.owners)
	var maxID int64
	for _, row := range rows {
		if _, dup := s.owners[row.Record.ID]; dup {
			glog.Warningf("[store] duplicate id %d in gateway, skipping", row.Record.ID)
			continue
		}
		s.records = append(s.records, row.Record.Clone())
		s.owners[row.Record.ID] = row.Owner
		maxID = max(maxID, row.Record.ID)
	}
	if maxID >= s.nextID {
		s.nextID = maxID + 1
	}
	glog.Infof("[store] loaded %d records, next id %d", len(s.records), s.nextID)
	return nil
}

func (s *Store) canModify(id int64, user string) bool {
	return user == s.admin || s.owners[id] == user
}

func (s *Store) indexOf(id int64) int {
	return slices.IndexFunc(s.records, func(r Record) bool { return r.ID == id })
}

// addLocked persists rec under a fresh id and registers it. The caller holds
// the write lock. An id consumed by a failed save is never handed out again.
func (s *Store) addLocked(ctx context.Context, rec Record, owner string) (Record, error) {
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	rec = rec.Clone()
	rec.ID = s.nextID
	rec.CreatedAt = s.now().UTC().Truncate(time.Millisecond)
	s.nextID++

	if err := s.gw.Save(ctx, rec, owner); err != nil {
		return Record{}, &PersistenceError{Op: "save", Err: err}
	}
	s.records = append(s.records, rec)
	s.owners[rec.ID] = owner
	glog.V(2).Infof("[store] add id=%d owner=%s", rec.ID, owner)
	return rec.Clone(), nil
}

// Add stores rec on behalf of owner and returns it with its assigned id.
func (s *Store) Add(ctx context.Context, rec Record, owner string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(ctx, rec, owner)
}

// AddIfMax adds rec only if it is greater than every stored record, or the
// store is empty. The comparison and the insert are one critical section.
func (s *Store) AddIfMax(ctx context.Context, rec Record, owner string) (Record, bool, error) {
	if err := rec.Validate(); err != nil {
		return Record{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.records {
		if Compare(rec, r) <= 0 {
			return Record{}, false, nil
		}
	}
	added, err := s.addLocked(ctx, rec, owner)
	if err != nil {
		return Record{}, false, err
	}
	return added, true, nil
}

func (s *Store) removeLocked(ctx context.Context, i int, user string) (Record, error) {
	rec := s.records[i]
	if !s.canModify(rec.ID, user) {
		return Record{}, ErrNotAuthorized
	}
	if err := s.gw.Delete(ctx, rec.ID); err != nil {
		return Record{}, &PersistenceError{Op: "delete", Err: err}
	}
	s.records = slices.Delete(s.records, i, i+1)
	delete(s.owners, rec.ID)
	glog.V(2).Infof("[store] remove id=%d by=%s", rec.ID, user)
	return rec, nil
}

// RemoveAt removes the record at position i of the current ordering.
func (s *Store) RemoveAt(ctx context.Context, i int, user string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i < 0 || i >= len(s.records) {
		return Record{}, ErrNotFound
	}
	return s.removeLocked(ctx, i, user)
}

// RemoveByID removes the record with the given id.
func (s *Store) RemoveByID(ctx context.Context, id int64, user string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return Record{}, ErrNotFound
	}
	return s.removeLocked(ctx, i, user)
}

// RemoveGreater removes every record the caller may modify whose engine
// power is greater than threshold. It returns how many were removed.
func (s *Store) RemoveGreater(ctx context.Context, threshold float32, user string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int64
	for _, r := range s.records {
		if ComparePower(r.EnginePower, &threshold) > 0 && s.canModify(r.ID, user) {
			ids = append(ids, r.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.gw.DeleteMany(ctx, ids); err != nil {
		return 0, &PersistenceError{Op: "delete many", Err: err}
	}
	s.records = slices.DeleteFunc(s.records, func(r Record) bool {
		return slices.Contains(ids, r.ID)
	})
	for _, id := range ids {
		delete(s.owners, id)
	}
	glog.V(2).Infof("[store] remove_greater %g by=%s removed=%d", threshold, user, len(ids))
	return len(ids), nil
}

// Modify applies fn to a copy of the record and persists the result. The
// id and creation time survive whatever fn does.
func (s *Store) Modify(ctx context.Context, id int64, user string, fn func(*Record) error) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return Record{}, ErrNotFound
	}
	if !s.canModify(id, user) {
		return Record{}, ErrNotAuthorized
	}

	old := s.records[i]
	next := old.Clone()
	if err := fn(&next); err != nil {
		return Record{}, err
	}
	next.ID = old.ID
	next.CreatedAt = old.CreatedAt
	if err := next.Validate(); err != nil {
		return Record{}, err
	}
	owner := s.owners[id]
	if err := s.gw.Update(ctx, id, next, owner); err != nil {
		return Record{}, &PersistenceError{Op: "update", Err: err}
	}
	s.records[i] = next
	glog.V(2).Infof("[store] update id=%d by=%s", id, user)
	return next.Clone(), nil
}

// Update replaces the record with rec in place.
func (s *Store) Update(ctx context.Context, id int64, rec Record, user string) (Record, error) {
	return s.Modify(ctx, id, user, func(r *Record) error {
		*r = rec.Clone()
		return nil
	})
}

// Clear removes every record owned by user, or every record for the admin.
// A failed delete keeps that record and moves on to the next one.
func (s *Store) Clear(ctx context.Context, user string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	kept := s.records[:0]
	for _, r := range s.records {
		if !s.canModify(r.ID, user) {
			kept = append(kept, r)
			continue
		}
		if err := s.gw.Delete(ctx, r.ID); err != nil {
			glog.Warningf("[store] clear: delete id=%d: %v", r.ID, err)
			kept = append(kept, r)
			continue
		}
		delete(s.owners, r.ID)
		removed++
	}
	clear(s.records[len(kept):])
	s.records = kept
	glog.V(2).Infof("[store] clear by=%s removed=%d", user, removed)
	return removed, nil
}

// Snapshot returns a point-in-time copy of all records in store order.
func (s *Store) Snapshot() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, len(s.records))
	for i, r := range s.records {
		out[i] = r.Clone()
	}
	return out
}

// Get returns the record with the given id.
func (s *Store) Get(id int64) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexOf(id)
	if i < 0 {
		return Record{}, false
	}
	return s.records[i].Clone(), true
}

// OwnerOf returns the owner of id.
func (s *Store) OwnerOf(id int64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner, ok := s.owners[id]
	return owner, ok
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Info describes the collection.
func (s *Store) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{
		Type:      "[]collection.Record",
		CreatedAt: s.createdAt,
		Size:      len(s.records),
	}
}

// Admin returns the username that bypasses ownership checks.
func (s *Store) Admin() string { return s.admin }
