package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"tutorledger/internal/amqp"
	"tutorledger/internal/core"
	"tutorledger/internal/storage/memory"
)

var errStore = errors.New("store unavailable")

// faultyStore wraps the memory store and fails selected operations.
type faultyStore struct {
	*memory.Store
	failList, failCreateArchive, failDelete, failFind bool
	createCalls, deleteCalls                           int
}

func (f *faultyStore) ListRecords(ctx context.Context, userID string) ([]core.Record, error) {
	if f.failList {
		return nil, errStore
	}
	return f.Store.ListRecords(ctx, userID)
}

func (f *faultyStore) FindArchive(ctx context.Context, userID string, key core.MonthKey) (core.Archive, bool, error) {
	if f.failFind {
		return core.Archive{}, false, errStore
	}
	return f.Store.FindArchive(ctx, userID, key)
}

func (f *faultyStore) CreateArchive(ctx context.Context, a core.Archive) (core.Archive, error) {
	f.createCalls++
	if f.failCreateArchive {
		return core.Archive{}, errStore
	}
	return f.Store.CreateArchive(ctx, a)
}

func (f *faultyStore) DeleteRecords(ctx context.Context, userID string, ids []string) (int64, error) {
	f.deleteCalls++
	if f.failDelete {
		return 0, errStore
	}
	return f.Store.DeleteRecords(ctx, userID, ids)
}

func (f *faultyStore) DeleteAllRecords(ctx context.Context, userID string) (int64, error) {
	f.deleteCalls++
	if f.failDelete {
		return 0, errStore
	}
	return f.Store.DeleteAllRecords(ctx, userID)
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*amqp.ArchiveEventMessage
	err  error
}

func (p *recordingPublisher) PublishArchiveEvent(_ context.Context, msg *amqp.ArchiveEventMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return p.err
}

func seed(t *testing.T, s *memory.Store, user string, d core.Date, students int, price int64) core.Record {
	t.Helper()
	r, err := core.NewRecord(user, core.RecordInput{Date: d, StudentsCount: students, PricePerStudent: core.Money{Cents: price}})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	r, err = s.CreateRecord(context.Background(), r)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return r
}
