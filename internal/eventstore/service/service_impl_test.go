package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/orderhub/internal/clock"
	"github.com/smallbiznis/orderhub/internal/domainevent"
	"github.com/smallbiznis/orderhub/internal/eventstore/domain"
	"github.com/smallbiznis/orderhub/internal/eventstore/repository"
	"github.com/smallbiznis/orderhub/internal/migration"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := migration.AutoMigrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

func newTestService(t *testing.T) (domain.Service, *gorm.DB, *snowflake.Node) {
	t.Helper()
	conn := openTestDB(t)
	svc := New(conn, repository.Provide(), zap.NewNop(), clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)))
	return svc, conn, mustNode(t)
}

func batchOf(node *snowflake.Node, aggregateID snowflake.ID, types ...string) []domainevent.Event {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	out := make([]domainevent.Event, 0, len(types))
	for i, eventType := range types {
		out = append(out, domainevent.New(node, now, eventType, "order", aggregateID, map[string]any{"step": i}))
	}
	return out
}

func TestAppendAssignsContiguousSequencesInRegistrationOrder(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := context.Background()

	batch := batchOf(node, node.Generate(), "order.placed", "order.paid", "order.cancelled")
	stored, err := svc.Append(ctx, nil, batch)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(stored) != 3 {
		t.Fatalf("stored %d events, want 3", len(stored))
	}
	for i, row := range stored {
		if row.SequenceNumber != int64(i+1) {
			t.Fatalf("event %d got sequence %d, want %d", i, row.SequenceNumber, i+1)
		}
		if row.EventID != batch[i].EventID {
			t.Fatalf("event %d out of registration order", i)
		}
	}

	head, err := svc.Head(ctx)
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head != 3 {
		t.Fatalf("head = %d, want 3", head)
	}
}

func TestAppendDuplicateBatchIsNoOp(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := context.Background()

	batch := batchOf(node, node.Generate(), "order.placed", "order.paid")
	first, err := svc.Append(ctx, nil, batch)
	if err != nil {
		t.Fatalf("first append: %v", err)
	}

	second, err := svc.Append(ctx, nil, batch)
	if err != nil {
		t.Fatalf("duplicate append: %v", err)
	}
	for i := range first {
		if second[i].SequenceNumber != first[i].SequenceNumber {
			t.Fatalf("duplicate append reassigned sequence %d -> %d", first[i].SequenceNumber, second[i].SequenceNumber)
		}
	}

	head, err := svc.Head(ctx)
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head != 2 {
		t.Fatalf("head = %d after duplicate append, want 2", head)
	}
}

func TestAppendPartialDuplicateStoresOnlyNewEvents(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := context.Background()
	aggregateID := node.Generate()

	first := batchOf(node, aggregateID, "order.placed")
	if _, err := svc.Append(ctx, nil, first); err != nil {
		t.Fatalf("first append: %v", err)
	}

	second := append(first, batchOf(node, aggregateID, "order.paid")...)
	stored, err := svc.Append(ctx, nil, second)
	if err != nil {
		t.Fatalf("second append: %v", err)
	}
	if stored[0].SequenceNumber != 1 || stored[1].SequenceNumber != 2 {
		t.Fatalf("sequences = %d,%d, want 1,2", stored[0].SequenceNumber, stored[1].SequenceNumber)
	}
}

func TestAppendSameIDDifferentContentIsDataConflict(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := context.Background()
	aggregateID := node.Generate()

	batch := batchOf(node, aggregateID, "order.placed")
	if _, err := svc.Append(ctx, nil, batch); err != nil {
		t.Fatalf("append: %v", err)
	}

	mutated := batch[0]
	mutated.Payload = map[string]any{"step": 99}
	if _, err := svc.Append(ctx, nil, []domainevent.Event{mutated}); !errors.Is(err, domain.ErrDataConflict) {
		t.Fatalf("expected ErrDataConflict, got %v", err)
	}
}

func TestConcurrentAppendsAssignUniqueSequences(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := context.Background()

	const appenders = 10
	results := make(chan int64, appenders)
	var wg sync.WaitGroup
	for i := 0; i < appenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stored, err := svc.Append(ctx, nil, batchOf(node, node.Generate(), "order.placed"))
			if err != nil {
				t.Errorf("append: %v", err)
				return
			}
			results <- stored[0].SequenceNumber
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool, appenders)
	for sequence := range results {
		if seen[sequence] {
			t.Fatalf("sequence %d assigned twice", sequence)
		}
		seen[sequence] = true
	}
	if len(seen) != appenders {
		t.Fatalf("got %d sequences, want %d", len(seen), appenders)
	}
	for s := int64(1); s <= appenders; s++ {
		if !seen[s] {
			t.Fatalf("sequence %d missing; assignment left a gap", s)
		}
	}
}

func TestReadAfterBounds(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Append(ctx, nil, batchOf(node, node.Generate(), "a", "b", "c", "d", "e")); err != nil {
		t.Fatalf("append: %v", err)
	}

	events, err := svc.ReadAfter(ctx, 2, 2)
	if err != nil {
		t.Fatalf("read after: %v", err)
	}
	if len(events) != 2 || events[0].SequenceNumber != 3 || events[1].SequenceNumber != 4 {
		t.Fatalf("read after returned wrong window: %+v", events)
	}

	empty, err := svc.ReadAfter(ctx, 5, 10)
	if err != nil {
		t.Fatalf("read after head: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty read past head, got %d", len(empty))
	}
}

func TestSnapshotSaveAndReplay(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := context.Background()
	aggregateID := node.Generate()

	if _, err := svc.Append(ctx, nil, batchOf(node, aggregateID, "order.placed", "order.paid")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := svc.Append(ctx, nil, batchOf(node, node.Generate(), "order.placed")); err != nil {
		t.Fatalf("append other aggregate: %v", err)
	}

	if err := svc.SaveSnapshot(ctx, aggregateID, "order", 1, map[string]any{"status": "placed"}); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	// Same point twice: replay reaches the same state, so this is a no-op.
	if err := svc.SaveSnapshot(ctx, aggregateID, "order", 1, map[string]any{"status": "placed"}); err != nil {
		t.Fatalf("duplicate snapshot: %v", err)
	}

	snapshot, err := svc.LatestSnapshot(ctx, aggregateID)
	if err != nil {
		t.Fatalf("latest snapshot: %v", err)
	}
	if snapshot == nil || snapshot.SequenceNumber != 1 {
		t.Fatalf("latest snapshot = %+v", snapshot)
	}

	tail, err := svc.ReplayAggregate(ctx, aggregateID, snapshot.SequenceNumber)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(tail) != 1 || tail[0].SequenceNumber != 2 {
		t.Fatalf("replay tail = %+v", tail)
	}
}
