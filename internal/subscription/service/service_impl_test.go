package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/orderhub/internal/clock"
	"github.com/smallbiznis/orderhub/internal/migration"
	"github.com/smallbiznis/orderhub/internal/subscription/domain"
	"github.com/smallbiznis/orderhub/internal/subscription/repository"
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

func newTestService(t *testing.T) (domain.Service, *clock.FakeClock) {
	t.Helper()
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	return New(openTestDB(t), repository.Provide(), zap.NewNop(), clk), clk
}

func mustEventID(t *testing.T) snowflake.ID {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node.Generate()
}

func TestRegisterIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Register(ctx, "reporting-rollup")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if first.LastProcessedSequence != 0 {
		t.Fatalf("fresh cursor = %d, want 0", first.LastProcessedSequence)
	}

	if err := svc.Advance(ctx, nil, "reporting-rollup", 7); err != nil {
		t.Fatalf("advance: %v", err)
	}

	again, err := svc.Register(ctx, "reporting-rollup")
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if again.LastProcessedSequence != 7 {
		t.Fatalf("re-register reset cursor to %d", again.LastProcessedSequence)
	}
}

func TestRegisterRejectsEmptyName(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Register(context.Background(), "  "); !errors.Is(err, domain.ErrInvalidSubscriber) {
		t.Fatalf("expected ErrInvalidSubscriber, got %v", err)
	}
}

func TestAdvanceIsStrictlyMonotonic(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "projector"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := svc.Advance(ctx, nil, "projector", 3); err != nil {
		t.Fatalf("advance to 3: %v", err)
	}
	if err := svc.Advance(ctx, nil, "projector", 3); !errors.Is(err, domain.ErrStaleAdvance) {
		t.Fatalf("equal advance: expected ErrStaleAdvance, got %v", err)
	}
	if err := svc.Advance(ctx, nil, "projector", 2); !errors.Is(err, domain.ErrStaleAdvance) {
		t.Fatalf("backward advance: expected ErrStaleAdvance, got %v", err)
	}
	if err := svc.Advance(ctx, nil, "projector", 5); err != nil {
		t.Fatalf("advance to 5: %v", err)
	}

	cursor, err := svc.CursorOf(ctx, "projector")
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if cursor != 5 {
		t.Fatalf("cursor = %d, want 5", cursor)
	}
}

func TestAdvanceUnknownSubscriber(t *testing.T) {
	svc, _ := newTestService(t)
	if err := svc.Advance(context.Background(), nil, "ghost", 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkProcessedSettlesLedgerAndAdvancesAtomically(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	eventID := mustEventID(t)

	if _, err := svc.Register(ctx, "projector"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := svc.MarkProcessed(ctx, "projector", eventID, 4); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	cursor, err := svc.CursorOf(ctx, "projector")
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if cursor != 4 {
		t.Fatalf("cursor = %d, want 4", cursor)
	}

	settled, err := svc.SettledEntries(ctx, "projector", []snowflake.ID{eventID})
	if err != nil {
		t.Fatalf("settled entries: %v", err)
	}
	entry, ok := settled[eventID]
	if !ok {
		t.Fatal("processed event missing from settled set")
	}
	if entry.Status != domain.ProcessingStatusProcessed {
		t.Fatalf("status = %s", entry.Status)
	}
}

func TestMarkProcessedStaleCursorRollsBackLedgerRow(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	eventID := mustEventID(t)

	if _, err := svc.Register(ctx, "projector"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := svc.Advance(ctx, nil, "projector", 10); err != nil {
		t.Fatalf("advance: %v", err)
	}

	if err := svc.MarkProcessed(ctx, "projector", eventID, 4); !errors.Is(err, domain.ErrStaleAdvance) {
		t.Fatalf("expected ErrStaleAdvance, got %v", err)
	}

	settled, err := svc.SettledEntries(ctx, "projector", []snowflake.ID{eventID})
	if err != nil {
		t.Fatalf("settled entries: %v", err)
	}
	if len(settled) != 0 {
		t.Fatal("ledger row survived a rolled-back settle")
	}
}

func TestRecordFailureCountsAttempts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	eventID := mustEventID(t)

	if _, err := svc.Register(ctx, "rollup"); err != nil {
		t.Fatalf("register: %v", err)
	}

	attempts, err := svc.RecordFailure(ctx, "rollup", eventID, errors.New("boom"))
	if err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}

	attempts, err = svc.RecordFailure(ctx, "rollup", eventID, errors.New("boom again"))
	if err != nil {
		t.Fatalf("second failure: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}

	// A failed row is an annotation, not consumption.
	settled, err := svc.SettledEntries(ctx, "rollup", []snowflake.ID{eventID})
	if err != nil {
		t.Fatalf("settled entries: %v", err)
	}
	if len(settled) != 0 {
		t.Fatal("failed entry counted as settled")
	}

	// Retry succeeds: the same row flips to processed.
	if err := svc.MarkProcessed(ctx, "rollup", eventID, 1); err != nil {
		t.Fatalf("mark processed after failures: %v", err)
	}
	settled, err = svc.SettledEntries(ctx, "rollup", []snowflake.ID{eventID})
	if err != nil {
		t.Fatalf("settled entries: %v", err)
	}
	if settled[eventID].Status != domain.ProcessingStatusProcessed {
		t.Fatalf("status = %s after retry", settled[eventID].Status)
	}
}

func TestMarkDeadLetterConsumesEvent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	eventID := mustEventID(t)

	if _, err := svc.Register(ctx, "rollup"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.RecordFailure(ctx, "rollup", eventID, errors.New("poison")); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if err := svc.MarkDeadLetter(ctx, "rollup", eventID, 3); err != nil {
		t.Fatalf("mark dead letter: %v", err)
	}

	cursor, err := svc.CursorOf(ctx, "rollup")
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if cursor != 3 {
		t.Fatalf("cursor = %d, want 3", cursor)
	}

	settled, err := svc.SettledEntries(ctx, "rollup", []snowflake.ID{eventID})
	if err != nil {
		t.Fatalf("settled entries: %v", err)
	}
	if settled[eventID].Status != domain.ProcessingStatusDeadLetter {
		t.Fatalf("status = %s, want dead_letter", settled[eventID].Status)
	}
}

func TestListReportsAllSubscribers(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, name := range []string{"projector", "rollup"} {
		if _, err := svc.Register(ctx, name); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	subs, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("listed %d subscribers, want 2", len(subs))
	}
}
