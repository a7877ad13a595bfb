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
	eventdomain "github.com/smallbiznis/orderhub/internal/eventstore/domain"
	eventrepository "github.com/smallbiznis/orderhub/internal/eventstore/repository"
	eventservice "github.com/smallbiznis/orderhub/internal/eventstore/service"
	"github.com/smallbiznis/orderhub/internal/migration"
	"github.com/smallbiznis/orderhub/internal/product/domain"
	"github.com/smallbiznis/orderhub/internal/product/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (domain.Service, eventdomain.Service) {
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

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	events := eventservice.New(conn, eventrepository.Provide(), zap.NewNop(), clk)
	return New(conn, repository.Provide(), events, node, zap.NewNop(), clk), events
}

func TestCreatePersistsStateAndFactTogether(t *testing.T) {
	svc, events := newTestService(t)
	ctx := context.Background()

	product, err := svc.Create(ctx, domain.CreateProductInput{
		Name:         "Espresso Cup",
		PriceCents:   1250,
		Currency:     "USD",
		InitialStock: 40,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	stored, err := events.ReadAfter(ctx, 0, 10)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("log holds %d events, want 1", len(stored))
	}
	if stored[0].EventType != domain.EventProductCreated || stored[0].AggregateID != product.ID {
		t.Fatalf("logged fact = %+v", stored[0])
	}

	loaded, err := svc.Get(ctx, product.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Slug != "espresso-cup" || loaded.StockOnHand != 40 {
		t.Fatalf("loaded = %+v", loaded)
	}
}

func TestCreateValidationAppendsNothing(t *testing.T) {
	svc, events := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, domain.CreateProductInput{Name: "", PriceCents: 100}); !errors.Is(err, domain.ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}

	head, err := events.Head(ctx)
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head != 0 {
		t.Fatalf("rejected create appended %d events", head)
	}
}

func TestMutationsAppendFactsInOperationOrder(t *testing.T) {
	svc, events := newTestService(t)
	ctx := context.Background()

	product, err := svc.Create(ctx, domain.CreateProductInput{Name: "Mug", PriceCents: 1000, Currency: "USD", InitialStock: 10})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.ChangePrice(ctx, product.ID, 1200); err != nil {
		t.Fatalf("change price: %v", err)
	}
	if _, err := svc.ReserveStock(ctx, product.ID, 3); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	stored, err := events.ReadAfter(ctx, 0, 10)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	want := []string{domain.EventProductCreated, domain.EventProductPriceChanged, domain.EventStockReserved}
	if len(stored) != len(want) {
		t.Fatalf("log holds %d events, want %d", len(stored), len(want))
	}
	for i, eventType := range want {
		if stored[i].EventType != eventType {
			t.Fatalf("log[%d] = %s, want %s", i, stored[i].EventType, eventType)
		}
	}
}

func TestFailedMutationAppendsNothing(t *testing.T) {
	svc, events := newTestService(t)
	ctx := context.Background()

	product, err := svc.Create(ctx, domain.CreateProductInput{Name: "Mug", PriceCents: 1000, Currency: "USD", InitialStock: 2})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.ReserveStock(ctx, product.ID, 5); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	head, err := events.Head(ctx)
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head != 1 {
		t.Fatalf("head = %d, failed reserve must not append", head)
	}

	loaded, err := svc.Get(ctx, product.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.StockReserved != 0 {
		t.Fatalf("reserved = %d after failed reserve", loaded.StockReserved)
	}
}

func TestCommandsStampCausalChain(t *testing.T) {
	svc, events := newTestService(t)
	ctx := context.Background()

	product, err := svc.Create(ctx, domain.CreateProductInput{Name: "Mug", PriceCents: 1000, Currency: "USD", InitialStock: 10})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.ChangePrice(ctx, product.ID, 1200); err != nil {
		t.Fatalf("change price: %v", err)
	}

	stored, err := events.ReadAfter(ctx, 0, 10)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("log holds %d events, want 2", len(stored))
	}
	for i, e := range stored {
		if e.CorrelationID == nil || *e.CorrelationID == "" {
			t.Fatalf("log[%d] stored without a correlation id", i)
		}
	}
	// Each command opens its own chain; the first fact of a command has no cause.
	if *stored[0].CorrelationID == *stored[1].CorrelationID {
		t.Fatalf("separate commands share correlation %s", *stored[0].CorrelationID)
	}
	if stored[0].CausationID != nil || stored[1].CausationID != nil {
		t.Fatalf("single-fact commands carry causation: %+v", stored)
	}
}

func TestGetUnknownProduct(t *testing.T) {
	svc, _ := newTestService(t)
	node, err := snowflake.NewNode(2)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	if _, err := svc.Get(context.Background(), node.Generate()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
