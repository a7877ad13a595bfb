package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
)

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

func testTime() time.Time {
	return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
}

func refsFor(node *snowflake.Node) (map[snowflake.ID]ProductRef, []snowflake.ID) {
	mug := node.Generate()
	cup := node.Generate()
	refs := map[snowflake.ID]ProductRef{
		mug: {ProductID: mug, Name: "Mug", PriceCents: 1000, Currency: "USD", Available: 10},
		cup: {ProductID: cup, Name: "Cup", PriceCents: 250, Currency: "USD", Available: 10},
	}
	return refs, []snowflake.ID{mug, cup}
}

func TestPlaceNewPricesAgainstLocalRefs(t *testing.T) {
	node := mustNode(t)
	refs, ids := refsFor(node)

	order, err := PlaceNew(node, testTime(), "cust-1", []ItemRequest{
		{ProductID: ids[0], Quantity: 2},
		{ProductID: ids[1], Quantity: 4},
	}, refs)
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	if order.TotalCents != 2*1000+4*250 {
		t.Fatalf("total = %d", order.TotalCents)
	}
	if order.Status != StatusPlaced || order.Currency != "USD" {
		t.Fatalf("order = %+v", order)
	}

	facts := order.PendingEvents()
	if len(facts) != 1 || facts[0].EventType != EventOrderPlaced {
		t.Fatalf("facts = %+v", facts)
	}
	if facts[0].Payload["total_cents"] != order.TotalCents {
		t.Fatalf("payload = %+v", facts[0].Payload)
	}
}

func TestPlaceNewValidations(t *testing.T) {
	node := mustNode(t)
	refs, ids := refsFor(node)

	if _, err := PlaceNew(node, testTime(), "", []ItemRequest{{ProductID: ids[0], Quantity: 1}}, refs); !errors.Is(err, ErrInvalidCustomer) {
		t.Fatalf("no customer: got %v", err)
	}
	if _, err := PlaceNew(node, testTime(), "cust-1", nil, refs); !errors.Is(err, ErrEmptyOrder) {
		t.Fatalf("empty order: got %v", err)
	}
	if _, err := PlaceNew(node, testTime(), "cust-1", []ItemRequest{{ProductID: ids[0], Quantity: 0}}, refs); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("zero quantity: got %v", err)
	}
	if _, err := PlaceNew(node, testTime(), "cust-1", []ItemRequest{{ProductID: node.Generate(), Quantity: 1}}, refs); !errors.Is(err, ErrUnknownProduct) {
		t.Fatalf("unknown product: got %v", err)
	}

	mixed := map[snowflake.ID]ProductRef{}
	for id, ref := range refs {
		mixed[id] = ref
	}
	eur := node.Generate()
	mixed[eur] = ProductRef{ProductID: eur, Name: "Euro Mug", PriceCents: 900, Currency: "EUR"}
	if _, err := PlaceNew(node, testTime(), "cust-1", []ItemRequest{
		{ProductID: ids[0], Quantity: 1},
		{ProductID: eur, Quantity: 1},
	}, mixed); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("mixed currency: got %v", err)
	}
}

func TestOrderTransitions(t *testing.T) {
	node := mustNode(t)
	refs, ids := refsFor(node)

	order, err := PlaceNew(node, testTime(), "cust-1", []ItemRequest{{ProductID: ids[0], Quantity: 1}}, refs)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	order.PendingEvents()

	if err := order.MarkPaid(node, testTime()); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if order.Status != StatusPaid || order.PaidAt == nil {
		t.Fatalf("order after pay = %+v", order)
	}
	if err := order.MarkPaid(node, testTime()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("double pay: got %v", err)
	}
	if err := order.Cancel(node, testTime()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancel after pay: got %v", err)
	}

	facts := order.PendingEvents()
	if len(facts) != 1 || facts[0].EventType != EventOrderPaid {
		t.Fatalf("facts = %+v", facts)
	}
}

func TestCancelFromPlaced(t *testing.T) {
	node := mustNode(t)
	refs, ids := refsFor(node)

	order, err := PlaceNew(node, testTime(), "cust-1", []ItemRequest{{ProductID: ids[0], Quantity: 1}}, refs)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	order.PendingEvents()

	if err := order.Cancel(node, testTime()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if order.Status != StatusCancelled {
		t.Fatalf("status = %s", order.Status)
	}
	facts := order.PendingEvents()
	if len(facts) != 1 || facts[0].EventType != EventOrderCancelled {
		t.Fatalf("facts = %+v", facts)
	}
}

func TestRehydrateSkipsPlacementInvariants(t *testing.T) {
	node := mustNode(t)

	order := Rehydrate(Order{
		ID:         node.Generate(),
		CustomerID: "",
		Status:     StatusPaid,
		TotalCents: 0,
	})
	if facts := order.PendingEvents(); len(facts) != 0 {
		t.Fatalf("rehydrate recorded %d facts", len(facts))
	}
	if err := order.MarkPaid(node, testTime()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pay on rehydrated paid order: got %v", err)
	}
}
