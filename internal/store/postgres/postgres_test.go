package postgres

import (
	"context"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/brokergw/internal/domain"
)

func TestAuditListQuery(t *testing.T) {
	since := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		opts      domain.ListOpts
		wantQuery string
		wantArgs  []any
	}{
		{
			name:      "defaults",
			wantQuery: "SELECT id, event, detail, created_at FROM audit_log WHERE 1=1 ORDER BY created_at DESC, id DESC LIMIT $1",
			wantArgs:  []any{defaultAuditLimit},
		},
		{
			name:      "event and since",
			opts:      domain.ListOpts{Event: "order_status_changed", Since: &since, Limit: 5, Offset: 10},
			wantQuery: "SELECT id, event, detail, created_at FROM audit_log WHERE 1=1 AND event = $1 AND created_at >= $2 ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4",
			wantArgs:  []any{"order_status_changed", since, 5, 10},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, args := auditListQuery(tt.opts)
			if q != tt.wantQuery {
				t.Errorf("query = %q, want %q", q, tt.wantQuery)
			}
			if !reflect.DeepEqual(args, tt.wantArgs) {
				t.Errorf("args = %v, want %v", args, tt.wantArgs)
			}
		})
	}
}

func testClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("BROKERGW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("BROKERGW_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{DSN: dsn})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(c.Close)
	if err := c.RunMigrations(ctx); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	// A second run must be a no-op.
	if err := c.RunMigrations(ctx); err != nil {
		t.Fatalf("RunMigrations() again error = %v", err)
	}
	return c
}

func TestExecutionStore_IdempotentAppend(t *testing.T) {
	c := testClient(t)
	store := NewExecutionStore(c.Pool())
	ctx := context.Background()
	session := uuid.NewString()

	at := time.Now().UTC().Truncate(time.Millisecond)
	execs := []domain.Execution{
		{ExecID: "e1", BrokerID: 11, LocalID: 1, Symbol: "USDJPY", SecurityType: domain.SecurityTypeForex,
			Side: domain.OrderSideBuy, Quantity: decimal.NewFromInt(60), Price: decimal.RequireFromString("152.25"), Currency: "USD", Time: at},
		{ExecID: "e2", BrokerID: 11, LocalID: 1, Symbol: "USDJPY", SecurityType: domain.SecurityTypeForex,
			Side: domain.OrderSideBuy, Quantity: decimal.NewFromInt(40), Price: decimal.RequireFromString("152.5"), Currency: "USD", Time: at.Add(time.Second)},
	}
	if err := store.AppendBatch(ctx, session, execs); err != nil {
		t.Fatalf("AppendBatch() error = %v", err)
	}
	if err := store.Append(ctx, session, execs[0]); err != nil {
		t.Fatalf("Append() duplicate error = %v", err)
	}

	got, err := store.ListSession(ctx, session)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("ListSession() = %d executions, want 2", len(got))
	}
	if !got[0].Price.Equal(execs[0].Price) || got[1].ExecID != "e2" || got[1].Side != domain.OrderSideBuy {
		t.Errorf("ListSession() = %+v", got)
	}
}

func TestAuditStore_LogAndList(t *testing.T) {
	c := testClient(t)
	store := NewAuditStore(c.Pool())
	ctx := context.Background()
	event := "test_" + uuid.NewString()

	if err := store.Log(ctx, event, map[string]any{"local_id": 7}); err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	entries, err := store.List(ctx, domain.ListOpts{Event: event})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Detail["local_id"] != float64(7) {
		t.Errorf("List() = %+v", entries)
	}
}
