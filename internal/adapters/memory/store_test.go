package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-booking/internal/adapters/memory"
	"github.com/robertarktes/seat-booking/internal/store"
)

func insert(t *testing.T, st *memory.Store, types ...string) {
	t.Helper()
	err := st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		for _, et := range types {
			if err := tx.InsertOutbox(ctx, store.OutboxRecord{AggregateID: "SB-1", EventType: et}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func pending(t *testing.T, st *memory.Store) []store.OutboxRecord {
	t.Helper()
	var records []store.OutboxRecord
	err := st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		records, err = tx.FetchOutbox(ctx, 0)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	return records
}

func TestOutbox_PublishedRecordsAreRemoved(t *testing.T) {
	st := memory.NewStore()
	insert(t, st, "order.created", "order.paid")

	records := pending(t, st)
	if len(records) != 2 {
		t.Fatalf("expected 2 pending records, got %d", len(records))
	}
	err := st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.MarkPublished(ctx, records[0].ID, time.Now())
	})
	if err != nil {
		t.Fatal(err)
	}

	left := pending(t, st)
	if len(left) != 1 || left[0].EventType != "order.paid" || left[0].Status != "NEW" {
		t.Errorf("expected only order.paid left, got %+v", left)
	}
	err = st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.MarkPublished(ctx, records[0].ID, time.Now())
	})
	if err == nil {
		t.Error("published record should be gone")
	}
}

func TestOutbox_LimitDropsOldest(t *testing.T) {
	st := memory.NewStore(memory.WithOutboxLimit(2))
	insert(t, st, "e1", "e2")
	insert(t, st, "e3")

	left := pending(t, st)
	if len(left) != 2 || left[0].EventType != "e2" || left[1].EventType != "e3" {
		t.Errorf("expected e2 and e3, got %+v", left)
	}
}

func TestWithTx_RollbackKeepsOutbox(t *testing.T) {
	st := memory.NewStore()
	insert(t, st, "e1")

	boom := errors.New("boom")
	err := st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertOutbox(ctx, store.OutboxRecord{EventType: "e2"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected rollback error, got %v", err)
	}
	if left := pending(t, st); len(left) != 1 || left[0].EventType != "e1" {
		t.Errorf("rolled back insert is visible: %+v", left)
	}
}
