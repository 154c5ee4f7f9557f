package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/evolu-go/core/internal/history"
	"github.com/evolu-go/core/internal/owner"
	"github.com/evolu-go/core/pkg/evolu"
)

func newTestWorker(t *testing.T) (*Worker, *owner.Owner) {
	t.Helper()
	mnemonic, err := owner.GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic: %v", err)
	}
	o, err := owner.New(mnemonic)
	if err != nil {
		t.Fatalf("owner.New: %v", err)
	}
	store, err := history.Open(":memory:")
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	w, err := New(store, o, nil)
	if err != nil {
		t.Fatalf("worker.New: %v", err)
	}
	return w, o
}

func TestMutateCommitsAndMaterializes(t *testing.T) {
	w, _ := newTestWorker(t)
	ctx := context.Background()

	muts := []evolu.Mutation{{
		Table: "todo",
		RowID: "row-1",
		Columns: evolu.ColumnSet{
			"title": evolu.TextScalar("buy milk"),
		},
	}}

	results, err := w.Mutate(ctx, muts)
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if len(results) != 1 || !results[0].OK {
		t.Fatalf("expected one ok result, got %+v", results)
	}

	row, err := w.Query(ctx, "todo", "row-1")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !row["title"].Equal(evolu.TextScalar("buy milk")) {
		t.Fatalf("expected materialized title, got %+v", row)
	}
}

func TestMutateRejectsWholeBatchOnOneInvalidMutation(t *testing.T) {
	w, _ := newTestWorker(t)
	ctx := context.Background()

	muts := []evolu.Mutation{
		{Table: "todo", RowID: "row-1", Columns: evolu.ColumnSet{"title": evolu.TextScalar("ok")}},
		{Table: "todo", RowID: "row-2", Columns: evolu.ColumnSet{"created_at": evolu.IntScalar(1)}},
	}

	if _, err := w.Mutate(ctx, muts); !errors.Is(err, evolu.ErrTypeValidation) {
		t.Fatalf("expected ErrTypeValidation, got %v", err)
	}

	row, err := w.Query(ctx, "todo", "row-1")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if row != nil {
		t.Fatalf("expected row-1 to be absent since the batch must be all-or-nothing, got %+v", row)
	}
}

func TestMutateAdvancesTimestampsMonotonically(t *testing.T) {
	w, _ := newTestWorker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		muts := []evolu.Mutation{{
			Table:   "todo",
			RowID:   "row-1",
			Columns: evolu.ColumnSet{"title": evolu.TextScalar("v")},
		}}
		if _, err := w.Mutate(ctx, muts); err != nil {
			t.Fatalf("Mutate %d: %v", i, err)
		}
	}
	if w.lastTS.Counter == 0 && w.lastTS.Millis == 0 {
		t.Fatalf("expected lastTS to have advanced past the initial timestamp")
	}
}

func TestSubscribeRecomputesOnTouchedTable(t *testing.T) {
	w, _ := newTestWorker(t)
	ctx := context.Background()

	results := make(chan any, 4)
	w.OnQueryResult(func(queryID string, result any, err error) {
		if err != nil {
			t.Errorf("query %s: %v", queryID, err)
			return
		}
		results <- result
	})
	w.Subscribe(ctx, Query{
		ID:     "q1",
		Tables: []string{"todo"},
		Run: func(ctx context.Context) (any, error) {
			return w.Query(ctx, "todo", "row-1")
		},
	})
	<-results // drain the initial Subscribe-time recomputation (empty row)

	muts := []evolu.Mutation{{
		Table:   "todo",
		RowID:   "row-1",
		Columns: evolu.ColumnSet{"title": evolu.TextScalar("buy milk")},
	}}
	if _, err := w.Mutate(ctx, muts); err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	select {
	case r := <-results:
		row, ok := r.(evolu.Row)
		if !ok || !row["title"].Equal(evolu.TextScalar("buy milk")) {
			t.Fatalf("expected recomputed row reflecting the mutation, got %+v", r)
		}
	default:
		t.Fatalf("expected a query recomputation after a committed mutation to the subscribed table")
	}
}

func TestResetErasesDataButKeepsIdentity(t *testing.T) {
	w, o := newTestWorker(t)
	ctx := context.Background()

	muts := []evolu.Mutation{{
		Table:   "todo",
		RowID:   "row-1",
		Columns: evolu.ColumnSet{"title": evolu.TextScalar("buy milk")},
	}}
	if _, err := w.Mutate(ctx, muts); err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	var notified *owner.Owner
	w.SubscribeOwner(func(o *owner.Owner) { notified = o })

	if err := w.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	row, err := w.Query(ctx, "todo", "row-1")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if row != nil {
		t.Fatalf("expected row to be erased after Reset, got %+v", row)
	}
	if notified == nil || notified.ID != o.ID {
		t.Fatalf("expected owner-change subscriber to be notified with the same owner id")
	}
}
