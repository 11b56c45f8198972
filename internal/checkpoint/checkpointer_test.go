package checkpoint

import (
	"context"
	"testing"
)

func newTestCheckpointer(t *testing.T) *Checkpointer {
	t.Helper()
	backend, err := OpenSQLite("")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { backend.Close() })

	cp, err := New(context.Background(), backend)
	if err != nil {
		t.Fatalf("new checkpointer: %v", err)
	}
	return cp
}

func TestCheckpointer_PutAndGetTuple(t *testing.T) {
	cp := newTestCheckpointer(t)
	ctx := context.Background()

	cp1 := Checkpoint{ThreadID: "t1", Namespace: "default", ID: "c1", State: []byte(`{"x":1}`), Metadata: []byte("{}")}
	if err := cp.Put(ctx, cp1); err != nil {
		t.Fatalf("put: %v", err)
	}

	tuple, err := cp.GetTuple(ctx, "t1", "default", "c1")
	if err != nil {
		t.Fatalf("get tuple: %v", err)
	}
	if tuple == nil {
		t.Fatalf("expected a tuple, got nil")
	}
	if string(tuple.Checkpoint.State) != `{"x":1}` {
		t.Errorf("unexpected state: %s", tuple.Checkpoint.State)
	}
}

func TestCheckpointer_GetTupleMostRecentWhenIDEmpty(t *testing.T) {
	cp := newTestCheckpointer(t)
	ctx := context.Background()

	if err := cp.Put(ctx, Checkpoint{ThreadID: "t1", Namespace: "default", ID: "c1", State: []byte(`{"n":1}`), Metadata: []byte("{}")}); err != nil {
		t.Fatalf("put c1: %v", err)
	}
	if err := cp.Put(ctx, Checkpoint{ThreadID: "t1", Namespace: "default", ID: "c2", ParentID: "c1", State: []byte(`{"n":2}`), Metadata: []byte("{}")}); err != nil {
		t.Fatalf("put c2: %v", err)
	}

	tuple, err := cp.GetTuple(ctx, "t1", "default", "")
	if err != nil {
		t.Fatalf("get tuple: %v", err)
	}
	if tuple == nil || tuple.Checkpoint.ID != "c2" {
		t.Fatalf("expected the most recent checkpoint c2, got %+v", tuple)
	}
}

func TestCheckpointer_GetTupleMissingReturnsNil(t *testing.T) {
	cp := newTestCheckpointer(t)
	tuple, err := cp.GetTuple(context.Background(), "no-such-thread", "default", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tuple != nil {
		t.Fatalf("expected nil tuple for a missing thread, got %+v", tuple)
	}
}

func TestCheckpointer_List(t *testing.T) {
	cp := newTestCheckpointer(t)
	ctx := context.Background()

	for i, id := range []string{"c1", "c2", "c3"} {
		_ = i
		if err := cp.Put(ctx, Checkpoint{ThreadID: "t1", Namespace: "default", ID: id, State: []byte("{}"), Metadata: []byte("{}")}); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}

	list, err := cp.List(ctx, "t1", "default", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 checkpoints, got %d", len(list))
	}
}

func TestCheckpointer_PutWritesAndListWrites(t *testing.T) {
	cp := newTestCheckpointer(t)
	ctx := context.Background()

	if err := cp.Put(ctx, Checkpoint{ThreadID: "t1", Namespace: "default", ID: "c1", State: []byte("{}"), Metadata: []byte("{}")}); err != nil {
		t.Fatalf("put: %v", err)
	}
	writes := []PendingWrite{
		{TaskID: "task-1", Index: 0, Channel: "messages", Value: []byte(`{"role":"assistant"}`)},
	}
	if err := cp.PutWrites(ctx, "t1", "default", "c1", writes); err != nil {
		t.Fatalf("put writes: %v", err)
	}

	tuple, err := cp.GetTuple(ctx, "t1", "default", "c1")
	if err != nil {
		t.Fatalf("get tuple: %v", err)
	}
	if len(tuple.PendingWrites) != 1 {
		t.Fatalf("expected 1 pending write, got %d", len(tuple.PendingWrites))
	}
	if tuple.PendingWrites[0].Channel != "messages" {
		t.Errorf("unexpected channel: %s", tuple.PendingWrites[0].Channel)
	}
}

func TestCheckpointer_DeleteThread(t *testing.T) {
	cp := newTestCheckpointer(t)
	ctx := context.Background()

	if err := cp.Put(ctx, Checkpoint{ThreadID: "t1", Namespace: "default", ID: "c1", State: []byte("{}"), Metadata: []byte("{}")}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := cp.DeleteThread(ctx, "t1"); err != nil {
		t.Fatalf("delete thread: %v", err)
	}

	tuple, err := cp.GetTuple(ctx, "t1", "default", "c1")
	if err != nil {
		t.Fatalf("get tuple: %v", err)
	}
	if tuple != nil {
		t.Fatalf("expected no checkpoint after deleting the thread, got %+v", tuple)
	}
}
