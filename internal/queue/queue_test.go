package queue_test

import (
	"testing"

	"github.com/primal-host/relaybridge/internal/queue"
)

func TestEnqueueReadNextTransition(t *testing.T) {
	q, err := queue.Open(t.TempDir(), queue.PostStatuses)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	name := queue.HashedName("mybot|at://did:plc:abc/app.bsky.feed.post/3kqw")
	if err := q.Enqueue(queue.StatusPayload, name, []byte(`{"v":1}`)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got, content, ok, err := q.ReadNext(queue.StatusPayload)
	if err != nil {
		t.Fatalf("ReadNext: %v", err)
	}
	if !ok || got != name || string(content) != `{"v":1}` {
		t.Fatalf("ReadNext returned unexpected result: ok=%v name=%q content=%q", ok, got, content)
	}

	if err := q.Transition(queue.StatusPayload, queue.StatusTx, name, []byte(`{"v":2}`)); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	status, ok := q.Status(name)
	if !ok || status != queue.StatusTx {
		t.Fatalf("expected item in status tx, got %q (ok=%v)", status, ok)
	}

	_, content, _, err = q.ReadNext(queue.StatusTx)
	if err != nil {
		t.Fatalf("ReadNext after transition: %v", err)
	}
	if string(content) != `{"v":2}` {
		t.Fatalf("expected rewritten content, got %q", content)
	}
}

func TestEnqueueRejectsDuplicateAcrossStatuses(t *testing.T) {
	q, err := queue.Open(t.TempDir(), queue.PostStatuses)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	name := queue.HashedName("dup-key")
	if err := q.Enqueue(queue.StatusPayload, name, []byte("{}")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Transition(queue.StatusPayload, queue.StatusTx, name, nil); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := q.Enqueue(queue.StatusPayload, name, []byte("{}")); err == nil {
		t.Fatalf("expected Enqueue to reject a name already present under another status")
	}
}

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	q, err := queue.Open(t.TempDir(), queue.PostStatuses)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	name := queue.HashedName("illegal-edge")
	if err := q.Enqueue(queue.StatusPayload, name, []byte("{}")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	// payload -> completed is not a declared transition.
	if err := q.Transition(queue.StatusPayload, queue.StatusCompleted, name, nil); err == nil {
		t.Fatalf("expected ErrIllegalTransition for payload -> completed")
	}
}

func TestTransitionRejectsMissingItem(t *testing.T) {
	q, err := queue.Open(t.TempDir(), queue.PostStatuses)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := q.Transition(queue.StatusPayload, queue.StatusTx, "nonexistent.json", nil); err == nil {
		t.Fatalf("expected ErrNotFound for a nonexistent item")
	}
}

func TestReadNextEmptyStatus(t *testing.T) {
	q, err := queue.Open(t.TempDir(), queue.PostStatuses)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, _, ok, err := q.ReadNext(queue.StatusPayload)
	if err != nil {
		t.Fatalf("ReadNext: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for an empty status directory")
	}
}
