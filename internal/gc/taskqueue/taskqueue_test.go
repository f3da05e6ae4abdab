package taskqueue

import "testing"

func TestPushPopOwnQueue(t *testing.T) {
	s := NewSet(4)
	s.Owned(0).Push(Task{Addr: 10})
	task, ok := s.PopOrSteal(0)
	if !ok || task.Addr != 10 {
		t.Fatalf("expected to pop own task, got %+v ok=%v", task, ok)
	}
}

func TestStealFromPeerWhenOwnQueueEmpty(t *testing.T) {
	s := NewSet(4)
	s.Owned(2).Push(Task{Addr: 77})
	task, ok := s.PopOrSteal(0)
	if !ok || task.Addr != 77 {
		t.Fatalf("expected to steal peer's task, got %+v ok=%v", task, ok)
	}
}

func TestEmptyReportsTrueWhenAllQueuesDrained(t *testing.T) {
	s := NewSet(3)
	if !s.Empty() {
		t.Fatal("expected fresh queue set to be empty")
	}
	s.Owned(1).Push(Task{Addr: 1})
	if s.Empty() {
		t.Fatal("expected non-empty once a task is pushed")
	}
}

func TestEmptyDoesNotLoseTasks(t *testing.T) {
	s := NewSet(2)
	s.Owned(0).Push(Task{Addr: 5})
	s.Empty()
	task, ok := s.PopOrSteal(0)
	if !ok || task.Addr != 5 {
		t.Fatal("Empty must not drop the task it peeked at")
	}
}
