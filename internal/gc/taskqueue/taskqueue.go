// Package taskqueue implements the per-worker mark/evacuation task
// queues with work stealing. Each worker owns one queue and
// pushes/pops from it locally; idle workers steal from a peer's queue
// when their own runs dry.
package taskqueue

import (
	"github.com/lumenvm/lumengc/internal/runtime/concurrency"
)

// Task is an opaque unit of mark/evacuation work: an address to visit
// plus the region it was discovered in, mirroring how the remembered-set
// scanner and root visitors hand off work.
type Task struct {
	Addr   uintptr
	Region int32
}

const defaultCapacity = 4096

// Queue is one worker's task queue. It reuses the generic MPMC ring
// buffer from the runtime concurrency package: every queue owner both
// pushes its own discovered work and is a valid steal target for every
// other worker, so the same lock-free multi-producer multi-consumer
// structure already in the pack serves both roles without a bespoke
// Chase-Lev deque implementation.
type Queue struct {
	ring *concurrency.MPMCQueue[Task]
}

func newQueue() *Queue {
	return &Queue{ring: concurrency.NewMPMCQueue[Task](defaultCapacity)}
}

// Push enqueues a task discovered by this queue's owning worker.
func (q *Queue) Push(t Task) bool { return q.ring.Enqueue(t) }

// Pop claims a task; a worker calls this on its own queue first.
func (q *Queue) Pop() (Task, bool) {
	var t Task
	ok := q.ring.Dequeue(&t)
	return t, ok
}

// Set is the collection of per-worker queues shared across a phase.
// Workers round-robin over peers when their own queue is empty, which
// is the steal policy.
type Set struct {
	queues []*Queue
}

func NewSet(nWorkers int) *Set {
	if nWorkers < 1 {
		nWorkers = 1
	}
	s := &Set{queues: make([]*Queue, nWorkers)}
	for i := range s.queues {
		s.queues[i] = newQueue()
	}
	return s
}

func (s *Set) Len() int { return len(s.queues) }

// Owned returns the queue a worker with the given index should push
// its own discovered tasks into.
func (s *Set) Owned(worker int) *Queue { return s.queues[worker%len(s.queues)] }

// Steal attempts to pop a task from any queue other than the
// requester's own, starting immediately after it and wrapping around
// once. This is the classic round-robin steal policy: cheap to
// implement on top of an MPMC ring (any worker may dequeue from any
// queue) without needing deque-specific steal semantics.
func (s *Set) Steal(worker int) (Task, bool) {
	n := len(s.queues)
	for i := 1; i < n; i++ {
		idx := (worker + i) % n
		if t, ok := s.queues[idx].Pop(); ok {
			return t, true
		}
	}
	return Task{}, false
}

// PopOrSteal is the main work-loop helper: try the worker's own queue
// first, then fall back to stealing from peers.
func (s *Set) PopOrSteal(worker int) (Task, bool) {
	if t, ok := s.Owned(worker).Pop(); ok {
		return t, true
	}
	return s.Steal(worker)
}

// Empty reports whether every queue in the set is currently drained,
// used to decide when a mark phase has genuinely run out of work:
// workers drain queues until empty or cancelled.
func (s *Set) Empty() bool {
	for w := range s.queues {
		if t, ok := s.queues[w].Pop(); ok {
			// Put it back; this check is necessarily racy against
			// concurrent producers and is only ever used as a hint
			// before a stronger handshake-based quiescence check.
			s.queues[w].Push(t)
			return false
		}
	}
	return true
}
