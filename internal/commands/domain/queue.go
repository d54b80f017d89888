package commands

import (
	"strconv"
	"sync"
	"time"
)

// Queue is the ordered command backlog for a single terminal. Ids are minted
// from a monotonic sequence that is never rewound, so an id is never reused
// within a queue's lifetime, even after acked commands are evicted by Cleanup.
type Queue struct {
	mu       sync.Mutex
	commands []*Command
	sequence uint64
	now      func() time.Time
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{now: time.Now}
}

// SetClock replaces the timestamp source. Callers that sweep on a synthetic
// clock must install the same source here, or SentAt and the sweep cutoff
// drift apart.
func (q *Queue) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

func (q *Queue) timestamp() time.Time {
	if q.now == nil {
		return time.Now().UTC()
	}
	return q.now().UTC()
}

// Enqueue creates a pending command with the next sequence id and appends it.
func (q *Queue) Enqueue(text string) Command {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.sequence++
	cmd := &Command{
		ID:       strconv.FormatUint(q.sequence, 10),
		Text:     text,
		Status:   StatusPending,
		QueuedAt: q.timestamp(),
	}
	q.commands = append(q.commands, cmd)
	return *cmd
}

// DrainPending returns all pending commands in enqueue order and transitions
// each to sent. Delivery is inferred from the device picking up the poll
// response, so the transition is optimistic: a second drain with nothing new
// queued returns an empty slice.
func (q *Queue) DrainPending() []Command {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.timestamp()
	var drained []Command
	for _, cmd := range q.commands {
		if cmd.Status != StatusPending {
			continue
		}
		cmd.Status = StatusSent
		cmd.SentAt = now
		drained = append(drained, *cmd)
	}
	return drained
}

// Acknowledge resolves a device-reported completion against a sent command.
// An ack for a command that is still pending, already acked, or unknown is
// rejected without mutating anything; the boolean alone cannot distinguish
// those cases, callers needing the distinction must inspect All.
func (q *Queue) Acknowledge(id string, returnCode int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, cmd := range q.commands {
		if cmd.ID != id || cmd.Status != StatusSent {
			continue
		}
		cmd.Status = StatusAcked
		cmd.AckAt = q.timestamp()
		code := returnCode
		cmd.ReturnCode = &code
		return true
	}
	return false
}

// MarkFailed transitions a sent command to failed. Used by the optional
// delivery-timeout sweep; acks for a failed command are rejected like any
// other non-sent command.
func (q *Queue) MarkFailed(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, cmd := range q.commands {
		if cmd.ID != id || cmd.Status != StatusSent {
			continue
		}
		cmd.Status = StatusFailed
		return true
	}
	return false
}

// SentBefore returns ids of sent commands whose SentAt precedes the cutoff.
func (q *Queue) SentBefore(cutoff time.Time) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ids []string
	for _, cmd := range q.commands {
		if cmd.Status == StatusSent && cmd.SentAt.Before(cutoff) {
			ids = append(ids, cmd.ID)
		}
	}
	return ids
}

// PendingCount reports how many commands are waiting for the next poll.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	for _, cmd := range q.commands {
		if cmd.Status == StatusPending {
			count++
		}
	}
	return count
}

// All returns a snapshot of every command in queue order.
func (q *Queue) All() []Command {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Command, 0, len(q.commands))
	for _, cmd := range q.commands {
		out = append(out, *cmd)
	}
	return out
}

// CountByStatus returns a status -> count summary.
func (q *Queue) CountByStatus() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	counts := make(map[string]int, 4)
	for _, cmd := range q.commands {
		counts[cmd.Status]++
	}
	return counts
}

// Cleanup evicts acked commands beyond the keepLastN most recent by AckAt.
// Pending, sent and failed commands are untouched and not counted toward N.
// Returns the number of evicted commands.
func (q *Queue) Cleanup(keepLastN int) int {
	if keepLastN < 0 {
		keepLastN = 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	acked := 0
	for _, cmd := range q.commands {
		if cmd.Status == StatusAcked {
			acked++
		}
	}
	evict := acked - keepLastN
	if evict <= 0 {
		return 0
	}

	// Acked commands appear in AckAt order only by accident; find the cutoff
	// by rank so that the keepLastN newest survive.
	cutoffRank := evict
	ackTimes := make([]time.Time, 0, acked)
	for _, cmd := range q.commands {
		if cmd.Status == StatusAcked {
			ackTimes = append(ackTimes, cmd.AckAt)
		}
	}
	sortTimes(ackTimes)
	cutoff := ackTimes[cutoffRank-1]

	kept := q.commands[:0]
	evicted := 0
	for _, cmd := range q.commands {
		if cmd.Status == StatusAcked && evicted < evict && !cmd.AckAt.After(cutoff) {
			evicted++
			continue
		}
		kept = append(kept, cmd)
	}
	q.commands = kept
	return evicted
}

func sortTimes(times []time.Time) {
	for i := 1; i < len(times); i++ {
		for j := i; j > 0 && times[j].Before(times[j-1]); j-- {
			times[j], times[j-1] = times[j-1], times[j]
		}
	}
}
