package commands

import (
	"strconv"
	"testing"
	"time"
)

func TestEnqueueIDsStrictlyIncreasing(t *testing.T) {
	queue := NewQueue()
	seen := make(map[string]bool)
	prev := uint64(0)
	for i := 0; i < 50; i++ {
		cmd := queue.Enqueue("CHECK")
		if seen[cmd.ID] {
			t.Fatalf("id %s reused", cmd.ID)
		}
		seen[cmd.ID] = true
		n, err := strconv.ParseUint(cmd.ID, 10, 64)
		if err != nil {
			t.Fatalf("id %s not numeric: %v", cmd.ID, err)
		}
		if n <= prev {
			t.Fatalf("id %d not increasing after %d", n, prev)
		}
		prev = n
		if cmd.Status != StatusPending {
			t.Fatalf("expected pending, got %s", cmd.Status)
		}
		if cmd.QueuedAt.IsZero() {
			t.Fatalf("expected queued_at set")
		}
	}
}

func TestIDsNotReusedAcrossCleanup(t *testing.T) {
	queue := NewQueue()
	for i := 0; i < 5; i++ {
		queue.Enqueue("CHECK")
	}
	for _, cmd := range queue.DrainPending() {
		if !queue.Acknowledge(cmd.ID, 0) {
			t.Fatalf("ack %s failed", cmd.ID)
		}
	}
	if evicted := queue.Cleanup(0); evicted != 5 {
		t.Fatalf("expected 5 evicted, got %d", evicted)
	}
	cmd := queue.Enqueue("CHECK")
	if cmd.ID != "6" {
		t.Fatalf("expected id 6 after cleanup, got %s", cmd.ID)
	}
}

func TestDrainPendingIdempotent(t *testing.T) {
	queue := NewQueue()
	queue.Enqueue("REBOOT")
	queue.Enqueue("AC_UNLOCK")

	first := queue.DrainPending()
	if len(first) != 2 {
		t.Fatalf("expected 2 drained, got %d", len(first))
	}
	for _, cmd := range first {
		if cmd.Status != StatusSent {
			t.Fatalf("expected sent, got %s", cmd.Status)
		}
		if cmd.SentAt.IsZero() {
			t.Fatalf("expected sent_at set")
		}
	}
	if second := queue.DrainPending(); len(second) != 0 {
		t.Fatalf("expected empty second drain, got %d", len(second))
	}
}

func TestEnqueueAfterDrainPicksUpNext(t *testing.T) {
	queue := NewQueue()
	queue.Enqueue("REBOOT")
	queue.DrainPending()
	queue.Enqueue("CHECK")
	drained := queue.DrainPending()
	if len(drained) != 1 || drained[0].Text != "CHECK" {
		t.Fatalf("expected only CHECK in second drain, got %+v", drained)
	}
}

func TestAcknowledgeOnlyFromSent(t *testing.T) {
	queue := NewQueue()
	pending := queue.Enqueue("REBOOT")
	if queue.Acknowledge(pending.ID, 0) {
		t.Fatalf("ack of pending command should fail")
	}
	if queue.Acknowledge("999", 0) {
		t.Fatalf("ack of unknown id should fail")
	}

	queue.DrainPending()
	if !queue.Acknowledge(pending.ID, -1) {
		t.Fatalf("ack of sent command should succeed")
	}
	if queue.Acknowledge(pending.ID, 0) {
		t.Fatalf("second ack should be rejected")
	}

	all := queue.All()
	if len(all) != 1 {
		t.Fatalf("expected 1 command, got %d", len(all))
	}
	cmd := all[0]
	if cmd.Status != StatusAcked || cmd.AckAt.IsZero() {
		t.Fatalf("expected acked with ack_at, got %+v", cmd)
	}
	if cmd.ReturnCode == nil || *cmd.ReturnCode != -1 {
		t.Fatalf("expected return code -1 preserved, got %v", cmd.ReturnCode)
	}
}

func TestAcknowledgeOutOfOrder(t *testing.T) {
	queue := NewQueue()
	a := queue.Enqueue("A")
	b := queue.Enqueue("B")
	c := queue.Enqueue("C")
	queue.DrainPending()

	for _, step := range []struct {
		id   string
		code int
	}{{c.ID, 0}, {a.ID, -3}, {b.ID, 0}} {
		if !queue.Acknowledge(step.id, step.code) {
			t.Fatalf("ack %s failed", step.id)
		}
	}
	for _, cmd := range queue.All() {
		if cmd.Status != StatusAcked {
			t.Fatalf("command %s not acked: %s", cmd.ID, cmd.Status)
		}
	}
	codes := map[string]int{}
	for _, cmd := range queue.All() {
		codes[cmd.ID] = *cmd.ReturnCode
	}
	if codes[a.ID] != -3 || codes[b.ID] != 0 || codes[c.ID] != 0 {
		t.Fatalf("unexpected return codes: %v", codes)
	}
}

func TestTimestampsMonotonic(t *testing.T) {
	queue := NewQueue()
	cmd := queue.Enqueue("CHECK")
	queue.DrainPending()
	queue.Acknowledge(cmd.ID, 0)
	got := queue.All()[0]
	if got.SentAt.Before(got.QueuedAt) {
		t.Fatalf("sent_at %v before queued_at %v", got.SentAt, got.QueuedAt)
	}
	if got.AckAt.Before(got.SentAt) {
		t.Fatalf("ack_at %v before sent_at %v", got.AckAt, got.SentAt)
	}
}

func TestCleanupKeepsNewestAcked(t *testing.T) {
	queue := NewQueue()
	for i := 0; i < 150; i++ {
		queue.Enqueue("CHECK")
	}
	drained := queue.DrainPending()
	for _, cmd := range drained {
		if !queue.Acknowledge(cmd.ID, 0) {
			t.Fatalf("ack %s failed", cmd.ID)
		}
	}
	// Two live commands that must survive cleanup untouched.
	queue.Enqueue("REBOOT")
	sent := queue.Enqueue("AC_UNLOCK")
	_ = sent

	evicted := queue.Cleanup(100)
	if evicted != 50 {
		t.Fatalf("expected 50 evicted, got %d", evicted)
	}

	counts := queue.CountByStatus()
	if counts[StatusAcked] != 100 {
		t.Fatalf("expected 100 acked remaining, got %d", counts[StatusAcked])
	}
	if counts[StatusPending] != 2 {
		t.Fatalf("expected 2 pending untouched, got %d", counts[StatusPending])
	}

	// The survivors are the newest by AckAt: ids 51..150 in this setup.
	for _, cmd := range queue.All() {
		if cmd.Status != StatusAcked {
			continue
		}
		n, _ := strconv.ParseUint(cmd.ID, 10, 64)
		if n <= 50 {
			t.Fatalf("expected command %s evicted", cmd.ID)
		}
	}
}

func TestCleanupNoopBelowThreshold(t *testing.T) {
	queue := NewQueue()
	cmd := queue.Enqueue("CHECK")
	queue.DrainPending()
	queue.Acknowledge(cmd.ID, 0)
	if evicted := queue.Cleanup(100); evicted != 0 {
		t.Fatalf("expected no eviction, got %d", evicted)
	}
}

func TestMarkFailedAndSentBefore(t *testing.T) {
	queue := NewQueue()
	cmd := queue.Enqueue("REBOOT")
	queue.DrainPending()

	stale := queue.SentBefore(time.Now().UTC().Add(time.Minute))
	if len(stale) != 1 || stale[0] != cmd.ID {
		t.Fatalf("expected %s stale, got %v", cmd.ID, stale)
	}
	if !queue.MarkFailed(cmd.ID) {
		t.Fatalf("mark failed should succeed for sent command")
	}
	if queue.MarkFailed(cmd.ID) {
		t.Fatalf("mark failed should be rejected once failed")
	}
	if queue.Acknowledge(cmd.ID, 0) {
		t.Fatalf("ack of failed command should be rejected")
	}
}

func TestSetClockStampsFromInjectedSource(t *testing.T) {
	now := time.Date(2025, 10, 27, 9, 0, 0, 0, time.UTC)
	queue := NewQueue()
	queue.SetClock(func() time.Time { return now })

	cmd := queue.Enqueue("REBOOT")
	if !cmd.QueuedAt.Equal(now) {
		t.Fatalf("QueuedAt = %v, want %v", cmd.QueuedAt, now)
	}
	drained := queue.DrainPending()
	if len(drained) != 1 || !drained[0].SentAt.Equal(now) {
		t.Fatalf("SentAt = %v, want %v", drained[0].SentAt, now)
	}

	// Advance the source: a cutoff computed from it catches the command.
	now = now.Add(11 * time.Minute)
	stale := queue.SentBefore(now.Add(-10 * time.Minute))
	if len(stale) != 1 || stale[0] != cmd.ID {
		t.Fatalf("stale = %v, want [%s]", stale, cmd.ID)
	}
}
