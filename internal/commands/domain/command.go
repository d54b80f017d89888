package commands

import "time"

const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusAcked   = "acked"
	StatusFailed  = "failed"
)

// Command is one instruction destined for exactly one terminal. The ID is an
// opaque token unique within the owning queue; terminals reject ids that are
// not alphanumeric or longer than 16 characters, so ids are validated at the
// wire boundary rather than trusted from input.
type Command struct {
	ID         string
	Text       string
	Status     string
	QueuedAt   time.Time
	SentAt     time.Time
	AckAt      time.Time
	ReturnCode *int
}

// Terminal reports whether the command has reached a final state.
func (c Command) Terminal() bool {
	return c.Status == StatusAcked || c.Status == StatusFailed
}
