package events

import "time"

// CommandQueued is published when a command enters a device queue.
type CommandQueued struct {
	EventID      string
	SerialNumber string
	CommandID    string
	Text         string
	QueuedAt     time.Time
}

// CommandDelivered is published when pending commands are handed to a
// polling device.
type CommandDelivered struct {
	EventID      string
	SerialNumber string
	CommandIDs   []string
	DeliveredAt  time.Time
}

// CommandAcked is published when a device acknowledges a sent command.
type CommandAcked struct {
	EventID      string
	SerialNumber string
	CommandID    string
	ReturnCode   int
	AckedAt      time.Time
}

// CommandFailed is published when delivery gives up on a sent command.
type CommandFailed struct {
	EventID      string
	SerialNumber string
	CommandID    string
	Reason       string
	FailedAt     time.Time
}
