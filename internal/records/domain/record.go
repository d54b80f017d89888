package records

import "time"

// Record kinds accepted from device uploads.
const (
	KindAttendance  = "attendance"
	KindOperation   = "operations"
	KindUser        = "users"
	KindFingerprint = "fingerprints"
	KindFace        = "faces"
)

// Kinds lists every stored record kind.
func Kinds() []string {
	return []string{KindAttendance, KindOperation, KindUser, KindFingerprint, KindFace}
}

// ValidKind reports whether kind names a stored record kind.
func ValidKind(kind string) bool {
	for _, k := range Kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

// Attendance is one check-in/out event reported by a terminal. Keyed by
// (PIN, Timestamp, SerialNumber) for upserts.
type Attendance struct {
	PIN          string
	Timestamp    string
	VerifyMode   string
	InOutMode    string
	WorkCode     string
	SerialNumber string
	ReceivedAt   time.Time
}

// User is a terminal-stored user record, keyed by (PIN, SerialNumber).
type User struct {
	PIN          string
	Name         string
	Privilege    int
	Password     string
	Card         string
	SerialNumber string
	ReceivedAt   time.Time
}

// Operation is one device operation-log entry, keyed by
// (Code, UserPIN, SerialNumber).
type Operation struct {
	Code         string
	UserPIN      string
	SerialNumber string
	ReceivedAt   time.Time
}

// Fingerprint is a stored template reference, keyed by
// (PIN, FingerID, SerialNumber).
type Fingerprint struct {
	PIN          string
	FingerID     string
	Size         int
	Valid        int
	Template     string
	SerialNumber string
	ReceivedAt   time.Time
}

// Face is a stored face template reference, keyed by
// (PIN, FaceID, SerialNumber).
type Face struct {
	PIN          string
	FaceID       string
	Size         int
	Valid        int
	Template     string
	SerialNumber string
	ReceivedAt   time.Time
}
