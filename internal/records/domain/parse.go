package records

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseAttendanceLine parses one ATTLOG upload line. Fields are
// whitespace-delimited: PIN, date, time, verify mode, in/out mode, work
// code. Trailing fields past the first six are ignored.
func ParseAttendanceLine(line string) (Attendance, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return Attendance{}, fmt.Errorf("records: attendance line has %d fields, want at least 3", len(fields))
	}
	rec := Attendance{
		PIN:       fields[0],
		Timestamp: fields[1] + " " + fields[2],
	}
	if len(fields) > 3 {
		rec.VerifyMode = fields[3]
	}
	if len(fields) > 4 {
		rec.InOutMode = fields[4]
	}
	if len(fields) > 5 {
		rec.WorkCode = fields[5]
	}
	return rec, nil
}

// ParseUserLine parses one "USER PIN=... Name=..." OPERLOG upload line.
// Unknown keys are ignored; PIN is required.
func ParseUserLine(line string) (User, error) {
	body, ok := strings.CutPrefix(line, "USER ")
	if !ok {
		return User{}, fmt.Errorf("records: not a user line: %q", truncate(line))
	}
	var rec User
	for _, kv := range splitTabbed(body) {
		key, value, found := strings.Cut(kv, "=")
		if !found {
			continue
		}
		switch key {
		case "PIN":
			rec.PIN = value
		case "Name":
			rec.Name = value
		case "Pri":
			rec.Privilege, _ = strconv.Atoi(value)
		case "Passwd":
			rec.Password = value
		case "Card":
			rec.Card = value
		}
	}
	if rec.PIN == "" {
		return User{}, fmt.Errorf("records: user line missing PIN: %q", truncate(line))
	}
	return rec, nil
}

// ParseOperationLine parses one "OPLOG code\tadmin\t..." upload line.
func ParseOperationLine(line string) (Operation, error) {
	body, ok := strings.CutPrefix(line, "OPLOG ")
	if !ok {
		return Operation{}, fmt.Errorf("records: not an operation line: %q", truncate(line))
	}
	fields := strings.Split(body, "\t")
	if len(fields) < 2 {
		return Operation{}, fmt.Errorf("records: operation line has %d fields, want at least 2", len(fields))
	}
	return Operation{Code: fields[0], UserPIN: fields[1]}, nil
}

// ParseFingerprintLine parses one "FP PIN=... FID=... Size=... Valid=...
// TMP=..." OPERLOG upload line.
func ParseFingerprintLine(line string) (Fingerprint, error) {
	body, ok := strings.CutPrefix(line, "FP ")
	if !ok {
		return Fingerprint{}, fmt.Errorf("records: not a fingerprint line: %q", truncate(line))
	}
	var rec Fingerprint
	for _, kv := range splitTabbed(body) {
		key, value, found := strings.Cut(kv, "=")
		if !found {
			continue
		}
		switch key {
		case "PIN":
			rec.PIN = value
		case "FID":
			rec.FingerID = value
		case "Size":
			rec.Size, _ = strconv.Atoi(value)
		case "Valid":
			rec.Valid, _ = strconv.Atoi(value)
		case "TMP":
			rec.Template = value
		}
	}
	if rec.PIN == "" || rec.FingerID == "" {
		return Fingerprint{}, fmt.Errorf("records: fingerprint line missing PIN or FID: %q", truncate(line))
	}
	return rec, nil
}

// ParseFaceLine parses one "FACE PIN=... FID=... Size=... Valid=...
// TMP=..." OPERLOG upload line.
func ParseFaceLine(line string) (Face, error) {
	body, ok := strings.CutPrefix(line, "FACE ")
	if !ok {
		return Face{}, fmt.Errorf("records: not a face line: %q", truncate(line))
	}
	var rec Face
	for _, kv := range splitTabbed(body) {
		key, value, found := strings.Cut(kv, "=")
		if !found {
			continue
		}
		switch key {
		case "PIN":
			rec.PIN = value
		case "FID":
			rec.FaceID = value
		case "Size":
			rec.Size, _ = strconv.Atoi(value)
		case "Valid":
			rec.Valid, _ = strconv.Atoi(value)
		case "TMP":
			rec.Template = value
		}
	}
	if rec.PIN == "" || rec.FaceID == "" {
		return Face{}, fmt.Errorf("records: face line missing PIN or FID: %q", truncate(line))
	}
	return rec, nil
}

// splitTabbed splits a key=value record body on tabs, falling back to
// whitespace when no tab is present. Some firmware revisions emit either.
func splitTabbed(body string) []string {
	if strings.Contains(body, "\t") {
		return strings.Split(body, "\t")
	}
	return strings.Fields(body)
}

func truncate(s string) string {
	const max = 64
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
