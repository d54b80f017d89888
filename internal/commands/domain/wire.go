package commands

import (
	"fmt"
	"strings"
)

// AckToken is the literal body a terminal expects when nothing is queued, and
// the body the server always returns for a command reply upload.
const AckToken = "OK"

// MaxWireIDLen bounds command ids on the wire; terminals reject longer ids.
const MaxWireIDLen = 16

// ValidWireID reports whether an id is alphanumeric and 1-16 characters.
// Ids failing this are never placed on the wire and acks carrying them are
// discarded.
func ValidWireID(id string) bool {
	if len(id) == 0 || len(id) > MaxWireIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		default:
			return false
		}
	}
	return true
}

// FormatLine renders one command in the fixed wire form "C:<id>:<text>".
// The framing is part of the external protocol contract; any extra
// whitespace breaks device parsing.
func FormatLine(cmd Command) string {
	return fmt.Sprintf("C:%s:%s", cmd.ID, cmd.Text)
}

// FormatLines renders drained commands as one newline-terminated line each,
// concatenated in queue order.
func FormatLines(cmds []Command) string {
	var b strings.Builder
	for _, cmd := range cmds {
		b.WriteString(FormatLine(cmd))
		b.WriteByte('\n')
	}
	return b.String()
}

// ParseLine splits a wire line back into (id, text). The text segment may
// itself contain colons.
func ParseLine(line string) (id, text string, ok bool) {
	line = strings.TrimSuffix(line, "\n")
	parts := strings.SplitN(line, ":", 3)
	if len(parts) != 3 || parts[0] != "C" || !ValidWireID(parts[1]) {
		return "", "", false
	}
	return parts[1], parts[2], true
}
