package commands

import (
	"fmt"
	"sort"
)

// Instruction payloads understood by the terminals. The queue treats them as
// opaque text; they are collected here so callers do not scatter protocol
// strings.
const (
	Reboot       = "REBOOT"
	Shutdown     = "SHUTDOWN"
	Unlock       = "AC_UNLOCK"
	Unalarm      = "AC_UNALARM"
	InfoQuery    = "INFO"
	Check        = "CHECK"
	LockDevice   = "CHECK Lock"
	UnlockDevice = "CHECK Unlock"

	QueryAttLog   = "DATA QUERY ATTLOG"
	QueryUserInfo = "DATA QUERY USERINFO"
	QueryOperLog  = "DATA QUERY OPERLOG"

	ClearAttLog  = "DATA DELETE ATTLOG"
	ClearLog     = "CLEAR LOG"
	ClearData    = "CLEAR DATA"
	ClearBioData = "CLEAR BIODATA"

	ReloadOptions = "RELOAD OPTIONS"
)

// QueryAttLogRange builds an attendance query bounded to a time window.
func QueryAttLogRange(start, end string) string {
	return fmt.Sprintf("DATA QUERY ATTLOG StartTime=%s\tEndTime=%s", start, end)
}

// UpdateUserInfo builds a user upsert instruction.
func UpdateUserInfo(pin, name string, privilege, card int) string {
	return fmt.Sprintf("DATA UPDATE USERINFO PIN=%s\tName=%s\tPri=%d\tCard=%d", pin, name, privilege, card)
}

// DeleteUser builds a user delete instruction.
func DeleteUser(pin string) string {
	return fmt.Sprintf("DATA DELETE USERINFO PIN=%s", pin)
}

// SetOption builds a device option write.
func SetOption(key, value string) string {
	return fmt.Sprintf("SET OPTION %s=%s", key, value)
}

var presets = map[string]string{
	"reboot":         Reboot,
	"shutdown":       Shutdown,
	"unlock":         Unlock,
	"unalarm":        Unalarm,
	"info":           InfoQuery,
	"check":          Check,
	"lock_device":    LockDevice,
	"unlock_device":  UnlockDevice,
	"query_attlog":   QueryAttLog,
	"query_userinfo": QueryUserInfo,
	"query_operlog":  QueryOperLog,
	"clear_attlog":   ClearAttLog,
	"clear_log":      ClearLog,
	"clear_data":     ClearData,
	"clear_biodata":  ClearBioData,
	"reload_options": ReloadOptions,
}

// Named resolves a preset name to its instruction payload. Names are the
// admin API's stable vocabulary; payloads are the wire strings above.
func Named(name string) (string, bool) {
	text, ok := presets[name]
	return text, ok
}

// PresetNames lists the preset vocabulary sorted by name.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
