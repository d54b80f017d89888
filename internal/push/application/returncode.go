package application

// Return-code classes reported by terminals in devicecmd acknowledgements.
// The class feeds logs and metrics only; state transitions never depend
// on it.
const (
	ClassSuccess   = "success"
	ClassParameter = "parameter"
	ClassCapacity  = "capacity"
	ClassTimeout   = "timeout"
	ClassHardware  = "hardware"
	ClassUnknown   = "unknown"
)

// ClassifyReturnCode maps a device return code to its class. Zero is
// success; the known negative codes map to parameter, capacity, timeout
// and hardware-state faults; anything else is unknown.
func ClassifyReturnCode(code int) string {
	switch code {
	case 0:
		return ClassSuccess
	case -1:
		return ClassParameter
	case -2:
		return ClassCapacity
	case -3:
		return ClassTimeout
	case -4:
		return ClassHardware
	default:
		return ClassUnknown
	}
}
