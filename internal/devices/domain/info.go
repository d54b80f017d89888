package devices

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Info is the capability snapshot a terminal reports in the heartbeat INFO
// token: a fixed-order CSV of firmware, record counts, network address and
// algorithm versions, with a trailing function-support bitstring.
type Info struct {
	FirmwareVersion      string
	UserCount            int
	FingerprintCount     int
	AttendanceCount      int
	IPAddress            string
	FingerprintAlgorithm string
	FaceAlgorithm        string
	FaceEnrollmentCount  int
	EnrolledFaceCount    int
	Functions            FunctionSupport
}

// FunctionSupport decodes the per-position digit flags of the INFO token's
// function field.
type FunctionSupport struct {
	Fingerprint      bool
	Face             bool
	UserPhoto        bool
	ComparisonPhoto  bool
	VisibleLightFace bool
	Raw              string
}

// ParseInfo parses the INFO token. The heartbeat must keep serving commands
// even when the token is malformed, so callers log and skip on error rather
// than failing the poll.
func ParseInfo(token string) (Info, error) {
	parts := strings.Split(token, ",")
	if len(parts) < 10 {
		return Info{}, fmt.Errorf("devices: info token has %d fields, want at least 10", len(parts))
	}

	info := Info{
		FirmwareVersion:      parts[0],
		IPAddress:            parts[4],
		FingerprintAlgorithm: parts[5],
		FaceAlgorithm:        parts[6],
	}
	var err error
	if info.UserCount, err = atoiField("user count", parts[1]); err != nil {
		return Info{}, err
	}
	if info.FingerprintCount, err = atoiField("fingerprint count", parts[2]); err != nil {
		return Info{}, err
	}
	if info.AttendanceCount, err = atoiField("attendance count", parts[3]); err != nil {
		return Info{}, err
	}
	if info.FaceEnrollmentCount, err = atoiField("face enrollment count", parts[7]); err != nil {
		return Info{}, err
	}
	if info.EnrolledFaceCount, err = atoiField("enrolled face count", parts[8]); err != nil {
		return Info{}, err
	}

	functionField := parts[9]
	if functionField == "" {
		functionField = "000"
	}
	if info.Functions, err = ParseFunctionSupport(functionField); err != nil {
		return Info{}, err
	}
	return info, nil
}

// ParseFunctionSupport decodes a digit string such as "101" or "10110":
// position 1 fingerprint, 2 face, 3 user photo, 4 comparison photo, 5
// visible-light face templates.
func ParseFunctionSupport(field string) (FunctionSupport, error) {
	if len(field) < 3 {
		return FunctionSupport{}, errors.New("devices: function support field shorter than 3 digits")
	}
	for i := 0; i < len(field); i++ {
		if field[i] != '0' && field[i] != '1' {
			return FunctionSupport{}, errors.New("devices: function support field must contain only 0 and 1")
		}
	}
	support := FunctionSupport{
		Fingerprint: field[0] == '1',
		Face:        field[1] == '1',
		UserPhoto:   field[2] == '1',
		Raw:         field,
	}
	if len(field) >= 4 {
		support.ComparisonPhoto = field[3] == '1'
	}
	if len(field) >= 5 {
		support.VisibleLightFace = field[4] == '1'
	}
	return support, nil
}

func atoiField(name, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("devices: bad %s %q", name, value)
	}
	return n, nil
}
