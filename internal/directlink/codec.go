package directlink

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Command codes of the terminal's native socket protocol.
const (
	cmdConnect      = 1000
	cmdExit         = 1001
	cmdRestart      = 1004
	cmdPowerOff     = 1005
	cmdTestVoice    = 1017
	cmdAuth         = 1102
	cmdOptionsRead  = 11
	cmdGetFreeSizes = 50
	cmdGetTime      = 201
	cmdSetTime      = 202

	replyAckOK     = 2000
	replyAckError  = 2001
	replyAckData   = 2002
	replyAckUnauth = 2005
)

// tcpMagic prefixes every packet on the TCP transport.
var tcpMagic = [4]byte{0x50, 0x50, 0x82, 0x7d}

var errShortPacket = errors.New("directlink: short packet")

// packet is one request or reply frame: command, checksum, session and reply
// counters, then opaque data. All fields are little-endian on the wire.
type packet struct {
	Command   uint16
	SessionID uint16
	ReplyID   uint16
	Data      []byte
}

func (p packet) marshal() []byte {
	buf := make([]byte, 8+len(p.Data))
	binary.LittleEndian.PutUint16(buf[0:2], p.Command)
	binary.LittleEndian.PutUint16(buf[4:6], p.SessionID)
	binary.LittleEndian.PutUint16(buf[6:8], p.ReplyID)
	copy(buf[8:], p.Data)
	binary.LittleEndian.PutUint16(buf[2:4], checksum(buf))
	return buf
}

func unmarshalPacket(buf []byte) (packet, error) {
	if len(buf) < 8 {
		return packet{}, errShortPacket
	}
	p := packet{
		Command:   binary.LittleEndian.Uint16(buf[0:2]),
		SessionID: binary.LittleEndian.Uint16(buf[4:6]),
		ReplyID:   binary.LittleEndian.Uint16(buf[6:8]),
	}
	if len(buf) > 8 {
		p.Data = append([]byte(nil), buf[8:]...)
	}
	return p, nil
}

// checksum is the protocol's 16-bit ones'-complement sum over the packet with
// the checksum field treated as zero.
func checksum(buf []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(buf); i += 2 {
		if i == 2 {
			continue
		}
		sum += uint32(binary.LittleEndian.Uint16(buf[i : i+2]))
	}
	if len(buf)%2 == 1 {
		sum += uint32(buf[len(buf)-1])
	}
	for sum > 0xffff {
		sum = (sum >> 16) + (sum & 0xffff)
	}
	return uint16(^sum) & 0xffff
}

func frameTCP(p packet) []byte {
	payload := p.marshal()
	frame := make([]byte, 8+len(payload))
	copy(frame[0:4], tcpMagic[:])
	binary.LittleEndian.PutUint32(frame[4:8], uint32(len(payload)))
	copy(frame[8:], payload)
	return frame
}

// makeCommKey derives the connect-time authentication blob from the device's
// shared comm key and the session id issued by the connect reply.
func makeCommKey(key int, sessionID uint16) []byte {
	var k uint32
	for i := 0; i < 32; i++ {
		if key&(1<<uint(i)) != 0 {
			k = k<<1 | 1
		} else {
			k <<= 1
		}
	}
	k += uint32(sessionID)

	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], k)
	b[0] ^= 'Z'
	b[1] ^= 'K'
	b[2] ^= 'S'
	b[3] ^= 'O'

	h1 := binary.LittleEndian.Uint16(b[0:2])
	h2 := binary.LittleEndian.Uint16(b[2:4])
	binary.LittleEndian.PutUint16(b[0:2], h2)
	binary.LittleEndian.PutUint16(b[2:4], h1)

	const ticks = 50
	b[0] ^= ticks
	b[1] ^= ticks
	out := [4]byte{b[0], b[1], ticks, b[3] ^ ticks}
	return out[:]
}

// encodeTime packs a wall-clock time in the terminal's compact calendar form.
func encodeTime(t time.Time) uint32 {
	return uint32(((t.Year()-2000)*12*31+(int(t.Month())-1)*31+t.Day()-1)*(24*60*60) +
		(t.Hour()*60+t.Minute())*60 + t.Second())
}

// decodeTime reverses encodeTime.
func decodeTime(v uint32) time.Time {
	second := int(v % 60)
	v /= 60
	minute := int(v % 60)
	v /= 60
	hour := int(v % 24)
	v /= 24
	day := int(v%31) + 1
	v /= 31
	month := int(v%12) + 1
	v /= 12
	year := int(v) + 2000
	return time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)
}

// Sizes is the capacity/usage snapshot returned by the free-sizes query.
type Sizes struct {
	Users           int
	Fingers         int
	Records         int
	Cards           int
	FingersCapacity int
	UsersCapacity   int
	RecordsCapacity int
	Faces           int
	FacesCapacity   int
}

func parseSizes(data []byte) (Sizes, error) {
	if len(data) < 80 {
		return Sizes{}, fmt.Errorf("directlink: sizes payload %d bytes, want at least 80", len(data))
	}
	field := func(i int) int {
		return int(int32(binary.LittleEndian.Uint32(data[i*4 : i*4+4])))
	}
	sizes := Sizes{
		Users:           field(4),
		Fingers:         field(6),
		Records:         field(8),
		Cards:           field(12),
		FingersCapacity: field(14),
		UsersCapacity:   field(15),
		RecordsCapacity: field(16),
	}
	if len(data) >= 92 {
		sizes.Faces = field(21)
		sizes.FacesCapacity = field(22)
	}
	return sizes, nil
}
