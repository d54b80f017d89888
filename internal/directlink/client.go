package directlink

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// ErrUnauthorized is returned when the device rejects the comm key.
var ErrUnauthorized = errors.New("directlink: device rejected comm key")

// Session is one authenticated socket session against a terminal. The mode
// arbiter depends on this contract, not on the TCP implementation, so tests
// and alternative transports can stand in.
type Session interface {
	Restart(ctx context.Context) error
	PowerOff(ctx context.Context) error
	TestVoice(ctx context.Context, index int) error
	SetTime(ctx context.Context, t time.Time) error
	GetTime(ctx context.Context) (time.Time, error)
	FreeSizes(ctx context.Context) (Sizes, error)
	ReadOption(ctx context.Context, name string) (string, error)
	Close() error
}

// Dialer establishes sessions.
type Dialer interface {
	Dial(ctx context.Context, addr string, port, commKey int) (Session, error)
}

// TCPDialer dials the terminal's native socket protocol over TCP.
type TCPDialer struct {
	Timeout time.Duration
}

// NewTCPDialer constructs a dialer with a per-operation timeout.
func NewTCPDialer(timeout time.Duration) *TCPDialer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &TCPDialer{Timeout: timeout}
}

// Dial connects, performs the connect/auth handshake and returns a live
// session. Every round trip is bounded by the dialer timeout or the context
// deadline, whichever is tighter.
func (d *TCPDialer) Dial(ctx context.Context, addr string, port, commKey int) (Session, error) {
	if addr == "" {
		return nil, errors.New("directlink: empty address")
	}
	if port <= 0 {
		port = 4370
	}
	target := net.JoinHostPort(addr, fmt.Sprintf("%d", port))

	dialer := net.Dialer{Timeout: d.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, fmt.Errorf("directlink: dial %s: %w", target, err)
	}

	session := &tcpSession{conn: conn, timeout: d.Timeout}
	if err := session.connect(ctx, commKey); err != nil {
		conn.Close()
		return nil, err
	}
	return session, nil
}

type tcpSession struct {
	conn      net.Conn
	timeout   time.Duration
	sessionID uint16
	replyID   uint16
}

func (s *tcpSession) connect(ctx context.Context, commKey int) error {
	reply, err := s.roundTrip(ctx, packet{Command: cmdConnect, ReplyID: s.nextReplyID()})
	if err != nil {
		return err
	}
	s.sessionID = reply.SessionID

	switch reply.Command {
	case replyAckOK:
		return nil
	case replyAckUnauth:
		auth, err := s.roundTrip(ctx, packet{
			Command:   cmdAuth,
			SessionID: s.sessionID,
			ReplyID:   s.nextReplyID(),
			Data:      makeCommKey(commKey, s.sessionID),
		})
		if err != nil {
			return err
		}
		if auth.Command != replyAckOK {
			return ErrUnauthorized
		}
		return nil
	default:
		return fmt.Errorf("directlink: unexpected connect reply %d", reply.Command)
	}
}

// Restart asks the terminal to reboot. The session is unusable afterwards.
func (s *tcpSession) Restart(ctx context.Context) error {
	return s.simple(ctx, cmdRestart, nil)
}

// PowerOff asks the terminal to shut down.
func (s *tcpSession) PowerOff(ctx context.Context) error {
	return s.simple(ctx, cmdPowerOff, nil)
}

// TestVoice plays the indexed voice prompt.
func (s *tcpSession) TestVoice(ctx context.Context, index int) error {
	var data [4]byte
	binary.LittleEndian.PutUint32(data[:], uint32(index))
	return s.simple(ctx, cmdTestVoice, data[:])
}

// SetTime synchronizes the terminal clock.
func (s *tcpSession) SetTime(ctx context.Context, t time.Time) error {
	var data [4]byte
	binary.LittleEndian.PutUint32(data[:], encodeTime(t))
	return s.simple(ctx, cmdSetTime, data[:])
}

// GetTime reads the terminal clock.
func (s *tcpSession) GetTime(ctx context.Context) (time.Time, error) {
	reply, err := s.roundTrip(ctx, packet{Command: cmdGetTime, SessionID: s.sessionID, ReplyID: s.nextReplyID()})
	if err != nil {
		return time.Time{}, err
	}
	if reply.Command != replyAckOK && reply.Command != replyAckData {
		return time.Time{}, fmt.Errorf("directlink: get time reply %d", reply.Command)
	}
	if len(reply.Data) < 4 {
		return time.Time{}, errShortPacket
	}
	return decodeTime(binary.LittleEndian.Uint32(reply.Data[:4])), nil
}

// FreeSizes reads the capacity/usage snapshot.
func (s *tcpSession) FreeSizes(ctx context.Context) (Sizes, error) {
	reply, err := s.roundTrip(ctx, packet{Command: cmdGetFreeSizes, SessionID: s.sessionID, ReplyID: s.nextReplyID()})
	if err != nil {
		return Sizes{}, err
	}
	if reply.Command != replyAckOK && reply.Command != replyAckData {
		return Sizes{}, fmt.Errorf("directlink: free sizes reply %d", reply.Command)
	}
	return parseSizes(reply.Data)
}

// ReadOption reads a named device option such as ~SerialNumber.
func (s *tcpSession) ReadOption(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", errors.New("directlink: empty option name")
	}
	reply, err := s.roundTrip(ctx, packet{
		Command:   cmdOptionsRead,
		SessionID: s.sessionID,
		ReplyID:   s.nextReplyID(),
		Data:      append([]byte(name), 0),
	})
	if err != nil {
		return "", err
	}
	if reply.Command != replyAckOK && reply.Command != replyAckData {
		return "", fmt.Errorf("directlink: read option reply %d", reply.Command)
	}
	value := strings.TrimRight(string(reply.Data), "\x00")
	if idx := strings.IndexByte(value, '='); idx >= 0 {
		value = value[idx+1:]
	}
	return strings.TrimSpace(value), nil
}

// Close sends the exit command and closes the connection.
func (s *tcpSession) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_, _ = s.roundTrip(ctx, packet{Command: cmdExit, SessionID: s.sessionID, ReplyID: s.nextReplyID()})
	return s.conn.Close()
}

func (s *tcpSession) simple(ctx context.Context, command uint16, data []byte) error {
	reply, err := s.roundTrip(ctx, packet{Command: command, SessionID: s.sessionID, ReplyID: s.nextReplyID(), Data: data})
	if err != nil {
		return err
	}
	if reply.Command != replyAckOK {
		return fmt.Errorf("directlink: command %d rejected with %d", command, reply.Command)
	}
	return nil
}

func (s *tcpSession) nextReplyID() uint16 {
	s.replyID++
	return s.replyID
}

func (s *tcpSession) roundTrip(ctx context.Context, p packet) (packet, error) {
	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetDeadline(deadline); err != nil {
		return packet{}, err
	}

	if _, err := s.conn.Write(frameTCP(p)); err != nil {
		return packet{}, fmt.Errorf("directlink: write: %w", err)
	}

	var header [8]byte
	if _, err := io.ReadFull(s.conn, header[:]); err != nil {
		return packet{}, fmt.Errorf("directlink: read header: %w", err)
	}
	if [4]byte(header[0:4]) != tcpMagic {
		return packet{}, errors.New("directlink: bad frame magic")
	}
	length := binary.LittleEndian.Uint32(header[4:8])
	if length < 8 || length > 1<<20 {
		return packet{}, fmt.Errorf("directlink: implausible frame length %d", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(s.conn, payload); err != nil {
		return packet{}, fmt.Errorf("directlink: read payload: %w", err)
	}
	return unmarshalPacket(payload)
}
