package directlink

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"
)

// fakeDevice answers the native protocol on a loopback listener.
type fakeDevice struct {
	listener net.Listener
	commKey  int
}

func newFakeDevice(t *testing.T, commKey int) *fakeDevice {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	device := &fakeDevice{listener: listener, commKey: commKey}
	go device.serve()
	t.Cleanup(func() { listener.Close() })
	return device
}

func (f *fakeDevice) addrPort(t *testing.T) (string, int) {
	t.Helper()
	host, portValue, err := net.SplitHostPort(f.listener.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, _ := strconv.Atoi(portValue)
	return host, port
}

func (f *fakeDevice) serve() {
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeDevice) handle(conn net.Conn) {
	defer conn.Close()
	const sessionID = 9
	authed := f.commKey == 0
	for {
		var header [8]byte
		if _, err := io.ReadFull(conn, header[:]); err != nil {
			return
		}
		length := binary.LittleEndian.Uint32(header[4:8])
		payload := make([]byte, length)
		if _, err := io.ReadFull(conn, payload); err != nil {
			return
		}
		req, err := unmarshalPacket(payload)
		if err != nil {
			return
		}

		reply := packet{Command: replyAckOK, SessionID: sessionID, ReplyID: req.ReplyID}
		switch req.Command {
		case cmdConnect:
			if !authed {
				reply.Command = replyAckUnauth
			}
		case cmdAuth:
			if string(req.Data) == string(makeCommKey(f.commKey, sessionID)) {
				authed = true
			} else {
				reply.Command = replyAckUnauth
			}
		case cmdRestart, cmdPowerOff, cmdTestVoice, cmdSetTime:
		case cmdGetFreeSizes:
			data := make([]byte, 92)
			binary.LittleEndian.PutUint32(data[4*4:], 7)
			binary.LittleEndian.PutUint32(data[8*4:], 99)
			reply.Data = data
		case cmdOptionsRead:
			name := strings.TrimRight(string(req.Data), "\x00")
			if name == "~SerialNumber" {
				reply.Data = append([]byte("~SerialNumber=FAKE001"), 0)
			} else {
				reply.Command = replyAckError
			}
		case cmdExit:
			conn.Write(frameTCP(reply))
			return
		default:
			reply.Command = replyAckError
		}
		if _, err := conn.Write(frameTCP(reply)); err != nil {
			return
		}
	}
}

func TestTCPDialerHandshakeAndOps(t *testing.T) {
	device := newFakeDevice(t, 0)
	host, port := device.addrPort(t)

	dialer := NewTCPDialer(2 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, err := dialer.Dial(ctx, host, port, 0)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer session.Close()

	if err := session.Restart(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := session.TestVoice(ctx, 3); err != nil {
		t.Fatalf("test voice: %v", err)
	}
	sizes, err := session.FreeSizes(ctx)
	if err != nil {
		t.Fatalf("free sizes: %v", err)
	}
	if sizes.Users != 7 || sizes.Records != 99 {
		t.Fatalf("unexpected sizes %+v", sizes)
	}
	serial, err := session.ReadOption(ctx, "~SerialNumber")
	if err != nil {
		t.Fatalf("read option: %v", err)
	}
	if serial != "FAKE001" {
		t.Fatalf("expected FAKE001, got %q", serial)
	}
}

func TestTCPDialerAuthWithCommKey(t *testing.T) {
	device := newFakeDevice(t, 4242)
	host, port := device.addrPort(t)

	dialer := NewTCPDialer(2 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, err := dialer.Dial(ctx, host, port, 4242)
	if err != nil {
		t.Fatalf("dial with key: %v", err)
	}
	session.Close()

	if _, err := dialer.Dial(ctx, host, port, 1); err == nil {
		t.Fatalf("expected auth failure with wrong key")
	}
}

func TestTCPDialerUnreachable(t *testing.T) {
	dialer := NewTCPDialer(200 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := dialer.Dial(ctx, "127.0.0.1", 1, 0); err == nil {
		t.Fatalf("expected dial error")
	}
}
