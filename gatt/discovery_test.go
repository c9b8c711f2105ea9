package gatt

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/corvidlabs/gattclient/att"

	gc "github.com/corvidlabs/gattclient"
)

// fakeConn adapts one end of a net.Pipe to gc.Conn, mirroring the
// att package's own fakeConn test helper, at the gatt-package level
// needed to drive a Transport.
type fakeConn struct {
	net.Conn
	ctx      context.Context
	security gc.SecurityLevel
	rx, tx   int
}

func newFakeConn(c net.Conn) *fakeConn {
	return &fakeConn{Conn: c, ctx: context.Background(), rx: gc.DefaultMTU, tx: gc.DefaultMTU}
}

func (f *fakeConn) Context() context.Context      { return f.ctx }
func (f *fakeConn) SetContext(ctx context.Context) { f.ctx = ctx }
func (f *fakeConn) LocalAddr() gc.Addr             { return testAddr("local") }
func (f *fakeConn) RemoteAddr() gc.Addr            { return testAddr("peer") }
func (f *fakeConn) ReadRSSI() (int8, error)        { return 0, nil }
func (f *fakeConn) RxMTU() int                     { return f.rx }
func (f *fakeConn) SetRxMTU(mtu int)               { f.rx = mtu }
func (f *fakeConn) TxMTU() int                     { return f.tx }
func (f *fakeConn) SetTxMTU(mtu int)               { f.tx = mtu }
func (f *fakeConn) Disconnected() <-chan struct{}  { return f.ctx.Done() }
func (f *fakeConn) SecurityLevel() gc.SecurityLevel { return f.security }
func (f *fakeConn) SetSecurityLevel(l gc.SecurityLevel) error {
	f.security = l
	return nil
}

// newTestService wires a GattService/Engine pair over one end of a
// net.Pipe, returning the remote end for a test to play peripheral on.
func newTestService(t *testing.T, p *Primary) (*Engine, *GattService, net.Conn) {
	t.Helper()
	clientSide, remoteSide := net.Pipe()
	svc := NewGattService(PeerID{Local: testAddr("local"), Peer: testAddr("peer")}, 0, []*Primary{p})
	svc.SetTransport(newFakeConn(clientSide), gc.NopLogger{})
	eng := &Engine{Cfg: gc.DefaultConfig(), Log: gc.NopLogger{}}
	t.Cleanup(func() {
		if tr := svc.Transport(); tr != nil {
			tr.Disconnect()
		}
	})
	return eng, svc, remoteSide
}

func readPDU(t *testing.T, remote net.Conn) []byte {
	t.Helper()
	buf := make([]byte, gc.DefaultMTU)
	remote.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := remote.Read(buf)
	if err != nil {
		t.Fatalf("remote read: %v", err)
	}
	return append([]byte(nil), buf[:n]...)
}

func writePDU(t *testing.T, remote net.Conn, pdu []byte) {
	t.Helper()
	if _, err := remote.Write(pdu); err != nil {
		t.Fatalf("remote write: %v", err)
	}
}

func errorResponse(reqOpcode byte, handle uint16, code byte) []byte {
	return att.NewErrorResponse(reqOpcode, handle, code)
}

// TestDiscoveryOnSingleCharacteristicService drives one characteristic
// with one 0x2901 descriptor and a priming read, end to end against a
// simulated peripheral.
func TestDiscoveryOnSingleCharacteristicService(t *testing.T) {
	p := NewPrimary(0x0010, 0x0015, gc.UUID16(0x1800))
	eng, svc, remote := newTestService(t, p)

	h, err := svc.Acquire()
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	go func() {
		// Read By Type [0x10,0x15] -> one characteristic declaration.
		req := readPDU(t, remote)
		if req[0] != att.ReadByTypeRequestCode {
			t.Errorf("request 1 opcode = 0x%02x, want Read By Type", req[0])
		}
		entry := []byte{0x11, 0x00, 0x0A, 0x12, 0x00, 0x00, 0x2A} // decl=0x11, props=0x0A, value=0x12, uuid=2A00
		rsp := append([]byte{att.ReadByTypeResponseCode, byte(len(entry))}, entry...)
		writePDU(t, remote, rsp)

		// Read By Type [0x12,0x15] -> Attribute Not Found (no more chars).
		req = readPDU(t, remote)
		if req[0] != att.ReadByTypeRequestCode {
			t.Errorf("request 2 opcode = 0x%02x, want Read By Type", req[0])
		}
		writePDU(t, remote, errorResponse(att.ReadByTypeRequestCode, 0x0012, byte(gc.ErrCodeAttrNotFound)))

		// Find Information [0x13,0x15] -> one 0x2901 descriptor at 0x13.
		req = readPDU(t, remote)
		if req[0] != att.FindInformationRequestCode {
			t.Errorf("request 3 opcode = 0x%02x, want Find Information", req[0])
		}
		data := []byte{0x13, 0x00, 0x01, 0x29} // handle=0x13, uuid=2901
		rsp = append([]byte{att.FindInformationResponseCode, 0x01}, data...)
		writePDU(t, remote, rsp)

		// Read(0x13) -> user description value "Name".
		req = readPDU(t, remote)
		if req[0] != att.ReadRequestCode {
			t.Errorf("request 4 opcode = 0x%02x, want Read", req[0])
		}
		writePDU(t, remote, append([]byte{att.ReadResponseCode}, []byte("Name")...))

		// Find Information [0x14,0x15] -> Attribute Not Found (descriptor range exhausted).
		req = readPDU(t, remote)
		if req[0] != att.FindInformationRequestCode {
			t.Errorf("request 5 opcode = 0x%02x, want Find Information", req[0])
		}
		writePDU(t, remote, errorResponse(att.FindInformationRequestCode, 0x0014, byte(gc.ErrCodeAttrNotFound)))

		// Read(0x12) -> priming value [0x41, 0x42].
		req = readPDU(t, remote)
		if req[0] != att.ReadRequestCode {
			t.Errorf("request 6 opcode = 0x%02x, want Read", req[0])
		}
		writePDU(t, remote, append([]byte{att.ReadResponseCode}, 0x41, 0x42))
	}()

	resultc, err := eng.DiscoverCharacteristics(h, svc, p)
	if err != nil {
		t.Fatalf("DiscoverCharacteristics() error = %v", err)
	}

	select {
	case result := <-resultc:
		if result.Err != nil {
			t.Fatalf("discovery failed: %v", result.Err)
		}
		if len(result.Paths) != 1 {
			t.Fatalf("got %d paths, want 1: %v", len(result.Paths), result.Paths)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("discovery did not complete")
	}

	chars := p.Characteristics()
	if len(chars) != 1 {
		t.Fatalf("got %d characteristics, want 1", len(chars))
	}
	c := chars[0]
	if c.EndHandle != 0x0015 {
		t.Errorf("EndHandle = 0x%04x, want 0x0015", c.EndHandle)
	}
	if got := c.Descriptor().UserDescription; got == nil || *got != "Name" {
		t.Errorf("UserDescription = %v, want \"Name\"", got)
	}
	if got := c.Value(); len(got) != 2 || got[0] != 0x41 || got[1] != 0x42 {
		t.Errorf("Value = % x, want 41 42", got)
	}
}

// TestEmptyCharacteristicListCompletesImmediately covers the edge
// case where an empty declaration list finishes with an empty reply.
func TestEmptyCharacteristicListCompletesImmediately(t *testing.T) {
	p := NewPrimary(0x0010, 0x0015, gc.UUID16(0x1800))
	eng, svc, remote := newTestService(t, p)
	h, err := svc.Acquire()
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	go func() {
		req := readPDU(t, remote)
		handle := binary.LittleEndian.Uint16(req[1:3])
		writePDU(t, remote, errorResponse(att.ReadByTypeRequestCode, handle, byte(gc.ErrCodeAttrNotFound)))
	}()

	resultc, err := eng.DiscoverCharacteristics(h, svc, p)
	if err != nil {
		t.Fatalf("DiscoverCharacteristics() error = %v", err)
	}
	select {
	case result := <-resultc:
		if result.Err != nil {
			t.Fatalf("discovery failed: %v", result.Err)
		}
		if len(result.Paths) != 0 {
			t.Fatalf("got %d paths, want 0", len(result.Paths))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("discovery did not complete")
	}
}
