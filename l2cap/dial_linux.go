// Package l2cap provides a reference Linux implementation of the
// Conn interface, dialing a raw BR/EDR-less L2CAP socket the way the
// kernel's Bluetooth stack expects: fixed ATT CID 0x0004 when no PSM
// is given, a dynamic PSM otherwise. The kernel sockaddr/setsockopt
// shapes aren't exposed by golang.org/x/sys/unix, so this package
// defines them itself and drives the raw syscalls directly, the way
// an HCI socket package does for the HCI side.
package l2cap

import (
	"context"
	"fmt"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	gc "github.com/corvidlabs/gattclient"
)

// Kernel constants for AF_BLUETOOTH sockets (linux/bluetooth.h).
const (
	afBluetooth   = 31
	sockSeqPacket = 5
	btprotoL2CAP  = 0
	solBluetooth  = 274
	btSecurity    = 4

	btSecurityLow    = 1
	btSecurityMedium = 2
	btSecurityHigh   = 3
)

// rawSockaddrL2 mirrors struct sockaddr_l2 (linux/bluetooth/l2cap.h):
// family, PSM, address, address type, CID.
type rawSockaddrL2 struct {
	Family  uint16
	PSM     uint16
	Addr    [6]byte
	AddrTyp uint8
	CID     uint16
}

// rawBtSecurity mirrors struct bt_security.
type rawBtSecurity struct {
	Level   uint8
	KeySize uint8
}

// Addr is a Bluetooth device address, the concrete gc.Addr this
// package produces.
type Addr [6]byte

func (a Addr) Bytes() []byte { return a[:] }

func (a Addr) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[5], a[4], a[3], a[2], a[1], a[0])
}

// Conn is a raw L2CAP socket satisfying gc.Conn.
type Conn struct {
	fd int

	local, remote Addr

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	security gc.SecurityLevel
	rxMTU    int
	txMTU    int
}

var _ gc.Conn = (*Conn)(nil)

func sockaddr(addr Addr, psm uint16) *rawSockaddrL2 {
	sa := &rawSockaddrL2{Family: afBluetooth, Addr: addr}
	if psm == 0 {
		sa.CID = gc.AttFixedCID
	} else {
		sa.PSM = psm
	}
	return sa
}

// Dial opens an L2CAP connection to remote. psm == 0 selects the
// fixed ATT CID (0x0004); any other value dials that dynamic PSM.
func Dial(local, remote Addr, psm uint16) (*Conn, error) {
	fd, err := unix.Socket(afBluetooth, sockSeqPacket, btprotoL2CAP)
	if err != nil {
		return nil, errors.Wrap(err, "l2cap: socket")
	}

	bindAddr := sockaddr(local, psm)
	if err := bind(fd, bindAddr); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "l2cap: bind")
	}

	connAddr := sockaddr(remote, psm)
	if err := connect(fd, connAddr); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "l2cap: connect")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		fd:       fd,
		local:    local,
		remote:   remote,
		ctx:      ctx,
		cancel:   cancel,
		security: gc.SecurityLow,
		rxMTU:    gc.DefaultMTU,
		txMTU:    gc.DefaultMTU,
	}, nil
}

func (c *Conn) Read(p []byte) (int, error) {
	n, err := unix.Read(c.fd, p)
	if err != nil {
		return 0, errors.Wrap(err, "l2cap: read")
	}
	return n, nil
}

func (c *Conn) Write(p []byte) (int, error) {
	n, err := unix.Write(c.fd, p)
	if err != nil {
		return 0, errors.Wrap(err, "l2cap: write")
	}
	return n, nil
}

func (c *Conn) Close() error {
	c.cancel()
	return unix.Close(c.fd)
}

func (c *Conn) Context() context.Context { return c.ctx }

func (c *Conn) SetContext(ctx context.Context) {
	c.ctx = ctx
}

func (c *Conn) LocalAddr() gc.Addr  { return c.local }
func (c *Conn) RemoteAddr() gc.Addr { return c.remote }

// ReadRSSI reads RSSI via HCI, external to this raw L2CAP socket; a
// dedicated HCI connection is out of scope here.
func (c *Conn) ReadRSSI() (int8, error) {
	return 0, errors.New("l2cap: ReadRSSI not implemented over a raw socket")
}

func (c *Conn) RxMTU() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rxMTU
}

func (c *Conn) SetRxMTU(mtu int) {
	c.mu.Lock()
	c.rxMTU = mtu
	c.mu.Unlock()
}

func (c *Conn) TxMTU() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txMTU
}

func (c *Conn) SetTxMTU(mtu int) {
	c.mu.Lock()
	c.txMTU = mtu
	c.mu.Unlock()
}

// Disconnected returns a channel closed when the context backing this
// Conn is cancelled, i.e. after Close.
func (c *Conn) Disconnected() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Conn) SecurityLevel() gc.SecurityLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.security
}

// SetSecurityLevel raises the socket's BT_SECURITY level via
// setsockopt, the kernel's interface for triggering SMP pairing on
// this link.
func (c *Conn) SetSecurityLevel(level gc.SecurityLevel) error {
	opt := rawBtSecurity{Level: securitySockoptLevel(level)}
	if err := setsockopt(c.fd, solBluetooth, btSecurity, unsafe.Pointer(&opt), unsafe.Sizeof(opt)); err != nil {
		return errors.Wrap(err, "l2cap: set security level")
	}
	c.mu.Lock()
	c.security = level
	c.mu.Unlock()
	return nil
}

func securitySockoptLevel(level gc.SecurityLevel) byte {
	switch level {
	case gc.SecurityHigh:
		return btSecurityHigh
	case gc.SecurityMedium:
		return btSecurityMedium
	default:
		return btSecurityLow
	}
}

func bind(fd int, sa *rawSockaddrL2) error {
	_, _, errno := unix.Syscall(unix.SYS_BIND, uintptr(fd), uintptr(unsafe.Pointer(sa)), unsafe.Sizeof(*sa))
	if errno != 0 {
		return errno
	}
	return nil
}

func connect(fd int, sa *rawSockaddrL2) error {
	_, _, errno := unix.Syscall(unix.SYS_CONNECT, uintptr(fd), uintptr(unsafe.Pointer(sa)), unsafe.Sizeof(*sa))
	if errno != 0 {
		return errno
	}
	return nil
}

func setsockopt(fd int, level, name int, val unsafe.Pointer, vallen uintptr) error {
	_, _, errno := unix.Syscall6(unix.SYS_SETSOCKOPT, uintptr(fd), uintptr(level), uintptr(name), uintptr(val), vallen, 0)
	if errno != 0 {
		return errno
	}
	return nil
}
