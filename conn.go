package gattclient

import (
	"context"
	"io"
)

// Addr identifies one end of a connection by its Bluetooth device
// address.
type Addr interface {
	// Bytes returns the 6-byte device address.
	Bytes() []byte
	String() string
}

// Conn is the narrow interface this package needs from the underlying
// L2CAP connection. Establishing the connection itself — socket setup,
// PSM/CID selection, pairing — is an external collaborator's job (see
// ./l2cap for one concrete implementation); this package only reads,
// writes, and tracks MTU/lifetime over an already-open channel.
type Conn interface {
	io.ReadWriteCloser

	// Context returns the context associated with this Conn.
	Context() context.Context

	// SetContext replaces the context associated with this Conn.
	SetContext(ctx context.Context)

	// LocalAddr returns the local device's address.
	LocalAddr() Addr

	// RemoteAddr returns the remote device's address.
	RemoteAddr() Addr

	// ReadRSSI returns the remote device's current RSSI.
	ReadRSSI() (int8, error)

	// RxMTU returns the ATT_MTU the local device is capable of accepting.
	RxMTU() int

	// SetRxMTU sets the ATT_MTU the local device is capable of accepting.
	SetRxMTU(mtu int)

	// TxMTU returns the ATT_MTU the remote device is capable of accepting.
	TxMTU() int

	// SetTxMTU sets the ATT_MTU the remote device is capable of accepting.
	SetTxMTU(mtu int)

	// Disconnected returns a channel that is closed when the connection
	// drops, for any reason (remote hangup, local close, link-layer error).
	Disconnected() <-chan struct{}

	// SecurityLevel reports the connection's current L2CAP security level.
	SecurityLevel() SecurityLevel

	// SetSecurityLevel raises (or lowers) the connection's L2CAP security
	// level. Used by the security escalator (see ./security) to respond
	// to INSUFF_ENC/AUTHENTICATION errors.
	SetSecurityLevel(level SecurityLevel) error
}
