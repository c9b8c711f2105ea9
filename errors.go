package gattclient

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the client's synchronous operations.
var (
	// ErrInvalidArgs is returned synchronously for a caller-supplied
	// value that isn't a byte array, or a missing parameter.
	ErrInvalidArgs = errors.New("gattclient: invalid arguments")

	// ErrUnauthorised is returned synchronously when unregistering a
	// watcher that was never registered.
	ErrUnauthorised = errors.New("gattclient: not authorised")

	// ErrDiscoveryInProgress is returned when DiscoverCharacteristics is
	// called on a Primary that already has a discovery in flight.
	ErrDiscoveryInProgress = errors.New("gattclient: discovery already in progress")

	// ErrDiscoveryTimeout is the synthetic failure delivered when the
	// discovery watchdog fires before the last characteristic completes.
	ErrDiscoveryTimeout = errors.New("gattclient: discover characteristic values timed out")

	// ErrRemoteDisconnected is the synthetic TransportFailure delivered
	// to all pending operations when the remote hangs up.
	ErrRemoteDisconnected = errors.New("gattclient: remote disconnected")

	// ErrUpdateValueFailed is surfaced for a Read Value failure that
	// isn't resolved by security escalation.
	ErrUpdateValueFailed = errors.New("gattclient: update characteristic value failed")

	// ErrMalformedPDU marks a PDU shorter than the minimum length for
	// its opcode; such PDUs are logged and dropped.
	ErrMalformedPDU = errors.New("gattclient: malformed PDU")
)

// ATTError is an error code carried by an ATT Error Response
// [Vol 3, Part F, 3.4.1.1].
type ATTError byte

// Error codes the security escalator and discovery engine inspect, plus
// the general set an Error Response may carry.
const (
	ErrCodeInvalidHandle     ATTError = 0x01
	ErrCodeReadNotPermitted  ATTError = 0x02
	ErrCodeWriteNotPermitted ATTError = 0x03
	ErrCodeInvalidPDU        ATTError = 0x04
	ErrCodeAuthentication    ATTError = 0x05
	ErrCodeReqNotSupported   ATTError = 0x06
	ErrCodeInvalidOffset     ATTError = 0x07
	ErrCodeAuthorization     ATTError = 0x08
	ErrCodeAttrNotFound      ATTError = 0x0a
	ErrCodeInsuffEncKeySize  ATTError = 0x0c
	ErrCodeInvalidAttrLen    ATTError = 0x0d
	ErrCodeInsuffEnc         ATTError = 0x0f
)

var attErrName = map[ATTError]string{
	ErrCodeInvalidHandle:     "invalid handle",
	ErrCodeReadNotPermitted:  "read not permitted",
	ErrCodeWriteNotPermitted: "write not permitted",
	ErrCodeInvalidPDU:        "invalid PDU",
	ErrCodeAuthentication:    "insufficient authentication",
	ErrCodeReqNotSupported:   "request not supported",
	ErrCodeInvalidOffset:     "invalid offset",
	ErrCodeAuthorization:     "insufficient authorization",
	ErrCodeAttrNotFound:      "attribute not found",
	ErrCodeInsuffEncKeySize:  "insufficient encryption key size",
	ErrCodeInvalidAttrLen:    "invalid attribute value length",
	ErrCodeInsuffEnc:         "insufficient encryption",
}

func (e ATTError) Error() string {
	if name, ok := attErrName[e]; ok {
		return name
	}
	return fmt.Sprintf("ATT error 0x%02x", byte(e))
}

// NeedsEscalation reports whether this error code is one the security
// escalator retries after raising the link's security level.
func (e ATTError) NeedsEscalation() bool {
	return e == ErrCodeInsuffEnc || e == ErrCodeAuthentication
}
