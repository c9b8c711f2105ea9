// Package security implements the one implicit retry the engine
// performs on its own: raising the transport's security level and
// reissuing a request that failed with INSUFF_ENC or AUTHENTICATION.
package security

import (
	"github.com/pkg/errors"

	gc "github.com/corvidlabs/gattclient"
)

// Attempt issues one request and reports its outcome. A non-nil err
// that is a gc.ATTError with NeedsEscalation() true triggers the
// retry; any other error, or nil, is returned as-is.
type Attempt func() error

// Run executes attempt, and if it fails with an escalatable ATT error
// code and the transport isn't already at target, raises the security
// level on conn and reissues attempt exactly once. Every operation
// that can hit INSUFF_ENC/AUTHENTICATION (reads, writes, CCCD writes)
// shares this single retry path instead of repeating it inline.
func Run(conn gc.Conn, target gc.SecurityLevel, attempt Attempt) error {
	err := attempt()
	attErr, ok := err.(gc.ATTError)
	if !ok || !attErr.NeedsEscalation() {
		return err
	}
	if conn.SecurityLevel() >= target {
		return err
	}
	if serr := conn.SetSecurityLevel(target); serr != nil {
		return errors.Wrap(serr, "security: raise level")
	}
	return attempt()
}
