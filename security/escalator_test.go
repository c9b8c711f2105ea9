package security

import (
	"context"
	"errors"
	"testing"

	gc "github.com/corvidlabs/gattclient"
)

type fakeConn struct {
	level    gc.SecurityLevel
	setCalls int
	setErr   error
}

func (c *fakeConn) Read(p []byte) (int, error)  { return 0, nil }
func (c *fakeConn) Write(p []byte) (int, error) { return len(p), nil }
func (c *fakeConn) Close() error                { return nil }

func (c *fakeConn) Context() context.Context      { return context.Background() }
func (c *fakeConn) SetContext(ctx context.Context) {}
func (c *fakeConn) LocalAddr() gc.Addr            { return nil }
func (c *fakeConn) RemoteAddr() gc.Addr           { return nil }
func (c *fakeConn) ReadRSSI() (int8, error)       { return 0, nil }
func (c *fakeConn) RxMTU() int                    { return gc.DefaultMTU }
func (c *fakeConn) SetRxMTU(int)                  {}
func (c *fakeConn) TxMTU() int                    { return gc.DefaultMTU }
func (c *fakeConn) SetTxMTU(int)                  {}
func (c *fakeConn) Disconnected() <-chan struct{} { return nil }

func (c *fakeConn) SecurityLevel() gc.SecurityLevel { return c.level }

func (c *fakeConn) SetSecurityLevel(level gc.SecurityLevel) error {
	c.setCalls++
	if c.setErr != nil {
		return c.setErr
	}
	c.level = level
	return nil
}

var _ gc.Conn = (*fakeConn)(nil)

func TestRunRetriesOnceAfterEscalation(t *testing.T) {
	conn := &fakeConn{level: gc.SecurityLow}

	calls := 0
	attempt := func() error {
		calls++
		if calls == 1 {
			return gc.ErrCodeInsuffEnc
		}
		return nil
	}

	if err := Run(conn, gc.SecurityMedium, attempt); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if calls != 2 {
		t.Fatalf("attempt called %d times, want 2", calls)
	}
	if conn.setCalls != 1 {
		t.Fatalf("SetSecurityLevel called %d times, want 1", conn.setCalls)
	}
	if conn.level != gc.SecurityMedium {
		t.Fatalf("level = %v, want %v", conn.level, gc.SecurityMedium)
	}
}

func TestRunDoesNotRetryASecondFailure(t *testing.T) {
	conn := &fakeConn{level: gc.SecurityLow}

	calls := 0
	attempt := func() error {
		calls++
		return gc.ErrCodeAuthentication
	}

	err := Run(conn, gc.SecurityMedium, attempt)
	if err != gc.ErrCodeAuthentication {
		t.Fatalf("Run() error = %v, want %v", err, gc.ErrCodeAuthentication)
	}
	if calls != 2 {
		t.Fatalf("attempt called %d times, want 2 (one retry, no third attempt)", calls)
	}
	if conn.setCalls != 1 {
		t.Fatalf("SetSecurityLevel called %d times, want 1", conn.setCalls)
	}
}

func TestRunSkipsRetryWhenAlreadyAtTarget(t *testing.T) {
	conn := &fakeConn{level: gc.SecurityHigh}

	calls := 0
	attempt := func() error {
		calls++
		return gc.ErrCodeInsuffEnc
	}

	err := Run(conn, gc.SecurityMedium, attempt)
	if err != gc.ErrCodeInsuffEnc {
		t.Fatalf("Run() error = %v, want %v", err, gc.ErrCodeInsuffEnc)
	}
	if calls != 1 {
		t.Fatalf("attempt called %d times, want 1", calls)
	}
	if conn.setCalls != 0 {
		t.Fatalf("SetSecurityLevel called %d times, want 0", conn.setCalls)
	}
}

func TestRunPassesThroughNonEscalatableErrors(t *testing.T) {
	conn := &fakeConn{level: gc.SecurityLow}
	wantErr := errors.New("boom")

	calls := 0
	attempt := func() error {
		calls++
		return wantErr
	}

	if err := Run(conn, gc.SecurityMedium, attempt); err != wantErr {
		t.Fatalf("Run() error = %v, want %v", err, wantErr)
	}
	if calls != 1 {
		t.Fatalf("attempt called %d times, want 1", calls)
	}
	if conn.setCalls != 0 {
		t.Fatalf("SetSecurityLevel called %d times, want 0", conn.setCalls)
	}
}
