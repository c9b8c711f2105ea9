package gatt

import (
	"testing"
	"time"

	"github.com/corvidlabs/gattclient/att"

	gc "github.com/corvidlabs/gattclient"
)

// TestIndicationDispatchConfirmsAndNotifiesWatcher covers the case
// where a registered watcher receives (path, value) and the pipeline
// auto-confirms the indication.
func TestIndicationDispatchConfirmsAndNotifiesWatcher(t *testing.T) {
	p := NewPrimary(0x0010, 0x0015, gc.UUID16(0x1800))
	p.addCharacteristic(&Characteristic{ValueHandle: 0x0012, EndHandle: 0x0015, Properties: 0x10})
	_, svc, remote := newTestService(t, p)

	type change struct {
		path  string
		value []byte
	}
	notified := make(chan change, 1)
	if _, err := RegisterWatcher(svc, p, "sub1", "/sub1", func(path string, value []byte) {
		notified <- change{path, value}
	}); err != nil {
		t.Fatalf("RegisterWatcher() error = %v", err)
	}

	ind := append([]byte{att.HandleValueIndicationCode, 0x12, 0x00}, 0x77)
	if _, err := remote.Write(ind); err != nil {
		t.Fatalf("remote write indication: %v", err)
	}

	confirm := make([]byte, 1)
	remote.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := remote.Read(confirm); err != nil {
		t.Fatalf("remote read confirmation: %v", err)
	}
	if confirm[0] != att.HandleValueConfirmationCode {
		t.Fatalf("confirmation opcode = 0x%02x, want 0x%02x", confirm[0], att.HandleValueConfirmationCode)
	}

	select {
	case n := <-notified:
		if n.path != "service0010/char0012" {
			t.Errorf("watcher path = %q, want service0010/char0012", n.path)
		}
		if len(n.value) != 1 || n.value[0] != 0x77 {
			t.Errorf("watcher value = % x, want 77", n.value)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher was not notified")
	}

	c := p.CharacteristicByHandle(0x0012)
	if got := c.Value(); len(got) != 1 || got[0] != 0x77 {
		t.Errorf("characteristic value = % x, want 77", got)
	}
}

// TestNotificationForUnknownHandleIsDropped covers the case where a
// value push for a handle no characteristic owns is silently
// dropped, no watcher invoked, no error surfaced.
func TestNotificationForUnknownHandleIsDropped(t *testing.T) {
	p := NewPrimary(0x0010, 0x0015, gc.UUID16(0x1800))
	p.addCharacteristic(&Characteristic{ValueHandle: 0x0012, EndHandle: 0x0015, Properties: 0x10})
	_, svc, remote := newTestService(t, p)

	called := make(chan struct{}, 1)
	if _, err := RegisterWatcher(svc, p, "sub1", "/sub1", func(path string, value []byte) {
		called <- struct{}{}
	}); err != nil {
		t.Fatalf("RegisterWatcher() error = %v", err)
	}

	notif := []byte{att.HandleValueNotificationCode, 0xFF, 0xFF, 0x00}
	if _, err := remote.Write(notif); err != nil {
		t.Fatalf("remote write notification: %v", err)
	}

	select {
	case <-called:
		t.Fatal("watcher was invoked for an unknown handle")
	case <-time.After(200 * time.Millisecond):
	}

	if c := p.CharacteristicByHandle(0x0012); c.Value() != nil {
		t.Errorf("known characteristic value changed to % x, want nil", c.Value())
	}
}

// TestWriteThenReadRoundTripsWithoutNotification covers the
// round-trip property: write(ch, v); read(ch) == v in the absence of
// notifications.
func TestWriteThenReadRoundTripsWithoutNotification(t *testing.T) {
	p := NewPrimary(0x0010, 0x0015, gc.UUID16(0x1800))
	c := &Characteristic{ValueHandle: 0x0012, EndHandle: 0x0015, Properties: 0x0A}
	p.addCharacteristic(c)
	eng, svc, remote := newTestService(t, p)

	// Hold a reference across both operations: the transport is
	// destroyed as soon as its reference count drops to zero.
	keep, err := svc.Acquire()
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer keep.Release()

	go func() {
		req := readPDU(t, remote)
		if req[0] != att.WriteRequestCode {
			t.Errorf("opcode = 0x%02x, want Write Request", req[0])
		}
		writePDU(t, remote, []byte{att.WriteResponseCode})

		req = readPDU(t, remote)
		if req[0] != att.ReadRequestCode {
			t.Errorf("opcode = 0x%02x, want Read Request", req[0])
		}
		writePDU(t, remote, append([]byte{att.ReadResponseCode}, 0x01, 0x02, 0x03))
	}()

	if err := eng.WriteCharacteristicValue(svc, c, []byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("WriteCharacteristicValue() error = %v", err)
	}
	v, err := eng.ReadCharacteristicValue(svc, c)
	if err != nil {
		t.Fatalf("ReadCharacteristicValue() error = %v", err)
	}
	if string(v) != "\x01\x02\x03" {
		t.Fatalf("value = % x, want 01 02 03", v)
	}
}

// TestTransportRefCountTracksLiveOperationsAndWatchers covers the
// invariant that the refcount equals live operations + live watchers.
func TestTransportRefCountTracksLiveOperationsAndWatchers(t *testing.T) {
	p := NewPrimary(0x0010, 0x0015, gc.UUID16(0x1800))
	_, svc, _ := newTestService(t, p)

	tr := svc.Transport()
	if got := tr.RefCount(); got != 0 {
		t.Fatalf("initial RefCount() = %d, want 0", got)
	}

	h1, err := svc.Acquire()
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if got := tr.RefCount(); got != 1 {
		t.Fatalf("RefCount() after one acquire = %d, want 1", got)
	}

	w, err := RegisterWatcher(svc, p, "sub1", "/sub1", func(string, []byte) {})
	if err != nil {
		t.Fatalf("RegisterWatcher() error = %v", err)
	}
	if got := tr.RefCount(); got != 2 {
		t.Fatalf("RefCount() after watcher register = %d, want 2", got)
	}

	h1.Release()
	if got := tr.RefCount(); got != 1 {
		t.Fatalf("RefCount() after releasing the operation = %d, want 1", got)
	}

	if err := UnregisterWatcher(p, w.SubscriberID, w.SubscriberPath); err != nil {
		t.Fatalf("UnregisterWatcher() error = %v", err)
	}
	if got := tr.RefCount(); got != 0 {
		t.Fatalf("RefCount() after watcher unregister = %d, want 0", got)
	}
}

// TestUnregisterUnknownWatcherFailsNotAuthorised covers unregistering
// an unknown (subscriber_id, subscriber_path) pair.
func TestUnregisterUnknownWatcherFailsNotAuthorised(t *testing.T) {
	p := NewPrimary(0x0010, 0x0015, gc.UUID16(0x1800))
	err := UnregisterWatcher(p, "ghost", "/ghost")
	if err != gc.ErrUnauthorised {
		t.Fatalf("UnregisterWatcher() error = %v, want ErrUnauthorised", err)
	}
}
