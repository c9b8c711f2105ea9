package gatt

import (
	"github.com/corvidlabs/gattclient/att"

	gc "github.com/corvidlabs/gattclient"
)

// RegisterWatcher implements register_watcher: acquire a
// transport reference in listen mode, make sure notification and
// indication handlers are installed on the pipeline, and append the
// watcher to p. No disconnection hook is installed: the watcher is
// dropped, and its reference released, only by UnregisterWatcher or
// OnSubscriberDisconnect. Appending duplicate
// (subscriber_id, subscriber_path) pairs is permitted.
func RegisterWatcher(svc *GattService, p *Primary, subscriberID, subscriberPath string, notify func(path string, value []byte)) (*Watcher, error) {
	h, err := svc.Acquire()
	if err != nil {
		return nil, err
	}
	svc.SetListen(true)

	ensureValueDispatcher(svc, h.Transport())

	w := &Watcher{
		SubscriberID:   subscriberID,
		SubscriberPath: subscriberPath,
		primary:        p,
		handle:         h,
		notify:         notify,
	}

	p.watchersMu.Lock()
	p.watchers = append(p.watchers, w)
	p.watchersMu.Unlock()

	return w, nil
}

// UnregisterWatcher implements unregister_watcher: find
// the watcher by (subscriber_id, subscriber_path), remove it and
// release its transport reference. Fails with ErrUnauthorised if no
// such watcher is registered.
func UnregisterWatcher(p *Primary, subscriberID, subscriberPath string) error {
	p.watchersMu.Lock()
	defer p.watchersMu.Unlock()

	for i, w := range p.watchers {
		if w.SubscriberID == subscriberID && w.SubscriberPath == subscriberPath {
			p.watchers = append(p.watchers[:i], p.watchers[i+1:]...)
			w.handle.Release()
			return nil
		}
	}
	return gc.ErrUnauthorised
}

// OnSubscriberDisconnect drops every watcher registered under
// subscriberID across every Primary of svc, releasing each one's
// transport reference. Run silently: no error surfaced, the
// subscriber is already gone.
func OnSubscriberDisconnect(svc *GattService, subscriberID string) {
	for _, p := range svc.Primary {
		p.watchersMu.Lock()
		kept := p.watchers[:0]
		for _, w := range p.watchers {
			if w.SubscriberID == subscriberID {
				w.handle.Release()
				continue
			}
			kept = append(kept, w)
		}
		p.watchers = kept
		p.watchersMu.Unlock()
	}
}

// ensureValueDispatcher registers the value-change dispatcher on t's
// ATT pipeline for Notification and Indication opcodes, once per
// transport instance.
func ensureValueDispatcher(svc *GattService, t *Transport) {
	t.mu.Lock()
	already := t.dispatcherInstalled
	t.dispatcherInstalled = true
	t.mu.Unlock()
	if already {
		return
	}
	d := &ValueDispatcher{Svc: svc, Log: gc.NopLogger{}}
	t.ATT.RegisterHandler(att.HandleValueNotificationCode, d)
	t.ATT.RegisterHandler(att.HandleValueIndicationCode, d)
}
