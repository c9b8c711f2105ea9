package gatt

import (
	"github.com/corvidlabs/gattclient/att"
	"github.com/corvidlabs/gattclient/security"

	gc "github.com/corvidlabs/gattclient"
)

// ReadCharacteristicValue implements Read Value: acquire
// a transport reference, issue Read, escalate once on
// INSUFF_ENC/AUTHENTICATION, update the cached value on success.
func (e *Engine) ReadCharacteristicValue(svc *GattService, c *Characteristic) ([]byte, error) {
	h, err := svc.Acquire()
	if err != nil {
		return nil, err
	}
	defer h.Release()

	v, err := e.readWithEscalation(h, c.ValueHandle)
	if err != nil {
		if _, ok := err.(gc.ATTError); ok {
			return nil, gc.ErrUpdateValueFailed
		}
		return nil, err
	}
	c.SetValue(v)
	return v, nil
}

// WriteCharacteristicValue implements Write Value.
// Long-write chunking is deliberately absent: a payload longer than
// mtu-3 is rejected by att.Client.Write, surfaced here as
// ErrInvalidArgs.
func (e *Engine) WriteCharacteristicValue(svc *GattService, c *Characteristic, value []byte) error {
	h, err := svc.Acquire()
	if err != nil {
		return err
	}
	defer h.Release()

	t := h.Transport()
	err = security.Run(t.Conn, e.Cfg.EscalatedSecurity, func() error {
		return t.ATT.Write(c.ValueHandle, value)
	})
	if err != nil {
		if _, ok := err.(gc.ATTError); ok {
			return gc.ErrInvalidArgs
		}
		return err
	}
	c.SetValue(value)
	return nil
}

// WriteClientConfiguration implements Write Client
// Configuration: identical escalation rules to Write Value, targeting
// the characteristic's Client Characteristic Configuration handle.
func (e *Engine) WriteClientConfiguration(svc *GattService, c *Characteristic, value uint16) error {
	d := c.Descriptor()
	if d.ClientConfigHandle == 0 {
		return gc.ErrInvalidArgs
	}

	h, err := svc.Acquire()
	if err != nil {
		return err
	}
	defer h.Release()

	buf := []byte{byte(value), byte(value >> 8)}
	t := h.Transport()
	err = security.Run(t.Conn, e.Cfg.EscalatedSecurity, func() error {
		return t.ATT.Write(d.ClientConfigHandle, buf)
	})
	if err != nil {
		if _, ok := err.(gc.ATTError); ok {
			return gc.ErrInvalidArgs
		}
		return err
	}
	c.SetClientConfig(value)
	return nil
}

// ValueDispatcher routes notifications and indications arriving on a
// GattService's transport to the owning characteristic and its
// Primary's watchers. It implements att.Handler.
type ValueDispatcher struct {
	Svc *GattService
	Log gc.Logger
}

var _ att.Handler = (*ValueDispatcher)(nil)

// Handle is called by the ATT pipeline for every 0x1B/0x1D PDU; the
// Confirmation for a 0x1D has already been sent by the time this runs.
func (d *ValueDispatcher) Handle(opcode byte, pdu []byte) {
	var handle uint16
	var value []byte
	switch opcode {
	case att.HandleValueNotificationCode:
		n := att.HandleValueNotification(pdu)
		handle, value = n.AttributeHandle(), n.AttributeValue()
	case att.HandleValueIndicationCode:
		n := att.HandleValueIndication(pdu)
		handle, value = n.AttributeHandle(), n.AttributeValue()
	default:
		return
	}

	p, c := d.Svc.CharacteristicByHandle(handle)
	if c == nil {
		d.Log.Warnf("gatt: value change for unknown handle 0x%04x", handle)
		return
	}
	c.SetValue(value)

	path := CharacteristicPath(p, c)
	for _, w := range p.Watchers() {
		dispatchToWatcher(w, path, value, d.Log)
	}
}

// dispatchToWatcher delivers one value change best-effort: a failed
// delivery is logged, never retried.
func dispatchToWatcher(w *Watcher, path string, value []byte, log gc.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Warnf("gatt: watcher %s/%s panicked on value change: %v", w.SubscriberID, w.SubscriberPath, r)
		}
	}()
	if w.notify == nil {
		return
	}
	w.notify(path, value)
}
