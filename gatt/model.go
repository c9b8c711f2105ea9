// Package gatt is the in-memory object tree and engine for a GATT
// client: a GattService per connected peer, holding an ordered list
// of Primary services, each holding an ordered list of Characteristics
// with their descriptors.
package gatt

import (
	"sync"

	gc "github.com/corvidlabs/gattclient"
)

// PeerID identifies a connected peer by its local/remote address pair,
// the key a GattService is registered under.
type PeerID struct {
	Local gc.Addr
	Peer  gc.Addr
}

// Descriptor holds the optional fields the discovery engine fills in
// for a characteristic beyond its declaration.
type Descriptor struct {
	UserDescription    *string
	PresentationFormat *[7]byte

	ClientConfigHandle uint16 // 0 if none was discovered.
	ClientConfig       uint16
}

// Characteristic is one GATT characteristic within a Primary. Fields
// are filled in progressively by discovery.
type Characteristic struct {
	mu sync.RWMutex

	ValueHandle uint16
	EndHandle   uint16
	Properties  byte
	UUID        gc.UUID

	value      []byte
	descriptor Descriptor
}

// Value returns the last-observed value, or nil if none has been read
// or notified yet.
func (c *Characteristic) Value() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// SetValue records a freshly read or notified value.
func (c *Characteristic) SetValue(v []byte) {
	c.mu.Lock()
	c.value = v
	c.mu.Unlock()
}

// Descriptor returns a copy of the characteristic's descriptor record.
func (c *Characteristic) Descriptor() Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.descriptor
}

// SetUserDescription records the 0x2901 descriptor value.
func (c *Characteristic) SetUserDescription(s string) {
	c.mu.Lock()
	c.descriptor.UserDescription = &s
	c.mu.Unlock()
}

// SetPresentationFormat records the 0x2904 descriptor value.
func (c *Characteristic) SetPresentationFormat(f [7]byte) {
	c.mu.Lock()
	c.descriptor.PresentationFormat = &f
	c.mu.Unlock()
}

// SetClientConfigHandle records where the 0x2902 descriptor lives.
func (c *Characteristic) SetClientConfigHandle(h uint16) {
	c.mu.Lock()
	c.descriptor.ClientConfigHandle = h
	c.mu.Unlock()
}

// SetClientConfig records the current CCCD bitmask value.
func (c *Characteristic) SetClientConfig(v uint16) {
	c.mu.Lock()
	c.descriptor.ClientConfig = v
	c.mu.Unlock()
}

// HasDescriptors reports whether [value_handle+1, end_handle] is a
// non-empty range. When it isn't, descriptor discovery is skipped but
// the value is still primed.
func (c *Characteristic) HasDescriptors() bool {
	return c.EndHandle >= c.ValueHandle+1
}

// Primary returns the Primary a Watcher is subscribed to.
func (w *Watcher) Primary() *Primary {
	return w.primary
}

// Watcher is a subscriber to a Primary's value-change notifications,
// keyed by (subscriber_id, subscriber_path).
type Watcher struct {
	SubscriberID   string
	SubscriberPath string

	primary *Primary
	handle  *Handle // the transport reference this watcher holds for its lifetime.

	// notify delivers one value change to the subscriber.
	notify func(path string, value []byte)
}

// Primary is one GATT primary service: an immutable handle range and
// UUID, plus the characteristics discovery fills in.
type Primary struct {
	StartHandle uint16
	EndHandle   uint16
	UUID        gc.UUID

	mu    sync.RWMutex
	chars []*Characteristic // ascending value handle.

	watchersMu sync.Mutex
	watchers   []*Watcher

	discovery *discoveryState // nil when idle; see discovery.go.
}

// NewPrimary constructs a Primary with its immutable identity fields
// set; characteristics are added as discovery runs or the cache is
// loaded.
func NewPrimary(start, end uint16, uuid gc.UUID) *Primary {
	return &Primary{StartHandle: start, EndHandle: end, UUID: uuid}
}

// Characteristics returns the current characteristic list, ordered by
// ascending value handle.
func (p *Primary) Characteristics() []*Characteristic {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Characteristic, len(p.chars))
	copy(out, p.chars)
	return out
}

// CharacteristicByHandle finds the characteristic owning value_handle,
// used to route Read/Write/notification/indication dispatch.
func (p *Primary) CharacteristicByHandle(handle uint16) *Characteristic {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, c := range p.chars {
		if c.ValueHandle == handle {
			return c
		}
	}
	return nil
}

// addCharacteristic inserts c in ascending value-handle order,
// matching existing entries by value handle rather than appending
// duplicates. Returns the characteristic actually present after the
// call (the existing one, if c.ValueHandle was already known).
func (p *Primary) addCharacteristic(c *Characteristic) *Characteristic {
	p.mu.Lock()
	defer p.mu.Unlock()
	at := len(p.chars)
	for i, existing := range p.chars {
		if existing.ValueHandle == c.ValueHandle {
			return existing
		}
		if existing.ValueHandle > c.ValueHandle && at == len(p.chars) {
			at = i
		}
	}
	p.chars = append(p.chars, nil)
	copy(p.chars[at+1:], p.chars[at:])
	p.chars[at] = c
	return c
}

// Watchers returns a snapshot of the Primary's current watcher list.
func (p *Primary) Watchers() []*Watcher {
	p.watchersMu.Lock()
	defer p.watchersMu.Unlock()
	out := make([]*Watcher, len(p.watchers))
	copy(out, p.watchers)
	return out
}

// GattService is the root object for one connected peer: an ordered
// list of Primary services sharing one transport handle.
type GattService struct {
	ID PeerID

	PSM     uint16 // 0 selects the fixed ATT CID.
	Primary []*Primary

	mu        sync.Mutex
	transport *Transport // nil until SetTransport installs one, and again once it is destroyed.
	listen    bool
}

// NewGattService constructs an empty GattService for id, with
// primaries pre-populated from the caller's already-discovered list.
func NewGattService(id PeerID, psm uint16, primaries []*Primary) *GattService {
	return &GattService{ID: id, PSM: psm, Primary: primaries}
}

// SetTransport installs conn as the service's transport, wrapping it
// in a refcounted Transport whose destroy hook clears this slot.
// Replacing an existing live transport is not supported; callers
// disconnect first.
func (s *GattService) SetTransport(conn gc.Conn, log gc.Logger) *Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transport = NewTransport(conn, log, func() {
		s.mu.Lock()
		s.transport = nil
		s.mu.Unlock()
	})
	return s.transport
}

// Acquire takes a reference on the service's current transport. It
// fails with ErrRemoteDisconnected if no transport is installed.
func (s *GattService) Acquire() (*Handle, error) {
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	if t == nil {
		return nil, gc.ErrRemoteDisconnected
	}
	return t.Acquire(), nil
}

// Transport returns the service's current transport, or nil.
func (s *GattService) Transport() *Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

// SetListen records whether the service is listening for unsolicited
// PDUs. The transport's lifetime follows its reference count alone:
// the flag is not consulted when the count reaches zero, and a watcher
// keeps the transport open by holding its own reference.
func (s *GattService) SetListen(listen bool) {
	s.mu.Lock()
	s.listen = listen
	s.mu.Unlock()
}

// PrimaryByStartHandle finds a Primary by its start handle, the cache
// and facade lookup key.
func (s *GattService) PrimaryByStartHandle(start uint16) *Primary {
	for _, p := range s.Primary {
		if p.StartHandle == start {
			return p
		}
	}
	return nil
}

// CharacteristicByHandle searches every Primary of s for the
// characteristic owning handle.
func (s *GattService) CharacteristicByHandle(handle uint16) (*Primary, *Characteristic) {
	for _, p := range s.Primary {
		if c := p.CharacteristicByHandle(handle); c != nil {
			return p, c
		}
	}
	return nil, nil
}
