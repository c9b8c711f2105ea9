package gatt

import (
	"fmt"
	"sync"

	gc "github.com/corvidlabs/gattclient"
)

// PrimaryDecl is one entry of the caller-supplied, already-discovered
// primary-service list a registration takes as input: (start, end,
// uuid).
type PrimaryDecl struct {
	Start uint16
	End   uint16
	UUID  gc.UUID
}

// key renders a PeerID as a map key. Addr implementations aren't
// guaranteed comparable (one backed by a byte slice is not), so the
// registry keys on the string form rather than the PeerID value
// itself.
func (id PeerID) key() string {
	return id.Local.String() + "|" + id.Peer.String()
}

// Registry is the explicit, facade-owned peer service list, scoped to
// one *Client rather than held globally.
type Registry struct {
	mu       sync.Mutex
	services map[string]*GattService
}

// NewRegistry returns an empty peer registry.
func NewRegistry() *Registry {
	return &Registry{services: make(map[string]*GattService)}
}

// Get looks up a registered GattService by peer identity.
func (r *Registry) Get(id PeerID) (*GattService, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	svc, ok := r.services[id.key()]
	return svc, ok
}

func (r *Registry) put(svc *GattService) {
	r.mu.Lock()
	r.services[svc.ID.key()] = svc
	r.mu.Unlock()
}

func (r *Registry) delete(id PeerID) {
	r.mu.Lock()
	delete(r.services, id.key())
	r.mu.Unlock()
}

// Client is the top-level GATT client facade: it owns the peer
// registry, the discovery engine, and the configuration both share.
type Client struct {
	Cfg      gc.Config
	Engine   *Engine
	Registry *Registry
}

// NewClient builds a facade with the given configuration, persisting
// discovered layouts through store (nil disables caching).
func NewClient(cfg gc.Config, store Store) *Client {
	eng := NewEngine(cfg)
	eng.Store = store
	return &Client{Cfg: cfg, Engine: eng, Registry: NewRegistry()}
}

// Register constructs the GattService, loads any cached
// characteristic layout per Primary before any discovery runs, and
// returns the path of every Primary and already-cached
// Characteristic.
func (cli *Client) Register(id PeerID, psm uint16, conn gc.Conn, decls []PrimaryDecl) ([]string, error) {
	if _, exists := cli.Registry.Get(id); exists {
		return nil, gc.ErrInvalidArgs
	}

	primaries := make([]*Primary, len(decls))
	for i, d := range decls {
		primaries[i] = NewPrimary(d.Start, d.End, d.UUID)
	}
	svc := NewGattService(id, psm, primaries)
	if conn != nil {
		svc.SetTransport(conn, cli.Cfg.Logger)
	}
	cli.Registry.put(svc)

	var paths []string
	for _, p := range primaries {
		paths = append(paths, PrimaryPath(p))
		if _, err := cli.Engine.LoadCharacteristics(svc, p); err != nil {
			cli.Cfg.Logger.Warnf("gatt: load cached characteristics for primary 0x%04x: %v", p.StartHandle, err)
		}
		for _, c := range p.Characteristics() {
			paths = append(paths, CharacteristicPath(p, c))
		}
	}
	return paths, nil
}

// Unregister implements unregister: unpublish every
// object of the peer's service and release it. The published-object
// side is the caller's (external publisher's) job; this releases the
// engine-owned state.
func (cli *Client) Unregister(id PeerID) error {
	svc, ok := cli.Registry.Get(id)
	if !ok {
		return gc.ErrInvalidArgs
	}
	if t := svc.Transport(); t != nil {
		t.Disconnect()
	}
	cli.Registry.delete(id)
	return nil
}

// Disconnect implements disconnect: cancels outstanding
// discoveries and releases transport references held by current
// operations, without unpublishing anything.
func (cli *Client) Disconnect(id PeerID) error {
	svc, ok := cli.Registry.Get(id)
	if !ok {
		return gc.ErrInvalidArgs
	}
	if t := svc.Transport(); t != nil {
		t.Disconnect()
	}
	return nil
}

// DiscoverCharacteristics implements the per-service IPC operation of
// the same name: runs characteristic and descriptor
// discovery for the Primary starting at startHandle.
func (cli *Client) DiscoverCharacteristics(id PeerID, startHandle uint16) (<-chan DiscoveryResult, error) {
	svc, p, err := cli.lookup(id, startHandle)
	if err != nil {
		return nil, err
	}
	h, err := svc.Acquire()
	if err != nil {
		return nil, err
	}
	return cli.Engine.DiscoverCharacteristics(h, svc, p)
}

// RegisterWatcher implements the per-service IPC operation
// RegisterCharacteristicsWatcher.
func (cli *Client) RegisterWatcher(id PeerID, startHandle uint16, subscriberID, subscriberPath string, notify func(path string, value []byte)) (*Watcher, error) {
	svc, p, err := cli.lookup(id, startHandle)
	if err != nil {
		return nil, err
	}
	return RegisterWatcher(svc, p, subscriberID, subscriberPath, notify)
}

// UnregisterWatcher implements the per-service IPC operation
// UnregisterCharacteristicsWatcher.
func (cli *Client) UnregisterWatcher(id PeerID, startHandle uint16, subscriberID, subscriberPath string) error {
	svc, p, err := cli.lookup(id, startHandle)
	if err != nil {
		return err
	}
	return UnregisterWatcher(p, subscriberID, subscriberPath)
}

// ReadValue implements the per-characteristic IPC operation
// UpdateValue / the "Value" half of GetProperties.
func (cli *Client) ReadValue(id PeerID, startHandle, valueHandle uint16) ([]byte, error) {
	svc, c, err := cli.lookupChar(id, startHandle, valueHandle)
	if err != nil {
		return nil, err
	}
	return cli.Engine.ReadCharacteristicValue(svc, c)
}

// WriteValue implements the per-characteristic IPC operation
// SetProperty("Value", ...).
func (cli *Client) WriteValue(id PeerID, startHandle, valueHandle uint16, value []byte) error {
	svc, c, err := cli.lookupChar(id, startHandle, valueHandle)
	if err != nil {
		return err
	}
	return cli.Engine.WriteCharacteristicValue(svc, c, value)
}

// WriteClientConfiguration implements the per-characteristic IPC
// operation SetProperty("ClientConfiguration", ...).
func (cli *Client) WriteClientConfiguration(id PeerID, startHandle, valueHandle uint16, value uint16) error {
	svc, c, err := cli.lookupChar(id, startHandle, valueHandle)
	if err != nil {
		return err
	}
	return cli.Engine.WriteClientConfiguration(svc, c, value)
}

func (cli *Client) lookup(id PeerID, startHandle uint16) (*GattService, *Primary, error) {
	svc, ok := cli.Registry.Get(id)
	if !ok {
		return nil, nil, gc.ErrInvalidArgs
	}
	p := svc.PrimaryByStartHandle(startHandle)
	if p == nil {
		return nil, nil, gc.ErrInvalidArgs
	}
	return svc, p, nil
}

func (cli *Client) lookupChar(id PeerID, startHandle, valueHandle uint16) (*GattService, *Characteristic, error) {
	svc, p, err := cli.lookup(id, startHandle)
	if err != nil {
		return nil, nil, err
	}
	c := p.CharacteristicByHandle(valueHandle)
	if c == nil {
		return nil, nil, gc.ErrInvalidArgs
	}
	return svc, c, nil
}

// PrimaryPath renders the object-publisher path for a Primary, keyed
// by its start handle.
func PrimaryPath(p *Primary) string {
	return fmt.Sprintf("service%04x", p.StartHandle)
}

// CharacteristicPath renders the object-publisher path for a
// characteristic, nested under its owning Primary's path.
func CharacteristicPath(p *Primary, c *Characteristic) string {
	return fmt.Sprintf("%s/char%04x", PrimaryPath(p), c.ValueHandle)
}
