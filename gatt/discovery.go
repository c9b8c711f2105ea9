package gatt

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/corvidlabs/gattclient/security"

	gc "github.com/corvidlabs/gattclient"
)

// Status is a Primary's discovery state, tracked as an explicit state
// machine rather than a chain of closures over a shared query context.
type Status int

const (
	Idle Status = iota
	CharsPending
	DescriptorsPending
	Done
	Failed
)

// discoveryState tracks one in-flight discovery for a Primary. A
// Primary has at most one at a time.
type discoveryState struct {
	mu          sync.Mutex
	status      Status
	outstanding int
}

func (d *discoveryState) setStatus(s Status) {
	d.mu.Lock()
	d.status = s
	d.mu.Unlock()
}

func (d *discoveryState) setOutstanding(n int) {
	d.mu.Lock()
	d.outstanding = n
	d.mu.Unlock()
}

// DiscoveryResult is delivered when a discovery procedure completes,
// successfully or not.
type DiscoveryResult struct {
	Paths []string
	Err   error
}

// beginDiscovery installs a fresh discoveryState on p, or reports
// ErrDiscoveryInProgress if one is already running.
func (p *Primary) beginDiscovery() (*discoveryState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.discovery != nil {
		return nil, gc.ErrDiscoveryInProgress
	}
	ds := &discoveryState{status: CharsPending}
	p.discovery = ds
	return ds, nil
}

func (p *Primary) endDiscovery() {
	p.mu.Lock()
	p.discovery = nil
	p.mu.Unlock()
}

// DiscoveryState reports the Primary's current discovery status, Idle
// if none is running.
func (p *Primary) DiscoveryState() Status {
	p.mu.RLock()
	ds := p.discovery
	p.mu.RUnlock()
	if ds == nil {
		return Idle
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.status
}

// Engine drives characteristic and descriptor discovery over one
// Transport handle per Primary, persisting results through Store.
type Engine struct {
	Cfg   gc.Config
	Store Store // may be nil: discovery still works, just isn't cached.
	Log   gc.Logger
}

// NewEngine returns a discovery engine bound to cfg, with no Store. A
// nil cfg.Logger falls back to NopLogger.
func NewEngine(cfg gc.Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = gc.NopLogger{}
	}
	return &Engine{Cfg: cfg, Store: nil, Log: log}
}

// DiscoverCharacteristics runs "Discover All Characteristics of a
// Service" followed by per-characteristic descriptor/value discovery,
// asynchronously. h is consumed: its reference is released when the
// procedure terminates, by timeout or completion.
func (e *Engine) DiscoverCharacteristics(h *Handle, svc *GattService, p *Primary) (<-chan DiscoveryResult, error) {
	ds, err := p.beginDiscovery()
	if err != nil {
		h.Release()
		return nil, err
	}
	out := make(chan DiscoveryResult, 1)
	go e.runDiscovery(h, svc, p, ds, out)
	return out, nil
}

func (e *Engine) runDiscovery(h *Handle, svc *GattService, p *Primary, ds *discoveryState, out chan<- DiscoveryResult) {
	defer h.Release()
	defer p.endDiscovery()

	t := h.Transport()

	if err := e.discoverChars(t, p); err != nil {
		ds.setStatus(Failed)
		out <- DiscoveryResult{Err: err}
		return
	}

	chars := p.Characteristics()
	if svc != nil {
		e.persistCharacteristics(svc, p, chars)
	}

	if len(chars) == 0 {
		ds.setStatus(Done)
		out <- DiscoveryResult{}
		return
	}

	ds.setStatus(DescriptorsPending)
	ds.setOutstanding(len(chars))

	timeout := e.Cfg.GATTTimeout
	if timeout <= 0 {
		timeout = gc.DefaultGATTTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	reset := make(chan struct{}, len(chars)*8)
	var wg sync.WaitGroup
	for _, c := range chars {
		wg.Add(1)
		ch := t.Acquire()
		go func(c *Characteristic, ch *Handle) {
			defer wg.Done()
			defer ch.Release()
			e.discoverOneCharacteristic(ch, svc, c, reset)
		}(c, ch)
	}

	allDone := make(chan struct{})
	go func() { wg.Wait(); close(allDone) }()

	for {
		select {
		case <-allDone:
			ds.setStatus(Done)
			out <- DiscoveryResult{Paths: characteristicPaths(p, chars)}
			return
		case <-reset:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(timeout)
		case <-timer.C:
			ds.setStatus(Failed)
			out <- DiscoveryResult{Err: gc.ErrDiscoveryTimeout}
			return
		}
	}
}

// charDecl is one parsed entry of a Characteristic declaration
// (Read By Type response) [Vol 3, Part F, 3.4.4.2].
type charDecl struct {
	declHandle  uint16
	valueHandle uint16
	properties  byte
	uuid        gc.UUID
}

func parseCharDecls(entryLen int, data []byte) []charDecl {
	if entryLen < 5 {
		return nil
	}
	var out []charDecl
	for len(data) >= entryLen {
		entry := data[:entryLen]
		data = data[entryLen:]
		out = append(out, charDecl{
			declHandle:  binary.LittleEndian.Uint16(entry[0:2]),
			properties:  entry[2],
			valueHandle: binary.LittleEndian.Uint16(entry[3:5]),
			uuid:        gc.UUID(append([]byte(nil), entry[5:]...)),
		})
	}
	return out
}

// discoverChars paginates Read By Type over [p.StartHandle,
// p.EndHandle], patching end_handle as each new declaration arrives.
func (e *Engine) discoverChars(t *Transport, p *Primary) error {
	start := p.StartHandle
	end := p.EndHandle
	var prev *Characteristic

	existing := p.Characteristics()
	if len(existing) > 0 {
		prev = existing[len(existing)-1]
	}

	for start <= end {
		entryLen, data, err := t.ATT.ReadByType(start, end, gc.CharacteristicUUID)
		if err != nil {
			if ae, ok := err.(gc.ATTError); ok && ae == gc.ErrCodeAttrNotFound {
				break
			}
			return err
		}
		decls := parseCharDecls(entryLen, data)
		if len(decls) == 0 {
			break
		}
		for _, d := range decls {
			c := &Characteristic{ValueHandle: d.valueHandle, Properties: d.properties, UUID: d.uuid}
			c = p.addCharacteristic(c)
			if prev != nil && prev != c && prev.EndHandle == 0 {
				prev.EndHandle = d.declHandle - 1
			}
			prev = c
		}
		start = decls[len(decls)-1].declHandle + 1
	}

	if prev != nil {
		prev.EndHandle = p.EndHandle
	}
	return nil
}

// discoverOneCharacteristic runs descriptor enumeration (if any) for
// one characteristic, then a priming Read of the value itself.
func (e *Engine) discoverOneCharacteristic(ch *Handle, svc *GattService, c *Characteristic, reset chan<- struct{}) {
	t := ch.Transport()
	if c.HasDescriptors() {
		e.discoverDescriptors(t, svc, c, reset)
	}

	v, err := e.readWithEscalation(ch, c.ValueHandle)
	reset <- struct{}{}
	if err != nil {
		e.Log.Warnf("gatt: priming value for handle 0x%04x: %v", c.ValueHandle, err)
		return
	}
	c.SetValue(v)
}

func (e *Engine) discoverDescriptors(t *Transport, svc *GattService, c *Characteristic, reset chan<- struct{}) {
	start := c.ValueHandle + 1
	end := c.EndHandle

	for start <= end {
		format, data, err := t.ATT.FindInformation(start, end)
		reset <- struct{}{}
		if err != nil {
			if ae, ok := err.(gc.ATTError); ok && ae == gc.ErrCodeAttrNotFound {
				return
			}
			e.Log.Warnf("gatt: find information 0x%04x-0x%04x: %v", start, end, err)
			return
		}

		entrySize := 4
		if format == 2 {
			entrySize = 18
		}
		var lastHandle uint16
		for len(data) >= entrySize {
			entry := data[:entrySize]
			data = data[entrySize:]
			handle := binary.LittleEndian.Uint16(entry[0:2])
			lastHandle = handle
			if format != 1 {
				continue // 128-bit UUID entries are skipped.
			}
			uuid := gc.UUID(append([]byte(nil), entry[2:4]...))
			e.readDescriptor(t, svc, c, handle, uuid, reset)
		}
		if lastHandle == 0 {
			return
		}
		start = lastHandle + 1
	}
}

func (e *Engine) readDescriptor(t *Transport, svc *GattService, c *Characteristic, handle uint16, uuid gc.UUID, reset chan<- struct{}) {
	switch {
	case uuid.Equal(gc.ClientConfigUUID):
		c.SetClientConfigHandle(handle)
		v, err := t.ATT.Read(handle)
		reset <- struct{}{}
		if err != nil {
			e.Log.Warnf("gatt: read client config 0x%04x: %v", handle, err)
			return
		}
		if len(v) < 2 {
			e.Log.Warnf("gatt: client config 0x%04x too short", handle)
			return
		}
		c.SetClientConfig(binary.LittleEndian.Uint16(v))
		e.persistAttribute(svc, handle, uuid, v)

	case uuid.Equal(gc.UserDescriptionUUID):
		v, err := t.ATT.Read(handle)
		reset <- struct{}{}
		if err != nil {
			e.Log.Warnf("gatt: read user description 0x%04x: %v", handle, err)
			return
		}
		c.SetUserDescription(string(v))
		e.persistAttribute(svc, handle, uuid, v)

	case uuid.Equal(gc.PresentationFmtUUID):
		v, err := t.ATT.Read(handle)
		reset <- struct{}{}
		if err != nil {
			e.Log.Warnf("gatt: read presentation format 0x%04x: %v", handle, err)
			return
		}
		if len(v) < 7 {
			e.Log.Warnf("gatt: presentation format 0x%04x too short", handle)
			return
		}
		var f [7]byte
		copy(f[:], v[:7])
		c.SetPresentationFormat(f)
		e.persistAttribute(svc, handle, uuid, v)

	default:
		reset <- struct{}{}
	}
}

// readWithEscalation wraps a Read Value in the security escalator.
func (e *Engine) readWithEscalation(ch *Handle, handle uint16) ([]byte, error) {
	t := ch.Transport()
	var value []byte
	err := security.Run(t.Conn, e.Cfg.EscalatedSecurity, func() error {
		v, err := t.ATT.Read(handle)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	return value, err
}

// characteristicPaths renders the path list a discovery reply carries.
// Path shape is CharacteristicPath's:
// "service<start-handle>/char<value-handle>", four hex digits each.
func characteristicPaths(p *Primary, chars []*Characteristic) []string {
	paths := make([]string, len(chars))
	for i, c := range chars {
		paths[i] = CharacteristicPath(p, c)
	}
	return paths
}
