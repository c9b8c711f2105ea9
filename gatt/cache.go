package gatt

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	gc "github.com/corvidlabs/gattclient"
)

// Store is the narrow storage-backend contract a cache uses: three
// string-keyed operations, with no knowledge of GATT semantics.
// store.FileStore is the reference implementation; any key/value
// backend satisfying this interface works.
type Store interface {
	ReadCharacteristics(local, peer gc.Addr, startHandle uint16) (string, bool, error)
	WriteCharacteristics(local, peer gc.Addr, startHandle uint16, payload string) error
	WriteAttribute(local, peer gc.Addr, handle uint16, payload string) error
}

// SerializeCharacteristics renders chars in the cache's wire format,
// one "value_handle#properties#end_handle#uuid" record per
// characteristic, space-separated.
func SerializeCharacteristics(chars []*Characteristic) string {
	records := make([]string, len(chars))
	for i, c := range chars {
		records[i] = fmt.Sprintf("%04X#%02X#%04X#%s", c.ValueHandle, c.Properties, c.EndHandle, hex.EncodeToString(c.UUID))
	}
	return strings.Join(records, " ")
}

// ParseCharacteristics inverts SerializeCharacteristics. Malformed
// records are skipped, matching the cache's best-effort role: a bad
// cache entry degrades to a fresh discovery, it never blocks one.
func ParseCharacteristics(payload string) []*Characteristic {
	var out []*Characteristic
	for _, record := range strings.Fields(payload) {
		fields := strings.Split(record, "#")
		if len(fields) != 4 {
			continue
		}
		valueHandle, err1 := strconv.ParseUint(fields[0], 16, 16)
		properties, err2 := strconv.ParseUint(fields[1], 16, 8)
		endHandle, err3 := strconv.ParseUint(fields[2], 16, 16)
		uuid, err4 := hex.DecodeString(fields[3])
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}
		out = append(out, &Characteristic{
			ValueHandle: uint16(valueHandle),
			Properties:  byte(properties),
			EndHandle:   uint16(endHandle),
			UUID:        gc.UUID(uuid),
		})
	}
	return out
}

// serializeAttribute renders the "<uuid-string>#<hex-bytes>" record
// for a single stored descriptor attribute.
func serializeAttribute(uuid gc.UUID, value []byte) string {
	return fmt.Sprintf("%s#%s", hex.EncodeToString(uuid), hex.EncodeToString(value))
}

// persistCharacteristics writes the freshly discovered layout of p to
// svc's store, keyed by (local, peer, start_handle).
func (e *Engine) persistCharacteristics(svc *GattService, p *Primary, chars []*Characteristic) {
	if e.Store == nil {
		return
	}
	payload := SerializeCharacteristics(chars)
	if err := e.Store.WriteCharacteristics(svc.ID.Local, svc.ID.Peer, p.StartHandle, payload); err != nil {
		e.Log.Warnf("gatt: persist characteristics for primary 0x%04x: %v", p.StartHandle, err)
	}
}

// persistAttribute writes one descriptor value to svc's store under
// its handle.
func (e *Engine) persistAttribute(svc *GattService, handle uint16, uuid gc.UUID, value []byte) {
	if e.Store == nil || svc == nil {
		return
	}
	payload := serializeAttribute(uuid, value)
	if err := e.Store.WriteAttribute(svc.ID.Local, svc.ID.Peer, handle, payload); err != nil {
		e.Log.Warnf("gatt: persist attribute 0x%04x: %v", handle, err)
	}
}

// LoadCharacteristics pre-populates p from svc's store, before any
// discovery runs. Reports whether a cached entry was found.
func (e *Engine) LoadCharacteristics(svc *GattService, p *Primary) (bool, error) {
	if e.Store == nil {
		return false, nil
	}
	payload, ok, err := e.Store.ReadCharacteristics(svc.ID.Local, svc.ID.Peer, p.StartHandle)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	for _, c := range ParseCharacteristics(payload) {
		p.addCharacteristic(c)
	}
	return true, nil
}
