package gatt

import gc "github.com/corvidlabs/gattclient"

import "testing"

func TestCharacteristicsRoundTripThroughSerialization(t *testing.T) {
	chars := []*Characteristic{
		{ValueHandle: 0x0013, EndHandle: 0x0015, Properties: 0x12, UUID: gc.UUID{0x29, 0x01}},
		{ValueHandle: 0x0016, EndHandle: 0x0016, Properties: 0x02, UUID: gc.UUID{0xAB, 0xCD, 0xEF, 0x01}},
	}

	payload := SerializeCharacteristics(chars)
	got := ParseCharacteristics(payload)

	if len(got) != len(chars) {
		t.Fatalf("parsed %d characteristics, want %d", len(got), len(chars))
	}
	for i, want := range chars {
		c := got[i]
		if c.ValueHandle != want.ValueHandle || c.EndHandle != want.EndHandle || c.Properties != want.Properties {
			t.Fatalf("record %d = %+v, want %+v", i, c, want)
		}
		if string(c.UUID) != string(want.UUID) {
			t.Fatalf("record %d UUID = % x, want % x", i, c.UUID, want.UUID)
		}
	}
}

func TestParseCharacteristicsSkipsMalformedRecords(t *testing.T) {
	payload := "0013#12#0015#2901 garbage 0016#02#0016#abcd"
	got := ParseCharacteristics(payload)
	if len(got) != 2 {
		t.Fatalf("parsed %d characteristics, want 2 (malformed record skipped)", len(got))
	}
	if got[0].ValueHandle != 0x0013 || got[1].ValueHandle != 0x0016 {
		t.Fatalf("unexpected handles: %04x, %04x", got[0].ValueHandle, got[1].ValueHandle)
	}
}

type memStore struct {
	chars map[string]string
	attrs map[string]string
}

func newMemStore() *memStore {
	return &memStore{chars: map[string]string{}, attrs: map[string]string{}}
}

func (m *memStore) key(local, peer gc.Addr, handle uint16) string {
	return local.String() + "|" + peer.String() + "|" + string(rune(handle))
}

func (m *memStore) ReadCharacteristics(local, peer gc.Addr, startHandle uint16) (string, bool, error) {
	v, ok := m.chars[m.key(local, peer, startHandle)]
	return v, ok, nil
}

func (m *memStore) WriteCharacteristics(local, peer gc.Addr, startHandle uint16, payload string) error {
	m.chars[m.key(local, peer, startHandle)] = payload
	return nil
}

func (m *memStore) WriteAttribute(local, peer gc.Addr, handle uint16, payload string) error {
	m.attrs[m.key(local, peer, handle)] = payload
	return nil
}

type testAddr string

func (a testAddr) Bytes() []byte  { return []byte(a) }
func (a testAddr) String() string { return string(a) }

func TestLoadCharacteristicsPrePopulatesFromStore(t *testing.T) {
	store := newMemStore()
	local, peer := testAddr("local"), testAddr("peer")
	chars := []*Characteristic{{ValueHandle: 0x0013, EndHandle: 0x0015, Properties: 0x12, UUID: gc.UUID{0x29, 0x01}}}
	store.chars[store.key(local, peer, 0x0010)] = SerializeCharacteristics(chars)

	engine := &Engine{Store: store, Log: gc.NopLogger{}}
	svc := NewGattService(PeerID{Local: local, Peer: peer}, 0, nil)
	p := NewPrimary(0x0010, 0x0020, gc.UUID{0x18, 0x00})

	found, err := engine.LoadCharacteristics(svc, p)
	if err != nil {
		t.Fatalf("LoadCharacteristics() error = %v", err)
	}
	if !found {
		t.Fatal("LoadCharacteristics() found = false, want true")
	}
	if len(p.Characteristics()) != 1 || p.Characteristics()[0].ValueHandle != 0x0013 {
		t.Fatalf("primary characteristics = %+v", p.Characteristics())
	}
}

func TestLoadCharacteristicsWithNilStoreIsNoop(t *testing.T) {
	engine := &Engine{Log: gc.NopLogger{}}
	svc := NewGattService(PeerID{Local: testAddr("l"), Peer: testAddr("p")}, 0, nil)
	p := NewPrimary(0x0010, 0x0020, gc.UUID{0x18, 0x00})

	found, err := engine.LoadCharacteristics(svc, p)
	if err != nil || found {
		t.Fatalf("LoadCharacteristics() = (%v, %v), want (false, nil)", found, err)
	}
}
