// Package store provides a reference on-disk implementation of the
// gatt package's narrow storage contract, keyed by (local address,
// peer address, attribute handle or Primary start handle).
package store

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	gc "github.com/corvidlabs/gattclient"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// record is the on-disk shape: two flat maps, one for per-Primary
// characteristic layouts and one for per-handle descriptor
// attributes, both keyed by a string built from (local, peer, handle).
type record struct {
	Characteristics map[string]string `json:"characteristics"`
	Attributes      map[string]string `json:"attributes"`
}

// FileStore persists GATT cache state as a single JSON file. It
// satisfies gatt.Store without importing it, keeping this package
// free of the GATT domain model.
type FileStore struct {
	path string

	mu   sync.Mutex
	data record
}

// Open loads path if it exists, or starts empty. The file is written
// lazily, on the first call that mutates state.
func Open(path string) (*FileStore, error) {
	fs := &FileStore{
		path: path,
		data: record{
			Characteristics: make(map[string]string),
			Attributes:      make(map[string]string),
		},
	}
	b, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fs, nil
		}
		return nil, errors.Wrap(err, "store: read cache file")
	}
	if len(b) == 0 {
		return fs, nil
	}
	if err := json.Unmarshal(b, &fs.data); err != nil {
		return nil, errors.Wrap(err, "store: decode cache file")
	}
	if fs.data.Characteristics == nil {
		fs.data.Characteristics = make(map[string]string)
	}
	if fs.data.Attributes == nil {
		fs.data.Attributes = make(map[string]string)
	}
	return fs, nil
}

func charKey(local, peer gc.Addr, startHandle uint16) string {
	return keyOf(local, peer, startHandle)
}

func attrKey(local, peer gc.Addr, handle uint16) string {
	return keyOf(local, peer, handle)
}

func keyOf(local, peer gc.Addr, handle uint16) string {
	return local.String() + "/" + peer.String() + "/" + hex16(handle)
}

func hex16(v uint16) string {
	const hexDigits = "0123456789abcdef"
	b := [4]byte{
		hexDigits[(v>>12)&0xf],
		hexDigits[(v>>8)&0xf],
		hexDigits[(v>>4)&0xf],
		hexDigits[v&0xf],
	}
	return string(b[:])
}

// ReadCharacteristics implements gatt.Store.
func (fs *FileStore) ReadCharacteristics(local, peer gc.Addr, startHandle uint16) (string, bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	payload, ok := fs.data.Characteristics[charKey(local, peer, startHandle)]
	return payload, ok, nil
}

// WriteCharacteristics implements gatt.Store.
func (fs *FileStore) WriteCharacteristics(local, peer gc.Addr, startHandle uint16, payload string) error {
	fs.mu.Lock()
	fs.data.Characteristics[charKey(local, peer, startHandle)] = payload
	fs.mu.Unlock()
	return fs.flush()
}

// WriteAttribute implements gatt.Store.
func (fs *FileStore) WriteAttribute(local, peer gc.Addr, handle uint16, payload string) error {
	fs.mu.Lock()
	fs.data.Attributes[attrKey(local, peer, handle)] = payload
	fs.mu.Unlock()
	return fs.flush()
}

// flush writes the current state to a temp file and renames it over
// fs.path, so a crash mid-write never leaves a truncated cache.
func (fs *FileStore) flush() error {
	fs.mu.Lock()
	b, err := json.MarshalIndent(fs.data, "", "  ")
	fs.mu.Unlock()
	if err != nil {
		return errors.Wrap(err, "store: encode cache file")
	}

	dir := filepath.Dir(fs.path)
	tmp, err := ioutil.TempFile(dir, ".gattcache-*")
	if err != nil {
		return errors.Wrap(err, "store: create temp cache file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "store: write temp cache file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "store: close temp cache file")
	}
	if err := os.Rename(tmpName, fs.path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "store: replace cache file")
	}
	return nil
}
