// Package gattclient implements a GATT client over an Attribute
// Protocol connection carried by L2CAP. It discovers a remote
// peripheral's primary services, characteristics, and descriptors, and
// exposes read/write/notify operations against them.
//
// The ATT codec and request pipeline live in ./att, the security
// escalator lives in ./security, and the discovery engine, service
// model, watcher registry, cache codec, and client facade live in
// ./gatt. This package holds the shared, client-facing types: the
// transport abstraction (Conn), the UUID and ATTError types, the
// logging interface, and the configuration options.
package gattclient
