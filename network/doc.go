// Package network publishes backing files for remote access over ZeroMQ and
// downloads them on another host.
//
// A Publisher binds a ROUTER socket and serves registered files by object
// id. A Fetcher connects with a DEALER socket, resolves a reference of the
// form
//
//	zmq+tcp://host:port/<object-id>
//
// and pulls the whole file in chunks. Every request is one JSON header
// frame; every reply is a JSON header frame followed by a payload frame,
// optionally zstd-compressed.
package network
