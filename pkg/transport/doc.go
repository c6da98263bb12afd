// Package transport defines the datagram transport interfaces used by the
// bridge. netstack.Endpoint speaks OSC over them.
//
// Key concepts:
// - Transport: binds Listeners and dials Senders of a specific Kind (UDP, TCP, mem)
// - Listener: a bound socket delivering raw Packets
// - Sender: a socket connected to one remote address
// - Manager: caches Senders per remote address for replies to arbitrary peers
package transport
