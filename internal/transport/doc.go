// Package transport owns how daqctl reaches its peers.
//
// Ownership boundary:
// - address parsing for tcp, unix and vsock endpoints
//
// - stream dial/listen for client and data node links
//
// - the UDP packet listener used by the sample path
//
// - reconnect backoff
package transport
