// Package raw implements the data node packet codec.
//
// Ownership boundary:
// - packet layouts for command (request, response, error) and streaming
// (subsample, full-sample) kinds
//
// - network byte order conversion and exact wire sizes
//
// - framing checks on receive (magic, pinned message type)
//
// - the register map: per-subsystem register counts and names
//
// Packets are plain values. Encoding always works on a fresh buffer, so a
// packet passed to Send stays valid for the caller afterwards.
package raw
