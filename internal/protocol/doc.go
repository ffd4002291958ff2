// Package protocol groups the wire contracts spoken by daqctl.
//
// Ownership boundary:
// - raw: data node packets and the register map
// - frame/tlv: client frame and payload primitives
// - schema/regio: client message validation and register I/O mapping
package protocol
