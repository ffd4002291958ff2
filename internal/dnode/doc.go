// Package dnode emulates a data node: a register file served over the raw
// command protocol and a full-sample streamer.
package dnode
