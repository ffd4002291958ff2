package control

import (
	"bytes"
	"net"
)

// Role is one side of the bridge. Start, Stop, Open, Close and Read run on
// the loop (Start and Stop run before and after it serves the session);
// Thread runs on the worker.
type Role interface {
	// Start and Stop bracket the session lifetime.
	Start(s *Session) error
	Stop(s *Session)

	// Open may refuse conn by returning an error. Close has no error path;
	// it logs instead.
	Open(s *Session, conn net.Conn) error
	Close(s *Session)

	// Read consumes complete units from in and leaves partial input buffered.
	Read(s *Session, in *bytes.Buffer) Why

	// Thread handles the wake bits routed to this role.
	Thread(s *Session, why Why)
}

type roleKind int

const (
	roleClient roleKind = iota
	roleDnode
)

func (k roleKind) String() string {
	if k == roleClient {
		return "client"
	}
	return "dnode"
}
