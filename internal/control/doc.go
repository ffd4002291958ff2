// Package control bridges one operator client and one data node.
//
// Ownership boundary:
// - the session: one client link, one dnode link, one worker goroutine
//
// - the wake protocol between the reactor loop and the worker
//
// - the client and dnode roles that translate each side's wire format
//
// Threads of control:
// - the Loop runs every connection open/close, all reads on both links and
// all client writes, one task at a time.
//
// - the worker sends each request to the dnode and waits for the loop to
// hand back the matching reply.
//
// Only the wake bits and the request/response slots are shared, and only
// under Session.mu. At most one request is in flight per session.
package control
