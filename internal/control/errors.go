package control

import "errors"

var (
	ErrBusy         = errors.New("control: command received while another is being processed")
	ErrNoDnode      = errors.New("control: not connected to data node")
	ErrHookFailed   = errors.New("control: hook failed")
	ErrState        = errors.New("control: invalid session state")
	ErrIDMismatch   = errors.New("control: response r_id does not match request")
	ErrDnodeError   = errors.New("control: data node sent an error packet")
	ErrDnodeTimeout = errors.New("control: data node reply timed out")
	ErrNotRequest   = errors.New("control: submitted packet is not a request")
)
