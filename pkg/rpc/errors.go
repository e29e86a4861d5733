package rpc

import (
	"errors"
	"fmt"
)

// Errors returned by program dispatchers. The server turns them into the
// matching accepted-reply status instead of a SYSTEM_ERR.
var (
	ErrProcUnavail = errors.New("procedure unavailable")
	ErrGarbageArgs = errors.New("garbage arguments")
)

// ProtocolError reports a reply that was not Accepted+Success. It carries the
// full reply header for diagnostics and is never retried.
type ProtocolError struct {
	Program   uint32
	Version   uint32
	Procedure uint32
	Reply     ReplyHeader
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("rpc: %s v%d proc %d: %s",
		ProgramName(e.Program), e.Version, e.Procedure, e.Reply.String())
}

// TransportError reports that a message could not be exchanged with addr
// after exhausting the retry budget. Err is the last underlying cause.
type TransportError struct {
	Addr     string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("unable to send RPC message to %s after %d attempt(s): %v", e.Addr, e.Attempts, e.Err)
}

// Unwrap returns the last cause, so that errors.Is can see context errors.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// XIDMismatchError reports a reply whose transaction id does not match the
// call it answers.
type XIDMismatchError struct {
	Want, Got uint32
}

func (e *XIDMismatchError) Error() string {
	return fmt.Sprintf("rpc: reply xid 0x%x does not match call xid 0x%x", e.Got, e.Want)
}
