package rpc

import (
	"context"
	"fmt"

	"github.com/marmos91/dnfs/pkg/xdr"
)

// LocalCaller calls a Program in-process. Arguments and results still go
// through their XDR encoding, so a client stack can run against an embedded
// server without a network.
type LocalCaller struct {
	Program Program

	// Auth is handed to the program as the caller identity. Nil means
	// AUTH_NULL from "local".
	Auth *AuthContext
}

// Call encodes args, dispatches them to the program in process and decodes
// the reply into res, exactly as a remote call would.
func (l *LocalCaller) Call(ctx context.Context, proc uint32, args xdr.Encoder, res xdr.Decoder) (err error) {
	var data []byte
	if args != nil {
		if data, err = xdr.Marshal(args); err != nil {
			return err
		}
	}

	auth := l.Auth
	if auth == nil {
		auth = &AuthContext{Flavor: AuthNull, ClientAddr: "local"}
	}

	header := &CallHeader{
		MsgType:    uint32(MsgCall),
		RPCVersion: RPCVersion,
		Program:    l.Program.Program(),
		Version:    l.Program.Version(),
		Procedure:  proc,
		Cred:       NullAuth,
		Verf:       NullAuth,
	}

	body, err := l.dispatch(ctx, &Call{Header: header, Auth: auth, Args: data})
	if stat := acceptStatus(err); stat != Success {
		return &ProtocolError{
			Program:   header.Program,
			Version:   header.Version,
			Procedure: proc,
			Reply:     ReplyHeader{ReplyStat: MsgAccepted, Verf: NullAuth, AcceptStat: stat},
		}
	}

	if res != nil {
		if err := xdr.Unmarshal(body, res); err != nil {
			return fmt.Errorf("%s %s: %w", ProgramName(header.Program), l.Program.ProcedureName(proc), err)
		}
	}
	return nil
}

func (l *LocalCaller) dispatch(ctx context.Context, call *Call) (body []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", l.Program.ProcedureName(call.Header.Procedure), r)
		}
	}()
	return l.Program.Dispatch(ctx, call)
}
