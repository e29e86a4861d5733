package rpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/dnfs/internal/logger"
)

// Program serves one version of one RPC program.
type Program interface {
	Program() uint32
	Version() uint32

	// ProcedureName labels proc in logs and metrics.
	ProcedureName(proc uint32) string

	// Dispatch decodes the arguments of call, runs the procedure and returns
	// the encoded result body. Returning ErrProcUnavail or ErrGarbageArgs
	// (possibly wrapped) selects the matching accepted-reply status; any
	// other error becomes SYSTEM_ERR.
	Dispatch(ctx context.Context, call *Call) ([]byte, error)
}

// Call is one decoded request handed to a Program.
type Call struct {
	Header *CallHeader
	Auth   *AuthContext
	Args   []byte
}

// ErrMalformedCall reports a message whose call header could not be decoded.
// No reply is sent for it.
var ErrMalformedCall = errors.New("malformed RPC call")

// HandleMessage processes one complete call record and returns the reply
// record. Every well-formed call gets a reply; the only error is
// ErrMalformedCall.
func (s *Server) HandleMessage(ctx context.Context, message []byte, clientAddr string) ([]byte, error) {
	header, args, err := DecodeCall(message)
	if err != nil {
		return nil, fmt.Errorf("%w from %s: %v", ErrMalformedCall, clientAddr, err)
	}

	reply := &ReplyHeader{XID: header.XID, ReplyStat: MsgAccepted, Verf: NullAuth}

	if header.RPCVersion != RPCVersion {
		logger.Debug("RPC call xid=0x%x from %s: unsupported RPC version %d", header.XID, clientAddr, header.RPCVersion)
		reply.ReplyStat = MsgDenied
		reply.RejectStat = RPCMismatch
		reply.Mismatch = MismatchInfo{Low: RPCVersion, High: RPCVersion}
		return EncodeReply(reply, nil)
	}

	auth, authStat := newAuthContext(header.Cred, clientAddr)
	if authStat != AuthOK {
		logger.Debug("RPC call xid=0x%x from %s: rejected credential flavor %d", header.XID, clientAddr, header.Cred.Flavor)
		reply.ReplyStat = MsgDenied
		reply.RejectStat = AuthError
		reply.AuthStat = authStat
		return EncodeReply(reply, nil)
	}

	program, mismatch := s.lookup(header.Program, header.Version)
	if program == nil {
		if mismatch != nil {
			logger.Debug("RPC call xid=0x%x from %s: %s version %d not served (%d-%d)",
				header.XID, clientAddr, ProgramName(header.Program), header.Version, mismatch.Low, mismatch.High)
			reply.AcceptStat = ProgMismatch
			reply.Mismatch = *mismatch
		} else {
			logger.Debug("RPC call xid=0x%x from %s: program %d unavailable", header.XID, clientAddr, header.Program)
			reply.AcceptStat = ProgUnavail
		}
		return EncodeReply(reply, nil)
	}

	programName := ProgramName(header.Program)
	procName := program.ProcedureName(header.Procedure)

	if unix := auth.Unix; unix != nil {
		logger.Debug("%s %s: xid=0x%x uid=%d gid=%d ngids=%d client=%s",
			programName, procName, header.XID, unix.UID, unix.GID, len(unix.GIDs), clientAddr)
	} else {
		logger.Debug("%s %s: xid=0x%x auth_flavor=%d client=%s",
			programName, procName, header.XID, auth.Flavor, clientAddr)
	}

	s.metrics.RecordRequestStart(programName, procName)
	start := time.Now()
	body, err := s.dispatch(ctx, program, &Call{Header: header, Auth: auth, Args: args})
	s.metrics.RecordRequest(programName, procName, time.Since(start), err)
	s.metrics.RecordRequestEnd(programName, procName)

	reply.AcceptStat = acceptStatus(err)
	switch reply.AcceptStat {
	case Success:
	case SystemErr:
		logger.Error("%s %s: xid=0x%x client=%s: %v", programName, procName, header.XID, clientAddr, err)
	default:
		logger.Debug("%s %s: %s from %s: %v", programName, procName, reply.AcceptStat, clientAddr, err)
	}

	return EncodeReply(reply, body)
}

// acceptStatus maps a Dispatch error to the accepted-reply status.
func acceptStatus(err error) AcceptStat {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, ErrProcUnavail):
		return ProcUnavail
	case errors.Is(err, ErrGarbageArgs):
		return GarbageArgs
	default:
		return SystemErr
	}
}

// dispatch runs one procedure, turning a panic into an error so a single bad
// request cannot take down its connection.
func (s *Server) dispatch(ctx context.Context, program Program, call *Call) (body []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s %s: %v",
				ProgramName(call.Header.Program), program.ProcedureName(call.Header.Procedure), r)
		}
	}()
	return program.Dispatch(ctx, call)
}
