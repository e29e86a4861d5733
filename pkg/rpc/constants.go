package rpc

import "fmt"

// RPCVersion is the only ONC RPC protocol version (RFC 5531).
const RPCVersion = 2

// Well-known program numbers and the versions this module speaks.
const (
	ProgramPortmap = 100000
	ProgramNFS     = 100003
	ProgramMount   = 100005

	PortmapVersion = 2
	NFSVersion     = 3
	MountVersion   = 3

	// PortmapPort is the fixed TCP port of the portmapper.
	PortmapPort = 111
)

// ProgramName returns a short label for a program number, used in logs and
// metric labels.
func ProgramName(program uint32) string {
	switch program {
	case ProgramPortmap:
		return "PORTMAP"
	case ProgramNFS:
		return "NFS"
	case ProgramMount:
		return "MOUNT"
	default:
		return fmt.Sprintf("PROG_%d", program)
	}
}

// MsgType discriminates call and reply bodies.
type MsgType uint32

const (
	MsgCall  MsgType = 0
	MsgReply MsgType = 1
)

// ReplyStat is the top-level status of a reply.
type ReplyStat uint32

const (
	MsgAccepted ReplyStat = 0
	MsgDenied   ReplyStat = 1
)

func (s ReplyStat) String() string {
	switch s {
	case MsgAccepted:
		return "MSG_ACCEPTED"
	case MsgDenied:
		return "MSG_DENIED"
	default:
		return fmt.Sprintf("REPLY_STAT_%d", uint32(s))
	}
}

// AcceptStat is the status of an accepted reply.
type AcceptStat uint32

const (
	Success      AcceptStat = 0
	ProgUnavail  AcceptStat = 1
	ProgMismatch AcceptStat = 2 // carries supported low/high versions
	ProcUnavail  AcceptStat = 3
	GarbageArgs  AcceptStat = 4
	SystemErr    AcceptStat = 5
)

func (s AcceptStat) String() string {
	switch s {
	case Success:
		return "SUCCESS"
	case ProgUnavail:
		return "PROG_UNAVAIL"
	case ProgMismatch:
		return "PROG_MISMATCH"
	case ProcUnavail:
		return "PROC_UNAVAIL"
	case GarbageArgs:
		return "GARBAGE_ARGS"
	case SystemErr:
		return "SYSTEM_ERR"
	default:
		return fmt.Sprintf("ACCEPT_STAT_%d", uint32(s))
	}
}

// RejectStat is the status of a denied reply.
type RejectStat uint32

const (
	RPCMismatch RejectStat = 0 // carries supported low/high RPC versions
	AuthError   RejectStat = 1 // carries an AuthStat
)

func (s RejectStat) String() string {
	switch s {
	case RPCMismatch:
		return "RPC_MISMATCH"
	case AuthError:
		return "AUTH_ERROR"
	default:
		return fmt.Sprintf("REJECT_STAT_%d", uint32(s))
	}
}

// AuthStat explains an AUTH_ERROR rejection.
type AuthStat uint32

const (
	AuthOK           AuthStat = 0
	AuthBadCred      AuthStat = 1
	AuthRejectedCred AuthStat = 2
	AuthBadVerf      AuthStat = 3
	AuthRejectedVerf AuthStat = 4
	AuthTooWeak      AuthStat = 5
)

func (s AuthStat) String() string {
	switch s {
	case AuthOK:
		return "AUTH_OK"
	case AuthBadCred:
		return "AUTH_BADCRED"
	case AuthRejectedCred:
		return "AUTH_REJECTEDCRED"
	case AuthBadVerf:
		return "AUTH_BADVERF"
	case AuthRejectedVerf:
		return "AUTH_REJECTEDVERF"
	case AuthTooWeak:
		return "AUTH_TOOWEAK"
	default:
		return fmt.Sprintf("AUTH_STAT_%d", uint32(s))
	}
}

// Authentication flavors.
const (
	AuthNull  uint32 = 0
	AuthUnix  uint32 = 1
	AuthShort uint32 = 2
	AuthDES   uint32 = 3
)

// MaxAuthBytes bounds the body of an opaque_auth (RFC 5531 section 8.2).
const MaxAuthBytes = 400
