package rpc

import (
	"bytes"
	"fmt"

	"github.com/marmos91/dnfs/pkg/xdr"
	xdr2 "github.com/rasky/go-xdr/xdr2"
)

// OpaqueAuth is the credential/verifier block carried by every call and
// accepted reply.
type OpaqueAuth struct {
	Flavor uint32
	Body   []byte
}

// NullAuth is the AUTH_NULL credential.
var NullAuth = OpaqueAuth{Flavor: AuthNull, Body: []byte{}}

// EncodeXDR writes opaque_auth as defined in RFC 5531 Section 8.2:
//
//	struct opaque_auth {
//	    auth_flavor flavor;
//	    opaque body<400>;
//	};
func (a *OpaqueAuth) EncodeXDR(w *xdr.Writer) {
	w.WriteUint32(a.Flavor)
	w.WriteOpaque(a.Body)
}

// DecodeXDR reads opaque_auth, failing on bodies longer than 400 bytes.
func (a *OpaqueAuth) DecodeXDR(r *xdr.Reader) {
	a.Flavor = r.ReadUint32()
	a.Body = r.ReadOpaque(MaxAuthBytes)
}

// CallHeader is the fixed part of an RPC call. Procedure arguments follow it
// on the wire.
//
// RFC 5531 Section 9 defines the call body as:
//
//	struct call_body {
//	    unsigned int rpcvers;       /* must be equal to two (2) */
//	    unsigned int prog;
//	    unsigned int vers;
//	    unsigned int proc;
//	    opaque_auth  cred;
//	    opaque_auth  verf;
//	    /* procedure-specific parameters start here */
//	};
//
// preceded by the xid and msg_type CALL (0).
type CallHeader struct {
	XID        uint32
	MsgType    uint32
	RPCVersion uint32
	Program    uint32
	Version    uint32
	Procedure  uint32
	Cred       OpaqueAuth
	Verf       OpaqueAuth
}

// EncodeCall builds a call message: the header followed by the encoded args.
// args may be nil for procedures without arguments.
func EncodeCall(h *CallHeader, args xdr.Encoder) ([]byte, error) {
	h.MsgType = uint32(MsgCall)
	h.RPCVersion = RPCVersion
	if h.Cred.Body == nil {
		h.Cred.Body = []byte{}
	}
	if h.Verf.Body == nil {
		h.Verf.Body = []byte{}
	}

	buf := bytes.NewBuffer(make([]byte, 0, 128))
	if _, err := xdr2.Marshal(buf, h); err != nil {
		return nil, fmt.Errorf("marshal call header: %w", err)
	}

	if args != nil {
		w := xdr.NewWriter(buf)
		args.EncodeXDR(w)
		if err := w.Err(); err != nil {
			return nil, fmt.Errorf("encode call arguments: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// DecodeCall parses a call header and returns it with the remaining argument
// bytes. Auth bodies are bounded by MaxAuthBytes.
func DecodeCall(message []byte) (*CallHeader, []byte, error) {
	rd := bytes.NewReader(message)
	r := xdr.NewReader(rd)

	h := &CallHeader{}
	h.XID = r.ReadUint32()
	h.MsgType = r.ReadUint32()
	if r.Err() == nil && h.MsgType != uint32(MsgCall) {
		return h, nil, fmt.Errorf("expected CALL (0), got %d", h.MsgType)
	}
	h.RPCVersion = r.ReadUint32()
	h.Program = r.ReadUint32()
	h.Version = r.ReadUint32()
	h.Procedure = r.ReadUint32()
	r.Read(&h.Cred)
	r.Read(&h.Verf)
	if err := r.Err(); err != nil {
		return h, nil, fmt.Errorf("decode call header: %w", err)
	}

	return h, message[len(message)-rd.Len():], nil
}

// MismatchInfo carries the lowest and highest supported versions.
type MismatchInfo struct {
	Low  uint32
	High uint32
}

// ReplyHeader is the decoded reply envelope. Only the fields selected by the
// ReplyStat/AcceptStat/RejectStat discriminants are meaningful.
//
// It covers reply_body of RFC 5531 Section 9, a union on reply_stat whose
// MSG_ACCEPTED arm is accepted_reply and whose MSG_DENIED arm is
// rejected_reply.
type ReplyHeader struct {
	XID        uint32
	ReplyStat  ReplyStat
	Verf       OpaqueAuth
	AcceptStat AcceptStat
	RejectStat RejectStat
	Mismatch   MismatchInfo
	AuthStat   AuthStat
}

// IsSuccess reports whether the call was accepted and executed.
func (h *ReplyHeader) IsSuccess() bool {
	return h.ReplyStat == MsgAccepted && h.AcceptStat == Success
}

// String summarizes the reply status, including the mismatch range or auth
// status where one applies.
func (h *ReplyHeader) String() string {
	switch h.ReplyStat {
	case MsgAccepted:
		if h.AcceptStat == ProgMismatch {
			return fmt.Sprintf("%s %s (low=%d high=%d)", h.ReplyStat, h.AcceptStat, h.Mismatch.Low, h.Mismatch.High)
		}
		return fmt.Sprintf("%s %s", h.ReplyStat, h.AcceptStat)
	case MsgDenied:
		if h.RejectStat == RPCMismatch {
			return fmt.Sprintf("%s %s (low=%d high=%d)", h.ReplyStat, h.RejectStat, h.Mismatch.Low, h.Mismatch.High)
		}
		return fmt.Sprintf("%s %s %s", h.ReplyStat, h.RejectStat, h.AuthStat)
	default:
		return h.ReplyStat.String()
	}
}

// EncodeXDR writes the reply_body of RFC 5531 Section 9 preceded by the xid
// and the REPLY message type:
//  1. XID (4 bytes)
//  2. msg_type REPLY (4 bytes)
//  3. reply_stat (4 bytes)
//  4. For MSG_ACCEPTED: verifier, accept_stat, and for PROG_MISMATCH the
//     low and high supported versions
//  5. For MSG_DENIED: reject_stat, followed by the version range for
//     RPC_MISMATCH or the auth_stat for AUTH_ERROR
//
// Procedure results are appended by the caller.
func (h *ReplyHeader) EncodeXDR(w *xdr.Writer) {
	w.WriteUint32(h.XID)
	w.WriteUint32(uint32(MsgReply))
	w.WriteUint32(uint32(h.ReplyStat))

	switch h.ReplyStat {
	case MsgAccepted:
		verf := h.Verf
		if verf.Body == nil {
			verf = NullAuth
		}
		w.Write(&verf)
		w.WriteUint32(uint32(h.AcceptStat))
		if h.AcceptStat == ProgMismatch {
			w.WriteUint32(h.Mismatch.Low)
			w.WriteUint32(h.Mismatch.High)
		}
	case MsgDenied:
		w.WriteUint32(uint32(h.RejectStat))
		switch h.RejectStat {
		case RPCMismatch:
			w.WriteUint32(h.Mismatch.Low)
			w.WriteUint32(h.Mismatch.High)
		case AuthError:
			w.WriteUint32(uint32(h.AuthStat))
		}
	}
}

// DecodeXDR reads a reply header, failing if the message is not a REPLY or
// carries an unknown discriminant.
func (h *ReplyHeader) DecodeXDR(r *xdr.Reader) {
	h.XID = r.ReadUint32()
	if mt := r.ReadUint32(); r.Err() == nil && mt != uint32(MsgReply) {
		r.Fail(fmt.Errorf("expected REPLY (1), got %d", mt))
		return
	}
	h.ReplyStat = ReplyStat(r.ReadUint32())

	switch h.ReplyStat {
	case MsgAccepted:
		r.Read(&h.Verf)
		h.AcceptStat = AcceptStat(r.ReadUint32())
		if h.AcceptStat == ProgMismatch {
			h.Mismatch.Low = r.ReadUint32()
			h.Mismatch.High = r.ReadUint32()
		}
	case MsgDenied:
		h.RejectStat = RejectStat(r.ReadUint32())
		switch h.RejectStat {
		case RPCMismatch:
			h.Mismatch.Low = r.ReadUint32()
			h.Mismatch.High = r.ReadUint32()
		case AuthError:
			h.AuthStat = AuthStat(r.ReadUint32())
		default:
			r.Fail(fmt.Errorf("unknown reject stat %d", h.RejectStat))
		}
	default:
		if r.Err() == nil {
			r.Fail(fmt.Errorf("unknown reply stat %d", h.ReplyStat))
		}
	}
}

// EncodeReply builds a reply message: the header followed by the already
// encoded result body (only sent for accepted successful replies).
func EncodeReply(h *ReplyHeader, body []byte) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, 28+len(body)))
	w := xdr.NewWriter(buf)
	h.EncodeXDR(w)
	if err := w.Err(); err != nil {
		return nil, fmt.Errorf("encode reply header: %w", err)
	}
	if h.IsSuccess() {
		buf.Write(body)
	}
	return buf.Bytes(), nil
}

// DecodeReply parses a reply header and returns it with the remaining result
// bytes.
func DecodeReply(message []byte) (*ReplyHeader, []byte, error) {
	rd := bytes.NewReader(message)
	r := xdr.NewReader(rd)

	h := &ReplyHeader{}
	h.DecodeXDR(r)
	if err := r.Err(); err != nil {
		return nil, nil, fmt.Errorf("decode reply header: %w", err)
	}
	return h, message[len(message)-rd.Len():], nil
}
