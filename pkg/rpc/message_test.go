package rpc

import (
	"encoding/binary"
	"testing"

	"github.com/marmos91/dnfs/pkg/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// words builds an XDR message from 32-bit words.
func words(values ...uint32) []byte {
	var out []byte
	for _, v := range values {
		out = binary.BigEndian.AppendUint32(out, v)
	}
	return out
}

type stringArgs struct {
	Value string
}

func (a *stringArgs) EncodeXDR(w *xdr.Writer) { w.WriteString(a.Value) }
func (a *stringArgs) DecodeXDR(r *xdr.Reader) { a.Value = r.ReadString(1024) }

// ============================================================================
// Call Envelope Tests
// ============================================================================

func TestCallEnvelope(t *testing.T) {
	t.Run("EncodesWireLayout", func(t *testing.T) {
		header := &CallHeader{XID: 0x1234, Program: ProgramNFS, Version: NFSVersion, Procedure: 1}

		message, err := EncodeCall(header, nil)
		require.NoError(t, err)

		expected := words(0x1234, 0, 2, ProgramNFS, NFSVersion, 1, 0, 0, 0, 0)
		assert.Equal(t, expected, message)
	})

	t.Run("RoundTripsWithArguments", func(t *testing.T) {
		cred, err := (&UnixAuth{Stamp: 7, MachineName: "client", UID: 501, GID: 20, GIDs: []uint32{12}}).OpaqueAuth()
		require.NoError(t, err)

		header := &CallHeader{XID: 99, Program: ProgramMount, Version: MountVersion, Procedure: 1, Cred: cred}
		message, err := EncodeCall(header, &stringArgs{Value: "/export"})
		require.NoError(t, err)

		decoded, args, err := DecodeCall(message)
		require.NoError(t, err)
		assert.Equal(t, uint32(99), decoded.XID)
		assert.Equal(t, uint32(RPCVersion), decoded.RPCVersion)
		assert.Equal(t, uint32(ProgramMount), decoded.Program)
		assert.Equal(t, uint32(1), decoded.Procedure)
		assert.Equal(t, cred, decoded.Cred)
		assert.Equal(t, AuthNull, decoded.Verf.Flavor)

		var got stringArgs
		require.NoError(t, xdr.Unmarshal(args, &got))
		assert.Equal(t, "/export", got.Value)
	})

	t.Run("RejectsReplyMessage", func(t *testing.T) {
		_, _, err := DecodeCall(words(1, 1, 0))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expected CALL")
	})

	t.Run("RejectsOversizedCredential", func(t *testing.T) {
		message := words(1, 0, 2, ProgramNFS, 3, 0, AuthUnix, MaxAuthBytes+4)

		_, _, err := DecodeCall(message)
		require.Error(t, err)
	})

	t.Run("RejectsTruncatedHeader", func(t *testing.T) {
		_, _, err := DecodeCall(words(1, 0, 2))
		require.Error(t, err)
	})
}

// ============================================================================
// Reply Envelope Tests
// ============================================================================

func TestReplyEnvelope(t *testing.T) {
	t.Run("EncodesSuccessWithBody", func(t *testing.T) {
		reply := &ReplyHeader{XID: 5, ReplyStat: MsgAccepted, AcceptStat: Success}

		message, err := EncodeReply(reply, words(42))
		require.NoError(t, err)
		assert.Equal(t, words(5, 1, 0, 0, 0, 0, 42), message)

		decoded, body, err := DecodeReply(message)
		require.NoError(t, err)
		assert.True(t, decoded.IsSuccess())
		assert.Equal(t, words(42), body)
	})

	t.Run("OmitsBodyOnFailure", func(t *testing.T) {
		reply := &ReplyHeader{XID: 5, ReplyStat: MsgAccepted, AcceptStat: SystemErr}

		message, err := EncodeReply(reply, words(42))
		require.NoError(t, err)
		assert.Equal(t, words(5, 1, 0, 0, 0, uint32(SystemErr)), message)
	})

	t.Run("RoundTripsProgMismatch", func(t *testing.T) {
		reply := &ReplyHeader{XID: 6, ReplyStat: MsgAccepted, AcceptStat: ProgMismatch, Mismatch: MismatchInfo{Low: 2, High: 3}}

		message, err := EncodeReply(reply, nil)
		require.NoError(t, err)

		decoded, _, err := DecodeReply(message)
		require.NoError(t, err)
		assert.Equal(t, ProgMismatch, decoded.AcceptStat)
		assert.Equal(t, MismatchInfo{Low: 2, High: 3}, decoded.Mismatch)
		assert.Contains(t, decoded.String(), "PROG_MISMATCH")
	})

	t.Run("RoundTripsRPCMismatch", func(t *testing.T) {
		reply := &ReplyHeader{XID: 7, ReplyStat: MsgDenied, RejectStat: RPCMismatch, Mismatch: MismatchInfo{Low: 2, High: 2}}

		message, err := EncodeReply(reply, nil)
		require.NoError(t, err)
		assert.Equal(t, words(7, 1, 1, 0, 2, 2), message)

		decoded, _, err := DecodeReply(message)
		require.NoError(t, err)
		assert.False(t, decoded.IsSuccess())
		assert.Equal(t, RPCMismatch, decoded.RejectStat)
	})

	t.Run("RoundTripsAuthError", func(t *testing.T) {
		reply := &ReplyHeader{XID: 8, ReplyStat: MsgDenied, RejectStat: AuthError, AuthStat: AuthTooWeak}

		message, err := EncodeReply(reply, nil)
		require.NoError(t, err)

		decoded, _, err := DecodeReply(message)
		require.NoError(t, err)
		assert.Equal(t, AuthTooWeak, decoded.AuthStat)
		assert.Equal(t, "MSG_DENIED AUTH_ERROR AUTH_TOOWEAK", decoded.String())
	})

	t.Run("RejectsCallMessage", func(t *testing.T) {
		_, _, err := DecodeReply(words(1, 0, 0))
		require.Error(t, err)
	})

	t.Run("RejectsUnknownReplyStat", func(t *testing.T) {
		_, _, err := DecodeReply(words(1, 1, 9))
		require.Error(t, err)
	})
}
