package rpc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	xdr2 "github.com/rasky/go-xdr/xdr2"
)

const (
	// MaxUnixGIDs is the maximum number of supplementary groups in AUTH_UNIX.
	MaxUnixGIDs = 16

	// MaxMachineNameLen is the maximum length of the AUTH_UNIX machine name.
	MaxMachineNameLen = 255
)

// UnixAuth is the body of an AUTH_UNIX (AUTH_SYS) credential.
type UnixAuth struct {
	Stamp       uint32
	MachineName string
	UID         uint32
	GID         uint32
	GIDs        []uint32
}

func (u *UnixAuth) validate() error {
	if len(u.MachineName) > MaxMachineNameLen {
		return fmt.Errorf("machine name too long: %d bytes (max %d)", len(u.MachineName), MaxMachineNameLen)
	}
	if len(u.GIDs) > MaxUnixGIDs {
		return fmt.Errorf("too many gids: %d (max %d)", len(u.GIDs), MaxUnixGIDs)
	}
	return nil
}

// OpaqueAuth encodes u as an AUTH_UNIX credential block.
func (u *UnixAuth) OpaqueAuth() (OpaqueAuth, error) {
	if err := u.validate(); err != nil {
		return OpaqueAuth{}, err
	}

	body := *u
	if body.GIDs == nil {
		body.GIDs = []uint32{}
	}

	var buf bytes.Buffer
	if _, err := xdr2.Marshal(&buf, &body); err != nil {
		return OpaqueAuth{}, fmt.Errorf("marshal AUTH_UNIX: %w", err)
	}
	return OpaqueAuth{Flavor: AuthUnix, Body: buf.Bytes()}, nil
}

func (u *UnixAuth) String() string {
	return fmt.Sprintf("AUTH_UNIX{stamp=%d machine=%q uid=%d gid=%d gids=%v}",
		u.Stamp, u.MachineName, u.UID, u.GID, u.GIDs)
}

// ParseUnixAuth decodes an AUTH_UNIX credential body.
func ParseUnixAuth(body []byte) (*UnixAuth, error) {
	if len(body) == 0 {
		return nil, errors.New("empty AUTH_UNIX body")
	}

	if err := checkUnixAuthBounds(body); err != nil {
		return nil, err
	}

	auth := &UnixAuth{}
	if _, err := xdr2.Unmarshal(bytes.NewReader(body), auth); err != nil {
		return nil, fmt.Errorf("unmarshal AUTH_UNIX: %w", err)
	}
	if err := auth.validate(); err != nil {
		return nil, err
	}
	if auth.GIDs == nil {
		auth.GIDs = []uint32{}
	}
	return auth, nil
}

// checkUnixAuthBounds validates the machine name length and gid count
// before decoding so a forged length cannot drive a large allocation.
func checkUnixAuthBounds(body []byte) error {
	if len(body) > MaxAuthBytes {
		return fmt.Errorf("AUTH_UNIX body too large: %d bytes", len(body))
	}
	if len(body) < 8 {
		return nil
	}

	nameLen := binary.BigEndian.Uint32(body[4:8])
	if nameLen > MaxMachineNameLen {
		return fmt.Errorf("machine name too long: %d bytes (max %d)", nameLen, MaxMachineNameLen)
	}

	gidsOffset := 8 + int(nameLen) + int((4-nameLen%4)%4) + 8
	if len(body) >= gidsOffset+4 {
		if n := binary.BigEndian.Uint32(body[gidsOffset : gidsOffset+4]); n > MaxUnixGIDs {
			return fmt.Errorf("too many gids: %d (max %d)", n, MaxUnixGIDs)
		}
	}
	return nil
}

// AuthContext is the caller identity handed to program handlers.
type AuthContext struct {
	Flavor     uint32
	Unix       *UnixAuth // nil unless Flavor is AuthUnix
	ClientAddr string
}

// UID returns the caller uid and whether one was supplied.
func (a *AuthContext) UID() (uint32, bool) {
	if a == nil || a.Unix == nil {
		return 0, false
	}
	return a.Unix.UID, true
}

// newAuthContext validates the call credential. Only AUTH_NULL and AUTH_UNIX
// are accepted.
func newAuthContext(cred OpaqueAuth, clientAddr string) (*AuthContext, AuthStat) {
	ctx := &AuthContext{Flavor: cred.Flavor, ClientAddr: clientAddr}

	switch cred.Flavor {
	case AuthNull:
		return ctx, AuthOK
	case AuthUnix:
		unix, err := ParseUnixAuth(cred.Body)
		if err != nil {
			return nil, AuthBadCred
		}
		ctx.Unix = unix
		return ctx, AuthOK
	default:
		return nil, AuthBadCred
	}
}
