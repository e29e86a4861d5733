// Package portmap implements the portmapper protocol (RFC 1057, program
// 100000 version 2): a client used to discover the TCP port of the MOUNT
// and NFS programs, and an embeddable registry served as an RPC program.
package portmap

import (
	"github.com/marmos91/dnfs/pkg/xdr"
)

// Procedure numbers.
const (
	ProcNull    uint32 = 0
	ProcSet     uint32 = 1
	ProcUnset   uint32 = 2
	ProcGetport uint32 = 3
	ProcDump    uint32 = 4
	ProcCallit  uint32 = 5 // not served
)

// Transport protocol numbers used in a Mapping.
const (
	ProtoTCP uint32 = 6
	ProtoUDP uint32 = 17
)

// maxDumpEntries bounds the mapping list accepted from a DUMP reply.
const maxDumpEntries = 4096

var procedureNames = map[uint32]string{
	ProcNull:    "NULL",
	ProcSet:     "SET",
	ProcUnset:   "UNSET",
	ProcGetport: "GETPORT",
	ProcDump:    "DUMP",
	ProcCallit:  "CALLIT",
}

// ProcedureName returns the name of a portmap procedure.
func ProcedureName(proc uint32) string {
	if name, ok := procedureNames[proc]; ok {
		return name
	}
	return "UNKNOWN"
}

// Mapping binds (program, version, protocol) to a port.
type Mapping struct {
	Prog uint32
	Vers uint32
	Prot uint32
	Port uint32
}

// EncodeXDR writes the mapping as defined in RFC 1833 Section 3:
//
//	struct mapping {
//	    unsigned int prog;
//	    unsigned int vers;
//	    unsigned int prot;
//	    unsigned int port;
//	};
func (m *Mapping) EncodeXDR(w *xdr.Writer) {
	w.WriteUint32(m.Prog)
	w.WriteUint32(m.Vers)
	w.WriteUint32(m.Prot)
	w.WriteUint32(m.Port)
}

func (m *Mapping) DecodeXDR(r *xdr.Reader) {
	m.Prog = r.ReadUint32()
	m.Vers = r.ReadUint32()
	m.Prot = r.ReadUint32()
	m.Port = r.ReadUint32()
}

// MappingList is the DUMP result: an XDR optional-data linked list of
// mappings.
type MappingList []Mapping

// EncodeXDR writes the pmaplist, one TRUE word before each mapping and a
// FALSE word at the end.
func (l *MappingList) EncodeXDR(w *xdr.Writer) {
	for i := range *l {
		w.WriteBool(true)
		w.Write(&(*l)[i])
	}
	w.WriteBool(false)
}

func (l *MappingList) DecodeXDR(r *xdr.Reader) {
	*l = (*l)[:0]
	for r.ReadBool() {
		if len(*l) >= maxDumpEntries {
			r.Fail(xdr.ErrLengthExceeded)
			return
		}
		var m Mapping
		r.Read(&m)
		if r.Err() != nil {
			return
		}
		*l = append(*l, m)
	}
}

type portResult struct {
	Port uint32
}

func (p *portResult) EncodeXDR(w *xdr.Writer) { w.WriteUint32(p.Port) }
func (p *portResult) DecodeXDR(r *xdr.Reader) { p.Port = r.ReadUint32() }

type boolResult struct {
	Value bool
}

func (b *boolResult) EncodeXDR(w *xdr.Writer) { w.WriteBool(b.Value) }
func (b *boolResult) DecodeXDR(r *xdr.Reader) { b.Value = r.ReadBool() }
