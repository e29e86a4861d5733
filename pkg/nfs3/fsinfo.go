package nfs3

import "github.com/marmos91/dnfs/pkg/xdr"

// FSInfo is the static file system information returned by FSINFO.
type FSInfo struct {
	RtMax       uint32 // Maximum READ request size
	RtPref      uint32 // Preferred READ request size
	RtMult      uint32 // Suggested READ size multiple
	WtMax       uint32 // Maximum WRITE request size
	WtPref      uint32 // Preferred WRITE request size
	WtMult      uint32 // Suggested WRITE size multiple
	DtPref      uint32 // Preferred READDIR request size
	MaxFileSize uint64
	TimeDelta   Time // Server time granularity
	Properties  uint32
}

func (i *FSInfo) encode(w *xdr.Writer) {
	w.WriteUint32(i.RtMax)
	w.WriteUint32(i.RtPref)
	w.WriteUint32(i.RtMult)
	w.WriteUint32(i.WtMax)
	w.WriteUint32(i.WtPref)
	w.WriteUint32(i.WtMult)
	w.WriteUint32(i.DtPref)
	w.WriteUint64(i.MaxFileSize)
	i.TimeDelta.encode(w)
	w.WriteUint32(i.Properties)
}

func (i *FSInfo) decode(r *xdr.Reader) {
	i.RtMax = r.ReadUint32()
	i.RtPref = r.ReadUint32()
	i.RtMult = r.ReadUint32()
	i.WtMax = r.ReadUint32()
	i.WtPref = r.ReadUint32()
	i.WtMult = r.ReadUint32()
	i.DtPref = r.ReadUint32()
	i.MaxFileSize = r.ReadUint64()
	i.TimeDelta.decode(r)
	i.Properties = r.ReadUint32()
}

// FSStat holds the dynamic capacity counters returned by FSSTAT.
//
// Invarsec is the number of seconds for which the server expects the
// counters not to change. 0xFFFFFFFF means they never change.
type FSStat struct {
	TotalBytes uint64
	FreeBytes  uint64
	AvailBytes uint64
	TotalFiles uint64
	FreeFiles  uint64
	AvailFiles uint64
	Invarsec   uint32
}

func (s *FSStat) encode(w *xdr.Writer) {
	w.WriteUint64(s.TotalBytes)
	w.WriteUint64(s.FreeBytes)
	w.WriteUint64(s.AvailBytes)
	w.WriteUint64(s.TotalFiles)
	w.WriteUint64(s.FreeFiles)
	w.WriteUint64(s.AvailFiles)
	w.WriteUint32(s.Invarsec)
}

func (s *FSStat) decode(r *xdr.Reader) {
	s.TotalBytes = r.ReadUint64()
	s.FreeBytes = r.ReadUint64()
	s.AvailBytes = r.ReadUint64()
	s.TotalFiles = r.ReadUint64()
	s.FreeFiles = r.ReadUint64()
	s.AvailFiles = r.ReadUint64()
	s.Invarsec = r.ReadUint32()
}

// PathConf holds the POSIX limits returned by PATHCONF.
type PathConf struct {
	LinkMax         uint32
	NameMax         uint32
	NoTrunc         bool
	ChownRestricted bool
	CaseInsensitive bool
	CasePreserving  bool
}

func (p *PathConf) encode(w *xdr.Writer) {
	w.WriteUint32(p.LinkMax)
	w.WriteUint32(p.NameMax)
	w.WriteBool(p.NoTrunc)
	w.WriteBool(p.ChownRestricted)
	w.WriteBool(p.CaseInsensitive)
	w.WriteBool(p.CasePreserving)
}

func (p *PathConf) decode(r *xdr.Reader) {
	p.LinkMax = r.ReadUint32()
	p.NameMax = r.ReadUint32()
	p.NoTrunc = r.ReadBool()
	p.ChownRestricted = r.ReadBool()
	p.CaseInsensitive = r.ReadBool()
	p.CasePreserving = r.ReadBool()
}
