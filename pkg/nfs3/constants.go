// Package nfs3 implements the NFS version 3 protocol (RFC 1813): the file
// handle and attribute model, the status codes, the XDR shape of every
// procedure's arguments and results, client call-builders and a server
// dispatcher over a Handler.
//
// Every procedure is described once as an Args/Result pair. The client
// encodes Args and decodes Result; the server does the reverse, so both sides
// share one codec per procedure.
package nfs3

// NFSv3 procedure numbers (RFC 1813 section 3).
const (
	// ProcNull - Do nothing (connectivity test)
	ProcNull uint32 = 0

	// ProcGetAttr - Get file attributes
	ProcGetAttr uint32 = 1

	// ProcSetAttr - Set file attributes
	ProcSetAttr uint32 = 2

	// ProcLookup - Lookup filename
	ProcLookup uint32 = 3

	// ProcAccess - Check access permission
	ProcAccess uint32 = 4

	// ProcReadLink - Read symbolic link
	ProcReadLink uint32 = 5

	// ProcRead - Read from file
	ProcRead uint32 = 6

	// ProcWrite - Write to file
	ProcWrite uint32 = 7

	// ProcCreate - Create a file
	ProcCreate uint32 = 8

	// ProcMkdir - Create a directory
	ProcMkdir uint32 = 9

	// ProcSymlink - Create a symbolic link
	ProcSymlink uint32 = 10

	// ProcMknod - Create a special device
	ProcMknod uint32 = 11

	// ProcRemove - Remove a file
	ProcRemove uint32 = 12

	// ProcRmdir - Remove a directory
	ProcRmdir uint32 = 13

	// ProcRename - Rename a file or directory
	ProcRename uint32 = 14

	// ProcLink - Create a hard link
	ProcLink uint32 = 15

	// ProcReadDir - Read directory entries
	ProcReadDir uint32 = 16

	// ProcReadDirPlus - Extended read directory (with attributes and handles)
	ProcReadDirPlus uint32 = 17

	// ProcFsStat - Get dynamic file system information
	ProcFsStat uint32 = 18

	// ProcFsInfo - Get static file system information
	ProcFsInfo uint32 = 19

	// ProcPathConf - Get POSIX information
	ProcPathConf uint32 = 20

	// ProcCommit - Commit cached data to stable storage
	ProcCommit uint32 = 21
)

var procedureNames = [...]string{
	ProcNull:        "NULL",
	ProcGetAttr:     "GETATTR",
	ProcSetAttr:     "SETATTR",
	ProcLookup:      "LOOKUP",
	ProcAccess:      "ACCESS",
	ProcReadLink:    "READLINK",
	ProcRead:        "READ",
	ProcWrite:       "WRITE",
	ProcCreate:      "CREATE",
	ProcMkdir:       "MKDIR",
	ProcSymlink:     "SYMLINK",
	ProcMknod:       "MKNOD",
	ProcRemove:      "REMOVE",
	ProcRmdir:       "RMDIR",
	ProcRename:      "RENAME",
	ProcLink:        "LINK",
	ProcReadDir:     "READDIR",
	ProcReadDirPlus: "READDIRPLUS",
	ProcFsStat:      "FSSTAT",
	ProcFsInfo:      "FSINFO",
	ProcPathConf:    "PATHCONF",
	ProcCommit:      "COMMIT",
}

// ProcedureName returns the RFC 1813 name of proc, or "UNKNOWN".
func ProcedureName(proc uint32) string {
	if proc < uint32(len(procedureNames)) {
		return procedureNames[proc]
	}
	return "UNKNOWN"
}

// Protocol limits.
const (
	// MaxHandleLen is NFS3_FHSIZE.
	MaxHandleLen = 64

	// MaxNameLen bounds a single path component.
	MaxNameLen = 255

	// MaxPathLen bounds symlink targets.
	MaxPathLen = 1024

	// VerifierSize is the size of cookie, create and write verifiers.
	VerifierSize = 8

	// MaxDataLen bounds READ and WRITE payloads accepted by the decoder.
	MaxDataLen = 32 << 20

	// maxDirEntries bounds the entry list accepted from a READDIR reply.
	maxDirEntries = 1 << 20
)

// FileType is ftype3.
type FileType uint32

const (
	// FileTypeRegular indicates a regular file
	FileTypeRegular FileType = 1

	// FileTypeDirectory indicates a directory
	FileTypeDirectory FileType = 2

	// FileTypeBlock indicates a block special device file
	FileTypeBlock FileType = 3

	// FileTypeChar indicates a character special device file
	FileTypeChar FileType = 4

	// FileTypeSymlink indicates a symbolic link
	FileTypeSymlink FileType = 5

	// FileTypeSocket indicates a socket
	FileTypeSocket FileType = 6

	// FileTypeFIFO indicates a named pipe
	FileTypeFIFO FileType = 7
)

func (t FileType) String() string {
	switch t {
	case FileTypeRegular:
		return "NF3REG"
	case FileTypeDirectory:
		return "NF3DIR"
	case FileTypeBlock:
		return "NF3BLK"
	case FileTypeChar:
		return "NF3CHR"
	case FileTypeSymlink:
		return "NF3LNK"
	case FileTypeSocket:
		return "NF3SOCK"
	case FileTypeFIFO:
		return "NF3FIFO"
	default:
		return "NF3_UNKNOWN"
	}
}

// ACCESS permission bits (RFC 1813 section 3.3.4).
const (
	AccessRead    uint32 = 0x0001
	AccessLookup  uint32 = 0x0002
	AccessModify  uint32 = 0x0004
	AccessExtend  uint32 = 0x0008
	AccessDelete  uint32 = 0x0010
	AccessExecute uint32 = 0x0020

	AccessAll = AccessRead | AccessLookup | AccessModify | AccessExtend | AccessDelete | AccessExecute
)

// StableHow is the stable_how write commitment level.
type StableHow uint32

const (
	Unstable StableHow = 0
	DataSync StableHow = 1
	FileSync StableHow = 2
)

func (s StableHow) String() string {
	switch s {
	case Unstable:
		return "UNSTABLE"
	case DataSync:
		return "DATA_SYNC"
	case FileSync:
		return "FILE_SYNC"
	default:
		return "STABLE_UNKNOWN"
	}
}

// CreateMode is createmode3.
type CreateMode uint32

const (
	// CreateUnchecked creates the file or truncates an existing one.
	CreateUnchecked CreateMode = 0

	// CreateGuarded fails with NFS3ERR_EXIST when the name exists.
	CreateGuarded CreateMode = 1

	// CreateExclusive creates the file atomically using a client verifier.
	CreateExclusive CreateMode = 2
)

// TimeHow is time_how, selecting how SETATTR updates a timestamp.
type TimeHow uint32

const (
	DontChange      TimeHow = 0
	SetToServerTime TimeHow = 1
	SetToClientTime TimeHow = 2
)

// FSINFO property flags (RFC 1813 section 3.3.19).
const (
	FSFLink        uint32 = 0x0001 // Hard links supported
	FSFSymlink     uint32 = 0x0002 // Symbolic links supported
	FSFHomogeneous uint32 = 0x0008 // PATHCONF valid for all files
	FSFCanSetTime  uint32 = 0x0010 // Server can set times
)
