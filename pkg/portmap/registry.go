package portmap

import (
	"cmp"
	"slices"
	"sync"

	"github.com/marmos91/dnfs/pkg/rpc"
)

type registryKey struct {
	prog uint32
	vers uint32
	prot uint32
}

// Registry is a thread-safe in-memory store of port mappings keyed by
// (program, version, protocol).
type Registry struct {
	mu       sync.RWMutex
	mappings map[registryKey]Mapping
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{mappings: make(map[registryKey]Mapping)}
}

// Set adds or replaces a mapping. A zero port is rejected.
func (r *Registry) Set(m Mapping) bool {
	if m.Port == 0 {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappings[registryKey{m.Prog, m.Vers, m.Prot}] = m
	return true
}

// Unset removes every protocol mapping of (prog, vers), as RFC 1057 UNSET
// ignores the protocol and port fields. It reports whether anything was
// removed.
func (r *Registry) Unset(prog, vers uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := false
	for key := range r.mappings {
		if key.prog == prog && key.vers == vers {
			delete(r.mappings, key)
			removed = true
		}
	}
	return removed
}

// Getport returns the registered port, or 0 if none.
func (r *Registry) Getport(prog, vers, prot uint32) uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mappings[registryKey{prog, vers, prot}].Port
}

// Dump returns a snapshot sorted by program, version and protocol.
func (r *Registry) Dump() MappingList {
	r.mu.RLock()
	result := make(MappingList, 0, len(r.mappings))
	for _, m := range r.mappings {
		result = append(result, m)
	}
	r.mu.RUnlock()

	slices.SortFunc(result, func(a, b Mapping) int {
		if c := cmp.Compare(a.Prog, b.Prog); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Vers, b.Vers); c != 0 {
			return c
		}
		return cmp.Compare(a.Prot, b.Prot)
	})
	return result
}

// RegisterServices advertises the portmapper itself plus MOUNT v3 and NFS v3
// over TCP.
func (r *Registry) RegisterServices(portmapPort, mountPort, nfsPort int) {
	r.Set(Mapping{Prog: rpc.ProgramPortmap, Vers: rpc.PortmapVersion, Prot: ProtoTCP, Port: uint32(portmapPort)})
	r.Set(Mapping{Prog: rpc.ProgramMount, Vers: rpc.MountVersion, Prot: ProtoTCP, Port: uint32(mountPort)})
	r.Set(Mapping{Prog: rpc.ProgramNFS, Vers: rpc.NFSVersion, Prot: ProtoTCP, Port: uint32(nfsPort)})
}

// Count returns the number of mappings.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mappings)
}
