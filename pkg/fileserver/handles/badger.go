package handles

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/dnfs/internal/logger"
	"github.com/marmos91/dnfs/pkg/nfs3"
)

// Key layout:
//
//	i:<id, 8 bytes BE>  -> path
//	p:<path>            -> id (8 bytes BE)
//	seq                 -> id allocator (badger.Sequence)
const (
	prefixID    = "i:"
	prefixPath  = "p:"
	sequenceKey = "seq"

	// sequenceBandwidth is how many ids the sequence leases per disk write.
	sequenceBandwidth = 1000
)

// BadgerConfig configures a BadgerTable.
type BadgerConfig struct {
	// Dir holds the database. Empty keeps it in memory.
	Dir string `mapstructure:"dir"`

	// SyncWrites fsyncs every update.
	SyncWrites bool `mapstructure:"sync_writes"`
}

// BadgerTable persists the mapping in BadgerDB so that handles stay valid
// across server restarts.
type BadgerTable struct {
	db  *badger.DB
	seq *badger.Sequence

	// mu serializes allocation so that two lookups of a new path agree on
	// one id.
	mu sync.Mutex
}

// OpenBadger opens or creates the database at cfg.Dir. Ids come from a
// persisted badger.Sequence, so they are not reused after a restart. Ids
// leased but never bound are skipped.
func OpenBadger(ctx context.Context, cfg BadgerConfig) (*BadgerTable, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(cfg.Dir).
		WithLoggingLevel(badger.WARNING).
		WithSyncWrites(cfg.SyncWrites)
	if cfg.Dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open handle database at %q: %w", cfg.Dir, err)
	}
	seq, err := db.GetSequence([]byte(sequenceKey), sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open handle sequence: %w", err)
	}

	logger.Debug("Handle table opened: dir=%q in_memory=%v", cfg.Dir, cfg.Dir == "")
	return &BadgerTable{db: db, seq: seq}, nil
}

func idKey(id uint64) []byte {
	key := make([]byte, len(prefixID)+8)
	copy(key, prefixID)
	binary.BigEndian.PutUint64(key[len(prefixID):], id)
	return key
}

func pathKey(p string) []byte {
	return []byte(prefixPath + p)
}

// Handle implements Table. A new binding writes both the i: and p: keys in
// one transaction.
func (t *BadgerTable) Handle(ctx context.Context, p string) (nfs3.FileHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p = Clean(p)

	id, ok, err := t.lookup(p)
	if err != nil {
		return nil, fmt.Errorf("look up handle for %s: %w", p, err)
	}
	if ok {
		return Encode(id), nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	err = t.db.Update(func(txn *badger.Txn) error {
		if existing, ok, err := getID(txn, p); err != nil || ok {
			id = existing
			return err
		}
		next, err := t.seq.Next()
		if err != nil {
			return err
		}
		// Sequences start at 0; id 0 is never issued.
		id = next + 1

		value := make([]byte, 8)
		binary.BigEndian.PutUint64(value, id)
		if err := txn.Set(pathKey(p), value); err != nil {
			return err
		}
		return txn.Set(idKey(id), []byte(p))
	})
	if err != nil {
		return nil, fmt.Errorf("allocate handle for %s: %w", p, err)
	}
	return Encode(id), nil
}

func (t *BadgerTable) lookup(p string) (id uint64, ok bool, err error) {
	err = t.db.View(func(txn *badger.Txn) error {
		id, ok, err = getID(txn, p)
		return err
	})
	return id, ok, err
}

func getID(txn *badger.Txn, p string) (uint64, bool, error) {
	item, err := txn.Get(pathKey(p))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var id uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt id for %s", p)
		}
		id = binary.BigEndian.Uint64(val)
		return nil
	})
	return id, err == nil, err
}

// Path implements Table.
func (t *BadgerTable) Path(ctx context.Context, h nfs3.FileHandle) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	id, err := Decode(h)
	if err != nil {
		return "", false, nil
	}

	var p string
	var ok bool
	err = t.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		p, ok = string(value), true
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("resolve handle %s: %w", h, err)
	}
	return p, ok, nil
}

// binding is one p: entry collected during a scan.
type binding struct {
	path string
	id   uint64
}

// scan returns the bindings of dir and everything below it.
func scan(txn *badger.Txn, dir string) ([]binding, error) {
	var out []binding
	if id, ok, err := getID(txn, dir); err != nil {
		return nil, err
	} else if ok {
		out = append(out, binding{dir, id})
	}

	prefix := pathKey(dir + "/")
	if dir == "/" {
		prefix = pathKey("/")
	}
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		p := string(item.Key()[len(prefixPath):])
		if p == dir {
			continue
		}
		var id uint64
		if err := item.Value(func(val []byte) error {
			id = binary.BigEndian.Uint64(val)
			return nil
		}); err != nil {
			return nil, err
		}
		out = append(out, binding{p, id})
	}
	return out, nil
}

func forget(txn *badger.Txn, dir string) error {
	bindings, err := scan(txn, dir)
	if err != nil {
		return err
	}
	for _, b := range bindings {
		if err := txn.Delete(pathKey(b.path)); err != nil {
			return err
		}
		if err := txn.Delete(idKey(b.id)); err != nil {
			return err
		}
	}
	return nil
}

// Rename implements Table, rewriting every binding under from inside a
// single transaction.
func (t *BadgerTable) Rename(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	from, to = Clean(from), Clean(to)
	if from == to {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	err := t.db.Update(func(txn *badger.Txn) error {
		if err := forget(txn, to); err != nil {
			return err
		}
		bindings, err := scan(txn, from)
		if err != nil {
			return err
		}
		for _, b := range bindings {
			if err := txn.Delete(pathKey(b.path)); err != nil {
				return err
			}
		}
		for _, b := range bindings {
			moved := rebase(b.path, from, to)
			value := make([]byte, 8)
			binary.BigEndian.PutUint64(value, b.id)
			if err := txn.Set(pathKey(moved), value); err != nil {
				return err
			}
			if err := txn.Set(idKey(b.id), []byte(moved)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rename handles %s -> %s: %w", from, to, err)
	}
	return nil
}

// Forget implements Table.
func (t *BadgerTable) Forget(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.db.Update(func(txn *badger.Txn) error {
		return forget(txn, Clean(p))
	}); err != nil {
		return fmt.Errorf("forget handles below %s: %w", p, err)
	}
	return nil
}

// Close releases the unused part of the id lease and closes the database.
func (t *BadgerTable) Close() error {
	return errors.Join(t.seq.Release(), t.db.Close())
}
