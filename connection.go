package wt

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/wtstore/wtstore/internal/block"
	"github.com/wtstore/wtstore/internal/cache"
	"github.com/wtstore/wtstore/internal/checkpoint"
	"github.com/wtstore/wtstore/internal/checksum"
	"github.com/wtstore/wtstore/internal/config"
	"github.com/wtstore/wtstore/internal/fs"
	"github.com/wtstore/wtstore/internal/page"
	"github.com/wtstore/wtstore/internal/reconcile"
	"github.com/wtstore/wtstore/internal/txn"
	"github.com/wtstore/wtstore/internal/wtlog"
)

// Connection is a single open instance of the engine against one
// directory-backed filesystem, holding every table's block manager and
// the engine-wide transaction/cache/checkpoint machinery. Grounded on
// the teacher's KV.Open/Close lifecycle (filodb_storage.go), generalized
// from FiloDB's single-file single-tree engine to a Connection that owns
// many named tables.
type Connection struct {
	cfg config.Config
	dir string
	fs  fs.FS

	mu     sync.Mutex
	tables map[string]*checkpoint.Handle
	closed bool

	txns  *txn.Manager
	cache *cache.Manager
	cp    *checkpoint.Checkpointer
}

// Open starts a Connection rooted at a real OS directory, per cfg
// (Default() if no options are given).
func Open(dir string, opts ...config.Option) (*Connection, error) {
	cfg := config.New(opts...)
	wtlog.Init(wtlog.Config{Level: wtlog.Level(cfg.LogLevel)})
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, wrapf(err, "wt: create directory %q", dir)
	}
	return open(dir, fs.NewReal(), cfg)
}

// OpenWithFS is Open generalized over the filesystem abstraction, used by
// tests that want an in-memory double instead of real files.
func OpenWithFS(filesystem fs.FS, opts ...config.Option) (*Connection, error) {
	cfg := config.New(opts...)
	wtlog.Init(wtlog.Config{Level: wtlog.Level(cfg.LogLevel)})
	return open("", filesystem, cfg)
}

func open(dir string, filesystem fs.FS, cfg config.Config) (*Connection, error) {
	c := &Connection{
		cfg:    cfg,
		dir:    dir,
		fs:     filesystem,
		tables: map[string]*checkpoint.Handle{},
		txns:   txn.NewManager(),
	}
	c.cache = cache.NewManager(cache.Budget{
		CacheSizeBytes:  cfg.CacheSizeBytes,
		EvictionTarget:  cfg.EvictionTarget,
		EvictionTrigger: cfg.EvictionTrigger,
		DirtyTarget:     cfg.DirtyTarget,
		DirtyTrigger:    cfg.DirtyTrigger,
		ThreadsMin:      cfg.ThreadsMin,
		ThreadsMax:      cfg.ThreadsMax,
	})
	c.cp = checkpoint.New(c.txns)
	return c, nil
}

// CreateTable opens (creating if necessary) a named row-store table
// backed by its own block-managed file, mirroring the teacher's
// create-table-per-file layout. An existing file's contents are not
// loaded: the table always starts from a new, empty root page.
func (c *Connection) CreateTable(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("wt: connection closed")
	}
	if _, ok := c.tables[name]; ok {
		return fmt.Errorf("wt: table %q already exists: %w", name, ErrDuplicateKey)
	}

	mgr, err := block.Open(c.fs, filepath.Join(c.dir, name+".wt"), c.cfg.Allocsize, checksum.Codec{})
	if err != nil {
		return wrapf(err, "wt: open table %q", name)
	}
	c.tables[name] = &checkpoint.Handle{
		Name: name,
		Root: page.NewLeaf(int64(len(c.tables)) + 1),
		Mgr:  mgr,
	}
	return nil
}

// table looks up an already-open table handle.
func (c *Connection) table(name string) (*checkpoint.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.tables[name]
	if !ok {
		return nil, fmt.Errorf("wt: table %q not open: %w", name, ErrNotFound)
	}
	return h, nil
}

// OpenSession returns a new Session bound to this Connection. Sessions
// are not safe for concurrent use by more than one goroutine, matching
// spec.md §5's one-session-per-thread contract.
func (c *Connection) OpenSession() *Session {
	return &Session{conn: c}
}

// Checkpoint runs the full pin/select/sync-reconcile/resolve/release
// protocol (C10) over every open, non-transient table.
func (c *Connection) Checkpoint() ([]checkpoint.Metadata, error) {
	c.mu.Lock()
	handles := make([]*checkpoint.Handle, 0, len(c.tables))
	for _, h := range c.tables {
		handles = append(handles, h)
	}
	c.mu.Unlock()

	results, err := c.cp.Run(handles, reconcile.Config{
		LeafPageMax:       c.cfg.LeafPageMax,
		InternalPageMax:   c.cfg.InternalPageMax,
		OverflowThreshold: c.cfg.OverflowThreshold,
	})
	if err != nil {
		return nil, err
	}
	if c.dir != "" {
		if err := checkpoint.PersistCatalog(c.dir, results); err != nil {
			return results, wrapf(err, "wt: persist catalog")
		}
	}
	return results, nil
}

// Close syncs every table's block manager and marks the connection
// closed; CreateTable returns an error afterwards, while sessions,
// cursors and Checkpoint do not check for a closed connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	var firstErr error
	for _, h := range c.tables {
		if err := h.Mgr.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
