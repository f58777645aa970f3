// Package pagelock implements the algorithmic core of the HMA lock
// manager: the per-process client registry and the
// lock-free page lock engine live together in this package
// because, in the source this is ported from (original_source/src/server.c),
// ServerHMA (the registry's per-file handle) and Server (the per-client
// record) hold intrusive pointers into each other — the engine's overcome
// step has to look inside the registry's bookkeeping to tell a dead
// remote client from a live local one, and the registry's connect path
// has to invoke the engine's rollback to clean a stale slot. Splitting
// them into separate Go packages would force that mutual reference
// through an interface on both sides for no real decoupling benefit, so
// instead they share one package, which imports the file-mapping
// (package hma) and OS-lock (package oslock) leaves directly.
package pagelock

import (
	"sync"

	humanize "github.com/dustin/go-humanize"

	"github.com/multipager/hma/common"
	"github.com/multipager/hma/hma"
	"github.com/multipager/hma/oslock"
)

// JournalRoller is the slice of the Pager interface the engine
// needs directly: replaying/discarding a crashed client's rollback
// journal. The full Pager (package server) also knows its own filename
// and can take the main-database exclusive lock; those concerns stay in
// package server because nothing in here needs them.
type JournalRoller interface {
	RollbackJournal(clientID int) error
}

// Logger is the diagnostic sink for the four severities this lock
// manager needs. Package logging's *Logger satisfies this by method set alone;
// nothing in this package imports it.
type Logger interface {
	Notice(format string, args ...interface{})
	Warning(format string, args ...interface{})
	DeadlockConflict(page uint32)
	CantOpen(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Notice(string, ...interface{})  {}
func (nopLogger) Warning(string, ...interface{}) {}
func (nopLogger) DeadlockConflict(uint32)         {}
func (nopLogger) CantOpen(string, ...interface{}) {}

// NopLogger discards every diagnostic; useful in tests that only care
// about lock outcomes.
func NopLogger() Logger { return nopLogger{} }

// Registry is the process-global table of live HMA handles, mirroring
// a single-mutex map-keyed-by-identity pattern (grounded on
// txn/lock.go's lockMap and buf/addrmap.go's AddrMap): one mutex guards a
// small map, instead of an intrusive singly-linked list with
// a static mutex — a handful of live HMAs
// system-wide never needs the shardmap.go sharding scheme this corpus
// carries for much higher-cardinality block maps.
type Registry struct {
	mu   sync.Mutex
	hmas map[identity]*Handle
}

type identity struct {
	dev, ino uint64
}

// Global is the process-wide registry every Connect/Disconnect call uses,
// standing in for the source's package-level g_server/ServerGlobal.
var Global = &Registry{hmas: make(map[identity]*Handle)}

// Handle is this process's connection to one HMA file: the mapping, the
// OS file descriptor, and the table of local clients it holds a slot
// for. aClient holds weak back-references — a
// disconnecting client clears its own slot, which is the invalidation
// event Design Notes calls for.
type Handle struct {
	path     string
	id       identity
	file     *hma.File
	layout   hma.Layout
	aClient  []*Client
	refcount int
}

// Connect locates or creates the
// HMA for dbPath, claims a free client slot (recovering a crashed prior
// occupant if necessary), and return a live Client.
func Connect(cfg Config, dbPath string, roller JournalRoller, log Logger) (*Client, error) {
	cfg = cfg.normalized()
	if log == nil {
		log = NopLogger()
	}

	dev, ino, err := hma.Identity(dbPath)
	if err != nil {
		log.CantOpen("stat %s: %v", dbPath, err)
		return nil, err
	}
	id := identity{dev: dev, ino: ino}

	Global.mu.Lock()
	defer Global.mu.Unlock()

	h, ok := Global.hmas[id]
	if !ok {
		h, err = openHandle(dbPath, id, cfg, roller, log)
		if err != nil {
			return nil, err
		}
		Global.hmas[id] = h
	}

	c, err := h.attach(roller, log)
	if err != nil && h.refcount == 0 {
		delete(Global.hmas, id)
		h.file.Close()
	}
	return c, err
}

func openHandle(dbPath string, id identity, cfg Config, roller JournalRoller, log Logger) (*Handle, error) {
	layout := hma.Layout{
		ClientSlots:   uint32(cfg.ClientSlots),
		PageLockSlots: uint32(cfg.PageLockSlots),
	}
	hmaPath := dbPath + cfg.Suffix

	f, first, err := hma.Open(hmaPath, layout, func(clientID int) error {
		return roller.RollbackJournal(clientID)
	})
	if err != nil {
		log.CantOpen("open %s: %v", hmaPath, err)
		return nil, err
	}
	if first {
		log.Notice("initialized HMA file %s (%s)", hmaPath, humanize.Bytes(uint64(layout.ByteSize())))
	}

	return &Handle{
		path:    hmaPath,
		id:      id,
		file:    f,
		layout:  layout,
		aClient: make([]*Client, layout.ClientSlots),
	}, nil
}

// attach scans client slots 0..ClientSlots-1 for a free one, recovering a
// stale occupant before claiming it.
func (h *Handle) attach(roller JournalRoller, log Logger) (*Client, error) {
	for i := 0; i < len(h.aClient); i++ {
		if h.aClient[i] != nil {
			continue
		}
		if err := oslock.Lock(h.file.Fd, h.layout.ClientIndex(i), oslock.Exclusive, false); err != nil {
			continue // another process (or our own earlier attach) holds this slot
		}

		slot := h.file.Map.Word(h.layout.ClientIndex(i))
		if loadWord(slot) != 0 {
			if err := rollbackClient(h, i, roller, log); err != nil {
				oslock.Lock(h.file.Fd, h.layout.ClientIndex(i), oslock.None, false)
				return nil, err
			}
		}

		if err := oslock.Lock(h.file.Fd, h.layout.ClientIndex(i), oslock.Shared, false); err != nil {
			return nil, err
		}
		storeWord(slot, 1)

		c := &Client{handle: h, id: i, roller: roller, log: log}
		h.aClient[i] = c
		h.refcount++
		return c, nil
	}
	return nil, common.New(common.KindBusy, "no free client slot")
}

// disconnect frees a client's slot, called by
// Client.Disconnect (package server decides dbLockGranted by attempting
// the Pager's main-database exclusive lock).
func (c *Client) disconnect(dbLockGranted bool) {
	h := c.handle
	Global.mu.Lock()
	defer Global.mu.Unlock()

	slot := h.file.Map.Word(h.layout.ClientIndex(c.id))
	storeWord(slot, 0)
	oslock.Lock(h.file.Fd, h.layout.ClientIndex(c.id), oslock.None, false)
	h.aClient[c.id] = nil
	h.refcount--

	if h.refcount <= 0 {
		if dbLockGranted {
			hma.Unlink(h.path)
		}
		h.file.Close()
		delete(Global.hmas, h.id)
	}
}

// LiveClientCount reports how many client records this process currently
// holds against the handle c is attached to.
func (c *Client) LiveClientCount() int {
	Global.mu.Lock()
	defer Global.mu.Unlock()
	return c.handle.refcount
}
