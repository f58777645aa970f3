// Package server is the embedding glue between a storage engine's Pager
// (the external collaborator that owns the database file, the
// per-client rollback journal, and an exclusive lock primitive on the
// main database file) and package pagelock's engine. It exposes the
// entry points an embedder needs: connect, disconnect, begin, end, lock,
// release_write_locks, has_lock.
//
// It is grounded on jrnl/jrnl.go's role as the top-level facade a caller
// opens an Op against: Engine.Connect here plays the part of jrnl.Begin,
// and Conn plays the part of jrnl.Op — a thin wrapper that forwards to
// the lower layer (pagelock.Client / obj.Log) and adds exactly the
// bookkeeping the lower layer can't see on its own (here, the Pager's
// filename and main-database exclusive lock used only at disconnect).
package server

import (
	"github.com/multipager/hma/config"
	"github.com/multipager/hma/pagelock"
)

// Pager is the slice of the embedding storage engine this package
// depends on. A real embedder implements it against its
// own journal and file-locking primitives; FilePager below is a minimal
// concrete implementation for standalone use (cmd/hmaclient,
// integration tests).
type Pager interface {
	// Filename returns the main database file path; the HMA file is
	// this path with the configured suffix appended.
	Filename() string
	// RollbackJournal replays or discards client clientID's in-progress
	// rollback journal, cleaning any debris left by a crash.
	RollbackJournal(clientID int) error
	// LockDatabaseExclusive attempts a non-blocking exclusive lock on
	// the main database file, the precondition for unlinking the HMA
	// file on the last disconnect. granted reports whether
	// the lock was obtained; when granted, the caller must invoke the
	// returned release function exactly once.
	LockDatabaseExclusive() (granted bool, release func(), err error)
}

// Engine is a process-wide entry point into the registry; it carries the
// wire-format Config and the diagnostic Logger every Connect should use.
// Most programs need exactly one Engine, built once at startup.
type Engine struct {
	cfg pagelock.Config
	log pagelock.Logger
}

// New builds an Engine from a loaded config.Config and an optional
// logger (nil uses pagelock.NopLogger).
func New(cfg config.Config, log pagelock.Logger) *Engine {
	if log == nil {
		log = pagelock.NopLogger()
	}
	return &Engine{cfg: cfg.Pagelock(), log: log}
}

// Conn is a single process's connection to one database's HMA, spanning
// possibly many begin/lock/end transactions until Disconnect.
type Conn struct {
	client *pagelock.Client
	pager  Pager
}

// Connect resolves the Pager's filename, attaches to (or creates) the HMA for
// that path, and claims a free client slot, recovering a stale occupant
// first if one is found.
func (e *Engine) Connect(pager Pager) (*Conn, error) {
	client, err := pagelock.Connect(e.cfg, pager.Filename(), pagerRoller{pager}, e.log)
	if err != nil {
		return nil, err
	}
	return &Conn{client: client, pager: pager}, nil
}

// ClientID returns this connection's client id in [0, ClientSlots).
func (c *Conn) ClientID() int { return c.client.ID() }

// Begin starts a transaction.
func (c *Conn) Begin() error { return c.client.Begin() }

// End releases every page lock taken since Begin.
func (c *Conn) End() error { return c.client.End() }

// Lock acquires SHARED (write=false) or EXCLUSIVE (write=true) on page.
func (c *Conn) Lock(page uint32, write bool, blocking bool) error {
	return c.client.Lock(page, write, blocking)
}

// HasLock answers purely from the HMA's current encoding.
func (c *Conn) HasLock(page uint32, write bool) bool {
	return c.client.HasLock(page, write)
}

// ReleaseWriteLocks is reserved for future use; present only for API
// symmetry with the rest of the transaction lifecycle.
func (c *Conn) ReleaseWriteLocks() error { return c.client.ReleaseWriteLocks() }

// Disconnect frees the client slot and, if this was the HMA's last live
// client and the Pager
// grants an exclusive lock on the main database file, unlinks the HMA
// file.
func (c *Conn) Disconnect() {
	granted, release, err := c.pager.LockDatabaseExclusive()
	if err == nil && granted {
		defer release()
	}
	c.client.Disconnect(granted && err == nil)
}

// pagerRoller adapts the full Pager interface down to the narrow
// JournalRoller slice package pagelock depends on, keeping pagelock
// ignorant of the Pager's filename/file-locking concerns.
type pagerRoller struct{ p Pager }

func (r pagerRoller) RollbackJournal(clientID int) error { return r.p.RollbackJournal(clientID) }
