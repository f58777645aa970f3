package server

import (
	"os"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/multipager/hma/common"
)

// FilePager is a minimal, concrete Pager for standalone use: cmd/hmaclient
// and integration tests that need a real Pager without
// embedding a full SQL engine. It is grounded on disk/disk_impl.go's
// fileDisk: the same Open-with-O_CREAT construction this
// corpus uses for its block-storage layer, narrowed to the three things
// the Pager interface actually needs.
//
// RollbackJournal here discards rather than replays: the rollback
// journal's format and replay semantics belong to the block-storage
// layer, not this lock manager, so a standalone Pager's "journal" is
// just a sidecar file per client slot that Begin-ing work may create and
// that a crash leaves behind; rollback discards it. A real embedding
// Pager would replace this method with its own journal replay, which is
// exactly why RollbackJournal is a Pager method and not something
// package pagelock implements itself.
type FilePager struct {
	path string
	fd   int
}

// OpenFilePager opens (creating if needed) the main database file at
// path.
func OpenFilePager(path string) (*FilePager, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0644)
	if err != nil {
		return nil, common.Wrap(common.KindCantOpen, err, "open database file "+path)
	}
	return &FilePager{path: path, fd: fd}, nil
}

func (p *FilePager) Filename() string { return p.path }

func (p *FilePager) journalPath(clientID int) string {
	return p.path + ".journal-" + strconv.Itoa(clientID)
}

// RollbackJournal discards the sidecar journal file for clientID, if
// one exists. See the FilePager doc comment for why discard, not replay,
// is the right standalone behavior.
func (p *FilePager) RollbackJournal(clientID int) error {
	err := os.Remove(p.journalPath(clientID))
	if err != nil && !os.IsNotExist(err) {
		return common.Wrap(common.KindError, err, "discard journal")
	}
	return nil
}

// LockDatabaseExclusive attempts a non-blocking exclusive lock spanning
// the whole main database file (Len: 0 means "to EOF" in fcntl); the
// precondition a disconnecting client needs before it may unlink the HMA
// file. It is a distinct lock from the HMA file's own
// byte-range locks (package oslock): this one is taken on the *database*
// file. FilePager takes no other lock on that file, so this lock is
// granted whenever no other process holds an fcntl lock on it, whether
// or not other processes are still connected to the HMA.
func (p *FilePager) LockDatabaseExclusive() (granted bool, release func(), err error) {
	lk := unix.Flock_t{Type: unix.F_WRLCK, Whence: 0, Start: 0, Len: 0}
	if err := unix.FcntlFlock(uintptr(p.fd), unix.F_SETLK, &lk); err != nil {
		return false, nil, nil
	}
	release = func() {
		unlk := unix.Flock_t{Type: unix.F_UNLCK, Whence: 0, Start: 0, Len: 0}
		unix.FcntlFlock(uintptr(p.fd), unix.F_SETLK, &unlk)
	}
	return true, release, nil
}

func (p *FilePager) Close() error {
	return unix.Close(p.fd)
}
