// Package oslock is a thin wrapper over advisory byte-range locks, used by
// the HMA components to detect process-crash liveness. It is
// never used to serialize page-lock words themselves — that is entirely
// CAS-driven in package pagelock.
package oslock

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/multipager/hma/common"
)

// Mode selects the kind of byte-range lock requested for a word.
type Mode int

const (
	None Mode = iota
	Shared
	Exclusive
)

// wordBytes is the size of one HMA word; every byte-range lock anchor is a
// single byte at wordIndex*wordBytes.
const wordBytes = 4

// Lock requests (or releases, for mode==None) an advisory lock on the
// single byte at offset wordIndex*4 of fd.
//
// blocking selects F_SETLKW over F_SETLK. A blocking request that the
// kernel reports as a self-induced deadlock returns a KindBusyDeadlock
// error; a non-blocking conflict returns KindBusy; success returns nil.
func Lock(fd int, wordIndex uint32, mode Mode, blocking bool) error {
	lk := unix.Flock_t{
		Whence: 0,
		Start:  int64(wordIndex) * wordBytes,
		Len:    1,
	}
	switch mode {
	case None:
		lk.Type = unix.F_UNLCK
	case Shared:
		lk.Type = unix.F_RDLCK
	case Exclusive:
		lk.Type = unix.F_WRLCK
	}

	cmd := unix.F_SETLK
	if blocking {
		cmd = unix.F_SETLKW
	}

	err := unix.FcntlFlock(uintptr(fd), cmd, &lk)
	if err == nil {
		return nil
	}
	if blocking && errors.Is(err, unix.EDEADLK) {
		return common.New(common.KindBusyDeadlock, "deadlock detected acquiring os lock")
	}
	return common.New(common.KindBusy, "os lock busy")
}
