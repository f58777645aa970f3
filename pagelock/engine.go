package pagelock

import (
	"sync/atomic"
	"time"

	"github.com/multipager/hma/common"
	"github.com/multipager/hma/oslock"
)

// Begin starts a transaction: it takes a long-held exclusive OS lock on
// the client's own slot (so other processes can cheaply test liveness by
// trying to grab it exclusively) and then acquires a RESERVED lock on the
// sentinel page 0 through the ordinary acquisition path — not a special
// case, matching the delegation shape of sqlite3ServerBegin's call into
// sqlite3ServerLock (page and lock-strength renumbered to page 0/RESERVED
// so End's writer-time accounting has a bit it owns exclusively).
func (c *Client) Begin() error {
	if err := oslock.Lock(c.handle.file.Fd, c.handle.layout.ClientIndex(c.id), oslock.Exclusive, true); err != nil {
		return err
	}
	return c.Lock(0, true, true)
}

// End releases every page lock this client took during the transaction,
// in the order they were recorded, and downgrades the client-slot OS
// lock back to shared. Releasing the sentinel page 0 updates cumulative
// writer-time statistics.
func (c *Client) End() error {
	h := c.handle
	clearWriteMask := uint32(1)<<h.layout.ClientSlots - 1
	readBit := uint32(1) << uint32(c.id)

	for _, page := range c.locks {
		word := h.file.Map.Word(h.layout.PageIndex(page))
		for {
			v := loadWord(word)
			n := v
			if writerOf(v, h.layout.ClientSlots) == c.id {
				n &= clearWriteMask
			}
			n &^= readBit
			if atomic.CompareAndSwapUint32(word, v, n) {
				break
			}
		}
		if page == 0 {
			c.accountWriteTime()
		}
	}
	c.locks = c.locks[:0]
	return oslock.Lock(h.file.Fd, h.layout.ClientIndex(c.id), oslock.Shared, false)
}

// accountWriteTime logs a
// WARNING only when the running total crosses a whole-second boundary,
// not on every unlock of page 0.
func (c *Client) accountWriteTime() {
	now := nowMicros()
	elapsed := now - c.writeStartMicros
	before := c.cumulativeWriteMicros / 1_000_000
	c.cumulativeWriteMicros += elapsed
	after := c.cumulativeWriteMicros / 1_000_000
	if after != before {
		c.log.Warning("cumulative WRITER time: %dms", c.cumulativeWriteMicros/1000)
	}
}

// HasLock answers purely from the page-lock slot's current encoding.
func (c *Client) HasLock(page uint32, write bool) bool {
	h := c.handle
	v := loadWord(h.file.Map.Word(h.layout.PageIndex(page)))
	if write {
		return writerOf(v, h.layout.ClientSlots) == c.id
	}
	return v&(uint32(1)<<uint32(c.id)) != 0
}

// ReleaseWriteLocks is reserved for future use; present only for API
// symmetry with the original interface (explicitly named
// as dead code in the source this is ported from).
func (c *Client) ReleaseWriteLocks() error { return nil }

// Lock acquires SHARED (write=false) or EXCLUSIVE (write=true) on page.
func (c *Client) Lock(page uint32, write bool, blocking bool) error {
	h := c.handle
	clientSlots := h.layout.ClientSlots
	word := h.file.Map.Word(h.layout.PageIndex(page))

	v := loadWord(word)
	if write {
		if writerOf(v, clientSlots) == c.id {
			return nil
		}
	} else if v&(uint32(1)<<uint32(c.id)) != 0 {
		return nil
	}

	c.recordLock(page)

	reserved := false
	var mask uint32
	if write {
		mask = (uint32(1)<<clientSlots - 1) &^ (uint32(1) << uint32(c.id))
	}

	for {
		v = loadWord(word)
		for conflicted(v, clientSlots, c.id, mask) {
			w := writerOf(v, clientSlots)
			if w < 0 && write && blocking {
				n := v | (uint32(c.id+1) << clientSlots)
				if !atomic.CompareAndSwapUint32(word, v, n) {
					v = loadWord(word)
					continue
				}
				v = n
				reserved = true
			}

			retry, err := c.overcome(v, blocking)
			if err != nil {
				if reserved {
					c.clearReserved(word)
				}
				if page == 0 {
					c.writeStartMicros = nowMicros()
				}
				return err
			}
			if !retry {
				if reserved {
					c.clearReserved(word)
				}
				c.log.DeadlockConflict(page)
				if page == 0 {
					c.writeStartMicros = nowMicros()
				}
				return common.New(common.KindBusyDeadlock, "conflicting lock on page")
			}
			v = loadWord(word)
		}

		n := v | (uint32(1) << uint32(c.id))
		if write {
			n |= uint32(c.id+1) << clientSlots
		}
		if atomic.CompareAndSwapUint32(word, v, n) {
			break
		}
		v = loadWord(word)
	}

	if page == 0 {
		c.writeStartMicros = nowMicros()
	}
	return nil
}

func conflicted(v uint32, clientSlots uint32, self int, mask uint32) bool {
	w := writerOf(v, clientSlots)
	return (w >= 0 && w != self) || (v&mask) != 0
}

func (c *Client) clearReserved(word *uint32) {
	keepLowMask := uint32(1)<<c.handle.layout.ClientSlots - 1
	for {
		v := loadWord(word)
		n := v & keepLowMask
		if atomic.CompareAndSwapUint32(word, v, n) {
			return
		}
	}
}

// overcome resolves the conflict represented by v: it picks the blocking
// client (preferring the write-holder, else the lowest-numbered reader
// other than self), and either recovers it (if this process's registry
// shows no local record for it, meaning it lives in a different,
// possibly-dead process) or waits on its liveness lock under blocking
// mode. It reports whether the caller should retry the acquisition.
func (c *Client) overcome(v uint32, blocking bool) (retry bool, err error) {
	h := c.handle
	clientSlots := h.layout.ClientSlots

	iBlock := writerOf(v, clientSlots)
	if iBlock < 0 || iBlock == c.id {
		iBlock = -1
		for j := 0; j < int(clientSlots); j++ {
			if j != c.id && v&(uint32(1)<<uint32(j)) != 0 {
				iBlock = j
				break
			}
		}
		if iBlock < 0 {
			return false, nil
		}
	}

	Global.mu.Lock()
	defer Global.mu.Unlock()

	if h.aClient[iBlock] != nil {
		// The blocker is local to this process: a genuine conflict we
		// never block on, since local deadlocks must be prevented by the
		// caller's own lock-ordering discipline.
		return false, nil
	}

	lerr := oslock.Lock(h.file.Fd, h.layout.ClientIndex(iBlock), oslock.Exclusive, false)
	if lerr == nil {
		rerr := rollbackClient(h, iBlock, c.roller, c.log)
		oslock.Lock(h.file.Fd, h.layout.ClientIndex(iBlock), oslock.None, false)
		if rerr != nil {
			return false, rerr
		}
		return true, nil
	}

	if blocking && common.KindOf(lerr) == common.KindBusy {
		werr := oslock.Lock(h.file.Fd, h.layout.ClientIndex(iBlock), oslock.Shared, true)
		if werr == nil {
			oslock.Lock(h.file.Fd, h.layout.ClientIndex(iBlock), oslock.None, false)
			return true, nil
		}
		if common.KindOf(werr) == common.KindBusyDeadlock {
			return false, werr
		}
	}

	return false, nil
}

// rollbackClient invokes the Pager's rollback for the crashed client and
// scrubs its bits from every page-lock word via CAS-until-success.
// Called both from Handle.attach (a stale slot found at connect
// time) and from overcome (contention with a dead remote client).
func rollbackClient(h *Handle, clientID int, roller JournalRoller, log Logger) error {
	log.Notice("rolling back failed client %d", clientID)
	if err := roller.RollbackJournal(clientID); err != nil {
		return common.Wrap(common.KindError, err, "rollback journal for client")
	}

	clearReadBit := ^(uint32(1) << uint32(clientID))
	keepLowMask := uint32(1)<<h.layout.ClientSlots - 1
	writerMatches := clientID

	for i := uint32(0); i < h.layout.PageLockSlots; i++ {
		word := h.file.Map.Word(h.layout.PageIndex(i))
		for {
			v := loadWord(word)
			n := v & clearReadBit
			if writerOf(v, h.layout.ClientSlots) == writerMatches {
				n &= keepLowMask
			}
			if atomic.CompareAndSwapUint32(word, v, n) {
				break
			}
		}
	}
	return nil
}

func writerOf(v uint32, clientSlots uint32) int {
	return int(v>>clientSlots) - 1
}

func loadWord(word *uint32) uint32 { return atomic.LoadUint32(word) }
func storeWord(word *uint32, v uint32) { atomic.StoreUint32(word, v) }

func nowMicros() int64 { return time.Now().UnixMicro() }
