// Package hma defines the on-disk/mapped-memory layout of the heap-mapped
// coordination file and the operations that create, size, map, and tear
// it down. It is grounded on the disk package
// (disk/disk.go, disk/disk_impl.go): a small Mapper interface stands in
// for that package's Disk interface, with a real file-backed
// implementation built on golang.org/x/sys/unix and an in-memory
// implementation for tests, mirroring fileDisk/memDisk there.
package hma

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/multipager/hma/common"
	"github.com/multipager/hma/oslock"
)

// Mapper exposes the mapped HMA words. Index 0 is the DMS word, indices
// 1..ClientSlots are client-slot words, and the remainder are page-lock
// words. Implementations must guarantee 4-byte alignment so
// that sync/atomic's 32-bit operations over Word never tear.
type Mapper interface {
	// Word returns a pointer to the 32-bit little-endian word at idx. The
	// pointer is valid for the lifetime of the Mapper.
	Word(idx uint32) *uint32
	// WordCount returns the number of addressable words.
	WordCount() uint32
	Close() error
}

// Layout describes how many words of each kind an HMA file has, and how
// to translate DMS/client/page addresses into word indices.
type Layout struct {
	ClientSlots   uint32
	PageLockSlots uint32
}

func (l Layout) WordCount() uint32 { return 1 + l.ClientSlots + l.PageLockSlots }
func (l Layout) ByteSize() int64   { return int64(l.WordCount()) * 4 }

func (l Layout) DMSIndex() uint32 { return 0 }

func (l Layout) ClientIndex(clientID int) uint32 {
	return 1 + uint32(clientID)
}

func (l Layout) PageIndex(page uint32) uint32 {
	return 1 + l.ClientSlots + page%l.PageLockSlots
}

// File is an opened, mapped HMA coordination file together with the
// identity of the database it coordinates.
type File struct {
	Path string
	Fd   int
	Map  Mapper
}

func (f *File) Close() error {
	return f.Map.Close()
}

// Identity stats dbPath (the main database file, not the -hma file) and
// returns the (dev, ino) pair the registry uses to de-duplicate HMA
// handles across differently-spelled paths to the same file; grounded on
// server.c's serverOpenHma, which stats the database path for exactly
// this purpose before ever touching the -hma file.
func Identity(dbPath string) (dev uint64, ino uint64, err error) {
	var st unix.Stat_t
	if err := unix.Stat(dbPath, &st); err != nil {
		return 0, 0, common.Wrap(common.KindCantOpen, err, "stat database file "+dbPath)
	}
	return uint64(st.Dev), uint64(st.Ino), nil
}

// Open opens-or-creates the HMA file at path, sizing and zeroing it (and
// invoking initSlot once per client slot to let the caller sweep any
// debris left by a previous cohort) the first time any process opens it;
// later joiners map the already-initialized file directly.
//
// Open blocks (briefly) taking the shared DMS lock that is then held for
// the lifetime of the returned File; it reports whether this call
// performed first-time initialization.
func Open(path string, layout Layout, initSlot func(clientID int) error) (*File, bool, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0644)
	if err != nil {
		return nil, false, common.Wrap(common.KindCantOpen, err, "open "+path)
	}

	first := false
	lockErr := oslock.Lock(fd, layout.DMSIndex(), oslock.Exclusive, false)
	if lockErr == nil {
		first = true
		if err := unix.Ftruncate(fd, layout.ByteSize()); err != nil {
			unix.Close(fd)
			return nil, false, common.Wrap(common.KindCantOpen, err, "ftruncate "+path)
		}
	}

	buf, err := unix.Mmap(fd, 0, int(layout.ByteSize()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, false, common.Wrap(common.KindCantOpen, err, "mmap "+path)
	}

	if first {
		for i := range buf {
			buf[i] = 0
		}
		for i := 0; i < int(layout.ClientSlots); i++ {
			if err := initSlot(i); err != nil {
				unix.Munmap(buf)
				unix.Close(fd)
				return nil, false, common.Wrap(common.KindError, err, "sweep client slot")
			}
		}
	}

	// Whether we won the exclusive DMS lock or found it already held,
	// every connected client parks a shared lock on the DMS word for the
	// life of the handle.
	if err := oslock.Lock(fd, layout.DMSIndex(), oslock.Shared, true); err != nil {
		unix.Munmap(buf)
		unix.Close(fd)
		return nil, false, common.Wrap(common.KindCantOpen, err, "downgrade dms lock")
	}

	return &File{
		Path: path,
		Fd:   fd,
		Map:  &fileMapper{fd: fd, buf: buf},
	}, first, nil
}

// OpenReadOnly maps an existing HMA file without taking any lock or
// mutating it, for the diagnostic CLI (cmd/hmactl) to inspect without
// perturbing a live cohort.
func OpenReadOnly(path string) (Mapper, error) {
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, common.Wrap(common.KindCantOpen, err, "open "+path)
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, common.Wrap(common.KindCantOpen, err, "fstat "+path)
	}
	buf, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, common.Wrap(common.KindCantOpen, err, "mmap "+path)
	}
	return &fileMapper{fd: fd, buf: buf}, nil
}

// Unlink removes the HMA file. It is a no-op error-wise if the file is
// already gone.
func Unlink(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return common.Wrap(common.KindError, err, "unlink "+path)
	}
	return nil
}

type fileMapper struct {
	fd  int
	buf []byte
}

func (m *fileMapper) Word(idx uint32) *uint32 {
	off := uintptr(idx) * 4
	return (*uint32)(unsafe.Pointer(&m.buf[off]))
}

func (m *fileMapper) WordCount() uint32 { return uint32(len(m.buf) / 4) }

func (m *fileMapper) Close() error {
	merr := unix.Munmap(m.buf)
	cerr := unix.Close(m.fd)
	if merr != nil {
		return common.Wrap(common.KindError, merr, "munmap")
	}
	if cerr != nil {
		return common.Wrap(common.KindError, cerr, "close")
	}
	return nil
}

// NewMemMapper returns an in-process Mapper backed by a plain slice,
// standing in for the real mmap'd file in single-process tests —
// grounded on memDisk (disk/disk_impl.go).
func NewMemMapper(layout Layout) Mapper {
	return &memMapper{words: make([]uint32, layout.WordCount())}
}

type memMapper struct {
	words []uint32
}

func (m *memMapper) Word(idx uint32) *uint32 { return &m.words[idx] }
func (m *memMapper) WordCount() uint32       { return uint32(len(m.words)) }
func (m *memMapper) Close() error            { return nil }
