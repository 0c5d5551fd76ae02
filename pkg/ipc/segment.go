package ipc

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// defaultSlotCount is the ring capacity per topic, a power of 2 so free-
// running sequence numbers can be masked into slot indices.
const defaultSlotCount = 256

// headerSize holds the two free-running sequence counters at the front of
// the segment: writeSeq then readSeq, each a uint64. They live in the
// mapped region itself (not in process memory) because both the core and
// plugin process must observe the same cursors across the exec() boundary.
const headerSize = 16

// segment is a single memory-mapped, file-backed single-producer
// single-consumer ring buffer. The backing file (not an anonymous mapping)
// is what lets the mapping survive the plugin's exec(): an anonymous
// mapping is only inherited across fork, not exec.
type segment struct {
	path      string
	file      *os.File
	data      []byte
	slotSize  int
	slotCount int
	owner     bool // true if this end created (and should remove) the file
}

// createSegment creates and maps a new segment, sized for slotCount slots
// of wireSize bytes plus the header. The caller (the core process, which
// creates one Channel per PluginInstance before spawning it) owns the file
// and is responsible for removing it on Close.
func createSegment(path string, slotCount int) (*segment, error) {
	if slotCount <= 0 || slotCount&(slotCount-1) != 0 {
		return nil, fmt.Errorf("ipc: segment slot count must be a power of 2, got %d", slotCount)
	}
	size := int64(headerSize + slotCount*wireSize)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("ipc: create segment file %s: %w", path, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("ipc: truncate segment file %s: %w", path, err)
	}
	return mapSegment(f, path, slotCount, true)
}

// openSegment maps an existing segment created by the peer end. The plugin
// process calls this, over a path it was handed (by the core, via its
// launch environment), to open its half of an already-created Channel.
func openSegment(path string, slotCount int) (*segment, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("ipc: open segment file %s: %w", path, err)
	}
	return mapSegment(f, path, slotCount, false)
}

func mapSegment(f *os.File, path string, slotCount int, owner bool) (*segment, error) {
	size := headerSize + slotCount*wireSize
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		if owner {
			os.Remove(path)
		}
		return nil, fmt.Errorf("ipc: mmap segment file %s: %w", path, err)
	}
	return &segment{
		path:      path,
		file:      f,
		data:      data,
		slotSize:  wireSize,
		slotCount: slotCount,
		owner:     owner,
	}, nil
}

func (s *segment) writeSeqPtr() *uint64 {
	return (*uint64)(unsafe.Pointer(&s.data[0]))
}

func (s *segment) readSeqPtr() *uint64 {
	return (*uint64)(unsafe.Pointer(&s.data[8]))
}

func (s *segment) slot(seq uint64) []byte {
	idx := int(seq & uint64(s.slotCount-1))
	off := headerSize + idx*s.slotSize
	return s.data[off : off+s.slotSize]
}

// push writes one encoded message into the next free slot. It never
// blocks: a full ring (the writer has lapped the reader) is ErrSendFailed.
func (s *segment) push(payload []byte) error {
	if len(payload) != s.slotSize {
		return fmt.Errorf("%w: payload is %d bytes, slot is %d", ErrSerialization, len(payload), s.slotSize)
	}
	w := atomic.LoadUint64(s.writeSeqPtr())
	r := atomic.LoadUint64(s.readSeqPtr())
	if w-r >= uint64(s.slotCount) {
		return fmt.Errorf("%w: ring full", ErrSendFailed)
	}
	copy(s.slot(w), payload)
	atomic.StoreUint64(s.writeSeqPtr(), w+1)
	return nil
}

// tryPop reads the oldest unread message, if any. It never blocks: an empty
// ring is reported by the ok=false return, not an error, since "no message
// yet" is the expected steady state of TryReceive.
func (s *segment) tryPop() (payload []byte, ok bool) {
	r := atomic.LoadUint64(s.readSeqPtr())
	w := atomic.LoadUint64(s.writeSeqPtr())
	if r == w {
		return nil, false
	}
	out := make([]byte, s.slotSize)
	copy(out, s.slot(r))
	atomic.StoreUint64(s.readSeqPtr(), r+1)
	return out, true
}

// close unmaps the segment. The owning end also removes the backing file;
// the non-owning end leaves it for the owner to clean up.
func (s *segment) close() error {
	err := unix.Munmap(s.data)
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	if s.owner {
		if rerr := os.Remove(s.path); err == nil && rerr != nil && !os.IsNotExist(rerr) {
			err = rerr
		}
	}
	return err
}
