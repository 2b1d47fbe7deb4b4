package flash

import (
	"sync"
)

// Engine ties the partition directory, the raw device, the boot store and
// the running-image reference together and serializes access to them.
//
// At most one mutating operation (write, clone, boot switch) runs at a time;
// reads (resolve, probe, backup) may proceed concurrently with each other but
// not with a mutation. The advisory lock is the only coordination: there is
// no per-sector locking and no cancellation once erasing starts.
type Engine struct {
	mu sync.RWMutex

	dir     *Directory
	dev     Device
	boot    *BootStore
	running Partition
	hasRun  bool
}

// NewEngine constructs the engine. running identifies the partition currently
// executing; pass hasRunning=false on bench setups where nothing on the chip
// is live (every window then resolves unclipped, with the default ceiling).
func NewEngine(dir *Directory, dev Device, boot *BootStore, running Partition, hasRunning bool) *Engine {
	return &Engine{
		dir:     dir,
		dev:     dev,
		boot:    boot,
		running: running,
		hasRun:  hasRunning,
	}
}

// Directory returns the immutable partition directory.
func (e *Engine) Directory() *Directory { return e.dir }

// SectorSize returns the device's erase-sector size.
func (e *Engine) SectorSize() uint32 { return e.dev.SectorSize() }

// Running returns the running-image reference.
func (e *Engine) Running() (Partition, bool) { return e.running, e.hasRun }

// BootSlot returns the partition the boot pointer currently selects.
func (e *Engine) BootSlot() (Partition, error) {
	slot, err := e.boot.Current()
	if err != nil {
		return Partition{}, err
	}
	return e.slotPartition(slot)
}

func (e *Engine) slotPartition(slot int) (Partition, error) {
	sub := SubOTA0
	if slot == 1 {
		sub = SubOTA1
	}
	p, ok := e.dir.BySubkind(KindApp, sub)
	if !ok {
		return Partition{}, ErrNoAlternateSlot
	}
	return p, nil
}

// Ceiling returns the start address of the running image: the address writes
// and erases must never cross into.
func (e *Engine) Ceiling() uint32 {
	if !e.hasRun {
		return DefaultCeiling
	}
	return e.running.Address
}

// ResolveWindow resolves a label to its physical window with the limit
// clipped at the ceiling. This is the first of the two independent guards;
// Write and Probe additionally check the concrete requested range against the
// running image. The clip uses nominal partition bounds, the overlap check
// the actual transfer length; neither subsumes the other.
func (e *Engine) ResolveWindow(label string) (Window, error) {
	p, err := e.dir.Resolve(label)
	if err != nil {
		return Window{}, err
	}
	w := Window{Base: p.Address, Limit: p.End()}
	return ClipCeiling(w, e.Ceiling()), nil
}

// overlapsRunning reports whether [base, end) intersects the running image.
func (e *Engine) overlapsRunning(base, end uint64) bool {
	if !e.hasRun {
		return false
	}
	return overlaps(base, end, uint64(e.running.Address), uint64(e.running.End()))
}

// ReadRange streams size bytes starting at addr into fn-sized chunks via the
// provided sink. It takes the read side of the advisory lock, so backups
// never observe a half-written sector.
func (e *Engine) ReadRange(addr, size uint32, sink func(p []byte) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	buf := make([]byte, WriteChunkSize)
	for off := uint32(0); off < size; {
		n := uint32(len(buf))
		if size-off < n {
			n = size - off
		}
		if err := e.dev.ReadAt(addr+off, buf[:n]); err != nil {
			return &IOError{Op: "read", Addr: addr + off, Err: err}
		}
		if err := sink(buf[:n]); err != nil {
			return err
		}
		off += n
	}
	return nil
}
