package flash

// ProbeResult previews the resolution and overlap arithmetic a write with the
// same parameters would perform.
type ProbeResult struct {
	OK       bool   // a write with these parameters would pass preconditions 1-3
	Label    string // resolved target label
	Base     uint32 // window base
	Limit    uint32 // window limit, clipped at the ceiling
	WriteLen uint32 // requested length (window length when zero was requested)
	WriteEnd uint32 // Base + WriteLen
	Overlap  bool   // requested range intersects the running image
	Running  string // running partition label, "?" when unknown
}

// Probe performs the writer's resolution, length and overlap checks as a dry
// run: no erase, no write, no lock against concurrent reads beyond the shared
// read lock. The overlap arithmetic is byte-identical to Write's, so an OK
// probe guarantees a subsequent write with the same parameters will not be
// rejected for length or overlap.
func (e *Engine) Probe(label string, length uint32) (ProbeResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	w, err := e.ResolveWindow(label)
	if err != nil {
		return ProbeResult{}, err
	}

	res := ProbeResult{
		Label:   label,
		Base:    w.Base,
		Limit:   w.Limit,
		Running: "?",
	}
	if e.hasRun {
		res.Running = e.running.Label
	}

	w0 := uint64(w.Base)
	w1 := uint64(w.Limit)
	if length > 0 {
		w1 = w0 + uint64(length)
	}
	res.WriteLen = uint32(w1 - w0)
	res.WriteEnd = uint32(w1)

	res.Overlap = e.overlapsRunning(w0, w1)

	lengthOK := length == 0 || w1 <= uint64(w.Limit)
	res.OK = !res.Overlap && lengthOK

	return res, nil
}
