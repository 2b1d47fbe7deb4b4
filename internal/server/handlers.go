package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/otarescue-io/otarescue/internal/backup"
	"github.com/otarescue-io/otarescue/internal/flash"
	"github.com/otarescue-io/otarescue/internal/pkg/metrics"
	"github.com/otarescue-io/otarescue/pkg/log"
)

type infoResponse struct {
	DeviceID   string `json:"deviceId"`
	ChipSize   uint32 `json:"chipSize"`
	SectorSize uint32 `json:"sectorSize"`
	Running    string `json:"running"`
	BootSlot   string `json:"bootSlot,omitempty"`
	Ceiling    uint32 `json:"ceiling"`
	State      string `json:"state"`
}

type mapEntry struct {
	Label     string `json:"label"`
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	Offset    uint32 `json:"offset"`
	Size      uint32 `json:"size"`
	Synthetic bool   `json:"synthetic,omitempty"`
}

type probeResponse struct {
	OK       bool   `json:"ok"`
	Label    string `json:"label"`
	Base     uint32 `json:"base"`
	Limit    uint32 `json:"limit"`
	WriteLen uint32 `json:"writeLen"`
	WriteEnd uint32 `json:"writeEnd"`
	Overlap  bool   `json:"overlap"`
	Running  string `json:"running"`
}

type mutationResponse struct {
	Op            string `json:"op"`
	Target        string `json:"target"`
	BytesWritten  uint32 `json:"bytesWritten,omitempty"`
	SectorsErased uint32 `json:"sectorsErased,omitempty"`
	Restarting    bool   `json:"restarting"`
}

type uploadResponse struct {
	Key   string `json:"key"`
	Bytes uint32 `json:"bytes"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error(err, "Failed to encode response")
	}
}

func targetParam(r *http.Request, fallback string) string {
	if t := r.URL.Query().Get("target"); t != "" {
		return t
	}
	return fallback
}

// backupParam is targetParam plus the legacy "label" spelling the device
// firmware used for its backup endpoint.
func backupParam(r *http.Request) string {
	if t := r.URL.Query().Get("target"); t != "" {
		return t
	}
	if t := r.URL.Query().Get("label"); t != "" {
		return t
	}
	return flash.LabelFull
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	e := s.cfg.Engine

	running := "?"
	if p, ok := e.Running(); ok {
		running = p.Label
	}

	resp := infoResponse{
		DeviceID:   s.cfg.DeviceID,
		ChipSize:   e.Directory().ChipSize(),
		SectorSize: e.SectorSize(),
		Running:    running,
		Ceiling:    e.Ceiling(),
		State:      s.cfg.Gate.Current(),
	}
	if p, err := e.BootSlot(); err == nil {
		resp.BootSlot = p.Label
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	dir := s.cfg.Engine.Directory()

	entries := make([]mapEntry, 0, len(dir.All())+2)
	add := func(p flash.Partition) {
		entries = append(entries, mapEntry{
			Label:     p.Label,
			Type:      p.Kind.String(),
			Subtype:   p.Subkind.String(),
			Offset:    p.Address,
			Size:      p.Size,
			Synthetic: p.Synthetic,
		})
	}
	for _, p := range dir.All() {
		add(p)
	}
	// The resolvable pseudo-targets, so clients see the full addressable set.
	if _, ok := dir.ByLabel(flash.LabelBoot); !ok {
		add(dir.Boot())
	}
	add(dir.Full())

	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	target := targetParam(r, flash.LabelBoot)

	var length uint64
	if v := r.URL.Query().Get("len"); v != "" {
		var err error
		length, err = strconv.ParseUint(v, 0, 32)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid len %q", v), http.StatusBadRequest)
			return
		}
	}

	res, err := s.cfg.Engine.Probe(target, uint32(length))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, probeResponse{
		OK:       res.OK,
		Label:    res.Label,
		Base:     res.Base,
		Limit:    res.Limit,
		WriteLen: res.WriteLen,
		WriteEnd: res.WriteEnd,
		Overlap:  res.Overlap,
		Running:  res.Running,
	})
}

func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	target := backupParam(r)

	p, err := s.cfg.Engine.Directory().Resolve(target)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	filename := fmt.Sprintf("%s_0x%06x_%d.bin", p.Label, p.Address, p.Size)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatUint(uint64(p.Size), 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	err = s.cfg.Engine.ReadRange(p.Address, p.Size, func(b []byte) error {
		_, werr := w.Write(b)
		return werr
	})
	if err != nil {
		// Headers are gone; all we can do is log and cut the stream short.
		log.Error(err, "Backup stream aborted", "target", target)
		metrics.OperationsTotal.WithLabelValues("backup", "failed").Inc()
		return
	}
	metrics.OperationsTotal.WithLabelValues("backup", "success").Inc()
}

func (s *Server) handleBackupUpload(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Uploader == nil {
		http.Error(w, "backup upload is not configured", http.StatusServiceUnavailable)
		return
	}

	target := backupParam(r)
	p, err := s.cfg.Engine.Directory().Resolve(target)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := backup.ObjectKey(s.cfg.DeviceID, p.Label, p.Address, p.Size)

	pr, pw := io.Pipe()
	go func() {
		err := s.cfg.Engine.ReadRange(p.Address, p.Size, func(b []byte) error {
			_, werr := pw.Write(b)
			return werr
		})
		pw.CloseWithError(err)
	}()

	storedKey, err := s.cfg.Uploader.Upload(r.Context(), key, pr, int64(p.Size))
	if err != nil {
		metrics.OperationsTotal.WithLabelValues("backup", "failed").Inc()
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	metrics.OperationsTotal.WithLabelValues("backup", "success").Inc()
	writeJSON(w, http.StatusOK, uploadResponse{Key: storedKey, Bytes: p.Size})
}

func (s *Server) handleFlash(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	target := targetParam(r, flash.LabelBoot)

	if r.ContentLength <= 0 {
		http.Error(w, "Content-Length is required", http.StatusLengthRequired)
		return
	}
	if r.ContentLength > int64(s.cfg.Engine.Directory().ChipSize()) {
		http.Error(w, "image larger than the flash chip", http.StatusBadRequest)
		return
	}

	if err := s.cfg.Gate.BeginFlash(ctx); err != nil {
		s.rejectBusy(w, "flash")
		return
	}

	stats, err := s.cfg.Engine.Write(target, r.Body, uint32(r.ContentLength))
	if err != nil {
		s.cfg.Gate.Done(ctx)
		s.failMutation(w, "flash", err)
		return
	}

	metrics.OperationsTotal.WithLabelValues("flash", "success").Inc()
	metrics.BytesFlashedTotal.Add(float64(stats.BytesWritten))
	metrics.SectorsErasedTotal.Add(float64(stats.SectorsErased))

	writeJSON(w, http.StatusOK, mutationResponse{
		Op:            "flash",
		Target:        target,
		BytesWritten:  stats.BytesWritten,
		SectorsErased: stats.SectorsErased,
		Restarting:    s.cfg.RequestRestart != nil,
	})
	s.finishMutation(ctx, flashRestartDelay)
}

func (s *Server) handleRelocate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.cfg.Gate.BeginRelocate(ctx); err != nil {
		s.rejectBusy(w, "relocate")
		return
	}

	dst, stats, err := s.cfg.Engine.CloneRunningToOther()
	if err != nil {
		s.cfg.Gate.Done(ctx)
		s.failMutation(w, "relocate", err)
		return
	}

	metrics.OperationsTotal.WithLabelValues("relocate", "success").Inc()
	metrics.BytesFlashedTotal.Add(float64(stats.BytesWritten))
	metrics.SectorsErasedTotal.Add(float64(stats.SectorsErased))

	writeJSON(w, http.StatusOK, mutationResponse{
		Op:            "relocate",
		Target:        dst.Label,
		BytesWritten:  stats.BytesWritten,
		SectorsErased: stats.SectorsErased,
		Restarting:    s.cfg.RequestRestart != nil,
	})
	s.finishMutation(ctx, switchRestartDelay)
}

func (s *Server) handleBootswitch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.cfg.Gate.BeginBootswitch(ctx); err != nil {
		s.rejectBusy(w, "bootswitch")
		return
	}

	dst, err := s.cfg.Engine.SwitchBootToOther()
	if err != nil {
		s.cfg.Gate.Done(ctx)
		s.failMutation(w, "bootswitch", err)
		return
	}

	metrics.OperationsTotal.WithLabelValues("bootswitch", "success").Inc()

	writeJSON(w, http.StatusOK, mutationResponse{
		Op:         "bootswitch",
		Target:     dst.Label,
		Restarting: s.cfg.RequestRestart != nil,
	})
	s.finishMutation(ctx, switchRestartDelay)
}

func (s *Server) rejectBusy(w http.ResponseWriter, op string) {
	metrics.OperationsTotal.WithLabelValues(op, "rejected").Inc()
	http.Error(w, "another operation is in progress", http.StatusServiceUnavailable)
}

// failMutation translates engine errors into HTTP statuses: precondition
// failures are the client's problem, device failures are ours.
func (s *Server) failMutation(w http.ResponseWriter, op string, err error) {
	var status int
	outcome := "rejected"

	switch {
	case errors.Is(err, flash.ErrOverlapsRunningImage):
		status = http.StatusConflict
	case errors.Is(err, flash.ErrUnknownTarget),
		errors.Is(err, flash.ErrLengthOutOfRange),
		errors.Is(err, flash.ErrBadImageMagic),
		errors.Is(err, flash.ErrNoAlternateSlot),
		errors.Is(err, io.ErrUnexpectedEOF):
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
		outcome = "failed"
	}

	metrics.OperationsTotal.WithLabelValues(op, outcome).Inc()
	log.Error(err, "Operation failed", "op", op)
	http.Error(w, err.Error(), status)
}
