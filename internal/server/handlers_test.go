package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otarescue-io/otarescue/internal/flash"
	"github.com/otarescue-io/otarescue/internal/flash/flashtest"
	"github.com/otarescue-io/otarescue/pkg/options"
)

const (
	chipSize   = 0x400000
	sectorSize = 0x1000
)

type stubGate struct {
	busy   bool
	begins int
	dones  int
}

func (g *stubGate) begin(context.Context) error {
	if g.busy {
		return errors.New("busy")
	}
	g.busy = true
	g.begins++
	return nil
}

func (g *stubGate) BeginFlash(ctx context.Context) error      { return g.begin(ctx) }
func (g *stubGate) BeginRelocate(ctx context.Context) error   { return g.begin(ctx) }
func (g *stubGate) BeginBootswitch(ctx context.Context) error { return g.begin(ctx) }

func (g *stubGate) Done(context.Context) {
	g.busy = false
	g.dones++
}

func (g *stubGate) Current() string {
	if g.busy {
		return "flashing"
	}
	return "idle"
}

type stubUploader struct {
	key   string
	bytes int64
	err   error
}

func (u *stubUploader) EnsureBucket(context.Context) error { return nil }

func (u *stubUploader) Upload(_ context.Context, key string, r io.Reader, size int64) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	n, err := io.Copy(io.Discard, r)
	if err != nil {
		return "", err
	}
	u.key = key
	u.bytes = n
	return key, nil
}

func buildServer(t *testing.T, parts []flash.Partition, running flash.Partition, cfg Config) (*Server, *flashtest.Device, *stubGate) {
	t.Helper()
	dev := flashtest.New(chipSize, sectorSize)
	dir, err := flash.NewDirectory(chipSize, sectorSize, parts)
	require.NoError(t, err)

	otadata, ok := dir.ByLabel("otadata")
	require.True(t, ok)
	boot, err := flash.NewBootStore(dev, otadata)
	require.NoError(t, err)

	cfg.Engine = flash.NewEngine(dir, dev, boot, running, true)
	gate := &stubGate{}
	if cfg.Gate == nil {
		cfg.Gate = gate
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = "device-001"
	}
	return NewServer(options.NewHttpOptions(), cfg), dev, gate
}

// rescueServer runs from the boot region with a single large slot.
func rescueServer(t *testing.T, cfg Config) (*Server, *flashtest.Device, *stubGate) {
	return buildServer(t, []flash.Partition{
		{Label: "ota_1", Kind: flash.KindApp, Subkind: flash.SubOTA1, Address: 0x010000, Size: 0x0DB000},
		{Label: "otadata", Kind: flash.KindData, Subkind: flash.SubOTAData, Address: 0x0EB000, Size: 0x2000},
	}, flash.Partition{
		Label:     "boot",
		Kind:      flash.KindApp,
		Subkind:   flash.SubFactory,
		Address:   0x002000,
		Size:      0x00D000,
		Synthetic: true,
	}, cfg)
}

// slotServer runs from ota_0 with ota_1 alongside.
func slotServer(t *testing.T, cfg Config) (*Server, *flashtest.Device, *stubGate) {
	return buildServer(t, []flash.Partition{
		{Label: "otadata", Kind: flash.KindData, Subkind: flash.SubOTAData, Address: 0xD000, Size: 0x2000},
		{Label: "ota_0", Kind: flash.KindApp, Subkind: flash.SubOTA0, Address: 0x10000, Size: 0x3000},
		{Label: "ota_1", Kind: flash.KindApp, Subkind: flash.SubOTA1, Address: 0x13000, Size: 0x2000},
	}, flash.Partition{
		Label:   "ota_0",
		Kind:    flash.KindApp,
		Subkind: flash.SubOTA0,
		Address: 0x10000,
		Size:    0x3000,
	}, cfg)
}

func doRequest(s *Server, method, url string, body []byte) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, url, r)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func imagePayload(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i % 251)
	}
	p[0] = flash.ImageMagic
	return p
}

func TestHandleInfo(t *testing.T) {
	s, _, _ := rescueServer(t, Config{})

	w := doRequest(s, http.MethodGet, "/info", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp infoResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "device-001", resp.DeviceID)
	assert.Equal(t, uint32(chipSize), resp.ChipSize)
	assert.Equal(t, uint32(sectorSize), resp.SectorSize)
	assert.Equal(t, "boot", resp.Running)
	assert.Equal(t, "idle", resp.State)
}

func TestHandleMap(t *testing.T) {
	s, _, _ := rescueServer(t, Config{})

	w := doRequest(s, http.MethodGet, "/map", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var entries []mapEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))

	labels := map[string]mapEntry{}
	for _, e := range entries {
		labels[e.Label] = e
	}
	assert.Contains(t, labels, "ota_1")
	assert.Contains(t, labels, "otadata")
	require.Contains(t, labels, "boot")
	require.Contains(t, labels, "full")
	assert.True(t, labels["boot"].Synthetic)
	assert.Equal(t, uint32(chipSize), labels["full"].Size)
}

func TestHandleProbe(t *testing.T) {
	s, dev, _ := rescueServer(t, Config{})

	w := doRequest(s, http.MethodGet, "/probe?target=boot&len=0x7000", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp probeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.OK)
	assert.True(t, resp.Overlap)
	assert.Equal(t, uint32(0x2000), resp.Limit)
	assert.Zero(t, dev.MutationCalls())

	w = doRequest(s, http.MethodGet, "/probe?target=ota_1&len=6000", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)

	w = doRequest(s, http.MethodGet, "/probe?target=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(s, http.MethodGet, "/probe?target=ota_1&len=banana", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleFlashSuccess(t *testing.T) {
	s, dev, gate := rescueServer(t, Config{})
	payload := imagePayload(6000)

	w := doRequest(s, http.MethodPost, "/flash?target=ota_1", payload)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp mutationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, uint32(6000), resp.BytesWritten)
	assert.Equal(t, uint32(2), resp.SectorsErased)
	assert.False(t, resp.Restarting)

	assert.Equal(t, payload, dev.Mem()[0x010000:0x010000+6000])
	assert.Equal(t, 1, gate.begins)
	assert.Equal(t, 1, gate.dones, "gate released when no restart is configured")
}

func TestHandleFlashDefaultsToBoot(t *testing.T) {
	s, dev, _ := rescueServer(t, Config{})
	payload := imagePayload(0x1000)

	w := doRequest(s, http.MethodPost, "/flash", payload)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, payload, dev.Mem()[:0x1000])
}

func TestHandleFlashRequiresLength(t *testing.T) {
	s, _, _ := rescueServer(t, Config{})

	w := doRequest(s, http.MethodPost, "/flash?target=ota_1", nil)
	assert.Equal(t, http.StatusLengthRequired, w.Code)
}

func TestHandleFlashErrors(t *testing.T) {
	t.Run("unknown target", func(t *testing.T) {
		s, _, gate := rescueServer(t, Config{})
		w := doRequest(s, http.MethodPost, "/flash?target=bogus", imagePayload(16))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, 1, gate.dones, "gate released on rejection")
	})

	t.Run("bad magic", func(t *testing.T) {
		s, _, _ := rescueServer(t, Config{})
		payload := imagePayload(0x1000)
		payload[0] = 0x00
		w := doRequest(s, http.MethodPost, "/flash?target=boot", payload)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("overlap", func(t *testing.T) {
		s, dev, _ := slotServer(t, Config{})
		w := doRequest(s, http.MethodPost, "/flash?target=ota_0", imagePayload(0x1000))
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Zero(t, dev.MutationCalls())
	})

	t.Run("busy", func(t *testing.T) {
		gate := &stubGate{busy: true}
		s, _, _ := rescueServer(t, Config{Gate: gate})
		w := doRequest(s, http.MethodPost, "/flash?target=ota_1", imagePayload(16))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("device failure", func(t *testing.T) {
		s, dev, gate := rescueServer(t, Config{})
		dev.WriteErr = func(addr uint32) error { return errors.New("program failed") }
		w := doRequest(s, http.MethodPost, "/flash?target=ota_1", imagePayload(16))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, 1, gate.dones)
	})
}

func TestHandleFlashRequestsRestart(t *testing.T) {
	var restartDelay time.Duration
	cfg := Config{RequestRestart: func(d time.Duration) { restartDelay = d }}
	s, _, gate := rescueServer(t, cfg)

	w := doRequest(s, http.MethodPost, "/flash?target=ota_1", imagePayload(16))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp mutationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Restarting)
	assert.Equal(t, flashRestartDelay, restartDelay)
	assert.Zero(t, gate.dones, "restart path keeps the gate claimed")
}

func TestHandleBackup(t *testing.T) {
	s, dev, _ := rescueServer(t, Config{})
	seed := imagePayload(0x6000)
	dev.Load(0, seed)

	w := doRequest(s, http.MethodGet, "/backup?target=boot", nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "24576", w.Header().Get("Content-Length"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "boot_0x000000_24576.bin")
	assert.Equal(t, seed, w.Body.Bytes())

	w = doRequest(s, http.MethodGet, "/backup?target=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleBackupLabelAlias(t *testing.T) {
	s, dev, _ := rescueServer(t, Config{})
	seed := imagePayload(0x6000)
	dev.Load(0, seed)

	w := doRequest(s, http.MethodGet, "/backup?label=boot", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "boot_0x000000_24576.bin")
	assert.Equal(t, seed, w.Body.Bytes())

	// target wins when both spellings are present.
	w = doRequest(s, http.MethodGet, "/backup?target=boot&label=bogus", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleBackupUpload(t *testing.T) {
	up := &stubUploader{}
	s, _, _ := rescueServer(t, Config{Uploader: up})

	w := doRequest(s, http.MethodPost, "/backup/upload?target=boot", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "device-001/boot_0x000000_24576.bin", resp.Key)
	assert.Equal(t, int64(0x6000), up.bytes)
}

func TestHandleBackupUploadUnconfigured(t *testing.T) {
	s, _, _ := rescueServer(t, Config{})
	w := doRequest(s, http.MethodPost, "/backup/upload?target=boot", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandleRelocate(t *testing.T) {
	s, dev, gate := slotServer(t, Config{})
	dev.Load(0x10000, imagePayload(0x3000))

	w := doRequest(s, http.MethodPost, "/relocate", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp mutationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ota_1", resp.Target)
	assert.Equal(t, uint32(0x2000), resp.BytesWritten)
	assert.Equal(t, 1, gate.dones)
}

func TestHandleRelocateWithoutSlot(t *testing.T) {
	s, _, gate := rescueServer(t, Config{})

	w := doRequest(s, http.MethodPost, "/relocate", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 1, gate.dones)
}

func TestHandleBootswitch(t *testing.T) {
	s, _, _ := slotServer(t, Config{})

	w := doRequest(s, http.MethodPost, "/bootswitch", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp mutationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "bootswitch", resp.Op)
	assert.Equal(t, "ota_1", resp.Target)
}

func TestHealthz(t *testing.T) {
	s, _, _ := rescueServer(t, Config{})
	w := doRequest(s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}
