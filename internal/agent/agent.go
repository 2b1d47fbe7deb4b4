// Package agent assembles the rescue daemon: the flash engine, its HTTP and
// MQTT frontends, the operation lifecycle machine, and the restart path taken
// after a successful mutation.
package agent

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/otarescue-io/otarescue/internal/backup"
	"github.com/otarescue-io/otarescue/internal/flash"
	"github.com/otarescue-io/otarescue/internal/hal"
	"github.com/otarescue-io/otarescue/internal/server"
	"github.com/otarescue-io/otarescue/pkg/log"
)

// Agent is the running daemon.
type Agent struct {
	engine    *flash.Engine
	state     *OpState
	dev       *hal.FileDevice
	restarter hal.Restarter
	uploader  backup.Uploader
	deviceID  string

	httpServer *server.Server
	announcer  *Announcer
}

// Run serves until ctx is cancelled or a frontend fails, then releases the
// flash device.
func (a *Agent) Run(ctx context.Context) error {
	defer a.dev.Close()

	if a.uploader != nil {
		ensureCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := a.uploader.EnsureBucket(ensureCtx); err != nil {
			// Backups are a convenience; the rescue path must come up anyway.
			log.Error(err, "Backup bucket unavailable, uploads will fail until it is")
		}
		cancel()
	}

	log.Info("Rescue agent starting", "device", a.deviceID)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.httpServer.Start(ctx)
	})
	if a.announcer != nil {
		g.Go(func() error {
			return a.announcer.Start(ctx)
		})
	}
	return g.Wait()
}

// requestRestart is handed to the frontends as the success epilogue for
// mutating operations: flush the device, mark the lifecycle terminal and
// reboot once the settle delay has let the response drain.
func (a *Agent) requestRestart(delay time.Duration) {
	a.state.Rebooting(context.Background())

	if err := a.dev.Sync(); err != nil {
		log.Error(err, "Flash sync before restart failed")
	}

	go func() {
		if err := a.restarter.Restart(delay); err != nil {
			log.Error(err, "Restart failed, releasing for manual recovery")
		}
	}()
}
