//go:build linux

package hal

import (
	"syscall"
	"time"

	"github.com/otarescue-io/otarescue/pkg/log"
)

type linuxRestarter struct{}

// NewRestarter returns the real restarter: sync, then an immediate kernel
// reboot. There is no init system on the target to shut down gracefully.
func NewRestarter() Restarter {
	return &linuxRestarter{}
}

func (r *linuxRestarter) Restart(delay time.Duration) error {
	log.Warn("Restarting system", "delay", delay)
	time.Sleep(delay)
	syscall.Sync()
	return syscall.Reboot(syscall.LINUX_REBOOT_CMD_RESTART)
}
