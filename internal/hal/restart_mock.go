//go:build !linux

package hal

import (
	"time"

	"github.com/otarescue-io/otarescue/pkg/log"
)

type mockRestarter struct{}

// NewRestarter returns a no-op restarter for development hosts.
func NewRestarter() Restarter {
	return &mockRestarter{}
}

func (r *mockRestarter) Restart(delay time.Duration) error {
	time.Sleep(delay)
	log.Warn("Mock restart requested, not rebooting the development host")
	return nil
}
