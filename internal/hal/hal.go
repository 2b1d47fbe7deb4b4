// Package hal adapts the flash engine's device and restart requirements to
// the host: a file-backed flash device (an mtdblock node on a real unit, a
// plain image file on a bench), and a platform restarter selected by build
// tag.
package hal

import "time"

// Restarter reboots the host after a settle delay. The delay lets in-flight
// HTTP responses and log lines drain before the kernel goes away.
type Restarter interface {
	Restart(delay time.Duration) error
}
