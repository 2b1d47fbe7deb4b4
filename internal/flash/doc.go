// Package flash implements the partition-aware safe-write and slot-clone
// engine: resolving logical target labels to physical flash windows, clipping
// them against the running image, streaming erase-then-write updates, and
// cloning/activating the alternate boot slot.
//
// The engine owns no transport. Callers (HTTP handlers, MQTT command
// handlers, CLIs) feed it labels and byte streams and map its typed errors to
// their own status codes. All flash access goes through the Device interface,
// so the whole package is testable against an in-memory fake.
package flash
