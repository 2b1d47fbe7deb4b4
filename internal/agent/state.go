package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/looplab/fsm"

	"github.com/otarescue-io/otarescue/internal/pkg/metrics"
	fsmutil "github.com/otarescue-io/otarescue/internal/pkg/util/fsm"
)

// Operation lifecycle states. The machine admits one mutating operation at a
// time; a second request fails fast with ErrBusy instead of queueing behind a
// multi-minute flash.
const (
	StateIdle       = "idle"
	StateFlashing   = "flashing"
	StateRelocating = "relocating"
	StateSwitching  = "switching"
	StateRebooting  = "rebooting"
)

// Events driving the lifecycle machine.
const (
	EventFlash      = "event_flash"
	EventRelocate   = "event_relocate"
	EventBootswitch = "event_bootswitch"
	EventDone       = "event_done"
	EventReboot     = "event_reboot"
)

// ErrBusy means a mutating operation is already running.
var ErrBusy = errors.New("another operation is in progress")

// OpState tracks which (if any) mutating operation currently owns the device.
// Reads (info, map, probe, backup) bypass it; they serialize against writes on
// the engine's advisory lock instead.
type OpState struct {
	mu  sync.Mutex
	fsm *fsm.FSM
}

// NewOpState builds the lifecycle machine in the idle state.
func NewOpState() *OpState {
	s := &OpState{}

	busy := []string{StateFlashing, StateRelocating, StateSwitching}

	events := fsm.Events{
		{Name: EventFlash, Src: []string{StateIdle}, Dst: StateFlashing},
		{Name: EventRelocate, Src: []string{StateIdle}, Dst: StateRelocating},
		{Name: EventBootswitch, Src: []string{StateIdle}, Dst: StateSwitching},
		{Name: EventDone, Src: busy, Dst: StateIdle},

		// Rebooting is terminal: the process does not come back, the device
		// does. An operation that ends in a restart never returns to idle.
		{Name: EventReboot, Src: append([]string{StateIdle}, busy...), Dst: StateRebooting},
	}

	callbacks := fsm.Callbacks{
		"enter_state": fsmutil.WrapEvent(func(ctx context.Context, e *fsm.Event) error {
			switch e.Dst {
			case StateIdle, StateRebooting:
				metrics.OperationInProgress.Set(0)
			default:
				metrics.OperationInProgress.Set(1)
			}
			return nil
		}),
	}

	s.fsm = fsm.NewFSM(StateIdle, events, callbacks)
	return s
}

// Begin claims the device for the mutating operation started by event.
// Returns ErrBusy when another operation holds it.
func (s *OpState) Begin(ctx context.Context, event string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fsm.Event(ctx, event); err != nil {
		return ErrBusy
	}
	return nil
}

// BeginFlash claims the device for a write.
func (s *OpState) BeginFlash(ctx context.Context) error { return s.Begin(ctx, EventFlash) }

// BeginRelocate claims the device for a slot clone.
func (s *OpState) BeginRelocate(ctx context.Context) error { return s.Begin(ctx, EventRelocate) }

// BeginBootswitch claims the device for a boot pointer flip.
func (s *OpState) BeginBootswitch(ctx context.Context) error { return s.Begin(ctx, EventBootswitch) }

// Done releases the device back to idle.
func (s *OpState) Done(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.fsm.Event(ctx, EventDone)
}

// Rebooting marks the process as on its way down.
func (s *OpState) Rebooting(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.fsm.Event(ctx, EventReboot)
}

// Current returns the lifecycle state name.
func (s *OpState) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fsm.Current()
}
