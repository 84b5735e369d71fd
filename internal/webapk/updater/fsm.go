package updater

import (
	"github.com/looplab/fsm"

	fsmutil "github.com/autopeer-io/webapkd/internal/pkg/util/fsm"
)

// States of an update cycle.
const (
	StateIdle          = "idle"
	StateCheckInFlight = "check_in_flight"
	StateDeciding      = "deciding"
	StateSerializing   = "serializing"
	StateScheduled     = "scheduled"
)

const (
	// EventCheck (Active) starts a manifest fetch when the gate allows it.
	EventCheck = "check"
	// EventManifest carries a fetch result, real or synthesized.
	EventManifest = "manifest"
	// EventNoUpdate ends a cycle that found nothing to send.
	EventNoUpdate = "no_update"
	// EventUpdate starts serializing an update request.
	EventUpdate = "update"
	// EventSerialized hands the request to the scheduler.
	EventSerialized = "serialized"
	// EventSerializeFailed abandons the request.
	EventSerializeFailed = "serialize_failed"
	// EventDelivered closes the cycle once the installer answered.
	EventDelivered = "delivered"
)

func newStateMachine(m *Manager) *fsm.FSM {
	events := fsm.Events{
		{Name: EventCheck, Src: []string{StateIdle}, Dst: StateCheckInFlight},

		// A fetcher left running after a fruitless check may still report
		// while idle.
		{Name: EventManifest, Src: []string{StateCheckInFlight, StateIdle}, Dst: StateDeciding},

		{Name: EventNoUpdate, Src: []string{StateDeciding}, Dst: StateIdle},
		{Name: EventUpdate, Src: []string{StateDeciding}, Dst: StateSerializing},
		{Name: EventSerialized, Src: []string{StateSerializing}, Dst: StateScheduled},
		{Name: EventSerializeFailed, Src: []string{StateSerializing}, Dst: StateIdle},
		{Name: EventDelivered, Src: []string{StateScheduled}, Dst: StateIdle},
	}

	callbacks := fsm.Callbacks{
		// Guards (before_...)
		"before_" + EventCheck: fsmutil.WrapEvent(m.guardCheckDue),

		// Side-Effects (enter_...)
		"enter_" + StateCheckInFlight: fsmutil.WrapEvent(m.actionEnterCheckInFlight),
		"enter_" + StateDeciding:      fsmutil.WrapEvent(m.actionEnterDeciding),
		"enter_state":                 m.logTransition,
	}

	return fsm.NewFSM(StateIdle, events, callbacks)
}
