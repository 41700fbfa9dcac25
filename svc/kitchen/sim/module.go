// Package sim defines the boundary to the cooking simulation. The
// orchestrator treats the simulation as an opaque, deterministic step
// function: it never inspects state beyond the serialized snapshot and the
// events returned by Step.
package sim

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	opt "github.com/repeale/fp-go/option"
	"github.com/sasha-s/go-deadlock"
)

type Action string

const (
	ActionLeft  Action = "LEFT"
	ActionRight Action = "RIGHT"
	ActionUp    Action = "UP"
	ActionDown  Action = "DOWN"
	ActionSpace Action = "SPACE"
	ActionStay  Action = "STAY"
)

// ParseAction validates an action string from the wire.
func ParseAction(raw string) (Action, error) {
	switch Action(raw) {
	case ActionLeft, ActionRight, ActionUp, ActionDown, ActionSpace, ActionStay:
		return Action(raw), nil
	}
	return ActionStay, fmt.Errorf("invalid action %q", raw)
}

// State is a serialized snapshot of the simulation. The orchestrator hands
// it to clients verbatim.
type State = cbor.RawMessage

// LayoutParams configures one phase of a game.
type LayoutParams struct {
	Layout  string
	Players int
}

type EventName string

const (
	// A recipe was delivered. Reward carries the points awarded.
	EventDelivery EventName = "delivery"
)

type Event struct {
	Name EventName
	// The slot of the player responsible for the event.
	Slot   int
	Reward int
}

type Outcome struct {
	State    State
	Terminal bool
	Events   []Event
}

// Adapter wraps one simulation instance. Implementations must be
// synchronous and deterministic and must not do their own I/O or spawn
// goroutines; the owning session's tick driver is the only caller.
type Adapter interface {
	Reset(params LayoutParams) (State, error)
	Step(joint []Action) (Outcome, error)
}

type Constructor func() Adapter

type Registry struct {
	mutex        deadlock.Mutex
	constructors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[string]Constructor),
	}
}

func (r *Registry) Register(name string, constructor Constructor) {
	r.mutex.Lock()
	r.constructors[name] = constructor
	r.mutex.Unlock()
}

func (r *Registry) Find(name string) opt.Option[Constructor] {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if constructor, ok := r.constructors[name]; ok {
		return opt.Some(constructor)
	}

	return opt.None[Constructor]()
}
