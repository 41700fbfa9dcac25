// Package agents seats scripted policies in player slots. An agent occupies
// a slot exactly like a human: the session feeds it each post-step state and
// its chosen actions flow through the same per-slot buffers.
package agents

import (
	"context"

	"github.com/margaritaradeva/OvercookedAI/svc/kitchen/sim"

	opt "github.com/repeale/fp-go/option"
	"github.com/rs/zerolog/log"
)

// Policy picks one action per observed state. Implementations must be
// synchronous; the runner owns all concurrency.
type Policy interface {
	// Reset is called before phase 0 and on every phase advance.
	Reset()
	Action(state sim.State) sim.Action
}

const (
	PolicyStay         = "stay"
	PolicyScriptedCook = "scripted_cook"
)

func FindPolicy(name string) opt.Option[Policy] {
	switch name {
	case PolicyStay:
		return opt.Some[Policy](&Stay{})
	case PolicyScriptedCook:
		return opt.Some[Policy](NewScriptedCook())
	}

	return opt.None[Policy]()
}

// Game is the slice of a session an agent runner needs.
type Game interface {
	EnqueueAgentAction(slot int, action sim.Action)
}

// Runner drives one policy in the background. The session offers it states;
// the runner never blocks the tick driver.
type Runner struct {
	policy Policy
	slot   int
	game   Game
	states chan sim.State
}

func NewRunner(policy Policy, slot int, game Game) *Runner {
	return &Runner{
		policy: policy,
		slot:   slot,
		game:   game,
		states: make(chan sim.State, 1),
	}
}

func (r *Runner) ResetPolicy() {
	r.policy.Reset()
}

// Offer hands the runner the latest state, dropping any unprocessed one.
func (r *Runner) Offer(state sim.State) {
	for {
		select {
		case r.states <- state:
			return
		default:
			select {
			case <-r.states:
			default:
			}
		}
	}
}

func (r *Runner) Run(ctx context.Context) {
	logger := log.With().Int("slot", r.slot).Logger()
	logger.Debug().Msg("agent runner started")

	for {
		select {
		case state := <-r.states:
			r.game.EnqueueAgentAction(r.slot, r.policy.Action(state))
		case <-ctx.Done():
			logger.Debug().Msg("agent runner stopped")
			return
		}
	}
}
