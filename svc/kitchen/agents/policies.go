package agents

import (
	"github.com/margaritaradeva/OvercookedAI/svc/kitchen/sim"
)

// Stay never moves. Useful as a placeholder partner.
type Stay struct{}

func (s *Stay) Reset() {}

func (s *Stay) Action(state sim.State) sim.Action {
	return sim.ActionStay
}

// ScriptedCook walks a fixed cooking loop: fetch onions, fill the pot,
// plate the soup, deliver. In the tutorial its behavior changes per phase,
// mirroring the mechanic the human is being taught.
type ScriptedCook struct {
	phase int
	tick  int
}

var cookLoop = []sim.Action{
	// Walk to the onion pile and pick up an onion
	sim.ActionUp,
	sim.ActionUp,
	sim.ActionUp,
	sim.ActionLeft,
	sim.ActionLeft,
	sim.ActionLeft,
	sim.ActionLeft,
	sim.ActionSpace,
	// Carry it to the pot
	sim.ActionRight,
	sim.ActionRight,
	sim.ActionSpace,
	// Second onion
	sim.ActionLeft,
	sim.ActionLeft,
	sim.ActionSpace,
	sim.ActionRight,
	sim.ActionRight,
	sim.ActionSpace,
	// Third onion
	sim.ActionLeft,
	sim.ActionLeft,
	sim.ActionSpace,
	sim.ActionRight,
	sim.ActionRight,
	sim.ActionSpace,
	// Grab a plate and serve
	sim.ActionRight,
	sim.ActionSpace,
	sim.ActionRight,
	sim.ActionSpace,
	// Walk back
	sim.ActionLeft,
	sim.ActionLeft,
	sim.ActionLeft,
	sim.ActionDown,
	sim.ActionDown,
	sim.ActionDown,
}

var coopLoop = []sim.Action{
	// Fetch one onion, drop it in the pot, then idle so the partner can
	// finish the recipe.
	sim.ActionUp,
	sim.ActionUp,
	sim.ActionUp,
	sim.ActionLeft,
	sim.ActionLeft,
	sim.ActionLeft,
	sim.ActionLeft,
	sim.ActionSpace,
	sim.ActionRight,
	sim.ActionRight,
	sim.ActionSpace,
	sim.ActionStay,
	sim.ActionStay,
	sim.ActionStay,
	sim.ActionStay,
	sim.ActionStay,
	sim.ActionStay,
	sim.ActionStay,
	sim.ActionStay,
}

func NewScriptedCook() *ScriptedCook {
	return &ScriptedCook{phase: -1, tick: -1}
}

func (c *ScriptedCook) Reset() {
	c.phase++
	c.tick = -1
}

func (c *ScriptedCook) Action(state sim.State) sim.Action {
	c.tick++

	switch c.phase {
	case 0:
		return cookLoop[c.tick%len(cookLoop)]
	case 2:
		return coopLoop[c.tick%len(coopLoop)]
	}

	return sim.ActionStay
}
