package sessions

import (
	"context"
	"time"

	"github.com/margaritaradeva/OvercookedAI/pkg/pausableticker"
	"github.com/margaritaradeva/OvercookedAI/pkg/protocol"
	"github.com/margaritaradeva/OvercookedAI/svc/kitchen/sim"
)

type tickKind byte

const (
	tickNone tickKind = iota
	tickState
	tickReset
	tickEnded
)

type tickResult struct {
	kind   tickKind
	status string
}

func (s *GameSession) tickPeriod() time.Duration {
	return time.Second / time.Duration(s.manager.settings.TickRate)
}

// resetTimeout is the client display delay between phases. The tutorial
// advances essentially immediately; its phases are a continuous lesson.
func (s *GameSession) resetTimeout() time.Duration {
	if s.Mode == ModeTutorial {
		return time.Millisecond
	}
	return s.manager.settings.ResetTimeout
}

// run is the tick driver: exactly one per session, started on activation
// and halted by session cancellation before any further state mutation.
func (s *GameSession) run(ctx context.Context) {
	ticker := pausableticker.New(s.tickPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}

			result := s.step()

			switch result.kind {
			case tickEnded:
				s.End(result.status)
				return
			case tickReset:
				// No state_pong may be emitted until the display
				// timeout elapses.
				ticker.Pause()
				select {
				case <-time.After(s.resetTimeout()):
				case <-ctx.Done():
					return
				}
				s.resume()
				ticker.Resume()
			}
		}
	}
}

// step advances the simulation by one tick: drain the action buffer into a
// joint action (STAY for silent slots), step the adapter, evaluate the
// phase rule, and broadcast. Runs entirely under the session lock.
func (s *GameSession) step() tickResult {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.status != StatusActive {
		return tickResult{kind: tickNone}
	}

	joint := make([]sim.Action, len(s.slots))
	for i := range joint {
		joint[i] = sim.ActionStay
		if s.hasPending[i] {
			joint[i] = s.pending[i]
			s.hasPending[i] = false
		}
	}

	outcome, err := s.adapter.Step(joint)
	if err != nil {
		logger := s.Logger()
		logger.Error().Err(err).Msg("adapter step failed")
		return tickResult{kind: tickEnded, status: protocol.StatusInactive}
	}

	s.state = outcome.State
	s.tick++

	stepReward := 0
	humanReward := 0
	for _, event := range outcome.Events {
		stepReward += event.Reward
		if event.Slot >= 0 && event.Slot < len(s.agentSlots) && !s.agentSlots[event.Slot] {
			humanReward += event.Reward
		}
	}
	s.score += stepReward
	s.humanScore += humanReward

	if s.request.DataCollection {
		s.recordLocked(joint, outcome, stepReward)
	}

	for _, runner := range s.runners {
		runner.Offer(outcome.State)
	}

	phase := s.phases[s.phaseIndex]
	fired := s.ruleFiredLocked(phase.Rule, humanReward)
	last := s.phaseIndex == len(s.phases)-1

	if outcome.Terminal || (fired && last) {
		return tickResult{kind: tickEnded, status: protocol.StatusCompleted}
	}

	if fired {
		return s.advancePhaseLocked()
	}

	s.broadcastLocked(s.attachedLocked(), protocol.StatePongMessage{
		Op:    protocol.StatePongOp,
		State: outcome.State,
	})

	return tickResult{kind: tickState}
}

func (s *GameSession) ruleFiredLocked(rule Rule, humanReward int) bool {
	switch rule.Kind {
	case RuleTimeLimit:
		return time.Since(s.phaseStart) >= time.Duration(rule.Seconds)*time.Second
	case RuleAnyScore:
		return s.humanScore > 0
	case RuleExactScore:
		return humanReward == rule.Score && rule.Score > 0
	}
	return false
}

// advancePhaseLocked performs active -> resetting: the adapter is reset
// with the next phase's parameters and reset_game carries the new initial
// state plus a display timeout and any completed-phase telemetry.
func (s *GameSession) advancePhaseLocked() tickResult {
	completed := s.phaseIndex
	next := s.phases[completed+1]

	state, err := s.adapter.Reset(next.Params)
	if err != nil {
		logger := s.Logger()
		logger.Error().Err(err).Msg("adapter reset failed")
		return tickResult{kind: tickEnded, status: protocol.StatusInactive}
	}

	data := s.takeDataLocked()
	s.persistTrajectory(completed, data)

	s.phaseIndex++

	s.status = StatusResetting
	s.state = state
	s.score = 0
	s.humanScore = 0
	s.tick = 0
	for i := range s.hasPending {
		s.hasPending[i] = false
	}

	for _, runner := range s.runners {
		runner.ResetPolicy()
		runner.Offer(state)
	}

	s.broadcastLocked(s.attachedLocked(), protocol.ResetGameMessage{
		Op:      protocol.ResetGameOp,
		State:   state,
		Timeout: int(s.resetTimeout() / time.Millisecond),
		Data:    data,
	})

	logger := s.Logger()
	logger.Info().
		Int("phase", s.phaseIndex).
		Str("layout", next.Params.Layout).
		Msg("phase advanced")

	return tickResult{kind: tickReset}
}

// resume flips resetting -> active once the display timeout has elapsed.
// The phase clock starts here so the pause does not eat game time.
func (s *GameSession) resume() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.status != StatusResetting {
		return
	}

	s.status = StatusActive
	s.phaseStart = time.Now()
	for i := range s.hasPending {
		s.hasPending[i] = false
	}
}

func (s *GameSession) recordLocked(joint []sim.Action, outcome sim.Outcome, reward int) {
	actions := make([]string, len(joint))
	for i, action := range joint {
		actions[i] = string(action)
	}

	phase := s.phases[s.phaseIndex]
	timeLeft := 0.0
	if phase.Rule.Kind == RuleTimeLimit {
		remaining := time.Duration(phase.Rule.Seconds)*time.Second - time.Since(s.phaseStart)
		if remaining > 0 {
			timeLeft = remaining.Seconds()
		}
	}

	s.trajectory = append(s.trajectory, protocol.Transition{
		State:       outcome.State,
		JointAction: actions,
		Reward:      reward,
		Score:       s.score,
		TimeLeft:    timeLeft,
		Tick:        s.tick,
		Layout:      phase.Params.Layout,
	})
}
