package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/margaritaradeva/OvercookedAI/pkg/protocol"
	"github.com/margaritaradeva/OvercookedAI/svc/kitchen/clients"
	"github.com/margaritaradeva/OvercookedAI/svc/kitchen/sim"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

// A full onion-to-delivery cycle for a single player spawning at (1, 3) on
// a five-wide layout.
var deliveryRun = []string{
	"LEFT", "UP", "UP", "UP", "SPACE",
	"RIGHT", "RIGHT", "SPACE",
	"LEFT", "LEFT", "SPACE", "RIGHT", "RIGHT", "SPACE",
	"LEFT", "LEFT", "SPACE", "RIGHT", "RIGHT", "SPACE",
	"RIGHT", "SPACE",
	"RIGHT", "SPACE",
}

func tutorialRequest() Request {
	phases := []Phase{
		{
			Params: sim.LayoutParams{Layout: "tutorial_0", Players: 1},
			Rule:   Rule{Kind: RuleAnyScore},
		},
		{
			Params: sim.LayoutParams{Layout: "tutorial_1", Players: 1},
			Rule:   Rule{Kind: RuleExactScore, Score: sim.DeliveryReward},
		},
	}

	return Request{
		GameName: "tutorial",
		Mode:     ModeTutorial,
		Phases:   phases,
	}
}

// Drives ticks until the player scores and the phase rule fires.
func driveDelivery(t *testing.T, session *GameSession, connection *clients.Connection) tickResult {
	for i, action := range deliveryRun {
		session.EnqueueAction(connection, action)
		result := session.step()

		if i < len(deliveryRun)-1 {
			require.Equal(t, tickState, result.kind)
			expectOp(t, connection, protocol.StatePongOp)
			continue
		}

		return result
	}

	t.Fatal("unreachable")
	return tickResult{}
}

func TestTutorialPhases(t *testing.T) {
	manager := testManager(t)

	session, err := manager.NewSession(tutorialRequest())
	require.NoError(t, err)
	require.Equal(t, ModeTutorial, session.Mode)

	// Tutorials never match with strangers
	require.False(t, session.Joinable(""))

	player := testConnection(t)
	_, err = session.AddPlayer(player)
	require.NoError(t, err)
	require.True(t, session.IsReady())

	require.NoError(t, session.Activate())
	expectOp(t, player, protocol.StartGameOp)

	// Phase zero ends on the first human score
	result := driveDelivery(t, session, player)
	require.Equal(t, tickReset, result.kind)
	require.Equal(t, StatusResetting, session.Status())

	data := expectOp(t, player, protocol.ResetGameOp)
	var reset protocol.ResetGameMessage
	require.NoError(t, cbor.Unmarshal(data, &reset))
	require.Equal(t, 1, reset.Timeout)
	require.NotEmpty(t, reset.State)
	require.Nil(t, reset.Data)

	var state sim.KitchenState
	require.NoError(t, cbor.Unmarshal(reset.State, &state))
	require.Equal(t, "tutorial_1", state.Layout)
	require.Equal(t, 0, state.Score)

	// While resetting, ticks and actions are inert
	session.EnqueueAction(player, "LEFT")
	require.Equal(t, tickNone, session.step().kind)
	expectSilence(t, player)

	session.resume()
	require.Equal(t, StatusActive, session.Status())

	// The final phase needs one delivery worth exactly the target score
	result = driveDelivery(t, session, player)
	require.Equal(t, tickEnded, result.kind)
	require.Equal(t, protocol.StatusCompleted, result.status)
}

type sinkRecord struct {
	records chan TrajectoryRecord
}

func (s *sinkRecord) SaveTrajectory(ctx context.Context, record TrajectoryRecord) error {
	s.records <- record
	return nil
}

func (s *sinkRecord) recv(t *testing.T) TrajectoryRecord {
	select {
	case record := <-s.records:
		return record
	case <-time.After(time.Second):
		t.Fatal("expected a trajectory record")
	}
	return TrajectoryRecord{}
}

func TestDataCollection(t *testing.T) {
	manager := testManager(t)

	sink := &sinkRecord{records: make(chan TrajectoryRecord, 2)}
	manager.Trajectories = sink

	// Two zero-second phases: each is over after a single tick
	request := Request{
		GameName:       "overcooked",
		Mode:           ModePredefined,
		DataCollection: true,
		Phases: []Phase{
			{
				Params: sim.LayoutParams{Layout: "cramped_room", Players: 2},
				Rule:   Rule{Kind: RuleTimeLimit, Seconds: 0},
			},
			{
				Params: sim.LayoutParams{Layout: "coordination_row", Players: 2},
				Rule:   Rule{Kind: RuleTimeLimit, Seconds: 0},
			},
		},
	}

	session, err := manager.NewSession(request)
	require.NoError(t, err)

	one := testConnection(t)
	two := testConnection(t)
	_, err = session.AddPlayer(one)
	require.NoError(t, err)
	_, err = session.AddPlayer(two)
	require.NoError(t, err)
	require.NoError(t, session.Activate())
	expectOp(t, one, protocol.StartGameOp)
	expectOp(t, two, protocol.StartGameOp)

	// First tick finishes phase zero and ships its transitions
	result := session.step()
	require.Equal(t, tickReset, result.kind)

	data := expectOp(t, one, protocol.ResetGameOp)
	var reset protocol.ResetGameMessage
	require.NoError(t, cbor.Unmarshal(data, &reset))
	require.NotNil(t, reset.Data)
	require.Len(t, reset.Data.Trajectory, 1)
	require.Equal(t, session.Id+"-0", reset.Data.UID)
	expectOp(t, two, protocol.ResetGameOp)

	record := sink.recv(t)
	require.Equal(t, session.Id, record.SessionID)
	require.Equal(t, 0, record.Phase)
	require.Equal(t, "cramped_room", record.Layout)
	require.Equal(t, "HH", record.GameType)
	require.Len(t, record.Data.Trajectory, 1)

	session.resume()

	// Second tick finishes the game; end_game carries the last phase
	result = session.step()
	require.Equal(t, tickEnded, result.kind)
	session.End(result.status)

	data = expectOp(t, one, protocol.EndGameOp)
	var end protocol.EndGameMessage
	require.NoError(t, cbor.Unmarshal(data, &end))
	require.Equal(t, protocol.StatusCompleted, end.Status)
	require.NotNil(t, end.Data)
	require.Equal(t, session.Id+"-1", end.Data.UID)

	record = sink.recv(t)
	require.Equal(t, 1, record.Phase)
	require.Equal(t, "coordination_row", record.Layout)
}
