package lobby

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/margaritaradeva/OvercookedAI/pkg/protocol"
	"github.com/margaritaradeva/OvercookedAI/svc/kitchen/clients"
	"github.com/margaritaradeva/OvercookedAI/svc/kitchen/sessions"
	"github.com/margaritaradeva/OvercookedAI/svc/kitchen/sim"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

func testMatchmaker(t *testing.T, waitTimeout time.Duration) *Matchmaker {
	registry := sim.NewRegistry()
	registry.Register("overcooked", sim.NewKitchen)
	registry.Register("tutorial", sim.NewKitchen)

	manager := sessions.NewManager(context.Background(), registry, sessions.Settings{
		TickRate:     1,
		MaxGames:     4,
		ResetTimeout: time.Millisecond,
	})
	t.Cleanup(manager.Cancel)

	return NewMatchmaker(manager, waitTimeout)
}

func testConnection(t *testing.T) *clients.Connection {
	return clients.NewConnection(context.Background(), "test", "test")
}

func standardRequest(create bool) sessions.Request {
	return sessions.Request{
		GameName: "overcooked",
		Mode:     sessions.ModeStandard,
		Phases: []sessions.Phase{
			{
				Params: sim.LayoutParams{Layout: "cramped_room", Players: 2},
				Rule:   sessions.Rule{Kind: sessions.RuleTimeLimit, Seconds: 3600},
			},
		},
		CreateIfNotFound: create,
	}
}

func expectOp(t *testing.T, connection *clients.Connection, op int) []byte {
	select {
	case data := <-connection.Outgoing():
		var generic protocol.GenericMessage
		require.NoError(t, cbor.Unmarshal(data, &generic))
		require.Equal(t, op, generic.Op)
		return data
	case <-time.After(time.Second):
		t.Fatalf("expected op %d", op)
	}
	return nil
}

func expectSilence(t *testing.T, connection *clients.Connection) {
	select {
	case <-connection.Outgoing():
		t.Fatal("expected no message")
	default:
	}
}

func TestCreateThenJoin(t *testing.T) {
	matchmaker := testMatchmaker(t, time.Minute)

	creator := testConnection(t)
	matchmaker.Submit(creator, standardRequest(true), false)

	// Alone in a two-player session: still waiting
	data := expectOp(t, creator, protocol.WaitingOp)
	var waiting protocol.WaitingMessage
	require.NoError(t, cbor.Unmarshal(data, &waiting))
	require.True(t, waiting.InGame)
	require.NotNil(t, creator.Game())

	// A compatible join fills the roster and the game starts
	joiner := testConnection(t)
	matchmaker.Submit(joiner, standardRequest(false), false)

	expectOp(t, creator, protocol.StartGameOp)
	expectOp(t, joiner, protocol.StartGameOp)

	session, ok := creator.Game().(*sessions.GameSession)
	require.True(t, ok)
	require.Equal(t, sessions.StatusActive, session.Status())
	require.Same(t, session, joiner.Game().(*sessions.GameSession))
}

func TestConcurrentJoins(t *testing.T) {
	matchmaker := testMatchmaker(t, time.Minute)

	creator := testConnection(t)
	matchmaker.Submit(creator, standardRequest(true), false)
	expectOp(t, creator, protocol.WaitingOp)

	session := creator.Game().(*sessions.GameSession)

	// Two joins race for the last slot. Exactly one wins, the loser is
	// queued, and the running game survives the collision.
	one := testConnection(t)
	two := testConnection(t)

	var wg sync.WaitGroup
	for _, joiner := range []*clients.Connection{one, two} {
		wg.Add(1)
		go func(joiner *clients.Connection) {
			defer wg.Done()
			matchmaker.Submit(joiner, standardRequest(false), true)
		}(joiner)
	}
	wg.Wait()

	expectOp(t, creator, protocol.StartGameOp)
	require.Equal(t, sessions.StatusActive, session.Status())

	firstOp := func(connection *clients.Connection) int {
		select {
		case data := <-connection.Outgoing():
			var generic protocol.GenericMessage
			require.NoError(t, cbor.Unmarshal(data, &generic))
			return generic.Op
		case <-time.After(time.Second):
			t.Fatal("expected a message")
		}
		return -1
	}

	ops := []int{firstOp(one), firstOp(two)}
	sort.Ints(ops)
	require.Equal(t, []int{protocol.WaitingOp, protocol.StartGameOp}, ops)

	// Nobody was told the session failed
	expectSilence(t, creator)
	expectSilence(t, one)
	expectSilence(t, two)
}

func TestQueueFIFO(t *testing.T) {
	matchmaker := testMatchmaker(t, time.Minute)

	// Two bare joins with nothing open yet
	first := testConnection(t)
	matchmaker.Submit(first, standardRequest(false), true)
	data := expectOp(t, first, protocol.WaitingOp)
	var waiting protocol.WaitingMessage
	require.NoError(t, cbor.Unmarshal(data, &waiting))
	require.False(t, waiting.InGame)

	second := testConnection(t)
	matchmaker.Submit(second, standardRequest(false), true)
	expectOp(t, second, protocol.WaitingOp)

	// A new session takes the oldest queued entry. The creator hears it is
	// in a lobby before the queue fills the roster and the game starts.
	creator := testConnection(t)
	matchmaker.Submit(creator, standardRequest(true), false)

	expectOp(t, creator, protocol.WaitingOp)
	expectOp(t, creator, protocol.StartGameOp)
	expectOp(t, first, protocol.StartGameOp)
	expectSilence(t, second)

	// Still queued; leaving releases it
	matchmaker.Leave(second)
	expectOp(t, second, protocol.EndLobbyOp)
	require.Nil(t, second.Game())

	// A second leave is a no-op
	matchmaker.Leave(second)
	expectSilence(t, second)
}

func TestCreationFailed(t *testing.T) {
	matchmaker := testMatchmaker(t, time.Minute)

	request := standardRequest(true)
	request.Phases[0].Params.Layout = "walk_in_freezer"

	creator := testConnection(t)
	matchmaker.Submit(creator, request, false)

	data := expectOp(t, creator, protocol.CreationFailedOp)
	var failed protocol.CreationFailedMessage
	require.NoError(t, cbor.Unmarshal(data, &failed))
	require.Contains(t, failed.Error, "walk_in_freezer")
	require.Nil(t, creator.Game())
}

func TestLeaveLobby(t *testing.T) {
	matchmaker := testMatchmaker(t, time.Minute)

	creator := testConnection(t)
	matchmaker.Submit(creator, standardRequest(true), false)
	expectOp(t, creator, protocol.WaitingOp)

	session := creator.Game().(*sessions.GameSession)

	matchmaker.Leave(creator)
	expectOp(t, creator, protocol.EndLobbyOp)
	require.Nil(t, creator.Game())
	require.Equal(t, sessions.StatusEnded, session.Status())

	// The discarded session is no longer joinable
	joiner := testConnection(t)
	matchmaker.Submit(joiner, standardRequest(false), true)
	expectOp(t, joiner, protocol.WaitingOp)
	require.Nil(t, joiner.Game())
}

func TestWaitTimeout(t *testing.T) {
	matchmaker := testMatchmaker(t, 30*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go matchmaker.Poll(ctx)

	joiner := testConnection(t)
	matchmaker.Submit(joiner, standardRequest(false), true)
	expectOp(t, joiner, protocol.WaitingOp)

	expectOp(t, joiner, protocol.EndLobbyOp)
	require.Nil(t, joiner.Game())
}

func TestTutorialStartsAlone(t *testing.T) {
	matchmaker := testMatchmaker(t, time.Minute)

	request := sessions.Request{
		GameName:  "tutorial",
		Mode:      sessions.ModeTutorial,
		PlayerOne: "scripted_cook",
		Phases: []sessions.Phase{
			{
				Params: sim.LayoutParams{Layout: "tutorial_0", Players: 2},
				Rule:   sessions.Rule{Kind: sessions.RuleAnyScore},
			},
		},
	}

	// The scripted partner fills the other slot, so the game starts
	// immediately
	player := testConnection(t)
	matchmaker.Submit(player, request, false)

	data := expectOp(t, player, protocol.StartGameOp)
	var start protocol.StartGameMessage
	require.NoError(t, cbor.Unmarshal(data, &start))
	require.False(t, start.Spectating)
}

func TestDisconnectEndsGame(t *testing.T) {
	matchmaker := testMatchmaker(t, time.Minute)
	registry := clients.NewRegistry()

	one := testConnection(t)
	oneID, err := registry.Register(one)
	require.NoError(t, err)

	two := testConnection(t)
	_, err = registry.Register(two)
	require.NoError(t, err)

	matchmaker.Submit(one, standardRequest(true), false)
	expectOp(t, one, protocol.WaitingOp)
	matchmaker.Submit(two, standardRequest(false), false)
	expectOp(t, one, protocol.StartGameOp)
	expectOp(t, two, protocol.StartGameOp)

	session := two.Game().(*sessions.GameSession)

	// A dropped player cannot be waited out; the game ends for everyone
	registry.MarkDead(oneID)

	expectOp(t, two, protocol.EndGameOp)
	require.Equal(t, sessions.StatusEnded, session.Status())
	require.Nil(t, two.Game())
}

func TestDisconnectWhileQueued(t *testing.T) {
	matchmaker := testMatchmaker(t, time.Minute)
	registry := clients.NewRegistry()

	waiter := testConnection(t)
	id, err := registry.Register(waiter)
	require.NoError(t, err)

	matchmaker.Submit(waiter, standardRequest(false), true)
	expectOp(t, waiter, protocol.WaitingOp)

	registry.MarkDead(id)

	// A later session must not seat the dead connection
	creator := testConnection(t)
	matchmaker.Submit(creator, standardRequest(true), false)
	expectOp(t, creator, protocol.WaitingOp)

	session := creator.Game().(*sessions.GameSession)
	require.Equal(t, sessions.StatusLobby, session.Status())
}
