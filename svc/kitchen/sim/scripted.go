package sim

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// The scripted kitchen is a deliberately small cooking environment used for
// standalone play and for exercising the orchestrator. Players walk a grid,
// carry onions to a shared pot, plate the soup, and deliver it for points.
// It is fully deterministic: the same joint actions always produce the same
// states and events.

const (
	DeliveryReward = 20
	PotCapacity    = 3
)

const (
	HoldingNothing = "nothing"
	HoldingOnion   = "onion"
	HoldingSoup    = "soup"
)

type gridSize struct {
	Width  int
	Height int
}

var kitchenLayouts = map[string]gridSize{
	"cramped_room":     {Width: 5, Height: 4},
	"asymmetric_left":  {Width: 7, Height: 4},
	"coordination_row": {Width: 9, Height: 3},
	"tutorial_0":       {Width: 5, Height: 4},
	"tutorial_1":       {Width: 5, Height: 4},
	"tutorial_2":       {Width: 5, Height: 4},
}

type PlayerState struct {
	X       int
	Y       int
	Holding string
}

type KitchenState struct {
	Layout    string
	Width     int
	Height    int
	Timestep  int
	Players   []PlayerState
	PotOnions int
	SoupReady bool
	Score     int
}

type Kitchen struct {
	state KitchenState
}

func NewKitchen() Adapter {
	return &Kitchen{}
}

func (k *Kitchen) Reset(params LayoutParams) (State, error) {
	size, ok := kitchenLayouts[params.Layout]
	if !ok {
		return nil, fmt.Errorf("unknown layout %q", params.Layout)
	}

	if params.Players < 1 || params.Players > size.Width {
		return nil, fmt.Errorf(
			"layout %q cannot seat %d players",
			params.Layout,
			params.Players,
		)
	}

	players := make([]PlayerState, params.Players)
	for i := range players {
		players[i] = PlayerState{
			X:       i + 1,
			Y:       size.Height - 1,
			Holding: HoldingNothing,
		}
	}

	k.state = KitchenState{
		Layout:  params.Layout,
		Width:   size.Width,
		Height:  size.Height,
		Players: players,
	}

	return k.snapshot()
}

// Station positions on the top row.
func (k *Kitchen) onionPile() (int, int) { return 0, 0 }
func (k *Kitchen) pot() (int, int)       { return k.state.Width / 2, 0 }
func (k *Kitchen) plateRack() (int, int) { return k.state.Width - 2, 0 }
func (k *Kitchen) window() (int, int)    { return k.state.Width - 1, 0 }

func (k *Kitchen) Step(joint []Action) (Outcome, error) {
	if len(joint) != len(k.state.Players) {
		return Outcome{}, fmt.Errorf(
			"joint action has %d entries for %d players",
			len(joint),
			len(k.state.Players),
		)
	}

	var events []Event

	for slot, action := range joint {
		player := &k.state.Players[slot]

		switch action {
		case ActionLeft:
			if player.X > 0 {
				player.X--
			}
		case ActionRight:
			if player.X < k.state.Width-1 {
				player.X++
			}
		case ActionUp:
			if player.Y > 0 {
				player.Y--
			}
		case ActionDown:
			if player.Y < k.state.Height-1 {
				player.Y++
			}
		case ActionSpace:
			if event := k.interact(slot, player); event != nil {
				events = append(events, *event)
			}
		case ActionStay:
		default:
			return Outcome{}, fmt.Errorf("invalid action %q", action)
		}
	}

	k.state.Timestep++

	state, err := k.snapshot()
	if err != nil {
		return Outcome{}, err
	}

	return Outcome{
		State:  state,
		Events: events,
	}, nil
}

func (k *Kitchen) interact(slot int, player *PlayerState) *Event {
	at := func(x, y int) bool { return player.X == x && player.Y == y }

	switch {
	case at(k.onionPile()) && player.Holding == HoldingNothing:
		player.Holding = HoldingOnion
	case at(k.pot()) && player.Holding == HoldingOnion:
		player.Holding = HoldingNothing
		if k.state.PotOnions < PotCapacity {
			k.state.PotOnions++
		}
		if k.state.PotOnions == PotCapacity {
			k.state.SoupReady = true
		}
	case at(k.plateRack()) && player.Holding == HoldingNothing && k.state.SoupReady:
		player.Holding = HoldingSoup
		k.state.PotOnions = 0
		k.state.SoupReady = false
	case at(k.window()) && player.Holding == HoldingSoup:
		player.Holding = HoldingNothing
		k.state.Score += DeliveryReward
		return &Event{
			Name:   EventDelivery,
			Slot:   slot,
			Reward: DeliveryReward,
		}
	}

	return nil
}

func (k *Kitchen) snapshot() (State, error) {
	return cbor.Marshal(k.state)
}

// Layouts returns the names the scripted kitchen understands.
func Layouts() []string {
	names := make([]string, 0, len(kitchenLayouts))
	for name := range kitchenLayouts {
		names = append(names, name)
	}
	return names
}
