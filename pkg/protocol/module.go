package protocol

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const (
	// Server -> client
	WaitingOp int = iota
	CreationFailedOp
	StartGameOp
	ResetGameOp
	StatePongOp
	EndGameOp
	EndLobbyOp
	// Client -> server
	CreateOp
	JoinOp
	LeaveOp
	ActionOp
)

const (
	StatusCompleted = "completed"
	StatusInactive  = "inactive"
)

// Parameters supplied by the client when creating or joining a game.
type GameParams struct {
	// The layouts to play, in order. A single layout for a standard game.
	Layouts        []string
	GameTime       int
	PlayerZero     string
	PlayerOne      string
	DataCollection bool
}

type CreateMessage struct {
	Op               int // CreateOp
	GameName         string
	Params           GameParams
	CreateIfNotFound bool
}

type JoinMessage struct {
	Op       int // JoinOp
	GameName string
	// When nil, join any open game.
	Params *GameParams
}

type ActionMessage struct {
	Op     int // ActionOp
	Action string
}

type GenericMessage struct {
	Op int
}

type WaitingMessage struct {
	Op     int // WaitingOp
	InGame bool
}

type CreationFailedMessage struct {
	Op    int // CreationFailedOp
	Error string
}

type StartGameMessage struct {
	Op         int // StartGameOp
	StartInfo  cbor.RawMessage
	Spectating bool
}

type ResetGameMessage struct {
	Op int // ResetGameOp
	// The initial state of the next phase.
	State cbor.RawMessage
	// How long (in milliseconds) the client should wait before resuming.
	Timeout int
	Data    *GameData
}

type StatePongMessage struct {
	Op    int // StatePongOp
	State cbor.RawMessage
}

type EndGameMessage struct {
	Op     int // EndGameOp
	Status string
	Data   *GameData
}

type EndLobbyMessage struct {
	Op int // EndLobbyOp
}

// One recorded simulation step.
type Transition struct {
	State       cbor.RawMessage
	JointAction []string
	Reward      int
	Score       int
	TimeLeft    float64
	Tick        int
	Layout      string
}

// Telemetry for a completed phase or game.
type GameData struct {
	UID        string
	Trajectory []Transition
}

func Marshal(message interface{}) ([]byte, error) {
	return cbor.Marshal(message)
}

// Decode reads the op tag and unmarshals the full inbound message. Outbound
// ops are rejected; clients may not impersonate the server.
func Decode(data []byte) (interface{}, error) {
	var generic GenericMessage
	if err := cbor.Unmarshal(data, &generic); err != nil {
		return nil, err
	}

	switch generic.Op {
	case CreateOp:
		var message CreateMessage
		if err := cbor.Unmarshal(data, &message); err != nil {
			return nil, err
		}
		return message, nil
	case JoinOp:
		var message JoinMessage
		if err := cbor.Unmarshal(data, &message); err != nil {
			return nil, err
		}
		return message, nil
	case LeaveOp:
		return GenericMessage{Op: LeaveOp}, nil
	case ActionOp:
		var message ActionMessage
		if err := cbor.Unmarshal(data, &message); err != nil {
			return nil, err
		}
		return message, nil
	}

	return nil, fmt.Errorf("unknown message op %d", generic.Op)
}
