package protocol

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	// create
	{
		bytes, err := Marshal(CreateMessage{
			Op:       CreateOp,
			GameName: "overcooked",
			Params: GameParams{
				Layouts:  []string{"cramped_room"},
				GameTime: 60,
			},
			CreateIfNotFound: true,
		})
		require.NoError(t, err)

		decoded, err := Decode(bytes)
		require.NoError(t, err)

		message, ok := decoded.(CreateMessage)
		require.True(t, ok)
		require.Equal(t, "overcooked", message.GameName)
		require.Equal(t, []string{"cramped_room"}, message.Params.Layouts)
		require.True(t, message.CreateIfNotFound)
	}

	// bare join
	{
		bytes, err := Marshal(JoinMessage{Op: JoinOp})
		require.NoError(t, err)

		decoded, err := Decode(bytes)
		require.NoError(t, err)

		message, ok := decoded.(JoinMessage)
		require.True(t, ok)
		require.Nil(t, message.Params)
	}

	// leave
	{
		bytes, err := Marshal(GenericMessage{Op: LeaveOp})
		require.NoError(t, err)

		decoded, err := Decode(bytes)
		require.NoError(t, err)

		message, ok := decoded.(GenericMessage)
		require.True(t, ok)
		require.Equal(t, LeaveOp, message.Op)
	}

	// action
	{
		bytes, err := Marshal(ActionMessage{Op: ActionOp, Action: "LEFT"})
		require.NoError(t, err)

		decoded, err := Decode(bytes)
		require.NoError(t, err)

		message, ok := decoded.(ActionMessage)
		require.True(t, ok)
		require.Equal(t, "LEFT", message.Action)
	}

	// clients may not send server ops
	{
		bytes, err := Marshal(GenericMessage{Op: EndGameOp})
		require.NoError(t, err)
		_, err = Decode(bytes)
		require.Error(t, err)
	}

	// garbage
	{
		_, err := Decode([]byte{0xff, 0x00, 0x13})
		require.Error(t, err)
	}
}

func TestStateRoundTrip(t *testing.T) {
	state, err := cbor.Marshal(map[string]int{"score": 40})
	require.NoError(t, err)

	bytes, err := Marshal(StatePongMessage{Op: StatePongOp, State: state})
	require.NoError(t, err)

	var message StatePongMessage
	require.NoError(t, cbor.Unmarshal(bytes, &message))

	// The embedded state passes through untouched.
	require.Equal(t, cbor.RawMessage(state), message.State)
}
