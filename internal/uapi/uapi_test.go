package uapi

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestStructSizes(t *testing.T) {
	require.EqualValues(t, 32, unsafe.Sizeof(MessageHeader{}))
	require.EqualValues(t, 8, unsafe.Sizeof(OmapMsgHeader{}))
}

func TestMessageHeaderFlags(t *testing.T) {
	var h MessageHeader
	h.SetPriority(2)
	h.SetTraced(true)

	require.EqualValues(t, 2, h.Priority())
	require.True(t, h.Traced())

	h.SetTraced(false)
	require.False(t, h.Traced())
	require.EqualValues(t, 2, h.Priority(), "clearing trace must not disturb priority")
}

func TestMessageHeaderMarshalRoundTrip(t *testing.T) {
	original := &MessageHeader{
		MsgSize:   48,
		MsgID:     7,
		DstID:     3,
		DstProc:   1,
		ReplyID:   9,
		ReplyProc: 0,
		SrcProc:   0,
		HeapID:    2,
		SeqNum:    100,
	}
	original.SetPriority(1)
	original.SetTraced(true)

	data := Marshal(original)
	require.Len(t, data, 32)
	require.Zero(t, data[0], "Reserved0 must be zero for MessageQ traffic")

	var decoded MessageHeader
	require.NoError(t, Unmarshal(data, &decoded))
	require.Equal(t, *original, decoded)
}

func TestOmapMsgHeaderMarshalRoundTrip(t *testing.T) {
	original := &OmapMsgHeader{MsgType: OmapCreateInstance, MsgLen: 16}

	data := Marshal(original)
	require.Len(t, data, 8)

	var decoded OmapMsgHeader
	require.NoError(t, Unmarshal(data, &decoded))
	require.Equal(t, *original, decoded)
}

func TestUnmarshalInsufficientData(t *testing.T) {
	var h MessageHeader
	require.ErrorIs(t, Unmarshal(make([]byte, 4), &h), ErrInsufficientData)

	var oh OmapMsgHeader
	require.ErrorIs(t, Unmarshal(make([]byte, 2), &oh), ErrInsufficientData)
}

func TestDirectMarshalFallback(t *testing.T) {
	info := &OmapChannelInfo{NumFuncs: 4}
	data := Marshal(info)
	require.Len(t, data, int(unsafe.Sizeof(OmapChannelInfo{})))

	var decoded OmapChannelInfo
	require.NoError(t, Unmarshal(data, &decoded))
	require.Equal(t, *info, decoded)
}
