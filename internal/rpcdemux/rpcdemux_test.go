package rpcdemux

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/go-hipc/internal/uapi"
)

func decodeHeader(t *testing.T, reply []byte) uapi.OmapMsgHeader {
	var hdr uapi.OmapMsgHeader
	require.NoError(t, uapi.Unmarshal(reply, &hdr))
	require.Equal(t, int(hdr.MsgLen), len(reply)-8)
	return hdr
}

func TestQueryChanInfoReportsFuncCount(t *testing.T) {
	c := New("svc", nil, nil, []FuncEntry{{Name: "Add", Signature: "(u32,u32)->(u32)"}})
	req := frame(uapi.OmapQueryChanInfo, nil)

	reply, err := c.Dispatch(req)
	require.NoError(t, err)
	hdr := decodeHeader(t, reply)
	require.Equal(t, uapi.OmapChanInfo, hdr.MsgType)

	var info uapi.OmapChannelInfo
	require.NoError(t, uapi.Unmarshal(reply[8:], &info))
	require.Equal(t, uint32(2), info.NumFuncs)
}

func TestCreateInstanceInvokesFactory(t *testing.T) {
	var requested string
	c := New("svc", func(name string) (uint32, error) {
		requested = name
		return 0xAB, nil
	}, nil, nil)

	body := append([]byte("client1"), 0)
	reply, err := c.Dispatch(frame(uapi.OmapCreateInstance, body))
	require.NoError(t, err)
	hdr := decodeHeader(t, reply)
	require.Equal(t, uapi.OmapInstanceCreated, hdr.MsgType)

	var handle uapi.OmapInstanceHandle
	require.NoError(t, uapi.Unmarshal(reply[8:], &handle))
	require.Equal(t, uint32(0xAB), handle.EndpointAddr)
	require.Equal(t, int32(0), handle.Status)
	require.Equal(t, "client1", requested)
}

func TestDestroyInstanceInvokesDestructorAndForgetsHandle(t *testing.T) {
	destroyed := false
	c := New("svc", func(name string) (uint32, error) { return 7, nil },
		func(addr uint32) error { destroyed = true; return nil }, nil)

	createReply, err := c.Dispatch(frame(uapi.OmapCreateInstance, []byte("x\x00")))
	require.NoError(t, err)
	var handle uapi.OmapInstanceHandle
	require.NoError(t, uapi.Unmarshal(createReply[8:], &handle))

	destroyReply, err := c.Dispatch(frame(uapi.OmapDestroyInstance, uapi.Marshal(&handle)))
	require.NoError(t, err)
	hdr := decodeHeader(t, destroyReply)
	require.Equal(t, uapi.OmapInstanceDestroyed, hdr.MsgType)
	require.True(t, destroyed)

	var status uapi.OmapInstanceHandle
	require.NoError(t, uapi.Unmarshal(destroyReply[8:], &status))
	require.Equal(t, int32(0), status.Status)
}

func TestDestroyUnknownInstanceReturnsErrorStatus(t *testing.T) {
	c := New("svc", nil, nil, nil)
	handle := &uapi.OmapInstanceHandle{EndpointAddr: 99}
	reply, err := c.Dispatch(frame(uapi.OmapDestroyInstance, uapi.Marshal(handle)))
	require.NoError(t, err)

	var status uapi.OmapInstanceHandle
	require.NoError(t, uapi.Unmarshal(reply[8:], &status))
	require.Equal(t, int32(-1), status.Status)
}

func TestCallFunctionInvokesHandlerAndCountsCalls(t *testing.T) {
	calls := 0
	c := New("svc", nil, nil, []FuncEntry{{
		Name: "Double",
		Handler: func(args []byte) ([]byte, error) {
			calls++
			return []byte{args[0] * 2}, nil
		},
	}})

	body := append([]byte{0x01, 0x00, 0x00, 0x00}, byte(21))
	reply, err := c.Dispatch(frame(uapi.OmapCallFunction, body))
	require.NoError(t, err)
	hdr := decodeHeader(t, reply)
	require.Equal(t, uapi.OmapFunctionReturn, hdr.MsgType)
	require.Equal(t, []byte{42}, reply[8:])
	require.Equal(t, 1, calls)
	require.EqualValues(t, 1, c.funcs[1].callCount)
}

func TestCallFunctionIndexZeroRejected(t *testing.T) {
	c := New("svc", nil, nil, nil)
	body := []byte{0x00, 0x00, 0x00, 0x00}
	reply, err := c.Dispatch(frame(uapi.OmapCallFunction, body))
	require.NoError(t, err)
	hdr := decodeHeader(t, reply)
	require.Equal(t, uapi.OmapError, hdr.MsgType)
}

func TestQueryFunctionReturnsSignature(t *testing.T) {
	c := New("svc", nil, nil, []FuncEntry{{Name: "Add", Signature: "(u32,u32)->(u32)"}})
	body := []byte{0x01, 0x00, 0x00, 0x00}
	reply, err := c.Dispatch(frame(uapi.OmapQueryFunction, body))
	require.NoError(t, err)
	hdr := decodeHeader(t, reply)
	require.Equal(t, uapi.OmapFunctionInfo, hdr.MsgType)
	require.Contains(t, string(reply[8:]), "Add")
}

func TestUnrecognizedMsgTypeRepliesError(t *testing.T) {
	c := New("svc", nil, nil, nil)
	reply, err := c.Dispatch(frame(uapi.OmapMsgType(999), nil))
	require.NoError(t, err)
	hdr := decodeHeader(t, reply)
	require.Equal(t, uapi.OmapError, hdr.MsgType)
}

func TestBootstrapFuncAlwaysPresentAtIndexZero(t *testing.T) {
	c := New("svc", nil, nil, nil)
	require.Equal(t, bootstrapFuncName, c.funcs[0].Name)
}
