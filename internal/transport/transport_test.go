package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateEndpointPutGetRoundTrip(t *testing.T) {
	recv, err := CreateEndpoint(1, 10)
	require.NoError(t, err)
	defer recv.Close()

	send, err := CreateEndpoint(2, 20)
	require.NoError(t, err)
	defer send.Close()

	require.NoError(t, Put(send, []byte("hello"), 1, 10))

	msg, err := Get(recv)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), msg)
}

func TestEventFDWriteRead(t *testing.T) {
	fd, err := NewEventFD()
	require.NoError(t, err)
	defer func() { _ = fd }()

	require.NoError(t, WriteEventFD(fd))
	require.NoError(t, ReadEventFD(fd))
}

func TestPollerWaitsOnMultipleDescriptors(t *testing.T) {
	recv, err := CreateEndpoint(3, 30)
	require.NoError(t, err)
	defer recv.Close()

	efd, err := NewEventFD()
	require.NoError(t, err)

	p, err := NewPoller()
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Add(recv.Fd()))
	require.NoError(t, p.Add(efd))

	require.NoError(t, WriteEventFD(efd))

	ready, err := p.Wait(1000)
	require.NoError(t, err)
	require.Contains(t, ready, efd)
}
