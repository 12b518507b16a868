// Package rpcdemux implements the OmapRpc service demux (spec.md §4.L): a
// named RPC channel that owns per-client service instances and dispatches
// function-index calls against a small function table. Grounded on the
// teacher's Controller (internal/ctrl/control.go), which decodes a fixed
// command header and branches into a handler; generalized here from a
// single ioctl-style command set to the OmapRpc msgType switch.
package rpcdemux

import (
	"fmt"

	"github.com/behrlich/go-hipc/internal/errs"
	"github.com/behrlich/go-hipc/internal/uapi"
)

// Factory creates a new service instance for instanceName, returning the
// endpoint address the client should use to reach it.
type Factory func(instanceName string) (endpointAddr uint32, err error)

// Destructor tears down a previously-created instance.
type Destructor func(endpointAddr uint32) error

// Handler is a caller-supplied RCM function. args/results are opaque
// payload bytes; the demux does not interpret them beyond length.
type Handler func(args []byte) (result []byte, err error)

// FuncEntry is one row of the channel's function table (spec.md §4.L
// "funcs[i] for i >= 1 is the caller-supplied RCM handler plus signature").
type FuncEntry struct {
	Name      string
	Signature string
	Handler   Handler

	callCount uint32
}

// bootstrapFuncName is the fixed funcs[0] entry every channel carries.
const bootstrapFuncName = "GetSvrMgrHandle"

// Channel owns one named RPC endpoint: its function table and the set of
// service instances created against it.
type Channel struct {
	name    string
	factory Factory
	destroy Destructor

	funcs     []FuncEntry
	instances map[uint32]string
}

// New creates a Channel named name. funcs[0] is always the fixed
// GetSvrMgrHandle bootstrap entry; extra is appended starting at index 1.
func New(name string, factory Factory, destroy Destructor, extra []FuncEntry) *Channel {
	funcs := make([]FuncEntry, 0, len(extra)+1)
	funcs = append(funcs, FuncEntry{Name: bootstrapFuncName, Signature: "()->(u32)"})
	funcs = append(funcs, extra...)
	return &Channel{
		name:      name,
		factory:   factory,
		destroy:   destroy,
		funcs:     funcs,
		instances: make(map[uint32]string),
	}
}

// Name returns the channel's registered name.
func (c *Channel) Name() string { return c.name }

// Dispatch decodes one OmapRpc request frame and returns the reply frame
// (spec.md §4.L channel task). frame is at most uapi.MaxTransportMsgSize
// bytes; the reply length is sizeof(MsgHeader) + hdr.MsgLen.
func (c *Channel) Dispatch(frame []byte) ([]byte, error) {
	var hdr uapi.OmapMsgHeader
	if err := uapi.Unmarshal(frame, &hdr); err != nil {
		return nil, errs.Wrap("OmapRpc.dispatch", err)
	}
	body := frame[8:]
	if uint32(len(body)) < hdr.MsgLen {
		return nil, errs.New("OmapRpc.dispatch", errs.CodeInvalidMsg, "frame shorter than declared MsgLen")
	}
	body = body[:hdr.MsgLen]

	switch hdr.MsgType {
	case uapi.OmapQueryChanInfo:
		return c.replyChanInfo()
	case uapi.OmapCreateInstance:
		return c.replyCreateInstance(body)
	case uapi.OmapDestroyInstance:
		return c.replyDestroyInstance(body)
	case uapi.OmapQueryFunction:
		return c.replyQueryFunction(body)
	case uapi.OmapCallFunction:
		return c.replyCallFunction(body)
	default:
		return c.replyError()
	}
}

func frame(msgType uapi.OmapMsgType, payload []byte) []byte {
	hdr := &uapi.OmapMsgHeader{MsgType: msgType, MsgLen: uint32(len(payload))}
	return append(uapi.Marshal(hdr), payload...)
}

func (c *Channel) replyChanInfo() ([]byte, error) {
	info := &uapi.OmapChannelInfo{NumFuncs: uint32(len(c.funcs))}
	return frame(uapi.OmapChanInfo, uapi.Marshal(info)), nil
}

func (c *Channel) replyCreateInstance(body []byte) ([]byte, error) {
	name := decodeName(body)
	if c.factory == nil {
		return c.statusReply(uapi.OmapInstanceCreated, 0, -1), nil
	}
	addr, err := c.factory(name)
	if err != nil {
		return c.statusReply(uapi.OmapInstanceCreated, 0, -1), nil
	}
	c.instances[addr] = name
	return c.statusReply(uapi.OmapInstanceCreated, addr, 0), nil
}

func (c *Channel) replyDestroyInstance(body []byte) ([]byte, error) {
	var handle uapi.OmapInstanceHandle
	if err := uapi.Unmarshal(body, &handle); err != nil {
		return c.statusReply(uapi.OmapInstanceDestroyed, 0, -1), nil
	}
	if _, ok := c.instances[handle.EndpointAddr]; !ok {
		return c.statusReply(uapi.OmapInstanceDestroyed, handle.EndpointAddr, -1), nil
	}
	if c.destroy != nil {
		if err := c.destroy(handle.EndpointAddr); err != nil {
			return c.statusReply(uapi.OmapInstanceDestroyed, handle.EndpointAddr, -1), nil
		}
	}
	delete(c.instances, handle.EndpointAddr)
	return c.statusReply(uapi.OmapInstanceDestroyed, handle.EndpointAddr, 0), nil
}

// replyQueryFunction replies with the name and stored signature of the
// requested function index, each NUL-terminated. The reply carries no
// performance or call counters, and no info subtype is read from the
// request.
func (c *Channel) replyQueryFunction(body []byte) ([]byte, error) {
	if len(body) < 4 {
		return c.replyError()
	}
	idx := leUint32(body)
	if int(idx) >= len(c.funcs) {
		return c.replyError()
	}
	payload := []byte(fmt.Sprintf("%s\x00%s\x00", c.funcs[idx].Name, c.funcs[idx].Signature))
	return frame(uapi.OmapFunctionInfo, payload), nil
}

func (c *Channel) replyCallFunction(body []byte) ([]byte, error) {
	if len(body) < 4 {
		return c.replyError()
	}
	idx := leUint32(body)
	args := body[4:]
	if int(idx) >= len(c.funcs) || idx == 0 {
		return c.replyError()
	}
	entry := &c.funcs[idx]
	if entry.Handler == nil {
		return c.replyError()
	}
	result, err := entry.Handler(args)
	entry.callCount++
	if err != nil {
		return c.replyError()
	}
	return frame(uapi.OmapFunctionReturn, result), nil
}

func (c *Channel) replyError() ([]byte, error) {
	return frame(uapi.OmapError, nil), nil
}

func (c *Channel) statusReply(msgType uapi.OmapMsgType, endpointAddr uint32, status int32) []byte {
	handle := &uapi.OmapInstanceHandle{EndpointAddr: endpointAddr, Status: status}
	return frame(msgType, uapi.Marshal(handle))
}

func decodeName(body []byte) string {
	for i, b := range body {
		if b == 0 {
			return string(body[:i])
		}
	}
	return string(body)
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
