// Package uapi defines the wire-visible structures shared with the
// co-processor: the MessageQ transport header and the OmapRpc channel
// header. Layouts are fixed, little-endian, and must match byte-for-byte
// on every supported core.
package uapi

import "unsafe"

// MessageHeader is the fixed 32-byte MessageQ transport header (spec.md
// §3). Receivers on a shared transport line identify MessageQ traffic by
// Reserved0 == 0, which distinguishes it from NameServer traffic sharing
// the same endpoint.
type MessageHeader struct {
	Reserved0 uint32 // list linkage; zero when not enqueued
	Reserved1 uint32 // list linkage; zero when not enqueued
	MsgSize   uint32
	Flags     uint16 // low 2 bits priority, bit 12 trace
	MsgID     uint16
	DstID     uint16
	DstProc   uint16
	ReplyID   uint16
	ReplyProc uint16
	SrcProc   uint16
	HeapID    uint16
	SeqNum    uint16
	Reserved2 uint16
}

// Compile-time size check: the header must occupy exactly 32 bytes.
var _ [32]byte = [unsafe.Sizeof(MessageHeader{})]byte{}

const (
	flagPriorityMask = 0x3
	flagTraceBit     = 1 << 12
)

// Priority returns the low 2-bit priority field of Flags.
func (h *MessageHeader) Priority() uint16 { return h.Flags & flagPriorityMask }

// SetPriority sets the low 2-bit priority field, leaving other bits intact.
func (h *MessageHeader) SetPriority(p uint16) {
	h.Flags = (h.Flags &^ flagPriorityMask) | (p & flagPriorityMask)
}

// Traced reports whether the trace bit is set.
func (h *MessageHeader) Traced() bool { return h.Flags&flagTraceBit != 0 }

// SetTraced sets or clears the trace bit.
func (h *MessageHeader) SetTraced(on bool) {
	if on {
		h.Flags |= flagTraceBit
	} else {
		h.Flags &^= flagTraceBit
	}
}

// OmapMsgType enumerates the OmapRpc channel message kinds (spec.md §4.L).
type OmapMsgType uint32

const (
	OmapQueryChanInfo OmapMsgType = iota
	OmapChanInfo
	OmapQueryFunction
	OmapFunctionInfo
	OmapCreateInstance
	OmapInstanceCreated
	OmapDestroyInstance
	OmapInstanceDestroyed
	OmapCallFunction
	OmapFunctionReturn
	OmapError
)

// OmapMsgHeader is the fixed 8-byte OmapRpc channel wire header.
type OmapMsgHeader struct {
	MsgType OmapMsgType
	MsgLen  uint32
}

var _ [8]byte = [unsafe.Sizeof(OmapMsgHeader{})]byte{}

// OmapChannelInfo is the QueryChanInfo reply payload.
type OmapChannelInfo struct {
	NumFuncs uint32
}

// OmapInstanceHandle is the CreateInstance/DestroyInstance reply payload.
type OmapInstanceHandle struct {
	EndpointAddr uint32
	Status       int32
}

// MaxTransportMsgSize bounds a single frame on the wire (spec.md §4.K).
const MaxTransportMsgSize = 512
