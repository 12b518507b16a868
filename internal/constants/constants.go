// Package constants holds the compile-time constants shared across the
// runtime: processor limits, wire-format sizes, and retry/backoff timing.
package constants

import "time"

// Processor limits
const (
	// MaxProcessors bounds the size of every per-peer table (NameServer
	// remote drivers, Notify peer/line arrays, MessageQ send endpoints).
	MaxProcessors = 16

	// InvalidProcID is the sentinel processor id (spec.md §3, ProcessorId.INVALID).
	InvalidProcID = 0xFFFF
)

// QueueId packing (spec.md §3)
const (
	// QueueIndexInvalid is the low-half sentinel for an unassigned queue index.
	QueueIndexInvalid = 0xFFFF

	// QueueProcShift is the bit offset of the high (procId) half of a QueueId.
	QueueProcShift = 16
)

// Wire format
const (
	// MessageHeaderSize is the fixed, wire-visible MessageQ header size in bytes.
	MessageHeaderSize = 32

	// MaxTransportMsgSize bounds a single transport datagram (spec.md §4.K).
	MaxTransportMsgSize = 512

	// StaticMsgHeapID marks a message whose storage the caller owns; the
	// heap registry refuses to free it (spec.md §3, "Static message").
	StaticMsgHeapID = 0xFFFF

	// MessageQRendezvousPort is the distinguished port peers connect to
	// during MessageQ.attach (spec.md §6).
	MessageQRendezvousPort = 61
)

// Shared-region / heap alignment
const (
	// DefaultCacheLineSize is used for regions that do not report their own.
	DefaultCacheLineSize = 64

	// DefaultTypeAlign is the minimum natural alignment HeapMultiBufMP
	// enforces on every bucket regardless of caller request (spec.md §4.G).
	DefaultTypeAlign = 8

	// SRPtrRegionBits is the number of bits of an SRPtr devoted to the
	// region id; the remainder is the in-region offset (spec.md §3).
	SRPtrRegionBits = 8

	// InvalidRegionID is the SharedRegion directory's sentinel (spec.md §4.B).
	InvalidRegionID = (1 << SRPtrRegionBits) - 1

	// InvalidSRPtr is the all-ones value, guaranteed not to name a valid
	// region+offset pair (region id InvalidRegionID is never assigned to a
	// real region).
	InvalidSRPtr = 0xFFFFFFFF
)

// NameServer defaults
const (
	DefaultMaxNameLen        = 32
	DefaultMaxValueLen       = 4
	DefaultMaxRuntimeEntries = 64
)

// MMUPageSizes lists page sizes largest first, matching the greedy
// AddEntry policy (spec.md §4.J).
var MMUPageSizes = []uint32{16 << 20, 1 << 20, 64 << 10, 4 << 10}

// Bounded-retry / timing constants for reset sequencing and device bring-up
// (spec.md §4.J, "Every wait is a bounded busy-retry of ~10 iterations").
const (
	ResetRetryCount    = 10
	ResetRetryInterval = 1 * time.Millisecond

	// AttachHandshakeTimeout bounds how long MessageQ.attach waits for the
	// peer's NameServer remote driver to answer the handshake probe.
	AttachHandshakeTimeout = 2 * time.Second
)
