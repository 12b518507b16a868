package hipc

import "github.com/behrlich/go-hipc/internal/constants"

// ProcessorID identifies one processor in the MultiProc registry
// (spec.md §3, ProcessorId). InvalidProcID is never assigned to a real
// processor and marks an absent/unset value.
type ProcessorID uint16

const InvalidProcID ProcessorID = constants.InvalidProcID

// Re-exported package-wide limits and wire-format sizes.
const (
	MaxProcessors        = constants.MaxProcessors
	MessageHeaderSize     = constants.MessageHeaderSize
	MaxTransportMsgSize   = constants.MaxTransportMsgSize
	StaticMsgHeapID       = constants.StaticMsgHeapID
	InvalidRegionID       = constants.InvalidRegionID
	InvalidSRPtr          = constants.InvalidSRPtr
	DefaultCacheLineSize  = constants.DefaultCacheLineSize
)
