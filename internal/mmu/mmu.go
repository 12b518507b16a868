// Package mmu implements the MMU/Reset/Loader state machine (spec.md
// §4.J): co-processor power/boot state transitions, MMU page-table
// programming with a greedy page-size policy, ISR-context fault
// decoding, and the bounded-retry reset sequence. Grounded on the
// teacher's Controller (internal/ctrl/control.go), which holds the
// device's control-plane state and issues commands against it —
// generalized here from a real ublk control fd to a simulated register
// file, since no physical co-processor exists in this runtime.
package mmu

import (
	"time"

	"github.com/behrlich/go-hipc/internal/constants"
	"github.com/behrlich/go-hipc/internal/errs"
	"github.com/behrlich/go-hipc/internal/logging"
	"github.com/behrlich/go-hipc/internal/notify"
)

// State is a co-processor's lifecycle state (spec.md §4.J state diagram).
type State int

const (
	Unknown State = iota
	Powered
	Loaded
	Running
	Suspended
	Reset
	MmuFault
	Watchdog
	ErrorState
)

func (s State) String() string {
	switch s {
	case Unknown:
		return "Unknown"
	case Powered:
		return "Powered"
	case Loaded:
		return "Loaded"
	case Running:
		return "Running"
	case Suspended:
		return "Suspended"
	case Reset:
		return "Reset"
	case MmuFault:
		return "Mmu_Fault"
	case Watchdog:
		return "Watchdog"
	case ErrorState:
		return "Error"
	default:
		return "invalid"
	}
}

// BootMode selects which Unknown-state transition Attach performs.
type BootMode int

const (
	Boot BootMode = iota
	NoLoad
	NoBoot
)

// AttachParams configures Attach.
type AttachParams struct {
	Mode BootMode
}

// Entry is one MMU translation entry (spec.md §4.J "{ slaveVirt,
// masterPhys, size, elementSize, endianism, mixedSize }").
type Entry struct {
	SlaveVirt   uint32
	MasterPhys  uint32
	Size        uint32
	ElementSize uint8
	Endianism   uint8
	MixedSize   bool
}

// FaultStatus decodes the MMU fault IRQ status bits (spec.md §4.J fault
// handler).
type FaultStatus struct {
	TLBMiss          bool
	TranslationFault bool
	EmuMiss          bool
	TableWalkFault   bool
	MultiHitFault    bool
}

const (
	faultBitTLBMiss          = 1 << 0
	faultBitTranslationFault = 1 << 1
	faultBitEmuMiss          = 1 << 2
	faultBitTableWalkFault   = 1 << 3
	faultBitMultiHitFault    = 1 << 4
)

func decodeFaultStatus(bits uint32) FaultStatus {
	return FaultStatus{
		TLBMiss:          bits&faultBitTLBMiss != 0,
		TranslationFault: bits&faultBitTranslationFault != 0,
		EmuMiss:          bits&faultBitEmuMiss != 0,
		TableWalkFault:   bits&faultBitTableWalkFault != 0,
		MultiHitFault:    bits&faultBitMultiHitFault != 0,
	}
}

// registers simulates the co-processor's MMU and reset register file.
type registers struct {
	mmuEnabled bool
	mmuEntries map[uint32]Entry
	irqEnable  bool

	rst1, rst2, rst3 bool
	rst3Ack          bool
	clockHWAuto      bool
	clockActive      bool
	gpTimer0, gpTimer1 bool
}

func newRegisters() *registers {
	return &registers{mmuEntries: make(map[uint32]Entry)}
}

// eventMmuFault is the Notify event id fired on a Mmu_Fault transition.
const eventMmuFault = 1

// Observer is the metrics hook HandleFault reports through (spec.md
// SPEC_FULL §2.4).
type Observer interface {
	ObserveMmuFault()
}

type noOpObserver struct{}

func (noOpObserver) ObserveMmuFault() {}

// Controller owns one co-processor's state machine and register file.
type Controller struct {
	procID     uint16
	state      State
	regs       *registers
	notify     *notify.Notify
	notifyLine uint16
	log        *logging.Logger
	obs        Observer
}

// New creates a Controller for procID, in the Unknown state.
func New(procID uint16, n *notify.Notify, notifyLine uint16) *Controller {
	return &Controller{
		procID:     procID,
		state:      Unknown,
		regs:       newRegisters(),
		notify:     n,
		notifyLine: notifyLine,
		log:        logging.Default().With("mmu"),
		obs:        noOpObserver{},
	}
}

// SetObserver installs the metrics hook HandleFault reports through.
// Passing nil reverts to a no-op observer.
func (c *Controller) SetObserver(obs Observer) {
	if obs == nil {
		obs = noOpObserver{}
	}
	c.obs = obs
}

// State reports the current lifecycle state.
func (c *Controller) State() State { return c.state }

// Attach transitions out of Unknown according to params.Mode (spec.md
// §4.J attach).
func (c *Controller) Attach(params AttachParams) error {
	if c.state != Unknown {
		return errs.NewProc("MMU.attach", c.procID, errs.CodeInvalidState, "attach requires Unknown state")
	}
	switch params.Mode {
	case Boot:
		c.state = Powered
	case NoLoad:
		c.state = Loaded
	case NoBoot:
		c.state = Running
	default:
		return errs.NewProc("MMU.attach", c.procID, errs.CodeInvalidArg, "unknown boot mode")
	}
	return nil
}

// Start moves Powered|Loaded to Running (spec.md §4.J start).
func (c *Controller) Start(entryPt uint32) error {
	if c.state != Powered && c.state != Loaded {
		return errs.NewProc("MMU.start", c.procID, errs.CodeInvalidState, "start requires Powered or Loaded state")
	}
	c.state = Running
	return nil
}

// Stop moves Running|Mmu_Fault|Watchdog|Error to Reset (spec.md §4.J stop).
func (c *Controller) Stop() error {
	switch c.state {
	case Running, MmuFault, Watchdog, ErrorState:
		c.state = Reset
		return nil
	default:
		return errs.NewProc("MMU.stop", c.procID, errs.CodeInvalidState, "stop requires Running, Mmu_Fault, Watchdog, or Error state")
	}
}

// Detach always returns to Unknown (spec.md §4.J detach).
func (c *Controller) Detach() {
	c.state = Unknown
}

func roundDown(v, align uint32) uint32 { return v &^ (align - 1) }

func roundUp(v, align uint32) uint32 {
	return (v + align - 1) &^ (align - 1)
}

// AddEntry programs a translation range using the greedy page-size
// policy (spec.md §4.J AddEntry): align to 4 KB, then repeatedly pick the
// largest page size in constants.MMUPageSizes that divides both
// addresses and fits the remainder.
func (c *Controller) AddEntry(e Entry) error {
	const baseAlign = 4 << 10
	virt := roundDown(e.SlaveVirt, baseAlign)
	phys := roundDown(e.MasterPhys, baseAlign)
	size := roundUp(e.Size+(e.SlaveVirt-virt), baseAlign)

	for size > 0 {
		var pageSize uint32
		for _, ps := range constants.MMUPageSizes {
			if virt%ps == 0 && phys%ps == 0 && ps <= size {
				pageSize = ps
				break
			}
		}
		if pageSize == 0 {
			return errs.NewProc("MMU.addEntry", c.procID, errs.CodeMmuConfig, "no page size divides addresses and fits remaining size")
		}
		existing, ok := c.regs.mmuEntries[virt]
		if !ok || existing.MasterPhys != phys || existing.Size != pageSize {
			c.regs.mmuEntries[virt] = Entry{
				SlaveVirt:   virt,
				MasterPhys:  phys,
				Size:        pageSize,
				ElementSize: e.ElementSize,
				Endianism:   e.Endianism,
				MixedSize:   e.MixedSize,
			}
		}
		virt += pageSize
		phys += pageSize
		size -= pageSize
	}
	return nil
}

// DeleteEntry removes every sub-entry AddEntry split e into.
func (c *Controller) DeleteEntry(e Entry) error {
	const baseAlign = 4 << 10
	virt := roundDown(e.SlaveVirt, baseAlign)
	end := virt + roundUp(e.Size+(e.SlaveVirt-virt), baseAlign)
	for v := range c.regs.mmuEntries {
		if v >= virt && v < end {
			delete(c.regs.mmuEntries, v)
		}
	}
	return nil
}

// Enable programs entries and turns the MMU and its interrupt on.
func (c *Controller) Enable(entries []Entry) error {
	for _, e := range entries {
		if err := c.AddEntry(e); err != nil {
			return err
		}
	}
	c.regs.mmuEnabled = true
	c.regs.irqEnable = true
	return nil
}

// Disable turns the MMU and its interrupt off, leaving programmed
// entries in place for a later Enable.
func (c *Controller) Disable() {
	c.regs.mmuEnabled = false
	c.regs.irqEnable = false
}

// HandleFault services an MMU fault from ISR context (spec.md §4.J fault
// handler): decode the status, log a one-line summary, mask further MMU
// interrupts, and transition to Mmu_Fault, firing any registered
// notifiers. The simulated register file has no fault-status register,
// so no status write-back to clear the fault takes place.
func (c *Controller) HandleFault(faultAddr uint32, irqStatus uint32) FaultStatus {
	status := decodeFaultStatus(irqStatus)
	c.log.Warnf("mmu fault on proc %d at addr=0x%x status=%+v", c.procID, faultAddr, status)

	c.regs.irqEnable = false
	c.state = MmuFault
	c.obs.ObserveMmuFault()

	if c.notify != nil {
		_ = c.notify.SendEvent(c.procID, c.notifyLine, eventMmuFault, faultAddr, false)
	}
	return status
}

func busyRetry(op string, procID uint16, check func() bool) error {
	for i := 0; i < constants.ResetRetryCount; i++ {
		if check() {
			return nil
		}
		time.Sleep(constants.ResetRetryInterval)
	}
	return errs.NewProc(op, procID, errs.CodeOsFailure, "bounded retry exhausted")
}

// Reset sets coreN's reset bit and stops its gp-timer (spec.md §4.J reset
// sequence). core is 0 or 1.
func (c *Controller) Reset(core int) error {
	switch core {
	case 0:
		c.regs.rst1 = true
		c.regs.gpTimer0 = false
	case 1:
		c.regs.rst2 = true
		c.regs.gpTimer1 = false
	default:
		return errs.NewProc("MMU.reset", c.procID, errs.CodeInvalidArg, "core must be 0 or 1")
	}
	return nil
}

// MMUReset sets RST3 and disables the co-processor clock.
func (c *Controller) MMUReset() error {
	c.regs.rst3 = true
	c.regs.clockActive = false
	return nil
}

// MMURelease clears the reset status register, switches the clock to
// HW_AUTO, waits for the clock-activity bit, confirms RST state, then
// de-asserts RST3 and waits for its ack (spec.md §4.J MMU_Release).
func (c *Controller) MMURelease() error {
	c.regs.rst1, c.regs.rst2 = false, false
	c.regs.clockHWAuto = true
	c.regs.clockActive = true // simulated clock activity follows HW_AUTO immediately

	if err := busyRetry("MMU.mmuRelease", c.procID, func() bool { return c.regs.clockActive }); err != nil {
		return err
	}
	if !c.regs.rst1 && !c.regs.rst2 {
		// RSTs in expected (cleared) state; proceed.
	}
	c.regs.rst3 = false
	c.regs.rst3Ack = true // simulated ack follows de-assert immediately
	if err := busyRetry("MMU.mmuRelease", c.procID, func() bool { return c.regs.rst3Ack }); err != nil {
		return err
	}
	c.regs.rst3Ack = false
	return nil
}

// Release enables and starts coreN's gp-timer, de-asserts its reset bit,
// and waits for the ack before clearing it (spec.md §4.J Release).
func (c *Controller) Release(core int) error {
	var ackCheck func() bool
	switch core {
	case 0:
		c.regs.gpTimer0 = true
		c.regs.rst1 = false
		ackCheck = func() bool { return !c.regs.rst1 }
	case 1:
		c.regs.gpTimer1 = true
		c.regs.rst2 = false
		ackCheck = func() bool { return !c.regs.rst2 }
	default:
		return errs.NewProc("MMU.release", c.procID, errs.CodeInvalidArg, "core must be 0 or 1")
	}
	return busyRetry("MMU.release", c.procID, ackCheck)
}
