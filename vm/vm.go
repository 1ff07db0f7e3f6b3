// Package vm implements the LulzVM bytecode machine: memory layout,
// registers, the fetch-decode-execute loop, and the event/interrupt
// subsystem. It has no knowledge of files, flags, or signals; those
// live in cmd/lulzvm.
package vm

import (
	"bufio"
	"encoding/binary"
	"io"
	"sync/atomic"
	"time"
)

type registerID int

const (
	RegPC registerID = iota
	RegIR
	RegSP
	RegRP
	RegEP
	RegEE
	numRegisters
)

// VM is one instance of the machine: its memory image, its registers,
// and the I/O streams its EMIT default handlers read and write.
type VM struct {
	mem       *Memory
	registers [numRegisters]Word

	waiting    bool
	terminated bool

	input  *bufio.Reader
	output *bufio.Writer

	// termFlag, when set, is polled once per loop iteration (between
	// instructions, never mid-instruction) and forces termination the
	// moment it reads true. Ownership stays with the caller: a CLI
	// front end flips it from a signal handler.
	termFlag *atomic.Bool

	clockNow func() time.Time
}

// New constructs a VM over the given executable image. input and
// output back the default INPUT/OUTPUT event handlers; termFlag may be
// nil, in which case the VM only ever stops on its own terminated state.
func New(executable []byte, input io.Reader, output io.Writer, termFlag *atomic.Bool) (*VM, error) {
	mem, err := NewMemory(executable)
	if err != nil {
		return nil, err
	}
	vm := &VM{
		mem:      mem,
		input:    bufio.NewReader(input),
		output:   bufio.NewWriter(output),
		termFlag: termFlag,
		clockNow: time.Now,
	}
	vm.reset()
	return vm, nil
}

func (vm *VM) reset() {
	vm.SetRegister(RegPC, vm.mem.codeBegin)
	vm.SetRegister(RegIR, Word(NOP))
	vm.SetRegister(RegSP, vm.mem.localsEnd)
	vm.SetRegister(RegRP, vm.mem.returnEnd)
	vm.SetRegister(RegEP, vm.mem.queueEnd)
	vm.SetRegister(RegEE, vm.mem.queueEnd)
	vm.waiting = false
	vm.terminated = false
}

// Register reads a named register.
func (vm *VM) Register(id registerID) Word { return vm.registers[id] }

// SetRegister writes a named register.
func (vm *VM) SetRegister(id registerID, v Word) { vm.registers[id] = v }

// Run drives the fetch-decode-execute loop until the VM terminates,
// then flushes the output sink.
func (vm *VM) Run() {
	defer vm.output.Flush()
	defer vm.recoverFault()

	lastTick := vm.clockNow()
	var clockSeq byte

	for {
		if vm.terminated {
			return
		}
		if vm.termFlag != nil && vm.termFlag.Load() {
			vm.terminated = true
			return
		}

		if !vm.mem.IsInCode(vm.Register(RegPC)) && vm.eventQueueEmpty() {
			vm.terminated = true
		} else if !vm.waiting {
			vm.step()
		}

		vm.processOneEvent()
		lastTick, clockSeq = vm.pollClock(lastTick, clockSeq)
	}
}

// recoverFault converts an unexpected runtime panic (a slice index out
// of range the executor's own checks failed to catch) into the same
// observable behavior as a default-handled SEGFAULT.
func (vm *VM) recoverFault() {
	if r := recover(); r != nil {
		vm.output.WriteString("Segfault")
		vm.terminated = true
	}
}

func (vm *VM) step() {
	pc := vm.Register(RegPC)
	op := vm.mem.raw[pc]
	vm.SetRegister(RegPC, pc+1)
	vm.SetRegister(RegIR, Word(op))

	ins := vm.decode(Bytecode(op))
	vm.execute(ins)
}

func (vm *VM) nextCodeByte() byte {
	pc := vm.Register(RegPC)
	b := vm.mem.raw[pc]
	vm.SetRegister(RegPC, pc+1)
	return b
}

func (vm *VM) processOneEvent() {
	event, arg, ok := vm.eventQueuePop()
	if !ok {
		return
	}
	vm.waiting = false
	vm.dispatch(event, arg)
}

func (vm *VM) pollClock(last time.Time, seq byte) (time.Time, byte) {
	now := vm.clockNow()
	if now.Sub(last) < ClockTimeout {
		return last, seq
	}
	vm.eventQueuePush(EventClock, seq)
	return now, seq + 1
}

// fault raises a critical VM-internal event (as opposed to one a guest
// raised explicitly via EMIT). The argument is always 0: there is no
// EMIT boundary to peek a locals-stack argument from.
func (vm *VM) fault(event EventID) {
	vm.dispatch(event, 0)
}

// dispatch delivers event synchronously: if a handler is installed,
// control transfers to it; otherwise the built-in default behavior
// runs and, for critical events, the VM terminates.
func (vm *VM) dispatch(event EventID, argument byte) {
	handlerAddr := vm.mem.Handler(byte(event))
	if handlerAddr == 0 {
		switch event {
		case EventInput:
			b, err := vm.input.ReadByte()
			if err != nil {
				b = 0
			}
			vm.localsPush(b)
		case EventOutput:
			vm.output.WriteByte(argument)
		case EventSegfault:
			vm.output.WriteString("Segfault")
		case EventUnknownError:
			vm.output.WriteString("Unknown Error")
		case EventTerminate, EventClock:
			// no default side effect
		}
		if event.IsCritical() {
			vm.terminated = true
		}
		return
	}

	if !vm.returnPush(vm.Register(RegPC)) {
		vm.output.WriteString("Segfault")
		vm.terminated = true
		return
	}
	if !vm.localsPush(argument) {
		vm.output.WriteString("Segfault")
		vm.terminated = true
		return
	}
	vm.SetRegister(RegPC, handlerAddr)
}

// --- locals stack ---

func (vm *VM) requireLocals(n int) bool {
	_, ok := vm.localsPeekAt(n - 1)
	return ok
}

func (vm *VM) popLocals(n int) []byte {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i], _ = vm.localsPop()
	}
	return out
}

func (vm *VM) localsPush(v byte) bool {
	sp := vm.Register(RegSP)
	if sp <= vm.mem.localsBegin {
		return false
	}
	sp--
	vm.mem.raw[sp] = v
	vm.SetRegister(RegSP, sp)
	return true
}

func (vm *VM) localsPop() (byte, bool) {
	sp := vm.Register(RegSP)
	if sp >= vm.mem.localsEnd {
		return 0, false
	}
	v := vm.mem.raw[sp]
	vm.SetRegister(RegSP, sp+1)
	return v, true
}

// localsPeekAt reads the byte `depth` positions below the top without
// removing anything: depth 0 is the top of stack.
func (vm *VM) localsPeekAt(depth int) (byte, bool) {
	addr := vm.Register(RegSP) + Word(depth)
	if addr >= vm.mem.localsEnd {
		return 0, false
	}
	return vm.mem.raw[addr], true
}

// LocalsStack returns the live locals stack, top of stack first.
func (vm *VM) LocalsStack() []byte { return vm.mem.raw[vm.Register(RegSP):vm.mem.localsEnd] }

// --- return stack ---

func (vm *VM) returnPush(v Word) bool {
	rp := vm.Register(RegRP)
	if rp < vm.mem.returnBegin+WordSize {
		return false
	}
	rp -= WordSize
	binary.LittleEndian.PutUint16(vm.mem.raw[rp:], v)
	vm.SetRegister(RegRP, rp)
	return true
}

func (vm *VM) returnPop() (Word, bool) {
	rp := vm.Register(RegRP)
	if rp >= vm.mem.returnEnd {
		return 0, false
	}
	v := binary.LittleEndian.Uint16(vm.mem.raw[rp:])
	vm.SetRegister(RegRP, rp+WordSize)
	return v, true
}

// ReturnStack returns the live return stack, top word first, each word
// little-endian.
func (vm *VM) ReturnStack() []byte { return vm.mem.raw[vm.Register(RegRP):vm.mem.returnEnd] }

// --- event queue ---

// eventQueuePush and eventQueuePop implement the design's two-cursor
// queue: pushes write at EP and walk it toward lower addresses; pops
// read from just below EE and walk it down to meet EP. Both reset to
// event_queue_end once they collide, so a drained queue looks exactly
// like a fresh one.
func (vm *VM) eventQueuePush(event EventID, arg byte) bool {
	ep := vm.Register(RegEP)
	if ep < vm.mem.queueBegin+2 {
		return false
	}
	ep--
	vm.mem.raw[ep] = arg
	ep--
	vm.mem.raw[ep] = byte(event)
	vm.SetRegister(RegEP, ep)
	return true
}

func (vm *VM) eventQueuePop() (EventID, byte, bool) {
	ep, ee := vm.Register(RegEP), vm.Register(RegEE)
	if ee <= ep {
		return 0, 0, false
	}
	ee--
	arg := vm.mem.raw[ee]
	ee--
	event := vm.mem.raw[ee]
	if ee == ep {
		ep = vm.mem.queueEnd
		ee = vm.mem.queueEnd
		vm.SetRegister(RegEP, ep)
	}
	vm.SetRegister(RegEE, ee)
	return EventID(event), arg, true
}

func (vm *VM) eventQueueEmpty() bool {
	return vm.Register(RegEP) == vm.Register(RegEE)
}

// EventQueue returns the live event queue as (event, argument) byte
// pairs, newest pending event first.
func (vm *VM) EventQueue() []byte {
	return vm.mem.raw[vm.Register(RegEP):vm.Register(RegEE)]
}

// Data returns the VM's data segment.
func (vm *VM) Data() []byte { return vm.mem.Data() }

// Terminated reports whether the VM has stopped running.
func (vm *VM) Terminated() bool { return vm.terminated }
