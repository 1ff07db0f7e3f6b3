package vm

import "time"

// Word is the native address/register width: 16 bits, little-endian
// everywhere it touches the wire or the memory image.
type Word = uint16

const (
	WordSize Word = 2

	// Named registers are not backed by the byte image; REGISTERS_SIZE
	// below is dead slack reserved past the executable for layout
	// compatibility with the original image format. Nothing is ever
	// read from or written to it.
	namedRegisters Word = 6
	RegistersSize  Word = namedRegisters * WordSize

	LocalsStackSize Word = 16 * 1024
	ReturnStackSize Word = 2 * 1024

	EventHandlers     Word = 6
	EventHandlersSize Word = EventHandlers * WordSize

	EventQueueSize Word = 128

	CodeSizeOffset Word = 0x0
	CodeOffset     Word = CodeSizeOffset + WordSize
)

// ClockTimeout is how long the fetch loop lets elapse, between CLOCK
// events, before it enqueues another one. Chosen in the 10-100ms band
// the design leaves open; 50ms keeps a debug session responsive without
// flooding the queue.
const ClockTimeout = 50 * time.Millisecond
