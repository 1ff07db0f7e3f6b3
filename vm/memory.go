package vm

import (
	"encoding/binary"
	"fmt"
)

// Memory is the flat byte image backing one VM instance: the loaded
// executable (code + initial data) followed by the runtime-appended
// regions described in the design notes. Nothing outside this package
// touches the backing slice directly.
type Memory struct {
	raw []byte

	codeBegin, codeEnd Word
	dataBegin, dataEnd Word

	localsBegin, localsEnd     Word
	returnBegin, returnEnd     Word
	handlersBegin, handlersEnd Word
	queueBegin, queueEnd       Word
}

// NewMemory lays out a fresh image from an executable: a little-endian
// code-size word followed by code bytes, followed by however much data
// remains in the file.
func NewMemory(executable []byte) (*Memory, error) {
	if Word(len(executable)) < CodeOffset {
		return nil, fmt.Errorf("vm: executable shorter than the %d-byte code-size header", CodeOffset)
	}

	codeSize := binary.LittleEndian.Uint16(executable[CodeSizeOffset:])
	executableSize := Word(len(executable))

	codeBegin := CodeOffset
	codeEnd := codeBegin + codeSize

	dataBegin := codeEnd
	if dataBegin > executableSize {
		dataBegin = executableSize
	}
	dataEnd := executableSize

	localsBegin := dataEnd + RegistersSize
	localsEnd := localsBegin + LocalsStackSize

	returnBegin := localsEnd
	returnEnd := returnBegin + ReturnStackSize

	handlersBegin := returnEnd
	handlersEnd := handlersBegin + EventHandlersSize

	queueBegin := handlersEnd
	queueEnd := queueBegin + EventQueueSize

	m := &Memory{
		raw:           make([]byte, queueEnd),
		codeBegin:     codeBegin,
		codeEnd:       codeEnd,
		dataBegin:     dataBegin,
		dataEnd:       dataEnd,
		localsBegin:   localsBegin,
		localsEnd:     localsEnd,
		returnBegin:   returnBegin,
		returnEnd:     returnEnd,
		handlersBegin: handlersBegin,
		handlersEnd:   handlersEnd,
		queueBegin:    queueBegin,
		queueEnd:      queueEnd,
	}
	copy(m.raw, executable)
	return m, nil
}

// Code returns the loaded code segment.
func (m *Memory) Code() []byte { return m.raw[m.codeBegin:m.codeEnd] }

// Data returns the loaded data segment.
func (m *Memory) Data() []byte { return m.raw[m.dataBegin:m.dataEnd] }

// IsInCode reports whether addr falls inside the code segment.
func (m *Memory) IsInCode(addr Word) bool { return addr >= m.codeBegin && addr < m.codeEnd }

// IsInData reports whether addr falls inside the data segment.
func (m *Memory) IsInData(addr Word) bool { return addr >= m.dataBegin && addr < m.dataEnd }

// Handler returns the code address subscribed for event, or 0 if none
// is installed. Event ids beyond the handler table are always unhandled.
func (m *Memory) Handler(event byte) Word {
	if Word(event) >= EventHandlers {
		return 0
	}
	off := m.handlersBegin + Word(event)*WordSize
	return binary.LittleEndian.Uint16(m.raw[off:])
}

// SetHandler installs addr as the handler for event. Event ids beyond
// the handler table are silently ignored: there is nowhere to store them.
func (m *Memory) SetHandler(event byte, addr Word) {
	if Word(event) >= EventHandlers {
		return
	}
	off := m.handlersBegin + Word(event)*WordSize
	binary.LittleEndian.PutUint16(m.raw[off:], addr)
}
