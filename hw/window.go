package hw

import (
	"fmt"
	"unsafe"
)

// Window is a span of device memory visible to the program. All raw
// pointer arithmetic on mapped registers is confined to this type; the
// rest of the system only sees typed registers.
type Window struct {
	p    unsafe.Pointer
	size uintptr
}

func (w *Window) Size() uintptr { return w.size }

// Reg32 returns the register at byte offset off.
func (w *Window) Reg32(off uintptr) *Reg32 {
	if off+4 > w.size {
		panic(fmt.Sprintf("hw: register offset %#x outside %#x byte window", off, w.size))
	}
	return (*Reg32)(unsafe.Pointer(uintptr(w.p) + off))
}

// View returns a sub-window starting at byte offset off.
func (w *Window) View(off, size uintptr) *Window {
	if off+size > w.size {
		panic(fmt.Sprintf("hw: view %#x+%#x outside %#x byte window", off, size, w.size))
	}
	return &Window{p: unsafe.Pointer(uintptr(w.p) + off), size: size}
}

// WindowForSlice wraps memory already visible to the program.
// Simulated devices hand their backing stores to drivers this way.
func WindowForSlice(b []byte) *Window {
	return &Window{p: unsafe.Pointer(&b[0]), size: uintptr(len(b))}
}
