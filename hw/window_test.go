package hw

import (
	"encoding/binary"
	"testing"
)

func TestWindowReg32(t *testing.T) {
	b := make([]byte, 64)
	w := WindowForSlice(b)

	w.Reg32(8).Set(0xdeadbeef)
	if got := binary.LittleEndian.Uint32(b[8:]); got != 0xdeadbeef {
		t.Errorf("backing bytes %#x, want 0xdeadbeef", got)
	}
	if got := w.Reg32(8).Get(); got != 0xdeadbeef {
		t.Errorf("register read %#x, want 0xdeadbeef", got)
	}
}

func TestWindowView(t *testing.T) {
	b := make([]byte, 64)
	w := WindowForSlice(b)

	v := w.View(16, 16)
	v.Reg32(0).Set(1)
	if binary.LittleEndian.Uint32(b[16:]) != 1 {
		t.Errorf("view not aliased onto parent window")
	}
	if v.Size() != 16 {
		t.Errorf("view size %d, want 16", v.Size())
	}
}

func TestWindowBoundsPanic(t *testing.T) {
	w := WindowForSlice(make([]byte, 8))
	defer func() {
		if recover() == nil {
			t.Errorf("out of range register access must panic")
		}
	}()
	w.Reg32(6)
}
