package hw

// Reg32 is one 32-bit device register inside a mapped window.
type Reg32 uint32

func (r *Reg32) Get() uint32  { return LoadUint32((*uint32)(r)) }
func (r *Reg32) Set(v uint32) { StoreUint32((*uint32)(r), v) }
