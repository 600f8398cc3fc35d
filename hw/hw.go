// Memory mapped register read/write.
package hw

import "sync/atomic"

// Device registers must be accessed exactly once, in program order.
// Atomic loads and stores give both; the compiler cannot elide or
// reorder them.

func LoadUint32(addr *uint32) (data uint32) { return atomic.LoadUint32(addr) }

func StoreUint32(addr *uint32, data uint32) { atomic.StoreUint32(addr, data) }
