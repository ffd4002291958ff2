package dnode

import (
	"sync"

	"github.com/danmuck/daqctl/internal/protocol/raw"
)

// Default is the value every register holds until written.
const Default uint32 = 0xdeadbeef

// Registers is the emulated register file.
type Registers struct {
	mu   sync.RWMutex
	regs map[raw.RType][]uint32
}

func NewRegisters() *Registers {
	r := &Registers{regs: make(map[raw.RType][]uint32, len(raw.RTypes))}
	for _, t := range raw.RTypes {
		vals := make([]uint32, raw.RegisterCount(t))
		for i := range vals {
			vals[i] = Default
		}
		r.regs[t] = vals
	}
	r.regs[raw.RTypeDAQ][raw.DAQChipAlive] = 0xFFFFFFFF
	return r
}

// Get returns the value at t/addr, or false when the register does not exist.
func (r *Registers) Get(t raw.RType, addr uint8) (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vals, ok := r.regs[t]
	if !ok || int(addr) >= len(vals) {
		return 0, false
	}
	return vals[addr], true
}

// Set stores v at t/addr. It reports false when the register does not exist.
func (r *Registers) Set(t raw.RType, addr uint8, v uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	vals, ok := r.regs[t]
	if !ok || int(addr) >= len(vals) {
		return false
	}
	vals[addr] = v
	return true
}

// Handle answers one request. Bad registers, writes to the ERR subsystem and
// reads carrying a value get an error-flagged response holding Default.
func (r *Registers) Handle(p raw.CommandPacket) raw.CommandPacket {
	req, ok := p.Request()
	if !ok {
		return raw.NewResponse(raw.FlagError, 0, 0, 0, Default)
	}
	write := p.Header().IsWrite()
	fail := raw.NewResponse(raw.FlagError, req.ID, req.RType, req.RAddr, Default)
	if raw.ValidateRequest(req) != nil {
		return fail
	}
	if !write {
		if req.Value != 0 {
			return fail
		}
		v, _ := r.Get(req.RType, req.RAddr)
		return raw.NewResponse(0, req.ID, req.RType, req.RAddr, v)
	}
	if req.RType == raw.RTypeErr {
		return fail
	}
	r.Set(req.RType, req.RAddr, req.Value)
	return raw.NewResponse(raw.FlagWrite, req.ID, req.RType, req.RAddr, req.Value)
}
