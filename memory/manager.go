package memory

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	wasmbridge "github.com/lovell/sharp-sub001"
	"github.com/lovell/sharp-sub001/errors"
)

// overGrowCap bounds how far past the request a single grow may reach.
const overGrowCap = 96 << 20

// GrowListener is notified after every successful grow.
type GrowListener func(oldBytes, newBytes uint64)

// Manager owns the linear memory block.
type Manager struct {
	backing   Backing
	listeners []GrowListener
	maxBytes  uint64
	gen       atomic.Uint64
	pages     atomic.Uint32
	growMu    sync.Mutex
	listenMu  sync.RWMutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxBytes caps growth below the backing's own limit. The cap is
// rounded down to whole pages.
func WithMaxBytes(n uint64) Option {
	return func(m *Manager) {
		n -= n % PageSize
		if n > 0 && n < m.maxBytes {
			m.maxBytes = n
		}
	}
}

// NewManager creates a manager over backing.
func NewManager(backing Backing, opts ...Option) *Manager {
	m := &Manager{
		backing:  backing,
		maxBytes: uint64(backing.MaxPages()) * PageSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.pages.Store(backing.Pages())
	m.gen.Store(1)
	return m
}

// Backing returns the current backing.
func (m *Manager) Backing() Backing { return m.backing }

// Generation changes every time the backing buffer may have been replaced.
func (m *Manager) Generation() uint64 { return m.gen.Load() }

// Size returns the current size in bytes.
func (m *Manager) Size() uint64 { return uint64(m.backing.Pages()) * PageSize }

// MaxBytes returns the growth ceiling.
func (m *Manager) MaxBytes() uint64 { return m.maxBytes }

// Views returns a fresh accessor set bound to this manager.
func (m *Manager) Views() *Views {
	return &Views{m: m}
}

// OnGrow registers a listener called after each successful grow.
func (m *Manager) OnGrow(fn GrowListener) {
	m.listenMu.Lock()
	m.listeners = append(m.listeners, fn)
	m.listenMu.Unlock()
}

// Sync detects growth performed behind the manager's back (a memory.grow
// instruction inside the module) and invalidates views accordingly. Host
// functions call it on entry.
func (m *Manager) Sync() {
	cur := m.backing.Pages()
	old := m.pages.Swap(cur)
	if old != cur {
		m.gen.Add(1)
		m.fire(uint64(old)*PageSize, uint64(cur)*PageSize)
	}
}

// Grow ensures at least requested bytes are available. It first tries an
// over-allocation of 1.2x the current size, then 1.1x, 1.0667x and 1.05x,
// each clamped to the exact request at minimum and to MaxBytes at most.
func (m *Manager) Grow(requested uint64) error {
	m.growMu.Lock()
	defer m.growMu.Unlock()

	oldSize := m.Size()
	if requested <= oldSize {
		return nil
	}
	if requested > m.maxBytes {
		Logger().Warn("grow request exceeds limit",
			zap.Uint64("requested", requested),
			zap.Uint64("limit", m.maxBytes))
		return errors.GrowFailed(requested, oldSize, m.maxBytes)
	}

	for cutDown := 1; cutDown <= 4; cutDown++ {
		overGrown := uint64(float64(oldSize) * (1 + 0.2/float64(cutDown)))
		if capped := requested + overGrowCap; overGrown > capped {
			overGrown = capped
		}
		target := requested
		if overGrown > target {
			target = overGrown
		}
		target = alignUp(target, PageSize)
		if target > m.maxBytes {
			target = m.maxBytes
		}
		if m.growTo(target) && m.Size() >= requested {
			Logger().Debug("memory grown",
				zap.Uint64("from", oldSize),
				zap.Uint64("to", target),
				zap.Int("attempt", cutDown))
			return nil
		}
	}

	Logger().Warn("memory grow failed",
		zap.Uint64("requested", requested),
		zap.Uint64("current", oldSize))
	return errors.GrowFailed(requested, oldSize, m.maxBytes)
}

func (m *Manager) growTo(target uint64) bool {
	cur := uint64(m.backing.Pages())
	want := target / PageSize
	if want <= cur {
		return true
	}
	if _, ok := m.backing.Grow(uint32(want - cur)); !ok {
		return false
	}
	m.pages.Store(m.backing.Pages())
	m.gen.Add(1)
	m.fire(cur*PageSize, m.Size())
	return true
}

func (m *Manager) fire(oldBytes, newBytes uint64) {
	m.listenMu.RLock()
	defer m.listenMu.RUnlock()
	for _, fn := range m.listeners {
		fn(oldBytes, newBytes)
	}
}

func alignUp(n, align uint64) uint64 {
	if rem := n % align; rem != 0 {
		return n + align - rem
	}
	return n
}

// Read copies length bytes at offset.
func (m *Manager) Read(offset uint32, length uint32) ([]byte, error) {
	buf := m.backing.Bytes()
	if uint64(offset)+uint64(length) > uint64(len(buf)) {
		return nil, errors.MemoryAccess(offset, length, uint64(len(buf)))
	}
	out := make([]byte, length)
	copy(out, buf[offset:])
	return out, nil
}

// Write copies data into memory at offset.
func (m *Manager) Write(offset uint32, data []byte) error {
	buf := m.backing.Bytes()
	if uint64(offset)+uint64(len(data)) > uint64(len(buf)) {
		return errors.MemoryAccess(offset, uint32(len(data)), uint64(len(buf)))
	}
	copy(buf[offset:], data)
	return nil
}

func (m *Manager) ReadU8(offset uint32) (uint8, error) {
	b, err := m.Read(offset, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (m *Manager) ReadU16(offset uint32) (uint16, error) {
	b, err := m.Read(offset, 2)
	if err != nil {
		return 0, err
	}
	return le.Uint16(b), nil
}

func (m *Manager) ReadU32(offset uint32) (uint32, error) {
	b, err := m.Read(offset, 4)
	if err != nil {
		return 0, err
	}
	return le.Uint32(b), nil
}

func (m *Manager) ReadU64(offset uint32) (uint64, error) {
	b, err := m.Read(offset, 8)
	if err != nil {
		return 0, err
	}
	return le.Uint64(b), nil
}

func (m *Manager) WriteU8(offset uint32, value uint8) error {
	return m.Write(offset, []byte{value})
}

func (m *Manager) WriteU16(offset uint32, value uint16) error {
	var b [2]byte
	le.PutUint16(b[:], value)
	return m.Write(offset, b[:])
}

func (m *Manager) WriteU32(offset uint32, value uint32) error {
	var b [4]byte
	le.PutUint32(b[:], value)
	return m.Write(offset, b[:])
}

func (m *Manager) WriteU64(offset uint32, value uint64) error {
	var b [8]byte
	le.PutUint64(b[:], value)
	return m.Write(offset, b[:])
}

var (
	_ wasmbridge.Memory      = (*Manager)(nil)
	_ wasmbridge.MemorySizer = (*sizer)(nil)
)

type sizer struct{ m *Manager }

func (s *sizer) Size() uint32 { return uint32(s.m.Size()) }

// Sizer exposes the manager as a wasmbridge.MemorySizer (32-bit size, clamped).
func (m *Manager) Sizer() wasmbridge.MemorySizer { return &sizer{m: m} }
