package paramstate

import (
	"sync"
)

// ChangeFunc is invoked whenever Set changes a parameter's value,
// feeding the server's parameter-change notification ring (§3, §5)
// rather than a listener fan-out — there is exactly one consumer
// (the UI side-channel), not an arbitrary set of subscribers.
type ChangeFunc func(index int32, oldValue, newValue float32)

// Manager is the server-side cache of one plugin instance's parameter
// metadata and current values, index-addressed to match the wire
// protocol's {index:i32} payloads (§6). RWMutex-guarded map access
// mirrors the teacher's pkg/param/manager.go shape.
type Manager struct {
	mu       sync.RWMutex
	params   map[int32]*Parameter
	order    []int32
	onChange ChangeFunc
}

// NewManager creates an empty Manager. onChange may be nil.
func NewManager(onChange ChangeFunc) *Manager {
	return &Manager{
		params:   make(map[int32]*Parameter),
		onChange: onChange,
	}
}

// Register adds a parameter declared by the hosted plugin, when the
// server is constructed (§3's cached default parameter values).
func (m *Manager) Register(info Info) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.params[info.Index]; exists {
		return ErrParameterExists
	}
	m.params[info.Index] = newParameter(info)
	m.order = append(m.order, info.Index)
	return nil
}

// RegisterAll registers every parameter in infos, in order.
func (m *Manager) RegisterAll(infos ...Info) error {
	for _, info := range infos {
		if err := m.Register(info); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of registered parameters.
func (m *Manager) Count() int32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int32(len(m.params))
}

// Info returns a parameter's declared metadata.
func (m *Manager) Info(index int32) (Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, exists := m.params[index]
	if !exists {
		return Info{}, ErrInvalidParam
	}
	return p.Info, nil
}

// Get returns a parameter's current value.
func (m *Manager) Get(index int32) (float32, error) {
	m.mu.RLock()
	p, exists := m.params[index]
	m.mu.RUnlock()
	if !exists {
		return 0, ErrInvalidParam
	}
	return p.Value(), nil
}

// Set writes a parameter's value, clamped to its declared range, and
// invokes onChange if the stored value actually moved.
func (m *Manager) Set(index int32, value float32) error {
	m.mu.RLock()
	p, exists := m.params[index]
	m.mu.RUnlock()
	if !exists {
		return ErrInvalidParam
	}

	old := p.Value()
	if err := p.SetValue(value); err != nil {
		return err
	}
	newValue := p.Value()

	if m.onChange != nil && old != newValue {
		m.onChange(index, old, newValue)
	}
	return nil
}

// All returns every registered parameter's current value, in
// registration order, for the GetParameters bulk-fetch opcode
// (SPEC_FULL.md FEATURES).
func (m *Manager) All() []Parameter {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Parameter, 0, len(m.order))
	for _, idx := range m.order {
		out = append(out, *m.params[idx])
	}
	return out
}

// ResetToDefaults restores every parameter to its declared default (§4.6 Reset).
func (m *Manager) ResetToDefaults() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.params {
		p.store(p.Info.DefaultValue)
	}
}
