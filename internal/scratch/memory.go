package scratch

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Memory keeps objects in process. It backs tests and SCRATCH_BACKEND=memory.
type Memory struct {
	mu      sync.Mutex
	seq     int
	objects map[string][]byte
	names   map[string]string
	deleted []string

	// FailGet makes Get fail for the listed ids.
	FailGet map[string]bool
	// FailPut makes every Put fail.
	FailPut bool
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte), names: make(map[string]string), FailGet: make(map[string]bool)}
}

func (m *Memory) Put(_ context.Context, name string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPut {
		return "", transferErr("upload", name, errors.New("injected failure"))
	}
	m.seq++
	id := fmt.Sprintf("mem-%d", m.seq)
	m.objects[id] = append([]byte(nil), data...)
	m.names[id] = name
	return id, nil
}

func (m *Memory) Get(_ context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailGet[id] {
		return nil, transferErr("download", id, errors.New("injected failure"))
	}
	b, ok := m.objects[id]
	if !ok {
		return nil, transferErr("download", id, errors.New("no such object"))
	}
	return append([]byte(nil), b...), nil
}

func (m *Memory) Delete(_ context.Context, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[id]; !ok {
		return false
	}
	delete(m.objects, id)
	delete(m.names, id)
	m.deleted = append(m.deleted, id)
	return true
}

func (m *Memory) Has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[id]
	return ok
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

func (m *Memory) Name(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.names[id]
}

func (m *Memory) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}
