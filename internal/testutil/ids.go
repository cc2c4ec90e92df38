package testutil

import "errors"

// IDAllocator is a test implementation of txn.IDAllocator
type IDAllocator struct {
	nextID  uint64
	FailErr error
}

// NewIDAllocator creates a new test ID allocator starting at startID
func NewIDAllocator(startID uint64) *IDAllocator {
	return &IDAllocator{nextID: startID}
}

// Next returns the next ID and increments the counter, or FailErr if set
func (m *IDAllocator) Next() (uint64, error) {
	if m.FailErr != nil {
		return 0, m.FailErr
	}
	id := m.nextID
	m.nextID++
	return id, nil
}

// Peek returns the next ID without incrementing
func (m *IDAllocator) Peek() uint64 {
	return m.nextID
}

// SetNext sets the next ID to be returned. Regressions are rejected.
func (m *IDAllocator) SetNext(next uint64) error {
	if next < 1 || next < m.nextID {
		return errors.New("test allocator: invalid next id")
	}
	m.nextID = next
	return nil
}
