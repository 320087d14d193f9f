package source

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/torosent/mechafeed/internal/record"
)

// Memory is a deterministic Source backed by a slice of payloads. It counts
// every call so tests can assert how often the remote side was hit.
// Memory is safe for concurrent use.
type Memory struct {
	mu        sync.Mutex
	payloads  [][]byte
	failAt    map[uint64]error
	failCount error

	countCalls int
	fetches    map[uint64]int
}

// NewMemory creates a Memory holding payloads at positions 0..len-1.
func NewMemory(payloads ...[]byte) *Memory {
	m := &Memory{
		failAt:  make(map[uint64]error),
		fetches: make(map[uint64]int),
	}
	for _, p := range payloads {
		m.Append(p)
	}
	return m
}

// Append adds a raw payload at the next position and returns that position.
func (m *Memory) Append(payload []byte) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, append([]byte(nil), payload...))
	return uint64(len(m.payloads) - 1)
}

// AppendNamed adds a well formed record with the given name.
func (m *Memory) AppendNamed(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	position := uint64(len(m.payloads))
	payload, _ := json.Marshal(struct {
		Position uint64 `json:"position"`
		Name     string `json:"name"`
	}{position, name})
	m.payloads = append(m.payloads, payload)
	return position
}

// AppendRecord adds the payload of rec at the next position. The record's own
// position is ignored.
func (m *Memory) AppendRecord(rec record.Record) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Position = uint64(len(m.payloads))
	payload, err := rec.Payload()
	if err != nil {
		return 0, err
	}
	m.payloads = append(m.payloads, payload)
	return rec.Position, nil
}

// FailAt makes every fetch of position return err. A nil err clears it.
func (m *Memory) FailAt(position uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failAt, position)
		return
	}
	m.failAt[position] = err
}

// FailCount makes TotalCount return err. A nil err clears it.
func (m *Memory) FailCount(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCount = err
}

// Truncate drops every position at or after n.
func (m *Memory) Truncate(n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < uint64(len(m.payloads)) {
		m.payloads = m.payloads[:n]
	}
}

func (m *Memory) TotalCount(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.countCalls++
	if m.failCount != nil {
		return 0, m.failCount
	}
	return uint64(len(m.payloads)), nil
}

func (m *Memory) RawDataAt(ctx context.Context, position uint64) (record.RawData, error) {
	if err := ctx.Err(); err != nil {
		return record.RawData{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches[position]++
	if err, ok := m.failAt[position]; ok {
		return record.RawData{}, err
	}
	if position >= uint64(len(m.payloads)) {
		return record.RawData{}, OutOfRange(position, uint64(len(m.payloads)))
	}
	return record.RawData{
		Position: position,
		Payload:  append([]byte(nil), m.payloads[position]...),
	}, nil
}

// CountCalls returns how many times TotalCount was called.
func (m *Memory) CountCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countCalls
}

// FetchCalls returns how many times position was fetched.
func (m *Memory) FetchCalls(position uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches[position]
}

// TotalFetches returns the number of RawDataAt calls across all positions.
func (m *Memory) TotalFetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.fetches {
		total += n
	}
	return total
}
