package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/adiwarsito/svara/pkg/errorsx"
)

// Store persists calls and their message logs. The client is process-wide and
// concurrent-safe; sessions share one instance.
type Store interface {
	UpsertCall(ctx context.Context, call *Call) error
	UpdateCallStatus(ctx context.Context, callID string, status CallStatus) error
	MarkInProgress(ctx context.Context, callID string, startedAt time.Time) error
	CompleteCall(ctx context.Context, callID string, reason string, endedAt time.Time, durationSeconds int, costs CostBreakdown) error
	UpdateCallRecordings(ctx context.Context, callID, userURI, agentURI string) error
	GetCall(ctx context.Context, callID string) (*Call, error)
	AppendMessage(ctx context.Context, msg *Message) error
	Messages(ctx context.Context, callID string) ([]Message, error)
	Close()
}

// Memory is an in-process Store for tests and credential-less local runs.
type Memory struct {
	mu       sync.Mutex
	calls    map[string]*Call
	messages map[string][]Message
}

func NewMemory() *Memory {
	return &Memory{
		calls:    make(map[string]*Call),
		messages: make(map[string][]Message),
	}
}

func (m *Memory) UpsertCall(ctx context.Context, call *Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *call
	m.calls[call.ID] = &copied
	return nil
}

func (m *Memory) UpdateCallStatus(ctx context.Context, callID string, status CallStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	call, ok := m.calls[callID]
	if !ok {
		return errorsx.Wrap(errNotFound(callID), errorsx.KindNotFound, errorsx.ReasonStoreWrite)
	}
	call.Status = status
	return nil
}

func (m *Memory) MarkInProgress(ctx context.Context, callID string, startedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	call, ok := m.calls[callID]
	if !ok {
		return errorsx.Wrap(errNotFound(callID), errorsx.KindNotFound, errorsx.ReasonStoreWrite)
	}
	call.Status = StatusInProgress
	call.StartedAt = &startedAt
	return nil
}

func (m *Memory) CompleteCall(ctx context.Context, callID string, reason string, endedAt time.Time, durationSeconds int, costs CostBreakdown) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	call, ok := m.calls[callID]
	if !ok {
		return errorsx.Wrap(errNotFound(callID), errorsx.KindNotFound, errorsx.ReasonStoreWrite)
	}
	call.Status = StatusCompleted
	call.EndedReason = reason
	call.EndedAt = &endedAt
	call.DurationSeconds = durationSeconds
	call.Costs = costs
	return nil
}

func (m *Memory) UpdateCallRecordings(ctx context.Context, callID, userURI, agentURI string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	call, ok := m.calls[callID]
	if !ok {
		return errorsx.Wrap(errNotFound(callID), errorsx.KindNotFound, errorsx.ReasonStoreWrite)
	}
	call.UserRecording = userURI
	call.AgentRecording = agentURI
	return nil
}

func (m *Memory) GetCall(ctx context.Context, callID string) (*Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call, ok := m.calls[callID]
	if !ok {
		return nil, errorsx.Wrap(errNotFound(callID), errorsx.KindNotFound, errorsx.ReasonStoreWrite)
	}
	copied := *call
	return &copied, nil
}

func (m *Memory) AppendMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.CallID] = append(m.messages[msg.CallID], *msg)
	return nil
}

func (m *Memory) Messages(ctx context.Context, callID string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.messages[callID]))
	copy(out, m.messages[callID])
	sort.SliceStable(out, func(i, j int) bool { return out[i].TimestampMS < out[j].TimestampMS })
	return out, nil
}

// Calls returns a snapshot of all call rows keyed by id.
func (m *Memory) Calls() map[string]Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Call, len(m.calls))
	for id, call := range m.calls {
		out[id] = *call
	}
	return out
}

func (m *Memory) Close() {}

type errNotFound string

func (e errNotFound) Error() string { return "call not found: " + string(e) }

var _ Store = (*Memory)(nil)
