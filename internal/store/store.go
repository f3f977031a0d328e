// Package store persists calls, transcripts and recordings.
//
// Two implementations of the call/message stores exist: a PostgreSQL store
// backed by pgx for production, and an in-memory store used when no DSN is
// configured and throughout the test suite. Recordings always go to the
// local filesystem.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/voxpipe-ai/voxpipe/pkg/types"
)

// ErrNotFound is returned when a call ID is unknown.
var ErrNotFound = errors.New("store: call not found")

// CallStore persists call records through their lifecycle.
type CallStore interface {
	// UpsertCall inserts or fully replaces the call record.
	UpsertCall(ctx context.Context, call *types.Call) error

	// UpdateCallStatus moves the call to status. When status is
	// in-progress and the call has no start time yet, startedAt is
	// recorded.
	UpdateCallStatus(ctx context.Context, id string, status types.CallStatus, at time.Time) error

	// FinalizeCall records the terminal fields written exactly once at end
	// of call.
	FinalizeCall(ctx context.Context, id string, endedReason string, endedAt time.Time, durationSeconds int, cost types.CostBreakdown) error

	// SetRecordingURIs attaches the recording locations to the call.
	SetRecordingURIs(ctx context.Context, id, userURI, assistantURI string) error

	// GetCall returns the call or ErrNotFound.
	GetCall(ctx context.Context, id string) (*types.Call, error)
}

// MessageStore persists the append-only conversation log.
type MessageStore interface {
	// AppendMessage appends one message to the call's log.
	AppendMessage(ctx context.Context, msg *types.CallMessage) error

	// ListMessages returns the call's log ordered by timestamp.
	ListMessages(ctx context.Context, callID string) ([]types.CallMessage, error)
}

// Store bundles the call and message stores.
type Store interface {
	CallStore
	MessageStore
}

// MemoryStore is an in-memory Store implementation. Calls and transcripts
// are lost on restart; it backs deployments without Postgres and the test
// suite.
type MemoryStore struct {
	mu       sync.RWMutex
	calls    map[string]*types.Call
	messages map[string][]types.CallMessage
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		calls:    make(map[string]*types.Call),
		messages: make(map[string][]types.CallMessage),
	}
}

// UpsertCall implements CallStore.
func (s *MemoryStore) UpsertCall(_ context.Context, call *types.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *call
	s.calls[call.ID] = &cp
	return nil
}

// UpdateCallStatus implements CallStore.
func (s *MemoryStore) UpdateCallStatus(_ context.Context, id string, status types.CallStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[id]
	if !ok {
		return ErrNotFound
	}
	call.Status = status
	if status == types.CallStatusInProgress && call.StartedAt.IsZero() {
		call.StartedAt = at
	}
	return nil
}

// FinalizeCall implements CallStore.
func (s *MemoryStore) FinalizeCall(_ context.Context, id string, endedReason string, endedAt time.Time, durationSeconds int, cost types.CostBreakdown) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[id]
	if !ok {
		return ErrNotFound
	}
	call.Status = types.CallStatusCompleted
	call.EndedReason = endedReason
	call.EndedAt = endedAt
	call.DurationSeconds = durationSeconds
	call.Cost = cost
	return nil
}

// SetRecordingURIs implements CallStore.
func (s *MemoryStore) SetRecordingURIs(_ context.Context, id, userURI, assistantURI string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[id]
	if !ok {
		return ErrNotFound
	}
	call.UserRecordingURI = userURI
	call.AssistantRecordingURI = assistantURI
	return nil
}

// GetCall implements CallStore.
func (s *MemoryStore) GetCall(_ context.Context, id string) (*types.Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	call, ok := s.calls[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *call
	return &cp, nil
}

// AppendMessage implements MessageStore.
func (s *MemoryStore) AppendMessage(_ context.Context, msg *types.CallMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.CallID] = append(s.messages[msg.CallID], *msg)
	return nil
}

// ListMessages implements MessageStore.
func (s *MemoryStore) ListMessages(_ context.Context, callID string) ([]types.CallMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := make([]types.CallMessage, len(s.messages[callID]))
	copy(msgs, s.messages[callID])
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].TimestampMs < msgs[j].TimestampMs
	})
	return msgs, nil
}
