package internal_session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	internal_type "github.com/voxbridgeai/api/stream-api/internal/type"
	"github.com/voxbridgeai/pkg/commons"
)

// Direction of the carrier leg.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Status is the call session lifecycle state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CallSession is the root entity for one carrier call. It owns its pipeline
// exclusively; nothing outside the session touches pipeline state. Carrier
// and upstream teardown can race, so the first terminal signal wins and the
// second is absorbed.
type CallSession struct {
	mu        sync.Mutex
	id        string
	direction Direction
	status    Status
	startedAt time.Time
	endedAt   time.Time
	metadata  map[string]string
	sink      internal_type.EgressSink
	logger    commons.Logger

	clock func() time.Time
}

var _ internal_type.SessionControl = (*CallSession)(nil)

type SessionOption func(*CallSession)

func WithSessionID(id string) SessionOption {
	return func(s *CallSession) { s.id = id }
}

func WithMetadata(key, value string) SessionOption {
	return func(s *CallSession) { s.metadata[key] = value }
}

func NewCallSession(logger commons.Logger, direction Direction, sink internal_type.EgressSink, opts ...SessionOption) *CallSession {
	s := &CallSession{
		id:        uuid.NewString(),
		direction: direction,
		status:    StatusQueued,
		metadata:  make(map[string]string),
		sink:      sink,
		logger:    logger,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CallSession) ID() string {
	return s.id
}

func (s *CallSession) Direction() Direction {
	return s.direction
}

func (s *CallSession) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *CallSession) Metadata(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.metadata[key]
	return v, ok
}

// Emit forwards one companded narrow-band payload to the carrier sink.
func (s *CallSession) Emit(frame []byte) {
	if s.sink != nil {
		s.sink(frame)
	}
}

// Ring moves a queued session to ringing.
func (s *CallSession) Ring() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return s.goneLocked()
	}
	if s.status == StatusQueued {
		s.status = StatusRinging
	}
	return nil
}

// Begin moves the session into in-progress and records the start time.
func (s *CallSession) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return s.goneLocked()
	}
	if s.status != StatusInProgress {
		s.status = StatusInProgress
		s.startedAt = s.clock()
	}
	return nil
}

// End moves the session to its terminal status. The first terminal signal
// wins; later calls return nil and change nothing.
func (s *CallSession) End(failed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return nil
	}
	if failed {
		s.status = StatusFailed
	} else {
		s.status = StatusCompleted
	}
	s.endedAt = s.clock()
	s.logger.Infow("call session ended",
		"session", s.id, "status", s.status, "duration", s.endedAt.Sub(s.startedAt))
	return nil
}

// Guard returns SESSION_GONE once the session is past its terminal status.
func (s *CallSession) Guard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return s.goneLocked()
	}
	return nil
}

func (s *CallSession) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

func (s *CallSession) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

func (s *CallSession) goneLocked() error {
	return commons.NewStreamError(commons.ErrSessionGone,
		"session "+s.id+" is "+string(s.status))
}
