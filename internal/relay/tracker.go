package relay

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of one transcription request
type State int

const (
	StateIdle State = iota
	StateConverting
	StateStreaming
	StateClosed
)

// String returns the lowercase state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConverting:
		return "converting"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one in-flight transcription request
type Session struct {
	ID        string
	StartTime time.Time
	Samples   int

	state      State
	framesSent uint64
	fragments  uint64

	mu sync.RWMutex
}

// SessionInfo is a monitoring snapshot of a Session
type SessionInfo struct {
	ID         string        `json:"id"`
	State      string        `json:"state"`
	StartTime  time.Time     `json:"start_time"`
	Duration   time.Duration `json:"duration"`
	Samples    int           `json:"samples"`
	FramesSent uint64        `json:"frames_sent"`
	Fragments  uint64        `json:"fragments"`
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) recordFrame() {
	s.mu.Lock()
	s.framesSent++
	s.mu.Unlock()
}

func (s *Session) recordFragment() {
	s.mu.Lock()
	s.fragments++
	s.mu.Unlock()
}

// Info returns a snapshot of the session
func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return SessionInfo{
		ID:         s.ID,
		State:      s.state.String(),
		StartTime:  s.StartTime,
		Duration:   time.Since(s.StartTime),
		Samples:    s.Samples,
		FramesSent: s.framesSent,
		Fragments:  s.fragments,
	}
}

// TrackerStats contains totals across all requests seen by a Tracker
type TrackerStats struct {
	ActiveSessions int    `json:"active_sessions"`
	TotalStarted   uint64 `json:"total_started"`
	TotalCompleted uint64 `json:"total_completed"`
	TotalFailed    uint64 `json:"total_failed"`
	TotalFragments uint64 `json:"total_fragments"`
}

// Tracker keeps the live transcription sessions. Sessions are dropped when their request ends.
type Tracker struct {
	sessions map[string]*Session
	logger   *slog.Logger

	totalStarted   uint64
	totalCompleted uint64
	totalFailed    uint64
	totalFragments uint64

	mu sync.RWMutex
}

// NewTracker creates an empty session tracker
func NewTracker(logger *slog.Logger) *Tracker {
	return &Tracker{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// Begin registers a new session. An empty id gets a generated UUID.
func (t *Tracker) Begin(id string, samples int) *Session {
	if id == "" {
		id = uuid.New().String()
	}

	session := &Session{
		ID:        id,
		StartTime: time.Now(),
		Samples:   samples,
		state:     StateIdle,
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.sessions[id]; exists {
		t.logger.Warn("Session ID already in use, replacing tracked session",
			slog.String("session_id", id),
		)
	}
	t.sessions[id] = session
	t.totalStarted++

	return session
}

// End marks the session closed and removes it
func (t *Tracker) End(session *Session, err error) {
	session.setState(StateClosed)
	info := session.Info()

	t.mu.Lock()
	if current, exists := t.sessions[session.ID]; exists && current == session {
		delete(t.sessions, session.ID)
	}
	if err != nil {
		t.totalFailed++
	} else {
		t.totalCompleted++
	}
	t.totalFragments += info.Fragments
	t.mu.Unlock()

	t.logger.Debug("Transcription session closed",
		slog.String("session_id", info.ID),
		slog.Duration("duration", info.Duration),
		slog.Uint64("frames_sent", info.FramesSent),
		slog.Uint64("fragments", info.Fragments),
		slog.Bool("failed", err != nil),
	)
}

// GetSession returns a snapshot of a live session
func (t *Tracker) GetSession(id string) (SessionInfo, bool) {
	t.mu.RLock()
	session, exists := t.sessions[id]
	t.mu.RUnlock()

	if !exists {
		return SessionInfo{}, false
	}
	return session.Info(), true
}

// GetAllSessions returns snapshots of all live sessions, oldest first
func (t *Tracker) GetAllSessions() []SessionInfo {
	t.mu.RLock()
	sessions := make([]*Session, 0, len(t.sessions))
	for _, session := range t.sessions {
		sessions = append(sessions, session)
	}
	t.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, session.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartTime.Before(infos[j].StartTime)
	})

	return infos
}

// GetActiveSessionCount returns the number of live sessions
func (t *Tracker) GetActiveSessionCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// GetStats returns tracker totals
func (t *Tracker) GetStats() TrackerStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return TrackerStats{
		ActiveSessions: len(t.sessions),
		TotalStarted:   t.totalStarted,
		TotalCompleted: t.totalCompleted,
		TotalFailed:    t.totalFailed,
		TotalFragments: t.totalFragments,
	}
}
