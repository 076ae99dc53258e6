package services

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/lusia-studio/quiz-engine/internal/models"
	"github.com/lusia-studio/quiz-engine/internal/repositories"
	"github.com/lusia-studio/quiz-engine/internal/utils"
)

// SaveState is the transient indicator surfaced next to the quiz.
type SaveState string

const (
	SaveIdle   SaveState = "idle"
	SaveSaving SaveState = "saving"
	SaveSaved  SaveState = "saved"
	SaveError  SaveState = "error"
)

// DraftWriter is the slice of the attempt session the scheduler works
// against. SnapshotDraft returns the current draft, its canonical
// serialization and the store version to write against; the scheduler
// never mutates the answer map, it only reads snapshots at fire time.
type DraftWriter interface {
	SnapshotDraft() (canonical []byte, draft models.ProgressEnvelope, version int64)
	WriteDraft(ctx context.Context, draft models.ProgressEnvelope, version int64) error
}

// AutosaveScheduler debounces draft writes. Contract:
//
//   - OnEdit re-arms a single timer; many edits within the window
//     produce at most one write.
//   - A fire whose canonical serialization equals the last confirmed
//     one is skipped entirely.
//   - A conflict from the store is dropped silently: it means another
//     of the learner's sessions holds fresher state, and last write
//     loses. Any other failure surfaces the error indicator; the next
//     edit re-arms normally, there is no automatic retry.
//   - At most one write is in flight at a time. A fire that lands
//     while a write is running marks the draft dirty and the write's
//     completion re-arms the timer, so an edit made mid-write still
//     reaches the store.
type AutosaveScheduler struct {
	writer DraftWriter
	logger utils.Logger

	delay        time.Duration
	indicatorTTL time.Duration
	writeTimeout time.Duration

	mu            sync.Mutex
	timer         *time.Timer
	clearTimer    *time.Timer
	generation    uint64
	inFlight      bool
	pending       bool
	lastConfirmed []byte
	state         SaveState
}

func NewAutosaveScheduler(writer DraftWriter, delay, indicatorTTL time.Duration, logger utils.Logger) *AutosaveScheduler {
	return &AutosaveScheduler{
		writer:       writer,
		logger:       logger,
		delay:        delay,
		indicatorTTL: indicatorTTL,
		writeTimeout: 10 * time.Second,
		state:        SaveIdle,
	}
}

// SetConfirmed records the serialization of the answers as last known
// saved; called once after load so reverting to the loaded state
// causes zero writes.
func (s *AutosaveScheduler) SetConfirmed(canonical []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastConfirmed = canonical
}

// State returns the current indicator value.
func (s *AutosaveScheduler) State() SaveState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnEdit arms the debounce timer, replacing any previously armed one.
func (s *AutosaveScheduler) OnEdit() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	gen := s.generation
	s.timer = time.AfterFunc(s.delay, func() {
		s.fire(gen)
	})
}

// Cancel stops any pending timer and invalidates the in-flight write,
// if one exists; its response will be ignored when it lands. Called on
// teardown, on submission, and when the attempt stops being editable.
func (s *AutosaveScheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.clearTimer != nil {
		s.clearTimer.Stop()
		s.clearTimer = nil
	}
	s.generation++
	s.pending = false
	s.state = SaveIdle
}

func (s *AutosaveScheduler) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	if s.inFlight {
		// An edit's fire landed while a write is running. Mark the
		// draft dirty; the write's completion re-arms the timer.
		s.pending = true
		s.mu.Unlock()
		return
	}
	s.inFlight = true
	s.mu.Unlock()

	// Writer calls happen outside s.mu; the writer takes its own lock
	// and also calls back into OnEdit and Cancel.
	canonical, draft, version := s.writer.SnapshotDraft()

	s.mu.Lock()
	if gen != s.generation {
		s.finishLocked(gen)
		s.mu.Unlock()
		return
	}
	if bytes.Equal(canonical, s.lastConfirmed) {
		s.finishLocked(gen)
		s.mu.Unlock()
		return
	}
	s.state = SaveSaving
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()
	err := s.writer.WriteDraft(ctx, draft, version)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishLocked(gen)
	if gen != s.generation {
		// The attempt moved on (submitted, torn down or switched)
		// while the write was in flight; its outcome no longer
		// matters either way.
		return
	}

	switch {
	case err == nil:
		s.lastConfirmed = canonical
		s.state = SaveSaved
		s.armClearLocked(gen)
	case repositories.IsConflictError(err):
		// Expected under multi-tab use: the learner's other session
		// already has fresher data. No retry, no indicator.
		s.logger.Debug("autosave dropped on conflict")
		s.state = SaveIdle
	default:
		s.logger.LogError(err, "autosave write failed")
		s.state = SaveError
	}
}

// finishLocked clears the in-flight mark and, when a fire was
// swallowed while the write ran, re-arms the debounce timer so that
// edit still reaches the store. Callers hold s.mu.
func (s *AutosaveScheduler) finishLocked(gen uint64) {
	s.inFlight = false
	if !s.pending {
		return
	}
	s.pending = false
	if gen != s.generation {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.delay, func() {
		s.fire(gen)
	})
}

// armClearLocked schedules the saved indicator back to idle. Callers
// hold s.mu.
func (s *AutosaveScheduler) armClearLocked(gen uint64) {
	if s.clearTimer != nil {
		s.clearTimer.Stop()
	}
	s.clearTimer = time.AfterFunc(s.indicatorTTL, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen == s.generation && s.state == SaveSaved {
			s.state = SaveIdle
		}
	})
}
