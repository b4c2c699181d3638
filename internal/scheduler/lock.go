package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"logsentry/internal/model"
	"logsentry/internal/statefile"
)

var ErrLockConflict = errors.New("can't start, process already running")

const (
	lockAttempts = 2
	lockSettle   = 200 * time.Millisecond
)

// Lock claims the pid field of the state file. It refuses when the recorded
// pid belongs to a live process other than this one. The claim is written
// and re-read after a short pause to narrow the window in which two starting
// processes both win; it does not close it.
func (s *Scheduler) Lock() error {
	for i := 0; i < lockAttempts; i++ {
		var st model.SchedulerState
		if _, err := statefile.Load(s.statePath, &st); err != nil {
			return fmt.Errorf("read lock: %w", err)
		}
		if st.PID != 0 {
			if st.PID == s.opts.PID {
				if i > 0 {
					break
				}
			} else if isProcessAlive(st.PID) {
				return fmt.Errorf("%w (pid %d)", ErrLockConflict, st.PID)
			}
		}
		s.state = st
		s.state.PID = s.opts.PID
		if err := statefile.Save(s.statePath, s.state); err != nil {
			return fmt.Errorf("write lock: %w", err)
		}
		s.opts.Sleep(context.Background(), lockSettle)
	}
	s.locked = true
	return nil
}

// Unlock clears the pid if it is still ours.
func (s *Scheduler) Unlock() error {
	if !s.locked {
		return nil
	}
	var st model.SchedulerState
	if _, err := statefile.Load(s.statePath, &st); err != nil {
		return err
	}
	s.locked = false
	if st.PID != s.opts.PID {
		return nil
	}
	s.state.PID = 0
	return statefile.Save(s.statePath, s.state)
}

func isProcessAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 doesn't actually send anything, just checks if process exists
	err = process.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
