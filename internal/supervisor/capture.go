package supervisor

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/posse-io/posse/internal/metrics"
	"github.com/posse-io/posse/internal/record"
)

// captureInterval is how often newly written child output is drained into
// the record buffers.
const captureInterval = 100 * time.Millisecond

// captureFile wraps the temp file a child's stdout or stderr is redirected
// to, with a read cursor and the trailing unterminated line carried between
// reads. Only the capture goroutine touches it after spawn.
type captureFile struct {
	f       *os.File
	offset  int64
	partial string
}

func newCaptureFile(name, stream string) (*captureFile, error) {
	f, err := os.CreateTemp("", fmt.Sprintf("posse-%s-%s-*.log", tempSafe(name), stream))
	if err != nil {
		return nil, fmt.Errorf("create %s capture file: %w", stream, err)
	}
	return &captureFile{f: f}, nil
}

// readNewLines returns the completed lines appended to the file since the
// previous call. With final true the trailing unterminated line is flushed
// as well.
func (c *captureFile) readNewLines(final bool) []string {
	buf := make([]byte, 32*1024)
	for {
		n, err := c.f.ReadAt(buf, c.offset)
		if n > 0 {
			c.offset += int64(n)
			c.partial += string(buf[:n])
		}
		if err != nil || n < len(buf) {
			break
		}
	}
	var lines []string
	for {
		i := strings.IndexByte(c.partial, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, strings.TrimSuffix(c.partial[:i], "\r"))
		c.partial = c.partial[i+1:]
	}
	if final && c.partial != "" {
		lines = append(lines, c.partial)
		c.partial = ""
	}
	return lines
}

// Close removes the backing temp file.
func (c *captureFile) Close() {
	name := c.f.Name()
	_ = c.f.Close()
	_ = os.Remove(name)
}

func tempSafe(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, name)
}

// capture is the per-run output-capture goroutine. It polls the temp files
// for new lines until the wait goroutine signals process exit, then does a
// final drain and drives the exit transition. gen guards against acting on
// a process slot that has since been restarted or deleted.
func (s *Supervisor) capture(name string, gen uint64, outF, errF *captureFile, waitDone <-chan struct{}) {
	ticker := time.NewTicker(captureInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.drainOutput(name, gen, outF, errF, false)
		case <-waitDone:
			s.drainOutput(name, gen, outF, errF, true)
			outF.Close()
			errF.Close()
			s.handleExit(name, gen)
			return
		}
	}
}

func (s *Supervisor) drainOutput(name string, gen uint64, outF, errF *captureFile, final bool) {
	outLines := outF.readNewLines(final)
	errLines := errF.readNewLines(final)
	if len(outLines) == 0 && len(errLines) == 0 {
		return
	}
	s.mu.Lock()
	if p := s.procs[name]; p != nil && p.gen == gen {
		p.rec.AddOutput(outLines, errLines)
	}
	s.mu.Unlock()
}

// handleExit transitions a process that exited on its own to died and,
// when auto-restart applies, schedules a single respawn attempt.
func (s *Supervisor) handleExit(name string, gen uint64) {
	s.mu.Lock()
	p := s.procs[name]
	if p == nil || p.gen != gen {
		s.mu.Unlock()
		return
	}
	if p.stopping {
		// Stop owns the state transition for requested shutdowns.
		s.mu.Unlock()
		return
	}
	pid := p.rec.PID
	p.cmd = nil
	p.rec.ClearLiveState(record.StatusDied)
	s.updateRunningGauge()

	restart := false
	var spec record.Record
	if p.rec.AutoRestart && (s.policy.MaxRetries == 0 || p.retries < s.policy.MaxRetries) {
		p.retries++
		restart = true
		spec = p.rec.Clone()
	}
	s.mu.Unlock()

	s.logger.Warn("process exited unexpectedly", "name", name, "pid", pid, "restart", restart)
	if restart {
		time.AfterFunc(s.policy.Interval, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			// The slot may have been deleted or respawned while the timer
			// was pending; a stale timer must not resurrect it.
			cur := s.procs[name]
			if cur == nil || cur.gen != gen {
				return
			}
			metrics.IncRestart(name)
			if err := s.startLocked(spec); err != nil {
				s.logger.Error("auto-restart failed", "name", name, "error", err)
			}
		})
	}
}
