package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/posse-io/posse/internal/metrics"
	"github.com/posse-io/posse/internal/record"
)

const (
	// stopGracePeriod is how long a process group gets to exit after
	// SIGTERM before the group is killed.
	stopGracePeriod = 5 * time.Second
	// killReapWait bounds the wait for the monitor to reap after SIGKILL.
	killReapWait = 200 * time.Millisecond
)

// RestartPolicy governs respawning of processes that exit on their own.
type RestartPolicy struct {
	Interval   time.Duration // delay before the respawn attempt
	MaxRetries int           // 0 means unlimited
}

// DefaultRestartPolicy matches the historical behavior: retry forever,
// five seconds apart.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{Interval: 5 * time.Second}
}

// Config configures a Supervisor.
type Config struct {
	Hostname string        // reported as Record.Host; defaults to os.Hostname
	Restart  RestartPolicy // zero Interval takes the default policy
	Logger   *slog.Logger  // defaults to slog.Default
}

// Supervisor owns the real OS processes on one host. All mutation goes
// through its methods; a single table lock serializes operations on the
// same process name.
type Supervisor struct {
	mu     sync.Mutex
	host   string
	policy RestartPolicy
	logger *slog.Logger
	procs  map[string]*proc
}

// proc pairs a record with the live handle state for one managed process.
type proc struct {
	rec      record.Record
	cmd      *exec.Cmd
	stdout   *captureFile
	stderr   *captureFile
	waitDone chan struct{}
	stopping bool
	retries  int
	// gen increments on every spawn so stale capture goroutines and
	// restart timers can detect they lost the process.
	gen uint64
}

func (p *proc) running() bool {
	return p.cmd != nil && p.rec.Status == record.StatusRunning
}

// New creates a Supervisor with an empty process table.
func New(cfg Config) *Supervisor {
	host := cfg.Hostname
	if host == "" {
		if h, err := os.Hostname(); err == nil {
			host = h
		} else {
			host = "localhost"
		}
	}
	policy := cfg.Restart
	if policy.Interval <= 0 {
		policy.Interval = DefaultRestartPolicy().Interval
	}
	lg := cfg.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Supervisor{
		host:   host,
		policy: policy,
		logger: lg,
		procs:  make(map[string]*proc),
	}
}

// Hostname returns the host name reported on every record.
func (s *Supervisor) Hostname() string { return s.host }

// Add registers a spec without spawning anything. Command validation is
// deferred to Start. Re-adding an existing name replaces the spec and
// keeps the live state.
func (s *Supervisor) Add(spec record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.procs[spec.Name]
	if p == nil {
		p = &proc{}
		p.rec.Status = record.StatusStopped
		s.procs[spec.Name] = p
	}
	s.applySpec(p, spec)
	return nil
}

// Start registers the spec and spawns the process. It is rejected when a
// live handle for the same name is still running.
func (s *Supervisor) Start(spec record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.procs[spec.Name]; p != nil {
		p.retries = 0
	}
	return s.startLocked(spec)
}

func (s *Supervisor) startLocked(spec record.Record) error {
	p := s.procs[spec.Name]
	if p != nil && p.running() {
		return fmt.Errorf("process %q is already running", spec.Name)
	}
	if p == nil {
		p = &proc{}
		s.procs[spec.Name] = p
	}
	s.applySpec(p, spec)

	cmd := buildCommand(p.rec.Command)
	if p.rec.WorkingDir != "" {
		cmd.Dir = p.rec.WorkingDir
	}
	setProcessGroup(cmd)

	// Child output goes to temp files, not pipes, so a chatty child can
	// never block on us. The capture goroutine drains them.
	outF, err := newCaptureFile(p.rec.Name, "stdout")
	if err != nil {
		p.rec.ClearLiveState(record.ErrorStatus(err.Error()))
		return err
	}
	errF, err := newCaptureFile(p.rec.Name, "stderr")
	if err != nil {
		outF.Close()
		p.rec.ClearLiveState(record.ErrorStatus(err.Error()))
		return err
	}
	cmd.Stdout = outF.f
	cmd.Stderr = errF.f

	p.rec.Stdout.Reset()
	p.rec.Stderr.Reset()

	if err := cmd.Start(); err != nil {
		outF.Close()
		errF.Close()
		p.rec.ClearLiveState(record.ErrorStatus(err.Error()))
		s.logger.Error("process spawn failed", "name", p.rec.Name, "error", err)
		return fmt.Errorf("start process %q: %w", p.rec.Name, err)
	}
	if reaped, _ := tryReap(cmd.Process.Pid); reaped {
		outF.Close()
		errF.Close()
		p.rec.ClearLiveState(record.ErrorStatus("process exited immediately"))
		return fmt.Errorf("process %q exited immediately", p.rec.Name)
	}

	p.cmd = cmd
	p.stdout, p.stderr = outF, errF
	p.stopping = false
	p.waitDone = make(chan struct{})
	p.gen++
	p.rec.PID = cmd.Process.Pid
	p.rec.Status = record.StatusRunning
	p.rec.StartTime = time.Now()

	wd := p.waitDone
	go func() {
		_ = cmd.Wait()
		close(wd)
	}()
	go s.capture(p.rec.Name, p.gen, outF, errF, wd)

	metrics.IncStart(p.rec.Name)
	s.updateRunningGauge()
	s.logger.Info("process started", "name", p.rec.Name, "pid", p.rec.PID)
	return nil
}

// Stop terminates the whole process group: SIGTERM, a bounded grace wait,
// then SIGKILL. Calling it on a process that is not running fails and has
// no side effect.
func (s *Supervisor) Stop(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(name)
}

func (s *Supervisor) stopLocked(name string) error {
	p := s.procs[name]
	if p == nil || !p.running() {
		return fmt.Errorf("process %q is not running", name)
	}
	p.stopping = true
	pid := p.cmd.Process.Pid
	wd := p.waitDone

	_ = signalGroup(pid, syscall.SIGTERM)
	select {
	case <-wd:
	case <-time.After(stopGracePeriod):
		if err := signalGroup(pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			return fmt.Errorf("kill process group %d: %w", pid, err)
		}
		select {
		case <-wd:
		case <-time.After(killReapWait):
			// best-effort; the wait goroutine reaps when the kernel lets go
		}
	}

	p.cmd = nil
	p.rec.ClearLiveState(record.StatusStopped)
	metrics.IncStop(name)
	s.updateRunningGauge()
	s.logger.Info("process stopped", "name", name)
	return nil
}

// Restart performs a sequential stop-then-start using the stored spec.
func (s *Supervisor) Restart(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.procs[name]
	if p == nil {
		return fmt.Errorf("process %q not found", name)
	}
	spec := p.rec.Clone()
	_ = s.stopLocked(name)
	p.retries = 0
	return s.startLocked(spec)
}

// Update replaces the stored spec. A running process is restarted under
// the new spec; a stopped one just gets the spec swapped.
func (s *Supervisor) Update(name string, spec record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.procs[name]
	if p == nil {
		return fmt.Errorf("process %q not found", name)
	}
	spec.Name = name
	if p.running() {
		_ = s.stopLocked(name)
		p.retries = 0
		return s.startLocked(spec)
	}
	s.applySpec(p, spec)
	return nil
}

// Delete stops the process if needed and removes every trace of it.
func (s *Supervisor) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.procs[name]
	if p == nil {
		return fmt.Errorf("process %q not found", name)
	}
	if p.running() {
		_ = s.stopLocked(name)
	}
	delete(s.procs, name)
	s.updateRunningGauge()
	s.logger.Info("process deleted", "name", name)
	return nil
}

// Info refreshes resource stats for the process and returns a snapshot.
func (s *Supervisor) Info(name string) (record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.procs[name]
	if p == nil {
		return record.Record{}, fmt.Errorf("process %q not found", name)
	}
	s.refreshStatsLocked(p)
	return p.rec.Clone(), nil
}

// All refreshes stats on every process and returns snapshots sorted by name.
func (s *Supervisor) All() []record.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]record.Record, 0, len(s.procs))
	for _, p := range s.procs {
		s.refreshStatsLocked(p)
		out = append(out, p.rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Shutdown stops every running process. Used on daemon exit.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	names := make([]string, 0, len(s.procs))
	for name, p := range s.procs {
		if p.running() {
			names = append(names, name)
		}
	}
	s.mu.Unlock()
	for _, name := range names {
		if err := s.Stop(name); err != nil {
			s.logger.Warn("shutdown stop failed", "name", name, "error", err)
		}
	}
}

// applySpec copies the spec-owned fields onto the record; live state and
// buffers are untouched. Host is always the supervisor's own.
func (s *Supervisor) applySpec(p *proc, spec record.Record) {
	p.rec.Name = spec.Name
	p.rec.Command = spec.Command
	p.rec.WorkingDir = spec.WorkingDir
	p.rec.Autostart = spec.Autostart
	p.rec.AutoRestart = spec.AutoRestart
	p.rec.Host = s.host
}

func (s *Supervisor) updateRunningGauge() {
	n := 0
	for _, p := range s.procs {
		if p.running() {
			n++
		}
	}
	metrics.SetRunningProcesses(n)
}
