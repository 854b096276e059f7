package sheriff

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/posse-io/posse/internal/metrics"
	"github.com/posse-io/posse/internal/record"
	"github.com/posse-io/posse/pkg/client"
)

// Status sentinels written into the local mirror when a remote call cannot
// be issued or answered.
const (
	StatusDeputyNotFound      = "deputy not found"
	StatusDeputyNotResponding = "deputy not responding"
)

var (
	// ErrProcessNotFound reports an unknown process name.
	ErrProcessNotFound = errors.New("process not found")
	// ErrDeputyNotFound reports an unknown deputy hostname.
	ErrDeputyNotFound = errors.New("deputy not found")
)

// DeputyHealth is one deputy's last health classification.
type DeputyHealth struct {
	Hostname      string  `json:"hostname"`
	URL           string  `json:"url"`
	Status        string  `json:"status"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskPercent   float64 `json:"disk_percent"`
}

type deputyEntry struct {
	url    string
	client *client.Client
}

// Config configures a Sheriff.
type Config struct {
	Timeout time.Duration // per deputy call; defaults to client.DefaultTimeout
	TLS     *tls.Config   // applied to every deputy client; nil for plain HTTP
	Logger  *slog.Logger
}

// Sheriff registers deputies, routes every process operation to the
// owning deputy and mirrors fleet-wide process state. The mirror is keyed
// by bare process name: the fleet treats names as globally unique and the
// poll loop lets the last writer win on collisions.
type Sheriff struct {
	mu       sync.RWMutex
	deputies map[string]*deputyEntry
	mirror   map[string]record.Record
	timeout  time.Duration
	tlsConf  *tls.Config
	logger   *slog.Logger
	pollStop chan struct{}
	pollDone chan struct{}
}

// New creates a Sheriff with an empty registry and mirror.
func New(cfg Config) *Sheriff {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = client.DefaultTimeout
	}
	lg := cfg.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Sheriff{
		deputies: make(map[string]*deputyEntry),
		mirror:   make(map[string]record.Record),
		timeout:  timeout,
		tlsConf:  cfg.TLS,
		logger:   lg,
	}
}

func (s *Sheriff) callCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

// AddDeputy probes the deputy at url and registers it under the hostname
// the deputy reports. Re-adding the same hostname overwrites its URL.
func (s *Sheriff) AddDeputy(url string) error {
	if !strings.HasPrefix(url, "http") {
		url = "http://" + url
	}
	c := client.New(client.Config{BaseURL: url, Timeout: s.timeout, TLS: s.tlsConf, Logger: s.logger})

	ctx, cancel := s.callCtx()
	defer cancel()
	h, err := c.Health(ctx)
	if err != nil {
		s.logger.Error("deputy probe failed", "url", url, "error", err)
		return fmt.Errorf("probe deputy at %s: %w", url, err)
	}
	hostname := h.Hostname
	if hostname == "" {
		hostname = "localhost"
	}

	s.mu.Lock()
	s.deputies[hostname] = &deputyEntry{url: url, client: c}
	s.mu.Unlock()
	s.logger.Info("deputy added", "hostname", hostname, "url", url)
	return nil
}

// RemoveDeputy drops the registry entry and every mirrored record owned by
// that hostname. Remote processes keep running, orphaned from our view.
func (s *Sheriff) RemoveDeputy(hostname string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deputies[hostname]; !ok {
		return fmt.Errorf("%w: %s", ErrDeputyNotFound, hostname)
	}
	delete(s.deputies, hostname)
	for name, rec := range s.mirror {
		if rec.Host == hostname {
			delete(s.mirror, name)
		}
	}
	s.logger.Info("deputy removed", "hostname", hostname)
	return nil
}

// HasDeputy reports whether hostname is registered.
func (s *Sheriff) HasDeputy(hostname string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.deputies[hostname]
	return ok
}

// DeputyURLs returns the registered deputy URLs, sorted by hostname.
func (s *Sheriff) DeputyURLs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hosts := make([]string, 0, len(s.deputies))
	for h := range s.deputies {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	urls := make([]string, 0, len(hosts))
	for _, h := range hosts {
		urls = append(urls, s.deputies[h].url)
	}
	return urls
}

type remoteOp int

const (
	opAdd remoteOp = iota
	opStart
	opUpdate
)

// AddProcess registers a process with its deputy without starting it.
func (s *Sheriff) AddProcess(rec record.Record) error { return s.registerAndForward(rec, opAdd) }

// StartProcess registers and starts a process on its deputy.
func (s *Sheriff) StartProcess(rec record.Record) error { return s.registerAndForward(rec, opStart) }

// UpdateProcess pushes a replacement spec; the deputy restarts the process
// if it is live.
func (s *Sheriff) UpdateProcess(rec record.Record) error { return s.registerAndForward(rec, opUpdate) }

// registerAndForward implements the shared mirror logic of the mutating
// spec operations: a name already known locally first gets its new spec
// pushed to the owning deputy, a fresh name is inserted locally, then the
// actual remote call is issued. A local insert deliberately survives a
// failed remote call; the sentinel status records what went wrong.
// Deputies are resolved under the lock but called outside it, so a slow
// deputy cannot stall every other sheriff operation.
func (s *Sheriff) registerAndForward(rec record.Record, op remoteOp) error {
	ctx, cancel := s.callCtx()
	defer cancel()

	s.mu.RLock()
	prev, exists := s.mirror[rec.Name]
	var prevClient *client.Client
	if exists {
		if owner, ok := s.deputies[prev.Host]; ok {
			prevClient = owner.client
		}
	}
	s.mu.RUnlock()

	if exists {
		if prevClient == nil {
			return fmt.Errorf("%w: %s", ErrDeputyNotFound, prev.Host)
		}
		// Avoid a double update (and double restart) when the corresponding
		// call below targets the same deputy with the same payload.
		if !(op == opUpdate && prev.Host == rec.Host) {
			if err := prevClient.UpdateProcess(ctx, rec.Name, rec.ToTransport()); err != nil {
				s.markMirror(rec, err)
				return fmt.Errorf("push spec for %q to %s: %w", rec.Name, prev.Host, err)
			}
		}
	}

	s.mu.Lock()
	s.mirror[rec.Name] = rec.Clone()
	entry, ok := s.deputies[rec.Host]
	if !ok {
		s.setMirrorStatusLocked(rec.Name, StatusDeputyNotFound)
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDeputyNotFound, rec.Host)
	}
	target := entry.client
	s.mu.Unlock()

	var err error
	switch op {
	case opAdd:
		err = target.AddProcess(ctx, rec.ToTransport())
	case opStart:
		err = target.StartProcess(ctx, rec.ToTransport())
	case opUpdate:
		err = target.UpdateProcess(ctx, rec.Name, rec.ToTransport())
	}
	if err != nil {
		s.markMirror(rec, err)
		return fmt.Errorf("forward %q to %s: %w", rec.Name, rec.Host, err)
	}
	s.logger.Info("process forwarded", "name", rec.Name, "host", rec.Host)
	return nil
}

// markMirror distinguishes a deputy that answered with an error from one
// that could not be reached at all; only the latter earns the sentinel.
func (s *Sheriff) markMirror(rec record.Record, err error) {
	var se *client.StatusError
	if errors.As(err, &se) {
		return
	}
	s.mu.Lock()
	s.setMirrorStatusLocked(rec.Name, StatusDeputyNotResponding)
	s.mu.Unlock()
}

func (s *Sheriff) setMirrorStatusLocked(name, status string) {
	if r, ok := s.mirror[name]; ok {
		r.Status = status
		s.mirror[name] = r
	}
}

// StopProcess stops the named process on its owning deputy.
func (s *Sheriff) StopProcess(name string) error {
	return s.forwardByName(name, func(ctx context.Context, c *client.Client) error {
		return c.StopProcess(ctx, name)
	})
}

// RestartProcess restarts the named process on its owning deputy.
func (s *Sheriff) RestartProcess(name string) error {
	return s.forwardByName(name, func(ctx context.Context, c *client.Client) error {
		return c.RestartProcess(ctx, name)
	})
}

// DeleteProcess removes the process remotely; the local record is dropped
// only once the deputy confirms.
func (s *Sheriff) DeleteProcess(name string) error {
	err := s.forwardByName(name, func(ctx context.Context, c *client.Client) error {
		return c.DeleteProcess(ctx, name)
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.mirror, name)
	s.mu.Unlock()
	return nil
}

func (s *Sheriff) forwardByName(name string, call func(context.Context, *client.Client) error) error {
	ctx, cancel := s.callCtx()
	defer cancel()

	s.mu.RLock()
	rec, ok := s.mirror[name]
	var entry *deputyEntry
	if ok {
		entry = s.deputies[rec.Host]
	}
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrProcessNotFound, name)
	}
	if entry == nil {
		return fmt.Errorf("%w: %s", ErrDeputyNotFound, rec.Host)
	}
	if err := call(ctx, entry.client); err != nil {
		s.markMirror(rec, err)
		return fmt.Errorf("forward %q to %s: %w", name, rec.Host, err)
	}
	return nil
}

// ProcessInfo fetches a fresh snapshot of the named process from its deputy.
func (s *Sheriff) ProcessInfo(name string) (record.Record, error) {
	s.mu.RLock()
	rec, ok := s.mirror[name]
	var entry *deputyEntry
	if ok {
		entry = s.deputies[rec.Host]
	}
	s.mu.RUnlock()

	if !ok {
		return record.Record{}, fmt.Errorf("%w: %s", ErrProcessNotFound, name)
	}
	if entry == nil {
		return record.Record{}, fmt.Errorf("%w: %s", ErrDeputyNotFound, rec.Host)
	}

	ctx, cancel := s.callCtx()
	defer cancel()
	t, err := entry.client.Process(ctx, name)
	if err != nil {
		return record.Record{}, fmt.Errorf("fetch %q from %s: %w", name, rec.Host, err)
	}
	return record.FromTransport(t), nil
}

// AllProcesses queries every registered deputy and concatenates the
// results. A deputy that errors contributes nothing.
func (s *Sheriff) AllProcesses() []record.Record {
	type target struct {
		hostname string
		client   *client.Client
	}
	s.mu.RLock()
	targets := make([]target, 0, len(s.deputies))
	for hostname, e := range s.deputies {
		targets = append(targets, target{hostname: hostname, client: e.client})
	}
	s.mu.RUnlock()
	sort.Slice(targets, func(i, j int) bool { return targets[i].hostname < targets[j].hostname })

	var out []record.Record
	for _, tg := range targets {
		ctx, cancel := s.callCtx()
		ts, err := tg.client.Processes(ctx)
		cancel()
		if err != nil {
			s.logger.Warn("deputy query failed", "hostname", tg.hostname, "error", err)
			continue
		}
		for _, t := range ts {
			out = append(out, record.FromTransport(t))
		}
	}
	return out
}

// DeputyStatus probes every registered deputy's health endpoint and
// classifies each one.
func (s *Sheriff) DeputyStatus() []DeputyHealth {
	type target struct {
		hostname string
		url      string
		client   *client.Client
	}
	s.mu.RLock()
	targets := make([]target, 0, len(s.deputies))
	for hostname, e := range s.deputies {
		targets = append(targets, target{hostname: hostname, url: e.url, client: e.client})
	}
	s.mu.RUnlock()
	sort.Slice(targets, func(i, j int) bool { return targets[i].hostname < targets[j].hostname })

	out := make([]DeputyHealth, 0, len(targets))
	for _, tg := range targets {
		dh := DeputyHealth{Hostname: tg.hostname, URL: tg.url}
		ctx, cancel := s.callCtx()
		h, err := tg.client.Health(ctx)
		cancel()
		switch {
		case err == nil:
			dh.Status = "healthy"
			dh.CPUPercent = h.CPUPercent
			dh.MemoryPercent = h.MemoryPercent
			dh.DiskPercent = h.DiskPercent
		default:
			var se *client.StatusError
			if errors.As(err, &se) {
				dh.Status = fmt.Sprintf("unhealthy (status: %d)", se.Code)
			} else {
				dh.Status = fmt.Sprintf("unreachable (%v)", err)
			}
		}
		metrics.SetDeputyUp(tg.hostname, dh.Status == "healthy")
		out = append(out, dh)
	}
	return out
}

// Processes returns the current mirror contents, sorted by name.
func (s *Sheriff) Processes() []record.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]record.Record, 0, len(s.mirror))
	for _, rec := range s.mirror {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PollOnce refreshes the mirror from every deputy. Records are upserted by
// name, so two deputies reporting the same name leave the later one.
func (s *Sheriff) PollOnce() {
	recs := s.AllProcesses()
	s.mu.Lock()
	for _, r := range recs {
		s.mirror[r.Name] = r
	}
	s.mu.Unlock()
	metrics.IncPollTick()
}

// StartPolling launches the background poll loop. It is a no-op when the
// loop already runs.
func (s *Sheriff) StartPolling(interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	s.mu.Lock()
	if s.pollStop != nil {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	s.pollStop, s.pollDone = stop, done
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.PollOnce()
			}
		}
	}()
}

// StopPolling stops the poll loop, blocking until the in-flight iteration
// (including its deputy calls) completes.
func (s *Sheriff) StopPolling() {
	s.mu.Lock()
	stop, done := s.pollStop, s.pollDone
	s.pollStop, s.pollDone = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}
