package record

import (
	"math"
	"time"
)

// Process status values reported by a deputy. An exec or spawn error is
// reported as "error: <message>" via ErrorStatus.
const (
	StatusStopped = "stopped"
	StatusRunning = "running"
	StatusDied    = "died"
)

// ErrorStatus formats a spawn/exec failure into the status field.
func ErrorStatus(msg string) string { return "error: " + msg }

// BufferCap is the maximum number of captured output lines retained per
// stream. Appending beyond the cap evicts the oldest line.
const BufferCap = 1000

// OutputBuffer is a bounded FIFO of captured output lines plus a monotonic
// counter of every line ever appended (independent of eviction).
type OutputBuffer struct {
	lines []string
	pos   int64
}

// Append adds a line, evicting the oldest when the buffer is full.
func (b *OutputBuffer) Append(line string) {
	if len(b.lines) >= BufferCap {
		copy(b.lines, b.lines[1:])
		b.lines[len(b.lines)-1] = line
	} else {
		b.lines = append(b.lines, line)
	}
	b.pos++
}

// Lines returns a copy of the retained lines in arrival order.
func (b *OutputBuffer) Lines() []string {
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

// Pos returns the total number of lines ever appended.
func (b *OutputBuffer) Pos() int64 { return b.pos }

// Len returns the number of retained lines.
func (b *OutputBuffer) Len() int { return len(b.lines) }

// Reset drops all retained lines and zeroes the position counter.
func (b *OutputBuffer) Reset() {
	b.lines = nil
	b.pos = 0
}

func restoreBuffer(lines []string, pos int64) OutputBuffer {
	b := OutputBuffer{pos: pos}
	if len(lines) > 0 {
		b.lines = make([]string, len(lines))
		copy(b.lines, lines)
	}
	return b
}

// Record describes one managed process: its spec, live status and captured
// output. It is a plain value; synchronization belongs to the owner.
type Record struct {
	Name          string
	Command       string
	WorkingDir    string
	Host          string
	Autostart     bool
	AutoRestart   bool
	PID           int // 0 unless running
	Status        string
	StartTime     time.Time // zero unless running
	CPUPercent    float64
	MemoryPercent float64
	Stdout        OutputBuffer
	Stderr        OutputBuffer
}

// AddOutput appends captured lines to the stdout/stderr buffers. A nil or
// empty slice for a stream is a no-op for that stream.
func (r *Record) AddOutput(stdout, stderr []string) {
	for _, line := range stdout {
		r.Stdout.Append(line)
	}
	for _, line := range stderr {
		r.Stderr.Append(line)
	}
}

// ClearLiveState resets everything that only holds while the process runs.
func (r *Record) ClearLiveState(status string) {
	r.Status = status
	r.PID = 0
	r.StartTime = time.Time{}
	r.CPUPercent = 0
	r.MemoryPercent = 0
}

// Clone returns a deep copy, including buffer contents.
func (r Record) Clone() Record {
	c := r
	c.Stdout = restoreBuffer(r.Stdout.lines, r.Stdout.pos)
	c.Stderr = restoreBuffer(r.Stderr.lines, r.Stderr.pos)
	return c
}

// Transport is the wire representation of a Record. start_time travels as
// unix seconds (fractional) and pid as null when the process is not running,
// matching the deputy JSON surface. uptime is derived on encode and ignored
// on decode.
type Transport struct {
	Name          string   `json:"name"`
	Command       string   `json:"command"`
	WorkingDir    string   `json:"working_dir"`
	Host          string   `json:"host"`
	Autostart     bool     `json:"autostart"`
	AutoRestart   bool     `json:"auto_restart"`
	PID           *int     `json:"pid"`
	CPUPercent    float64  `json:"cpu_percent"`
	MemoryPercent float64  `json:"memory_percent"`
	Status        string   `json:"status"`
	StartTime     *float64 `json:"start_time"`
	Uptime        float64  `json:"uptime"`
	Stdout        []string `json:"stdout"`
	Stderr        []string `json:"stderr"`
	LastStdoutPos int64    `json:"last_stdout_pos"`
	LastStderrPos int64    `json:"last_stderr_pos"`
}

// ToTransport converts the record to its wire shape, deriving uptime from
// the start time.
func (r Record) ToTransport() Transport {
	t := Transport{
		Name:          r.Name,
		Command:       r.Command,
		WorkingDir:    r.WorkingDir,
		Host:          r.Host,
		Autostart:     r.Autostart,
		AutoRestart:   r.AutoRestart,
		CPUPercent:    r.CPUPercent,
		MemoryPercent: r.MemoryPercent,
		Status:        r.Status,
		Stdout:        r.Stdout.Lines(),
		Stderr:        r.Stderr.Lines(),
		LastStdoutPos: r.Stdout.Pos(),
		LastStderrPos: r.Stderr.Pos(),
	}
	if r.PID != 0 {
		pid := r.PID
		t.PID = &pid
	}
	if !r.StartTime.IsZero() {
		ts := unixSeconds(r.StartTime)
		t.StartTime = &ts
		t.Uptime = time.Since(r.StartTime).Seconds()
	}
	return t
}

// FromTransport rebuilds a Record from its wire shape. Missing optional
// fields take their documented defaults.
func FromTransport(t Transport) Record {
	r := Record{
		Name:          t.Name,
		Command:       t.Command,
		WorkingDir:    t.WorkingDir,
		Host:          t.Host,
		Autostart:     t.Autostart,
		AutoRestart:   t.AutoRestart,
		CPUPercent:    t.CPUPercent,
		MemoryPercent: t.MemoryPercent,
		Status:        t.Status,
		Stdout:        restoreBuffer(t.Stdout, t.LastStdoutPos),
		Stderr:        restoreBuffer(t.Stderr, t.LastStderrPos),
	}
	if r.Status == "" {
		r.Status = StatusStopped
	}
	if r.Host == "" {
		r.Host = "localhost"
	}
	if t.PID != nil {
		r.PID = *t.PID
	}
	if t.StartTime != nil {
		r.StartTime = fromUnixSeconds(*t.StartTime)
	}
	return r
}

func unixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

func fromUnixSeconds(v float64) time.Time {
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9)))
}
