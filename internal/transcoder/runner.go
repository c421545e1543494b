package transcoder

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/songforge/songforge/internal/models"
)

// stderrTailLines bounds the stderr ring buffer kept for error reports.
const stderrTailLines = 50

// progressRe matches the transcoder's stderr stats line,
// e.g. "size= 1024kB time=00:01:23.45 bitrate= 128.0kbits/s".
var progressRe = regexp.MustCompile(`time=(\d+):(\d+):(\d+)\.(\d+)`)

// fatalStderrPatterns mark invocations that will fail identically on retry.
var fatalStderrPatterns = []string{
	"Unrecognized option",
	"Unknown encoder",
	"Unknown decoder",
	"No such filter",
	"Invalid argument",
	"Option not found",
}

// RunOptions controls a single transcoder invocation.
type RunOptions struct {
	// Timeout is the wall-clock budget. Zero means no timeout.
	Timeout time.Duration
	// Stdin, when set, is piped to the child's standard input.
	Stdin io.Reader
	// TotalDuration is the expected output duration in seconds, used to turn
	// parsed time= offsets into a percentage. Zero disables progress.
	TotalDuration float64
	// OnProgress receives percentage updates (0..100) as stats lines arrive.
	OnProgress func(percent int, message string)
}

// RunResult captures the outcome of a transcoder invocation.
type RunResult struct {
	Stdout     []byte
	StderrTail []string
	ExitCode   int
	Elapsed    time.Duration
}

// Runner executes transcoder commands with timeout, progress reporting, and
// resource monitoring.
type Runner struct {
	grace   time.Duration
	logger  *slog.Logger
	monitor *ProcessMonitor
}

// NewRunner creates a Runner. grace is the interrupt-to-kill window applied
// when a command times out or its context is cancelled.
func NewRunner(grace time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &Runner{
		grace:   grace,
		logger:  logger,
		monitor: NewProcessMonitor(logger),
	}
}

// Run executes the command and blocks until it exits, the timeout fires, or
// ctx is cancelled. Non-zero exits come back as TranscoderFailed with the
// stderr tail attached; timeouts as TimedOut.
func (r *Runner) Run(ctx context.Context, command *Command, opts RunOptions) (*RunResult, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.Command(command.Binary, command.Args...)
	if opts.Stdin != nil {
		cmd.Stdin = opts.Stdin
	}

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, models.NewClassifiedf(models.ErrClassInternalError, "creating stderr pipe: %v", err)
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, models.NewClassifiedf(models.ErrClassDependencyUnavailable,
				"transcoder binary %s not found", command.Binary)
		}
		return nil, models.NewClassifiedf(models.ErrClassDependencyUnavailable,
			"starting transcoder: %v", err)
	}

	r.logger.Debug("transcoder started",
		slog.Int("pid", cmd.Process.Pid),
		slog.String("command", command.String()),
	)
	stopMonitor := r.monitor.Watch(cmd.Process.Pid)
	defer stopMonitor()

	tail := newTailBuffer(stderrTailLines)
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		r.consumeStderr(stderrPipe, tail, opts)
	}()

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-waitDone:
	case <-runCtx.Done():
		timedOut = errors.Is(runCtx.Err(), context.DeadlineExceeded)
		r.terminate(cmd, waitDone)
		waitErr = runCtx.Err()
	}
	<-stderrDone

	elapsed := time.Since(started)
	result := &RunResult{
		Stdout:     stdout.Bytes(),
		StderrTail: tail.Lines(),
		ExitCode:   cmd.ProcessState.ExitCode(),
		Elapsed:    elapsed,
	}

	switch {
	case timedOut:
		return result, models.NewClassifiedf(models.ErrClassTimedOut,
			"transcoder exceeded %s budget", opts.Timeout)
	case waitErr != nil && runCtx.Err() != nil:
		// Parent cancellation (shutdown), not a job-level timeout.
		return result, runCtx.Err()
	case waitErr != nil:
		return result, r.exitError(result)
	}

	if opts.OnProgress != nil {
		opts.OnProgress(100, "done")
	}
	return result, nil
}

// terminate interrupts the child, waits for the grace period, then kills it.
func (r *Runner) terminate(cmd *exec.Cmd, waitDone <-chan error) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGINT)

	select {
	case <-waitDone:
		return
	case <-time.After(r.grace):
	}

	r.logger.Warn("transcoder ignored interrupt, killing",
		slog.Int("pid", cmd.Process.Pid),
	)
	_ = cmd.Process.Kill()
	<-waitDone
}

// exitError converts a non-zero exit into a classified error. Argument and
// codec errors are marked fatal so the job is not pointlessly retried.
func (r *Runner) exitError(result *RunResult) error {
	tail := strings.Join(result.StderrTail, "\n")
	err := models.NewClassifiedf(models.ErrClassTranscoderFailed,
		"transcoder exited %d: %s", result.ExitCode, lastLine(result.StderrTail))

	for _, pattern := range fatalStderrPatterns {
		if strings.Contains(tail, pattern) {
			err.Fatal = true
			break
		}
	}
	return err
}

// consumeStderr reads the child's stderr, keeping a tail for diagnostics and
// feeding parsed progress to the sink. Stats lines are terminated with \r, so
// the scanner splits on both \r and \n.
func (r *Runner) consumeStderr(pipe io.Reader, tail *tailBuffer, opts RunOptions) {
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(scanCRLines)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		tail.Add(line)

		if opts.OnProgress == nil || opts.TotalDuration <= 0 {
			continue
		}
		if secs, ok := parseProgressTime(line); ok {
			percent := int(secs / opts.TotalDuration * 100)
			if percent > 99 {
				percent = 99
			}
			opts.OnProgress(percent, line)
		}
	}
}

// parseProgressTime extracts the time= offset in seconds from a stats line.
func parseProgressTime(line string) (float64, bool) {
	m := progressRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	seconds, _ := strconv.Atoi(m[3])
	frac, _ := strconv.Atoi(m[4])

	total := float64(hours*3600+minutes*60+seconds) + float64(frac)/centisDivisor(len(m[4]))
	return total, true
}

func centisDivisor(digits int) float64 {
	d := 1.0
	for i := 0; i < digits; i++ {
		d *= 10
	}
	return d
}

// scanCRLines is a bufio.SplitFunc splitting on \n or \r.
func scanCRLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func lastLine(lines []string) string {
	if len(lines) == 0 {
		return "(no stderr)"
	}
	return lines[len(lines)-1]
}

// tailBuffer keeps the last n lines written to it.
type tailBuffer struct {
	lines []string
	max   int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Add(line string) {
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *tailBuffer) Lines() []string {
	return t.lines
}
