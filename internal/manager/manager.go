// Package manager invokes the MuMuManager executable and decodes its
// output into instance snapshots. It is the snapshot source behind
// the cache and also carries the instance control operations.
package manager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/mumutools/mumuctl/internal/instance"
)

// defaultTimeout is used when no timeout option is provided.
const defaultTimeout = 30 * time.Second

// maxBatchSize caps how many instances one control call may target.
const maxBatchSize = 100

// ErrNotFound indicates no MuMuManager executable could be located.
var ErrNotFound = errors.New("manager: MuMuManager executable not found")

// ExecError wraps a failed MuMuManager invocation.
type ExecError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *ExecError) Error() string {
	msg := fmt.Sprintf("manager: %s: %s", strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// TimeoutError indicates a MuMuManager invocation exceeded its time limit.
type TimeoutError struct {
	Args     []string
	Duration time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("manager: %s: timed out after %s", strings.Join(e.Args, " "), e.Duration)
}

// defaultPaths are the known MuMu Player install locations, probed in
// order by DetectPath.
var defaultPaths = []string{
	`C:\Program Files (x86)\Netease\MuMuPlayerGlobal-12.0\shell\MuMuManager.exe`,
	`C:\Program Files (x86)\Netease\MuMuPlayer-12.0\shell\MuMuManager.exe`,
	`C:\Program Files\Netease\MuMuPlayerGlobal-12.0\nx_main\MuMuManager.exe`,
	`C:\Program Files\Netease\MuMuPlayer-12.0\nx_main\MuMuManager.exe`,
}

// DetectPath probes the known install locations and returns the first
// existing MuMuManager executable.
func DetectPath() (string, error) {
	for _, p := range defaultPaths {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", ErrNotFound
}

// Manager runs MuMuManager commands as subprocesses.
type Manager struct {
	path    string
	timeout time.Duration
	logger  log.Logger
	runner  func(ctx context.Context, args []string) (string, error)
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout sets the per-command execution timeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithLogger sets the command logger.
func WithLogger(logger log.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithRunner replaces the subprocess runner, for tests.
func WithRunner(runner func(ctx context.Context, args []string) (string, error)) Option {
	return func(m *Manager) { m.runner = runner }
}

// New creates a Manager for the executable at path.
func New(path string, opts ...Option) *Manager {
	m := &Manager{
		path:    path,
		timeout: defaultTimeout,
		logger:  log.NewNopLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.runner == nil {
		m.runner = m.run
	}
	return m
}

// Valid reports whether the configured executable path exists.
func (m *Manager) Valid() bool {
	info, err := os.Stat(m.path)
	return err == nil && !info.IsDir()
}

// FetchAll returns the current snapshot of every instance.
func (m *Manager) FetchAll(ctx context.Context) (map[int]instance.Snapshot, error) {
	out, err := m.runner(ctx, []string{"info", "-v", "all"})
	if err != nil {
		return nil, err
	}
	return instance.ParseAll(out, m.now())
}

// FetchOne returns the current snapshot of a single instance.
func (m *Manager) FetchOne(ctx context.Context, index int) (instance.Snapshot, error) {
	if index < 0 {
		return instance.Snapshot{}, fmt.Errorf("manager: negative index %d", index)
	}
	out, err := m.runner(ctx, []string{"info", "-v", strconv.Itoa(index)})
	if err != nil {
		return instance.Snapshot{}, err
	}
	return instance.ParseOne(out, index, m.now())
}

// Version returns the MuMuManager version string.
func (m *Manager) Version(ctx context.Context) (string, error) {
	out, err := m.runner(ctx, []string{"--version"})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Control applies an action (launch, shutdown, restart) to instances.
func (m *Manager) Control(ctx context.Context, indices []int, action string) error {
	if action == "" {
		return errors.New("manager: action cannot be empty")
	}
	if err := validateIndices(indices); err != nil {
		return err
	}
	_, err := m.runner(ctx, append([]string{"control", "-v", joinIndices(indices)}, action))
	return err
}

// Create creates count new instances.
func (m *Manager) Create(ctx context.Context, count int) error {
	if count < 1 {
		return fmt.Errorf("manager: create count must be positive, got %d", count)
	}
	_, err := m.runner(ctx, []string{"create", "-n", strconv.Itoa(count)})
	return err
}

// Clone clones the source instance count times.
func (m *Manager) Clone(ctx context.Context, source, count int) error {
	if source < 0 {
		return fmt.Errorf("manager: negative index %d", source)
	}
	if count < 1 {
		return fmt.Errorf("manager: clone count must be positive, got %d", count)
	}
	_, err := m.runner(ctx, []string{"clone", "-v", strconv.Itoa(source), "-n", strconv.Itoa(count)})
	return err
}

// Remove deletes the given instances.
func (m *Manager) Remove(ctx context.Context, indices []int) error {
	if err := validateIndices(indices); err != nil {
		return err
	}
	_, err := m.runner(ctx, []string{"delete", "-v", joinIndices(indices)})
	return err
}

// Rename sets a new display name for one instance.
func (m *Manager) Rename(ctx context.Context, index int, name string) error {
	if index < 0 {
		return fmt.Errorf("manager: negative index %d", index)
	}
	if strings.TrimSpace(name) == "" {
		return errors.New("manager: name cannot be empty")
	}
	_, err := m.runner(ctx, []string{"rename", "-v", strconv.Itoa(index), "-n", name})
	return err
}

// ADB runs an adb shell command against the given instances and
// returns its combined output.
func (m *Manager) ADB(ctx context.Context, indices []int, command string) (string, error) {
	if err := validateIndices(indices); err != nil {
		return "", err
	}
	if strings.TrimSpace(command) == "" {
		return "", errors.New("manager: adb command cannot be empty")
	}
	args := append([]string{"adb", "-v", joinIndices(indices), "-c"}, strings.Fields(command)...)
	return m.runner(ctx, args)
}

// run executes one MuMuManager command, capturing stdout. Stderr is
// folded into the error on failure.
func (m *Manager) run(ctx context.Context, args []string) (string, error) {
	if !m.Valid() {
		return "", ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, m.path, args...)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	_ = level.Debug(m.logger).Log("msg", "command finished", "args", strings.Join(args, " "), "took", time.Since(start), "err", err)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", &TimeoutError{Args: args, Duration: m.timeout}
		}
		return "", &ExecError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return stdout.String(), nil
}

// validateIndices checks a control batch for emptiness, negative
// indices, and the batch size cap.
func validateIndices(indices []int) error {
	if len(indices) == 0 {
		return errors.New("manager: no instances selected")
	}
	if len(indices) > maxBatchSize {
		return fmt.Errorf("manager: too many instances selected (max %d)", maxBatchSize)
	}
	for _, idx := range indices {
		if idx < 0 {
			return fmt.Errorf("manager: negative index %d", idx)
		}
	}
	return nil
}

// joinIndices renders an index list as the comma-separated form the
// CLI expects.
func joinIndices(indices []int) string {
	parts := make([]string, len(indices))
	for i, idx := range indices {
		parts[i] = strconv.Itoa(idx)
	}
	return strings.Join(parts, ",")
}
