package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/mattn/go-isatty"

	"github.com/mumutools/mumuctl/internal/cache"
	"github.com/mumutools/mumuctl/internal/config"
	"github.com/mumutools/mumuctl/internal/dashboard"
	"github.com/mumutools/mumuctl/internal/instance"
	"github.com/mumutools/mumuctl/internal/manager"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// CLI is the top-level command structure for mumuctl.
type CLI struct {
	Version kong.VersionFlag `help:"Show version." short:"V"`
	Debug   bool             `help:"Enable debug logging." default:"false"`

	List     ListCmd     `cmd:"" help:"List instances."`
	Watch    WatchCmd    `cmd:"" help:"Open the live instance dashboard."`
	Launch   LaunchCmd   `cmd:"" help:"Launch instances."`
	Shutdown ShutdownCmd `cmd:"" help:"Shut down instances."`
	Create   CreateCmd   `cmd:"" help:"Create new instances."`
	Clone    CloneCmd    `cmd:"" help:"Clone an instance."`
	Remove   RemoveCmd   `cmd:"" help:"Delete instances."`
	Rename   RenameCmd   `cmd:"" help:"Rename an instance."`
	Adb      AdbCmd      `cmd:"" help:"Run an adb command on instances."`
}

// loadConfig loads layered config from user and project paths with env overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadLayered(
		os.ExpandEnv("$HOME/.config/mumuctl/config.yaml"),
		".mumuctl.yaml",
	)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds a logfmt logger on stderr, filtered to info unless
// debug is set.
func newLogger(debug bool) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	if debug {
		logger = level.NewFilter(logger, level.AllowDebug())
	} else {
		logger = level.NewFilter(logger, level.AllowInfo())
	}
	return log.With(logger, "ts", log.DefaultTimestampUTC)
}

// newManager builds a Manager from config, auto-detecting the
// executable when no path is configured.
func newManager(cfg *config.Config, logger log.Logger) (*manager.Manager, error) {
	path := cfg.Manager.Path
	if path == "" {
		detected, err := manager.DetectPath()
		if err != nil {
			return nil, err
		}
		path = detected
	}
	return manager.New(path,
		manager.WithTimeout(cfg.Manager.Timeout),
		manager.WithLogger(logger),
	), nil
}

// signalContext returns a context cancelled by Ctrl+C.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// --- list ---

// ListCmd prints a one-shot instance table. It always fetches fresh
// data; the cache only pays off for long-lived consumers like watch.
type ListCmd struct{}

// snapshotFetcher abstracts the snapshot source for testing.
type snapshotFetcher interface {
	FetchAll(ctx context.Context) (map[int]instance.Snapshot, error)
}

// Run executes the list command.
func (l *ListCmd) Run(cli *CLI) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("list: %w", err)
	}

	mgr, err := newManager(cfg, newLogger(cli.Debug))
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}

	ctx, stop := signalContext()
	defer stop()

	return l.run(ctx, os.Stdout, mgr)
}

// run fetches and prints the table, enabling testable wiring.
func (l *ListCmd) run(ctx context.Context, w io.Writer, src snapshotFetcher) error {
	snaps, err := src.FetchAll(ctx)
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}

	if len(snaps) == 0 {
		_, _ = fmt.Fprintln(w, "no instances")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "IDX\tNAME\tSTATUS\tCPU\tMEM\tDISK\tRUN")
	for _, idx := range instance.SortedIndices(snaps) {
		s := snaps[idx]
		run := "-"
		if s.Running {
			run = "yes"
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.Index, s.Name, s.Status, s.CPU, s.Memory, s.DiskUsage, run)
	}
	return tw.Flush()
}

// --- watch ---

// WatchCmd opens the live dashboard TUI with auto-refresh.
type WatchCmd struct {
	Interval time.Duration `help:"Auto-refresh interval." default:"3s"`
}

// teaRunner abstracts Bubble Tea program execution for testing.
type teaRunner interface {
	Run() (tea.Model, error)
	Send(msg tea.Msg)
}

// Run builds real dependencies and launches the dashboard.
func (wc *WatchCmd) Run(cli *CLI) error {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return fmt.Errorf("watch: requires a terminal (TTY)")
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	if wc.Interval > 0 {
		cfg.Refresh.Interval = wc.Interval
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	logger := newLogger(cli.Debug)
	mgr, err := newManager(cfg, logger)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	store := cache.NewStore()
	hub := cache.NewHub(logger)
	refresher := cache.NewRefresher(mgr, store, hub,
		cache.WithLogger(logger),
		cache.WithFields(cfg.Refresh.Fields),
		cache.WithFetchTimeout(cfg.Manager.Timeout),
	)

	bridge := dashboard.NewBridge()
	token := hub.Subscribe(func(res cache.Result) {
		snaps, _ := store.GetAll(time.Hour)
		bridge.Send(dashboard.ChangesMsg{Diff: res, Snaps: snaps})
	})
	defer hub.Unsubscribe(token)

	m := dashboard.NewModel(
		dashboard.WithRefresher(refresher),
		dashboard.WithReader(store),
		dashboard.WithController(mgr),
		dashboard.WithHighlightFor(cfg.Dashboard.HighlightFor),
	)

	prog := tea.NewProgram(m, tea.WithAltScreen())
	return wc.run(prog, refresher, bridge, cfg.Refresh.Interval)
}

// run wires the bridge forwarder and auto-refresh around the tea
// program, enabling testable wiring.
func (wc *WatchCmd) run(prog teaRunner, refresher *cache.Refresher, bridge *dashboard.Bridge, interval time.Duration) error {
	if err := refresher.Start(interval); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer func() { _ = refresher.Stop() }()

	// Forward cache notifications into the program until the bridge
	// closes.
	fwdDone := make(chan struct{})
	go func() {
		defer close(fwdDone)
		for msg := range bridge.Events() {
			prog.Send(msg)
		}
	}()

	_, err := prog.Run()
	bridge.Close()
	<-fwdDone
	return err
}

// --- control commands ---

// controlOps abstracts manager control operations for testing.
type controlOps interface {
	Control(ctx context.Context, indices []int, action string) error
	Create(ctx context.Context, count int) error
	Clone(ctx context.Context, source, count int) error
	Remove(ctx context.Context, indices []int) error
	Rename(ctx context.Context, index int, name string) error
	ADB(ctx context.Context, indices []int, command string) (string, error)
}

// buildManager loads config and constructs the manager for a control command.
func buildManager(cli *CLI, scope string) (*manager.Manager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", scope, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", scope, err)
	}
	mgr, err := newManager(cfg, newLogger(cli.Debug))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", scope, err)
	}
	return mgr, nil
}

// LaunchCmd launches instances by index.
type LaunchCmd struct {
	Indices []int `arg:"" help:"Instance indices to launch."`
}

// Run executes the launch command.
func (c *LaunchCmd) Run(cli *CLI) error {
	mgr, err := buildManager(cli, "launch")
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()
	return runControl(ctx, os.Stdout, mgr, c.Indices, "launch")
}

// ShutdownCmd shuts down instances by index.
type ShutdownCmd struct {
	Indices []int `arg:"" help:"Instance indices to shut down."`
}

// Run executes the shutdown command.
func (c *ShutdownCmd) Run(cli *CLI) error {
	mgr, err := buildManager(cli, "shutdown")
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()
	return runControl(ctx, os.Stdout, mgr, c.Indices, "shutdown")
}

// runControl applies an action and reports the result.
func runControl(ctx context.Context, w io.Writer, ops controlOps, indices []int, action string) error {
	if err := ops.Control(ctx, indices, action); err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	_, _ = fmt.Fprintf(w, "%s requested for %d instance(s)\n", action, len(indices))
	return nil
}

// CreateCmd creates new instances.
type CreateCmd struct {
	Count int `help:"Number of instances to create." default:"1"`
}

// Run executes the create command.
func (c *CreateCmd) Run(cli *CLI) error {
	mgr, err := buildManager(cli, "create")
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()
	return c.run(ctx, os.Stdout, mgr)
}

func (c *CreateCmd) run(ctx context.Context, w io.Writer, ops controlOps) error {
	if err := ops.Create(ctx, c.Count); err != nil {
		return fmt.Errorf("create: %w", err)
	}
	_, _ = fmt.Fprintf(w, "created %d instance(s)\n", c.Count)
	return nil
}

// CloneCmd clones an instance.
type CloneCmd struct {
	Index int `arg:"" help:"Source instance index."`
	Count int `help:"Number of clones." default:"1"`
}

// Run executes the clone command.
func (c *CloneCmd) Run(cli *CLI) error {
	mgr, err := buildManager(cli, "clone")
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()
	return c.run(ctx, os.Stdout, mgr)
}

func (c *CloneCmd) run(ctx context.Context, w io.Writer, ops controlOps) error {
	if err := ops.Clone(ctx, c.Index, c.Count); err != nil {
		return fmt.Errorf("clone: %w", err)
	}
	_, _ = fmt.Fprintf(w, "cloned instance %d ×%d\n", c.Index, c.Count)
	return nil
}

// RemoveCmd deletes instances.
type RemoveCmd struct {
	Indices []int `arg:"" help:"Instance indices to delete."`
}

// Run executes the remove command.
func (c *RemoveCmd) Run(cli *CLI) error {
	mgr, err := buildManager(cli, "remove")
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()
	return c.run(ctx, os.Stdout, mgr)
}

func (c *RemoveCmd) run(ctx context.Context, w io.Writer, ops controlOps) error {
	if err := ops.Remove(ctx, c.Indices); err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	_, _ = fmt.Fprintf(w, "deleted %d instance(s)\n", len(c.Indices))
	return nil
}

// RenameCmd renames an instance.
type RenameCmd struct {
	Index int    `arg:"" help:"Instance index."`
	Name  string `arg:"" help:"New display name."`
}

// Run executes the rename command.
func (c *RenameCmd) Run(cli *CLI) error {
	mgr, err := buildManager(cli, "rename")
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()
	return c.run(ctx, os.Stdout, mgr)
}

func (c *RenameCmd) run(ctx context.Context, w io.Writer, ops controlOps) error {
	if err := ops.Rename(ctx, c.Index, c.Name); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	_, _ = fmt.Fprintf(w, "renamed instance %d to %q\n", c.Index, c.Name)
	return nil
}

// AdbCmd runs an adb command against instances.
type AdbCmd struct {
	Indices []int  `arg:"" help:"Instance indices."`
	Command string `help:"adb command to run." required:""`
}

// Run executes the adb command.
func (c *AdbCmd) Run(cli *CLI) error {
	mgr, err := buildManager(cli, "adb")
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()
	return c.run(ctx, os.Stdout, mgr)
}

func (c *AdbCmd) run(ctx context.Context, w io.Writer, ops controlOps) error {
	out, err := c.runOut(ctx, ops)
	if err != nil {
		return err
	}
	if out != "" {
		_, _ = fmt.Fprintln(w, out)
	}
	return nil
}

func (c *AdbCmd) runOut(ctx context.Context, ops controlOps) (string, error) {
	out, err := ops.ADB(ctx, c.Indices, c.Command)
	if err != nil {
		return "", fmt.Errorf("adb: %w", err)
	}
	return out, nil
}

// Exit codes.
const (
	exitSuccess = 0
	exitRuntime = 1
	exitSetup   = 2
)

// exitCode maps an error to the appropriate exit code. Missing
// executable and config problems are setup failures.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	if errors.Is(err, manager.ErrNotFound) {
		return exitSetup
	}
	return exitRuntime
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli, kong.Vars{"version": version + " " + commit + " " + date})
	err := ctx.Run(&cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(exitCode(err))
	}
}
