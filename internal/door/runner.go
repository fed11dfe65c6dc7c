// Package door runs external door programs for a session, either inside the
// DOS emulator with a TCP nullmodem bridge or natively inside a pty.
package door

import (
	"context"
	"log"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"

	"github.com/stlalpha/doornode/internal/config"
	"github.com/stlalpha/doornode/internal/metrics"
	"github.com/stlalpha/doornode/internal/retry"
)

// ErrInvalidDoorConfig is returned by NewRunner when a catalog entry cannot
// be launched as configured.
var ErrInvalidDoorConfig = errors.New("invalid door configuration")

// Host is the session a Runner writes to and reports back to.
type Host interface {
	NodeID() int
	UserName() string
	Write(p []byte)
	ClearScreen()
	// DoorFinished is called once when the door is done, however it ended.
	DoorFinished(r *Runner)
	// DoorAborted is called when the emulator bridge never came up.
	DoorAborted(r *Runner)
}

// AuditRecorder receives one record per door launch.
type AuditRecorder interface {
	Record(user, title, code string) error
}

// Environment is the server-wide launch configuration shared by all runners.
type Environment struct {
	EmulatorPath  string
	ConfigPath    string
	DrivePath     string
	BasePort      int
	Headless      bool
	NativeWrapper string
	Retry         retry.Poll
	Audit         AuditRecorder
}

// EnvironmentFromConfig builds the launch environment from server settings.
func EnvironmentFromConfig(cfg config.ServerConfig, audit AuditRecorder) Environment {
	return Environment{
		EmulatorPath:  cfg.Dosbox.DosboxPath,
		ConfigPath:    cfg.Dosbox.ConfigPath,
		DrivePath:     cfg.Dosbox.DrivePath,
		BasePort:      cfg.Dosbox.StartPort,
		Headless:      cfg.Dosbox.Headless,
		NativeWrapper: cfg.NativeWrapper,
		Retry: retry.Poll{
			Interval:    cfg.BridgeRetry.Interval(),
			MaxAttempts: cfg.BridgeRetry.MaxAttempts,
		},
		Audit: audit,
	}
}

// NodeDropDir is the per-node drop file directory used by multi-node doors.
func NodeDropDir(drivePath string, node int) string {
	return filepath.Join(drivePath, "nodes", "node"+strconv.Itoa(node))
}

// Runner is the module that owns one door process for one session.
type Runner struct {
	entry    config.DoorConfig
	host     Host
	env      Environment
	dropFile DropFile
	dropDir  string
	node     int

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	cmd       *exec.Cmd
	exited    bool
	bridge    net.Conn
	ptmx      *os.File
	destroyed bool

	active     *atomic.Bool
	finishOnce sync.Once
}

// NewRunner validates entry and prepares its drop file directory. Invalid
// entries return an error wrapping ErrInvalidDoorConfig.
func NewRunner(entry config.DoorConfig, host Host, env Environment) (*Runner, error) {
	if strings.TrimSpace(entry.DoorCmd) == "" {
		return nil, errors.Wrapf(ErrInvalidDoorConfig, "door %q: doorCmd not specified", entry.Code)
	}
	if entry.DropFileFormat == "" {
		return nil, errors.Wrapf(ErrInvalidDoorConfig, "door %q: dropFileFormat not specified", entry.Code)
	}
	dropFile, ok := LookupDropFile(entry.DropFileFormat)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidDoorConfig, "door %q: %s must be one of: %s",
			entry.Code, entry.DropFileFormat, strings.Join(FormatTags(), ","))
	}
	if !entry.MultiNode && entry.DropFileDir == "" {
		return nil, errors.Wrapf(ErrInvalidDoorConfig, "door %q: multiNode or dropFileDir must be specified", entry.Code)
	}

	node := host.NodeID()
	r := &Runner{
		entry:    entry,
		host:     host,
		env:      env,
		dropFile: dropFile,
		node:     node,
		active:   atomic.NewBool(false),
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())

	if entry.MultiNode {
		r.dropDir = NodeDropDir(env.DrivePath, node)
		if err := os.MkdirAll(r.dropDir, 0755); err != nil {
			return nil, errors.Wrapf(ErrInvalidDoorConfig, "door %q: cannot create node directory %s: %v", entry.Code, r.dropDir, err)
		}
	} else {
		r.dropDir = filepath.Join(env.DrivePath, entry.DropFileDir)
	}

	if entry.RemoveLockFile != "" {
		lockFile := filepath.Join(env.DrivePath, entry.RemoveLockFile)
		if err := os.Remove(lockFile); err == nil {
			log.Printf("INFO: Node %d: Removed lock file %s", node, lockFile)
		} else if !os.IsNotExist(err) {
			log.Printf("WARN: Node %d: Failed to remove lock file %s: %v", node, lockFile, err)
		}
	}

	return r, nil
}

// Entry returns the catalog entry this runner launches.
func (r *Runner) Entry() config.DoorConfig { return r.entry }

// DropDir returns the resolved drop file directory.
func (r *Runner) DropDir() string { return r.dropDir }

// Strategy names the execution strategy, "native" or "emulated".
func (r *Runner) Strategy() string {
	if r.entry.IsNative {
		return "native"
	}
	return "emulated"
}

// Render starts the door: drop file, audit record, then launch.
func (r *Runner) Render() {
	r.host.ClearScreen()

	info := DropInfo{Node: r.node, UserName: r.host.UserName()}
	if _, err := r.dropFile.Write(r.dropDir, info); err != nil {
		log.Printf("ERROR: Node %d: %v", r.node, err)
		r.finish()
		return
	}

	if r.env.Audit != nil {
		if err := r.env.Audit.Record(info.UserName, r.entry.GameTitle, r.entry.Code); err != nil {
			log.Printf("ERROR: Failed to write to audit log: %v", err)
		}
	}
	metrics.DoorLaunches.WithLabelValues(r.entry.Code, r.Strategy()).Inc()

	var err error
	if r.entry.IsNative {
		err = r.launchNative()
	} else {
		err = r.launchEmulated()
	}
	if err != nil {
		log.Printf("ERROR: Node %d: Failed to start door %s: %v", r.node, r.entry.Code, err)
		r.removeDropFile()
		r.finish()
	}
}

// Input forwards user bytes to the running door. Bytes are dropped while
// there is no bridge or pty to take them.
func (r *Runner) Input(data []byte) {
	if !r.active.Load() {
		return
	}
	r.mu.Lock()
	bridge, ptmx := r.bridge, r.ptmx
	r.mu.Unlock()

	var err error
	switch {
	case bridge != nil:
		_, err = bridge.Write(data)
	case ptmx != nil:
		_, err = ptmx.Write(data)
	default:
		return
	}
	if err != nil {
		log.Printf("WARN: Node %d: Door input write failed: %v", r.node, err)
	}
}

// Destroy stops the bridge, kills the process if it is still running and
// removes the drop file. Safe to call more than once and concurrently with the process exiting.
func (r *Runner) Destroy() {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	r.destroyed = true
	r.active.Store(false)
	r.cancel()

	bridge := r.bridge
	r.bridge = nil
	var proc *os.Process
	if r.cmd != nil && r.cmd.Process != nil && !r.exited {
		proc = r.cmd.Process
	}
	r.mu.Unlock()

	if bridge != nil {
		bridge.Close()
	}
	if proc != nil {
		if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			log.Printf("ERROR: Node %d: Failed to kill door process: %v", r.node, err)
		} else {
			log.Printf("INFO: Node %d: Door %s process terminated", r.node, r.entry.Code)
		}
	}
	r.removeDropFile()
}

// finish reports completion to the host exactly once. A destroyed runner
// has already been replaced and reports nothing.
func (r *Runner) finish() {
	if r.isDestroyed() {
		return
	}
	r.finishOnce.Do(func() {
		r.host.DoorFinished(r)
	})
}

func (r *Runner) isDestroyed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyed
}

func (r *Runner) removeDropFile() {
	if err := r.dropFile.Remove(r.dropDir); err != nil {
		log.Printf("WARN: Node %d: %v", r.node, err)
	}
}

// wait reaps the process, logs how it ended and marks it exited.
func (r *Runner) wait(cmd *exec.Cmd) {
	err := cmd.Wait()

	r.mu.Lock()
	r.exited = true
	r.mu.Unlock()

	code, sig := exitStatus(cmd, err)
	switch {
	case sig != "":
		log.Printf("WARN: Node %d: Door %s terminated by signal %s", r.node, r.entry.Code, sig)
	case code != 0:
		log.Printf("ERROR: Node %d: Door %s exited with non-zero code %d", r.node, r.entry.Code, code)
	default:
		log.Printf("INFO: Node %d: Door %s exited with code 0", r.node, r.entry.Code)
	}
}

func exitStatus(cmd *exec.Cmd, err error) (int, string) {
	if cmd.ProcessState == nil {
		if err != nil {
			return -1, ""
		}
		return 0, ""
	}
	if ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -1, ws.Signal().String()
	}
	return cmd.ProcessState.ExitCode(), ""
}
