package door

import (
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/stlalpha/doornode/internal/metrics"
)

const bridgeDialTimeout = 2 * time.Second

// BridgePort is the nullmodem TCP port the emulator opens for node.
func (e Environment) BridgePort(node int) int {
	return e.BasePort + node
}

func (r *Runner) launchEmulated() error {
	port := r.env.BridgePort(r.node)
	if _, err := ensureNodeConfig(r.env.ConfigPath, r.node, port); err != nil {
		return err
	}

	args := []string{
		filepath.Join(r.env.DrivePath, "bin", "exit.bat"),
		"-c", r.entry.DoorCmd,
		"-conf", NodeConfigName(r.node),
		"-exit",
	}
	log.Printf("INFO: Node %d: Starting DOSBox with options: %v", r.node, args)

	cmd := exec.Command(r.env.EmulatorPath, args...)
	cmd.Dir = r.env.ConfigPath
	cmd.Env = os.Environ()
	if r.env.Headless {
		cmd.Env = append(cmd.Env, "SDL_VIDEODRIVER=dummy")
	}

	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return fmt.Errorf("door destroyed before launch")
	}
	if err := cmd.Start(); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("failed to start DOSBox: %w", err)
	}
	r.cmd = cmd
	r.mu.Unlock()

	go func() {
		r.wait(cmd)
		r.removeDropFile()
		r.finish()
	}()

	log.Printf("INFO: Node %d: Waiting for DOSBox to initialize on port %d...", r.node, port)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	r.env.Retry.Run(r.ctx, func(attempt int) error {
		conn, err := net.DialTimeout("tcp", addr, bridgeDialTimeout)
		if err != nil {
			return err
		}
		if !r.attachBridge(conn) {
			conn.Close()
		}
		return nil
	}, func(err error) {
		log.Printf("ERROR: Node %d: Failed to connect to DOSBox on port %d after %d tries: %v",
			r.node, port, r.env.Retry.MaxAttempts, err)
		metrics.BridgeGiveUps.Inc()
		r.host.DoorAborted(r)
	})
	return nil
}

// attachBridge installs conn as the live bridge and starts relaying its
// output. It reports false if the runner was destroyed meanwhile.
func (r *Runner) attachBridge(conn net.Conn) bool {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return false
	}
	r.bridge = conn
	r.active.Store(true)
	r.mu.Unlock()

	log.Printf("INFO: Node %d: Bridge connected to %s", r.node, conn.RemoteAddr())
	go r.relayBridge(conn)
	return true
}

func (r *Runner) relayBridge(conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			r.host.Write(buf[:n])
		}
		if err != nil {
			if err != io.EOF && !r.isDestroyed() {
				log.Printf("WARN: Node %d: Bridge read error: %v", r.node, err)
			}
			break
		}
	}

	r.mu.Lock()
	if r.bridge == conn {
		r.bridge = nil
	}
	destroyed := r.destroyed
	r.mu.Unlock()
	r.active.Store(false)
	conn.Close()

	r.removeDropFile()
	if !destroyed {
		log.Printf("INFO: Node %d: Bridge closed by emulator", r.node)
		r.finish()
	}
}
