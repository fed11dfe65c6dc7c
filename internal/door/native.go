package door

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/creack/pty"
	"golang.org/x/term"

	"github.com/stlalpha/doornode/internal/terminalio"
)

// outputDrainTimeout bounds how long a finished door's remaining pty output
// is read before completion is reported.
const outputDrainTimeout = 500 * time.Millisecond

func (r *Runner) launchNative() error {
	args := []string{strconv.Itoa(r.node)}
	name := r.entry.DoorCmd
	if r.env.NativeWrapper != "" {
		args = append([]string{r.entry.DoorCmd}, args...)
		name = r.env.NativeWrapper
	}
	log.Printf("INFO: Node %d: Launching native door: %s", r.node, r.entry.Title())

	cmd := exec.Command(name, args...)
	cmd.Dir = r.dropDir
	cmd.Env = append(os.Environ(), "TERM=ansi")

	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return fmt.Errorf("door destroyed before launch")
	}
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 25, Cols: 80})
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("failed to start pty: %w", err)
	}
	if _, err := term.MakeRaw(int(ptmx.Fd())); err != nil {
		log.Printf("WARN: Node %d: Failed to set pty raw mode: %v", r.node, err)
	}
	r.cmd = cmd
	r.ptmx = ptmx
	r.active.Store(true)
	r.mu.Unlock()

	transcoder := terminalio.NewCP437Transcoder(func(ch rune) {
		log.Printf("WARN: Node %d: Character %q (U+%04X) not found in CP437 table", r.node, ch, ch)
	})
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		buf := make([]byte, 4096)
		for {
			n, err := ptmx.Read(buf)
			if n > 0 {
				r.forwardOutput(transcoder.Transcode(buf[:n]))
			}
			if err != nil {
				return
			}
		}
	}()

	go func() {
		r.wait(cmd)
		// Output written before exit may still be buffered in the pty.
		select {
		case <-readDone:
		case <-time.After(outputDrainTimeout):
			log.Printf("WARN: Node %d: Timed out draining door output", r.node)
		}
		r.active.Store(false)
		r.removeDropFile()
		r.finish()

		r.mu.Lock()
		r.ptmx = nil
		r.mu.Unlock()
		ptmx.Close()
	}()
	return nil
}

// forwardOutput writes transcoded door output unless the door has ended.
func (r *Runner) forwardOutput(p []byte) {
	if !r.active.Load() {
		log.Printf("WARN: Node %d: Dropped %d byte(s) of output after door exit", r.node, len(p))
		return
	}
	r.host.Write(p)
}
