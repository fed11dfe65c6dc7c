package maintenance

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/stlalpha/doornode/internal/door"
)

// Sweeper removes drop files left in per-node directories by sessions that
// are no longer connected, e.g. after a crash or a killed emulator.
type Sweeper struct {
	DrivePath string
	// LiveNodes returns the node ids currently held by sessions.
	LiveNodes func() []int
}

// SweepStaleDropFiles deletes drop files under drive/nodes/node<N> for
// every N without a live session and returns the removed paths.
func (sw Sweeper) SweepStaleDropFiles() ([]string, error) {
	nodesDir := filepath.Join(sw.DrivePath, "nodes")
	entries, err := os.ReadDir(nodesDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var live []int
	if sw.LiveNodes != nil {
		live = sw.LiveNodes()
	}

	var removed []string
	for _, entry := range entries {
		node, ok := nodeNumber(entry)
		if !ok || lo.Contains(live, node) {
			continue
		}
		dir := filepath.Join(nodesDir, entry.Name())
		for _, df := range door.DropFiles() {
			path := df.Path(dir)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			if err := df.Remove(dir); err != nil {
				log.Printf("WARN: Maintenance: %v", err)
				continue
			}
			log.Printf("INFO: Maintenance: Removed stale %s for node %d", df.FileName, node)
			removed = append(removed, path)
		}
	}
	return removed, nil
}

func nodeNumber(entry os.DirEntry) (int, bool) {
	if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "node") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(entry.Name(), "node"))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
