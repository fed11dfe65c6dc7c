package door

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
)

var serialPortPattern = regexp.MustCompile(`port:\d+`)

// NodeConfigName is the per-node emulator config file name.
func NodeConfigName(node int) string {
	return "dosbox" + strconv.Itoa(node) + ".conf"
}

// ensureNodeConfig creates configDir/dosbox<node>.conf from dosbox.conf the
// first time a node is used. The nullmodem port is rewritten to port and a
// SET NODE line is appended for the batch files.
func ensureNodeConfig(configDir string, node, port int) (string, error) {
	nodeFile := filepath.Join(configDir, NodeConfigName(node))
	if _, err := os.Stat(nodeFile); err == nil {
		return nodeFile, nil
	}

	template, err := os.ReadFile(filepath.Join(configDir, "dosbox.conf"))
	if err != nil {
		return "", fmt.Errorf("failed to read emulator template: %w", err)
	}

	replaced := false
	content := serialPortPattern.ReplaceAllStringFunc(string(template), func(m string) string {
		if replaced {
			return m
		}
		replaced = true
		return "port:" + strconv.Itoa(port)
	})
	if !replaced {
		log.Printf("WARN: Node %d: dosbox.conf has no port: setting, bridge will not connect", node)
	}
	content += "\nSET NODE=" + strconv.Itoa(node) + "\n"

	if err := os.WriteFile(nodeFile, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", nodeFile, err)
	}
	log.Printf("INFO: Node %d: Created emulator config %s", node, nodeFile)
	return nodeFile, nil
}
