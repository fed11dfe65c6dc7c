package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/jsonc"
)

// DosboxConfig describes the emulator used by doors that do not run natively.
type DosboxConfig struct {
	DosboxPath string `json:"dosboxPath"` // Path to the dosbox executable
	ConfigPath string `json:"configPath"` // Directory holding dosbox.conf and the per-node dosbox<N>.conf files
	DrivePath  string `json:"drivePath"`  // Directory mounted as the emulated C: drive
	StartPort  int    `json:"startPort"`  // Nullmodem port for node N is StartPort+N
	Headless   bool   `json:"headless"`   // Launch with SDL_VIDEODRIVER=dummy
}

// DebugUserConfig is the profile given to sessions on the debug port.
type DebugUserConfig struct {
	Name     string `json:"name"`
	Module   string `json:"module"`
	Terminal string `json:"terminal"`
}

// SSHConfig controls the optional SSH listener for administrative sessions.
type SSHConfig struct {
	Enabled          bool   `json:"enabled"`
	Host             string `json:"host"`
	Port             int    `json:"port"`
	HostKeyPath      string `json:"hostKeyPath"` // Generated on first start when missing
	Password         string `json:"password"`
	LegacyAlgorithms bool   `json:"legacyAlgorithms,omitempty"`
}

// RetryConfig bounds the emulator bridge connection poll.
type RetryConfig struct {
	IntervalMs  int `json:"intervalMs"`
	MaxAttempts int `json:"maxAttempts"`
}

// Interval returns the poll interval as a duration.
func (r RetryConfig) Interval() time.Duration {
	return time.Duration(r.IntervalMs) * time.Millisecond
}

// ServerConfig defines server-wide settings loaded from config.json.
type ServerConfig struct {
	Host                string          `json:"host"`
	Port                int             `json:"port"`      // Rlogin listen port
	DebugPort           int             `json:"debugPort"` // Telnet port for the debug menu, 0 disables
	DebugUser           DebugUserConfig `json:"debugUser"`
	Dosbox              DosboxConfig    `json:"dosbox"`
	NativeWrapper       string          `json:"nativeWrapper,omitempty"` // Optional program native doors are launched through
	SSH                 SSHConfig       `json:"ssh"`
	LogPath             string          `json:"logPath"`
	AuditLogPath        string          `json:"auditLogPath"`
	MetricsAddr         string          `json:"metricsAddr,omitempty"`
	MaintenanceSchedule string          `json:"maintenanceSchedule"` // Cron syntax with seconds field
	BridgeRetry         RetryConfig     `json:"bridgeRetry"`
	Debug               bool            `json:"debug"`
}

// DefaultServerConfig returns the settings used when config.json is absent.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:      "0.0.0.0",
		Port:      3513,
		DebugPort: 3333,
		DebugUser: DebugUserConfig{
			Name:     "DebugUser",
			Module:   "Debug",
			Terminal: "ansi",
		},
		Dosbox: DosboxConfig{
			DosboxPath: "/usr/bin/dosbox",
			ConfigPath: "dosbox",
			DrivePath:  filepath.Join("dosbox", "drive"),
			StartPort:  10000,
			Headless:   true,
		},
		SSH: SSHConfig{
			Host: "0.0.0.0",
			Port: 2222,
		},
		LogPath:             filepath.Join("log", "doornode.log"),
		AuditLogPath:        filepath.Join("log", "doorserver.log"),
		MaintenanceSchedule: "0 */5 * * * *",
		BridgeRetry: RetryConfig{
			IntervalMs:  1000,
			MaxAttempts: 30,
		},
	}
}

// LoadServerConfig loads the server configuration from config.json in configPath.
func LoadServerConfig(configPath string) (ServerConfig, error) {
	filePath := filepath.Join(configPath, "config.json")
	log.Printf("INFO: Loading server configuration from %s", filePath)

	defaultConfig := DefaultServerConfig()

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("WARN: config.json not found at %s. Using default settings.", filePath)
			return defaultConfig, nil
		}
		return defaultConfig, fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	config := defaultConfig
	if err := json.Unmarshal(jsonc.ToJSON(data), &config); err != nil {
		return defaultConfig, fmt.Errorf("failed to parse config JSON from %s: %w", filePath, err)
	}
	config.fillDebugUser()

	log.Printf("INFO: Successfully loaded server configuration from %s", filePath)
	return config, nil
}

// fillDebugUser restores defaults for debug user fields an override left blank.
func (c *ServerConfig) fillDebugUser() {
	if c.DebugUser.Name == "" {
		c.DebugUser.Name = "DebugUser"
	}
	if c.DebugUser.Module == "" {
		c.DebugUser.Module = "Debug"
	}
	if c.DebugUser.Terminal == "" {
		c.DebugUser.Terminal = "ansi"
	}
}

// Validate reports the first missing mandatory setting.
func (c ServerConfig) Validate() error {
	switch {
	case c.Port <= 0:
		return fmt.Errorf("config.port not configured")
	case c.Dosbox.DosboxPath == "":
		return fmt.Errorf("config.dosbox.dosboxPath not configured")
	case c.Dosbox.ConfigPath == "":
		return fmt.Errorf("config.dosbox.configPath not configured")
	case c.Dosbox.DrivePath == "":
		return fmt.Errorf("config.dosbox.drivePath not configured")
	case c.Dosbox.StartPort <= 0:
		return fmt.Errorf("config.dosbox.startPort not specified")
	}
	if c.SSH.Enabled && c.SSH.Password == "" {
		return fmt.Errorf("config.ssh.password required when ssh is enabled")
	}
	return nil
}
