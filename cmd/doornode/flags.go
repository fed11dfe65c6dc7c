package main

import (
	"github.com/spf13/pflag"

	"github.com/stlalpha/doornode/internal/config"
)

// options are the command line settings. Port flags only override the
// config file when given explicitly.
type options struct {
	configDir string
	port      int
	debugPort int
	debug     bool
	console   bool
	logFile   string

	fs *pflag.FlagSet
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := pflag.NewFlagSet("doornode", pflag.ContinueOnError)
	fs.StringVar(&o.configDir, "config-dir", "configs", "directory holding config.json and doors.json")
	fs.IntVar(&o.port, "port", 0, "rlogin port (overrides config.json)")
	fs.IntVar(&o.debugPort, "debug-port", 0, "debug telnet port, 0 disables (overrides config.json)")
	fs.BoolVar(&o.debug, "debug", false, "enable debug logging")
	fs.BoolVar(&o.console, "console", false, "show the operator console on this terminal")
	fs.StringVar(&o.logFile, "log-file", "", "server log path (overrides config.json)")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	o.fs = fs
	return o, nil
}

// apply overlays explicitly set flags onto cfg.
func (o options) apply(cfg *config.ServerConfig) {
	if o.fs.Changed("port") {
		cfg.Port = o.port
	}
	if o.fs.Changed("debug-port") {
		cfg.DebugPort = o.debugPort
	}
	if o.fs.Changed("log-file") {
		cfg.LogPath = o.logFile
	}
	if o.debug {
		cfg.Debug = true
	}
}
