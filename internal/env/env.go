// Package env captures details about the xbbs environment that are not
// part of the TOML configuration file, such as how the control client
// locates a running coordinator.
package env

import "os"

// ConfigPath is the default coordinator configuration file location,
// overridable via XBBS_CONFIG.
var ConfigPath = findConfigPath()

func findConfigPath() string {
	if env := os.Getenv("XBBS_CONFIG"); env != "" {
		return env
	}
	return "/etc/xbbs/coordinator.toml" // default
}

// CommandEndpoint is the address xbbsctl dials when -endpoint is not given,
// overridable via XBBS_COMMAND_ENDPOINT.
var CommandEndpoint = findCommandEndpoint()

func findCommandEndpoint() string {
	if env := os.Getenv("XBBS_COMMAND_ENDPOINT"); env != "" {
		return env
	}
	return "localhost:8023" // default
}
