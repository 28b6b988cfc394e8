// Package constants defines application-wide constants and version information.
package constants

import (
	"runtime"
	"time"
)

// Version holds the application version information
const Version = "1.2-" + runtime.GOOS + "/" + runtime.GOARCH

// Defaults for the reference deployment: a WAGO energy meter behind a
// serial-to-TCP gateway.
const (
	DefaultMeterName    = "wago"
	DefaultHostname     = "192.168.2.10"
	DefaultPort         = "8899"
	DefaultSlaveID      = 2
	DefaultBaud         = 9600
	DefaultPollInterval = 30 * time.Second
	DefaultTimeout      = 5 * time.Second
	DefaultListenAddr   = ":9100"
)

// Reconnect backoff bounds for the register transport.
const (
	ReconnectBaseDelay = time.Second
	ReconnectMaxDelay  = 30 * time.Second
)

// MetricsNamespace prefixes the exporter's own metrics.
const MetricsNamespace = "meterexporter"
