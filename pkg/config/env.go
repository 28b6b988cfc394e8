package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Environment variables that override file configuration. The exporter loads
// an optional .env file into the environment before these are read.
const (
	EnvModbusHost         = "MODBUS_HOST"
	EnvModbusPort         = "MODBUS_PORT"
	EnvModbusSerialDevice = "MODBUS_SERIAL_DEVICE"
	EnvModbusSlaveID      = "MODBUS_SLAVE_ID"
	EnvPollInterval       = "POLL_INTERVAL"
	EnvListenAddr         = "LISTEN_ADDR"
)

// ApplyEnvOverrides copies any set override variables into c. It runs before
// ApplyDefaults.
func ApplyEnvOverrides(c *ConfigData) error {
	if v, ok := lookup(EnvModbusHost); ok {
		c.Meter.Hostname = v
	}
	if v, ok := lookup(EnvModbusPort); ok {
		if _, err := strconv.ParseUint(v, 10, 16); err != nil {
			return fmt.Errorf("%s=%q is not a valid port", EnvModbusPort, v)
		}
		c.Meter.Port = v
	}
	if v, ok := lookup(EnvModbusSerialDevice); ok {
		c.Meter.SerialDevice = v
		c.Meter.Hostname = ""
		c.Meter.Port = ""
	}
	if v, ok := lookup(EnvModbusSlaveID); ok {
		id, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s=%q: %w", EnvModbusSlaveID, v, err)
		}
		c.Meter.SlaveID = id
	}
	if v, ok := lookup(EnvPollInterval); ok {
		d, err := parseInterval(v)
		if err != nil {
			return fmt.Errorf("%s=%q: %w", EnvPollInterval, v, err)
		}
		c.Meter.PollInterval = d.String()
	}
	if v, ok := lookup(EnvListenAddr); ok {
		c.Server.ListenAddr = v
	}
	return nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// parseInterval accepts a Go duration or a bare number of seconds.
func parseInterval(s string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("interval must be positive")
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be positive")
	}
	return d, nil
}
