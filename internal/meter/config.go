package meter

import (
	"context"
	"fmt"

	"github.com/chrissnell/meterexporter/internal/modbus"
	"github.com/chrissnell/meterexporter/pkg/config"
)

// ConfigFromData builds the driver configuration from a prepared
// (defaulted and validated) configuration.
func ConfigFromData(c *config.ConfigData) (Config, error) {
	interval, err := c.Meter.PollIntervalDuration()
	if err != nil {
		return Config{}, fmt.Errorf("poll interval: %w", err)
	}
	order, err := modbus.ParseWordOrder(c.Meter.WordOrder)
	if err != nil {
		return Config{}, err
	}
	dial, err := NewDialer(c.Meter)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		PollInterval: interval,
		WordOrder:    order,
		Dial:         dial,
	}
	for _, ch := range c.Channels {
		cfg.Channels = append(cfg.Channels, Channel{Name: ch.Name, Address: ch.Address, Scale: ch.Scale})
	}
	return cfg, nil
}

// NewDialer returns a Dialer for the meter's serial port or network address.
func NewDialer(m config.MeterData) (Dialer, error) {
	timeout, err := m.TimeoutDuration()
	if err != nil {
		return nil, fmt.Errorf("timeout: %w", err)
	}
	framing, err := modbus.ParseFraming(m.Framing)
	if err != nil {
		return nil, err
	}
	if m.SlaveID < 0 || m.SlaveID > 247 {
		return nil, fmt.Errorf("slave id %d out of range", m.SlaveID)
	}

	opts := modbus.Options{
		Framing: framing,
		SlaveID: byte(m.SlaveID),
		Timeout: timeout,
	}

	if m.SerialDevice != "" {
		return func(ctx context.Context) (RegisterReader, error) {
			c, err := modbus.OpenSerial(m.SerialDevice, m.Baud, opts)
			if err != nil {
				return nil, err
			}
			return c, nil
		}, nil
	}

	address := m.Address()
	return func(ctx context.Context) (RegisterReader, error) {
		c, err := modbus.Dial(ctx, address, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	}, nil
}
