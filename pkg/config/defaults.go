package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chrissnell/meterexporter/internal/constants"
	"github.com/chrissnell/meterexporter/internal/validate"
)

// DefaultChannels returns the eight channels of the reference WAGO meter.
func DefaultChannels() []ChannelData {
	return []ChannelData{
		{Name: "power_total", Kind: "instantaneous", Address: 0x5012, Metric: "wago_power_total_kw", Help: "Total active power (kW)"},
		{Name: "power_l1", Kind: "instantaneous", Address: 0x5014, Metric: "wago_power_L1_kw", Help: "L1 active power (kW)"},
		{Name: "power_l2", Kind: "instantaneous", Address: 0x5016, Metric: "wago_power_L2_kw", Help: "L2 active power (kW)"},
		{Name: "power_l3", Kind: "instantaneous", Address: 0x5018, Metric: "wago_power_L3_kw", Help: "L3 active power (kW)"},
		{Name: "energy_total", Kind: "accumulator", Address: 0x6000, Metric: "wago_energy_total_kwh", Help: "Total active energy (kWh)"},
		{Name: "energy_l1", Kind: "accumulator", Address: 0x6006, Metric: "wago_energy_L1_kwh", Help: "L1 active energy (kWh)"},
		{Name: "energy_l2", Kind: "accumulator", Address: 0x6008, Metric: "wago_energy_L2_kwh", Help: "L2 active energy (kWh)"},
		{Name: "energy_l3", Kind: "accumulator", Address: 0x600A, Metric: "wago_energy_L3_kwh", Help: "L3 active energy (kWh)"},
	}
}

// ApplyDefaults fills every unset field with the reference deployment's value.
func ApplyDefaults(c *ConfigData) {
	m := &c.Meter
	if m.Name == "" {
		m.Name = constants.DefaultMeterName
	}
	if m.SerialDevice == "" {
		if m.Hostname == "" {
			m.Hostname = constants.DefaultHostname
		}
		if m.Port == "" {
			m.Port = constants.DefaultPort
		}
	}
	if m.Framing == "" {
		if m.SerialDevice != "" {
			m.Framing = "rtu"
		} else {
			m.Framing = "tcp"
		}
	}
	if m.SerialDevice != "" && m.Baud == 0 {
		m.Baud = constants.DefaultBaud
	}
	if m.SlaveID == 0 {
		m.SlaveID = constants.DefaultSlaveID
	}
	if m.PollInterval == "" {
		m.PollInterval = constants.DefaultPollInterval.String()
	}
	if m.Timeout == "" {
		m.Timeout = constants.DefaultTimeout.String()
	}
	if m.WordOrder == "" {
		m.WordOrder = "big"
	}

	c.Validation = c.Validation.withDefaults(validate.DefaultSpikeParams())

	if len(c.Channels) == 0 {
		c.Channels = DefaultChannels()
	}
	for i := range c.Channels {
		ch := &c.Channels[i]
		if ch.Metric == "" {
			ch.Metric = m.Name + "_" + ch.Name
		}
		if ch.Help == "" {
			ch.Help = fmt.Sprintf("%s reading at register 0x%04X", ch.Name, ch.Address)
		}
		if ch.Scale == 0 {
			ch.Scale = 1
		}
		if ch.Validation != nil {
			v := ch.Validation.withDefaults(c.Validation.SpikeParams())
			ch.Validation = &v
		}
	}

	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = constants.DefaultListenAddr
	}
}

func (v ValidationData) withDefaults(d validate.SpikeParams) ValidationData {
	if v.MinValidMagnitude == 0 {
		v.MinValidMagnitude = d.MinValidMagnitude
	}
	if v.ConsecutiveLowRequired == 0 {
		v.ConsecutiveLowRequired = d.ConsecutiveLowRequired
	}
	if v.WindowSize == 0 {
		v.WindowSize = d.WindowSize
	}
	return v
}

// SpikeParams converts the validation block into filter parameters.
func (v ValidationData) SpikeParams() validate.SpikeParams {
	return validate.SpikeParams{
		MinValidMagnitude:      v.MinValidMagnitude,
		ConsecutiveLowRequired: v.ConsecutiveLowRequired,
		WindowSize:             v.WindowSize,
	}
}

// Validate checks a configuration that has already been through ApplyDefaults.
func (c *ConfigData) Validate() error {
	var errs []error

	m := c.Meter
	if m.SerialDevice == "" && (m.Hostname == "" || m.Port == "") {
		errs = append(errs, fmt.Errorf("meter [%s] must define either a serial device or hostname+port", m.Name))
	}
	switch m.Framing {
	case "tcp":
		if m.SerialDevice != "" {
			errs = append(errs, fmt.Errorf("meter [%s]: tcp framing cannot be used on a serial device", m.Name))
		}
	case "rtu":
	default:
		errs = append(errs, fmt.Errorf("meter [%s]: unknown framing %q (want tcp or rtu)", m.Name, m.Framing))
	}
	if m.SlaveID < 0 || m.SlaveID > 247 {
		errs = append(errs, fmt.Errorf("meter [%s]: slave_id %d out of range 0-247", m.Name, m.SlaveID))
	}
	if d, err := m.PollIntervalDuration(); err != nil || d <= 0 {
		errs = append(errs, fmt.Errorf("meter [%s]: invalid poll_interval %q", m.Name, m.PollInterval))
	}
	if d, err := m.TimeoutDuration(); err != nil || d <= 0 {
		errs = append(errs, fmt.Errorf("meter [%s]: invalid timeout %q", m.Name, m.Timeout))
	}
	if m.WordOrder != "big" && m.WordOrder != "little" {
		errs = append(errs, fmt.Errorf("meter [%s]: unknown word_order %q (want big or little)", m.Name, m.WordOrder))
	}

	if err := c.Validation.SpikeParams().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("validation: %w", err))
	}

	if len(c.Channels) == 0 {
		errs = append(errs, errors.New("no channels configured"))
	}
	names := make(map[string]bool)
	metrics := make(map[string]bool)
	for _, ch := range c.Channels {
		if ch.Name == "" {
			errs = append(errs, fmt.Errorf("channel at address 0x%04X has no name", ch.Address))
			continue
		}
		if names[ch.Name] {
			errs = append(errs, fmt.Errorf("duplicate channel name %q", ch.Name))
		}
		names[ch.Name] = true
		if metrics[ch.Metric] {
			errs = append(errs, fmt.Errorf("channel %q: duplicate metric name %q", ch.Name, ch.Metric))
		}
		metrics[ch.Metric] = true
		if _, err := validate.ParseKind(ch.Kind); err != nil {
			errs = append(errs, fmt.Errorf("channel %q: %w", ch.Name, err))
		}
		if ch.Validation != nil {
			if err := ch.Validation.SpikeParams().Validate(); err != nil {
				errs = append(errs, fmt.Errorf("channel %q validation: %w", ch.Name, err))
			}
		}
	}

	return errors.Join(errs...)
}

// Prepare applies defaults and validates the result.
func Prepare(c *ConfigData) error {
	ApplyDefaults(c)
	return c.Validate()
}

// PollIntervalDuration parses the poll interval.
func (m MeterData) PollIntervalDuration() (time.Duration, error) {
	return time.ParseDuration(m.PollInterval)
}

// TimeoutDuration parses the per-request timeout.
func (m MeterData) TimeoutDuration() (time.Duration, error) {
	return time.ParseDuration(m.Timeout)
}

// Address returns the host:port of a network-attached meter.
func (m MeterData) Address() string {
	return m.Hostname + ":" + m.Port
}

// EngineChannels converts the channel list into validation engine channels.
func (c *ConfigData) EngineChannels() ([]validate.Channel, error) {
	out := make([]validate.Channel, 0, len(c.Channels))
	for _, ch := range c.Channels {
		kind, err := validate.ParseKind(ch.Kind)
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", ch.Name, err)
		}
		vc := validate.Channel{Name: ch.Name, Kind: kind}
		if ch.Validation != nil {
			p := ch.Validation.SpikeParams()
			vc.Spike = &p
		}
		out = append(out, vc)
	}
	return out, nil
}

// ChannelByName finds a channel's configuration.
func (c *ConfigData) ChannelByName(name string) (ChannelData, bool) {
	for _, ch := range c.Channels {
		if strings.EqualFold(ch.Name, name) {
			return ch, true
		}
	}
	return ChannelData{}, false
}
