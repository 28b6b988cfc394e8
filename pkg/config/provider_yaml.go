package config

import (
	"os"

	"gopkg.in/yaml.v2"
)

// YAMLProvider implements ConfigProvider for YAML configuration files
type YAMLProvider struct {
	filename string
	config   *ConfigData
}

// NewYAMLProvider creates a new YAML configuration provider
func NewYAMLProvider(filename string) *YAMLProvider {
	return &YAMLProvider{
		filename: filename,
	}
}

// LoadConfig loads the complete configuration from YAML file
func (y *YAMLProvider) LoadConfig() (*ConfigData, error) {
	cfgFile, err := os.ReadFile(y.filename)
	if err != nil {
		return nil, err
	}

	config, err := ParseYAML(cfgFile)
	if err != nil {
		return nil, err
	}

	y.config = config
	return config, nil
}

// ParseYAML decodes a YAML document into configuration data. No defaults are
// applied.
func ParseYAML(data []byte) (*ConfigData, error) {
	var yamlConfig ConfigYAML
	if err := yaml.UnmarshalStrict(data, &yamlConfig); err != nil {
		return nil, err
	}

	config := &ConfigData{
		Meter: MeterData{
			Name:         yamlConfig.Meter.Name,
			Hostname:     yamlConfig.Meter.Hostname,
			Port:         yamlConfig.Meter.Port,
			SerialDevice: yamlConfig.Meter.SerialDevice,
			Baud:         yamlConfig.Meter.Baud,
			Framing:      yamlConfig.Meter.Framing,
			SlaveID:      yamlConfig.Meter.SlaveID,
			PollInterval: yamlConfig.Meter.PollInterval,
			Timeout:      yamlConfig.Meter.Timeout,
			WordOrder:    yamlConfig.Meter.WordOrder,
		},
		Validation: yamlConfig.Validation.toData(),
		Server: ServerData{
			ListenAddr: yamlConfig.Server.ListenAddr,
		},
	}

	if len(yamlConfig.Channels) > 0 {
		config.Channels = make([]ChannelData, len(yamlConfig.Channels))
	}
	for i, ch := range yamlConfig.Channels {
		config.Channels[i] = ChannelData{
			Name:    ch.Name,
			Kind:    ch.Kind,
			Address: ch.Address,
			Metric:  ch.Metric,
			Help:    ch.Help,
			Scale:   ch.Scale,
		}
		if ch.Validation != nil {
			v := ch.Validation.toData()
			config.Channels[i].Validation = &v
		}
	}

	return config, nil
}

// MarshalYAML encodes configuration data in the format ParseYAML reads.
func MarshalYAML(c *ConfigData) ([]byte, error) {
	out := ConfigYAML{
		Meter: MeterYAML{
			Name:         c.Meter.Name,
			Hostname:     c.Meter.Hostname,
			Port:         c.Meter.Port,
			SerialDevice: c.Meter.SerialDevice,
			Baud:         c.Meter.Baud,
			Framing:      c.Meter.Framing,
			SlaveID:      c.Meter.SlaveID,
			PollInterval: c.Meter.PollInterval,
			Timeout:      c.Meter.Timeout,
			WordOrder:    c.Meter.WordOrder,
		},
		Validation: validationYAML(c.Validation),
		Server:     ServerYAML{ListenAddr: c.Server.ListenAddr},
	}
	for _, ch := range c.Channels {
		cy := ChannelYAML{
			Name:    ch.Name,
			Kind:    ch.Kind,
			Address: ch.Address,
			Metric:  ch.Metric,
			Help:    ch.Help,
			Scale:   ch.Scale,
		}
		if ch.Validation != nil {
			v := validationYAML(*ch.Validation)
			cy.Validation = &v
		}
		out.Channels = append(out.Channels, cy)
	}
	return yaml.Marshal(&out)
}

func (y *YAMLProvider) load() (*ConfigData, error) {
	if y.config == nil {
		if _, err := y.LoadConfig(); err != nil {
			return nil, err
		}
	}
	return y.config, nil
}

// GetMeter returns the meter configuration
func (y *YAMLProvider) GetMeter() (*MeterData, error) {
	c, err := y.load()
	if err != nil {
		return nil, err
	}
	return &c.Meter, nil
}

// GetValidation returns the global spike filter parameters
func (y *YAMLProvider) GetValidation() (*ValidationData, error) {
	c, err := y.load()
	if err != nil {
		return nil, err
	}
	return &c.Validation, nil
}

// GetChannels returns channel configurations
func (y *YAMLProvider) GetChannels() ([]ChannelData, error) {
	c, err := y.load()
	if err != nil {
		return nil, err
	}
	return c.Channels, nil
}

// GetServer returns the listener configuration
func (y *YAMLProvider) GetServer() (*ServerData, error) {
	c, err := y.load()
	if err != nil {
		return nil, err
	}
	return &c.Server, nil
}

// IsReadOnly returns true since YAML files are read-only through this interface
func (y *YAMLProvider) IsReadOnly() bool {
	return true
}

// Close is a no-op for YAML provider
func (y *YAMLProvider) Close() error {
	return nil
}

// YAML-specific structs with the file's key names
type ConfigYAML struct {
	Meter      MeterYAML      `yaml:"meter"`
	Validation ValidationYAML `yaml:"validation,omitempty"`
	Channels   []ChannelYAML  `yaml:"channels,omitempty"`
	Server     ServerYAML     `yaml:"server,omitempty"`
}

type MeterYAML struct {
	Name         string `yaml:"name,omitempty"`
	Hostname     string `yaml:"hostname,omitempty"`
	Port         string `yaml:"port,omitempty"`
	SerialDevice string `yaml:"serial_device,omitempty"`
	Baud         int    `yaml:"baud,omitempty"`
	Framing      string `yaml:"framing,omitempty"`
	SlaveID      int    `yaml:"slave_id,omitempty"`
	PollInterval string `yaml:"poll_interval,omitempty"`
	Timeout      string `yaml:"timeout,omitempty"`
	WordOrder    string `yaml:"word_order,omitempty"`
}

type ValidationYAML struct {
	MinValidMagnitude      float64 `yaml:"min_valid_magnitude,omitempty"`
	ConsecutiveLowRequired int     `yaml:"consecutive_low_required,omitempty"`
	WindowSize             int     `yaml:"window_size,omitempty"`
}

type ChannelYAML struct {
	Name       string          `yaml:"name"`
	Kind       string          `yaml:"kind"`
	Address    uint16          `yaml:"address"`
	Metric     string          `yaml:"metric,omitempty"`
	Help       string          `yaml:"help,omitempty"`
	Scale      float64         `yaml:"scale,omitempty"`
	Validation *ValidationYAML `yaml:"validation,omitempty"`
}

type ServerYAML struct {
	ListenAddr string `yaml:"listen_addr,omitempty"`
}

func (v ValidationYAML) toData() ValidationData {
	return ValidationData{
		MinValidMagnitude:      v.MinValidMagnitude,
		ConsecutiveLowRequired: v.ConsecutiveLowRequired,
		WindowSize:             v.WindowSize,
	}
}

func validationYAML(v ValidationData) ValidationYAML {
	return ValidationYAML{
		MinValidMagnitude:      v.MinValidMagnitude,
		ConsecutiveLowRequired: v.ConsecutiveLowRequired,
		WindowSize:             v.WindowSize,
	}
}
