package config

// ConfigProvider defines the interface for configuration data sources
type ConfigProvider interface {
	// Load complete configuration
	LoadConfig() (*ConfigData, error)

	// Get specific configuration sections
	GetMeter() (*MeterData, error)
	GetValidation() (*ValidationData, error)
	GetChannels() ([]ChannelData, error)
	GetServer() (*ServerData, error)

	IsReadOnly() bool
	Close() error
}

// ConfigData represents the complete configuration structure
type ConfigData struct {
	Meter      MeterData      `json:"meter"`
	Validation ValidationData `json:"validation"`
	Channels   []ChannelData  `json:"channels"`
	Server     ServerData     `json:"server"`
}

// MeterData describes the Modbus device and how to reach it. Either
// SerialDevice or Hostname+Port must be set.
type MeterData struct {
	Name         string `json:"name"`
	Hostname     string `json:"hostname,omitempty"`
	Port         string `json:"port,omitempty"`
	SerialDevice string `json:"serial_device,omitempty"`
	Baud         int    `json:"baud,omitempty"`
	// Framing is "tcp" (MBAP header) or "rtu" (slave id + CRC). Serial links
	// are always RTU; RTU over a TCP gateway is also supported.
	Framing      string `json:"framing,omitempty"`
	SlaveID      int    `json:"slave_id,omitempty"`
	PollInterval string `json:"poll_interval,omitempty"`
	Timeout      string `json:"timeout,omitempty"`
	// WordOrder is "big" (high word first) or "little".
	WordOrder string `json:"word_order,omitempty"`
}

// ValidationData holds the spike filter parameters. Zero values mean "use the
// default".
type ValidationData struct {
	MinValidMagnitude      float64 `json:"min_valid_magnitude,omitempty"`
	ConsecutiveLowRequired int     `json:"consecutive_low_required,omitempty"`
	WindowSize             int     `json:"window_size,omitempty"`
}

// ChannelData describes one register pair read from the meter.
type ChannelData struct {
	Name    string  `json:"name"`
	Kind    string  `json:"kind"`
	Address uint16  `json:"address"`
	Metric  string  `json:"metric,omitempty"`
	Help    string  `json:"help,omitempty"`
	Scale   float64 `json:"scale,omitempty"`
	// Validation overrides the global spike filter parameters for an
	// instantaneous channel.
	Validation *ValidationData `json:"validation,omitempty"`
}

// ServerData configures the HTTP/gRPC listener.
type ServerData struct {
	ListenAddr string `json:"listen_addr,omitempty"`
}
