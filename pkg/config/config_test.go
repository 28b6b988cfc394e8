package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chrissnell/meterexporter/internal/validate"
)

const sampleYAML = `
meter:
  name: wago
  hostname: 10.0.0.5
  port: "502"
  framing: rtu
  slave_id: 3
  poll_interval: 10s
validation:
  min_valid_magnitude: 0.01
channels:
  - name: power_total
    kind: instantaneous
    address: 0x5012
    metric: wago_power_total_kw
    help: Total active power (kW)
    validation:
      consecutive_low_required: 3
      window_size: 4
  - name: energy_total
    kind: accumulator
    address: 0x6000
    scale: 0.001
server:
  listen_addr: ":9200"
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestYAMLProviderLoadConfig(t *testing.T) {
	p := NewYAMLProvider(writeFile(t, "meter.yaml", sampleYAML))
	defer p.Close()

	if !p.IsReadOnly() {
		t.Error("YAML provider should be read-only")
	}

	c, err := p.LoadConfig()
	if err != nil {
		t.Fatal(err)
	}

	if c.Meter.Hostname != "10.0.0.5" || c.Meter.Port != "502" || c.Meter.SlaveID != 3 {
		t.Errorf("meter = %+v", c.Meter)
	}
	if len(c.Channels) != 2 {
		t.Fatalf("got %d channels, want 2", len(c.Channels))
	}
	if c.Channels[0].Address != 0x5012 {
		t.Errorf("address = 0x%04X, want 0x5012", c.Channels[0].Address)
	}
	if v := c.Channels[0].Validation; v == nil || v.ConsecutiveLowRequired != 3 || v.WindowSize != 4 {
		t.Errorf("channel override = %+v", v)
	}
	if c.Channels[1].Scale != 0.001 {
		t.Errorf("scale = %v", c.Channels[1].Scale)
	}

	server, err := p.GetServer()
	if err != nil || server.ListenAddr != ":9200" {
		t.Errorf("GetServer() = %+v, %v", server, err)
	}
}

func TestYAMLProviderRejectsUnknownKeys(t *testing.T) {
	p := NewYAMLProvider(writeFile(t, "meter.yaml", "meter:\n  hostnmae: typo\n"))
	if _, err := p.LoadConfig(); err == nil {
		t.Error("expected an error for a misspelled key")
	}
}

func TestYAMLProviderMissingFile(t *testing.T) {
	p := NewYAMLProvider(filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := p.GetMeter(); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestMarshalYAMLRoundTrip(t *testing.T) {
	orig, err := ParseYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	b, err := MarshalYAML(orig)
	if err != nil {
		t.Fatal(err)
	}
	back, err := ParseYAML(b)
	if err != nil {
		t.Fatalf("re-parse: %v\n%s", err, b)
	}
	if back.Meter != orig.Meter || len(back.Channels) != len(orig.Channels) {
		t.Errorf("round trip changed config:\n%s", b)
	}
}

func TestApplyDefaults(t *testing.T) {
	c := &ConfigData{}
	if err := Prepare(c); err != nil {
		t.Fatal(err)
	}

	if c.Meter.Address() != "192.168.2.10:8899" {
		t.Errorf("address = %s", c.Meter.Address())
	}
	if c.Meter.Framing != "tcp" || c.Meter.SlaveID != 2 || c.Meter.WordOrder != "big" {
		t.Errorf("meter = %+v", c.Meter)
	}
	if d, _ := c.Meter.PollIntervalDuration(); d.Seconds() != 30 {
		t.Errorf("poll interval = %v", d)
	}
	if len(c.Channels) != 8 {
		t.Fatalf("got %d default channels, want 8", len(c.Channels))
	}
	if got := c.Validation.SpikeParams(); got != validate.DefaultSpikeParams() {
		t.Errorf("validation = %+v", got)
	}
	if c.Server.ListenAddr != ":9100" {
		t.Errorf("listen addr = %q", c.Server.ListenAddr)
	}

	energy, ok := c.ChannelByName("energy_l1")
	if !ok || energy.Address != 0x6006 || energy.Metric != "wago_energy_L1_kwh" || energy.Scale != 1 {
		t.Errorf("energy_l1 = %+v", energy)
	}
}

func TestApplyDefaultsSerial(t *testing.T) {
	c := &ConfigData{Meter: MeterData{SerialDevice: "/dev/ttyUSB0"}}
	if err := Prepare(c); err != nil {
		t.Fatal(err)
	}
	if c.Meter.Hostname != "" || c.Meter.Framing != "rtu" || c.Meter.Baud != 9600 {
		t.Errorf("meter = %+v", c.Meter)
	}
}

func TestChannelOverrideInheritsGlobal(t *testing.T) {
	c, err := ParseYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	ApplyDefaults(c)

	v := c.Channels[0].Validation
	if v.MinValidMagnitude != 0.01 {
		t.Errorf("override min magnitude = %v, want global 0.01", v.MinValidMagnitude)
	}
	if c.Channels[1].Metric != "wago_energy_total" {
		t.Errorf("derived metric = %q", c.Channels[1].Metric)
	}

	channels, err := c.EngineChannels()
	if err != nil {
		t.Fatal(err)
	}
	if channels[0].Kind != validate.Instantaneous || channels[0].Spike == nil || channels[0].Spike.WindowSize != 4 {
		t.Errorf("engine channel = %+v", channels[0])
	}
	if channels[1].Kind != validate.Accumulator || channels[1].Spike != nil {
		t.Errorf("engine channel = %+v", channels[1])
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *ConfigData)
		wantErr string
	}{
		{name: "defaults", mutate: func(c *ConfigData) {}},
		{name: "bad framing", mutate: func(c *ConfigData) { c.Meter.Framing = "ascii" }, wantErr: "unknown framing"},
		{name: "tcp on serial", mutate: func(c *ConfigData) { c.Meter.SerialDevice = "/dev/ttyS0"; c.Meter.Framing = "tcp" }, wantErr: "tcp framing"},
		{name: "bad word order", mutate: func(c *ConfigData) { c.Meter.WordOrder = "middle" }, wantErr: "word_order"},
		{name: "bad interval", mutate: func(c *ConfigData) { c.Meter.PollInterval = "soon" }, wantErr: "poll_interval"},
		{name: "slave id", mutate: func(c *ConfigData) { c.Meter.SlaveID = 300 }, wantErr: "slave_id"},
		{name: "window below required", mutate: func(c *ConfigData) { c.Validation.WindowSize = 1 }, wantErr: "validation"},
		{name: "duplicate name", mutate: func(c *ConfigData) { c.Channels[1].Name = c.Channels[0].Name }, wantErr: "duplicate channel name"},
		{name: "duplicate metric", mutate: func(c *ConfigData) { c.Channels[1].Metric = c.Channels[0].Metric }, wantErr: "duplicate metric"},
		{name: "unknown kind", mutate: func(c *ConfigData) { c.Channels[0].Kind = "counter" }, wantErr: "unknown channel kind"},
		{name: "no channels", mutate: func(c *ConfigData) { c.Channels = nil }, wantErr: "no channels"},
		{name: "no transport", mutate: func(c *ConfigData) { c.Meter.Hostname = "" }, wantErr: "serial device or hostname"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &ConfigData{}
			ApplyDefaults(c)
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv(EnvModbusHost, "meter.local")
	t.Setenv(EnvModbusPort, "5020")
	t.Setenv(EnvModbusSlaveID, "7")
	t.Setenv(EnvPollInterval, "15")
	t.Setenv(EnvListenAddr, "127.0.0.1:9300")

	c := &ConfigData{Meter: MeterData{Hostname: "file-host"}}
	if err := ApplyEnvOverrides(c); err != nil {
		t.Fatal(err)
	}
	if c.Meter.Hostname != "meter.local" || c.Meter.Port != "5020" || c.Meter.SlaveID != 7 {
		t.Errorf("meter = %+v", c.Meter)
	}
	if c.Meter.PollInterval != "15s" {
		t.Errorf("poll interval = %q", c.Meter.PollInterval)
	}
	if c.Server.ListenAddr != "127.0.0.1:9300" {
		t.Errorf("listen addr = %q", c.Server.ListenAddr)
	}
}

func TestApplyEnvOverridesErrors(t *testing.T) {
	tests := map[string]string{
		EnvModbusPort:    "http",
		EnvModbusSlaveID: "two",
		EnvPollInterval:  "-5s",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if err := ApplyEnvOverrides(&ConfigData{}); err == nil {
				t.Errorf("%s=%s accepted", key, value)
			}
		})
	}
}

func TestApplyEnvOverridesSerialClearsNetwork(t *testing.T) {
	t.Setenv(EnvModbusSerialDevice, "/dev/ttyUSB1")

	c := &ConfigData{Meter: MeterData{Hostname: "h", Port: "1"}}
	if err := ApplyEnvOverrides(c); err != nil {
		t.Fatal(err)
	}
	if c.Meter.SerialDevice != "/dev/ttyUSB1" || c.Meter.Hostname != "" || c.Meter.Port != "" {
		t.Errorf("meter = %+v", c.Meter)
	}
}

func TestSQLiteProviderRoundTrip(t *testing.T) {
	p, err := NewSQLiteProvider(filepath.Join(t.TempDir(), "config.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if p.IsReadOnly() {
		t.Error("SQLite provider should be writable")
	}

	// An empty database loads as an empty config.
	empty, err := p.LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if empty.Meter.Name != "" || len(empty.Channels) != 0 {
		t.Errorf("empty config = %+v", empty)
	}

	orig, err := ParseYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	if err := p.SaveConfig(orig); err != nil {
		t.Fatal(err)
	}

	got, err := p.LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if got.Meter != orig.Meter {
		t.Errorf("meter = %+v, want %+v", got.Meter, orig.Meter)
	}
	if got.Validation != orig.Validation {
		t.Errorf("validation = %+v, want %+v", got.Validation, orig.Validation)
	}
	if got.Server != orig.Server {
		t.Errorf("server = %+v, want %+v", got.Server, orig.Server)
	}
	if len(got.Channels) != len(orig.Channels) {
		t.Fatalf("got %d channels, want %d", len(got.Channels), len(orig.Channels))
	}
	for i := range orig.Channels {
		g, o := got.Channels[i], orig.Channels[i]
		if g.Name != o.Name || g.Kind != o.Kind || g.Address != o.Address || g.Metric != o.Metric || g.Scale != o.Scale {
			t.Errorf("channel %d = %+v, want %+v", i, g, o)
		}
		if (g.Validation == nil) != (o.Validation == nil) {
			t.Errorf("channel %d validation = %+v, want %+v", i, g.Validation, o.Validation)
		} else if g.Validation != nil && *g.Validation != *o.Validation {
			t.Errorf("channel %d validation = %+v, want %+v", i, *g.Validation, *o.Validation)
		}
	}

	// Saving again replaces rather than appends.
	ApplyDefaults(got)
	got.Channels = got.Channels[:1]
	if err := p.SaveConfig(got); err != nil {
		t.Fatal(err)
	}
	channels, err := p.GetChannels()
	if err != nil {
		t.Fatal(err)
	}
	if len(channels) != 1 {
		t.Errorf("got %d channels after resave, want 1", len(channels))
	}
}
