// Package meter polls the meter's registers, runs every reading through the
// validation engine and publishes the accepted values.
package meter

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/chrissnell/meterexporter/internal/constants"
	"github.com/chrissnell/meterexporter/internal/health"
	"github.com/chrissnell/meterexporter/internal/metrics"
	"github.com/chrissnell/meterexporter/internal/modbus"
	"github.com/chrissnell/meterexporter/internal/validate"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HealthComponent is the name the driver reports link status under.
const HealthComponent = "modbus"

// RegisterReader is the part of a Modbus client the driver uses.
type RegisterReader interface {
	ReadHoldingRegisters(ctx context.Context, address, quantity uint16) ([]uint16, error)
	Close() error
}

// Dialer opens a fresh connection to the meter.
type Dialer func(ctx context.Context) (RegisterReader, error)

// Channel is a register pair holding one float32 reading.
type Channel struct {
	Name    string
	Address uint16
	Scale   float64
}

// Config configures a Driver.
type Config struct {
	Channels     []Channel
	PollInterval time.Duration
	WordOrder    modbus.WordOrder
	Dial         Dialer

	// Reconnect backoff; zero values take the package defaults.
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Driver is the sampling loop.
type Driver struct {
	config  Config
	engine  *validate.Engine
	metrics *metrics.Metrics
	health  *health.Manager
	logger  *zap.SugaredLogger

	client    RegisterReader
	ordinal   uint64
	published map[string]float64

	latestMu sync.RWMutex
	latest   *Tick
}

// New builds a driver. Every configured channel must be known to engine.
func New(cfg Config, engine *validate.Engine, m *metrics.Metrics, h *health.Manager, logger *zap.SugaredLogger) (*Driver, error) {
	if cfg.Dial == nil {
		return nil, errors.New("no dialer configured")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %v", cfg.PollInterval)
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = constants.ReconnectBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = constants.ReconnectMaxDelay
	}
	if cfg.WordOrder == "" {
		cfg.WordOrder = modbus.HighWordFirst
	}

	known := make(map[string]bool)
	for _, ch := range engine.Channels() {
		known[ch.Name] = true
	}
	cfg.Channels = append([]Channel(nil), cfg.Channels...)
	for i, ch := range cfg.Channels {
		if !known[ch.Name] {
			return nil, fmt.Errorf("channel %q: %w", ch.Name, validate.ErrUnknownChannel)
		}
		if ch.Scale == 0 {
			cfg.Channels[i].Scale = 1
		}
	}

	h.Register(HealthComponent)

	return &Driver{
		config:    cfg,
		engine:    engine,
		metrics:   m,
		health:    h,
		logger:    logger,
		published: make(map[string]float64, len(cfg.Channels)),
	}, nil
}

// Start launches the polling goroutine.
func (d *Driver) Start(ctx context.Context, wg *sync.WaitGroup) {
	d.logger.Infof("starting meter driver: %d channels every %v", len(d.config.Channels), d.config.PollInterval)
	wg.Add(1)
	go d.run(ctx, wg)
}

func (d *Driver) run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	defer d.disconnect()

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		if d.client == nil {
			if err := d.connect(ctx); err != nil {
				d.logger.Info("cancellation request received while connecting to meter")
				return
			}
		}

		d.Poll(ctx)

		select {
		case <-ctx.Done():
			d.logger.Info("cancellation request received, stopping meter driver")
			return
		case <-ticker.C:
		}
	}
}

// connect dials until it succeeds, backing off exponentially between
// attempts. It only fails when ctx is cancelled.
func (d *Driver) connect(ctx context.Context) error {
	delay := d.config.BaseDelay

	for {
		client, err := d.config.Dial(ctx)
		if err == nil {
			d.client = client
			d.metrics.SetConnected(true)
			d.health.SetHealthy(HealthComponent, "connected")
			d.logger.Info("connected to meter")
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		d.metrics.SetConnected(false)
		d.health.SetUnhealthy(HealthComponent, "connect failed", err)
		d.logger.Errorf("failed to connect to meter: %v, retrying in %v", err, delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > d.config.MaxDelay {
			delay = d.config.MaxDelay
		}
	}
}

func (d *Driver) disconnect() {
	if d.client == nil {
		return
	}
	if err := d.client.Close(); err != nil {
		d.logger.Debugf("closing meter connection: %v", err)
	}
	d.client = nil
	d.metrics.SetConnected(false)
}

// Poll runs one tick: read every channel, validate, publish. It must not be
// called concurrently with itself or with a running driver. A link failure
// drops the connection; the next tick of a running driver reconnects first.
func (d *Driver) Poll(ctx context.Context) *Tick {
	start := time.Now()
	d.ordinal++

	tick := &Tick{
		ID:        uuid.New(),
		Ordinal:   d.ordinal,
		Timestamp: start,
		Connected: d.client != nil,
		Decisions: make([]Decision, len(d.config.Channels)),
	}

	var linkErr error
	raws := make([]validate.Raw, len(d.config.Channels))
	for i, ch := range d.config.Channels {
		tick.Decisions[i].Channel = ch.Name
		tick.Decisions[i].Address = ch.Address

		if d.client == nil || linkErr != nil {
			raws[i] = validate.Absent
			continue
		}

		raw, err := d.read(ctx, ch)
		if err != nil {
			tick.Decisions[i].Error = err.Error()
			if modbus.IsLinkError(err) {
				linkErr = err
			}
		}
		raws[i] = raw
	}

	for i, ch := range d.config.Channels {
		res, err := d.engine.Validate(validate.Sample{Channel: ch.Name, Raw: raws[i], Tick: tick.Ordinal})
		if err != nil {
			// New checked every channel against the engine.
			d.logger.Errorf("validating channel %s: %v", ch.Name, err)
			continue
		}
		d.apply(ch, raws[i], res)

		dec := &tick.Decisions[i]
		dec.Result = res
		if raws[i].Valid {
			v := raws[i].Value
			dec.Raw = &v
		}
		if v, ok := d.published[ch.Name]; ok {
			dec.Published = &v
		}
	}

	if linkErr != nil {
		d.health.SetUnhealthy(HealthComponent, "read failed", linkErr)
		d.disconnect()
		if ctx.Err() == nil {
			d.logger.Warnf("lost connection to meter: %v", linkErr)
		}
	} else if d.client != nil {
		d.health.SetHealthy(HealthComponent, "last read ok")
	}

	tick.Duration = time.Since(start)
	d.metrics.ObserveTick(tick.Duration)

	d.latestMu.Lock()
	d.latest = tick
	d.latestMu.Unlock()

	d.logger.Debugf("tick %d: %d/%d channels updated in %v", tick.Ordinal, tick.Updated(), len(tick.Decisions), tick.Duration)
	return tick.clone()
}

// read returns the scaled reading of one channel. Any failure yields an absent
// reading plus the error.
func (d *Driver) read(ctx context.Context, ch Channel) (validate.Raw, error) {
	regs, err := d.client.ReadHoldingRegisters(ctx, ch.Address, 2)
	if err != nil {
		d.metrics.ReadError(ch.Name, modbus.ErrorKind(err))
		if ctx.Err() == nil {
			d.logger.Errorf("Modbus error at 0x%04X (%s): %v", ch.Address, ch.Name, err)
		}
		return validate.Absent, err
	}

	v, err := modbus.DecodeFloat32(regs, d.config.WordOrder)
	if err != nil {
		d.metrics.ReadError(ch.Name, "decode")
		return validate.Absent, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		d.metrics.ReadError(ch.Name, "decode")
		d.logger.Warnw("non-finite reading treated as missing", "channel", ch.Name, "address", fmt.Sprintf("0x%04X", ch.Address), "value", v)
		return validate.Absent, fmt.Errorf("non-finite value %v at 0x%04X", v, ch.Address)
	}

	return validate.Present(v * ch.Scale), nil
}

func (d *Driver) apply(ch Channel, raw validate.Raw, res validate.Result) {
	d.metrics.ObserveDecision(ch.Name, res.Reason)

	retained, havePublished := d.published[ch.Name]

	switch res.Reason {
	case validate.Decreased:
		d.logger.Warnw("energy counter decreased, keeping previous value",
			"channel", ch.Name, "rejected", raw.Value, "retained", retained)
	case validate.NonPositive:
		d.logger.Warnw("non-positive counter reading rejected",
			"channel", ch.Name, "rejected", raw.Value, "retained", retainedOrNil(retained, havePublished))
	case validate.SpikeRejected:
		d.logger.Warnw("transient low reading rejected",
			"channel", ch.Name, "rejected", raw.Value, "retained", retainedOrNil(retained, havePublished))
	case validate.Missing, validate.InsufficientHistory:
		d.logger.Debugw("no update", "channel", ch.Name, "reason", res.Reason, "raw", raw.String())
	case validate.Initial:
		d.logger.Infow("initial counter value accepted", "channel", ch.Name, "value", res.Value)
	}

	if !res.Updated {
		return
	}

	if err := d.metrics.SetChannel(ch.Name, res.Value); err != nil {
		d.logger.Errorf("publishing channel %s: %v", ch.Name, err)
		return
	}
	d.published[ch.Name] = res.Value
}

func retainedOrNil(v float64, ok bool) interface{} {
	if !ok {
		return nil
	}
	return v
}

// Latest returns a copy of the most recent tick, or nil before the first.
func (d *Driver) Latest() *Tick {
	d.latestMu.RLock()
	defer d.latestMu.RUnlock()

	if d.latest == nil {
		return nil
	}
	return d.latest.clone()
}
