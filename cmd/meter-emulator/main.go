package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/chrissnell/meterexporter/internal/log"
	"github.com/chrissnell/meterexporter/internal/modbus"
	"github.com/chrissnell/meterexporter/pkg/config"
	"github.com/panjf2000/gnet/v2"
)

// emulator answers Modbus TCP requests from the simulated meter.
type emulator struct {
	gnet.BuiltinEventEngine

	meter   *SimulatedMeter
	slaveID byte
	eng     gnet.Engine
	served  atomic.Uint64
}

func (e *emulator) OnBoot(eng gnet.Engine) gnet.Action {
	e.eng = eng
	return gnet.None
}

func (e *emulator) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	log.Infof("client connected from %s", c.RemoteAddr())
	return nil, gnet.None
}

func (e *emulator) OnClose(c gnet.Conn, err error) gnet.Action {
	if err != nil {
		log.Infof("client %s disconnected: %v", c.RemoteAddr(), err)
	}
	return gnet.None
}

func (e *emulator) OnTraffic(c gnet.Conn) gnet.Action {
	for {
		buf, _ := c.Peek(-1)
		resp, n, err := e.handle(buf)
		if errors.Is(err, modbus.ErrIncomplete) {
			return gnet.None
		}
		if err != nil {
			log.Warnf("dropping %s: %v", c.RemoteAddr(), err)
			return gnet.Close
		}
		if _, err := c.Discard(n); err != nil {
			return gnet.Close
		}
		if resp == nil {
			continue
		}
		if _, err := c.Write(resp); err != nil {
			log.Warnf("write to %s: %v", c.RemoteAddr(), err)
			return gnet.Close
		}
	}
}

// handle answers the first request in buf. A nil response with a nil error
// means the request was for another unit and is ignored, as a gateway would.
func (e *emulator) handle(buf []byte) ([]byte, int, error) {
	req, n, err := modbus.ParseTCPRequest(buf)
	if err != nil {
		return nil, 0, err
	}
	if e.slaveID != 0 && req.Unit != e.slaveID {
		log.Debugf("ignoring request for unit %d", req.Unit)
		return nil, n, nil
	}
	if req.Function != modbus.FuncReadHoldingRegisters {
		return modbus.TCPExceptionResponse(req, modbus.ExceptionIllegalFunction), n, nil
	}

	regs, code := e.meter.ReadHoldingRegisters(req.Address, req.Quantity)
	if code != 0 {
		log.Debugf("read 0x%04X+%d: exception 0x%02X", req.Address, req.Quantity, code)
		return modbus.TCPExceptionResponse(req, code), n, nil
	}
	e.served.Add(1)
	return modbus.TCPResponse(req, regs), n, nil
}

func main() {
	var (
		listen     = flag.String("listen", "127.0.0.1:8899", "Address to serve Modbus TCP on")
		slave      = flag.Int("slave", 2, "Unit id to answer as (0 answers every unit)")
		wordOrder  = flag.String("word-order", "big", "Register word order for floats: big or little")
		lowPower   = flag.Float64("glitch-low-power", 0, "Probability of a near-zero power reading (0.0-1.0)")
		zeroEnergy = flag.Float64("glitch-zero-energy", 0, "Probability of a zero energy reading (0.0-1.0)")
		regress    = flag.Float64("glitch-regress", 0, "Probability of an energy reading below the last one (0.0-1.0)")
		exceptions = flag.Float64("glitch-exception", 0, "Probability of a device failure exception (0.0-1.0)")
		seed       = flag.Int64("seed", time.Now().UnixNano(), "Random seed")
		debug      = flag.Bool("debug", false, "Turn on debugging output")
	)
	flag.Parse()

	if err := log.Init(*debug); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if *slave < 0 || *slave > 247 {
		log.Fatalf("slave id %d out of range", *slave)
	}
	order, err := modbus.ParseWordOrder(*wordOrder)
	if err != nil {
		log.Fatalf("%v", err)
	}

	glitch := GlitchConfig{
		LowPowerRate:   *lowPower,
		ZeroEnergyRate: *zeroEnergy,
		RegressRate:    *regress,
		ExceptionRate:  *exceptions,
	}
	e := &emulator{
		meter:   NewSimulatedMeter(config.DefaultChannels(), order, glitch, *seed),
		slaveID: byte(*slave),
	}

	log.Infof("WAGO meter emulator listening on %s (unit %d, %s word order)", *listen, *slave, order)
	log.Infof("glitch rates: low power %.2f, zero energy %.2f, regress %.2f, exception %.2f",
		glitch.LowPowerRate, glitch.ZeroEnergyRate, glitch.RegressRate, glitch.ExceptionRate)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Infof("shutting down after %d reads", e.served.Load())
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.eng.Stop(ctx); err != nil {
			log.Warnf("stopping engine: %v", err)
		}
	}()

	if err := gnet.Run(e, "tcp://"+*listen, gnet.WithMulticore(true), gnet.WithReusePort(true)); err != nil {
		log.Fatalf("emulator failed: %v", err)
	}
}
