package meter

import (
	"time"

	"github.com/chrissnell/meterexporter/internal/validate"
	"github.com/google/uuid"
)

// Decision is what happened to one channel during a tick.
type Decision struct {
	Channel string          `json:"channel"`
	Address uint16          `json:"address"`
	Raw     *float64        `json:"raw,omitempty"`
	Result  validate.Result `json:"result"`
	// Published is the gauge value after the tick, if the channel has ever
	// been published.
	Published *float64 `json:"published,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Tick is one complete pass over every channel.
type Tick struct {
	ID        uuid.UUID     `json:"id"`
	Ordinal   uint64        `json:"ordinal"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration_ns"`
	Connected bool          `json:"connected"`
	Decisions []Decision    `json:"decisions"`
}

// Updated counts the channels whose gauge changed.
func (t *Tick) Updated() int {
	n := 0
	for _, d := range t.Decisions {
		if d.Result.Updated {
			n++
		}
	}
	return n
}

func (t *Tick) clone() *Tick {
	c := *t
	c.Decisions = make([]Decision, len(t.Decisions))
	copy(c.Decisions, t.Decisions)
	return &c
}
