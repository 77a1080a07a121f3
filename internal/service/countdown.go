package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-examclient/internal/model"
	"github.com/stemsi/exstem-examclient/internal/repository"
)

// ErrDurationUnavailable is returned in strict mode when no question carries
// a duration.
var ErrDurationUnavailable = errors.New("exam duration unavailable")

// ExamDuration sums the questions' durations. With nothing to sum it falls
// back to def, or fails when strict is set.
func ExamDuration(questions []model.Question, def time.Duration, strict bool) (time.Duration, error) {
	var minutes int
	for _, q := range questions {
		if q.DurationMinutes > 0 {
			minutes += q.DurationMinutes
		}
	}
	if minutes > 0 {
		return time.Duration(minutes) * time.Minute, nil
	}
	if strict {
		return 0, ErrDurationUnavailable
	}
	return def, nil
}

// ResolveDeadline returns the authoritative end time in epoch seconds.
//
// A stored deadline is trusted as long as it lies in the future. A past one
// is kept for a resumed attempt so that it expires immediately; only a fresh
// attempt gets a new deadline in its place.
func ResolveDeadline(stored int64, ok bool, now time.Time, duration time.Duration, resumed bool) int64 {
	if ok && (stored > now.Unix() || resumed) {
		return stored
	}
	return now.Add(duration).Unix()
}

// TimeLeft is max(0, end - now) in whole seconds.
func TimeLeft(end int64, now time.Time) int {
	left := end - now.Unix()
	if left < 0 {
		return 0
	}
	return int(left)
}

// Countdown drives the 1 Hz exam timer from the wall clock.
type Countdown struct {
	state    *repository.ExamState
	sink     EventSink
	onExpire func(ctx context.Context)
	clock    func() time.Time
	log      zerolog.Logger

	mu    sync.Mutex
	end   int64
	armed bool
	fired bool
}

// NewCountdown creates a Countdown. onExpire runs at most once.
func NewCountdown(state *repository.ExamState, sink EventSink, onExpire func(ctx context.Context), clock func() time.Time, log zerolog.Logger) *Countdown {
	if clock == nil {
		clock = time.Now
	}
	return &Countdown{
		state:    state,
		sink:     sink,
		onExpire: onExpire,
		clock:    clock,
		log:      log.With().Str("component", "countdown").Str("exam_id", state.ExamID()).Logger(),
	}
}

// Arm settles the deadline and persists it.
func (c *Countdown) Arm(ctx context.Context, duration time.Duration, resumed bool) (int64, error) {
	stored, ok := c.state.EndTime(ctx)
	end := ResolveDeadline(stored, ok, c.clock(), duration, resumed)

	c.mu.Lock()
	c.end = end
	c.armed = true
	c.mu.Unlock()

	if ok && end == stored {
		c.log.Debug().Int64("end_time", end).Msg("Trusting stored deadline")
		return end, nil
	}

	c.log.Info().Int64("end_time", end).Dur("duration", duration).Msg("Deadline set")
	if err := c.state.SaveEndTime(ctx, end); err != nil {
		return end, err
	}
	return end, nil
}

// EndTime returns the armed deadline.
func (c *Countdown) EndTime() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.end
}

// TimeLeft returns the remaining seconds at the current instant.
func (c *Countdown) TimeLeft() int {
	c.mu.Lock()
	end, armed := c.end, c.armed
	c.mu.Unlock()
	if !armed {
		return 0
	}
	return TimeLeft(end, c.clock())
}

// Expired reports whether the zero-crossing has been handled.
func (c *Countdown) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired
}

// Tick recomputes the remaining time, caches it and publishes it. When the
// deadline has passed it invokes onExpire, once.
func (c *Countdown) Tick(ctx context.Context) int {
	c.mu.Lock()
	if !c.armed || c.fired {
		c.mu.Unlock()
		return 0
	}
	left := TimeLeft(c.end, c.clock())
	expire := left == 0
	if expire {
		c.fired = true
	}
	c.mu.Unlock()

	if err := c.state.SaveTimeLeft(ctx, left); err != nil {
		c.log.Warn().Err(err).Msg("Cache time left")
	}
	if c.sink != nil {
		c.sink.Publish(model.SessionEvent{
			Type:     model.SessionEventTick,
			ExamID:   c.state.ExamID(),
			TimeLeft: &left,
			At:       c.clock(),
		})
	}

	if expire {
		c.log.Info().Msg("Time is up")
		if c.onExpire != nil {
			c.onExpire(ctx)
		}
	}
	return left
}

// Run ticks every second until the deadline fires or ctx ends.
func (c *Countdown) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick(ctx)
			if c.Expired() {
				return
			}
		}
	}
}
