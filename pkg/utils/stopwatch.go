package utils

import (
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

type StopwatchSplit struct {
	Phase    string
	Duration time.Duration
}

func (s StopwatchSplit) MarshalLogObject(e zapcore.ObjectEncoder) error {
	e.AddString("phase", s.Phase)
	e.AddDuration("duration", s.Duration)
	return nil
}

// Stopwatch records how long each phase of a connection attempt took.
type Stopwatch struct {
	lock   sync.Mutex
	start  time.Time
	last   time.Time
	splits []StopwatchSplit
}

func NewStopwatch() *Stopwatch {
	now := time.Now()
	return &Stopwatch{
		start: now,
		last:  now,
	}
}

// Mark closes the phase running since the previous mark.
func (s *Stopwatch) Mark(phase string) {
	s.lock.Lock()
	defer s.lock.Unlock()

	now := time.Now()
	s.splits = append(s.splits, StopwatchSplit{
		Phase:    phase,
		Duration: now.Sub(s.last),
	})
	s.last = now
}

func (s *Stopwatch) Splits() []StopwatchSplit {
	s.lock.Lock()
	defer s.lock.Unlock()

	return append([]StopwatchSplit{}, s.splits...)
}

func (s *Stopwatch) Elapsed() time.Duration {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.last.Sub(s.start)
}

func (s *Stopwatch) MarshalLogArray(e zapcore.ArrayEncoder) error {
	for _, split := range s.Splits() {
		if err := e.AppendObject(split); err != nil {
			return err
		}
	}
	return nil
}
