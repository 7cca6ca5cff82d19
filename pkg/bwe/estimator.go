// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bwe

import (
	"sync"
	"time"

	"github.com/gammazero/deque"
	"go.uber.org/zap/zapcore"
)

type EstimatorConfig struct {
	Window     time.Duration `yaml:"window,omitempty"`
	MinSamples int           `yaml:"min_samples,omitempty"`
}

var DefaultEstimatorConfig = EstimatorConfig{
	Window:     time.Second,
	MinSamples: 4,
}

type arrival struct {
	sendTimeMicros int64
	recvTimeMicros int64
	size           int
}

// Estimator keeps a sliding window of packet arrivals and derives the one
// way delay trend and the receive rate from it. Timestamps of the sender and
// receiver clocks need not be synchronised, only the change in delay is used.
type Estimator struct {
	config EstimatorConfig

	lock     sync.Mutex
	arrivals deque.Deque[arrival]
	bytes    int
}

func NewEstimator(config EstimatorConfig) *Estimator {
	if config.Window <= 0 {
		config.Window = DefaultEstimatorConfig.Window
	}
	if config.MinSamples < 2 {
		config.MinSamples = DefaultEstimatorConfig.MinSamples
	}
	return &Estimator{
		config: config,
	}
}

func (e *Estimator) OnPacket(sendTimeMicros int64, recvTimeMicros int64, size int) {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.arrivals.PushBack(arrival{
		sendTimeMicros: sendTimeMicros,
		recvTimeMicros: recvTimeMicros,
		size:           size,
	})
	e.bytes += size

	cutoff := recvTimeMicros - e.config.Window.Microseconds()
	for e.arrivals.Len() > 0 && e.arrivals.Front().recvTimeMicros < cutoff {
		e.bytes -= e.arrivals.PopFront().size
	}
}

// GetDelayGradient returns the least squares slope of one way delay over
// arrival time in ms/s. Positive values indicate queues building up.
func (e *Estimator) GetDelayGradient() float64 {
	e.lock.Lock()
	defer e.lock.Unlock()

	n := e.arrivals.Len()
	if n < e.config.MinSamples {
		return 0
	}

	base := e.arrivals.Front()
	var sumX, sumY, sumXX, sumXY float64
	for i := 0; i < n; i++ {
		a := e.arrivals.At(i)
		x := float64(a.recvTimeMicros-base.recvTimeMicros) / 1e6
		y := float64((a.recvTimeMicros-a.sendTimeMicros)-(base.recvTimeMicros-base.sendTimeMicros)) / 1e3
		sumX += x
		sumY += y
		sumXX += x * x
		sumXY += x * y
	}

	fn := float64(n)
	denominator := fn*sumXX - sumX*sumX
	if denominator == 0 {
		return 0
	}
	return (fn*sumXY - sumX*sumY) / denominator
}

// GetEstimatedBandwidthKbps returns the receive rate over the window.
func (e *Estimator) GetEstimatedBandwidthKbps() float64 {
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.arrivals.Len() < 2 {
		return 0
	}
	span := e.arrivals.Back().recvTimeMicros - e.arrivals.Front().recvTimeMicros
	if span <= 0 {
		return 0
	}
	return float64(e.bytes*8) / (float64(span) / 1e3)
}

func (e *Estimator) NumSamples() int {
	e.lock.Lock()
	defer e.lock.Unlock()

	return e.arrivals.Len()
}

func (e *Estimator) Reset() {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.arrivals.Clear()
	e.bytes = 0
}

func (e *Estimator) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("samples", e.NumSamples())
	enc.AddFloat64("gradient", e.GetDelayGradient())
	enc.AddFloat64("bandwidthKbps", e.GetEstimatedBandwidthKbps())
	return nil
}
