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
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"
)

// ------------------------------------------------

type TrendDirection int

const (
	TrendDirectionNeutral TrendDirection = iota
	TrendDirectionUpward
	TrendDirectionDownward
)

func (t TrendDirection) String() string {
	switch t {
	case TrendDirectionNeutral:
		return "NEUTRAL"
	case TrendDirectionUpward:
		return "UPWARD"
	case TrendDirectionDownward:
		return "DOWNWARD"
	default:
		return fmt.Sprintf("%d", int(t))
	}
}

// ------------------------------------------------

type trendSample struct {
	value float64
	at    time.Time
}

type TrendConfig struct {
	RequiredSamples        int           `yaml:"required_samples,omitempty"`
	RequiredSamplesMin     int           `yaml:"required_samples_min,omitempty"`
	DownwardTrendThreshold float64       `yaml:"downward_trend_threshold,omitempty"`
	ValidityWindow         time.Duration `yaml:"validity_window,omitempty"`
}

var DefaultTrendConfig = TrendConfig{
	RequiredSamples:        8,
	RequiredSamplesMin:     4,
	DownwardTrendThreshold: -0.5,
	ValidityWindow:         10 * time.Second,
}

// TrendDetector classifies a series of estimates as rising, falling or flat
// using Kendall's tau over the retained samples.
type TrendDetector struct {
	config  TrendConfig
	samples []trendSample

	direction TrendDirection
}

func NewTrendDetector(config TrendConfig) *TrendDetector {
	if config.RequiredSamples <= 0 {
		config.RequiredSamples = DefaultTrendConfig.RequiredSamples
	}
	if config.RequiredSamplesMin <= 0 || config.RequiredSamplesMin > config.RequiredSamples {
		config.RequiredSamplesMin = min(DefaultTrendConfig.RequiredSamplesMin, config.RequiredSamples)
	}
	return &TrendDetector{
		config: config,
	}
}

func (t *TrendDetector) AddValue(value float64) {
	t.AddValueAt(value, time.Now())
}

func (t *TrendDetector) AddValueAt(value float64, at time.Time) {
	t.samples = append(t.samples, trendSample{value: value, at: at})
	t.prune(at)
	t.updateDirection()
}

func (t *TrendDetector) GetDirection() TrendDirection {
	return t.direction
}

func (t *TrendDetector) NumSamples() int {
	return len(t.samples)
}

func (t *TrendDetector) prune(now time.Time) {
	if len(t.samples) > t.config.RequiredSamples {
		t.samples = t.samples[len(t.samples)-t.config.RequiredSamples:]
	}

	if t.config.ValidityWindow > 0 {
		cutoff := now.Add(-t.config.ValidityWindow)
		for len(t.samples) > 0 && t.samples[0].at.Before(cutoff) {
			t.samples = t.samples[1:]
		}
	}
}

func (t *TrendDetector) updateDirection() {
	t.direction = TrendDirectionNeutral
	if len(t.samples) < t.config.RequiredSamplesMin {
		return
	}

	kt := t.kendallsTau()
	switch {
	case kt > 0 && len(t.samples) >= t.config.RequiredSamples:
		t.direction = TrendDirectionUpward
	case kt < t.config.DownwardTrendThreshold:
		t.direction = TrendDirectionDownward
	}
}

func (t *TrendDetector) kendallsTau() float64 {
	concordant, discordant := 0, 0
	for i := 0; i < len(t.samples)-1; i++ {
		for j := i + 1; j < len(t.samples); j++ {
			if t.samples[i].value < t.samples[j].value {
				concordant++
			} else if t.samples[i].value > t.samples[j].value {
				discordant++
			}
		}
	}

	if concordant+discordant == 0 {
		return 0
	}
	return float64(concordant-discordant) / float64(concordant+discordant)
}

func (t *TrendDetector) MarshalLogObject(e zapcore.ObjectEncoder) error {
	e.AddString("direction", t.direction.String())
	e.AddInt("samples", len(t.samples))
	e.AddFloat64("tau", t.kendallsTau())
	return nil
}
