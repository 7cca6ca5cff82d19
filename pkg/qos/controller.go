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

package qos

import (
	"math"
	"sync"

	"go.uber.org/zap/zapcore"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/streamlink/pkg/bwe"
	"github.com/livekit/streamlink/pkg/utils"
)

type FECBand struct {
	// applies while smoothed loss is below UpperLoss
	UpperLoss float64 `yaml:"upper_loss,omitempty"`
	Ratio     float64 `yaml:"ratio,omitempty"`
}

type ControllerConfig struct {
	SmoothingAlpha      float64          `yaml:"smoothing_alpha,omitempty"`
	SevereLossThreshold float64          `yaml:"severe_loss_threshold,omitempty"`
	LossThreshold       float64          `yaml:"loss_threshold,omitempty"`
	LowLossThreshold    float64          `yaml:"low_loss_threshold,omitempty"`
	OveruseGradient     float64          `yaml:"overuse_gradient,omitempty"`
	UnderuseGradient    float64          `yaml:"underuse_gradient,omitempty"`
	IncreaseFactor      float64          `yaml:"increase_factor,omitempty"`
	DecreaseFactor      float64          `yaml:"decrease_factor,omitempty"`
	FallbackFps         int              `yaml:"fallback_fps,omitempty"`
	FECBands            []FECBand        `yaml:"fec_bands,omitempty"`
	FECRatioCeiling     float64          `yaml:"fec_ratio_ceiling,omitempty"`
	Kalman              bwe.KalmanConfig `yaml:"kalman,omitempty"`
}

var DefaultControllerConfig = ControllerConfig{
	SmoothingAlpha:      0.3,
	SevereLossThreshold: 0.10,
	LossThreshold:       0.05,
	LowLossThreshold:    0.02,
	OveruseGradient:     5.0,
	UnderuseGradient:    -1.0,
	IncreaseFactor:      1.05,
	DecreaseFactor:      0.85,
	FallbackFps:         30,
	FECBands: []FECBand{
		{UpperLoss: 0.02, Ratio: 0.10},
		{UpperLoss: 0.05, Ratio: 0.20},
		{UpperLoss: 0.10, Ratio: 0.30},
	},
	FECRatioCeiling: 0.50,
	Kalman:          bwe.DefaultKalmanConfig,
}

// BaseConfig is where the controller starts and the bounds it keeps to.
type BaseConfig struct {
	BitrateKbps    int
	TargetFps      int
	MinBitrateKbps int
	MaxBitrateKbps int
	Resolution     Resolution
	Codec          Codec
	Chroma         ChromaSubsampling
}

func BaseConfigFromPreset(p Preset) BaseConfig {
	return BaseConfig{
		BitrateKbps:    p.TargetBitrateKbps,
		TargetFps:      p.TargetFps,
		MinBitrateKbps: p.MinBitrateKbps,
		MaxBitrateKbps: p.MaxBitrateKbps,
		Resolution:     p.TargetResolution,
		Codec:          p.PreferredCodec,
		Chroma:         p.Chroma,
	}
}

type ControllerParams struct {
	Config   ControllerConfig
	Base     BaseConfig
	Encoder  Encoder
	FEC      FEC
	Gradient DelayGradientSource
	Logger   logger.Logger
}

// Stats is a snapshot of the controller scalars.
type Stats struct {
	State                 State
	SmoothedLoss          float64
	SmoothedRTTMicros     float64
	SmoothedJitterMicros  float64
	CurrentBitrateKbps    float64
	CurrentFps            int
	DelayGradientEstimate float64
	FECRatio              float64
	ExtendedSequence      uint64
	Samples               uint64
	OutOfOrderSamples     uint64
	IDRRequests           uint64
}

func (s Stats) MarshalLogObject(e zapcore.ObjectEncoder) error {
	e.AddString("state", s.State.String())
	e.AddFloat64("smoothedLoss", s.SmoothedLoss)
	e.AddFloat64("smoothedRTTMicros", s.SmoothedRTTMicros)
	e.AddFloat64("smoothedJitterMicros", s.SmoothedJitterMicros)
	e.AddFloat64("bitrateKbps", s.CurrentBitrateKbps)
	e.AddInt("fps", s.CurrentFps)
	e.AddFloat64("delayGradient", s.DelayGradientEstimate)
	e.AddFloat64("fecRatio", s.FECRatio)
	e.AddUint64("extendedSequence", s.ExtendedSequence)
	e.AddUint64("samples", s.Samples)
	e.AddUint64("outOfOrderSamples", s.OutOfOrderSamples)
	e.AddUint64("idrRequests", s.IDRRequests)
	return nil
}

// ------------------------------------------------

// Controller is a feedback driven AIMD loop over bitrate, frame rate and FEC.
// OnFeedback and GetStats may be called from different goroutines. The
// controller runs no goroutine of its own and never fails, every sample
// yields a best effort adjustment.
type Controller struct {
	params ControllerParams

	// serialises OnFeedback so collaborators see adjustments in order
	feedbackLock sync.Mutex

	lock           sync.RWMutex
	state          State
	smoothedLoss   float64
	smoothedRTT    float64
	smoothedJitter float64
	bitrateKbps    float64
	fps            int
	gradient       float64
	fecRatio       float64
	kalman         *bwe.KalmanFilter
	sequence       *utils.WrapAround[uint32, uint64]
	samples        uint64
	outOfOrder     uint64
	idrRequests    uint64
}

func NewController(params ControllerParams) *Controller {
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	params.Config = withControllerDefaults(params.Config)

	base := params.Base
	if base.MaxBitrateKbps < base.MinBitrateKbps {
		base.MaxBitrateKbps = base.MinBitrateKbps
	}
	bitrate := math.Min(math.Max(float64(base.BitrateKbps), float64(base.MinBitrateKbps)), float64(base.MaxBitrateKbps))
	params.Base = base

	return &Controller{
		params:      params,
		state:       StateHold,
		bitrateKbps: bitrate,
		fps:         base.TargetFps,
		kalman:      bwe.NewKalmanFilter(params.Config.Kalman),
		sequence:    utils.NewWrapAround[uint32, uint64](),
	}
}

func withControllerDefaults(c ControllerConfig) ControllerConfig {
	d := DefaultControllerConfig
	if c.SmoothingAlpha <= 0 || c.SmoothingAlpha > 1 {
		c.SmoothingAlpha = d.SmoothingAlpha
	}
	if c.SevereLossThreshold <= 0 {
		c.SevereLossThreshold = d.SevereLossThreshold
	}
	if c.LossThreshold <= 0 {
		c.LossThreshold = d.LossThreshold
	}
	if c.LowLossThreshold <= 0 {
		c.LowLossThreshold = d.LowLossThreshold
	}
	if c.OveruseGradient == 0 {
		c.OveruseGradient = d.OveruseGradient
	}
	if c.UnderuseGradient == 0 {
		c.UnderuseGradient = d.UnderuseGradient
	}
	if c.IncreaseFactor <= 1 {
		c.IncreaseFactor = d.IncreaseFactor
	}
	if c.DecreaseFactor <= 0 || c.DecreaseFactor >= 1 {
		c.DecreaseFactor = d.DecreaseFactor
	}
	if c.FallbackFps <= 0 {
		c.FallbackFps = d.FallbackFps
	}
	if len(c.FECBands) == 0 {
		c.FECBands = d.FECBands
	}
	if c.FECRatioCeiling <= 0 {
		c.FECRatioCeiling = d.FECRatioCeiling
	}
	return c
}

func (c *Controller) OnFeedback(sample FeedbackSample) {
	c.feedbackLock.Lock()
	defer c.feedbackLock.Unlock()

	var rawGradient float64
	if c.params.Gradient != nil {
		rawGradient = c.params.Gradient.GetDelayGradient()
	}

	config := c.params.Config
	c.lock.Lock()
	c.samples++
	if res := c.sequence.Update(sample.LastSequence); res.IsOutOfOrder {
		// still applied, the counts it carries are best effort
		c.outOfOrder++
		c.params.Logger.Debugw(
			"out of order feedback",
			"sequence", sample.LastSequence,
			"highest", res.PreExtendedHighest,
		)
	}

	alpha := config.SmoothingAlpha
	c.smoothedLoss = alpha*sample.LossRate() + (1-alpha)*c.smoothedLoss
	if sample.RTTMicros > 0 {
		c.smoothedRTT = alpha*float64(sample.RTTMicros) + (1-alpha)*c.smoothedRTT
	}
	c.smoothedJitter = alpha*float64(sample.JitterMicros) + (1-alpha)*c.smoothedJitter

	c.gradient = c.kalman.Update(rawGradient)

	forceIDR := c.smoothedLoss >= config.SevereLossThreshold
	prevState := c.state
	c.state = c.nextStateLocked()

	base := c.params.Base
	switch c.state {
	case StateIncrease:
		c.bitrateKbps = math.Min(c.bitrateKbps*config.IncreaseFactor, float64(base.MaxBitrateKbps))
		if c.fps < base.TargetFps && c.bitrateKbps > 2*float64(base.MinBitrateKbps) {
			c.fps = base.TargetFps
		}

	case StateDecrease:
		c.bitrateKbps = math.Max(c.bitrateKbps*config.DecreaseFactor, float64(base.MinBitrateKbps))
		if c.bitrateKbps == float64(base.MinBitrateKbps) && c.fps > config.FallbackFps {
			c.fps = config.FallbackFps
		}
	}

	c.fecRatio = c.fecRatioLocked()
	if forceIDR {
		c.idrRequests++
	}

	encoderConfig := EncoderConfig{
		BitrateKbps: int(math.Round(c.bitrateKbps)),
		Fps:         c.fps,
		Resolution:  base.Resolution,
		Codec:       base.Codec,
		Chroma:      base.Chroma,
	}
	fecRatio := c.fecRatio
	state := c.state
	c.lock.Unlock()

	if state != prevState {
		c.params.Logger.Debugw("qos state change", "from", prevState, "to", state, "encoder", encoderConfig)
	}

	if c.params.Encoder != nil {
		if forceIDR {
			c.params.Encoder.ForceIDR()
		}
		c.params.Encoder.Reconfigure(encoderConfig)
	}
	if c.params.FEC != nil {
		c.params.FEC.SetRedundancyRatio(fecRatio)
	}
}

func (c *Controller) nextStateLocked() State {
	config := c.params.Config
	switch {
	case c.smoothedLoss >= config.SevereLossThreshold:
		return StateDecrease
	case c.smoothedLoss >= config.LossThreshold:
		return StateDecrease
	case c.gradient > config.OveruseGradient:
		return StateDecrease
	case c.smoothedLoss <= config.LowLossThreshold && c.gradient < config.UnderuseGradient:
		return StateIncrease
	default:
		return StateHold
	}
}

func (c *Controller) fecRatioLocked() float64 {
	for _, band := range c.params.Config.FECBands {
		if c.smoothedLoss < band.UpperLoss {
			return band.Ratio
		}
	}
	return c.params.Config.FECRatioCeiling
}

func (c *Controller) GetStats() Stats {
	c.lock.RLock()
	defer c.lock.RUnlock()

	return Stats{
		State:                 c.state,
		SmoothedLoss:          c.smoothedLoss,
		SmoothedRTTMicros:     c.smoothedRTT,
		SmoothedJitterMicros:  c.smoothedJitter,
		CurrentBitrateKbps:    c.bitrateKbps,
		CurrentFps:            c.fps,
		DelayGradientEstimate: c.gradient,
		FECRatio:              c.fecRatio,
		ExtendedSequence:      c.sequence.GetExtendedHighest(),
		Samples:               c.samples,
		OutOfOrderSamples:     c.outOfOrder,
		IDRRequests:           c.idrRequests,
	}
}

func (c *Controller) GetBaseConfig() BaseConfig {
	return c.params.Base
}
