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

package qos_test

import (
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/streamlink/pkg/qos"
	"github.com/livekit/streamlink/pkg/qos/qosfakes"
)

type controllerHarness struct {
	controller *qos.Controller
	encoder    *qosfakes.FakeEncoder
	fec        *qosfakes.FakeFEC
	gradient   *qosfakes.FakeDelayGradientSource
}

func newControllerHarness(base qos.BaseConfig, gradient float64) *controllerHarness {
	h := &controllerHarness{
		encoder:  &qosfakes.FakeEncoder{},
		fec:      &qosfakes.FakeFEC{},
		gradient: &qosfakes.FakeDelayGradientSource{},
	}
	h.gradient.GetDelayGradientReturns(gradient)
	h.controller = qos.NewController(qos.ControllerParams{
		Config:   qos.DefaultControllerConfig,
		Base:     base,
		Encoder:  h.encoder,
		FEC:      h.fec,
		Gradient: h.gradient,
		Logger:   logger.GetLogger(),
	})
	return h
}

func testBase() qos.BaseConfig {
	return qos.BaseConfig{
		BitrateKbps:    20_000,
		TargetFps:      60,
		MinBitrateKbps: 5_000,
		MaxBitrateKbps: 100_000,
		Resolution:     qos.Resolution1080p,
		Codec:          qos.CodecHEVC,
		Chroma:         qos.Chroma420,
	}
}

func lossSample(seq uint32, received, lost uint32) qos.FeedbackSample {
	return qos.FeedbackSample{
		ReceivedCount: received,
		LostCount:     lost,
		JitterMicros:  2_000,
		LastSequence:  seq,
		RTTMicros:     20_000,
	}
}

func TestControllerSmoothing(t *testing.T) {
	h := newControllerHarness(testBase(), 0)

	for i := 0; i < 40; i++ {
		h.controller.OnFeedback(lossSample(uint32(i), 96, 4))
	}

	stats := h.controller.GetStats()
	require.InDelta(t, 0.04, stats.SmoothedLoss, 1e-4)
	require.InDelta(t, 20_000, stats.SmoothedRTTMicros, 1)
	require.InDelta(t, 2_000, stats.SmoothedJitterMicros, 1)
	require.Equal(t, uint64(40), stats.Samples)

	t.Run("first sample is weighted by alpha", func(t *testing.T) {
		h := newControllerHarness(testBase(), 0)
		h.controller.OnFeedback(lossSample(0, 90, 10))
		require.InDelta(t, 0.03, h.controller.GetStats().SmoothedLoss, 1e-9)
		require.InDelta(t, 6_000, h.controller.GetStats().SmoothedRTTMicros, 1e-6)
	})

	t.Run("zero rtt is not folded in", func(t *testing.T) {
		h := newControllerHarness(testBase(), 0)
		h.controller.OnFeedback(lossSample(0, 100, 0))
		h.controller.OnFeedback(qos.FeedbackSample{ReceivedCount: 100, LastSequence: 1})
		require.InDelta(t, 6_000, h.controller.GetStats().SmoothedRTTMicros, 1e-6)
	})

	t.Run("empty sample counts as no loss", func(t *testing.T) {
		h := newControllerHarness(testBase(), 0)
		h.controller.OnFeedback(qos.FeedbackSample{})
		require.Zero(t, h.controller.GetStats().SmoothedLoss)
	})
}

func TestControllerAIMD(t *testing.T) {
	t.Run("increase", func(t *testing.T) {
		h := newControllerHarness(testBase(), -2)
		h.controller.OnFeedback(lossSample(0, 100, 0))

		stats := h.controller.GetStats()
		require.Equal(t, qos.StateIncrease, stats.State)
		require.InDelta(t, 21_000, stats.CurrentBitrateKbps, 1e-6)
		require.Less(t, stats.DelayGradientEstimate, -1.0)

		require.Equal(t, 1, h.encoder.ReconfigureCallCount())
		config := h.encoder.ReconfigureArgsForCall(0)
		require.Equal(t, 21_000, config.BitrateKbps)
		require.Equal(t, 60, config.Fps)
		require.Equal(t, qos.Resolution1080p, config.Resolution)
		require.Equal(t, qos.CodecHEVC, config.Codec)
		require.Zero(t, h.encoder.ForceIDRCallCount())
	})

	t.Run("decrease", func(t *testing.T) {
		h := newControllerHarness(testBase(), 0)
		// 0.2 raw loss smooths to 0.06
		h.controller.OnFeedback(lossSample(0, 80, 20))

		stats := h.controller.GetStats()
		require.Equal(t, qos.StateDecrease, stats.State)
		require.InDelta(t, 17_000, stats.CurrentBitrateKbps, 1e-6)
		require.Equal(t, 17_000, h.encoder.ReconfigureArgsForCall(0).BitrateKbps)
		require.Zero(t, h.encoder.ForceIDRCallCount())
	})

	t.Run("hold", func(t *testing.T) {
		h := newControllerHarness(testBase(), 0)
		h.controller.OnFeedback(lossSample(0, 100, 0))

		stats := h.controller.GetStats()
		require.Equal(t, qos.StateHold, stats.State)
		require.InDelta(t, 20_000, stats.CurrentBitrateKbps, 1e-6)
		require.Equal(t, 1, h.encoder.ReconfigureCallCount())
	})

	t.Run("overuse", func(t *testing.T) {
		h := newControllerHarness(testBase(), 20)
		h.controller.OnFeedback(lossSample(0, 100, 0))

		stats := h.controller.GetStats()
		require.Greater(t, stats.DelayGradientEstimate, 5.0)
		require.Equal(t, qos.StateDecrease, stats.State)
		require.InDelta(t, 17_000, stats.CurrentBitrateKbps, 1e-6)
	})

	t.Run("clamped to max", func(t *testing.T) {
		base := testBase()
		base.BitrateKbps = 99_000
		h := newControllerHarness(base, -2)
		h.controller.OnFeedback(lossSample(0, 100, 0))
		require.InDelta(t, 100_000, h.controller.GetStats().CurrentBitrateKbps, 1e-6)
	})

	t.Run("frame rate falls back at min bitrate", func(t *testing.T) {
		base := testBase()
		base.BitrateKbps = 5_500
		h := newControllerHarness(base, 0)
		h.controller.OnFeedback(lossSample(0, 50, 50))

		stats := h.controller.GetStats()
		require.InDelta(t, 5_000, stats.CurrentBitrateKbps, 1e-9)
		require.Equal(t, 30, stats.CurrentFps)

		// loss decays below the low threshold on the sixth clean sample
		h.gradient.GetDelayGradientReturns(-50)
		for i := 1; i <= 6; i++ {
			h.controller.OnFeedback(lossSample(uint32(i), 100, 0))
		}
		stats = h.controller.GetStats()
		require.Equal(t, qos.StateIncrease, stats.State)
		require.InDelta(t, 5_250, stats.CurrentBitrateKbps, 1e-6)
		require.Equal(t, 30, stats.CurrentFps)
	})

	t.Run("frame rate restored above twice min bitrate", func(t *testing.T) {
		base := testBase()
		base.BitrateKbps = 5_000
		h := newControllerHarness(base, 0)
		h.controller.OnFeedback(lossSample(0, 50, 50))
		require.Equal(t, 30, h.controller.GetStats().CurrentFps)

		h.gradient.GetDelayGradientReturns(-50)
		for i := 1; i < 100 && h.controller.GetStats().CurrentBitrateKbps <= 10_000; i++ {
			h.controller.OnFeedback(lossSample(uint32(i), 100, 0))
		}
		stats := h.controller.GetStats()
		require.Greater(t, stats.CurrentBitrateKbps, 10_000.0)
		require.Equal(t, 60, stats.CurrentFps)
	})
}

func TestControllerFECBands(t *testing.T) {
	tests := []struct {
		name     string
		received uint32
		lost     uint32
		ratio    float64
	}{
		// a single sample smooths to 0.3 of the raw loss
		{name: "no loss", received: 100, lost: 0, ratio: 0.10},
		{name: "light", received: 90, lost: 10, ratio: 0.20},
		{name: "moderate", received: 80, lost: 20, ratio: 0.30},
		{name: "heavy", received: 50, lost: 50, ratio: 0.50},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			h := newControllerHarness(testBase(), 0)
			h.controller.OnFeedback(lossSample(0, test.received, test.lost))

			require.Equal(t, 1, h.fec.SetRedundancyRatioCallCount())
			require.Equal(t, test.ratio, h.fec.SetRedundancyRatioArgsForCall(0))
			require.Equal(t, test.ratio, h.controller.GetStats().FECRatio)
		})
	}
}

func TestControllerFECBandEdges(t *testing.T) {
	tests := []struct {
		lost  uint32
		ratio float64
	}{
		{lost: 19, ratio: 0.10},
		{lost: 21, ratio: 0.20},
		{lost: 49, ratio: 0.20},
		{lost: 51, ratio: 0.30},
		{lost: 99, ratio: 0.30},
		{lost: 101, ratio: 0.50},
	}

	for _, test := range tests {
		t.Run(fmt.Sprintf("loss %.3f", float64(test.lost)/1000), func(t *testing.T) {
			h := newControllerHarness(testBase(), 0)
			// settle the average on the raw loss
			for i := 0; i < 80; i++ {
				h.controller.OnFeedback(lossSample(uint32(i), 1000-test.lost, test.lost))
			}

			stats := h.controller.GetStats()
			require.InDelta(t, float64(test.lost)/1000, stats.SmoothedLoss, 1e-9)
			require.Equal(t, test.ratio, stats.FECRatio)
			calls := h.fec.SetRedundancyRatioCallCount()
			require.Equal(t, 80, calls)
			require.Equal(t, test.ratio, h.fec.SetRedundancyRatioArgsForCall(calls-1))
		})
	}
}

func TestControllerSmoothingConverges(t *testing.T) {
	h := newControllerHarness(testBase(), 0)

	prev := 0.0
	for i := 0; i < 50; i++ {
		h.controller.OnFeedback(lossSample(uint32(i), 900, 100))
		loss := h.controller.GetStats().SmoothedLoss
		// approaches from below without overshooting
		require.GreaterOrEqual(t, loss, prev-1e-12)
		require.LessOrEqual(t, loss, 0.10+1e-12)
		prev = loss
	}
	require.InDelta(t, 0.10, prev, 1e-6)
}

func TestControllerKeyframe(t *testing.T) {
	t.Run("below severe loss", func(t *testing.T) {
		h := newControllerHarness(testBase(), 0)
		// smooths to 0.09
		h.controller.OnFeedback(lossSample(0, 70, 30))
		require.Zero(t, h.encoder.ForceIDRCallCount())
		require.Equal(t, qos.StateDecrease, h.controller.GetStats().State)
	})

	t.Run("severe loss", func(t *testing.T) {
		h := newControllerHarness(testBase(), 0)

		var (
			lock  sync.Mutex
			calls []string
		)
		h.encoder.ForceIDRCalls(func() {
			lock.Lock()
			calls = append(calls, "idr")
			lock.Unlock()
		})
		h.encoder.ReconfigureCalls(func(qos.EncoderConfig) {
			lock.Lock()
			calls = append(calls, "reconfigure")
			lock.Unlock()
		})
		h.fec.SetRedundancyRatioCalls(func(float64) {
			lock.Lock()
			calls = append(calls, "fec")
			lock.Unlock()
		})

		// smooths to 0.15
		h.controller.OnFeedback(lossSample(0, 50, 50))

		require.Equal(t, 1, h.encoder.ForceIDRCallCount())
		require.Equal(t, []string{"idr", "reconfigure", "fec"}, calls)

		stats := h.controller.GetStats()
		require.Equal(t, qos.StateDecrease, stats.State)
		require.Equal(t, uint64(1), stats.IDRRequests)
	})
}

func TestControllerSequence(t *testing.T) {
	h := newControllerHarness(testBase(), 0)

	h.controller.OnFeedback(lossSample(10, 100, 0))
	h.controller.OnFeedback(lossSample(20, 100, 0))
	h.controller.OnFeedback(lossSample(15, 100, 0))

	stats := h.controller.GetStats()
	require.Equal(t, uint64(3), stats.Samples)
	require.Equal(t, uint64(1), stats.OutOfOrderSamples)
	require.Equal(t, uint64(20), stats.ExtendedSequence)
	// out of order samples still adjust the encoder
	require.Equal(t, 3, h.encoder.ReconfigureCallCount())
}

func TestControllerRampUp(t *testing.T) {
	h := newControllerHarness(testBase(), -2)

	for i := 0; i < 10; i++ {
		h.controller.OnFeedback(lossSample(uint32(i), 1000, 0))
		require.Equal(t, qos.StateIncrease, h.controller.GetStats().State)
	}

	expected := 20_000 * math.Pow(1.05, 10)
	stats := h.controller.GetStats()
	require.InDelta(t, expected, stats.CurrentBitrateKbps, 1e-6)
	require.InDelta(t, 32_578, stats.CurrentBitrateKbps, 1)
	require.Equal(t, 10, h.encoder.ReconfigureCallCount())
	require.Equal(t, 32_578, h.encoder.ReconfigureArgsForCall(9).BitrateKbps)
	require.Equal(t, 0.10, h.fec.SetRedundancyRatioArgsForCall(9))
}

func TestControllerConcurrentStats(t *testing.T) {
	h := newControllerHarness(testBase(), -2)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			h.controller.OnFeedback(lossSample(uint32(i), 100, 1))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			stats := h.controller.GetStats()
			require.GreaterOrEqual(t, stats.CurrentBitrateKbps, 5_000.0)
			require.LessOrEqual(t, stats.CurrentBitrateKbps, 100_000.0)
		}
	}()
	wg.Wait()

	require.Equal(t, uint64(200), h.controller.GetStats().Samples)
}

func TestBaseConfigFromPreset(t *testing.T) {
	p := qos.GetPreset(qos.ModeCompetitive)
	base := qos.BaseConfigFromPreset(p)
	require.Equal(t, p.TargetBitrateKbps, base.BitrateKbps)
	require.Equal(t, p.TargetFps, base.TargetFps)
	require.Equal(t, p.MinBitrateKbps, base.MinBitrateKbps)
	require.Equal(t, p.MaxBitrateKbps, base.MaxBitrateKbps)
	require.Equal(t, p.TargetResolution, base.Resolution)
	require.Equal(t, p.PreferredCodec, base.Codec)

	t.Run("fallback ignores preset frame rate floor", func(t *testing.T) {
		base := qos.BaseConfigFromPreset(p)
		base.BitrateKbps = base.MinBitrateKbps
		h := newControllerHarness(base, 0)
		h.controller.OnFeedback(lossSample(0, 50, 50))

		stats := h.controller.GetStats()
		require.Equal(t, 30, stats.CurrentFps)
		require.Less(t, stats.CurrentFps, p.MinFps)
	})
}
