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
	"fmt"
	"math"

	"go.uber.org/zap/zapcore"
)

const (
	degradationBitrateFactor = 0.85
	degradationFECStep       = 0.05
	fecEpsilon               = 1e-9
)

type DegradationAction int

const (
	DegradationActionReduceBitrate DegradationAction = iota
	DegradationActionIncreaseFEC
	DegradationActionReduceResolution
	DegradationActionReduceFps
	DegradationActionForceIDR
)

func (a DegradationAction) String() string {
	switch a {
	case DegradationActionReduceBitrate:
		return "REDUCE_BITRATE"
	case DegradationActionIncreaseFEC:
		return "INCREASE_FEC"
	case DegradationActionReduceResolution:
		return "REDUCE_RESOLUTION"
	case DegradationActionReduceFps:
		return "REDUCE_FPS"
	case DegradationActionForceIDR:
		return "FORCE_IDR"
	default:
		return fmt.Sprintf("%d", int(a))
	}
}

// MediaState is what the sender currently streams.
type MediaState struct {
	Fps         int
	Resolution  Resolution
	BitrateKbps int
	FECRatio    float64
}

func InitialMediaState(p Preset) MediaState {
	return MediaState{
		Fps:         p.TargetFps,
		Resolution:  p.TargetResolution,
		BitrateKbps: p.TargetBitrateKbps,
		FECRatio:    p.MinFECRatio,
	}
}

func (m MediaState) MarshalLogObject(e zapcore.ObjectEncoder) error {
	e.AddInt("fps", m.Fps)
	e.AddString("resolution", m.Resolution.String())
	e.AddInt("bitrateKbps", m.BitrateKbps)
	e.AddFloat64("fecRatio", m.FECRatio)
	return nil
}

// GetNextDegradationAction picks what to sacrifice next. Bitrate goes first,
// then redundancy is raised. Resolution and frame rate follow in the order
// the preset weights favour. A keyframe is the last resort.
func GetNextDegradationAction(p Preset, state MediaState) DegradationAction {
	if state.BitrateKbps > p.MinBitrateKbps {
		return DegradationActionReduceBitrate
	}
	if state.FECRatio < p.MaxFECRatio-fecEpsilon {
		return DegradationActionIncreaseFEC
	}

	_, canReduceResolution := p.lowerResolution(state.Resolution)
	_, canReduceFps := p.lowerFps(state.Fps)
	if p.PrefersFps() {
		if canReduceResolution {
			return DegradationActionReduceResolution
		}
		if canReduceFps {
			return DegradationActionReduceFps
		}
	} else {
		if canReduceFps {
			return DegradationActionReduceFps
		}
		if canReduceResolution {
			return DegradationActionReduceResolution
		}
	}
	return DegradationActionForceIDR
}

// ApplyDegradationAction returns the state after taking the action. It never
// moves past the preset bounds.
func ApplyDegradationAction(p Preset, state MediaState, action DegradationAction) MediaState {
	switch action {
	case DegradationActionReduceBitrate:
		state.BitrateKbps = max(int(math.Round(float64(state.BitrateKbps)*degradationBitrateFactor)), p.MinBitrateKbps)

	case DegradationActionIncreaseFEC:
		state.FECRatio = math.Min(state.FECRatio+degradationFECStep, p.MaxFECRatio)

	case DegradationActionReduceResolution:
		if r, ok := p.lowerResolution(state.Resolution); ok {
			state.Resolution = r
		}

	case DegradationActionReduceFps:
		if fps, ok := p.lowerFps(state.Fps); ok {
			state.Fps = fps
		}
	}
	return state
}

func (p Preset) lowerResolution(current Resolution) (Resolution, bool) {
	for _, r := range p.ResolutionLadder {
		if r.Pixels() < current.Pixels() && r.Pixels() >= p.MinResolution.Pixels() {
			return r, true
		}
	}
	return current, false
}

func (p Preset) lowerFps(current int) (int, bool) {
	for _, fps := range p.FpsLadder {
		if fps < current && fps >= p.MinFps {
			return fps, true
		}
	}
	if current > p.MinFps {
		return p.MinFps, true
	}
	return current, false
}
