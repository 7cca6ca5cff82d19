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
	"strings"

	"github.com/pkg/errors"
)

var ErrUnknownMode = errors.New("unknown gaming mode")

type Mode int

const (
	ModeCompetitive Mode = iota
	ModeBalanced
	ModeCinematic
	ModeCreative
	ModeCAD
	ModeMobileSaver
	ModeLAN
)

var Modes = []Mode{
	ModeCompetitive,
	ModeBalanced,
	ModeCinematic,
	ModeCreative,
	ModeCAD,
	ModeMobileSaver,
	ModeLAN,
}

func (m Mode) String() string {
	switch m {
	case ModeCompetitive:
		return "competitive"
	case ModeBalanced:
		return "balanced"
	case ModeCinematic:
		return "cinematic"
	case ModeCreative:
		return "creative"
	case ModeCAD:
		return "cad"
	case ModeMobileSaver:
		return "mobile_saver"
	case ModeLAN:
		return "lan"
	default:
		return fmt.Sprintf("%d", int(m))
	}
}

func ParseMode(s string) (Mode, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for _, m := range Modes {
		if m.String() == normalized {
			return m, nil
		}
	}
	if normalized == "mobilesaver" || normalized == "mobile" {
		return ModeMobileSaver, nil
	}
	return ModeBalanced, errors.Wrapf(ErrUnknownMode, "%q", s)
}

// ------------------------------------------------

// Preset bounds and biases the controller and the degradation policy for a
// gaming mode. Ladders are ordered from best to worst.
type Preset struct {
	Mode Mode

	TargetFps int
	MinFps    int
	MaxFps    int
	FpsLadder []int

	TargetResolution Resolution
	MinResolution    Resolution
	ResolutionLadder []Resolution

	TargetBitrateKbps int
	MinBitrateKbps    int
	MaxBitrateKbps    int

	JitterBufferMs int
	MinFECRatio    float64
	MaxFECRatio    float64

	FpsWeight     float64
	QualityWeight float64
	LatencyWeight float64
	RecoverySpeed float64

	PreferredCodec Codec
	Chroma         ChromaSubsampling
}

var presets = map[Mode]Preset{
	ModeCompetitive: {
		Mode:              ModeCompetitive,
		TargetFps:         240,
		MinFps:            60,
		MaxFps:            240,
		FpsLadder:         []int{240, 144, 120, 90, 60},
		TargetResolution:  Resolution1080p,
		MinResolution:     Resolution720p,
		ResolutionLadder:  []Resolution{Resolution1080p, Resolution900p, Resolution720p},
		TargetBitrateKbps: 35_000,
		MinBitrateKbps:    10_000,
		MaxBitrateKbps:    80_000,
		JitterBufferMs:    5,
		MinFECRatio:       0.05,
		MaxFECRatio:       0.20,
		FpsWeight:         0.6,
		QualityWeight:     0.1,
		LatencyWeight:     0.3,
		RecoverySpeed:     1.0,
		PreferredCodec:    CodecH264,
		Chroma:            Chroma420,
	},
	ModeBalanced: {
		Mode:              ModeBalanced,
		TargetFps:         60,
		MinFps:            30,
		MaxFps:            120,
		FpsLadder:         []int{120, 90, 60, 45, 30},
		TargetResolution:  Resolution1440p,
		MinResolution:     Resolution720p,
		ResolutionLadder:  []Resolution{Resolution1440p, Resolution1080p, Resolution720p},
		TargetBitrateKbps: 40_000,
		MinBitrateKbps:    5_000,
		MaxBitrateKbps:    100_000,
		JitterBufferMs:    20,
		MinFECRatio:       0.05,
		MaxFECRatio:       0.25,
		FpsWeight:         0.4,
		QualityWeight:     0.4,
		LatencyWeight:     0.2,
		RecoverySpeed:     0.7,
		PreferredCodec:    CodecHEVC,
		Chroma:            Chroma420,
	},
	ModeCinematic: {
		Mode:              ModeCinematic,
		TargetFps:         60,
		MinFps:            24,
		MaxFps:            60,
		FpsLadder:         []int{60, 48, 30, 24},
		TargetResolution:  Resolution4K,
		MinResolution:     Resolution1080p,
		ResolutionLadder:  []Resolution{Resolution4K, Resolution1440p, Resolution1080p},
		TargetBitrateKbps: 80_000,
		MinBitrateKbps:    15_000,
		MaxBitrateKbps:    150_000,
		JitterBufferMs:    50,
		MinFECRatio:       0.02,
		MaxFECRatio:       0.15,
		FpsWeight:         0.2,
		QualityWeight:     0.6,
		LatencyWeight:     0.2,
		RecoverySpeed:     0.4,
		PreferredCodec:    CodecAV1,
		Chroma:            Chroma420,
	},
	ModeCreative: {
		Mode:              ModeCreative,
		TargetFps:         60,
		MinFps:            30,
		MaxFps:            60,
		FpsLadder:         []int{60, 45, 30},
		TargetResolution:  Resolution4K,
		MinResolution:     Resolution1080p,
		ResolutionLadder:  []Resolution{Resolution4K, Resolution1440p, Resolution1080p},
		TargetBitrateKbps: 100_000,
		MinBitrateKbps:    20_000,
		MaxBitrateKbps:    200_000,
		JitterBufferMs:    30,
		MinFECRatio:       0.02,
		MaxFECRatio:       0.15,
		FpsWeight:         0.2,
		QualityWeight:     0.7,
		LatencyWeight:     0.1,
		RecoverySpeed:     0.5,
		PreferredCodec:    CodecHEVC,
		Chroma:            Chroma444,
	},
	ModeCAD: {
		Mode:              ModeCAD,
		TargetFps:         60,
		MinFps:            30,
		MaxFps:            60,
		FpsLadder:         []int{60, 30},
		TargetResolution:  Resolution8K,
		MinResolution:     Resolution1440p,
		ResolutionLadder:  []Resolution{Resolution8K, Resolution4K, Resolution1440p},
		TargetBitrateKbps: 150_000,
		MinBitrateKbps:    30_000,
		MaxBitrateKbps:    300_000,
		JitterBufferMs:    30,
		MinFECRatio:       0.01,
		MaxFECRatio:       0.10,
		FpsWeight:         0.1,
		QualityWeight:     0.8,
		LatencyWeight:     0.1,
		RecoverySpeed:     0.3,
		PreferredCodec:    CodecHEVC,
		Chroma:            Chroma444,
	},
	ModeMobileSaver: {
		Mode:              ModeMobileSaver,
		TargetFps:         30,
		MinFps:            24,
		MaxFps:            30,
		FpsLadder:         []int{30, 24},
		TargetResolution:  Resolution720p,
		MinResolution:     Resolution540p,
		ResolutionLadder:  []Resolution{Resolution720p, Resolution540p},
		TargetBitrateKbps: 4_000,
		MinBitrateKbps:    2_000,
		MaxBitrateKbps:    8_000,
		JitterBufferMs:    60,
		MinFECRatio:       0.10,
		MaxFECRatio:       0.30,
		FpsWeight:         0.3,
		QualityWeight:     0.3,
		LatencyWeight:     0.4,
		RecoverySpeed:     0.6,
		PreferredCodec:    CodecH264,
		Chroma:            Chroma420,
	},
	ModeLAN: {
		Mode:              ModeLAN,
		TargetFps:         120,
		MinFps:            60,
		MaxFps:            240,
		FpsLadder:         []int{240, 144, 120, 90, 60},
		TargetResolution:  Resolution4K,
		MinResolution:     Resolution1080p,
		ResolutionLadder:  []Resolution{Resolution4K, Resolution1440p, Resolution1080p},
		TargetBitrateKbps: 150_000,
		MinBitrateKbps:    50_000,
		MaxBitrateKbps:    300_000,
		JitterBufferMs:    2,
		MinFECRatio:       0.01,
		MaxFECRatio:       0.05,
		FpsWeight:         0.5,
		QualityWeight:     0.4,
		LatencyWeight:     0.1,
		RecoverySpeed:     1.0,
		PreferredCodec:    CodecHEVC,
		Chroma:            Chroma444,
	},
}

// GetPreset returns a copy of the preset of the mode. Unknown modes get Balanced.
func GetPreset(mode Mode) Preset {
	p, ok := presets[mode]
	if !ok {
		p = presets[ModeBalanced]
	}
	p.FpsLadder = append([]int{}, p.FpsLadder...)
	p.ResolutionLadder = append([]Resolution{}, p.ResolutionLadder...)
	return p
}

// PrefersFps reports whether frame rate is protected over picture quality.
func (p Preset) PrefersFps() bool {
	return p.FpsWeight > p.QualityWeight
}
