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

	"go.uber.org/zap/zapcore"
)

//go:generate go run github.com/maxbrunsfeld/counterfeiter/v6 -generate

//counterfeiter:generate . Encoder
type Encoder interface {
	Reconfigure(config EncoderConfig)
	ForceIDR()
}

//counterfeiter:generate . FEC
type FEC interface {
	SetRedundancyRatio(ratio float64)
	GetRedundancyRatio() float64
}

//counterfeiter:generate . DelayGradientSource
type DelayGradientSource interface {
	// GetDelayGradient returns the raw one way delay trend in ms/s
	GetDelayGradient() float64
}

// ------------------------------------------------

type State int

const (
	StateHold State = iota
	StateIncrease
	StateDecrease
)

func (s State) String() string {
	switch s {
	case StateHold:
		return "HOLD"
	case StateIncrease:
		return "INCREASE"
	case StateDecrease:
		return "DECREASE"
	default:
		return fmt.Sprintf("%d", int(s))
	}
}

// ------------------------------------------------

type Resolution struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

var (
	Resolution540p  = Resolution{Width: 960, Height: 540}
	Resolution720p  = Resolution{Width: 1280, Height: 720}
	Resolution900p  = Resolution{Width: 1600, Height: 900}
	Resolution1080p = Resolution{Width: 1920, Height: 1080}
	Resolution1440p = Resolution{Width: 2560, Height: 1440}
	Resolution4K    = Resolution{Width: 3840, Height: 2160}
	Resolution8K    = Resolution{Width: 7680, Height: 4320}
)

func (r Resolution) Pixels() int {
	return r.Width * r.Height
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// ------------------------------------------------

type Codec int

const (
	CodecH264 Codec = iota
	CodecHEVC
	CodecAV1
)

func (c Codec) String() string {
	switch c {
	case CodecH264:
		return "H264"
	case CodecHEVC:
		return "HEVC"
	case CodecAV1:
		return "AV1"
	default:
		return fmt.Sprintf("%d", int(c))
	}
}

type ChromaSubsampling int

const (
	Chroma420 ChromaSubsampling = iota
	Chroma444
)

func (c ChromaSubsampling) String() string {
	switch c {
	case Chroma420:
		return "4:2:0"
	case Chroma444:
		return "4:4:4"
	default:
		return fmt.Sprintf("%d", int(c))
	}
}

// ------------------------------------------------

type EncoderConfig struct {
	BitrateKbps int
	Fps         int
	Resolution  Resolution
	Codec       Codec
	Chroma      ChromaSubsampling
}

func (c EncoderConfig) MarshalLogObject(e zapcore.ObjectEncoder) error {
	e.AddInt("bitrateKbps", c.BitrateKbps)
	e.AddInt("fps", c.Fps)
	e.AddString("resolution", c.Resolution.String())
	e.AddString("codec", c.Codec.String())
	e.AddString("chroma", c.Chroma.String())
	return nil
}
