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
	"go.uber.org/zap/zapcore"
)

type KalmanConfig struct {
	ProcessNoise     float64 `yaml:"process_noise,omitempty"`
	MeasurementNoise float64 `yaml:"measurement_noise,omitempty"`
	InitialVariance  float64 `yaml:"initial_variance,omitempty"`
}

var DefaultKalmanConfig = KalmanConfig{
	ProcessNoise:     1e-3,
	MeasurementNoise: 0.1,
	InitialVariance:  1.0,
}

// KalmanFilter is a scalar random walk filter. It holds no goroutines and is
// not safe for concurrent use.
type KalmanFilter struct {
	config KalmanConfig

	estimate float64
	variance float64
}

func NewKalmanFilter(config KalmanConfig) *KalmanFilter {
	if config.ProcessNoise <= 0 {
		config.ProcessNoise = DefaultKalmanConfig.ProcessNoise
	}
	if config.MeasurementNoise <= 0 {
		config.MeasurementNoise = DefaultKalmanConfig.MeasurementNoise
	}
	if config.InitialVariance <= 0 {
		config.InitialVariance = DefaultKalmanConfig.InitialVariance
	}
	return &KalmanFilter{
		config:   config,
		variance: config.InitialVariance,
	}
}

// Update folds in measurement z and returns the new estimate.
func (k *KalmanFilter) Update(z float64) float64 {
	predicted := k.variance + k.config.ProcessNoise
	gain := predicted / (predicted + k.config.MeasurementNoise)
	k.estimate += gain * (z - k.estimate)
	k.variance = (1 - gain) * predicted
	return k.estimate
}

func (k *KalmanFilter) Estimate() float64 {
	return k.estimate
}

func (k *KalmanFilter) Variance() float64 {
	return k.variance
}

func (k *KalmanFilter) Reset() {
	k.estimate = 0
	k.variance = k.config.InitialVariance
}

func (k *KalmanFilter) MarshalLogObject(e zapcore.ObjectEncoder) error {
	e.AddFloat64("estimate", k.estimate)
	e.AddFloat64("variance", k.variance)
	return nil
}
