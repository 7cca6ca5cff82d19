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

package fec

import (
	"math"
	"sync"

	"github.com/klauspost/reedsolomon"
	"github.com/pkg/errors"

	"github.com/livekit/protocol/logger"
)

const (
	maxShards    = 256
	ratioEpsilon = 1e-9
)

var (
	ErrNoDataShards   = errors.New("no data shards")
	ErrShardSize      = errors.New("shard size mismatch")
	ErrTooManyShards  = errors.New("too many shards")
	ErrTooManyMissing = errors.New("too many missing shards")
	ErrInvalidRatio   = errors.New("invalid redundancy ratio")
	ErrShardCount     = errors.New("unexpected shard count")
	ErrReconstruction = errors.New("reconstruction failed")
)

type CoderParams struct {
	InitialRatio float64
	Logger       logger.Logger
}

// Coder protects groups of equally sized data shards with Reed-Solomon
// parity. The number of parity shards follows the redundancy ratio set by the
// congestion controller.
type Coder struct {
	params CoderParams

	lock     sync.RWMutex
	ratio    float64
	encoders map[[2]int]reedsolomon.Encoder
}

func NewCoder(params CoderParams) *Coder {
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	return &Coder{
		params:   params,
		ratio:    clampRatio(params.InitialRatio),
		encoders: make(map[[2]int]reedsolomon.Encoder),
	}
}

func (c *Coder) SetRedundancyRatio(ratio float64) {
	if math.IsNaN(ratio) {
		c.params.Logger.Warnw("ignoring redundancy ratio", ErrInvalidRatio)
		return
	}

	ratio = clampRatio(ratio)

	c.lock.Lock()
	changed := c.ratio != ratio
	c.ratio = ratio
	c.lock.Unlock()

	if changed {
		c.params.Logger.Debugw("redundancy ratio changed", "ratio", ratio)
	}
}

func (c *Coder) GetRedundancyRatio() float64 {
	c.lock.RLock()
	defer c.lock.RUnlock()

	return c.ratio
}

// ParityShards is the parity count for a group of dataShards at the current ratio.
func (c *Coder) ParityShards(dataShards int) int {
	return parityShards(dataShards, c.GetRedundancyRatio())
}

// Encode returns the parity shards for data. It returns no shards when the
// ratio is zero.
func (c *Coder) Encode(data [][]byte) ([][]byte, error) {
	if len(data) == 0 {
		return nil, ErrNoDataShards
	}
	size := len(data[0])
	for i, shard := range data {
		if len(shard) != size {
			return nil, errors.Wrapf(ErrShardSize, "shard %d: expected %d, got %d", i, size, len(shard))
		}
	}

	parity := c.ParityShards(len(data))
	if parity == 0 {
		return nil, nil
	}

	enc, err := c.encoder(len(data), parity)
	if err != nil {
		return nil, err
	}

	shards := make([][]byte, len(data)+parity)
	copy(shards, data)
	for i := len(data); i < len(shards); i++ {
		shards[i] = make([]byte, size)
	}
	if err := enc.Encode(shards); err != nil {
		return nil, errors.Wrap(err, "encode")
	}
	return shards[len(data):], nil
}

// Reconstruct fills in the nil entries of shards, data first followed by
// parity, in place.
func (c *Coder) Reconstruct(shards [][]byte, dataShards int) error {
	if dataShards <= 0 || len(shards) <= dataShards {
		return errors.Wrapf(ErrShardCount, "%d shards for %d data shards", len(shards), dataShards)
	}
	parity := len(shards) - dataShards

	missing := 0
	for _, shard := range shards {
		if len(shard) == 0 {
			missing++
		}
	}
	if missing == 0 {
		return nil
	}
	if missing > parity {
		return errors.Wrapf(ErrTooManyMissing, "%d missing, %d recoverable", missing, parity)
	}

	enc, err := c.encoder(dataShards, parity)
	if err != nil {
		return err
	}
	if err := enc.Reconstruct(shards); err != nil {
		return errors.Wrap(ErrReconstruction, err.Error())
	}
	return nil
}

func (c *Coder) encoder(data, parity int) (reedsolomon.Encoder, error) {
	if data+parity > maxShards {
		return nil, errors.Wrapf(ErrTooManyShards, "%d data, %d parity", data, parity)
	}

	key := [2]int{data, parity}
	c.lock.RLock()
	enc, ok := c.encoders[key]
	c.lock.RUnlock()
	if ok {
		return enc, nil
	}

	enc, err := reedsolomon.New(data, parity)
	if err != nil {
		return nil, errors.Wrap(err, "reedsolomon")
	}

	c.lock.Lock()
	c.encoders[key] = enc
	c.lock.Unlock()
	return enc, nil
}

func clampRatio(ratio float64) float64 {
	return math.Min(math.Max(ratio, 0), 1)
}

func parityShards(dataShards int, ratio float64) int {
	if dataShards <= 0 || ratio <= 0 {
		return 0
	}
	parity := int(math.Ceil(float64(dataShards)*ratio - ratioEpsilon))
	return min(parity, maxShards-dataShards)
}
