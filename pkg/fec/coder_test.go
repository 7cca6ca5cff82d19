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
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/livekit/protocol/logger"
)

func testShards(n, size int) [][]byte {
	shards := make([][]byte, n)
	for i := range shards {
		shards[i] = bytes.Repeat([]byte{byte(i + 1)}, size)
	}
	return shards
}

func TestParityShards(t *testing.T) {
	tests := []struct {
		data   int
		ratio  float64
		parity int
	}{
		{data: 10, ratio: 0, parity: 0},
		{data: 10, ratio: 0.05, parity: 1},
		{data: 10, ratio: 0.10, parity: 1},
		{data: 10, ratio: 0.20, parity: 2},
		{data: 10, ratio: 0.30, parity: 3},
		{data: 10, ratio: 0.50, parity: 5},
		{data: 7, ratio: 0.30, parity: 3},
		{data: 250, ratio: 1, parity: 6},
		{data: 0, ratio: 0.5, parity: 0},
	}
	for _, test := range tests {
		require.Equal(t, test.parity, parityShards(test.data, test.ratio), "data %d ratio %v", test.data, test.ratio)
	}
}

func TestRedundancyRatio(t *testing.T) {
	c := NewCoder(CoderParams{InitialRatio: 0.1, Logger: logger.GetLogger()})
	require.Equal(t, 0.1, c.GetRedundancyRatio())

	c.SetRedundancyRatio(0.3)
	require.Equal(t, 0.3, c.GetRedundancyRatio())

	c.SetRedundancyRatio(1.5)
	require.Equal(t, 1.0, c.GetRedundancyRatio())

	c.SetRedundancyRatio(-1)
	require.Zero(t, c.GetRedundancyRatio())
}

func TestEncodeReconstruct(t *testing.T) {
	c := NewCoder(CoderParams{InitialRatio: 0.3})

	data := testShards(10, 64)
	parity, err := c.Encode(data)
	require.NoError(t, err)
	require.Len(t, parity, 3)
	for _, p := range parity {
		require.Len(t, p, 64)
	}

	shards := append(append([][]byte{}, data...), parity...)
	shards[0] = nil
	shards[4] = nil
	shards[11] = nil
	require.NoError(t, c.Reconstruct(shards, 10))
	for i := range data {
		require.Equal(t, bytes.Repeat([]byte{byte(i + 1)}, 64), shards[i])
	}

	t.Run("too many missing", func(t *testing.T) {
		shards := append(append([][]byte{}, testShards(10, 64)...), parity...)
		shards[1], shards[2], shards[3], shards[5] = nil, nil, nil, nil
		err := c.Reconstruct(shards, 10)
		require.True(t, errors.Is(err, ErrTooManyMissing))
	})

	t.Run("nothing missing", func(t *testing.T) {
		shards := append(append([][]byte{}, testShards(10, 64)...), parity...)
		require.NoError(t, c.Reconstruct(shards, 10))
	})
}

func TestEncodeErrors(t *testing.T) {
	c := NewCoder(CoderParams{InitialRatio: 0.2})

	_, err := c.Encode(nil)
	require.ErrorIs(t, err, ErrNoDataShards)

	data := testShards(4, 16)
	data[2] = data[2][:8]
	_, err = c.Encode(data)
	require.True(t, errors.Is(err, ErrShardSize))

	require.True(t, errors.Is(c.Reconstruct(testShards(4, 16), 4), ErrShardCount))

	c.SetRedundancyRatio(0)
	parity, err := c.Encode(testShards(4, 16))
	require.NoError(t, err)
	require.Empty(t, parity)
}
