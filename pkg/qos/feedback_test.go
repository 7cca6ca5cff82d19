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
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/livekit/streamlink/pkg/qos"
)

func TestFeedbackCodec(t *testing.T) {
	sample := qos.FeedbackSample{
		ReceivedCount:      0x01020304,
		LostCount:          7,
		JitterMicros:       1500,
		LastSequence:       0xfffffffe,
		LastRecvTimeMicros: 0x0102030405060708,
		RTTMicros:          25_000,
	}

	b, err := sample.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, qos.FeedbackSampleSize)
	// big endian on the wire
	require.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, b[:4])
	require.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}, b[16:24])

	decoded, err := qos.UnmarshalFeedback(b)
	require.NoError(t, err)
	require.Equal(t, sample, decoded)

	// trailing bytes are ignored
	decoded, err = qos.UnmarshalFeedback(append(b, 0xff))
	require.NoError(t, err)
	require.Equal(t, sample, decoded)
}

func TestFeedbackMalformed(t *testing.T) {
	b, err := qos.FeedbackSample{ReceivedCount: 1}.MarshalBinary()
	require.NoError(t, err)

	_, err = qos.UnmarshalFeedback(b[:qos.FeedbackSampleSize-1])
	require.True(t, errors.Is(err, qos.ErrMalformedFeedback))

	sample := qos.FeedbackSample{LostCount: 3}
	require.Error(t, sample.UnmarshalBinary(nil))
	require.Equal(t, uint32(3), sample.LostCount)
}

func TestFeedbackLossRate(t *testing.T) {
	require.Zero(t, qos.FeedbackSample{}.LossRate())
	require.Equal(t, 0.25, qos.FeedbackSample{ReceivedCount: 3, LostCount: 1}.LossRate())
	require.Equal(t, 1.0, qos.FeedbackSample{LostCount: 5}.LossRate())
}
