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
	"encoding/binary"

	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
)

// FeedbackSampleSize is the size of an encoded feedback record.
//
//	0                   1                   2                   3
//	0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                        received count                         |
//	|                          lost count                           |
//	|                        jitter (micros)                        |
//	|                         last sequence                         |
//	|                  last receive time (micros)                   |
//	|                                                               |
//	|                          rtt (micros)                         |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
const FeedbackSampleSize = 28

var ErrMalformedFeedback = errors.New("malformed feedback sample")

// FeedbackSample is the periodic receiver report of the remote peer.
type FeedbackSample struct {
	ReceivedCount      uint32
	LostCount          uint32
	JitterMicros       uint32
	LastSequence       uint32
	LastRecvTimeMicros uint64
	RTTMicros          uint32
}

func (f FeedbackSample) LossRate() float64 {
	total := uint64(f.ReceivedCount) + uint64(f.LostCount)
	if total == 0 {
		return 0
	}
	return float64(f.LostCount) / float64(total)
}

func (f FeedbackSample) MarshalBinary() ([]byte, error) {
	b := make([]byte, FeedbackSampleSize)
	f.MarshalTo(b)
	return b, nil
}

// MarshalTo writes the record into b, which must hold FeedbackSampleSize bytes.
func (f FeedbackSample) MarshalTo(b []byte) int {
	_ = b[FeedbackSampleSize-1]
	binary.BigEndian.PutUint32(b[0:], f.ReceivedCount)
	binary.BigEndian.PutUint32(b[4:], f.LostCount)
	binary.BigEndian.PutUint32(b[8:], f.JitterMicros)
	binary.BigEndian.PutUint32(b[12:], f.LastSequence)
	binary.BigEndian.PutUint64(b[16:], f.LastRecvTimeMicros)
	binary.BigEndian.PutUint32(b[24:], f.RTTMicros)
	return FeedbackSampleSize
}

func (f *FeedbackSample) UnmarshalBinary(b []byte) error {
	if len(b) < FeedbackSampleSize {
		return errors.Wrapf(ErrMalformedFeedback, "need %d bytes, got %d", FeedbackSampleSize, len(b))
	}
	f.ReceivedCount = binary.BigEndian.Uint32(b[0:])
	f.LostCount = binary.BigEndian.Uint32(b[4:])
	f.JitterMicros = binary.BigEndian.Uint32(b[8:])
	f.LastSequence = binary.BigEndian.Uint32(b[12:])
	f.LastRecvTimeMicros = binary.BigEndian.Uint64(b[16:])
	f.RTTMicros = binary.BigEndian.Uint32(b[24:])
	return nil
}

func UnmarshalFeedback(b []byte) (FeedbackSample, error) {
	var f FeedbackSample
	err := f.UnmarshalBinary(b)
	return f, err
}

func (f FeedbackSample) MarshalLogObject(e zapcore.ObjectEncoder) error {
	e.AddUint32("received", f.ReceivedCount)
	e.AddUint32("lost", f.LostCount)
	e.AddUint32("jitterMicros", f.JitterMicros)
	e.AddUint32("lastSequence", f.LastSequence)
	e.AddUint64("lastRecvTimeMicros", f.LastRecvTimeMicros)
	e.AddUint32("rttMicros", f.RTTMicros)
	return nil
}
