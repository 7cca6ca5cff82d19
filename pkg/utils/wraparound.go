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

package utils

import (
	"unsafe"
)

type number interface {
	uint16 | uint32
}

type extendedNumber interface {
	uint32 | uint64
}

// WrapAround extends a wrapping counter, such as a sequence number, into a
// wider monotonic space.
type WrapAround[T number, ET extendedNumber] struct {
	fullRange ET

	initialized bool
	start       T
	highest     T
	cycles      int
}

func NewWrapAround[T number, ET extendedNumber]() *WrapAround[T, ET] {
	var t T
	return &WrapAround[T, ET]{
		fullRange: 1 << (unsafe.Sizeof(t) * 8),
	}
}

type WrapAroundUpdateResult[ET extendedNumber] struct {
	IsRestart          bool
	IsOutOfOrder       bool
	IsDuplicate        bool
	PreExtendedHighest ET
	ExtendedVal        ET
}

func (w *WrapAround[T, ET]) Update(val T) (result WrapAroundUpdateResult[ET]) {
	if !w.initialized {
		result.PreExtendedHighest = ET(val)
		result.ExtendedVal = ET(val)

		w.start = val
		w.highest = val
		w.initialized = true
		return
	}

	result.PreExtendedHighest = w.GetExtendedHighest()

	gap := val - w.highest
	switch {
	case gap == 0:
		result.IsDuplicate = true
		result.ExtendedVal = result.PreExtendedHighest

	case gap > T(w.fullRange>>1):
		// older than highest
		result.IsOutOfOrder = true
		behind := ET(w.highest - val)
		if behind > result.PreExtendedHighest {
			// older than anything seen, move the start back a cycle
			result.IsRestart = true
			w.cycles++
			w.start = val
			result.ExtendedVal = ET(val)
			return
		}
		result.ExtendedVal = result.PreExtendedHighest - behind

	default:
		if val < w.highest {
			w.cycles++
		}
		w.highest = val
		result.ExtendedVal = w.GetExtendedHighest()
	}
	return
}

func (w *WrapAround[T, ET]) IsInitialized() bool {
	return w.initialized
}

func (w *WrapAround[T, ET]) GetStart() T {
	return w.start
}

func (w *WrapAround[T, ET]) GetHighest() T {
	return w.highest
}

func (w *WrapAround[T, ET]) GetExtendedHighest() ET {
	return ET(w.cycles)*w.fullRange + ET(w.highest)
}
