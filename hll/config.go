/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package hll implements the HyperLogLog sketch for streaming cardinality
// estimation, with significantly improved error behavior through the HIP
// estimator and a compact warm-up phase. A sketch starts as a short coupon
// list, grows into a coupon hash set, and finally becomes a register array
// at one of three bit widths (4, 6 or 8 bits per register).
package hll

import (
	"fmt"
	"math"

	"github.com/frankgrimes97/sketches-go/internal"
)

// TgtHllType is the target register width of the dense HLL representation.
// All three widths are isomorphic: given the same lgConfigK and input they
// produce identical estimates.
type TgtHllType int

const (
	TgtHllTypeHll4    = TgtHllType(0)
	TgtHllTypeHll6    = TgtHllType(1)
	TgtHllTypeHll8    = TgtHllType(2)
	TgtHllTypeDefault = TgtHllTypeHll4
)

func (t TgtHllType) String() string {
	switch t {
	case TgtHllTypeHll4:
		return "HLL_4"
	case TgtHllTypeHll6:
		return "HLL_6"
	case TgtHllTypeHll8:
		return "HLL_8"
	}
	return "UNKNOWN"
}

// curMode is the live representation tag: LIST, SET or HLL.
type curMode int

const (
	curModeList curMode = 0
	curModeSet  curMode = 1
	curModeHll  curMode = 2
)

func (m curMode) String() string {
	switch m {
	case curModeList:
		return "LIST"
	case curModeSet:
		return "SET"
	case curModeHll:
		return "HLL"
	}
	return "UNKNOWN"
}

const (
	defaultLgK     = 12
	lgInitListSize = 3
	lgInitSetSize  = 5

	minLogK = 4
	maxLogK = 21

	empty        = 0
	keyBits26    = 26
	valBits6     = 6
	keyMask26    = (1 << keyBits26) - 1
	valMask6     = (1 << valBits6) - 1
	resizeNumber = 3
	resizeDenom  = 4

	couponRSEFactor = .409 // at the transition point, not the asymptote
	couponRSE       = couponRSEFactor / (1 << 13)

	hiNibbleMask = 0xf0
	loNibbleMask = 0x0f

	auxToken = 0xf
)

var (
	hllNonHipRSEFactor = math.Sqrt((3.0 * math.Log(2.0)) - 1.0) //1.03896
	hllHipRSEFactor    = math.Sqrt(math.Log(2.0))               //.8325546
)

// lgAuxArrInts is the log2 of the initial exception table size per lgK.
var lgAuxArrInts = []int{
	0, 2, 2, 2, 2, 2, 2, 3, 3, 3, //0 - 9
	4, 4, 5, 5, 6, 7, 8, 9, 10, 11, //10 - 19
	12, 13, //20 - 21
}

func checkLgK(lgK int) (int, error) {
	if lgK >= minLogK && lgK <= maxLogK {
		return lgK, nil
	}
	return 0, internal.NewError(internal.ErrInvalidArgument,
		"log K must be between %d and %d, inclusive: %d", minLogK, maxLogK, lgK)
}

func checkNumStdDev(numStdDev int) error {
	if numStdDev < 1 || numStdDev > 3 {
		return internal.NewError(internal.ErrInvalidArgument,
			"numStdDev may not be less than 1 or greater than 3: %d", numStdDev)
	}
	return nil
}

// pair packs a register slot into the low 26 bits and its value into the
// next 6 bits.
func pair(slotNo int, value int) int {
	return (value << keyBits26) | (slotNo & keyMask26)
}

func getPairLow26(pair int) int {
	return pair & keyMask26
}

func getPairValue(pair int) int {
	return pair >> keyBits26
}

func pairString(pair int) string {
	return fmt.Sprintf("SlotNo: %d, Value: %d", getPairLow26(pair), getPairValue(pair))
}
