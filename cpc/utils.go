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

package cpc

import (
	"math/bits"

	"github.com/frankgrimes97/sketches-go/internal"
)

const (
	minLgK = 4
	maxLgK = 26
)

type cpcFlavor int

const (
	flavorEmpty   cpcFlavor = iota //    0  == C <    1
	flavorSparse                   //    1  <= C <   3K/32
	flavorHybrid                   // 3K/32 <= C <   K/2
	flavorPinned                   //   K/2 <= C < 27K/8
	flavorSliding                  // 27K/8 <= C
)

func (f cpcFlavor) String() string {
	switch f {
	case flavorEmpty:
		return "EMPTY"
	case flavorSparse:
		return "SPARSE"
	case flavorHybrid:
		return "HYBRID"
	case flavorPinned:
		return "PINNED"
	case flavorSliding:
		return "SLIDING"
	}
	return "UNKNOWN"
}

func checkLgK(lgK int) error {
	if lgK < minLgK || lgK > maxLgK {
		return internal.NewError(internal.ErrInvalidArgument,
			"lgK must be >= %d and <= %d: %d", minLgK, maxLgK, lgK)
	}
	return nil
}

func checkKappa(kappa int) error {
	if kappa < 1 || kappa > 3 {
		return internal.NewError(internal.ErrInvalidArgument,
			"kappa must be 1, 2 or 3: %d", kappa)
	}
	return nil
}

func checkSeeds(seedA, seedB uint64) error {
	if seedA != seedB {
		return internal.NewError(internal.ErrIncompatibleSeed,
			"%d, %d", seedA, seedB)
	}
	return nil
}

func determineFlavor(lgK int, numCoupons uint64) cpcFlavor {
	c := numCoupons
	k := uint64(1) << lgK
	if c == 0 {
		return flavorEmpty
	}
	if (c << 5) < 3*k {
		return flavorSparse
	}
	if (c << 1) < k {
		return flavorHybrid
	}
	if (c << 3) < 27*k {
		return flavorPinned
	}
	return flavorSliding
}

// determineCorrectOffset returns the window offset that corresponds to the
// given coupon count: max(0, floor((8C - 19K) / 8K)).
func determineCorrectOffset(lgK int, numCoupons uint64) int {
	c := int64(numCoupons)
	k := int64(1) << lgK
	tmp := (c << 3) - (19 * k)
	if tmp < 0 {
		return 0
	}
	return int(tmp >> (lgK + 3))
}

// bitMatrixOfSketch materializes the sketch's full coupon matrix, one 64-bit
// row per hash bucket. Bits below the window offset use flipped encoding in
// the pair table, which the default row pattern undoes.
func bitMatrixOfSketch(lgK int, windowOffset int, numCoupons uint64, window []byte, table *pairTable) []uint64 {
	k := 1 << lgK
	matrix := make([]uint64, k)
	if numCoupons == 0 {
		return matrix
	}

	// The early zone defaults to all ones; table entries there mark zeros.
	defaultRow := (uint64(1) << windowOffset) - 1
	for i := range matrix {
		matrix[i] = defaultRow
	}
	if window != nil {
		for i := 0; i < k; i++ {
			matrix[i] |= uint64(window[i]) << windowOffset
		}
	}
	if table != nil {
		for _, rowCol := range table.slotsArr {
			if rowCol != -1 {
				col := rowCol & 63
				row := rowCol >> 6
				matrix[row] ^= uint64(1) << col
			}
		}
	}
	return matrix
}

func countBitsSetInMatrix(matrix []uint64) uint64 {
	var count uint64
	for _, word := range matrix {
		count += uint64(bits.OnesCount64(word))
	}
	return count
}
