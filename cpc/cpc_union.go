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

// CpcUnion folds peer sketches into a single result. Mathematically the
// union is the bit-wise OR of the peers' coupon matrices. While every input
// is still sparse the union keeps collecting coupons into an accumulator
// sketch; once any input graduates past sparse it switches to a full-size
// bit matrix. Exactly one of the two is non-nil at any moment.
type CpcUnion struct {
	seed uint64
	lgK  int

	bitMatrix   []uint64
	accumulator *CpcSketch
}

// NewCpcUnion returns an empty union of the given lgK and seed. Source
// sketches with a smaller lgK downsample the union to their size.
func NewCpcUnion(lgK int, seed uint64) (*CpcUnion, error) {
	acc, err := NewCpcSketch(lgK, seed)
	if err != nil {
		return nil, err
	}
	return &CpcUnion{
		seed:        seed,
		lgK:         lgK,
		accumulator: acc,
	}, nil
}

// NewCpcUnionWithDefault returns an empty union using the default seed.
func NewCpcUnionWithDefault(lgK int) (*CpcUnion, error) {
	return NewCpcUnion(lgK, internal.DefaultUpdateSeed)
}

// GetLgK returns the union's current lgK, which may have been reduced by a
// smaller source sketch.
func (u *CpcUnion) GetLgK() int {
	return u.lgK
}

// Update folds the source sketch into the union.
func (u *CpcUnion) Update(source *CpcSketch) error {
	if source == nil {
		return nil
	}
	if err := checkSeeds(u.seed, source.seed); err != nil {
		return err
	}
	sourceFlavor := source.getFlavor()
	if sourceFlavor == flavorEmpty {
		return nil
	}
	if err := u.checkUnionState(); err != nil {
		return err
	}
	if source.lgK < u.lgK {
		if err := u.reduceUnionK(source.lgK); err != nil {
			return err
		}
	}

	// Once a source is past SPARSE the union must be in matrix form.
	if sourceFlavor > flavorSparse && u.accumulator != nil {
		u.bitMatrix = u.accumulator.bitMatrix()
		u.accumulator = nil
	}

	if u.accumulator != nil { // source must be SPARSE here
		if u.accumulator.getFlavor() == flavorEmpty && u.lgK == source.lgK {
			u.accumulator = source.Copy()
			return nil
		}
		if err := walkTableUpdatingSketch(u.accumulator, source.pairTable); err != nil {
			return err
		}
		if u.accumulator.getFlavor() > flavorSparse {
			u.bitMatrix = u.accumulator.bitMatrix()
			u.accumulator = nil
		}
		return nil
	}

	switch sourceFlavor {
	case flavorSparse:
		u.orTableIntoMatrix(source.pairTable)
	case flavorHybrid, flavorPinned:
		if err := u.orWindowIntoMatrix(source.slidingWindow, source.windowOffset, source.lgK); err != nil {
			return err
		}
		u.orTableIntoMatrix(source.pairTable)
	default: // SLIDING: the early zone's flipped zeros force a full matrix
		if err := u.orMatrixIntoMatrix(source.bitMatrix(), source.lgK); err != nil {
			return err
		}
	}
	return nil
}

// GetResult returns a sketch equivalent to the union of all sources. The
// result carries the merge flag, so only the ICON estimator applies.
func (u *CpcUnion) GetResult() (*CpcSketch, error) {
	if err := u.checkUnionState(); err != nil {
		return nil, err
	}

	if u.accumulator != nil {
		if u.accumulator.numCoupons == 0 {
			result, err := NewCpcSketch(u.lgK, u.seed)
			if err != nil {
				return nil, err
			}
			result.mergeFlag = true
			return result, nil
		}
		if u.accumulator.getFlavor() != flavorSparse {
			return nil, internal.NewError(internal.ErrFormat, "accumulator must be SPARSE")
		}
		result := u.accumulator.Copy()
		result.mergeFlag = true
		return result, nil
	}

	lgK := u.lgK
	result, err := NewCpcSketch(lgK, u.seed)
	if err != nil {
		return nil, err
	}
	numCoupons := countBitsSetInMatrix(u.bitMatrix)
	result.numCoupons = numCoupons
	if determineFlavor(lgK, numCoupons) <= flavorSparse {
		return nil, internal.NewError(internal.ErrFormat, "matrix-mode union flavor must be above SPARSE")
	}

	offset := determineCorrectOffset(lgK, numCoupons)
	result.windowOffset = offset

	k := 1 << lgK
	window := make([]byte, k)
	result.slidingWindow = window

	table, err := newPairTable(max(lgK-4, 2), 6+lgK)
	if err != nil {
		return nil, err
	}
	result.pairTable = table

	maskForClearingWindow := ^(uint64(0xFF) << offset)
	maskForFlippingEarlyZone := (uint64(1) << offset) - 1
	allSurprisesORed := uint64(0)

	for i := 0; i < k; i++ {
		pattern := u.bitMatrix[i]
		window[i] = byte((pattern >> offset) & 0xFF)
		pattern &= maskForClearingWindow
		pattern ^= maskForFlippingEarlyZone
		allSurprisesORed |= pattern
		for pattern != 0 {
			col := bits.TrailingZeros64(pattern)
			pattern ^= uint64(1) << col
			isNovel, err := table.maybeInsert((i << 6) | col)
			if err != nil {
				return nil, err
			}
			if !isNovel {
				return nil, internal.NewError(internal.ErrFormat, "duplicate surprise in union result")
			}
		}
	}
	result.fiCol = bits.TrailingZeros64(allSurprisesORed)
	if result.fiCol > offset {
		result.fiCol = offset
	}
	result.mergeFlag = true
	return result, nil
}

func (u *CpcUnion) checkUnionState() error {
	if (u.accumulator != nil) == (u.bitMatrix != nil) {
		return internal.NewError(internal.ErrFormat,
			"exactly one of accumulator and bitMatrix must be valid")
	}
	if u.accumulator != nil {
		if u.accumulator.numCoupons > 0 &&
			(u.accumulator.slidingWindow != nil || u.accumulator.pairTable == nil) {
			return internal.NewError(internal.ErrFormat, "non-empty union accumulator must be SPARSE")
		}
		if u.lgK != u.accumulator.lgK {
			return internal.NewError(internal.ErrFormat, "union lgK must equal accumulator lgK")
		}
	}
	return nil
}

func (u *CpcUnion) reduceUnionK(newLgK int) error {
	if newLgK >= u.lgK {
		return nil
	}
	if u.bitMatrix != nil {
		newMatrix := make([]uint64, 1<<newLgK)
		destMask := (1 << newLgK) - 1
		for row, pattern := range u.bitMatrix {
			newMatrix[row&destMask] |= pattern
		}
		u.bitMatrix = newMatrix
		u.lgK = newLgK
		return nil
	}
	oldSketch := u.accumulator
	if oldSketch.numCoupons == 0 {
		acc, err := NewCpcSketch(newLgK, oldSketch.seed)
		if err != nil {
			return err
		}
		u.accumulator = acc
		u.lgK = newLgK
		return nil
	}
	newSketch, err := NewCpcSketch(newLgK, oldSketch.seed)
	if err != nil {
		return err
	}
	if err := walkTableUpdatingSketch(newSketch, oldSketch.pairTable); err != nil {
		return err
	}
	u.lgK = newLgK
	if newSketch.getFlavor() == flavorSparse {
		u.accumulator = newSketch
		return nil
	}
	u.bitMatrix = newSketch.bitMatrix()
	u.accumulator = nil
	return nil
}

func (u *CpcUnion) orWindowIntoMatrix(srcWindow []byte, srcOffset int, srcLgK int) error {
	if u.lgK > srcLgK {
		return internal.NewError(internal.ErrFormat, "union lgK must be <= source lgK")
	}
	destMask := (1 << u.lgK) - 1 // downsamples when the union lgK is smaller
	srcK := 1 << srcLgK
	for srcRow := 0; srcRow < srcK; srcRow++ {
		u.bitMatrix[srcRow&destMask] |= uint64(srcWindow[srcRow]) << srcOffset
	}
	return nil
}

func (u *CpcUnion) orTableIntoMatrix(srcTable *pairTable) {
	destMask := (1 << u.lgK) - 1
	for _, rowCol := range srcTable.slotsArr {
		if rowCol != -1 {
			col := rowCol & 63
			row := rowCol >> 6
			u.bitMatrix[row&destMask] |= uint64(1) << col
		}
	}
}

func (u *CpcUnion) orMatrixIntoMatrix(srcMatrix []uint64, srcLgK int) error {
	if u.lgK > srcLgK {
		return internal.NewError(internal.ErrFormat, "union lgK must be <= source lgK")
	}
	destMask := (1 << u.lgK) - 1
	for srcRow, pattern := range srcMatrix {
		u.bitMatrix[srcRow&destMask] |= pattern
	}
	return nil
}

func (u *CpcUnion) getNumCoupons() uint64 {
	if u.bitMatrix != nil {
		return countBitsSetInMatrix(u.bitMatrix)
	}
	return u.accumulator.numCoupons
}

// walkTableUpdatingSketch feeds every pair of the table into the destination
// sketch, downsampling rows if the destination is smaller.
func walkTableUpdatingSketch(dest *CpcSketch, table *pairTable) error {
	destMask := (((1 << dest.lgK) - 1) << 6) | 63 // downsamples when dest lgK < src lgK
	for _, rowCol := range table.slotsArr {
		if rowCol != -1 {
			if err := dest.rowColUpdate(rowCol & destMask); err != nil {
				return err
			}
		}
	}
	return nil
}

// Merge folds the peer sketch into this one. The peers must share lgK and
// seed. On error the receiver is left untouched; on success the receiver
// carries the merge flag and only the ICON estimator applies.
func (c *CpcSketch) Merge(other *CpcSketch) error {
	if other == nil {
		return nil
	}
	if c.lgK != other.lgK {
		return internal.NewError(internal.ErrInvalidArgument,
			"peer lgK %d does not match %d", other.lgK, c.lgK)
	}
	if err := checkSeeds(c.seed, other.seed); err != nil {
		return err
	}
	union, err := NewCpcUnion(c.lgK, c.seed)
	if err != nil {
		return err
	}
	if err := union.Update(c); err != nil {
		return err
	}
	if err := union.Update(other); err != nil {
		return err
	}
	result, err := union.GetResult()
	if err != nil {
		return err
	}
	*c = *result
	return nil
}
