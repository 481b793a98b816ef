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

// Package cpc implements the Compressed Probabilistic Counting sketch, a
// distinct-counting sketch with accuracy per stored byte that is superior to
// HLL, at some cost in update speed. Its serialized form is compressed.
package cpc

import (
	"encoding/binary"
	"math"
	"math/bits"
	"unsafe"

	"github.com/frankgrimes97/sketches-go/internal"
)

// CpcSketch is an update-only distinct counting sketch. It transitions
// through increasingly dense internal flavors (sparse table, then a sliding
// window of the coupon matrix plus a table of surprising values) as coupons
// accumulate.
type CpcSketch struct {
	seed uint64

	lgK        int
	numCoupons uint64 // distinct coupons collected so far
	mergeFlag  bool   // true if this sketch is the result of a union
	fiCol      int    // first interesting column, a speed and size optimization

	windowOffset  int
	slidingWindow []byte     // nil or K bytes
	pairTable     *pairTable // nil or the surprising-value table

	// HIP accumulators, valid only while mergeFlag is false.
	kxp         float64
	hipEstAccum float64

	scratch [8]byte
}

// NewCpcSketch returns an empty sketch of the given lgK and seed.
func NewCpcSketch(lgK int, seed uint64) (*CpcSketch, error) {
	if err := checkLgK(lgK); err != nil {
		return nil, err
	}
	return &CpcSketch{
		lgK:  lgK,
		seed: seed,
		kxp:  float64(int64(1) << lgK),
	}, nil
}

// NewCpcSketchWithDefault returns an empty sketch using the default seed.
func NewCpcSketchWithDefault(lgK int) (*CpcSketch, error) {
	return NewCpcSketch(lgK, internal.DefaultUpdateSeed)
}

// GetLgK returns the configured lgK.
func (c *CpcSketch) GetLgK() int {
	return c.lgK
}

// IsEmpty returns true if the sketch has collected no coupons.
func (c *CpcSketch) IsEmpty() bool {
	return c.numCoupons == 0
}

// GetNumCoupons returns the number of distinct coupons collected.
func (c *CpcSketch) GetNumCoupons() uint64 {
	return c.numCoupons
}

func (c *CpcSketch) isMerged() bool {
	return c.mergeFlag
}

// GetEstimate returns the cardinality estimate: the HIP estimator for a
// single-stream sketch, the ICON estimator after any union.
func (c *CpcSketch) GetEstimate() float64 {
	if c.mergeFlag {
		return iconEstimate(c.lgK, c.numCoupons)
	}
	return c.hipEstAccum
}

// GetLowerBound returns the approximate lower confidence bound for
// kappa (1, 2 or 3) standard deviations.
func (c *CpcSketch) GetLowerBound(kappa int) (float64, error) {
	if err := checkKappa(kappa); err != nil {
		return 0, err
	}
	if c.mergeFlag {
		return iconConfidenceLB(c.lgK, c.numCoupons, kappa), nil
	}
	return hipConfidenceLB(c.lgK, c.numCoupons, c.hipEstAccum, kappa), nil
}

// GetUpperBound returns the approximate upper confidence bound for
// kappa (1, 2 or 3) standard deviations.
func (c *CpcSketch) GetUpperBound(kappa int) (float64, error) {
	if err := checkKappa(kappa); err != nil {
		return 0, err
	}
	if c.mergeFlag {
		return iconConfidenceUB(c.lgK, c.numCoupons, kappa), nil
	}
	return hipConfidenceUB(c.lgK, c.numCoupons, c.hipEstAccum, kappa), nil
}

func (c *CpcSketch) UpdateUint64(datum uint64) error {
	binary.LittleEndian.PutUint64(c.scratch[:], datum)
	hashLo, hashHi := internal.HashSlice128(c.scratch[:], c.seed)
	return c.hashUpdate(hashLo, hashHi)
}

func (c *CpcSketch) UpdateInt64(datum int64) error {
	return c.UpdateUint64(uint64(datum))
}

func (c *CpcSketch) UpdateFloat64(datum float64) error {
	binary.LittleEndian.PutUint64(c.scratch[:], math.Float64bits(datum))
	hashLo, hashHi := internal.HashSlice128(c.scratch[:], c.seed)
	return c.hashUpdate(hashLo, hashHi)
}

func (c *CpcSketch) UpdateSlice(datum []byte) error {
	if len(datum) == 0 {
		return nil
	}
	hashLo, hashHi := internal.HashSlice128(datum, c.seed)
	return c.hashUpdate(hashLo, hashHi)
}

func (c *CpcSketch) UpdateInt64Slice(datum []int64) error {
	if len(datum) == 0 {
		return nil
	}
	hashLo, hashHi := internal.HashInt64Slice128(datum, c.seed)
	return c.hashUpdate(hashLo, hashHi)
}

func (c *CpcSketch) UpdateString(datum string) error {
	// a view of the string data, avoiding a copy to the heap
	return c.UpdateSlice(unsafe.Slice(unsafe.StringData(datum), len(datum)))
}

func (c *CpcSketch) hashUpdate(hash0, hash1 uint64) error {
	col := bits.LeadingZeros64(hash1)
	if col > 63 {
		col = 63
	}
	if col < c.fiCol {
		return nil // the column cannot matter, an important speed optimization
	}
	row := int(hash0 & ((uint64(1) << c.lgK) - 1))
	rowCol := (row << 6) | col

	// rowCol is non-negative and below 2^32, so it never equals the pair
	// table's empty marker (-1): this guard does not fire, and the cell
	// (2^26-1, 63) is stored as is.
	if rowCol == -1 {
		rowCol ^= 1 << 6
	}
	return c.rowColUpdate(rowCol)
}

func (c *CpcSketch) rowColUpdate(rowCol int) error {
	col := rowCol & 63
	if col < c.fiCol {
		return nil
	}
	if c.numCoupons == 0 {
		if err := c.promoteEmptyToSparse(); err != nil {
			return err
		}
	}
	k := uint64(1) << c.lgK
	if (c.numCoupons << 5) < 3*k {
		return c.updateSparse(rowCol)
	}
	return c.updateWindowed(rowCol)
}

func (c *CpcSketch) promoteEmptyToSparse() error {
	table, err := newPairTable(2, 6+c.lgK)
	if err != nil {
		return err
	}
	c.pairTable = table
	return nil
}

func (c *CpcSketch) updateSparse(rowCol int) error {
	k := uint64(1) << c.lgK
	if c.pairTable == nil {
		return internal.NewError(internal.ErrFormat, "sparse sketch has no pair table")
	}
	isNovel, err := c.pairTable.maybeInsert(rowCol)
	if err != nil {
		return err
	}
	if !isNovel {
		return nil
	}
	c.numCoupons++
	c.updateHIP(rowCol)
	if (c.numCoupons << 5) >= 3*k {
		return c.promoteSparseToWindowed()
	}
	return nil
}

// promoteSparseToWindowed materializes the 8-column sliding window at
// offset zero and rebuilds the table with only out-of-window coupons.
func (c *CpcSketch) promoteSparseToWindowed() error {
	k := 1 << c.lgK
	window := make([]byte, k)
	newTable, err := newPairTable(2, 6+c.lgK)
	if err != nil {
		return err
	}
	for _, rowCol := range c.pairTable.slotsArr {
		if rowCol == -1 {
			continue
		}
		col := rowCol & 63
		if col < 8 {
			row := rowCol >> 6
			window[row] |= 1 << col
		} else {
			isNovel, err := newTable.maybeInsert(rowCol)
			if err != nil {
				return err
			}
			if !isNovel {
				return internal.NewError(internal.ErrFormat, "duplicate coupon during promotion")
			}
		}
	}
	c.slidingWindow = window
	c.pairTable = newTable
	return nil
}

func (c *CpcSketch) updateWindowed(rowCol int) error {
	if c.windowOffset < 0 || c.windowOffset > 56 {
		return internal.NewError(internal.ErrFormat, "illegal window offset: %d", c.windowOffset)
	}
	k := uint64(1) << c.lgK
	col := rowCol & 63

	isNovel := false
	var err error
	switch {
	case col < c.windowOffset:
		// A surprising zero before the window: the table tracks absent
		// coupons there with inverted logic, so a successful delete means
		// this coupon is novel.
		isNovel, err = c.pairTable.maybeDelete(rowCol)
	case col < c.windowOffset+8:
		row := rowCol >> 6
		oldBits := c.slidingWindow[row]
		newBits := oldBits | (1 << (col - c.windowOffset))
		if newBits != oldBits {
			c.slidingWindow[row] = newBits
			isNovel = true
		}
	default:
		// A surprising one after the window.
		isNovel, err = c.pairTable.maybeInsert(rowCol)
	}
	if err != nil {
		return err
	}
	if !isNovel {
		return nil
	}
	c.numCoupons++
	c.updateHIP(rowCol)
	w8 := uint64(c.windowOffset) << 3
	if (c.numCoupons << 3) >= (27+w8)*k {
		return c.modifyOffset(c.windowOffset + 1)
	}
	return nil
}

// modifyOffset slides the window right by one column, rebuilding the window
// bytes and the surprising-value table from the materialized matrix.
func (c *CpcSketch) modifyOffset(newOffset int) error {
	if newOffset < 1 || newOffset > 56 {
		return internal.NewError(internal.ErrFormat, "illegal new window offset: %d", newOffset)
	}
	if c.slidingWindow == nil || c.pairTable == nil {
		return internal.NewError(internal.ErrFormat, "windowed sketch is missing state")
	}
	k := 1 << c.lgK
	matrix := c.bitMatrix()

	// Refresh the KXP register on every 8th window shift to keep the HIP
	// accumulator free of float drift.
	if (newOffset & 0x7) == 0 {
		c.refreshKxp(matrix)
	}

	c.pairTable.clear()
	maskForClearingWindow := ^(uint64(0xFF) << newOffset)
	maskForFlippingEarlyZone := (uint64(1) << newOffset) - 1
	allSurprisesORed := uint64(0)

	for i := 0; i < k; i++ {
		pattern := matrix[i]
		c.slidingWindow[i] = byte((pattern >> newOffset) & 0xFF)
		pattern &= maskForClearingWindow
		pattern ^= maskForFlippingEarlyZone // converts surprising 0s to 1s
		allSurprisesORed |= pattern
		for pattern != 0 {
			col := bits.TrailingZeros64(pattern)
			pattern ^= uint64(1) << col
			rowCol := (i << 6) | col
			isNovel, err := c.pairTable.maybeInsert(rowCol)
			if err != nil {
				return err
			}
			if !isNovel {
				return internal.NewError(internal.ErrFormat, "duplicate surprise during window slide")
			}
		}
	}
	c.windowOffset = newOffset
	c.fiCol = bits.TrailingZeros64(allSurprisesORed)
	if c.fiCol > newOffset {
		c.fiCol = newOffset // corner case
	}
	return nil
}

func (c *CpcSketch) updateHIP(rowCol int) {
	k := float64(int64(1) << c.lgK)
	col := rowCol & 63
	c.hipEstAccum += k / c.kxp
	inv, _ := internal.InvPow2(col + 1)
	c.kxp -= inv
}

// refreshKxp recomputes kxp exactly from the bit matrix: the sum over all
// cells not yet collected of 2^(-(col+1)).
func (c *CpcSketch) refreshKxp(matrix []uint64) {
	lookup := kxpByteLookup()
	var byteSums [8]float64
	for _, row := range matrix {
		for i := 0; i < 8; i++ {
			byteSums[i] += lookup[row&0xFF]
			row >>= 8
		}
	}
	total := 0.0
	for j := 7; j >= 0; j-- {
		factor, _ := internal.InvPow2(8 * j)
		total += factor * byteSums[j]
	}
	c.kxp = total
}

func (c *CpcSketch) bitMatrix() []uint64 {
	return bitMatrixOfSketch(c.lgK, c.windowOffset, c.numCoupons, c.slidingWindow, c.pairTable)
}

// Validate materializes the bit matrix and verifies that its population
// count equals the recorded coupon count. This catches most forms of
// corruption introduced during a serialization round trip.
func (c *CpcSketch) Validate() bool {
	return countBitsSetInMatrix(c.bitMatrix()) == c.numCoupons
}

// Reset returns the sketch to the empty state, keeping lgK and seed.
func (c *CpcSketch) Reset() {
	c.numCoupons = 0
	c.mergeFlag = false
	c.fiCol = 0
	c.windowOffset = 0
	c.slidingWindow = nil
	c.pairTable = nil
	c.kxp = float64(int64(1) << c.lgK)
	c.hipEstAccum = 0
}

// Copy returns a deep copy of this sketch.
func (c *CpcSketch) Copy() *CpcSketch {
	cp := *c
	if c.slidingWindow != nil {
		cp.slidingWindow = make([]byte, len(c.slidingWindow))
		copy(cp.slidingWindow, c.slidingWindow)
	}
	if c.pairTable != nil {
		cp.pairTable = c.pairTable.copy()
	}
	return &cp
}

func (c *CpcSketch) getFlavor() cpcFlavor {
	return determineFlavor(c.lgK, c.numCoupons)
}
