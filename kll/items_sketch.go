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

// Package kll implements a very compact quantiles sketch with a lazy
// compaction scheme and nearly optimal accuracy per retained item.
//
// Reference: https://arxiv.org/abs/1603.05346v2, Optimal Quantile
// Approximation in Streams.
//
// The default k of 200 yields a "single-sided" epsilon of about 1.33% and a
// "double-sided" (PMF) epsilon of about 1.65%, with a confidence of 99%.
package kll

import (
	"github.com/frankgrimes97/sketches-go/common"
	"github.com/frankgrimes97/sketches-go/internal"
)

const (
	defaultK = uint16(200)
	defaultM = uint8(8)
	maxK     = (1 << 16) - 1
	minM     = 2
	maxM     = 8
)

// ItemsSketch is a streaming quantiles sketch over a generic item type with
// a strict weak ordering. Items live in a stack of levels: level 0 is the
// unsorted ingestion buffer; every level above holds sorted survivors of
// compactions, each representing 2^level stream items.
type ItemsSketch[C comparable] struct {
	// k controls the accuracy and the memory footprint.
	k uint16
	// m is the minimum level capacity.
	m                 uint8
	minK              uint16 // the smallest k of this sketch and its estimation-mode merge peers
	numLevels         uint8
	isLevelZeroSorted bool
	n                 uint64
	levels            []uint32
	items             []C
	minItem           *C
	maxItem           *C
	sortedView        *ItemsSketchSortedView[C]
	serde             common.ItemSketchSerde[C]
	compareFn         common.CompareFn[C]
	coin              bitCoin
}

// NewItemsSketch creates a sketch with the given k. The default k = 200
// results in a normalized rank error of about 1.65%; larger k has smaller
// error but a larger sketch.
func NewItemsSketch[C comparable](k uint16, compareFn common.CompareFn[C], serde common.ItemSketchSerde[C]) (*ItemsSketch[C], error) {
	return newItemsSketch[C](k, defaultM, compareFn, serde)
}

// NewItemsSketchWithDefault creates a sketch with the default k of 200.
func NewItemsSketchWithDefault[C comparable](compareFn common.CompareFn[C], serde common.ItemSketchSerde[C]) (*ItemsSketch[C], error) {
	return newItemsSketch[C](defaultK, defaultM, compareFn, serde)
}

func newItemsSketch[C comparable](k uint16, m uint8, compareFn common.CompareFn[C], serde common.ItemSketchSerde[C]) (*ItemsSketch[C], error) {
	if err := checkM(m); err != nil {
		return nil, err
	}
	if err := checkK(k, m); err != nil {
		return nil, err
	}
	if compareFn == nil {
		return nil, internal.NewError(internal.ErrInvalidArgument, "no compare function provided")
	}
	return &ItemsSketch[C]{
		k:         k,
		m:         m,
		minK:      k,
		numLevels: 1,
		levels:    []uint32{uint32(k), uint32(k)},
		items:     make([]C, k),
		serde:     serde,
		compareFn: compareFn,
	}, nil
}

// IsEmpty returns true if the sketch has seen no items.
func (s *ItemsSketch[C]) IsEmpty() bool {
	return s.n == 0
}

// GetN returns the length of the input stream offered to the sketch.
func (s *ItemsSketch[C]) GetN() uint64 {
	return s.n
}

// GetK returns the configured k.
func (s *ItemsSketch[C]) GetK() uint16 {
	return s.k
}

// GetMinK returns the smallest k among this sketch and the sketches merged
// into it while in estimation mode; a peer merged while still exact leaves
// it unchanged. It governs the error bound reported by GetNormalizedRankError.
func (s *ItemsSketch[C]) GetMinK() uint16 {
	return s.minK
}

// GetNumRetained returns the number of items retained by the sketch.
func (s *ItemsSketch[C]) GetNumRetained() uint32 {
	return s.levels[s.numLevels] - s.levels[0]
}

// IsEstimationMode returns true once the sketch has compacted and answers
// are approximate.
func (s *ItemsSketch[C]) IsEstimationMode() bool {
	return s.numLevels > 1
}

// GetMinItem returns the minimum item of the stream, tracked exactly.
func (s *ItemsSketch[C]) GetMinItem() (C, error) {
	if s.IsEmpty() {
		return *new(C), internal.NewError(internal.ErrInvalidArgument,
			"operation is undefined for an empty sketch")
	}
	return *s.minItem, nil
}

// GetMaxItem returns the maximum item of the stream, tracked exactly.
func (s *ItemsSketch[C]) GetMaxItem() (C, error) {
	if s.IsEmpty() {
		return *new(C), internal.NewError(internal.ErrInvalidArgument,
			"operation is undefined for an empty sketch")
	}
	return *s.maxItem, nil
}

// GetNormalizedRankError returns the approximate rank error of this sketch
// as a fraction: the double-sided bound for GetPMF when pmf is true, the
// single-sided bound for all other queries otherwise.
func (s *ItemsSketch[C]) GetNormalizedRankError(pmf bool) float64 {
	return getNormalizedRankError(s.minK, pmf)
}

// Update offers an item to the sketch.
func (s *ItemsSketch[C]) Update(item C) {
	s.updateItem(item)
	s.sortedView = nil
}

// Reset returns the sketch to the empty state, keeping k.
func (s *ItemsSketch[C]) Reset() {
	s.n = 0
	s.minK = s.k
	s.isLevelZeroSorted = false
	s.numLevels = 1
	s.levels = []uint32{uint32(s.k), uint32(s.k)}
	s.minItem = nil
	s.maxItem = nil
	s.items = make([]C, s.k)
	s.sortedView = nil
}

//
// Query path
//

// GetRank returns the normalized rank of the given item. If inclusive, the
// weight of the item itself is included in the rank.
func (s *ItemsSketch[C]) GetRank(item C, inclusive bool) (float64, error) {
	if s.IsEmpty() {
		return 0, internal.NewError(internal.ErrInvalidArgument,
			"operation is undefined for an empty sketch")
	}
	if err := s.setupSortedView(); err != nil {
		return 0, err
	}
	return s.sortedView.GetRank(item, inclusive)
}

// GetRanks returns the normalized ranks of the given items.
func (s *ItemsSketch[C]) GetRanks(items []C, inclusive bool) ([]float64, error) {
	if s.IsEmpty() {
		return nil, internal.NewError(internal.ErrInvalidArgument,
			"operation is undefined for an empty sketch")
	}
	if err := s.setupSortedView(); err != nil {
		return nil, err
	}
	ranks := make([]float64, len(items))
	var err error
	for i := range items {
		ranks[i], err = s.sortedView.GetRank(items[i], inclusive)
		if err != nil {
			return nil, err
		}
	}
	return ranks, nil
}

// GetQuantile returns the approximate quantile of the given normalized
// rank, which must lie in [0, 1].
func (s *ItemsSketch[C]) GetQuantile(rank float64, inclusive bool) (C, error) {
	if s.IsEmpty() {
		return *new(C), internal.NewError(internal.ErrInvalidArgument,
			"operation is undefined for an empty sketch")
	}
	if err := checkNormalizedRankBounds(rank); err != nil {
		return *new(C), err
	}
	if err := s.setupSortedView(); err != nil {
		return *new(C), err
	}
	return s.sortedView.GetQuantile(rank, inclusive)
}

// GetQuantiles returns the approximate quantiles of the given normalized
// ranks.
func (s *ItemsSketch[C]) GetQuantiles(ranks []float64, inclusive bool) ([]C, error) {
	if s.IsEmpty() {
		return nil, internal.NewError(internal.ErrInvalidArgument,
			"operation is undefined for an empty sketch")
	}
	if err := s.setupSortedView(); err != nil {
		return nil, err
	}
	quantiles := make([]C, len(ranks))
	var err error
	for i := range ranks {
		if err = checkNormalizedRankBounds(ranks[i]); err != nil {
			return nil, err
		}
		quantiles[i], err = s.sortedView.GetQuantile(ranks[i], inclusive)
		if err != nil {
			return nil, err
		}
	}
	return quantiles, nil
}

// GetPMF returns an approximation to the probability mass function of the
// input stream over the m+1 intervals defined by m strictly increasing
// split points.
func (s *ItemsSketch[C]) GetPMF(splitPoints []C, inclusive bool) ([]float64, error) {
	if s.IsEmpty() {
		return nil, internal.NewError(internal.ErrInvalidArgument,
			"operation is undefined for an empty sketch")
	}
	if err := s.setupSortedView(); err != nil {
		return nil, err
	}
	return s.sortedView.GetPMF(splitPoints, inclusive)
}

// GetCDF returns an approximation to the cumulative distribution function
// of the input stream evaluated at the given strictly increasing split
// points. The returned array has one more entry than splitPoints and its
// last entry is always 1.
func (s *ItemsSketch[C]) GetCDF(splitPoints []C, inclusive bool) ([]float64, error) {
	if s.IsEmpty() {
		return nil, internal.NewError(internal.ErrInvalidArgument,
			"operation is undefined for an empty sketch")
	}
	if err := s.setupSortedView(); err != nil {
		return nil, err
	}
	return s.sortedView.GetCDF(splitPoints, inclusive)
}

// GetSortedView returns the sorted view of this sketch.
func (s *ItemsSketch[C]) GetSortedView() (*ItemsSketchSortedView[C], error) {
	if s.IsEmpty() {
		return nil, internal.NewError(internal.ErrInvalidArgument,
			"operation is undefined for an empty sketch")
	}
	if err := s.setupSortedView(); err != nil {
		return nil, err
	}
	return s.sortedView, nil
}

// GetIterator returns an unordered iterator over the retained items and
// their weights.
func (s *ItemsSketch[C]) GetIterator() *ItemsSketchIterator[C] {
	return &ItemsSketchIterator[C]{
		items:     s.items,
		levels:    s.levels,
		numLevels: s.numLevels,
		level:     -1,
	}
}

func (s *ItemsSketch[C]) setupSortedView() error {
	if s.sortedView == nil {
		sv, err := newItemsSketchSortedView(s)
		if err != nil {
			return err
		}
		s.sortedView = sv
	}
	return nil
}

//
// Update path
//

func (s *ItemsSketch[C]) updateItem(item C) {
	if internal.IsNil(item) {
		return
	}
	if s.IsEmpty() {
		s.minItem = &item
		s.maxItem = &item
	} else {
		if s.compareFn(item, *s.minItem) {
			s.minItem = &item
		}
		if s.compareFn(*s.maxItem, item) {
			s.maxItem = &item
		}
	}
	level0space := s.levels[0]
	if level0space == 0 {
		s.compressWhileUpdating()
		level0space = s.levels[0]
	}
	s.n++
	s.isLevelZeroSorted = false
	nextPos := level0space - 1
	s.levels[0] = nextPos
	s.items[nextPos] = item
}

// compressWhileUpdating compacts the lowest level that is at capacity,
// promoting a randomly chosen half of its items one level up and handing
// the freed space down to level 0.
func (s *ItemsSketch[C]) compressWhileUpdating() {
	lv := findLevelToCompact(s.k, s.m, s.numLevels, s.levels)
	if lv == s.numLevels-1 {
		// compacting the top level needs an empty level above it; this
		// grows the items array and shifts every boundary
		s.addEmptyTopLevelToCompletelyFullSketch()
	}
	levels := s.levels
	buf := s.items

	beg := levels[lv]
	end := levels[lv+1]
	above := levels[lv+2] - end // the level above exists by now
	count := end - beg
	// an odd population leaves its first item behind on this level
	leftover := count % 2
	evenBeg := beg + leftover
	evenCount := count - leftover
	half := evenCount / 2

	if lv == 0 { // the ingestion buffer is unsorted
		sortItemsRange(buf, evenBeg, evenCount, s.compareFn)
	}
	if above == 0 {
		randomlyHalveUpItems(buf, evenBeg, evenCount, &s.coin)
	} else {
		randomlyHalveDownItems(buf, evenBeg, evenCount, &s.coin)
		mergeSortedItemsArrays(
			buf, evenBeg, half,
			buf, end, above,
			buf, evenBeg+half, s.compareFn)
	}

	// the level above absorbed the survivors, growing downward by half
	levels[lv+1] -= half
	if leftover == 1 {
		levels[lv] = levels[lv+1] - 1
		buf[levels[lv]] = buf[beg]
	} else {
		levels[lv] = levels[lv+1]
	}

	// slide everything below the compacted level up into the freed space,
	// walking top-down so sources are read before they are overwritten
	if lv > 0 {
		bottom := int(levels[0])
		for src := int(beg) - 1; src >= bottom; src-- {
			buf[src+int(half)] = buf[src]
		}
		for l := uint8(0); l < lv; l++ {
			levels[l] += half
		}
	}
}

func (s *ItemsSketch[C]) addEmptyTopLevelToCompletelyFullSketch() {
	myCurLevelsArr := s.levels
	myCurNumLevels := s.numLevels
	myCurTotalItemsCapacity := myCurLevelsArr[myCurNumLevels]

	deltaItemsCap := levelCapacity(s.k, myCurNumLevels+1, 0, s.m)
	myNewTotalItemsCapacity := myCurTotalItemsCapacity + deltaItemsCap

	// Merging might have over-grown the levels array already.
	var myNewLevelsArr []uint32
	if len(myCurLevelsArr) < int(myCurNumLevels)+2 {
		myNewLevelsArr = make([]uint32, myCurNumLevels+2)
		copy(myNewLevelsArr, myCurLevelsArr)
	} else {
		myNewLevelsArr = myCurLevelsArr
	}
	myNewNumLevels := myCurNumLevels + 1

	// shift every boundary except the new "extra" index at the top
	for level := uint8(0); level <= myNewNumLevels-1; level++ {
		myNewLevelsArr[level] += deltaItemsCap
	}
	myNewLevelsArr[myNewNumLevels] = myNewTotalItemsCapacity

	myNewItemsArr := make([]C, myNewTotalItemsCapacity)
	for i := uint32(0); i < myCurTotalItemsCapacity; i++ {
		myNewItemsArr[i+deltaItemsCap] = s.items[i]
	}

	s.numLevels = myNewNumLevels
	s.levels = myNewLevelsArr
	s.items = myNewItemsArr
}

//
// Merge path
//

// Merge folds the other sketch into this one. The resulting error bound is
// governed by the smaller k of the two.
func (s *ItemsSketch[C]) Merge(other *ItemsSketch[C]) {
	if other == nil || other.IsEmpty() {
		return
	}
	s.mergeItemsSketch(other)
	s.sortedView = nil
}

func (s *ItemsSketch[C]) mergeItemsSketch(other *ItemsSketch[C]) {
	// capture the key mutable fields before merging anything
	myEmpty := s.IsEmpty()
	var myMin, myMax C
	if !myEmpty {
		myMin = *s.minItem
		myMax = *s.maxItem
	}
	myMinK := s.minK
	finalN := s.n + other.n

	otherNumLevels := other.numLevels
	otherLevelsArr := other.levels
	otherItemsArr := make([]C, len(other.items))
	copy(otherItemsArr, other.items)

	// bring the other sketch's level 0 items in through the normal path
	for i := otherLevelsArr[0]; i < otherLevelsArr[1]; i++ {
		s.updateItem(otherItemsArr[i])
	}

	myCurNumLevels := s.numLevels
	myCurLevelsArr := s.levels
	myCurItemsArr := s.items

	myNewNumLevels := myCurNumLevels
	myNewLevelsArr := myCurLevelsArr
	myNewItemsArr := myCurItemsArr

	// merge the higher levels, if the other sketch has any
	if otherNumLevels > 1 {
		tmpSpaceNeeded := s.GetNumRetained() + getNumRetainedAboveLevelZero(otherNumLevels, otherLevelsArr)
		workbuf := make([]C, tmpSpaceNeeded)
		ub := ubOnNumLevels(finalN)
		worklevels := make([]uint32, ub+2)
		outlevels := make([]uint32, ub+2)

		provisionalNumLevels := max(myCurNumLevels, otherNumLevels)

		populateItemWorkArrays(workbuf, worklevels, provisionalNumLevels,
			myCurNumLevels, myCurLevelsArr, myCurItemsArr,
			otherNumLevels, otherLevelsArr, otherItemsArr, s.compareFn)

		// workbuf is both the input and the output
		numLevels, targetItemCount, curItemCount := generalItemsCompress(
			s.k, s.m, provisionalNumLevels, workbuf, worklevels, workbuf,
			outlevels, s.isLevelZeroSorted, s.compareFn, &s.coin)

		myNewNumLevels = numLevels

		if int(targetItemCount) == len(myCurItemsArr) {
			myNewItemsArr = myCurItemsArr
		} else {
			myNewItemsArr = make([]C, targetItemCount)
		}
		freeSpaceAtBottom := targetItemCount - curItemCount
		for i := uint32(0); i < curItemCount; i++ {
			myNewItemsArr[freeSpaceAtBottom+i] = workbuf[outlevels[0]+i]
		}
		theShift := freeSpaceAtBottom - outlevels[0]

		finalLevelsArrLen := uint32(len(myCurLevelsArr))
		if finalLevelsArrLen < uint32(myNewNumLevels+1) {
			finalLevelsArrLen = uint32(myNewNumLevels + 1)
		}
		myNewLevelsArr = make([]uint32, finalLevelsArrLen)
		for lvl := uint8(0); lvl < myNewNumLevels+1; lvl++ { // includes the "extra" index
			myNewLevelsArr[lvl] = outlevels[lvl] + theShift
		}
	}

	s.n = finalN
	if other.IsEstimationMode() { // otherwise the merge brings over exact items
		s.minK = min(myMinK, other.minK)
	}
	s.numLevels = myNewNumLevels
	s.levels = myNewLevelsArr
	s.items = myNewItemsArr

	if myEmpty {
		s.minItem = other.minItem
		s.maxItem = other.maxItem
	} else {
		if s.compareFn(myMin, *other.minItem) {
			s.minItem = &myMin
		} else {
			s.minItem = other.minItem
		}
		if s.compareFn(*other.maxItem, myMax) {
			s.maxItem = &myMax
		} else {
			s.maxItem = other.maxItem
		}
	}
}

func populateItemWorkArrays[C comparable](workbuf []C, worklevels []uint32, provisionalNumLevels uint8,
	myCurNumLevels uint8, myCurLevelsArr []uint32, myCurItemsArr []C,
	otherNumLevels uint8, otherLevelsArr []uint32, otherItemsArr []C,
	compareFn common.CompareFn[C]) {

	worklevels[0] = 0
	// the level zero data from the other sketch was already inserted
	selfPopZero := currentLevelSizeItems(0, myCurNumLevels, myCurLevelsArr)
	for i := uint32(0); i < selfPopZero; i++ {
		workbuf[worklevels[0]+i] = myCurItemsArr[myCurLevelsArr[0]+i]
	}
	worklevels[1] = worklevels[0] + selfPopZero

	for lvl := uint8(1); lvl < provisionalNumLevels; lvl++ {
		selfPop := currentLevelSizeItems(lvl, myCurNumLevels, myCurLevelsArr)
		otherPop := currentLevelSizeItems(lvl, otherNumLevels, otherLevelsArr)
		worklevels[lvl+1] = worklevels[lvl] + selfPop + otherPop

		switch {
		case selfPop > 0 && otherPop == 0:
			copy(workbuf[worklevels[lvl]:], myCurItemsArr[myCurLevelsArr[lvl]:myCurLevelsArr[lvl]+selfPop])
		case selfPop == 0 && otherPop > 0:
			copy(workbuf[worklevels[lvl]:], otherItemsArr[otherLevelsArr[lvl]:otherLevelsArr[lvl]+otherPop])
		case selfPop > 0 && otherPop > 0:
			mergeSortedItemsArrays(
				myCurItemsArr, myCurLevelsArr[lvl], selfPop,
				otherItemsArr, otherLevelsArr[lvl], otherPop,
				workbuf, worklevels[lvl], compareFn)
		}
	}
}

// ItemsSketchIterator visits the retained items with their weights, in no
// particular order.
type ItemsSketchIterator[C comparable] struct {
	items     []C
	levels    []uint32
	numLevels uint8
	level     int
	index     int
	weight    int64
	started   bool
}

// Next advances to the next retained item, returning false when done.
func (it *ItemsSketchIterator[C]) Next() bool {
	if !it.started {
		it.level = 0
		it.index = int(it.levels[0])
		it.weight = 1
		it.started = true
	} else {
		it.index++
	}
	for it.index >= int(it.levels[it.level+1]) {
		it.level++
		if it.level >= int(it.numLevels) {
			return false
		}
		it.index = int(it.levels[it.level])
		it.weight <<= 1
	}
	return true
}

// GetItem returns the current item.
func (it *ItemsSketchIterator[C]) GetItem() C {
	return it.items[it.index]
}

// GetWeight returns the weight of the current item: 2^level.
func (it *ItemsSketchIterator[C]) GetWeight() int64 {
	return it.weight
}
