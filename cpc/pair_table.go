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
	"slices"

	"github.com/frankgrimes97/sketches-go/internal"
)

const (
	upsizeNumer   = 3
	upsizeDenom   = 4
	downsizeNumer = 1
	downsizeDenom = 4

	minLgSizeInts = 2
)

// pairTable is an open-addressed hash set of (row << 6 | col) coupons.
// The empty slot marker is -1.
type pairTable struct {
	lgSizeInts int
	validBits  int
	numPairs   int
	slotsArr   []int
}

func newPairTable(lgSizeInts, numValidBits int) (*pairTable, error) {
	if lgSizeInts < minLgSizeInts || lgSizeInts > numValidBits {
		return nil, internal.NewError(internal.ErrInvalidArgument,
			"lgSizeInts out of range: %d", lgSizeInts)
	}
	slotsArr := make([]int, 1<<lgSizeInts)
	for i := range slotsArr {
		slotsArr[i] = -1
	}
	return &pairTable{
		lgSizeInts: lgSizeInts,
		validBits:  numValidBits,
		slotsArr:   slotsArr,
	}, nil
}

// newPairTableFromPairs builds a table sized for numPairs and inserts them all.
func newPairTableFromPairs(pairs []int, numPairs, lgK int) (*pairTable, error) {
	lgNumSlots := minLgSizeInts
	for upsizeDenom*numPairs > upsizeNumer*(1<<lgNumSlots) {
		lgNumSlots++
	}
	table, err := newPairTable(lgNumSlots, 6+lgK)
	if err != nil {
		return nil, err
	}
	for i := 0; i < numPairs; i++ {
		isNovel, err := table.maybeInsert(pairs[i])
		if err != nil {
			return nil, err
		}
		if !isNovel {
			return nil, internal.NewError(internal.ErrFormat, "duplicate pair in stream")
		}
	}
	return table, nil
}

func (p *pairTable) clear() {
	for i := range p.slotsArr {
		p.slotsArr[i] = -1
	}
	p.numPairs = 0
}

func (p *pairTable) probe(item int) int {
	mask := (1 << p.lgSizeInts) - 1
	shift := p.validBits - p.lgSizeInts
	probe := item >> shift
	for p.slotsArr[probe] != item && p.slotsArr[probe] != -1 {
		probe = (probe + 1) & mask
	}
	return probe
}

// maybeInsert returns true if the item was novel, growing the table as needed.
func (p *pairTable) maybeInsert(item int) (bool, error) {
	probe := p.probe(item)
	if p.slotsArr[probe] == item {
		return false, nil
	}
	p.slotsArr[probe] = item
	p.numPairs++
	for upsizeDenom*p.numPairs > upsizeNumer*(1<<p.lgSizeInts) {
		if err := p.rebuild(p.lgSizeInts + 1); err != nil {
			return false, err
		}
	}
	return true, nil
}

// maybeDelete returns true if the item was present and has been removed.
// The probe cluster after the removed slot is reinserted to keep linear
// probing sound, then the table may shrink.
func (p *pairTable) maybeDelete(item int) (bool, error) {
	probe := p.probe(item)
	if p.slotsArr[probe] == -1 {
		return false, nil
	}
	mask := (1 << p.lgSizeInts) - 1
	p.slotsArr[probe] = -1
	p.numPairs--

	var reinsert []int
	probe = (probe + 1) & mask
	for p.slotsArr[probe] != -1 {
		reinsert = append(reinsert, p.slotsArr[probe])
		p.slotsArr[probe] = -1
		p.numPairs--
		probe = (probe + 1) & mask
	}
	for _, it := range reinsert {
		if _, err := p.maybeInsert(it); err != nil {
			return false, err
		}
	}
	for downsizeDenom*p.numPairs < downsizeNumer*(1<<p.lgSizeInts) && p.lgSizeInts > minLgSizeInts {
		if err := p.rebuild(p.lgSizeInts - 1); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (p *pairTable) rebuild(newLgSizeInts int) error {
	if newLgSizeInts < minLgSizeInts {
		return internal.NewError(internal.ErrInvalidArgument,
			"table cannot shrink below %d", minLgSizeInts)
	}
	if (1 << newLgSizeInts) <= p.numPairs {
		return internal.NewError(internal.ErrInvalidArgument,
			"new size %d <= numPairs %d", 1<<newLgSizeInts, p.numPairs)
	}
	oldSlots := p.slotsArr
	p.slotsArr = make([]int, 1<<newLgSizeInts)
	for i := range p.slotsArr {
		p.slotsArr[i] = -1
	}
	p.lgSizeInts = newLgSizeInts
	p.numPairs = 0
	for _, item := range oldSlots {
		if item != -1 {
			if _, err := p.maybeInsert(item); err != nil {
				return err
			}
		}
	}
	return nil
}

// pairsArray returns the valid pairs sorted in unsigned ascending order.
func (p *pairTable) pairsArray() []int {
	result := make([]int, 0, p.numPairs)
	for _, v := range p.slotsArr {
		if v != -1 {
			result = append(result, v)
		}
	}
	slices.SortFunc(result, func(a, b int) int {
		ua, ub := uint64(uint32(a)), uint64(uint32(b))
		switch {
		case ua < ub:
			return -1
		case ua > ub:
			return 1
		}
		return 0
	})
	return result
}

func (p *pairTable) copy() *pairTable {
	cp := *p
	cp.slotsArr = make([]int, len(p.slotsArr))
	copy(cp.slotsArr, p.slotsArr)
	return &cp
}

func (p *pairTable) equals(other *pairTable) bool {
	if p == nil && other == nil {
		return true
	}
	if p == nil || other == nil {
		return false
	}
	if p.validBits != other.validBits || p.numPairs != other.numPairs {
		return false
	}
	return slices.Equal(p.pairsArray(), other.pairsArray())
}
