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

package hll

import (
	"github.com/frankgrimes97/sketches-go/internal"
)

// auxHashMap is the exception table of the width-4 representation. It holds
// the true values of the rare slots whose value exceeds curMin + 14, keyed
// by slot number, as packed (slot, value) pair ints.
type auxHashMap struct {
	lgConfigK    int // needed for the slot mask
	lgAuxArrInts int
	auxCount     int
	auxIntArr    []int
}

func newAuxHashMap(lgAuxArrInts, lgConfigK int) *auxHashMap {
	return &auxHashMap{
		lgConfigK:    lgConfigK,
		lgAuxArrInts: lgAuxArrInts,
		auxIntArr:    make([]int, 1<<lgAuxArrInts),
	}
}

func (a *auxHashMap) copy() *auxHashMap {
	cp := *a
	cp.auxIntArr = make([]int, len(a.auxIntArr))
	copy(cp.auxIntArr, a.auxIntArr)
	return &cp
}

func (a *auxHashMap) getCompactSizeBytes() int {
	return a.auxCount << 2
}

func (a *auxHashMap) getUpdatableSizeBytes() int {
	return 4 << a.lgAuxArrInts
}

// mustFindValueFor returns the stored value for the slot; the slot must be
// present.
func (a *auxHashMap) mustFindValueFor(slotNo int) (int, error) {
	index := findAuxSlot(a.auxIntArr, a.lgAuxArrInts, a.lgConfigK, slotNo)
	if index < 0 {
		return 0, internal.NewError(internal.ErrFormat, "aux slot not found: %d", slotNo)
	}
	return getPairValue(a.auxIntArr[index]), nil
}

// mustReplace overwrites the value of a slot that must be present.
func (a *auxHashMap) mustReplace(slotNo, value int) error {
	index := findAuxSlot(a.auxIntArr, a.lgAuxArrInts, a.lgConfigK, slotNo)
	if index < 0 {
		return internal.NewError(internal.ErrFormat,
			"aux pair not found: %s", pairString(pair(slotNo, value)))
	}
	a.auxIntArr[index] = pair(slotNo, value)
	return nil
}

// mustAdd inserts a slot that must be absent, growing the table on load.
func (a *auxHashMap) mustAdd(slotNo, value int) error {
	index := findAuxSlot(a.auxIntArr, a.lgAuxArrInts, a.lgConfigK, slotNo)
	if index >= 0 {
		return internal.NewError(internal.ErrFormat,
			"found an aux slot that should not be there: %s", pairString(pair(slotNo, value)))
	}
	a.auxIntArr[^index] = pair(slotNo, value)
	a.auxCount++
	if resizeDenom*a.auxCount > resizeNumber*len(a.auxIntArr) {
		a.grow()
	}
	return nil
}

func (a *auxHashMap) grow() {
	oldArray := a.auxIntArr
	configKMask := (1 << a.lgConfigK) - 1
	a.lgAuxArrInts++
	a.auxIntArr = make([]int, 1<<a.lgAuxArrInts)
	for _, fetched := range oldArray {
		if fetched != empty {
			idx := findAuxSlot(a.auxIntArr, a.lgAuxArrInts, a.lgConfigK, fetched&configKMask)
			a.auxIntArr[^idx] = fetched
		}
	}
}

// forEachPair visits every stored (slot, value) pair.
func (a *auxHashMap) forEachPair(fn func(slotNo, value int) error) error {
	configKMask := (1 << a.lgConfigK) - 1
	for _, p := range a.auxIntArr {
		if p != empty {
			if err := fn(getPairLow26(p)&configKMask, getPairValue(p)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *auxHashMap) pairs() []int {
	out := make([]int, 0, a.auxCount)
	for _, p := range a.auxIntArr {
		if p != empty {
			out = append(out, p)
		}
	}
	return out
}

// findAuxSlot probes the aux table for the given slot number. It returns
// the index of the matching entry, or the one's complement of the first
// empty slot of its probe sequence.
func findAuxSlot(auxArr []int, lgAuxArrInts, lgConfigK, slotNo int) int {
	auxArrMask := (1 << lgAuxArrInts) - 1
	configKMask := (1 << lgConfigK) - 1
	probe := slotNo & auxArrMask
	loopIndex := probe
	for {
		arrVal := auxArr[probe]
		if arrVal == empty {
			return ^probe
		} else if slotNo == (arrVal & configKMask) {
			return probe
		}
		stride := (slotNo >> lgAuxArrInts) | 1
		probe = (probe + stride) & auxArrMask
		if probe == loopIndex {
			panic("aux table has no empty slots, corruption")
		}
	}
}
