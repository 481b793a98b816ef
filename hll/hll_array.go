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

// hllArrayState is the dense register array, the final representation of a
// sketch. The width tag selects the slot encoding:
//
//	width 8: one byte per slot.
//	width 6: four slots packed into three bytes.
//	width 4: one nibble per slot storing value - curMin; nibble 15 is the
//	         aux token and the true value lives in the exception table.
//
// Widths 6 and 8 keep curMin pinned at zero and use numAtCurMin as the
// count of empty slots.
type hllArrayState struct {
	lgConfigK int
	width     TgtHllType
	oooFlag   bool
	// set after a register-level merge; curMin, numAtCurMin and the kxq
	// registers must be rebuilt before they are read
	rebuildCurMinNumKxQ bool

	curMin      int
	numAtCurMin int
	hipAccum    float64
	kxq0        float64
	kxq1        float64

	bytes []byte
	aux   *auxHashMap // width 4 only
}

func hllByteArrBytes(lgConfigK int, width TgtHllType) int {
	k := 1 << lgConfigK
	switch width {
	case TgtHllTypeHll4:
		return k >> 1
	case TgtHllTypeHll6:
		return ((k * 3) >> 2) + 1
	default:
		return k
	}
}

func newHllArray(lgConfigK int, width TgtHllType) *hllArrayState {
	return &hllArrayState{
		lgConfigK:   lgConfigK,
		width:       width,
		curMin:      0,
		numAtCurMin: 1 << lgConfigK,
		kxq0:        float64(uint64(1) << lgConfigK),
		bytes:       make([]byte, hllByteArrBytes(lgConfigK, width)),
	}
}

func (h *hllArrayState) copy() *hllArrayState {
	cp := *h
	cp.bytes = make([]byte, len(h.bytes))
	copy(cp.bytes, h.bytes)
	if h.aux != nil {
		cp.aux = h.aux.copy()
	}
	return &cp
}

func (h *hllArrayState) putOutOfOrder(oooFlag bool) {
	if oooFlag {
		h.hipAccum = 0
	}
	h.oooFlag = oooFlag
}

//
// Slot access
//

func (h *hllArrayState) getNibble(slotNo int) int {
	theByte := int(h.bytes[slotNo>>1])
	if slotNo&1 > 0 { //odd
		theByte >>= 4
	}
	return theByte & loNibbleMask
}

func (h *hllArrayState) putNibble(slotNo int, value byte) {
	byteNo := slotNo >> 1
	oldValue := h.bytes[byteNo]
	if slotNo&1 == 0 {
		h.bytes[byteNo] = (oldValue & hiNibbleMask) | (value & loNibbleMask)
	} else {
		h.bytes[byteNo] = (oldValue & loNibbleMask) | ((value << 4) & hiNibbleMask)
	}
}

func get6Bit(arr []byte, slotNo int) int {
	startBit := slotNo * 6
	shift := startBit & 0x7
	byteIdx := startBit >> 3
	return (internal.GetShortLE(arr, byteIdx) >> shift) & valMask6
}

func put6Bit(arr []byte, slotNo, newValue int) {
	startBit := slotNo * 6
	shift := startBit & 0x7
	byteIdx := startBit >> 3
	valShifted := (newValue & valMask6) << shift
	curMasked := internal.GetShortLE(arr, byteIdx) & ^(valMask6 << shift)
	internal.PutShortLE(arr, byteIdx, curMasked|valShifted)
}

// getSlotValue returns the actual register value of the slot, resolving the
// width-4 aux token.
func (h *hllArrayState) getSlotValue(slotNo int) (int, error) {
	switch h.width {
	case TgtHllTypeHll8:
		return int(h.bytes[slotNo]) & valMask6, nil
	case TgtHllTypeHll6:
		return get6Bit(h.bytes, slotNo), nil
	default:
		nib := h.getNibble(slotNo)
		if nib == auxToken {
			if h.aux == nil {
				return 0, internal.NewError(internal.ErrFormat,
					"aux token present but no aux table")
			}
			return h.aux.mustFindValueFor(slotNo)
		}
		return nib + h.curMin, nil
	}
}

// forEachSlot visits every slot with its actual register value.
func (h *hllArrayState) forEachSlot(fn func(slotNo, value int) error) error {
	k := 1 << h.lgConfigK
	for i := 0; i < k; i++ {
		v, err := h.getSlotValue(i)
		if err != nil {
			return err
		}
		if err := fn(i, v); err != nil {
			return err
		}
	}
	return nil
}

//
// Update path
//

func (h *hllArrayState) couponUpdate(coupon int) error {
	newValue := coupon >> keyBits26
	slotNo := coupon & ((1 << h.lgConfigK) - 1)
	switch h.width {
	case TgtHllTypeHll4:
		return h.hll4Update(slotNo, newValue)
	default:
		return h.updateSlotWithKxQ(slotNo, newValue)
	}
}

// updateSlotWithKxQ is the simple max-write path of widths 6 and 8.
func (h *hllArrayState) updateSlotWithKxQ(slotNo, newValue int) error {
	var oldValue int
	switch h.width {
	case TgtHllTypeHll8:
		oldValue = int(h.bytes[slotNo]) & valMask6
	case TgtHllTypeHll6:
		oldValue = get6Bit(h.bytes, slotNo)
	default:
		return internal.NewError(internal.ErrFormat, "kxq update invalid for width 4")
	}
	if newValue <= oldValue {
		return nil
	}
	if h.width == TgtHllTypeHll8 {
		h.bytes[slotNo] = byte(newValue & valMask6)
	} else {
		put6Bit(h.bytes, slotNo, newValue)
	}
	if err := h.hipAndKxQIncrementalUpdate(oldValue, newValue); err != nil {
		return err
	}
	if oldValue == 0 {
		h.numAtCurMin-- // numAtCurMin is the number of zero slots here
		if h.numAtCurMin < 0 {
			return internal.NewError(internal.ErrFormat, "numAtCurMin went negative")
		}
	}
	return nil
}

// updateSlotNoKxQ writes the max of the old and new values without touching
// the estimator registers. Used by register-level merges, which rebuild the
// registers afterwards.
func (h *hllArrayState) updateSlotNoKxQ(slotNo, newValue int) {
	oldValue := int(h.bytes[slotNo]) & valMask6
	if newValue > oldValue {
		h.bytes[slotNo] = byte(newValue & valMask6)
	}
}

// hipAndKxQIncrementalUpdate maintains the HIP and harmonic registers when
// a slot grows from oldValue to newValue.
func (h *hllArrayState) hipAndKxQIncrementalUpdate(oldValue, newValue int) error {
	if oldValue >= newValue {
		return internal.NewError(internal.ErrFormat,
			"oldValue %d >= newValue %d", oldValue, newValue)
	}
	// update hipAccum BEFORE updating kxq0 and kxq1
	h.hipAccum += float64(uint64(1)<<h.lgConfigK) / (h.kxq0 + h.kxq1)
	oldInv, err := internal.InvPow2(oldValue)
	if err != nil {
		return err
	}
	newInv, err := internal.InvPow2(newValue)
	if err != nil {
		return err
	}
	if oldValue < 32 {
		h.kxq0 -= oldInv
	} else {
		h.kxq1 -= oldInv
	}
	if newValue < 32 {
		h.kxq0 += newInv
	} else {
		h.kxq1 += newInv
	}
	return nil
}

//
// Width-4 update path
//

func (h *hllArrayState) newAuxHashMap() *auxHashMap {
	return newAuxHashMap(lgAuxArrInts[h.lgConfigK], h.lgConfigK)
}

func (h *hllArrayState) hll4Update(slotNo, newValue int) error {
	stored := h.getNibble(slotNo)

	// Resolve the slot's current value. A stored 15 is the token of an
	// exception whose true value lives in the aux table; anything else is
	// an offset from the floor.
	prior := stored + h.curMin
	if stored == auxToken {
		if h.aux == nil {
			return internal.NewError(internal.ErrFormat, "exception token without an aux table")
		}
		var err error
		prior, err = h.aux.mustFindValueFor(slotNo)
		if err != nil {
			return err
		}
	}
	if newValue <= prior {
		return nil
	}

	if err := h.hipAndKxQIncrementalUpdate(prior, newValue); err != nil {
		return err
	}

	overflows := newValue-h.curMin >= auxToken
	switch {
	case stored == auxToken && overflows:
		// an exception grew: only its aux entry moves
		if err := h.aux.mustReplace(slotNo, newValue); err != nil {
			return err
		}
	case stored == auxToken:
		// impossible while the floor is unchanged: a growing exception
		// cannot fall back under the token
		return internal.NewError(internal.ErrFormat, "exception value shrank below the token")
	case overflows:
		// a plain slot becomes an exception
		h.putNibble(slotNo, auxToken)
		if h.aux == nil {
			h.aux = h.newAuxHashMap()
		}
		if err := h.aux.mustAdd(slotNo, newValue); err != nil {
			return err
		}
	default:
		h.putNibble(slotNo, byte(newValue-h.curMin))
	}

	// Raising the last slot that sat on the floor empties it; the whole
	// array then shifts up until some slot sits on the new floor.
	if prior == h.curMin {
		if h.numAtCurMin < 1 {
			return internal.NewError(internal.ErrFormat, "numAtCurMin underflow")
		}
		h.numAtCurMin--
		for h.numAtCurMin == 0 {
			if err := h.raiseCurMin(); err != nil {
				return err
			}
		}
	}
	return nil
}

// raiseCurMin bumps the value floor of the width-4 array by one: every
// stored nibble drops by one, and any exception whose offset from the new
// floor falls under the token is demoted back into the nibble array.
// HipAccum and the kxq registers are untouched, since no true slot value
// changes. On entry every nibble is > 0 and an aux table exists if any
// nibble is the token.
func (h *hllArrayState) raiseCurMin() error {
	newFloor := h.curMin + 1
	slots := 1 << h.lgConfigK
	slotMask := slots - 1

	onNewFloor := 0
	tokens := 0
	for slot := 0; slot < slots; slot++ {
		nib := h.getNibble(slot)
		switch {
		case nib == 0:
			return internal.NewError(internal.ErrFormat, "no slot may sit below the floor here")
		case nib == auxToken:
			if h.aux == nil {
				return internal.NewError(internal.ErrFormat, "exception token without an aux table")
			}
			tokens++
		default:
			h.putNibble(slot, byte(nib-1))
			if nib == 1 {
				onNewFloor++
			}
		}
	}

	var keptAux *auxHashMap
	if h.aux != nil {
		err := h.aux.forEachPair(func(slot, actual int) error {
			slot &= slotMask
			if h.getNibble(slot) != auxToken {
				return internal.NewError(internal.ErrFormat,
					"aux entry for a non-token slot: %d", h.getNibble(slot))
			}
			offset := actual - newFloor
			if offset < auxToken {
				// The former exception fits the nibble array again; by
				// construction its offset is exactly 14.
				if offset != auxToken-1 {
					return internal.NewError(internal.ErrFormat,
						"demoted exception must land on 14: %d", offset)
				}
				h.putNibble(slot, byte(offset))
				tokens--
				return nil
			}
			if keptAux == nil {
				keptAux = h.newAuxHashMap()
			}
			return keptAux.mustAdd(slot, actual)
		})
		if err != nil {
			return err
		}
	}
	if keptAux != nil && keptAux.auxCount != tokens {
		return internal.NewError(internal.ErrFormat,
			"aux count %d != surviving tokens %d", keptAux.auxCount, tokens)
	}
	h.aux = keptAux
	h.curMin = newFloor
	h.numAtCurMin = onNewFloor
	return nil
}

//
// Width conversions
//

// convertToWidth returns a new array state of the target width holding the
// same register values and the same estimator state.
func (h *hllArrayState) convertToWidth(target TgtHllType) (*hllArrayState, error) {
	if target == h.width {
		return h.copy(), nil
	}
	out := newHllArray(h.lgConfigK, target)
	out.oooFlag = h.oooFlag

	if target == TgtHllTypeHll4 {
		// First pass finds curMin, second pass fills nibbles and the aux map.
		curMin := 64
		numAtCurMin := 0
		err := h.forEachSlot(func(_, v int) error {
			if v < curMin {
				curMin = v
				numAtCurMin = 1
			} else if v == curMin {
				numAtCurMin++
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		err = h.forEachSlot(func(slotNo, v int) error {
			shifted := v - curMin
			if shifted >= auxToken {
				out.putNibble(slotNo, auxToken)
				if out.aux == nil {
					out.aux = out.newAuxHashMap()
				}
				return out.aux.mustAdd(slotNo, v)
			}
			out.putNibble(slotNo, byte(shifted))
			return nil
		})
		if err != nil {
			return nil, err
		}
		out.curMin = curMin
		out.numAtCurMin = numAtCurMin
	} else {
		numZeros := 0
		err := h.forEachSlot(func(slotNo, v int) error {
			if v == 0 {
				numZeros++
				return nil
			}
			if out.width == TgtHllTypeHll8 {
				out.bytes[slotNo] = byte(v & valMask6)
			} else {
				put6Bit(out.bytes, slotNo, v)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		out.curMin = 0
		out.numAtCurMin = numZeros
	}

	// The register multiset is identical, so the estimator state carries over.
	out.hipAccum = h.hipAccum
	out.kxq0 = h.kxq0
	out.kxq1 = h.kxq1
	out.rebuildCurMinNumKxQ = false
	return out, nil
}

// rebuildCurMinNumKxQRegisters recomputes curMin, numAtCurMin, kxq0 and
// kxq1 by scanning the registers. Required after a register-level merge.
// HipAccum is not affected.
func (h *hllArrayState) rebuildCurMinNumKxQRegisters() error {
	if !h.rebuildCurMinNumKxQ {
		return nil
	}
	curMin := 64
	numAtCurMin := 0
	kxq0 := float64(uint64(1) << h.lgConfigK)
	kxq1 := 0.0
	err := h.forEachSlot(func(_, v int) error {
		if v > 0 {
			inv, err := internal.InvPow2(v)
			if err != nil {
				return err
			}
			if v < 32 {
				kxq0 += inv - 1.0
			} else {
				kxq0 -= 1.0
				kxq1 += inv
			}
		}
		if v < curMin {
			curMin = v
			numAtCurMin = 1
		} else if v == curMin {
			numAtCurMin++
		}
		return nil
	})
	if err != nil {
		return err
	}
	if h.width != TgtHllTypeHll4 && curMin > 0 {
		// widths 6 and 8 keep curMin at zero; here no slot is empty
		curMin = 0
		numAtCurMin = 0
	}
	h.kxq0 = kxq0
	h.kxq1 = kxq1
	h.curMin = curMin
	h.numAtCurMin = numAtCurMin
	h.rebuildCurMinNumKxQ = false
	return nil
}
