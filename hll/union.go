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

// Union folds peer HLL sketches of any register width and any lgConfigK up
// to its own. The internal gadget is a width-8 sketch for fast slot-wise
// maximums; coupon-mode sources replay losslessly, register-mode sources
// force the out-of-order flag.
type Union struct {
	lgMaxK int
	gadget *HllSketch
}

// NewUnion returns an empty union with the given maximum lgConfigK.
func NewUnion(lgMaxK int) (*Union, error) {
	return newUnionWithSeed(lgMaxK, internal.DefaultUpdateSeed)
}

// NewUnionWithDefault returns an empty union with the default lgConfigK.
func NewUnionWithDefault() (*Union, error) {
	return NewUnion(defaultLgK)
}

func newUnionWithSeed(lgMaxK int, seed uint64) (*Union, error) {
	sk, err := NewHllSketchWithSeed(lgMaxK, TgtHllTypeHll8, seed)
	if err != nil {
		return nil, err
	}
	return &Union{
		lgMaxK: lgMaxK,
		gadget: sk,
	}, nil
}

func (u *Union) GetLgConfigK() int {
	return u.gadget.lgConfigK
}

func (u *Union) IsEmpty() bool {
	return u.gadget.IsEmpty()
}

// rebuildGadget refreshes the derived registers after a register-level
// merge, before any estimator reads them.
func (u *Union) rebuildGadget() error {
	if u.gadget.mode == curModeHll {
		return u.gadget.hll.rebuildCurMinNumKxQRegisters()
	}
	return nil
}

func (u *Union) GetEstimate() (float64, error) {
	if err := u.rebuildGadget(); err != nil {
		return 0, err
	}
	return u.gadget.GetEstimate()
}

func (u *Union) GetCompositeEstimate() (float64, error) {
	if err := u.rebuildGadget(); err != nil {
		return 0, err
	}
	return u.gadget.GetCompositeEstimate()
}

func (u *Union) GetLowerBound(numStdDev int) (float64, error) {
	if err := u.rebuildGadget(); err != nil {
		return 0, err
	}
	return u.gadget.GetLowerBound(numStdDev)
}

func (u *Union) GetUpperBound(numStdDev int) (float64, error) {
	if err := u.rebuildGadget(); err != nil {
		return 0, err
	}
	return u.gadget.GetUpperBound(numStdDev)
}

// UpdateUInt64 presents a single item directly to the union.
func (u *Union) UpdateUInt64(datum uint64) error {
	return u.gadget.UpdateUInt64(datum)
}

func (u *Union) UpdateInt64(datum int64) error {
	return u.gadget.UpdateInt64(datum)
}

func (u *Union) UpdateSlice(datum []byte) error {
	return u.gadget.UpdateSlice(datum)
}

func (u *Union) UpdateString(datum string) error {
	return u.gadget.UpdateString(datum)
}

func (u *Union) Reset() {
	u.gadget.Reset()
}

// GetResult returns a sketch of the requested register width equivalent to
// the union of all inputs.
func (u *Union) GetResult(tgtHllType TgtHllType) (*HllSketch, error) {
	if u.gadget.mode == curModeHll {
		if err := u.gadget.hll.rebuildCurMinNumKxQRegisters(); err != nil {
			return nil, err
		}
	}
	return u.gadget.CopyAs(tgtHllType)
}

// UpdateSketch folds the source sketch into the union.
func (u *Union) UpdateSketch(source *HllSketch) error {
	if source == nil || source.IsEmpty() {
		return nil
	}
	if source.seed != u.gadget.seed {
		return internal.NewError(internal.ErrIncompatibleSeed,
			"%d, %d", source.seed, u.gadget.seed)
	}

	// Coupon-mode sources are lossless: replaying their coupons through the
	// gadget preserves its HIP path.
	if source.mode != curModeHll {
		return source.coupons.forEachCoupon(func(coupon int) error {
			return u.gadget.couponUpdate(coupon)
		})
	}

	// The source is in HLL mode. The gadget must be dense at a lgConfigK
	// no larger than the source's, then registers merge slot-wise.
	srcLgK := source.lgConfigK
	tgtLgK := min(srcLgK, u.gadget.lgConfigK)
	if err := u.ensureDenseGadget(tgtLgK); err != nil {
		return err
	}
	if err := mergeHllIntoHll8(source.hll, u.gadget.hll); err != nil {
		return err
	}
	u.gadget.hll.rebuildCurMinNumKxQ = true
	u.gadget.hll.putOutOfOrder(true)
	return nil
}

// ensureDenseGadget forces the gadget into HLL mode at the given lgConfigK,
// downsampling or replaying its current contents as needed.
func (u *Union) ensureDenseGadget(lgK int) error {
	if u.gadget.mode == curModeHll && u.gadget.lgConfigK == lgK {
		return nil
	}
	fresh, err := NewHllSketchWithSeed(lgK, TgtHllTypeHll8, u.gadget.seed)
	if err != nil {
		return err
	}
	arr := newHllArray(lgK, TgtHllTypeHll8)
	switch u.gadget.mode {
	case curModeHll:
		// fold the existing registers down to the smaller array
		err = u.gadget.hll.forEachSlot(func(slotNo, v int) error {
			if v != 0 {
				arr.updateSlotNoKxQ(slotNo&((1<<lgK)-1), v)
			}
			return nil
		})
		if err != nil {
			return err
		}
		arr.rebuildCurMinNumKxQ = true
		arr.putOutOfOrder(u.gadget.hll.oooFlag)
	default:
		// replay coupons at the new lgConfigK
		err = u.gadget.coupons.forEachCoupon(func(coupon int) error {
			return arr.couponUpdate(coupon)
		})
		if err != nil {
			return err
		}
		arr.hipAccum = couponEstimate(u.gadget.coupons.couponCount)
	}
	fresh.hll = arr
	fresh.coupons = nil
	fresh.mode = curModeHll
	u.gadget = fresh
	return nil
}

// mergeHllIntoHll8 merges source registers into a width-8 target with
// slot-wise maximums, folding source slots down when the source lgConfigK
// is larger. The target's derived registers must be rebuilt afterwards.
func mergeHllIntoHll8(src, tgt *hllArrayState) error {
	if tgt.width != TgtHllTypeHll8 {
		return internal.NewError(internal.ErrFormat, "union gadget must be HLL_8")
	}
	if src.lgConfigK < tgt.lgConfigK {
		return internal.NewError(internal.ErrFormat,
			"source lgK %d smaller than gadget lgK %d", src.lgConfigK, tgt.lgConfigK)
	}
	tgtMask := (1 << tgt.lgConfigK) - 1
	return src.forEachSlot(func(slotNo, v int) error {
		if v != 0 {
			tgt.updateSlotNoKxQ(slotNo&tgtMask, v)
		}
		return nil
	})
}
