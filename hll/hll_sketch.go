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
	"encoding/binary"
	"math"
	"math/bits"
	"unsafe"

	"github.com/frankgrimes97/sketches-go/internal"
)

// HllSketch is a streaming cardinality sketch. Exactly one representation
// is live at any moment, selected by the mode tag: a coupon list, a coupon
// hash set, or the dense register array. Promotions are monotonic and
// irreversible; each promotion builds the next representation and swaps it
// in atomically.
type HllSketch struct {
	lgConfigK  int
	tgtHllType TgtHllType
	seed       uint64
	mode       curMode

	coupons *couponCollection // LIST and SET modes
	hll     *hllArrayState    // HLL mode

	scratch [8]byte
}

// NewHllSketch constructs an empty sketch.
//
//   - lgConfigK, the log2 of K, must be between 4 and 21 inclusively.
//   - tgtHllType, the target width of the dense representation.
func NewHllSketch(lgConfigK int, tgtHllType TgtHllType) (*HllSketch, error) {
	return NewHllSketchWithSeed(lgConfigK, tgtHllType, internal.DefaultUpdateSeed)
}

// NewHllSketchWithSeed constructs an empty sketch with a custom hash seed.
// Sketches can only be merged when their seeds match.
func NewHllSketchWithSeed(lgConfigK int, tgtHllType TgtHllType, seed uint64) (*HllSketch, error) {
	lgK, err := checkLgK(lgConfigK)
	if err != nil {
		return nil, err
	}
	coupons := newCouponList()
	return &HllSketch{
		lgConfigK:  lgK,
		tgtHllType: tgtHllType,
		seed:       seed,
		mode:       curModeList,
		coupons:    &coupons,
	}, nil
}

// NewHllSketchWithDefault constructs an empty sketch with the default lgK
// and target type.
func NewHllSketchWithDefault() (*HllSketch, error) {
	return NewHllSketch(defaultLgK, TgtHllTypeDefault)
}

func (h *HllSketch) GetLgConfigK() int {
	return h.lgConfigK
}

func (h *HllSketch) GetTgtHllType() TgtHllType {
	return h.tgtHllType
}

func (h *HllSketch) GetCurMode() curMode {
	return h.mode
}

// IsEmpty returns true if the sketch has seen no items.
func (h *HllSketch) IsEmpty() bool {
	return h.mode == curModeList && h.coupons.couponCount == 0
}

// Reset returns the sketch to empty, keeping lgConfigK, target type and seed.
func (h *HllSketch) Reset() {
	coupons := newCouponList()
	h.mode = curModeList
	h.coupons = &coupons
	h.hll = nil
}

// Copy returns a deep copy of this sketch.
func (h *HllSketch) Copy() *HllSketch {
	cp := *h
	if h.coupons != nil {
		coupons := h.coupons.copy()
		cp.coupons = &coupons
	}
	if h.hll != nil {
		cp.hll = h.hll.copy()
	}
	return &cp
}

// CopyAs returns a copy of this sketch with the given target register
// width. The register width conversion preserves the estimate.
func (h *HllSketch) CopyAs(tgtHllType TgtHllType) (*HllSketch, error) {
	cp := h.Copy()
	cp.tgtHllType = tgtHllType
	if h.mode == curModeHll {
		converted, err := h.hll.convertToWidth(tgtHllType)
		if err != nil {
			return nil, err
		}
		converted.width = tgtHllType
		cp.hll = converted
	}
	return cp, nil
}

//
// Update path
//

func (h *HllSketch) UpdateUInt64(datum uint64) error {
	binary.LittleEndian.PutUint64(h.scratch[:], datum)
	return h.couponUpdate(coupon(internal.HashSlice128(h.scratch[:], h.seed)))
}

func (h *HllSketch) UpdateInt64(datum int64) error {
	return h.UpdateUInt64(uint64(datum))
}

func (h *HllSketch) UpdateFloat64(datum float64) error {
	return h.UpdateUInt64(math.Float64bits(datum))
}

func (h *HllSketch) UpdateSlice(datum []byte) error {
	if len(datum) == 0 {
		return nil
	}
	return h.couponUpdate(coupon(internal.HashSlice128(datum, h.seed)))
}

func (h *HllSketch) UpdateString(datum string) error {
	// a view of the string data, avoiding a copy to the heap
	return h.UpdateSlice(unsafe.Slice(unsafe.StringData(datum), len(datum)))
}

// coupon packs the hash into the 32-bit coupon: the low 26 bits address a
// slot, the next 6 bits carry 1 + the number of leading zeros of the high
// half, capped so it fits the value field.
func coupon(hashLo, hashHi uint64) int {
	addr26 := hashLo & keyMask26
	lz := uint64(bits.LeadingZeros64(hashHi))
	value := min(lz, 62) + 1
	return int((value << keyBits26) | addr26)
}

func (h *HllSketch) couponUpdate(coupon int) error {
	if coupon>>keyBits26 == empty {
		return nil
	}
	switch h.mode {
	case curModeList:
		full, err := h.coupons.listUpdate(coupon)
		if err != nil || !full {
			return err
		}
		if h.lgConfigK < 8 {
			return h.promoteCouponsToHll() // no SET mode for tiny K
		}
		return h.promoteListToSet()
	case curModeSet:
		promote, err := h.coupons.setUpdate(coupon, h.lgConfigK)
		if err != nil || !promote {
			return err
		}
		return h.promoteCouponsToHll()
	default:
		return h.hll.couponUpdate(coupon)
	}
}

func (h *HllSketch) promoteListToSet() error {
	set := newCouponSet()
	err := h.coupons.forEachCoupon(func(coupon int) error {
		_, err := set.setUpdate(coupon, h.lgConfigK)
		return err
	})
	if err != nil {
		return err
	}
	h.coupons = &set
	h.mode = curModeSet
	return nil
}

// promoteCouponsToHll replays the lossless coupons into a fresh register
// array. The replay maintains the HIP path, so the promoted sketch keeps
// the exact coupon estimate as its HIP baseline and stays in order.
func (h *HllSketch) promoteCouponsToHll() error {
	arr := newHllArray(h.lgConfigK, h.tgtHllType)
	err := h.coupons.forEachCoupon(func(coupon int) error {
		return arr.couponUpdate(coupon)
	})
	if err != nil {
		return err
	}
	arr.hipAccum = couponEstimate(h.coupons.couponCount)
	arr.putOutOfOrder(false)
	h.hll = arr
	h.coupons = nil
	h.mode = curModeHll
	return nil
}

//
// Query path
//

// GetEstimate returns the cardinality estimate: the incremental HIP
// estimator unless the sketch is out of order, in which case the composite
// estimator applies.
func (h *HllSketch) GetEstimate() (float64, error) {
	if h.mode != curModeHll {
		return couponEstimate(h.coupons.couponCount), nil
	}
	return hllEstimate(h.hll)
}

// GetCompositeEstimate returns the composite estimate regardless of the
// out-of-order flag. Made public for error-characterization tooling.
func (h *HllSketch) GetCompositeEstimate() (float64, error) {
	if h.mode != curModeHll {
		return couponEstimate(h.coupons.couponCount), nil
	}
	return hllCompositeEstimate(h.hll)
}

// GetHipEstimate returns the HIP estimate, valid only for a sketch that has
// never been merged.
func (h *HllSketch) GetHipEstimate() (float64, error) {
	if h.mode != curModeHll {
		return couponEstimate(h.coupons.couponCount), nil
	}
	return h.hll.hipAccum, nil
}

// GetLowerBound returns the approximate lower error bound for the given
// number of standard deviations (1, 2 or 3).
func (h *HllSketch) GetLowerBound(numStdDev int) (float64, error) {
	if err := checkNumStdDev(numStdDev); err != nil {
		return 0, err
	}
	if h.mode != curModeHll {
		est := couponEstimate(h.coupons.couponCount)
		return math.Max(est/(1.0+float64(numStdDev)*couponRSE), float64(h.coupons.couponCount)), nil
	}
	return hllLowerBound(h.hll, numStdDev)
}

// GetUpperBound returns the approximate upper error bound for the given
// number of standard deviations (1, 2 or 3).
func (h *HllSketch) GetUpperBound(numStdDev int) (float64, error) {
	if err := checkNumStdDev(numStdDev); err != nil {
		return 0, err
	}
	if h.mode != curModeHll {
		est := couponEstimate(h.coupons.couponCount)
		return est / (1.0 - float64(numStdDev)*couponRSE), nil
	}
	return hllUpperBound(h.hll, numStdDev)
}

func (h *HllSketch) isOutOfOrder() bool {
	return h.mode == curModeHll && h.hll.oooFlag
}

// Merge folds the peer sketch into this one, downsampling to the smaller
// lgConfigK of the two. The peers must share the same seed. On error the
// receiver is untouched. On success, if either peer was in HLL mode, the
// receiver is out of order and only the composite estimator applies to it;
// peers in LIST or SET mode are replayed coupon by coupon, which keeps the
// HIP estimate.
func (h *HllSketch) Merge(other *HllSketch) error {
	if other == nil || other.IsEmpty() {
		return nil
	}
	if h.seed != other.seed {
		return internal.NewError(internal.ErrIncompatibleSeed,
			"%d, %d", h.seed, other.seed)
	}
	union, err := newUnionWithSeed(min(h.lgConfigK, other.lgConfigK), h.seed)
	if err != nil {
		return err
	}
	if err := union.UpdateSketch(h); err != nil {
		return err
	}
	if err := union.UpdateSketch(other); err != nil {
		return err
	}
	result, err := union.GetResult(h.tgtHllType)
	if err != nil {
		return err
	}
	*h = *result
	return nil
}
