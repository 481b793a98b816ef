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
	"io"
	"math"

	"github.com/frankgrimes97/sketches-go/internal"
)

// Byte offsets of the 8-byte preamble and the mode-dependent tails.
const (
	preambleIntsByte = 0
	serVerByte       = 1
	familyByte       = 2
	lgKByte          = 3
	lgArrByte        = 4
	flagsByte        = 5
	listCountByte    = 6
	hllCurMinByte    = 6
	modeByte         = 7 // lo2bits = curMode, next 2 bits = tgtHllType

	listIntArrStart = 8

	hashSetCountInt    = 8
	hashSetIntArrStart = 12

	hipAccumDouble  = 8
	kxq0Double      = 16
	kxq1Double      = 24
	curMinCountInt  = 32
	auxCountInt     = 36
	hllByteArrStart = 40
)

// Flag bit masks. The out-of-order bit shares the flags byte with the
// empty and compact bits.
const (
	emptyFlagMask           = 4
	compactFlagMask         = 8
	outOfOrderFlagMask      = 16
	rebuildCurminNumKxqMask = 32
)

const (
	curModeMask    = 3
	tgtHllTypeMask = 12
)

const (
	serVer         = 1
	listPreInts    = 2
	hashSetPreInts = 3
	hllPreInts     = 10
)

// GetUpdatableSerializationBytes returns the size of the updatable image of
// the current representation.
func (h *HllSketch) GetUpdatableSerializationBytes() int {
	switch h.mode {
	case curModeHll:
		auxBytes := 0
		if h.tgtHllType == TgtHllTypeHll4 {
			if h.hll.aux != nil {
				auxBytes = h.hll.aux.getUpdatableSizeBytes()
			} else {
				auxBytes = 4 << lgAuxArrInts[h.lgConfigK]
			}
		}
		return hllByteArrStart + len(h.hll.bytes) + auxBytes
	case curModeSet:
		return hashSetIntArrStart + (4 << h.coupons.lgCouponArrInts)
	default:
		return listIntArrStart + (4 << h.coupons.lgCouponArrInts)
	}
}

// ToCompactSlice serializes the sketch, compacting the coupon and aux
// structures to eliminate unused storage.
func (h *HllSketch) ToCompactSlice() ([]byte, error) {
	return h.toSlice(true)
}

// ToUpdatableSlice serializes the sketch in its updatable form, which is
// larger than the compact form.
func (h *HllSketch) ToUpdatableSlice() ([]byte, error) {
	return h.toSlice(false)
}

// WriteTo serializes the compact form to the given writer and returns the
// number of bytes written.
func (h *HllSketch) WriteTo(w io.Writer) (int, error) {
	bytes, err := h.ToCompactSlice()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(bytes)
	if err != nil {
		return n, internal.NewError(internal.ErrIo, "%v", err)
	}
	return n, nil
}

func (h *HllSketch) toSlice(compact bool) ([]byte, error) {
	if h.mode == curModeHll {
		return h.toHllSlice(compact)
	}
	return h.toCouponSlice(compact)
}

func (h *HllSketch) putCommonPreamble(dst []byte, preInts int) {
	dst[preambleIntsByte] = byte(preInts & 0x3F)
	dst[serVerByte] = serVer
	dst[familyByte] = byte(internal.FamilyEnum.HLL.Id)
	dst[lgKByte] = byte(h.lgConfigK)
	mode := byte(h.mode) & curModeMask
	mode |= (byte(h.tgtHllType) << 2) & tgtHllTypeMask
	dst[modeByte] = mode
}

func (h *HllSketch) toCouponSlice(compact bool) ([]byte, error) {
	c := h.coupons
	list := h.mode == curModeList
	dataStart := hashSetIntArrStart
	preInts := hashSetPreInts
	if list {
		dataStart = listIntArrStart
		preInts = listPreInts
	}

	var bytesOut []byte
	if compact {
		bytesOut = make([]byte, dataStart+(c.couponCount<<2))
		offset := dataStart
		for _, coupon := range c.coupons() {
			binary.LittleEndian.PutUint32(bytesOut[offset:], uint32(coupon))
			offset += 4
		}
	} else {
		bytesOut = make([]byte, dataStart+(4<<c.lgCouponArrInts))
		offset := dataStart
		for _, v := range c.couponIntArr {
			binary.LittleEndian.PutUint32(bytesOut[offset:], uint32(v))
			offset += 4
		}
	}

	h.putCommonPreamble(bytesOut, preInts)
	bytesOut[lgArrByte] = byte(c.lgCouponArrInts)
	flags := byte(0)
	if h.IsEmpty() {
		flags |= emptyFlagMask
	}
	if compact {
		flags |= compactFlagMask
	}
	bytesOut[flagsByte] = flags
	if list {
		bytesOut[listCountByte] = byte(c.couponCount)
	} else {
		binary.LittleEndian.PutUint32(bytesOut[hashSetCountInt:], uint32(c.couponCount))
	}
	return bytesOut, nil
}

func (h *HllSketch) toHllSlice(compact bool) ([]byte, error) {
	arr := h.hll
	auxBytes := 0
	if arr.width == TgtHllTypeHll4 {
		if arr.aux != nil {
			if compact {
				auxBytes = arr.aux.getCompactSizeBytes()
			} else {
				auxBytes = arr.aux.getUpdatableSizeBytes()
			}
		} else if !compact {
			auxBytes = 4 << lgAuxArrInts[h.lgConfigK]
		}
	}
	bytesOut := make([]byte, hllByteArrStart+len(arr.bytes)+auxBytes)

	h.putCommonPreamble(bytesOut, hllPreInts)
	flags := byte(0)
	if compact {
		flags |= compactFlagMask
	}
	if arr.oooFlag {
		flags |= outOfOrderFlagMask
	}
	if arr.rebuildCurMinNumKxQ {
		flags |= rebuildCurminNumKxqMask
	}
	bytesOut[flagsByte] = flags
	bytesOut[hllCurMinByte] = byte(arr.curMin)
	binary.LittleEndian.PutUint64(bytesOut[hipAccumDouble:], math.Float64bits(arr.hipAccum))
	binary.LittleEndian.PutUint64(bytesOut[kxq0Double:], math.Float64bits(arr.kxq0))
	binary.LittleEndian.PutUint64(bytesOut[kxq1Double:], math.Float64bits(arr.kxq1))
	binary.LittleEndian.PutUint32(bytesOut[curMinCountInt:], uint32(arr.numAtCurMin))
	copy(bytesOut[hllByteArrStart:], arr.bytes)

	if arr.aux == nil {
		binary.LittleEndian.PutUint32(bytesOut[auxCountInt:], 0)
		if arr.width == TgtHllTypeHll4 {
			bytesOut[lgArrByte] = byte(lgAuxArrInts[h.lgConfigK])
		}
		return bytesOut, nil
	}

	binary.LittleEndian.PutUint32(bytesOut[auxCountInt:], uint32(arr.aux.auxCount))
	bytesOut[lgArrByte] = byte(arr.aux.lgAuxArrInts)
	auxStart := hllByteArrStart + len(arr.bytes)
	if compact {
		offset := auxStart
		for _, p := range arr.aux.pairs() {
			binary.LittleEndian.PutUint32(bytesOut[offset:], uint32(p))
			offset += 4
		}
	} else {
		for i, v := range arr.aux.auxIntArr {
			binary.LittleEndian.PutUint32(bytesOut[auxStart+(i<<2):], uint32(v))
		}
	}
	return bytesOut, nil
}

//
// Deserialization
//

func extractCurMode(byteArr []byte) curMode {
	return curMode(byteArr[modeByte] & curModeMask)
}

func extractTgtHllType(byteArr []byte) TgtHllType {
	return TgtHllType((byteArr[modeByte] & tgtHllTypeMask) >> 2)
}

func checkPreamble(preamble []byte) (curMode, error) {
	if len(preamble) < 8 {
		return 0, internal.NewError(internal.ErrIo,
			"input too small: %d bytes", len(preamble))
	}
	preInts := int(preamble[preambleIntsByte] & 0x3F)
	if len(preamble) < preInts*4 {
		return 0, internal.NewError(internal.ErrIo,
			"input length %d below preamble %d", len(preamble), preInts*4)
	}
	serialVersion := int(preamble[serVerByte])
	famId := int(preamble[familyByte])
	mode := extractCurMode(preamble)

	if famId != internal.FamilyEnum.HLL.Id {
		return 0, internal.NewError(internal.ErrFamilyMismatch,
			"expected %d, got %d", internal.FamilyEnum.HLL.Id, famId)
	}
	if serialVersion != serVer {
		return 0, internal.NewError(internal.ErrVersion,
			"expected %d, got %d", serVer, serialVersion)
	}
	switch mode {
	case curModeList:
		if preInts != listPreInts {
			return 0, internal.NewError(internal.ErrFormat, "preamble ints: %d", preInts)
		}
	case curModeSet:
		if preInts != hashSetPreInts {
			return 0, internal.NewError(internal.ErrFormat, "preamble ints: %d", preInts)
		}
	case curModeHll:
		if preInts != hllPreInts {
			return 0, internal.NewError(internal.ErrFormat, "preamble ints: %d", preInts)
		}
	default:
		return 0, internal.NewError(internal.ErrFormat, "unknown mode byte: %d", preamble[modeByte])
	}
	return mode, nil
}

// NewHllSketchFromSlice deserializes a sketch image, which may be compact
// or updatable. The caller's seed must be the one the image was built
// with; it cannot be verified from the image itself.
func NewHllSketchFromSlice(bytes []byte, seed uint64) (*HllSketch, error) {
	mode, err := checkPreamble(bytes)
	if err != nil {
		return nil, err
	}
	lgConfigK, err := checkLgK(int(bytes[lgKByte]))
	if err != nil {
		return nil, err
	}
	tgtHllType := extractTgtHllType(bytes)
	sketch, err := NewHllSketchWithSeed(lgConfigK, tgtHllType, seed)
	if err != nil {
		return nil, err
	}
	switch mode {
	case curModeList:
		return sketch, deserializeCoupons(sketch, bytes, curModeList)
	case curModeSet:
		return sketch, deserializeCoupons(sketch, bytes, curModeSet)
	default:
		return sketch, deserializeHll(sketch, bytes)
	}
}

// NewHllSketchFromSliceWithDefault deserializes a sketch image built with
// the default seed.
func NewHllSketchFromSliceWithDefault(bytes []byte) (*HllSketch, error) {
	return NewHllSketchFromSlice(bytes, internal.DefaultUpdateSeed)
}

func deserializeCoupons(sketch *HllSketch, bytes []byte, mode curMode) error {
	compact := bytes[flagsByte]&compactFlagMask != 0

	var (
		couponCount int
		dataStart   int
		coupons     couponCollection
	)
	if mode == curModeList {
		couponCount = int(bytes[listCountByte])
		dataStart = listIntArrStart
		coupons = newCouponList()
	} else {
		couponCount = int(binary.LittleEndian.Uint32(bytes[hashSetCountInt:]))
		dataStart = hashSetIntArrStart
		coupons = newCouponSet()
	}
	sketch.mode = mode
	sketch.coupons = &coupons

	if compact {
		if len(bytes) < dataStart+couponCount*4 {
			return internal.NewError(internal.ErrIo, "input too small for %d coupons", couponCount)
		}
		for i := 0; i < couponCount; i++ {
			coupon := int(binary.LittleEndian.Uint32(bytes[dataStart+(i<<2):]))
			if err := sketch.couponUpdate(coupon); err != nil {
				return err
			}
		}
		return nil
	}

	lgCouponArrInts := int(bytes[lgArrByte])
	if lgCouponArrInts < lgInitListSize || lgCouponArrInts > maxLogK {
		return internal.NewError(internal.ErrFormat, "lgArr out of range: %d", lgCouponArrInts)
	}
	arrInts := 1 << lgCouponArrInts
	if len(bytes) < dataStart+arrInts*4 {
		return internal.NewError(internal.ErrIo, "input too small for coupon array")
	}
	// replay the raw array so that promotions re-establish the invariants
	for i := 0; i < arrInts; i++ {
		coupon := int(binary.LittleEndian.Uint32(bytes[dataStart+(i<<2):]))
		if coupon == empty {
			continue
		}
		if err := sketch.couponUpdate(coupon); err != nil {
			return err
		}
	}
	if sketch.mode != curModeHll && sketch.coupons.couponCount != couponCount {
		return internal.NewError(internal.ErrFormat,
			"coupon count mismatch: %d != %d", sketch.coupons.couponCount, couponCount)
	}
	return nil
}

func deserializeHll(sketch *HllSketch, bytes []byte) error {
	arr := newHllArray(sketch.lgConfigK, sketch.tgtHllType)
	if len(bytes) < hllByteArrStart+len(arr.bytes) {
		return internal.NewError(internal.ErrIo, "input too small for register array")
	}
	arr.oooFlag = bytes[flagsByte]&outOfOrderFlagMask != 0
	arr.rebuildCurMinNumKxQ = bytes[flagsByte]&rebuildCurminNumKxqMask != 0
	arr.curMin = int(bytes[hllCurMinByte])
	arr.hipAccum = math.Float64frombits(binary.LittleEndian.Uint64(bytes[hipAccumDouble:]))
	arr.kxq0 = math.Float64frombits(binary.LittleEndian.Uint64(bytes[kxq0Double:]))
	arr.kxq1 = math.Float64frombits(binary.LittleEndian.Uint64(bytes[kxq1Double:]))
	arr.numAtCurMin = int(int32(binary.LittleEndian.Uint32(bytes[curMinCountInt:])))
	if arr.numAtCurMin < 0 {
		return internal.NewError(internal.ErrFormat, "negative numAtCurMin")
	}
	copy(arr.bytes, bytes[hllByteArrStart:])

	auxCount := int(int32(binary.LittleEndian.Uint32(bytes[auxCountInt:])))
	if auxCount < 0 {
		return internal.NewError(internal.ErrFormat, "negative aux count")
	}
	if arr.width == TgtHllTypeHll4 && auxCount > 0 {
		compact := bytes[flagsByte]&compactFlagMask != 0
		auxStart := hllByteArrStart + len(arr.bytes)
		aux := arr.newAuxHashMap()
		if compact {
			if len(bytes) < auxStart+auxCount*4 {
				return internal.NewError(internal.ErrIo, "input too small for aux map")
			}
			for i := 0; i < auxCount; i++ {
				p := int(binary.LittleEndian.Uint32(bytes[auxStart+(i<<2):]))
				if err := aux.mustAdd(getPairLow26(p)&((1<<sketch.lgConfigK)-1), getPairValue(p)); err != nil {
					return err
				}
			}
		} else {
			lgAuxArr := int(bytes[lgArrByte])
			auxInts := 1 << lgAuxArr
			if len(bytes) < auxStart+auxInts*4 {
				return internal.NewError(internal.ErrIo, "input too small for aux array")
			}
			for i := 0; i < auxInts; i++ {
				p := int(binary.LittleEndian.Uint32(bytes[auxStart+(i<<2):]))
				if p == empty {
					continue
				}
				if err := aux.mustAdd(getPairLow26(p)&((1<<sketch.lgConfigK)-1), getPairValue(p)); err != nil {
					return err
				}
			}
		}
		if aux.auxCount != auxCount {
			return internal.NewError(internal.ErrFormat,
				"aux count mismatch: %d != %d", aux.auxCount, auxCount)
		}
		arr.aux = aux
	}
	// re-establish the derived registers before any query is served
	if err := arr.rebuildCurMinNumKxQRegisters(); err != nil {
		return err
	}
	sketch.hll = arr
	sketch.coupons = nil
	sketch.mode = curModeHll
	return nil
}

// NewHllSketchFromReader reads a serialized sketch from the given reader.
func NewHllSketchFromReader(r io.Reader, seed uint64) (*HllSketch, error) {
	all, err := io.ReadAll(r)
	if err != nil {
		return nil, internal.NewError(internal.ErrIo, "%v", err)
	}
	return NewHllSketchFromSlice(all, seed)
}
