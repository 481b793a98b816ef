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

package kll

import (
	"encoding/binary"
	"io"

	"github.com/frankgrimes97/sketches-go/common"
	"github.com/frankgrimes97/sketches-go/internal"
)

// Byte layout. An image is one of three compact structures: empty, single
// item, or full. The full tail is: n, minK, numLevels, the per-level end
// offsets (relative to the first retained item), min item, max item, then
// the retained items bottom level first.
const (
	preambleIntsByteAdr = 0
	serVerByteAdr       = 1
	familyByteAdr       = 2
	flagsByteAdr        = 3
	kShortAdr           = 4 // to 5
	mByteAdr            = 6
	// 7 is reserved

	dataStartAdrSingleItem = 8 // also ok for empty

	nLongAdr     = 8  // to 15
	minKShortAdr = 16 // to 17
	numLevelsAdr = 18
	// 19 is reserved
	dataStartAdr = 20

	serialVersionEmptyFull = 1
	serialVersionSingle    = 2
	preambleIntsEmpty      = 2
	preambleIntsFull       = 5

	emptyBitMask           = 1
	levelZeroSortedBitMask = 2
	singleItemBitMask      = 4
)

// GetSerializedSizeBytes returns the compact serialized size of the sketch.
func (s *ItemsSketch[C]) GetSerializedSizeBytes() (int, error) {
	if s.serde == nil {
		return 0, internal.NewError(internal.ErrInvalidArgument, "no serde provided")
	}
	switch {
	case s.n == 0:
		return nLongAdr, nil
	case s.n == 1:
		return dataStartAdrSingleItem + s.serde.SizeOf(*s.minItem), nil
	default:
		total := dataStartAdr + int(s.numLevels)*4
		total += s.serde.SizeOf(*s.minItem) + s.serde.SizeOf(*s.maxItem)
		for _, item := range s.getRetainedItemsArray() {
			total += s.serde.SizeOf(item)
		}
		return total, nil
	}
}

func (s *ItemsSketch[C]) getRetainedItemsArray() []C {
	numRet := s.GetNumRetained()
	outArr := make([]C, numRet)
	copy(outArr, s.items[s.levels[0]:])
	return outArr
}

// ToSlice serializes the sketch into its compact image.
func (s *ItemsSketch[C]) ToSlice() ([]byte, error) {
	totalBytes, err := s.GetSerializedSizeBytes()
	if err != nil {
		return nil, err
	}
	bytesOut := make([]byte, totalBytes)

	serialVersion := byte(serialVersionEmptyFull)
	preInts := byte(preambleIntsFull)
	flags := byte(0)
	if s.IsEmpty() {
		flags |= emptyBitMask
		preInts = preambleIntsEmpty
	}
	if s.isLevelZeroSorted {
		flags |= levelZeroSortedBitMask
	}
	if s.n == 1 {
		flags |= singleItemBitMask
		serialVersion = serialVersionSingle
		preInts = preambleIntsEmpty
	}

	bytesOut[preambleIntsByteAdr] = preInts
	bytesOut[serVerByteAdr] = serialVersion
	bytesOut[familyByteAdr] = byte(internal.FamilyEnum.Kll.Id)
	bytesOut[flagsByteAdr] = flags
	binary.LittleEndian.PutUint16(bytesOut[kShortAdr:], s.k)
	bytesOut[mByteAdr] = s.m

	if s.n == 0 {
		return bytesOut, nil
	}
	if s.n == 1 {
		copy(bytesOut[dataStartAdrSingleItem:], s.serde.SerializeOneToSlice(*s.minItem))
		return bytesOut, nil
	}

	binary.LittleEndian.PutUint64(bytesOut[nLongAdr:], s.n)
	binary.LittleEndian.PutUint16(bytesOut[minKShortAdr:], s.minK)
	bytesOut[numLevelsAdr] = s.numLevels
	offset := dataStartAdr
	for lvl := uint8(0); lvl < s.numLevels; lvl++ {
		endOffset := s.levels[lvl+1] - s.levels[0]
		binary.LittleEndian.PutUint32(bytesOut[offset:], endOffset)
		offset += 4
	}
	minBytes := s.serde.SerializeOneToSlice(*s.minItem)
	copy(bytesOut[offset:], minBytes)
	offset += len(minBytes)
	maxBytes := s.serde.SerializeOneToSlice(*s.maxItem)
	copy(bytesOut[offset:], maxBytes)
	offset += len(maxBytes)
	copy(bytesOut[offset:], s.serde.SerializeManyToSlice(s.getRetainedItemsArray()))
	return bytesOut, nil
}

// WriteTo serializes the sketch to the given writer and returns the number
// of bytes written.
func (s *ItemsSketch[C]) WriteTo(w io.Writer) (int, error) {
	bytes, err := s.ToSlice()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(bytes)
	if err != nil {
		return n, internal.NewError(internal.ErrIo, "%v", err)
	}
	return n, nil
}

// NewItemsSketchFromSlice reconstructs a sketch from its compact image.
// The reader re-establishes every structural invariant before any query is
// served.
func NewItemsSketchFromSlice[C comparable](sl []byte, compareFn common.CompareFn[C], serde common.ItemSketchSerde[C]) (*ItemsSketch[C], error) {
	if serde == nil {
		return nil, internal.NewError(internal.ErrInvalidArgument, "no serde provided")
	}
	if compareFn == nil {
		return nil, internal.NewError(internal.ErrInvalidArgument, "no compare function provided")
	}
	if len(sl) < dataStartAdrSingleItem {
		return nil, internal.NewError(internal.ErrIo, "input too small: %d bytes", len(sl))
	}
	preInts := int(sl[preambleIntsByteAdr])
	serialVersion := int(sl[serVerByteAdr])
	famId := int(sl[familyByteAdr])
	flags := int(sl[flagsByteAdr])
	k := binary.LittleEndian.Uint16(sl[kShortAdr:])
	m := sl[mByteAdr]

	if famId != internal.FamilyEnum.Kll.Id {
		return nil, internal.NewError(internal.ErrFamilyMismatch,
			"expected %d, got %d", internal.FamilyEnum.Kll.Id, famId)
	}
	if serialVersion != serialVersionEmptyFull && serialVersion != serialVersionSingle {
		return nil, internal.NewError(internal.ErrVersion, "serial version %d", serialVersion)
	}

	sketch, err := newItemsSketch[C](k, m, compareFn, serde)
	if err != nil {
		return nil, err
	}

	empty := flags&emptyBitMask != 0
	single := flags&singleItemBitMask != 0

	switch {
	case empty:
		if preInts != preambleIntsEmpty {
			return nil, internal.NewError(internal.ErrFormat, "preamble ints: %d", preInts)
		}
		return sketch, nil
	case single:
		if preInts != preambleIntsEmpty || serialVersion != serialVersionSingle {
			return nil, internal.NewError(internal.ErrFormat,
				"preamble ints %d, serial version %d", preInts, serialVersion)
		}
		items, err := serde.DeserializeManyFromSlice(sl, dataStartAdrSingleItem, 1)
		if err != nil {
			return nil, err
		}
		item := items[0]
		sketch.n = 1
		sketch.minItem = &item
		sketch.maxItem = &item
		sketch.levels = []uint32{uint32(k) - 1, uint32(k)}
		sketch.items[k-1] = item
		return sketch, nil
	default:
		if preInts != preambleIntsFull {
			return nil, internal.NewError(internal.ErrFormat, "preamble ints: %d", preInts)
		}
		if len(sl) < dataStartAdr {
			return nil, internal.NewError(internal.ErrIo, "input too small: %d bytes", len(sl))
		}
		n := binary.LittleEndian.Uint64(sl[nLongAdr:])
		minK := binary.LittleEndian.Uint16(sl[minKShortAdr:])
		numLevels := sl[numLevelsAdr]
		if n < 2 || numLevels < 1 || minK < uint16(m) || minK > k {
			return nil, internal.NewError(internal.ErrFormat,
				"inconsistent full image: n=%d numLevels=%d minK=%d", n, numLevels, minK)
		}
		offset := dataStartAdr + int(numLevels)*4
		if len(sl) < offset {
			return nil, internal.NewError(internal.ErrIo, "input too small for levels array")
		}
		endOffsets := make([]uint32, numLevels)
		prev := uint32(0)
		for lvl := uint8(0); lvl < numLevels; lvl++ {
			endOffsets[lvl] = binary.LittleEndian.Uint32(sl[dataStartAdr+int(lvl)*4:])
			if endOffsets[lvl] < prev {
				return nil, internal.NewError(internal.ErrFormat, "level offsets are not monotonic")
			}
			prev = endOffsets[lvl]
		}
		numRetained := endOffsets[numLevels-1]
		if numRetained == 0 {
			return nil, internal.NewError(internal.ErrFormat, "full image with no retained items")
		}

		minMaxItems, err := serde.DeserializeManyFromSlice(sl, offset, 2)
		if err != nil {
			return nil, err
		}
		sizeOfMinMax, err := serde.SizeOfMany(sl, offset, 2)
		if err != nil {
			return nil, err
		}
		offset += sizeOfMinMax
		retained, err := serde.DeserializeManyFromSlice(sl, offset, int(numRetained))
		if err != nil {
			return nil, err
		}

		// Rebuild the stack with the retained items at the top of a
		// capacity-sized array, so that level 0 has room to grow again.
		capacity := computeTotalItemCapacity(k, m, numLevels)
		if capacity < numRetained {
			capacity = numRetained
		}
		freeSpace := capacity - numRetained
		items := make([]C, capacity)
		copy(items[freeSpace:], retained)
		levels := make([]uint32, numLevels+1)
		levels[0] = freeSpace
		for lvl := uint8(0); lvl < numLevels; lvl++ {
			levels[lvl+1] = endOffsets[lvl] + freeSpace
		}

		sketch.n = n
		sketch.minK = minK
		sketch.numLevels = numLevels
		sketch.isLevelZeroSorted = flags&levelZeroSortedBitMask != 0
		sketch.levels = levels
		sketch.items = items
		sketch.minItem = &minMaxItems[0]
		sketch.maxItem = &minMaxItems[1]
		return sketch, nil
	}
}

// NewItemsSketchFromReader reads a serialized sketch from the given reader.
func NewItemsSketchFromReader[C comparable](r io.Reader, compareFn common.CompareFn[C], serde common.ItemSketchSerde[C]) (*ItemsSketch[C], error) {
	all, err := io.ReadAll(r)
	if err != nil {
		return nil, internal.NewError(internal.ErrIo, "%v", err)
	}
	return NewItemsSketchFromSlice(all, compareFn, serde)
}
