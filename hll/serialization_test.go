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
	"bytes"
	"testing"

	"github.com/frankgrimes97/sketches-go/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, sk *HllSketch, compact bool) *HllSketch {
	t.Helper()
	var image []byte
	var err error
	if compact {
		image, err = sk.ToCompactSlice()
	} else {
		image, err = sk.ToUpdatableSlice()
	}
	require.NoError(t, err)
	back, err := NewHllSketchFromSliceWithDefault(image)
	require.NoError(t, err)
	return back
}

func TestHllSerializeAllModesAndWidths(t *testing.T) {
	for _, width := range []TgtHllType{TgtHllTypeHll4, TgtHllTypeHll6, TgtHllTypeHll8} {
		for _, n := range []int{0, 1, 7, 30, 5_000, 300_000} {
			for _, compact := range []bool{true, false} {
				sk, err := NewHllSketch(10, width)
				require.NoError(t, err)
				for i := 0; i < n; i++ {
					require.NoError(t, sk.UpdateInt64(int64(i)))
				}
				back := roundTrip(t, sk, compact)

				assert.Equal(t, sk.GetCurMode(), back.GetCurMode(),
					"width=%v n=%d compact=%v", width, n, compact)
				assert.Equal(t, sk.GetTgtHllType(), back.GetTgtHllType())
				assert.Equal(t, sk.IsEmpty(), back.IsEmpty())

				wantEst, err := sk.GetEstimate()
				require.NoError(t, err)
				gotEst, err := back.GetEstimate()
				require.NoError(t, err)
				assert.InDelta(t, wantEst, gotEst, 1e-9,
					"width=%v n=%d compact=%v", width, n, compact)

				for sd := 1; sd <= 3; sd++ {
					wantLb, err := sk.GetLowerBound(sd)
					require.NoError(t, err)
					gotLb, err := back.GetLowerBound(sd)
					require.NoError(t, err)
					assert.InDelta(t, wantLb, gotLb, 1e-9)
					wantUb, err := sk.GetUpperBound(sd)
					require.NoError(t, err)
					gotUb, err := back.GetUpperBound(sd)
					require.NoError(t, err)
					assert.InDelta(t, wantUb, gotUb, 1e-9)
				}
			}
		}
	}
}

func TestHll4SerializeWithAuxEntries(t *testing.T) {
	sk, err := NewHllSketch(4, TgtHllTypeHll4)
	require.NoError(t, err)
	for i := 0; i < 3_000_000; i++ {
		require.NoError(t, sk.UpdateInt64(int64(i)))
	}
	for _, compact := range []bool{true, false} {
		back := roundTrip(t, sk, compact)
		assert.Equal(t, sk.hll.curMin, back.hll.curMin, "compact=%v", compact)
		assert.Equal(t, sk.hll.numAtCurMin, back.hll.numAtCurMin)
		assert.Equal(t, sk.hll.bytes, back.hll.bytes)
		if sk.hll.aux != nil {
			require.NotNil(t, back.hll.aux)
			assert.Equal(t, sk.hll.aux.auxCount, back.hll.aux.auxCount)
			err := sk.hll.forEachSlot(func(slotNo, v int) error {
				got, err := back.hll.getSlotValue(slotNo)
				require.NoError(t, err)
				assert.Equal(t, v, got)
				return nil
			})
			require.NoError(t, err)
		}
	}
}

func TestHllSerializedImageIsStable(t *testing.T) {
	sk, err := NewHllSketch(11, TgtHllTypeHll6)
	require.NoError(t, err)
	for i := 0; i < 100_000; i++ {
		require.NoError(t, sk.UpdateInt64(int64(i)))
	}
	image1, err := sk.ToCompactSlice()
	require.NoError(t, err)
	back, err := NewHllSketchFromSliceWithDefault(image1)
	require.NoError(t, err)
	image2, err := back.ToCompactSlice()
	require.NoError(t, err)
	assert.Equal(t, image1, image2)
}

func TestHllDeserializeErrors(t *testing.T) {
	sk, err := NewHllSketch(10, TgtHllTypeHll8)
	require.NoError(t, err)
	for i := 0; i < 100_000; i++ {
		require.NoError(t, sk.UpdateInt64(int64(i)))
	}
	image, err := sk.ToCompactSlice()
	require.NoError(t, err)

	_, err = NewHllSketchFromSliceWithDefault(image[:4])
	assert.ErrorIs(t, err, internal.ErrIo)

	corrupt := append([]byte{}, image...)
	corrupt[serVerByte] = 9
	_, err = NewHllSketchFromSliceWithDefault(corrupt)
	assert.ErrorIs(t, err, internal.ErrVersion)

	corrupt = append([]byte{}, image...)
	corrupt[familyByte] = 16 // CPC family id
	_, err = NewHllSketchFromSliceWithDefault(corrupt)
	assert.ErrorIs(t, err, internal.ErrFamilyMismatch)

	corrupt = append([]byte{}, image...)
	corrupt[preambleIntsByte] = 7
	_, err = NewHllSketchFromSliceWithDefault(corrupt)
	assert.ErrorIs(t, err, internal.ErrFormat)

	corrupt = append([]byte{}, image...)
	corrupt[modeByte] = 3 // unknown mode
	_, err = NewHllSketchFromSliceWithDefault(corrupt)
	assert.ErrorIs(t, err, internal.ErrFormat)
}

func TestHllWriterReader(t *testing.T) {
	sk, err := NewHllSketch(12, TgtHllTypeHll4)
	require.NoError(t, err)
	for i := 0; i < 250_000; i++ {
		require.NoError(t, sk.UpdateInt64(int64(i)))
	}
	var buf bytes.Buffer
	n, err := sk.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, buf.Len(), n)
	back, err := NewHllSketchFromReader(&buf, internal.DefaultUpdateSeed)
	require.NoError(t, err)
	wantEst, err := sk.GetEstimate()
	require.NoError(t, err)
	gotEst, err := back.GetEstimate()
	require.NoError(t, err)
	assert.Equal(t, wantEst, gotEst)
}

func TestHllUpdatableSerializationBytes(t *testing.T) {
	sk, err := NewHllSketch(10, TgtHllTypeHll8)
	require.NoError(t, err)
	for i := 0; i < 100_000; i++ {
		require.NoError(t, sk.UpdateInt64(int64(i)))
	}
	image, err := sk.ToUpdatableSlice()
	require.NoError(t, err)
	assert.Equal(t, sk.GetUpdatableSerializationBytes(), len(image))
}
