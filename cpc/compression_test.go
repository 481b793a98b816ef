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
	"bytes"
	"testing"

	"github.com/frankgrimes97/sketches-go/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairStreamRoundTrip(t *testing.T) {
	lgK := 10
	pairs := []int{0, 1, 5, 63, 64, 100, 1000, 5000, (1 << (lgK + 6)) - 1}
	words := compressPairs(pairs, lgK)
	decoded, err := uncompressPairs(words, len(pairs), lgK)
	require.NoError(t, err)
	assert.Equal(t, pairs, decoded)
}

func TestPairStreamSingle(t *testing.T) {
	for _, p := range []int{0, 1, 1 << 20} {
		words := compressPairs([]int{p}, 26)
		decoded, err := uncompressPairs(words, 1, 26)
		require.NoError(t, err)
		assert.Equal(t, []int{p}, decoded)
	}
}

func TestPairStreamTruncatedFails(t *testing.T) {
	pairs := []int{10, 20, 30, 40, 5000, 60000}
	words := compressPairs(pairs, 10)
	_, err := uncompressPairs(words[:0], len(pairs), 10)
	assert.Error(t, err)
}

func TestWindowStreamRoundTrip(t *testing.T) {
	window := make([]byte, 256)
	for i := range window {
		window[i] = byte((i * 31) % 256)
	}
	words := compressWindow(window)
	decoded, err := uncompressWindow(words, len(window))
	require.NoError(t, err)
	assert.Equal(t, window, decoded)
}

func TestWindowStreamSparseBytes(t *testing.T) {
	window := make([]byte, 1024)
	window[3] = 1
	window[900] = 255
	words := compressWindow(window)
	decoded, err := uncompressWindow(words, len(window))
	require.NoError(t, err)
	assert.Equal(t, window, decoded)
	// a mostly-zero window compresses well below one byte per slot
	assert.Less(t, len(words)*4, len(window))
}

func TestCompressUncompressAllFlavors(t *testing.T) {
	lgK := 9
	k := 1 << lgK
	for _, n := range []int{1, 10, k / 16, k / 8, k / 2, k, 3 * k, 10 * k} {
		sk, err := NewCpcSketchWithDefault(lgK)
		require.NoError(t, err)
		for i := 0; i < n; i++ {
			require.NoError(t, sk.UpdateInt64(int64(i)))
		}
		state, err := compress(sk)
		require.NoError(t, err)
		sk2, err := uncompress(state, sk.seed)
		require.NoError(t, err)

		assert.Equal(t, sk.numCoupons, sk2.numCoupons, "n=%d", n)
		assert.Equal(t, sk.windowOffset, sk2.windowOffset, "n=%d", n)
		assert.Equal(t, sk.slidingWindow, sk2.slidingWindow, "n=%d", n)
		assert.True(t, sk.pairTable.equals(sk2.pairTable), "n=%d", n)
		assert.True(t, sk2.Validate(), "n=%d", n)
		assert.InDelta(t, sk.GetEstimate(), sk2.GetEstimate(), 1e-9, "n=%d", n)
	}
}

func TestCpcSerializeDeserializeAllFlavors(t *testing.T) {
	lgK := 10
	k := 1 << lgK
	for _, n := range []int{0, 1, 100, k / 8, k / 2, 2 * k, 8 * k} {
		sk, err := NewCpcSketchWithDefault(lgK)
		require.NoError(t, err)
		for i := 0; i < n; i++ {
			require.NoError(t, sk.UpdateInt64(int64(i)))
		}
		image, err := sk.ToCompactSlice()
		require.NoError(t, err)
		sk2, err := NewCpcSketchFromSlice(image, internal.DefaultUpdateSeed)
		require.NoError(t, err)
		assert.Equal(t, sk.numCoupons, sk2.numCoupons, "n=%d", n)
		assert.Equal(t, sk.mergeFlag, sk2.mergeFlag, "n=%d", n)
		assert.True(t, sk2.Validate(), "n=%d", n)
		assert.InDelta(t, sk.GetEstimate(), sk2.GetEstimate(), 1e-9, "n=%d", n)

		// serializing the reconstructed sketch is bit-exact
		image2, err := sk2.ToCompactSlice()
		require.NoError(t, err)
		assert.Equal(t, image, image2, "n=%d", n)
	}
}

func TestCpcSerializeMergedSketchHasNoHip(t *testing.T) {
	a, err := NewCpcSketchWithDefault(10)
	require.NoError(t, err)
	b, err := NewCpcSketchWithDefault(10)
	require.NoError(t, err)
	for i := 0; i < 5000; i++ {
		require.NoError(t, a.UpdateInt64(int64(i)))
		require.NoError(t, b.UpdateInt64(int64(i+5000)))
	}
	require.NoError(t, a.Merge(b))
	image, err := a.ToCompactSlice()
	require.NoError(t, err)
	assert.Zero(t, image[5]&flagHasHip)

	back, err := NewCpcSketchFromSlice(image, internal.DefaultUpdateSeed)
	require.NoError(t, err)
	assert.True(t, back.mergeFlag)
	assert.Equal(t, a.GetEstimate(), back.GetEstimate())
}

func TestCpcDeserializeErrors(t *testing.T) {
	sk, err := NewCpcSketchWithDefault(10)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		require.NoError(t, sk.UpdateInt64(int64(i)))
	}
	image, err := sk.ToCompactSlice()
	require.NoError(t, err)

	_, err = NewCpcSketchFromSlice(image[:4], internal.DefaultUpdateSeed)
	assert.ErrorIs(t, err, internal.ErrIo)

	corrupt := append([]byte{}, image...)
	corrupt[1] = 99 // serial version
	_, err = NewCpcSketchFromSlice(corrupt, internal.DefaultUpdateSeed)
	assert.ErrorIs(t, err, internal.ErrVersion)

	corrupt = append([]byte{}, image...)
	corrupt[2] = 7 // HLL family id
	_, err = NewCpcSketchFromSlice(corrupt, internal.DefaultUpdateSeed)
	assert.ErrorIs(t, err, internal.ErrFamilyMismatch)

	corrupt = append([]byte{}, image...)
	corrupt[0] = 9 // wrong preamble ints
	_, err = NewCpcSketchFromSlice(corrupt, internal.DefaultUpdateSeed)
	assert.Error(t, err)

	_, err = NewCpcSketchFromSlice(image, 1234)
	assert.ErrorIs(t, err, internal.ErrIncompatibleSeed)
}

func TestCpcReaderWriter(t *testing.T) {
	sk, err := NewCpcSketchWithDefault(11)
	require.NoError(t, err)
	for i := 0; i < 20_000; i++ {
		require.NoError(t, sk.UpdateInt64(int64(i)))
	}
	var buf bytes.Buffer
	n, err := sk.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, buf.Len(), n)

	sk2, err := NewCpcSketchFromReader(&buf, internal.DefaultUpdateSeed)
	require.NoError(t, err)
	assert.Equal(t, sk.GetNumCoupons(), sk2.GetNumCoupons())
	assert.True(t, sk2.Validate())
}

func TestCpcSerializeWithHeaderPrefix(t *testing.T) {
	sk, err := NewCpcSketchWithDefault(10)
	require.NoError(t, err)
	for i := 0; i < 1000; i++ {
		require.NoError(t, sk.UpdateInt64(int64(i)))
	}
	plain, err := sk.ToCompactSlice()
	require.NoError(t, err)
	withHeader, err := sk.ToCompactSliceWithHeader(16)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 16), withHeader[:16])
	assert.Equal(t, plain, withHeader[16:])

	_, err = sk.ToCompactSliceWithHeader(-1)
	assert.ErrorIs(t, err, internal.ErrInvalidArgument)
}

func TestCpcCompressedImageIsSmallerThanWindow(t *testing.T) {
	lgK := 12
	sk, err := NewCpcSketchWithDefault(lgK)
	require.NoError(t, err)
	for i := 0; i < 1<<lgK; i++ {
		require.NoError(t, sk.UpdateInt64(int64(i)))
	}
	image, err := sk.ToCompactSlice()
	require.NoError(t, err)
	// the whole point of CPC: far fewer bytes than one byte per bucket
	assert.Less(t, len(image), 1<<lgK)
}
