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
	"encoding/binary"
	"io"
	"math"

	"github.com/frankgrimes97/sketches-go/internal"
)

const serialVersion = 1

// Preamble flag bits. The big-endian bit is reserved and always written 0;
// the wire format is little-endian.
const (
	flagBigEndian  = 1 << 0
	flagCompressed = 1 << 1
	flagHasHip     = 1 << 2
	flagHasTable   = 1 << 3
	flagHasWindow  = 1 << 4
)

func preambleInts(state *compressedState) int {
	preInts := 2
	if state.numCoupons > 0 {
		preInts++ // num coupons
		if !state.mergeFlag {
			preInts += 4 // kxp and hipEstAccum
		}
		if state.csvStream != nil {
			preInts++ // csv length
			// the num-values field is needed only when the count cannot be
			// inferred from numCoupons
			if state.cwStream != nil {
				preInts++
			}
		}
		if state.cwStream != nil {
			preInts++ // window length
		}
	}
	return preInts
}

// ToCompactSlice serializes the sketch into its compressed wire image.
func (c *CpcSketch) ToCompactSlice() ([]byte, error) {
	state, err := compress(c)
	if err != nil {
		return nil, err
	}
	seedHash, err := internal.ComputeSeedHash(c.seed)
	if err != nil {
		return nil, err
	}

	preInts := preambleInts(state)
	totalBytes := 4 * (preInts + len(state.cwStream) + len(state.csvStream))
	out := make([]byte, totalBytes)

	hasHip := !state.mergeFlag
	hasTable := state.csvStream != nil
	hasWindow := state.cwStream != nil

	flags := byte(flagCompressed)
	if hasHip {
		flags |= flagHasHip
	}
	if hasTable {
		flags |= flagHasTable
	}
	if hasWindow {
		flags |= flagHasWindow
	}

	out[0] = byte(preInts)
	out[1] = serialVersion
	out[2] = byte(internal.FamilyEnum.CPC.Id)
	out[3] = byte(state.lgK)
	out[4] = byte(state.fiCol)
	out[5] = flags
	binary.LittleEndian.PutUint16(out[6:8], seedHash)

	offset := 8
	if state.numCoupons > 0 {
		binary.LittleEndian.PutUint32(out[offset:], uint32(state.numCoupons))
		offset += 4
		if hasTable && hasWindow {
			binary.LittleEndian.PutUint32(out[offset:], uint32(state.numCsv))
			offset += 4
			// The HIP pair sits at one of two 8-byte-aligned positions
			// depending on the presence flags. This is the first one.
			if hasHip {
				offset = putHip(out, offset, state)
			}
		}
		if hasTable {
			binary.LittleEndian.PutUint32(out[offset:], uint32(len(state.csvStream)))
			offset += 4
		}
		if hasWindow {
			binary.LittleEndian.PutUint32(out[offset:], uint32(len(state.cwStream)))
			offset += 4
		}
		// The second HIP position.
		if hasHip && !(hasTable && hasWindow) {
			offset = putHip(out, offset, state)
		}
		for _, w := range state.cwStream {
			binary.LittleEndian.PutUint32(out[offset:], w)
			offset += 4
		}
		for _, w := range state.csvStream {
			binary.LittleEndian.PutUint32(out[offset:], w)
			offset += 4
		}
	}
	return out, nil
}

func putHip(out []byte, offset int, state *compressedState) int {
	binary.LittleEndian.PutUint64(out[offset:], math.Float64bits(state.kxp))
	binary.LittleEndian.PutUint64(out[offset+8:], math.Float64bits(state.hipEstAccum))
	return offset + 16
}

// ToCompactSliceWithHeader serializes the sketch into a buffer whose first
// headerSizeBytes bytes are left zeroed for the caller's own framing.
func (c *CpcSketch) ToCompactSliceWithHeader(headerSizeBytes int) ([]byte, error) {
	if headerSizeBytes < 0 {
		return nil, internal.NewError(internal.ErrInvalidArgument,
			"header size cannot be negative: %d", headerSizeBytes)
	}
	image, err := c.ToCompactSlice()
	if err != nil {
		return nil, err
	}
	out := make([]byte, headerSizeBytes+len(image))
	copy(out[headerSizeBytes:], image)
	return out, nil
}

// WriteTo serializes the sketch to the given writer and returns the number
// of bytes written.
func (c *CpcSketch) WriteTo(w io.Writer) (int, error) {
	bytes, err := c.ToCompactSlice()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(bytes)
	if err != nil {
		return n, internal.NewError(internal.ErrIo, "%v", err)
	}
	return n, nil
}

// NewCpcSketchFromSlice reconstructs a sketch from its wire image, failing
// fast on any format, version, family or seed mismatch.
func NewCpcSketchFromSlice(bytes []byte, seed uint64) (*CpcSketch, error) {
	if len(bytes) < 8 {
		return nil, internal.NewError(internal.ErrIo, "input too small: %d bytes", len(bytes))
	}
	preInts := int(bytes[0])
	serVer := int(bytes[1])
	famId := int(bytes[2])
	lgK := int(bytes[3])
	fiCol := int(bytes[4])
	flags := bytes[5]
	seedHash := binary.LittleEndian.Uint16(bytes[6:8])

	if serVer != serialVersion {
		return nil, internal.NewError(internal.ErrVersion,
			"expected %d, got %d", serialVersion, serVer)
	}
	if famId != internal.FamilyEnum.CPC.Id {
		return nil, internal.NewError(internal.ErrFamilyMismatch,
			"expected %d, got %d", internal.FamilyEnum.CPC.Id, famId)
	}
	if err := checkLgK(lgK); err != nil {
		return nil, err
	}
	if flags&flagCompressed == 0 {
		return nil, internal.NewError(internal.ErrFormat, "image is not compressed")
	}
	expectedSeedHash, err := internal.ComputeSeedHash(seed)
	if err != nil {
		return nil, err
	}
	if seedHash != expectedSeedHash {
		return nil, internal.NewError(internal.ErrIncompatibleSeed,
			"%d, %d", seedHash, expectedSeedHash)
	}

	hasHip := flags&flagHasHip != 0
	hasTable := flags&flagHasTable != 0
	hasWindow := flags&flagHasWindow != 0

	state := &compressedState{
		lgK:       lgK,
		fiCol:     fiCol,
		mergeFlag: !hasHip,
		kxp:       float64(int64(1) << lgK),
	}

	if len(bytes) < 4*preInts {
		return nil, internal.NewError(internal.ErrIo,
			"input too small: %d bytes, %d preamble ints", len(bytes), preInts)
	}
	offset := 8
	csvLengthInts := 0
	cwLengthInts := 0
	if hasTable || hasWindow {
		state.numCoupons = uint64(binary.LittleEndian.Uint32(bytes[offset:]))
		offset += 4
		if hasTable && hasWindow {
			state.numCsv = int(binary.LittleEndian.Uint32(bytes[offset:]))
			offset += 4
			if hasHip {
				offset = getHip(bytes, offset, state)
			}
		}
		if hasTable {
			csvLengthInts = int(int32(binary.LittleEndian.Uint32(bytes[offset:])))
			offset += 4
		}
		if hasWindow {
			cwLengthInts = int(int32(binary.LittleEndian.Uint32(bytes[offset:])))
			offset += 4
		}
		if hasHip && !(hasTable && hasWindow) {
			offset = getHip(bytes, offset, state)
		}
		if csvLengthInts < 0 || cwLengthInts < 0 {
			return nil, internal.NewError(internal.ErrFormat,
				"negative stream length: %d, %d", csvLengthInts, cwLengthInts)
		}
		if len(bytes) < offset+4*(cwLengthInts+csvLengthInts) {
			return nil, internal.NewError(internal.ErrIo,
				"input too small for payload: %d bytes", len(bytes))
		}
		if hasWindow {
			state.cwStream = make([]uint32, cwLengthInts)
			for i := range state.cwStream {
				state.cwStream[i] = binary.LittleEndian.Uint32(bytes[offset:])
				offset += 4
			}
		}
		if hasTable {
			state.csvStream = make([]uint32, csvLengthInts)
			for i := range state.csvStream {
				state.csvStream[i] = binary.LittleEndian.Uint32(bytes[offset:])
				offset += 4
			}
		}
		if !hasWindow {
			state.numCsv = int(state.numCoupons)
		}
	}

	if expected := preambleInts(state); preInts != expected {
		return nil, internal.NewError(internal.ErrFormat,
			"preamble ints: expected %d, got %d", expected, preInts)
	}
	return uncompress(state, seed)
}

func getHip(bytes []byte, offset int, state *compressedState) int {
	state.kxp = math.Float64frombits(binary.LittleEndian.Uint64(bytes[offset:]))
	state.hipEstAccum = math.Float64frombits(binary.LittleEndian.Uint64(bytes[offset+8:]))
	return offset + 16
}

// NewCpcSketchFromReader reads a serialized sketch from the given reader.
func NewCpcSketchFromReader(r io.Reader, seed uint64) (*CpcSketch, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, internal.NewError(internal.ErrIo, "%v", err)
	}
	preInts := int(header[0])
	if preInts < 2 || preInts > 10 {
		return nil, internal.NewError(internal.ErrFormat, "preamble ints: %d", preInts)
	}
	rest := make([]byte, 4*preInts-8)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, internal.NewError(internal.ErrIo, "%v", err)
	}
	preamble := append(header, rest...)

	flags := preamble[5]
	hasHip := flags&flagHasHip != 0
	hasTable := flags&flagHasTable != 0
	hasWindow := flags&flagHasWindow != 0
	payloadInts := 0
	if hasTable || hasWindow {
		offset := 12 // past numCoupons
		if hasTable && hasWindow {
			offset += 4
			if hasHip {
				offset += 16
			}
		}
		if hasTable {
			payloadInts += int(int32(binary.LittleEndian.Uint32(preamble[offset:])))
			offset += 4
		}
		if hasWindow {
			payloadInts += int(int32(binary.LittleEndian.Uint32(preamble[offset:])))
		}
	}
	if payloadInts < 0 {
		return nil, internal.NewError(internal.ErrFormat, "negative payload length")
	}
	payload := make([]byte, 4*payloadInts)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, internal.NewError(internal.ErrIo, "%v", err)
	}
	return NewCpcSketchFromSlice(append(preamble, payload...), seed)
}
