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

package common

import (
	"encoding/binary"

	"github.com/frankgrimes97/sketches-go/internal"
	"github.com/twmb/murmur3"
)

// ItemSketchStringSerDe is the serde for string items. Each entry is a
// 4-byte little-endian length followed by the UTF-8 bytes.
type ItemSketchStringSerDe struct{}

type ItemSketchStringHasher struct{}

var ItemSketchStringComparator = func(reverseOrder bool) CompareFn[string] {
	return func(a, b string) bool {
		if reverseOrder {
			return a > b
		}
		return a < b
	}
}

func (f ItemSketchStringHasher) Hash(item string) uint64 {
	return murmur3.SeedStringSum64(defaultSerdeHashSeed, item)
}

func (f ItemSketchStringSerDe) SizeOf(item string) int {
	return 4 + len(item)
}

func (f ItemSketchStringSerDe) SizeOfMany(mem []byte, offsetBytes int, numItems int) (int, error) {
	offset := offsetBytes
	for i := 0; i < numItems; i++ {
		if offset+4 > len(mem) {
			return 0, internal.NewError(internal.ErrIo, "short read at offset %d", offset)
		}
		itemLen := int(binary.LittleEndian.Uint32(mem[offset:]))
		if itemLen < 0 || offset+4+itemLen > len(mem) {
			return 0, internal.NewError(internal.ErrIo, "short read at offset %d", offset)
		}
		offset += 4 + itemLen
	}
	return offset - offsetBytes, nil
}

func (f ItemSketchStringSerDe) SerializeOneToSlice(item string) []byte {
	bytes := make([]byte, 4+len(item))
	binary.LittleEndian.PutUint32(bytes, uint32(len(item)))
	copy(bytes[4:], item)
	return bytes
}

func (f ItemSketchStringSerDe) SerializeManyToSlice(items []string) []byte {
	if len(items) == 0 {
		return []byte{}
	}
	totalBytes := 0
	for i := range items {
		totalBytes += 4 + len(items[i])
	}
	bytes := make([]byte, totalBytes)
	offset := 0
	for i := range items {
		binary.LittleEndian.PutUint32(bytes[offset:], uint32(len(items[i])))
		copy(bytes[offset+4:], items[i])
		offset += 4 + len(items[i])
	}
	return bytes
}

func (f ItemSketchStringSerDe) DeserializeManyFromSlice(mem []byte, offsetBytes int, numItems int) ([]string, error) {
	if numItems == 0 {
		return []string{}, nil
	}
	array := make([]string, 0, numItems)
	offset := offsetBytes
	for i := 0; i < numItems; i++ {
		if offset+4 > len(mem) {
			return nil, internal.NewError(internal.ErrIo, "short read at offset %d", offset)
		}
		itemLen := int(binary.LittleEndian.Uint32(mem[offset:]))
		if offset+4+itemLen > len(mem) {
			return nil, internal.NewError(internal.ErrIo, "short read at offset %d", offset)
		}
		array = append(array, string(mem[offset+4:offset+4+itemLen]))
		offset += 4 + itemLen
	}
	return array, nil
}
