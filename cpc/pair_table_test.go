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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairTableInsertAndDuplicate(t *testing.T) {
	table, err := newPairTable(2, 16)
	require.NoError(t, err)
	isNovel, err := table.maybeInsert(123)
	require.NoError(t, err)
	assert.True(t, isNovel)
	isNovel, err = table.maybeInsert(123)
	require.NoError(t, err)
	assert.False(t, isNovel)
	assert.Equal(t, 1, table.numPairs)
}

func TestPairTableGrowth(t *testing.T) {
	table, err := newPairTable(2, 16)
	require.NoError(t, err)
	for i := 0; i < 1000; i++ {
		isNovel, err := table.maybeInsert(i)
		require.NoError(t, err)
		require.True(t, isNovel)
	}
	assert.Equal(t, 1000, table.numPairs)
	// load factor stays below the upsize threshold
	assert.LessOrEqual(t, upsizeDenom*table.numPairs, upsizeNumer*(1<<table.lgSizeInts))
	for i := 0; i < 1000; i++ {
		isNovel, err := table.maybeInsert(i)
		require.NoError(t, err)
		assert.False(t, isNovel)
	}
}

func TestPairTableDelete(t *testing.T) {
	table, err := newPairTable(2, 16)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		_, err := table.maybeInsert(i)
		require.NoError(t, err)
	}
	wasPresent, err := table.maybeDelete(42)
	require.NoError(t, err)
	assert.True(t, wasPresent)
	wasPresent, err = table.maybeDelete(42)
	require.NoError(t, err)
	assert.False(t, wasPresent)
	assert.Equal(t, 99, table.numPairs)

	// the remaining pairs are still findable after cluster reinsertion
	for i := 0; i < 100; i++ {
		if i == 42 {
			continue
		}
		isNovel, err := table.maybeInsert(i)
		require.NoError(t, err)
		assert.False(t, isNovel, "pair %d lost", i)
	}
}

func TestPairTableShrinks(t *testing.T) {
	table, err := newPairTable(2, 16)
	require.NoError(t, err)
	for i := 0; i < 1000; i++ {
		_, err := table.maybeInsert(i)
		require.NoError(t, err)
	}
	grownLgSize := table.lgSizeInts
	for i := 0; i < 999; i++ {
		_, err := table.maybeDelete(i)
		require.NoError(t, err)
	}
	assert.Less(t, table.lgSizeInts, grownLgSize)
	assert.Equal(t, 1, table.numPairs)
}

func TestPairTablePairsArraySorted(t *testing.T) {
	table, err := newPairTable(2, 16)
	require.NoError(t, err)
	input := []int{500, 3, 65535, 42, 1}
	for _, v := range input {
		_, err := table.maybeInsert(v)
		require.NoError(t, err)
	}
	assert.Equal(t, []int{1, 3, 42, 500, 65535}, table.pairsArray())
}

func TestPairTableEquals(t *testing.T) {
	a, err := newPairTable(2, 16)
	require.NoError(t, err)
	b, err := newPairTable(5, 16)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		_, err = a.maybeInsert(i * 7)
		require.NoError(t, err)
		_, err = b.maybeInsert(i * 7)
		require.NoError(t, err)
	}
	assert.True(t, a.equals(b))
	_, err = b.maybeInsert(9999)
	require.NoError(t, err)
	assert.False(t, a.equals(b))
}

func TestNewPairTableFromPairs(t *testing.T) {
	pairs := []int{1, 5, 9, 100, 1000}
	table, err := newPairTableFromPairs(pairs, len(pairs), 10)
	require.NoError(t, err)
	assert.Equal(t, len(pairs), table.numPairs)
	assert.Equal(t, pairs, table.pairsArray())
}
