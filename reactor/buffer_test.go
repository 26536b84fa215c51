// Copyright (c) 2022 The reactor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_BufferInitialState(t *testing.T) {
	b := NewBuffer()
	assert.Equal(t, 0, b.ReadableBytes())
	assert.Equal(t, initialSize, b.WritableBytes())
	assert.Equal(t, cheapPrepend, b.PrependableBytes())
}

func Test_BufferAppendAndRetrieve(t *testing.T) {
	b := NewBuffer()
	b.Append([]byte("hello"))
	assert.Equal(t, 5, b.ReadableBytes())
	assert.Equal(t, "hello", string(b.Peek()))

	b.Retrieve(2)
	assert.Equal(t, 3, b.ReadableBytes())
	assert.Equal(t, "llo", string(b.Peek()))

	assert.Equal(t, "llo", b.RetrieveAllAsString())
	assert.Equal(t, 0, b.ReadableBytes())
}

func Test_BufferRetrieveAsString(t *testing.T) {
	b := NewBuffer()
	b.Append([]byte("abcdef"))
	s := b.RetrieveAsString(3)
	assert.Equal(t, "abc", s)
	assert.Equal(t, "def", string(b.Peek()))
}

func Test_BufferGrowsPastInitialSize(t *testing.T) {
	b := NewBuffer()
	big := make([]byte, initialSize*3)
	for i := range big {
		big[i] = byte(i)
	}
	b.Append(big)
	assert.Equal(t, len(big), b.ReadableBytes())
	assert.Equal(t, big, b.Peek())
}

func Test_BufferRetrieveNegativeSizeIsRefused(t *testing.T) {
	b := NewBuffer()
	b.Append([]byte("hello"))
	b.Retrieve(-1)
	assert.Equal(t, 5, b.ReadableBytes())
	assert.Equal(t, "hello", string(b.Peek()))
}

func Test_BufferMakeSpaceCompactsInsteadOfGrowing(t *testing.T) {
	b := NewBuffer()
	b.Append([]byte("0123456789"))
	b.Retrieve(8)
	assert.Equal(t, 2, b.ReadableBytes())

	before := cap(b.buf)
	b.EnsureWritable(initialSize - 4)
	assert.Equal(t, before, cap(b.buf))
	assert.Equal(t, "89", string(b.Peek()))
}
