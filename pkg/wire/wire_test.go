// Copyright 2025 topfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrimitivesRoundTrip(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, WriteU32(buf, 0xdeadbeef))
	require.NoError(t, WriteI32(buf, -17))
	require.NoError(t, WriteF64(buf, math.Pi))
	require.NoError(t, WriteString(buf, "drrun"))
	require.NoError(t, WriteBytes(buf, []byte{0, 255, 7}))
	require.NoError(t, WriteU32Vector(buf, []uint32{1, 2, 3}))
	require.NoError(t, WriteF64Vector(buf, []float64{-1.5, 0, 2.25}))
	require.NoError(t, WriteStringVector(buf, []string{"a", "", "bc"}))

	u, err := ReadU32(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xdeadbeef), u)
	i, err := ReadI32(buf)
	require.NoError(t, err)
	assert.Equal(t, int32(-17), i)
	f, err := ReadF64(buf)
	require.NoError(t, err)
	assert.Equal(t, math.Pi, f)
	s, err := ReadString(buf)
	require.NoError(t, err)
	assert.Equal(t, "drrun", s)
	b, err := ReadBytes(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 255, 7}, b)
	uv, err := ReadU32Vector(buf)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 3}, uv)
	fv, err := ReadF64Vector(buf)
	require.NoError(t, err)
	assert.Equal(t, []float64{-1.5, 0, 2.25}, fv)
	sv, err := ReadStringVector(buf)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "", "bc"}, sv)
	assert.Zero(t, buf.Len(), "trailing bytes after reading everything back")
}

func TestLittleEndianLayout(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, WriteU32(buf, 0x01020304))
	assert.Equal(t, []byte{4, 3, 2, 1}, buf.Bytes())
}

func TestEndiannessMarker(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, WriteEndianness(buf))
	require.NoError(t, ReadEndianness(bytes.NewReader(buf.Bytes())))

	assert.Error(t, ReadEndianness(bytes.NewReader([]byte{BigEndian})))
	assert.Error(t, ReadEndianness(bytes.NewReader([]byte{0x7f})))
	assert.Error(t, ReadEndianness(bytes.NewReader(nil)))
}

func TestHugeLengthRejected(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, WriteU32(buf, 0xfffffff0))
	_, err := ReadBytes(bytes.NewReader(buf.Bytes()))
	assert.Error(t, err)

	buf.Reset()
	require.NoError(t, WriteU32(buf, 0xfffffff0))
	_, err = ReadU32Vector(bytes.NewReader(buf.Bytes()))
	assert.Error(t, err)
}

func TestTruncatedDataRejected(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, WriteBytes(buf, []byte("hello")))
	data := buf.Bytes()
	_, err := ReadBytes(bytes.NewReader(data[:6]))
	assert.Error(t, err)
}
