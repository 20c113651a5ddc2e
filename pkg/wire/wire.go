// Copyright 2025 topfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package wire implements the binary encoding primitives shared by the
// knowledge checkpoint and the crash artifact formats: little-endian,
// 32-bit unsigned length prefixes, IEEE-754 doubles, and a leading
// endianness marker that is verified on load.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Endianness marker written as the first byte of every file.
// Only little-endian files are produced; a big-endian marker on load means
// the file came from an incompatible system and is refused.
const (
	LittleEndian byte = 1
	BigEndian    byte = 0
)

// Length prefixes above this are treated as corruption rather than honored,
// so a truncated or garbage file cannot make us allocate gigabytes.
const maxLen = 1 << 28

func WriteEndianness(w io.Writer) error {
	_, err := w.Write([]byte{LittleEndian})
	return err
}

// ReadEndianness verifies the file's endianness marker.
func ReadEndianness(r io.Reader) error {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return fmt.Errorf("failed to read endianness marker: %w", err)
	}
	switch buf[0] {
	case LittleEndian:
		return nil
	case BigEndian:
		return fmt.Errorf("endianness mismatch: file is big-endian, system reader is little-endian")
	default:
		return fmt.Errorf("bad endianness marker 0x%02x", buf[0])
	}
}

func WriteU32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func ReadU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func WriteI32(w io.Writer, v int32) error {
	return WriteU32(w, uint32(v))
}

func ReadI32(r io.Reader) (int32, error) {
	v, err := ReadU32(r)
	return int32(v), err
}

func WriteF64(w io.Writer, v float64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
	_, err := w.Write(buf[:])
	return err
}

func ReadF64(r io.Reader) (float64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(buf[:])), nil
}

func readLen(r io.Reader, what string) (int, error) {
	n, err := ReadU32(r)
	if err != nil {
		return 0, fmt.Errorf("failed to read %v length: %w", what, err)
	}
	if n > maxLen {
		return 0, fmt.Errorf("%v length %v is out of range", what, n)
	}
	return int(n), nil
}

func WriteBytes(w io.Writer, data []byte) error {
	if err := WriteU32(w, uint32(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func ReadBytes(r io.Reader) ([]byte, error) {
	n, err := readLen(r, "byte vector")
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("failed to read byte vector: %w", err)
	}
	return data, nil
}

func WriteString(w io.Writer, s string) error {
	return WriteBytes(w, []byte(s))
}

func ReadString(r io.Reader) (string, error) {
	data, err := ReadBytes(r)
	return string(data), err
}

func WriteU32Vector(w io.Writer, vec []uint32) error {
	if err := WriteU32(w, uint32(len(vec))); err != nil {
		return err
	}
	for _, v := range vec {
		if err := WriteU32(w, v); err != nil {
			return err
		}
	}
	return nil
}

func ReadU32Vector(r io.Reader) ([]uint32, error) {
	n, err := readLen(r, "u32 vector")
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	vec := make([]uint32, n)
	for i := range vec {
		if vec[i], err = ReadU32(r); err != nil {
			return nil, fmt.Errorf("failed to read u32 vector: %w", err)
		}
	}
	return vec, nil
}

func WriteF64Vector(w io.Writer, vec []float64) error {
	if err := WriteU32(w, uint32(len(vec))); err != nil {
		return err
	}
	for _, v := range vec {
		if err := WriteF64(w, v); err != nil {
			return err
		}
	}
	return nil
}

func ReadF64Vector(r io.Reader) ([]float64, error) {
	n, err := readLen(r, "f64 vector")
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	vec := make([]float64, n)
	for i := range vec {
		if vec[i], err = ReadF64(r); err != nil {
			return nil, fmt.Errorf("failed to read f64 vector: %w", err)
		}
	}
	return vec, nil
}

func WriteStringVector(w io.Writer, vec []string) error {
	if err := WriteU32(w, uint32(len(vec))); err != nil {
		return err
	}
	for _, s := range vec {
		if err := WriteString(w, s); err != nil {
			return err
		}
	}
	return nil
}

func ReadStringVector(r io.Reader) ([]string, error) {
	n, err := readLen(r, "string vector")
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	vec := make([]string, n)
	for i := range vec {
		if vec[i], err = ReadString(r); err != nil {
			return nil, err
		}
	}
	return vec, nil
}
