// Package codec implements the per-block value codecs a TSM writer may
// choose between (§4.3, §6 storage.*): a raw big-endian fallback, a
// codec storing timestamps as delta+zigzag varints, and thin wrappers
// around github.com/golang/snappy and github.com/klauspost/compress/zstd
// for columns that compress better generically than numerically. The
// codec id is stored as the first byte of every encoded block so a
// reader never has to consult schema to decode it.
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/tskvio/tskv/pkg/models"
)

// ID identifies which codec produced a block's bytes.
type ID byte

const (
	Default     ID = ID(models.EncodingDefault)
	DeltaZigzag ID = ID(models.EncodingDeltaZigzag)
	Gorilla     ID = ID(models.EncodingGorilla)
	Snappy      ID = ID(models.EncodingSnappy)
	Zstd        ID = ID(models.EncodingZstd)
)

// Encode packs timestamps and values into a block payload prefixed with
// its codec id, choosing the codec requested by enc.
func Encode(enc models.Encoding, timestamps []int64, values []float64) ([]byte, error) {
	switch ID(enc) {
	case DeltaZigzag:
		return encodeDeltaZigzag(timestamps, values), nil
	case Snappy:
		return encodeGeneric(timestamps, values, func(b []byte) []byte { return snappy.Encode(nil, b) }, Snappy), nil
	case Zstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return encodeGeneric(timestamps, values, func(b []byte) []byte { return enc.EncodeAll(b, nil) }, Zstd), nil
	case Gorilla:
		// Gorilla XOR-based float compression is not implemented; values
		// fall back to the raw layout but keep the Gorilla id so a future
		// reader upgrade path can distinguish intent from Default.
		return encodeRaw(timestamps, values, Gorilla), nil
	default:
		return encodeRaw(timestamps, values, Default), nil
	}
}

// Decode unpacks a block payload previously produced by Encode.
func Decode(payload []byte) (timestamps []int64, values []float64, err error) {
	if len(payload) == 0 {
		return nil, nil, nil
	}
	id := ID(payload[0])
	body := payload[1:]
	switch id {
	case DeltaZigzag:
		return decodeDeltaZigzag(body)
	case Snappy:
		raw, err := snappy.Decode(nil, body)
		if err != nil {
			return nil, nil, err
		}
		return decodeRawBody(raw)
	case Zstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, nil, err
		}
		defer dec.Close()
		raw, err := dec.DecodeAll(body, nil)
		if err != nil {
			return nil, nil, err
		}
		return decodeRawBody(raw)
	case Default, Gorilla:
		return decodeRawBody(body)
	default:
		return nil, nil, fmt.Errorf("codec: unknown block codec id %d", id)
	}
}

func encodeRaw(timestamps []int64, values []float64, id ID) []byte {
	buf := make([]byte, 1+4+len(timestamps)*16)
	buf[0] = byte(id)
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(timestamps)))
	off := 5
	for i, ts := range timestamps {
		binary.BigEndian.PutUint64(buf[off:off+8], uint64(ts))
		binary.BigEndian.PutUint64(buf[off+8:off+16], math.Float64bits(values[i]))
		off += 16
	}
	return buf
}

func decodeRawBody(body []byte) ([]int64, []float64, error) {
	if len(body) < 4 {
		return nil, nil, fmt.Errorf("codec: truncated raw block header")
	}
	n := binary.BigEndian.Uint32(body[0:4])
	body = body[4:]
	if len(body) < int(n)*16 {
		return nil, nil, fmt.Errorf("codec: truncated raw block body")
	}
	ts := make([]int64, n)
	vals := make([]float64, n)
	off := 0
	for i := range ts {
		ts[i] = int64(binary.BigEndian.Uint64(body[off : off+8]))
		vals[i] = math.Float64frombits(binary.BigEndian.Uint64(body[off+8 : off+16]))
		off += 16
	}
	return ts, vals, nil
}

func encodeGeneric(timestamps []int64, values []float64, compress func([]byte) []byte, id ID) []byte {
	raw := encodeRaw(timestamps, values, Default)[1:] // strip the inner id, the outer id wraps it
	compressed := compress(raw)
	out := make([]byte, 1+len(compressed))
	out[0] = byte(id)
	copy(out[1:], compressed)
	return out
}

// encodeDeltaZigzag stores the first timestamp raw, then zigzag-encoded
// deltas for the rest; values stay as raw float64 bits, since deltas on
// arbitrary floats don't compress reliably without per-column modeling.
func encodeDeltaZigzag(timestamps []int64, values []float64) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(DeltaZigzag))
	var scratch [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(scratch[:], uint64(len(timestamps)))
	buf.Write(scratch[:n])

	var prev int64
	for i, ts := range timestamps {
		var delta int64
		if i == 0 {
			delta = ts
		} else {
			delta = ts - prev
		}
		prev = ts
		n := binary.PutVarint(scratch[:], delta)
		buf.Write(scratch[:n])

		var vbuf [8]byte
		binary.BigEndian.PutUint64(vbuf[:], math.Float64bits(values[i]))
		buf.Write(vbuf[:])
	}
	return buf.Bytes()
}

func decodeDeltaZigzag(body []byte) ([]int64, []float64, error) {
	r := bytes.NewReader(body)
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, nil, err
	}
	ts := make([]int64, count)
	vals := make([]float64, count)
	var prev int64
	for i := range ts {
		delta, err := binary.ReadVarint(r)
		if err != nil {
			return nil, nil, err
		}
		if i == 0 {
			prev = delta
		} else {
			prev += delta
		}
		ts[i] = prev

		var vbuf [8]byte
		if _, err := r.Read(vbuf[:]); err != nil {
			return nil, nil, err
		}
		vals[i] = math.Float64frombits(binary.BigEndian.Uint64(vbuf[:]))
	}
	return ts, vals, nil
}
