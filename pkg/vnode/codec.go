package vnode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/tskvio/tskv/pkg/models"
)

// encodePoints and decodePoints serialize []models.Point for WAL
// storage. WAL records carry no schema (§9's "Schema evolution during
// replay" note) — only tenant/database/table strings, tag bytes, field
// names, and raw float64 values. Every field value must have a float64
// representation (the TSM block codec this WAL feeds is float64-only,
// per §3's storage layout); a value that doesn't coerce is a field-type
// mismatch and the whole point batch is rejected before anything is
// appended, rather than silently dropped or zeroed.
func encodePoints(points []models.Point) ([]byte, error) {
	var buf []byte
	var scratch [8]byte

	putUvarint := func(v uint64) {
		n := binary.PutUvarint(scratch[:], v)
		buf = append(buf, scratch[:n]...)
	}
	putString := func(s string) {
		putUvarint(uint64(len(s)))
		buf = append(buf, s...)
	}

	putUvarint(uint64(len(points)))
	for _, p := range points {
		putString(p.Tenant)
		putString(p.Database)
		putString(p.Table)
		putUvarint(uint64(len(p.Tags)))
		for _, t := range p.Tags {
			putString(string(t.Key))
			putString(string(t.Value))
		}
		putUvarint(uint64(len(p.Fields)))
		for _, f := range p.Fields {
			putString(f.Name)
			v, ok := floatValue(f.Value)
			if !ok {
				return nil, fmt.Errorf("field %q: value type %T has no float64 representation", f.Name, f.Value)
			}
			var vbuf [8]byte
			binary.BigEndian.PutUint64(vbuf[:], math.Float64bits(v))
			buf = append(buf, vbuf[:]...)
		}
		var tbuf [8]byte
		binary.BigEndian.PutUint64(tbuf[:], uint64(p.Time))
		buf = append(buf, tbuf[:]...)
	}
	return buf, nil
}

func decodePoints(data []byte) ([]models.Point, error) {
	r := &byteReader{data: data}

	count, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	points := make([]models.Point, count)
	for i := range points {
		p := &points[i]
		if p.Tenant, err = r.string(); err != nil {
			return nil, err
		}
		if p.Database, err = r.string(); err != nil {
			return nil, err
		}
		if p.Table, err = r.string(); err != nil {
			return nil, err
		}

		tagCount, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		p.Tags = make([]models.Tag, tagCount)
		for j := range p.Tags {
			key, err := r.string()
			if err != nil {
				return nil, err
			}
			val, err := r.string()
			if err != nil {
				return nil, err
			}
			p.Tags[j] = models.Tag{Key: []byte(key), Value: []byte(val)}
		}

		fieldCount, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		p.Fields = make([]models.Field, fieldCount)
		for j := range p.Fields {
			name, err := r.string()
			if err != nil {
				return nil, err
			}
			v, err := r.fixed64()
			if err != nil {
				return nil, err
			}
			p.Fields[j] = models.Field{Name: name, Type: models.Float, Value: math.Float64frombits(v)}
		}

		t, err := r.fixed64()
		if err != nil {
			return nil, err
		}
		p.Time = models.Timestamp(t)
	}
	return points, nil
}

type byteReader struct {
	data []byte
	off  int
}

var errShortRead = errors.New("vnode: truncated WAL payload")

func (r *byteReader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.data[r.off:])
	if n <= 0 {
		return 0, errShortRead
	}
	r.off += n
	return v, nil
}

func (r *byteReader) string() (string, error) {
	n, err := r.uvarint()
	if err != nil {
		return "", err
	}
	if r.off+int(n) > len(r.data) {
		return "", errShortRead
	}
	s := string(r.data[r.off : r.off+int(n)])
	r.off += int(n)
	return s, nil
}

func (r *byteReader) fixed64() (uint64, error) {
	if r.off+8 > len(r.data) {
		return 0, errShortRead
	}
	v := binary.BigEndian.Uint64(r.data[r.off : r.off+8])
	r.off += 8
	return v, nil
}
