package fixpoint

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Datum tags of the row encoding.
const (
	tagNull byte = iota
	tagFalse
	tagTrue
	tagInt
	tagFloat
	tagString
	tagError
)

// EncodeRow serializes a row into its canonical binary form: a uvarint arity
// followed by a tag byte and payload per datum. Two rows encode to the same
// bytes iff they are equal for grouping purposes.
func EncodeRow(r Row) []byte {
	buf := make([]byte, 0, 1+len(r)*9)
	buf = binary.AppendUvarint(buf, uint64(len(r)))
	for _, d := range r {
		buf = appendDatum(buf, d)
	}
	return buf
}

// EncodeKey encodes the datums at cols as a map key.
func EncodeKey(r Row, cols []int) string {
	buf := make([]byte, 0, 1+len(cols)*9)
	buf = binary.AppendUvarint(buf, uint64(len(cols)))
	for _, c := range cols {
		buf = appendDatum(buf, r[c])
	}
	return string(buf)
}

func appendDatum(buf []byte, d Datum) []byte {
	switch v := d.(type) {
	case nil:
		return append(buf, tagNull)
	case bool:
		if v {
			return append(buf, tagTrue)
		}
		return append(buf, tagFalse)
	case int64:
		buf = append(buf, tagInt)
		// Flip the sign bit so the bytes sort like the integers.
		return binary.BigEndian.AppendUint64(buf, uint64(v)^(1<<63))
	case float64:
		buf = append(buf, tagFloat)
		return binary.BigEndian.AppendUint64(buf, math.Float64bits(v))
	case string:
		buf = append(buf, tagString)
		buf = binary.AppendUvarint(buf, uint64(len(v)))
		return append(buf, v...)
	case *EvalError:
		buf = append(buf, tagError)
		buf = binary.AppendUvarint(buf, uint64(len(v.Message)))
		return append(buf, v.Message...)
	default:
		panic(fmt.Sprintf("unknown datum type: %T", d))
	}
}

// DecodeRow is the inverse of EncodeRow.
func DecodeRow(data []byte) (Row, error) {
	n, k := binary.Uvarint(data)
	if k <= 0 {
		return nil, fmt.Errorf("decode row: invalid arity header")
	}
	pos := k
	row := make(Row, 0, n)
	for i := uint64(0); i < n; i++ {
		if pos >= len(data) {
			return nil, fmt.Errorf("decode row: truncated at datum %d", i)
		}
		tag := data[pos]
		pos++
		switch tag {
		case tagNull:
			row = append(row, nil)
		case tagFalse:
			row = append(row, false)
		case tagTrue:
			row = append(row, true)
		case tagInt, tagFloat:
			if pos+8 > len(data) {
				return nil, fmt.Errorf("decode row: truncated number at datum %d", i)
			}
			bits := binary.BigEndian.Uint64(data[pos : pos+8])
			pos += 8
			if tag == tagInt {
				row = append(row, int64(bits^(1<<63)))
			} else {
				row = append(row, math.Float64frombits(bits))
			}
		case tagString, tagError:
			l, lk := binary.Uvarint(data[pos:])
			if lk <= 0 || pos+lk+int(l) > len(data) {
				return nil, fmt.Errorf("decode row: truncated string at datum %d", i)
			}
			pos += lk
			s := string(data[pos : pos+int(l)])
			pos += int(l)
			if tag == tagString {
				row = append(row, s)
			} else {
				row = append(row, NewEvalError(s))
			}
		default:
			return nil, fmt.Errorf("decode row: unknown tag %d at datum %d", tag, i)
		}
	}
	if pos != len(data) {
		return nil, fmt.Errorf("decode row: %d trailing bytes", len(data)-pos)
	}
	return row, nil
}
