// Package keycodec converts tuple keys into the byte and string forms the
// backends persist.
//
// Packed keys sort byte-wise in the same order as their tuples compare
// segment by segment, with a tuple sorting before every tuple it prefixes.
// Partition strings name everything above the last segment, which is how the
// DynamoDB and Redis backends group keys that are scanned together.
package keycodec

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
)

const (
	tagString  = 0x02
	terminator = 0x00
	escape     = 0xff
)

// ErrMalformed is returned when bytes or strings do not decode to a tuple.
var ErrMalformed = errors.New("keycodec: malformed key")

// Pack encodes segments into an order-preserving byte string.
func Pack(segments []string) []byte {
	n := 0
	for _, s := range segments {
		n += len(s) + 2
	}
	buf := make([]byte, 0, n)
	for _, s := range segments {
		buf = append(buf, tagString)
		for i := 0; i < len(s); i++ {
			buf = append(buf, s[i])
			if s[i] == terminator {
				buf = append(buf, escape)
			}
		}
		buf = append(buf, terminator)
	}
	return buf
}

// Unpack decodes a byte string produced by Pack.
func Unpack(b []byte) ([]string, error) {
	var segments []string
	for len(b) > 0 {
		if b[0] != tagString {
			return nil, ErrMalformed
		}
		b = b[1:]
		var seg []byte
		closed := false
		for len(b) > 0 {
			c := b[0]
			b = b[1:]
			if c != terminator {
				seg = append(seg, c)
				continue
			}
			if len(b) > 0 && b[0] == escape {
				seg = append(seg, terminator)
				b = b[1:]
				continue
			}
			closed = true
			break
		}
		if !closed {
			return nil, ErrMalformed
		}
		segments = append(segments, string(seg))
	}
	return segments, nil
}

// PrefixRange returns the exclusive bounds of every packed key strictly below
// prefix. The prefix key itself is not part of the range.
func PrefixRange(prefix []string) (after, end []byte) {
	after = Pack(prefix)
	end = append(bytes.Clone(after), escape)
	return after, end
}

// HasPrefix reports whether key starts with every segment of prefix.
func HasPrefix(key, prefix []string) bool {
	if len(key) < len(prefix) {
		return false
	}
	for i := range prefix {
		if key[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Partition joins every segment but the last into a single string, escaping
// separators so distinct tuples never collide.
func Partition(segments []string) string {
	if len(segments) == 0 {
		return ""
	}
	return Join(segments[:len(segments)-1])
}

// Join escapes and joins segments with '/'.
func Join(segments []string) string {
	var sb strings.Builder
	for i, s := range segments {
		if i > 0 {
			sb.WriteByte('/')
		}
		for j := 0; j < len(s); j++ {
			if s[j] == '/' || s[j] == '\\' {
				sb.WriteByte('\\')
			}
			sb.WriteByte(s[j])
		}
	}
	return sb.String()
}

// Split reverses Join.
func Split(joined string) ([]string, error) {
	var (
		segments []string
		cur      strings.Builder
	)
	for i := 0; i < len(joined); i++ {
		switch c := joined[i]; c {
		case '\\':
			if i+1 >= len(joined) {
				return nil, ErrMalformed
			}
			i++
			cur.WriteByte(joined[i])
		case '/':
			segments = append(segments, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(segments, cur.String()), nil
}

// EncodeCursor returns an opaque token naming key's position below prefix.
func EncodeCursor(prefix, key []string) string {
	return base64.RawURLEncoding.EncodeToString(Pack(key[len(prefix):]))
}

// DecodeCursor turns a token from EncodeCursor back into the full key it
// names. Tokens that do not decode, or decode to nothing, are malformed.
func DecodeCursor(prefix []string, cursor string) ([]string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, ErrMalformed
	}
	suffix, err := Unpack(raw)
	if err != nil || len(suffix) == 0 {
		return nil, ErrMalformed
	}
	key := make([]string, 0, len(prefix)+len(suffix))
	key = append(key, prefix...)
	return append(key, suffix...), nil
}
