// Package sign implements the Przelewy24 request signature scheme: a SHA-384
// digest over a compact JSON object whose key order is fixed by the caller.
package sign

import (
	"bytes"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"unicode/utf16"
)

// Field is a single key/value pair of the signed payload. The gateway hashes
// the serialized bytes, so the order in which fields are passed changes the
// digest; callers must use the field order documented for each API operation.
type Field struct {
	Key   string
	Value any
}

// Sum appends the CRC secret under the "crc" key, serializes the fields as
// compact JSON in the given order and returns the lowercase hex SHA-384
// digest of the UTF-8 bytes.
func Sum(fields []Field, secret string) string {
	var buf bytes.Buffer

	buf.WriteByte('{')
	for _, f := range fields {
		writeValue(&buf, f.Key)
		buf.WriteByte(':')
		writeValue(&buf, f.Value)
		buf.WriteByte(',')
	}
	writeValue(&buf, "crc")
	buf.WriteByte(':')
	writeValue(&buf, secret)
	buf.WriteByte('}')

	digest := sha512.Sum384(buf.Bytes())

	return hex.EncodeToString(digest[:])
}

// writeValue encodes a single JSON scalar into the bytes the gateway hashes
// on its side: no HTML escaping, and strings with every non-ASCII code point
// escaped as \uXXXX.
func writeValue(buf *bytes.Buffer, v any) {
	if s, ok := v.(string); ok {
		writeString(buf, s)
		return
	}

	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	// Encode on a scalar cannot fail; it terminates the value with a newline.
	_ = enc.Encode(v)
	buf.Truncate(buf.Len() - 1)
}

// writeString encodes a JSON string with non-ASCII code points escaped as
// \uXXXX (code points above the BMP as a surrogate pair), matching the
// serialization the gateway signs against.
func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch {
		case r == '"':
			buf.WriteString(`\"`)
		case r == '\\':
			buf.WriteString(`\\`)
		case r == '\b':
			buf.WriteString(`\b`)
		case r == '\f':
			buf.WriteString(`\f`)
		case r == '\n':
			buf.WriteString(`\n`)
		case r == '\r':
			buf.WriteString(`\r`)
		case r == '\t':
			buf.WriteString(`\t`)
		case r < 0x20:
			fmt.Fprintf(buf, `\u%04x`, r)
		case r < 0x80:
			buf.WriteByte(byte(r))
		case r <= 0xffff:
			fmt.Fprintf(buf, `\u%04x`, r)
		default:
			hi, lo := utf16.EncodeRune(r)
			fmt.Fprintf(buf, `\u%04x\u%04x`, hi, lo)
		}
	}
	buf.WriteByte('"')
}

// Equal compares two signatures in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
