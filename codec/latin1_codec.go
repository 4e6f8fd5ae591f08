package codec

import (
	"bytes"
	"fmt"
	"unicode/utf8"
	"unicode/utf16"

	"github.com/nuclio/errors"
	"golang.org/x/text/encoding/charmap"
)

// Latin1JSONCodec speaks the same JSON envelopes but with ISO-8859-1 wire bytes, for
// facades whose scripting runtime does not use UTF-8 streams.
type Latin1JSONCodec struct {
	JSONCodec
}

func (c *Latin1JSONCodec) Encode(v any) ([]byte, error) {
	utf8Body, err := c.JSONCodec.Encode(v)
	if err != nil {
		return nil, err
	}

	latin1Body, err := charmap.ISO8859_1.NewEncoder().Bytes(escapeBeyondLatin1(utf8Body))
	if err != nil {
		return nil, errors.Wrap(err, "Value is not representable in Latin-1")
	}

	return latin1Body, nil
}

func (c *Latin1JSONCodec) Decode(data []byte, v any) error {
	utf8Body, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return errors.Wrap(err, "Failed to transcode Latin-1 line")
	}

	return c.JSONCodec.Decode(utf8Body, v)
}

func (c *Latin1JSONCodec) Type() CodecType {
	return CodecTypeLatin1
}

// escapeBeyondLatin1 rewrites every rune above U+00FF as a JSON \uXXXX escape, as a
// surrogate pair above U+FFFF. Such runes only occur inside JSON strings, where the
// escape decodes to the same text.
func escapeBeyondLatin1(body []byte) []byte {
	if !needsEscape(body) {
		return body
	}

	escaped := bytes.NewBuffer(make([]byte, 0, len(body)+16))
	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		body = body[size:]

		switch {
		case r <= 0xFF:
			escaped.WriteRune(r)
		case r > 0xFFFF:
			high, low := utf16.EncodeRune(r)
			fmt.Fprintf(escaped, "\\u%04x\\u%04x", high, low)
		default:
			fmt.Fprintf(escaped, "\\u%04x", r)
		}
	}

	return escaped.Bytes()
}

// UTF-8 lead bytes from 0xC4 up start runes at or above U+0100
func needsEscape(body []byte) bool {
	for _, b := range body {
		if b >= 0xC4 {
			return true
		}
	}

	return false
}
