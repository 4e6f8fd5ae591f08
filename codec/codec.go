package codec

import (
	"strings"

	"github.com/nuclio/errors"
)

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeLatin1 CodecType = 1
)

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeLatin1:
		return "latin1"
	default:
		return "unknown"
	}
}

// Codec turns a value into the body of one wire line and back. Encode must never emit
// a raw newline, since the newline is the frame delimiter.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON (UTF-8), 1=JSON (Latin-1)
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeLatin1 {
		return &Latin1JSONCodec{}
	}

	return &JSONCodec{}
}

// ParseCodecType resolves a configured codec name
func ParseCodecType(name string) (CodecType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json", "utf8", "utf-8":
		return CodecTypeJSON, nil
	case "latin1", "latin-1", "iso-8859-1", "iso8859-1":
		return CodecTypeLatin1, nil
	default:
		return CodecTypeJSON, errors.Errorf("Unknown codec: %s", name)
	}
}
