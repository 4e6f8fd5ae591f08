package codec

import (
	"bytes"
	"encoding/json"
)

// JSONCodec writes compact UTF-8 JSON. HTML characters are left unescaped so the wire
// text matches what the scripting runtimes produce.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return nil, err
	}

	// json.Encoder terminates every value with a newline; framing adds its own
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
