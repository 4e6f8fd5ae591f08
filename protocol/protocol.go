// Package protocol implements the newline frame protocol spoken with the facade.
//
// A frame is one line: the encoded envelope followed by a single '\n'. A reader also
// accepts "\r\n" since some scripting runtimes write lines in text mode.
//
//	┌───────────────────────────────────────────┬────┐
//	│ {"id":1,"method":"m","params":[]}          │ \n │
//	└───────────────────────────────────────────┴────┘
package protocol

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

const (
	Delimiter byte = '\n'

	// MaxLineSize bounds a single inbound line so a peer that never sends a newline
	// cannot make the reader buffer without limit.
	MaxLineSize = 16 * 1024 * 1024
)

// ErrLineTooLong is returned by Decode when a line exceeds MaxLineSize
var ErrLineTooLong = fmt.Errorf("line exceeds %d bytes", MaxLineSize)

// Encode writes body followed by the delimiter in a single Write call, so concurrent
// writers holding a lock per call never interleave partial frames.
func Encode(w io.Writer, body []byte) error {
	if bytes.IndexByte(body, Delimiter) >= 0 {
		return fmt.Errorf("frame body contains a newline")
	}

	frame := make([]byte, len(body)+1)
	copy(frame, body)
	frame[len(body)] = Delimiter

	_, err := w.Write(frame)
	return err
}

// Decode reads one complete line from r and returns it without the delimiter.
// A stream that ends in the middle of a line yields io.ErrUnexpectedEOF; a stream that
// ends on a frame boundary yields io.EOF. On any other read error, such as a deadline,
// the bytes already consumed are returned along with the error so the caller can
// resume the line.
func Decode(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice(Delimiter)
		if len(line)+len(chunk) > MaxLineSize+1 {
			return nil, ErrLineTooLong
		}
		line = append(line, chunk...)

		switch err {
		case nil:
			line = line[:len(line)-1]
			return bytes.TrimSuffix(line, []byte{'\r'}), nil
		case bufio.ErrBufferFull:
			continue
		case io.EOF:
			if len(line) > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, io.EOF
		default:
			return line, err
		}
	}
}
