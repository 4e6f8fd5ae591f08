package protocol

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func TestEncodeDecode(t *testing.T) {
	body := []byte(`{"id":1,"method":"echo","params":["hello world"]}`)

	var buf bytes.Buffer
	if err := Encode(&buf, body); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if !bytes.HasSuffix(buf.Bytes(), []byte{'\n'}) {
		t.Fatalf("frame must end with a newline: %q", buf.Bytes())
	}

	decoded, err := Decode(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if !bytes.Equal(decoded, body) {
		t.Errorf("Body mismatch: got %s, want %s", decoded, body)
	}
}

func TestEncodeRejectsNewline(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, []byte("two\nlines")); err == nil {
		t.Fatal("Expected error for body with a newline, but got nil")
	}
	if buf.Len() != 0 {
		t.Fatalf("nothing should be written, got %q", buf.Bytes())
	}
}

func TestDecodeSequence(t *testing.T) {
	reader := bufio.NewReader(strings.NewReader("first\r\nsecond\n\nthird"))

	for _, want := range []string{"first", "second", ""} {
		line, err := Decode(reader)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if string(line) != want {
			t.Fatalf("got %q, want %q", line, want)
		}
	}

	// "third" has no delimiter
	if _, err := Decode(reader); err != io.ErrUnexpectedEOF {
		t.Fatalf("expect ErrUnexpectedEOF, got %v", err)
	}
}

func TestDecodeEOF(t *testing.T) {
	if _, err := Decode(bufio.NewReader(strings.NewReader(""))); err != io.EOF {
		t.Fatalf("expect EOF, got %v", err)
	}
}

func TestDecodeLongLine(t *testing.T) {
	// 1MB line, spanning many bufio buffers
	body := bytes.Repeat([]byte("a"), 1024*1024)

	var buf bytes.Buffer
	if err := Encode(&buf, body); err != nil {
		t.Fatal(err)
	}

	decoded, err := Decode(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(decoded, body) {
		t.Errorf("large line mismatch: got %d bytes", len(decoded))
	}
}

func TestDecodeLineTooLong(t *testing.T) {
	reader := bufio.NewReader(io.MultiReader(
		bytes.NewReader(bytes.Repeat([]byte("a"), MaxLineSize+2)),
		strings.NewReader("\n"),
	))

	if _, err := Decode(reader); err != ErrLineTooLong {
		t.Fatalf("expect ErrLineTooLong, got %v", err)
	}
}

func TestDecodeKeepsPartialLineOnError(t *testing.T) {
	reader := bufio.NewReader(iotest.TimeoutReader(strings.NewReader(`{"id":1,`)))

	partial, err := Decode(reader)
	if err != iotest.ErrTimeout {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}

	if string(partial) != `{"id":1,` {
		t.Fatalf("Expected the consumed bytes back, got %q", partial)
	}
}
