package handlers

import (
	"bytes"
	"unicode/utf8"
)

// utf8Accumulator holds back a trailing partial UTF-8 sequence so every data
// frame carries whole characters. It is used by a single goroutine.
type utf8Accumulator struct {
	pending []byte
}

// Take returns the longest prefix of pending+data that does not end inside a
// multi-byte sequence and keeps the rest for the next call. Invalid bytes are
// passed through.
func (u *utf8Accumulator) Take(data []byte) []byte {
	if len(data) == 0 && len(u.pending) == 0 {
		return nil
	}

	buf := append(append([]byte{}, u.pending...), data...)

	var out bytes.Buffer
	i := 0
	for i < len(buf) {
		r, size := utf8.DecodeRune(buf[i:])
		if r == utf8.RuneError && size == 1 && !utf8.FullRune(buf[i:]) {
			break
		}
		out.Write(buf[i : i+size])
		i += size
	}

	if i < len(buf) {
		u.pending = append(u.pending[:0], buf[i:]...)
	} else {
		u.pending = u.pending[:0]
	}

	return out.Bytes()
}

// Flush returns whatever is still held back.
func (u *utf8Accumulator) Flush() []byte {
	out := append([]byte(nil), u.pending...)
	u.pending = u.pending[:0]
	return out
}
