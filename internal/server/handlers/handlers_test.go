package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"
	"unicode/utf8"

	"pgregory.net/rapid"
)

func TestUTF8AccumulatorHoldsPartialRune(t *testing.T) {
	var acc utf8Accumulator
	euro := []byte("€") // e2 82 ac

	if got := acc.Take(append([]byte("a"), euro[:2]...)); string(got) != "a" {
		t.Fatalf("first chunk: got %q", got)
	}
	if got := acc.Take(euro[2:]); string(got) != "€" {
		t.Fatalf("second chunk: got %q", got)
	}
	if got := acc.Flush(); len(got) != 0 {
		t.Fatalf("nothing should be pending, got %q", got)
	}
}

func TestUTF8AccumulatorPassesInvalidBytes(t *testing.T) {
	var acc utf8Accumulator
	if got := acc.Take([]byte{'x', 0xff, 'y'}); string(got) != "x\xffy" {
		t.Fatalf("got %q", got)
	}
	acc.Take([]byte{0xe2})
	if got := acc.Flush(); string(got) != "\xe2" {
		t.Fatalf("Flush: got %q", got)
	}
}

func TestUTF8AccumulatorAnySplit(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		text := rapid.String().Draw(rt, "text")
		data := []byte(text)

		var acc utf8Accumulator
		var out []byte
		for len(data) > 0 {
			n := rapid.IntRange(1, len(data)).Draw(rt, "chunk")
			chunk := acc.Take(data[:n])
			if !utf8.Valid(chunk) {
				rt.Fatalf("chunk %q is not valid UTF-8", chunk)
			}
			out = append(out, chunk...)
			data = data[n:]
		}
		out = append(out, acc.Flush()...)
		if string(out) != text {
			rt.Fatalf("reassembled %q, want %q", out, text)
		}
	})
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		query   string
		want    target
		wantErr bool
	}{
		{"host=10.0.0.5&port=2222&username=root", target{"10.0.0.5", 2222, "root"}, false},
		{"host=nas&username=admin", target{"nas", 22, "admin"}, false},
		{"host=+nas+&username=+admin+&port=+22+", target{"nas", 22, "admin"}, false},
		{"username=root", target{}, true},
		{"host=nas", target{}, true},
		{"host=nas&username=root&port=70000", target{}, true},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/api/ssh/connect?"+tt.query, nil)
		got, err := parseTarget(r)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tt.query)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("%s: got %+v, %v", tt.query, got, err)
		}
	}
}

func TestConnectErrorMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{errors.New("ssh: dial 10.0.0.5:22: ssh: handshake failed: ssh: unable to authenticate, attempted methods [none password]"), "Authentication failed"},
		{fmt.Errorf("ssh: auth config: %w", errors.New("no password or private key provided")), "Authentication failed: no credentials provided"},
		{errors.New("ssh: handshake failed: knownhosts: key mismatch"), "Host key verification failed"},
		{fmt.Errorf("dial: %w", context.DeadlineExceeded), "Connection timed out"},
		{errors.New("ssh: dial 10.0.0.5:22: connection refused"), "ssh: dial 10.0.0.5:22: connection refused"},
	}
	for _, tt := range tests {
		if got := connectErrorMessage(tt.err); got != tt.want {
			t.Errorf("connectErrorMessage(%v): got %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestClampDimension(t *testing.T) {
	for in, want := range map[int]uint16{-1: 0, 0: 0, 80: 80, 70000: 0xffff} {
		if got := clampDimension(in); got != want {
			t.Errorf("clampDimension(%d): got %d, want %d", in, got, want)
		}
	}
}
