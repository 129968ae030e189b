package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

var allTypes = []Type{
	TypeAuth, TypeData, TypeResize, TypeClose,
	TypeConnected, TypeError, TypeClosed, TypePing,
}

// generateFrame produces a frame that only carries the fields of its type.
func generateFrame(t *rapid.T) Frame {
	typ := rapid.SampledFrom(allTypes).Draw(t, "type")
	switch typ {
	case TypeAuth:
		f := Frame{
			Type:    typ,
			Columns: rapid.IntRange(1, 1000).Draw(t, "columns"),
			Rows:    rapid.IntRange(1, 1000).Draw(t, "rows"),
		}
		if rapid.Bool().Draw(t, "use_key") {
			f.PrivateKey = rapid.String().Draw(t, "private_key")
			f.Passphrase = rapid.String().Draw(t, "passphrase")
		} else {
			f.Password = rapid.String().Draw(t, "password")
		}
		return f
	case TypeData:
		return Data(rapid.String().Draw(t, "data"))
	case TypeResize:
		return Resize(rapid.IntRange(1, 1000).Draw(t, "columns"), rapid.IntRange(1, 1000).Draw(t, "rows"))
	case TypeConnected:
		return Connected(
			rapid.String().Draw(t, "host"),
			rapid.IntRange(1, 65535).Draw(t, "port"),
			rapid.String().Draw(t, "username"),
		)
	case TypeError:
		return Error(rapid.String().Draw(t, "message"))
	default:
		return Frame{Type: typ}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		original := generateFrame(t)

		wire, err := Encode(original)
		if err != nil {
			t.Fatalf("Encode(%+v): %v", original, err)
		}
		decoded, err := Decode(wire)
		if err != nil {
			t.Fatalf("Decode(%s): %v", wire, err)
		}
		if decoded != original {
			t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", decoded, original)
		}
	})
}

func TestEncodeUnknownType(t *testing.T) {
	for _, typ := range []Type{"", "shell", "DATA"} {
		_, err := Encode(Frame{Type: typ})
		var encErr *EncodingError
		if !errors.As(err, &encErr) {
			t.Fatalf("Encode(type=%q): expected *EncodingError, got %v", typ, err)
		}
	}
}

func TestEncodeWritesOnlyRelevantFields(t *testing.T) {
	tests := []struct {
		frame Frame
		keys  []string
	}{
		{Frame{Type: TypeData, Data: "ls\r", Columns: 80, Message: "x"}, []string{"type", "data"}},
		{Frame{Type: TypeResize, Columns: 120, Rows: 40, Data: "x"}, []string{"type", "columns", "rows"}},
		{Frame{Type: TypeClose, Host: "h"}, []string{"type"}},
		{Auth("secret", "", "", 80, 24), []string{"type", "password", "columns", "rows"}},
		{Auth("", "KEY", "pp", 80, 24), []string{"type", "private_key", "passphrase", "columns", "rows"}},
		{Connected("10.0.0.5", 22, "root"), []string{"type", "host", "port", "username"}},
		{Error("Authentication failed"), []string{"type", "message"}},
	}

	for _, tt := range tests {
		wire, err := Encode(tt.frame)
		if err != nil {
			t.Fatalf("Encode(%+v): %v", tt.frame, err)
		}
		var obj map[string]any
		if err := json.Unmarshal(wire, &obj); err != nil {
			t.Fatalf("wire is not a JSON object: %s", wire)
		}
		if len(obj) != len(tt.keys) {
			t.Errorf("%s frame: got keys %v, want %v", tt.frame.Type, obj, tt.keys)
		}
		for _, k := range tt.keys {
			if _, ok := obj[k]; !ok {
				t.Errorf("%s frame: missing key %q in %s", tt.frame.Type, k, wire)
			}
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		reason string
	}{
		{"empty", ``, "malformed envelope"},
		{"not json", `hello`, "malformed envelope"},
		{"array", `[1,2]`, "malformed envelope"},
		{"null", `null`, "missing type"},
		{"no type", `{"data":"x"}`, "missing type"},
		{"unknown type", `{"type":"exec"}`, "unknown frame type"},
		{"wrong field type", `{"type":"resize","columns":"wide"}`, "malformed envelope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.input))
			var decErr *DecodingError
			if !errors.As(err, &decErr) {
				t.Fatalf("expected *DecodingError, got %v", err)
			}
			if !strings.Contains(decErr.Error(), tt.reason) {
				t.Errorf("error %q does not mention %q", decErr.Error(), tt.reason)
			}
		})
	}
}

func TestDecodeIgnoresExtraFields(t *testing.T) {
	f, err := Decode([]byte(`{"type":"connected","host":"10.0.0.5","port":22,"username":"root","server_version":"OpenSSH_9.6","data":"ignored"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := Connected("10.0.0.5", 22, "root")
	if f != want {
		t.Fatalf("got %+v, want %+v", f, want)
	}
}

func TestTypeKnown(t *testing.T) {
	for _, typ := range allTypes {
		if !typ.Known() {
			t.Errorf("%q should be known", typ)
		}
	}
	if Type("resume").Known() {
		t.Error("resume should not be known")
	}
}
