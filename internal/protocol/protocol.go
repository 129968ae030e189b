// Package protocol defines the JSON text frames exchanged between a terminal
// client and the SSH bridge over a single WebSocket.
//
// One WebSocket message carries exactly one frame. Every frame is a JSON
// object with a mandatory "type" discriminant; the remaining fields depend on
// the type:
//
//	auth       client→server  password?, private_key?, passphrase?, columns, rows
//	data       both           data
//	resize     client→server  columns, rows
//	close      client→server  (none)
//	connected  server→client  host, port, username
//	error      server→client  message
//	closed     server→client  (none)
//	ping       server→client  (none)
package protocol

import (
	"encoding/json"
	"fmt"
)

// Type is the frame discriminant.
type Type string

const (
	TypeAuth      Type = "auth"
	TypeData      Type = "data"
	TypeResize    Type = "resize"
	TypeClose     Type = "close"
	TypeConnected Type = "connected"
	TypeError     Type = "error"
	TypeClosed    Type = "closed"
	TypePing      Type = "ping"
)

// Known reports whether t is one of the recognised frame types.
func (t Type) Known() bool {
	switch t {
	case TypeAuth, TypeData, TypeResize, TypeClose,
		TypeConnected, TypeError, TypeClosed, TypePing:
		return true
	}
	return false
}

// Frame is a single protocol message. Only the fields relevant to Type are
// meaningful; Encode drops the others and Decode never populates them.
type Frame struct {
	Type Type

	// data
	Data string

	// auth
	Password   string
	PrivateKey string
	Passphrase string

	// auth, resize
	Columns int
	Rows    int

	// error
	Message string

	// connected
	Host     string
	Port     int
	Username string
}

// Auth builds the handshake frame. Either password or privateKey is expected
// to be set, never both.
func Auth(password, privateKey, passphrase string, columns, rows int) Frame {
	return Frame{
		Type:       TypeAuth,
		Password:   password,
		PrivateKey: privateKey,
		Passphrase: passphrase,
		Columns:    columns,
		Rows:       rows,
	}
}

// Data builds a data frame.
func Data(data string) Frame { return Frame{Type: TypeData, Data: data} }

// Resize builds a resize frame.
func Resize(columns, rows int) Frame {
	return Frame{Type: TypeResize, Columns: columns, Rows: rows}
}

// Close builds the client's graceful close notice.
func Close() Frame { return Frame{Type: TypeClose} }

// Connected builds the server's handshake acknowledgement.
func Connected(host string, port int, username string) Frame {
	return Frame{Type: TypeConnected, Host: host, Port: port, Username: username}
}

// Error builds a server error frame.
func Error(message string) Frame { return Frame{Type: TypeError, Message: message} }

// Closed builds the server's end-of-session frame.
func Closed() Frame { return Frame{Type: TypeClosed} }

// Ping builds a heartbeat frame.
func Ping() Frame { return Frame{Type: TypePing} }

// EncodingError is returned by Encode for frames it cannot represent.
type EncodingError struct {
	Type Type
	Err  error
}

func (e *EncodingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: encode %q frame: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("protocol: encode: unknown frame type %q", e.Type)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// DecodingError is returned by Decode for payloads that are not a valid frame.
type DecodingError struct {
	Reason string
	Err    error
}

func (e *DecodingError) Error() string {
	if e.Err != nil {
		return "protocol: decode: " + e.Reason + ": " + e.Err.Error()
	}
	return "protocol: decode: " + e.Reason
}

func (e *DecodingError) Unwrap() error { return e.Err }

type typedWire struct {
	Type Type `json:"type"`
}

type dataWire struct {
	Type Type   `json:"type"`
	Data string `json:"data"`
}

type authWire struct {
	Type       Type   `json:"type"`
	Password   string `json:"password,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`
	Columns    int    `json:"columns"`
	Rows       int    `json:"rows"`
}

type resizeWire struct {
	Type    Type `json:"type"`
	Columns int  `json:"columns"`
	Rows    int  `json:"rows"`
}

type connectedWire struct {
	Type     Type   `json:"type"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
}

type errorWire struct {
	Type    Type   `json:"type"`
	Message string `json:"message"`
}

// envelope is the superset used for decoding. Pointer fields let a missing
// key stay distinguishable from a zero value where that matters.
type envelope struct {
	Type       *Type  `json:"type"`
	Data       string `json:"data"`
	Password   string `json:"password"`
	PrivateKey string `json:"private_key"`
	Passphrase string `json:"passphrase"`
	Columns    int    `json:"columns"`
	Rows       int    `json:"rows"`
	Message    string `json:"message"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
}

// Encode serialises f into its wire representation. Fields unrelated to the
// frame's type are not written.
func Encode(f Frame) ([]byte, error) {
	var v any
	switch f.Type {
	case TypeAuth:
		v = authWire{
			Type:       f.Type,
			Password:   f.Password,
			PrivateKey: f.PrivateKey,
			Passphrase: f.Passphrase,
			Columns:    f.Columns,
			Rows:       f.Rows,
		}
	case TypeData:
		v = dataWire{Type: f.Type, Data: f.Data}
	case TypeResize:
		v = resizeWire{Type: f.Type, Columns: f.Columns, Rows: f.Rows}
	case TypeConnected:
		v = connectedWire{Type: f.Type, Host: f.Host, Port: f.Port, Username: f.Username}
	case TypeError:
		v = errorWire{Type: f.Type, Message: f.Message}
	case TypeClose, TypeClosed, TypePing:
		v = typedWire{Type: f.Type}
	default:
		return nil, &EncodingError{Type: f.Type}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return nil, &EncodingError{Type: f.Type, Err: err}
	}
	return b, nil
}

// Decode parses one wire message. Unknown extra fields are ignored.
func Decode(b []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Frame{}, &DecodingError{Reason: "malformed envelope", Err: err}
	}
	if env.Type == nil {
		return Frame{}, &DecodingError{Reason: "missing type"}
	}

	t := *env.Type
	switch t {
	case TypeAuth:
		return Frame{
			Type:       t,
			Password:   env.Password,
			PrivateKey: env.PrivateKey,
			Passphrase: env.Passphrase,
			Columns:    env.Columns,
			Rows:       env.Rows,
		}, nil
	case TypeData:
		return Frame{Type: t, Data: env.Data}, nil
	case TypeResize:
		return Frame{Type: t, Columns: env.Columns, Rows: env.Rows}, nil
	case TypeConnected:
		return Frame{Type: t, Host: env.Host, Port: env.Port, Username: env.Username}, nil
	case TypeError:
		return Frame{Type: t, Message: env.Message}, nil
	case TypeClose, TypeClosed, TypePing:
		return Frame{Type: t}, nil
	}
	return Frame{}, &DecodingError{Reason: fmt.Sprintf("unknown frame type %q", t)}
}
