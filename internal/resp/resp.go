// Package resp implements the Redis Serialization Protocol, RESP2 and RESP3.
package resp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Value types in RESP protocol
type Type byte

const (
	SimpleString Type = '+'
	Error        Type = '-'
	Integer      Type = ':'
	BulkString   Type = '$'
	Array        Type = '*'
	Null         Type = '_'
	Boolean      Type = '#'
	Double       Type = ','
	Map          Type = '%'
	Set          Type = '~'
	Push         Type = '>'
)

// Maximum sizes accepted from clients.
const (
	maxBulkLen  = 512 * 1024 * 1024
	maxArrayLen = 1024 * 1024
	maxInline   = 64 * 1024
)

// ErrProtocol is returned for malformed input. The connection cannot be
// resynchronised after it.
var ErrProtocol = errors.New("protocol error")

// Value represents a RESP value. Map values keep alternating keys and values
// in Array.
type Value struct {
	Type  Type
	Str   string
	Num   int64
	Dbl   float64
	Bulk  string
	Array []Value
	Null  bool
}

// Reader reads RESP values from an io.Reader
type Reader struct {
	reader *bufio.Reader
}

// NewReader creates a new RESP reader
func NewReader(r io.Reader) *Reader {
	return &Reader{reader: bufio.NewReader(r)}
}

// Buffered reports how many bytes are ready without blocking. The server
// uses it to batch replies to pipelined commands into one flush.
func (r *Reader) Buffered() int {
	return r.reader.Buffered()
}

// Read reads a single RESP value. A line that does not start with a RESP
// type byte is parsed as an inline command.
func (r *Reader) Read() (Value, error) {
	typeByte, err := r.reader.ReadByte()
	if err != nil {
		return Value{}, err
	}

	switch Type(typeByte) {
	case SimpleString:
		return r.readSimpleString()
	case Error:
		return r.readError()
	case Integer:
		return r.readInteger()
	case BulkString:
		return r.readBulkString()
	case Array:
		return r.readArray()
	default:
		if err := r.reader.UnreadByte(); err != nil {
			return Value{}, err
		}
		return r.readInline()
	}
}

func (r *Reader) readLine() (string, error) {
	line, err := r.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return "", fmt.Errorf("%w: invalid line ending", ErrProtocol)
	}
	return line[:len(line)-2], nil
}

// readInline parses "SET key value\r\n" style commands as typed by hand.
func (r *Reader) readInline() (Value, error) {
	line, err := r.reader.ReadString('\n')
	if err != nil {
		return Value{}, err
	}
	if len(line) > maxInline {
		return Value{}, fmt.Errorf("%w: too big inline request", ErrProtocol)
	}
	fields := strings.Fields(strings.TrimRight(line, "\r\n"))
	array := make([]Value, len(fields))
	for i, f := range fields {
		array[i] = Bulk(f)
	}
	return Value{Type: Array, Array: array}, nil
}

func (r *Reader) readSimpleString() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}
	return Value{Type: SimpleString, Str: line}, nil
}

func (r *Reader) readError() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}
	return Value{Type: Error, Str: line}, nil
}

func (r *Reader) readInteger() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}
	num, err := strconv.ParseInt(line, 10, 64)
	if err != nil {
		return Value{}, fmt.Errorf("%w: invalid integer", ErrProtocol)
	}
	return Value{Type: Integer, Num: num}, nil
}

func (r *Reader) readBulkString() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}

	length, err := strconv.Atoi(line)
	if err != nil || length < -1 || length > maxBulkLen {
		return Value{}, fmt.Errorf("%w: invalid bulk length", ErrProtocol)
	}
	if length == -1 {
		return Value{Type: BulkString, Null: true}, nil
	}

	buf := make([]byte, length+2)
	if _, err := io.ReadFull(r.reader, buf); err != nil {
		return Value{}, err
	}
	if buf[length] != '\r' || buf[length+1] != '\n' {
		return Value{}, fmt.Errorf("%w: invalid bulk terminator", ErrProtocol)
	}
	return Value{Type: BulkString, Bulk: string(buf[:length])}, nil
}

func (r *Reader) readArray() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}

	count, err := strconv.Atoi(line)
	if err != nil || count < -1 || count > maxArrayLen {
		return Value{}, fmt.Errorf("%w: invalid multibulk length", ErrProtocol)
	}
	if count == -1 {
		return Value{Type: Array, Null: true}, nil
	}

	array := make([]Value, count)
	for i := 0; i < count; i++ {
		val, err := r.Read()
		if err != nil {
			return Value{}, err
		}
		array[i] = val
	}
	return Value{Type: Array, Array: array}, nil
}

// Writer writes RESP values to an io.Writer. RESP3-only types are downgraded
// when the negotiated protocol is 2.
type Writer struct {
	writer *bufio.Writer
	proto  int
}

// NewWriter creates a new RESP writer speaking RESP2
func NewWriter(w io.Writer) *Writer {
	return &Writer{writer: bufio.NewWriter(w), proto: 2}
}

// SetProtocol switches between RESP2 and RESP3 encoding.
func (w *Writer) SetProtocol(proto int) {
	w.proto = proto
}

// Protocol returns the negotiated protocol version.
func (w *Writer) Protocol() int {
	return w.proto
}

// Flush flushes the underlying writer
func (w *Writer) Flush() error {
	return w.writer.Flush()
}

func (w *Writer) writeHeader(prefix byte, n int) error {
	if err := w.writer.WriteByte(prefix); err != nil {
		return err
	}
	_, err := w.writer.WriteString(strconv.Itoa(n) + "\r\n")
	return err
}

// WriteValue writes a RESP value
func (w *Writer) WriteValue(v Value) error {
	switch v.Type {
	case SimpleString:
		return w.WriteSimpleString(v.Str)
	case Error:
		return w.WriteError(v.Str)
	case Integer:
		return w.WriteInteger(v.Num)
	case BulkString:
		if v.Null {
			return w.WriteNull()
		}
		return w.WriteBulkString(v.Bulk)
	case Array, Set, Push:
		if v.Null {
			return w.WriteNullArray()
		}
		prefix := byte(v.Type)
		if w.proto < 3 {
			prefix = byte(Array)
		}
		return w.writeAggregate(prefix, v.Array)
	case Map:
		if w.proto < 3 {
			return w.writeAggregate(byte(Array), v.Array)
		}
		if err := w.writeHeader(byte(Map), len(v.Array)/2); err != nil {
			return err
		}
		for _, item := range v.Array {
			if err := w.WriteValue(item); err != nil {
				return err
			}
		}
		return nil
	case Double:
		return w.WriteDouble(v.Dbl)
	case Boolean:
		return w.WriteBoolean(v.Num != 0)
	case Null:
		return w.WriteNull()
	}
	return fmt.Errorf("unknown RESP type: %c", v.Type)
}

func (w *Writer) writeAggregate(prefix byte, items []Value) error {
	if err := w.writeHeader(prefix, len(items)); err != nil {
		return err
	}
	for _, item := range items {
		if err := w.WriteValue(item); err != nil {
			return err
		}
	}
	return nil
}

// WriteSimpleString writes a simple string
func (w *Writer) WriteSimpleString(s string) error {
	_, err := w.writer.WriteString("+" + s + "\r\n")
	return err
}

// WriteError writes an error
func (w *Writer) WriteError(s string) error {
	_, err := w.writer.WriteString("-" + s + "\r\n")
	return err
}

// WriteInteger writes an integer
func (w *Writer) WriteInteger(n int64) error {
	_, err := w.writer.WriteString(":" + strconv.FormatInt(n, 10) + "\r\n")
	return err
}

// WriteBulkString writes a bulk string
func (w *Writer) WriteBulkString(s string) error {
	if err := w.writeHeader(byte(BulkString), len(s)); err != nil {
		return err
	}
	_, err := w.writer.WriteString(s + "\r\n")
	return err
}

// WriteDouble writes a RESP3 double, or a bulk string under RESP2.
func (w *Writer) WriteDouble(f float64) error {
	s := formatDouble(f)
	if w.proto < 3 {
		return w.WriteBulkString(s)
	}
	_, err := w.writer.WriteString("," + s + "\r\n")
	return err
}

// WriteBoolean writes a RESP3 boolean, or 1/0 under RESP2.
func (w *Writer) WriteBoolean(b bool) error {
	if w.proto < 3 {
		if b {
			return w.WriteInteger(1)
		}
		return w.WriteInteger(0)
	}
	if b {
		_, err := w.writer.WriteString("#t\r\n")
		return err
	}
	_, err := w.writer.WriteString("#f\r\n")
	return err
}

// WriteNull writes a null bulk string
func (w *Writer) WriteNull() error {
	if w.proto >= 3 {
		_, err := w.writer.WriteString("_\r\n")
		return err
	}
	_, err := w.writer.WriteString("$-1\r\n")
	return err
}

// WriteNullArray writes a null array
func (w *Writer) WriteNullArray() error {
	if w.proto >= 3 {
		_, err := w.writer.WriteString("_\r\n")
		return err
	}
	_, err := w.writer.WriteString("*-1\r\n")
	return err
}

func formatDouble(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// OK returns an OK simple string value
func OK() Value {
	return Value{Type: SimpleString, Str: "OK"}
}

// Simple returns a simple string value
func Simple(s string) Value {
	return Value{Type: SimpleString, Str: s}
}

// Err returns an error value
func Err(msg string) Value {
	return Value{Type: Error, Str: "ERR " + msg}
}

// ErrRaw returns an error value whose text already carries its code.
func ErrRaw(msg string) Value {
	return Value{Type: Error, Str: msg}
}

// ErrWrongType returns a wrong type error
func ErrWrongType() Value {
	return Value{Type: Error, Str: "WRONGTYPE Operation against a key holding the wrong kind of value"}
}

// ErrWrongArgs returns a wrong number of arguments error
func ErrWrongArgs(cmd string) Value {
	return Value{Type: Error, Str: fmt.Sprintf("ERR wrong number of arguments for '%s' command", cmd)}
}

// ErrSyntax returns the generic syntax error
func ErrSyntax() Value {
	return Err("syntax error")
}

// NullBulk returns a null bulk string value
func NullBulk() Value {
	return Value{Type: BulkString, Null: true}
}

// NullArray returns a null array value
func NullArray() Value {
	return Value{Type: Array, Null: true}
}

// Int returns an integer value
func Int(n int64) Value {
	return Value{Type: Integer, Num: n}
}

// Bool returns 1 or 0 under RESP2 and a boolean under RESP3.
func Bool(b bool) Value {
	if b {
		return Value{Type: Boolean, Num: 1}
	}
	return Value{Type: Boolean}
}

// Bulk returns a bulk string value
func Bulk(s string) Value {
	return Value{Type: BulkString, Bulk: s}
}

// Dbl returns a double value
func Dbl(f float64) Value {
	return Value{Type: Double, Dbl: f}
}

// Arr returns an array value
func Arr(values ...Value) Value {
	if values == nil {
		values = []Value{}
	}
	return Value{Type: Array, Array: values}
}

// BulkArr returns an array of bulk strings
func BulkArr(items []string) Value {
	values := make([]Value, len(items))
	for i, s := range items {
		values[i] = Bulk(s)
	}
	return Value{Type: Array, Array: values}
}

// MapVal returns a map value from alternating keys and values
func MapVal(pairs ...Value) Value {
	if pairs == nil {
		pairs = []Value{}
	}
	return Value{Type: Map, Array: pairs}
}

// PushVal returns a RESP3 push value (an array under RESP2)
func PushVal(values ...Value) Value {
	return Value{Type: Push, Array: values}
}

// IsError reports whether v is an error reply
func (v Value) IsError() bool {
	return v.Type == Error
}

// Text returns the string payload of a bulk or simple string
func (v Value) Text() string {
	if v.Type == SimpleString || v.Type == Error {
		return v.Str
	}
	return v.Bulk
}
