package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/user/vitrader/backend/internal/apperr"
)

// DefaultMaxFieldLength bounds a field when the caller passes no limit.
const DefaultMaxFieldLength = 1024

var (
	// ErrConnectionClosed is returned when the peer stops sending mid-frame.
	ErrConnectionClosed = fmt.Errorf("%w: connection closed", apperr.ErrProtocol)
	ErrUnknownCommand   = fmt.Errorf("%w: unknown command", apperr.ErrProtocol)
	ErrFieldLength      = fmt.Errorf("%w: invalid field length", apperr.ErrProtocol)
	ErrInvalidUTF8      = fmt.Errorf("%w: field is not valid UTF-8", apperr.ErrProtocol)
)

// readFull fills buf, tolerating arbitrarily small reads. A read that returns
// no data, or EOF before buf is full, means the peer went away.
func readFull(r io.Reader, buf []byte) error {
	read := 0
	for read < len(buf) {
		n, err := r.Read(buf[read:])
		read += n
		if read == len(buf) {
			return nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrConnectionClosed
			}
			return fmt.Errorf("read: %w", err)
		}
		if n == 0 {
			return ErrConnectionClosed
		}
	}
	return nil
}

func readInt32(r io.Reader) (int32, error) {
	var b [4]byte
	if err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b[:])), nil
}

func readString(r io.Reader, maxLen int) (string, error) {
	n, err := readInt32(r)
	if err != nil {
		return "", err
	}
	if n < 0 || int(n) > maxLen {
		return "", fmt.Errorf("%w: %d (max %d)", ErrFieldLength, n, maxLen)
	}
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if err := readFull(r, buf); err != nil {
		return "", err
	}
	if !utf8.Valid(buf) {
		return "", ErrInvalidUTF8
	}
	return string(buf), nil
}

// ReadCommand decodes one request. Fields longer than maxField bytes are
// rejected before they are read.
func ReadCommand(r io.Reader, maxField int) (Command, error) {
	if maxField <= 0 {
		maxField = DefaultMaxFieldLength
	}
	raw, err := readInt32(r)
	if err != nil {
		return nil, err
	}

	switch tag := Tag(raw); tag {
	case TagLogin:
		fields, err := readFields(r, maxField, 2)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", tag, err)
		}
		return Login{Username: fields[0], Password: fields[1]}, nil
	case TagRegister:
		fields, err := readFields(r, maxField, 3)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", tag, err)
		}
		return Register{Username: fields[0], Password: fields[1], Email: fields[2]}, nil
	default:
		return nil, fmt.Errorf("%w: tag %d", ErrUnknownCommand, raw)
	}
}

func readFields(r io.Reader, maxField, count int) ([]string, error) {
	fields := make([]string, count)
	for i := range fields {
		s, err := readString(r, maxField)
		if err != nil {
			return nil, err
		}
		fields[i] = s
	}
	return fields, nil
}

func putInt32(buf *bytes.Buffer, v int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	buf.Write(b[:])
}

func putString(buf *bytes.Buffer, s string) {
	putInt32(buf, int32(len(s)))
	buf.WriteString(s)
}

// EncodeCommand returns the wire form of cmd.
func EncodeCommand(cmd Command) ([]byte, error) {
	var buf bytes.Buffer
	putInt32(&buf, int32(cmd.Tag()))
	switch c := cmd.(type) {
	case Login:
		putString(&buf, c.Username)
		putString(&buf, c.Password)
	case Register:
		putString(&buf, c.Username)
		putString(&buf, c.Password)
		putString(&buf, c.Email)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}
	return buf.Bytes(), nil
}

// WriteCommand sends cmd in a single write.
func WriteCommand(w io.Writer, cmd Command) error {
	frame, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write %s: %w", cmd.Tag(), err)
	}
	return nil
}

func WriteResult(w io.Writer, res Result) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(int32(res)))
	if _, err := w.Write(b[:]); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

func ReadResult(r io.Reader) (Result, error) {
	v, err := readInt32(r)
	if err != nil {
		return 0, err
	}
	return Result(v), nil
}
