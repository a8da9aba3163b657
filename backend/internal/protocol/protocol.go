// Package protocol implements the binary session protocol spoken on the
// session port.
//
// A request is a little-endian int32 tag followed by the tag's fields. Each
// field is a little-endian int32 byte length and that many UTF-8 bytes:
//
//	LOGIN    (0): username, password
//	REGISTER (1): username, password, email
//
// The reply is a single little-endian int32: a positive user id on success or
// one of the negative Result codes.
package protocol

import (
	"fmt"
	"math"
)

// Tag identifies the command that follows on the wire.
type Tag int32

const (
	TagLogin    Tag = 0
	TagRegister Tag = 1
)

func (t Tag) String() string {
	switch t {
	case TagLogin:
		return "LOGIN"
	case TagRegister:
		return "REGISTER"
	default:
		return fmt.Sprintf("Tag(%d)", int32(t))
	}
}

// Command is a decoded request: Login or Register.
type Command interface {
	Tag() Tag
	isCommand()
}

type Login struct {
	Username string
	Password string
}

func (Login) Tag() Tag   { return TagLogin }
func (Login) isCommand() {}

type Register struct {
	Username string
	Password string
	Email    string
}

func (Register) Tag() Tag   { return TagRegister }
func (Register) isCommand() {}

// Result is the int32 written back to the client.
type Result int32

const (
	ResultInactiveAccount Result = -1
	ResultWrongInfo       Result = -2
	ResultUsernameExists  Result = -3
	ResultEmailExists     Result = -4
	ResultUnknown         Result = -5
	ResultMailNotSent     Result = -6
)

// ResultID encodes a successful user id. Ids that do not fit a positive
// int32 are reported as ResultUnknown.
func ResultID(id int64) Result {
	if id < 1 || id > math.MaxInt32 {
		return ResultUnknown
	}
	return Result(id)
}

// OK reports whether r carries a user id rather than an error code.
func (r Result) OK() bool { return r > 0 }

func (r Result) String() string {
	switch r {
	case ResultInactiveAccount:
		return "INACTIVE_ACCOUNT"
	case ResultWrongInfo:
		return "WRONG_INFO"
	case ResultUsernameExists:
		return "USERNAME_EXISTS"
	case ResultEmailExists:
		return "EMAIL_EXISTS"
	case ResultUnknown:
		return "UNKNOWN"
	case ResultMailNotSent:
		return "MAIL_NOT_SENT"
	}
	if r > 0 {
		return fmt.Sprintf("ID(%d)", int32(r))
	}
	return fmt.Sprintf("Result(%d)", int32(r))
}
