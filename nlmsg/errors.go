package nlmsg

import "errors"

var (
	// ErrFraming is returned when a receive buffer cannot be split into
	// messages: a declared length of zero, one smaller than the header,
	// or one running past the end of the buffer.
	ErrFraming = errors.New("nlmsg: malformed message framing")

	// ErrInvalidLength is returned when a byte slice handed to the struct
	// codec doesn't exactly match the target struct's size.
	ErrInvalidLength = errors.New("nlmsg: struct size mismatch")

	// ErrAttributeDecode is returned for truncated or overlength TLV
	// attributes, including trailing bytes that cannot hold an attribute
	// header.
	ErrAttributeDecode = errors.New("nlmsg: malformed attribute")
)
