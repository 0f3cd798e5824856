package nlkit

import (
	"errors"
	"fmt"
	"syscall"
)

var (
	// ErrDisconnected means the underlying socket failed or the
	// connection was closed. It is fatal to the Conn; reconnection is
	// the caller's responsibility.
	ErrDisconnected = errors.New("nlkit: connection lost")

	// ErrFamilyNotFound means the kernel has no module registered under
	// the requested generic netlink family name.
	ErrFamilyNotFound = errors.New("nlkit: generic netlink family not found")

	// ErrPermission means the process lacks the privileges to open or
	// use the netlink socket.
	ErrPermission = errors.New("nlkit: permission denied")

	// ErrUnsupportedProtocol means the kernel rejected the netlink
	// protocol number at socket creation.
	ErrUnsupportedProtocol = errors.New("nlkit: netlink protocol not supported")
)

// A KernelError is a rejection delivered in an NLMSG_ERROR message. The
// kernel's own diagnostic code is preserved unmodified, so
// errors.Is(err, syscall.EEXIST) and friends work as expected. Message
// holds the extended-ack string when the kernel supplied one.
type KernelError struct {
	Errno   syscall.Errno
	Message string
}

func (e *KernelError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("nlkit: kernel rejected request: %v (%s)", e.Errno, e.Message)
	}
	return fmt.Sprintf("nlkit: kernel rejected request: %v", e.Errno)
}

func (e *KernelError) Unwrap() error {
	return e.Errno
}
