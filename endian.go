package nlkit

import (
	"syscall"

	"github.com/josharian/native"
)

// hostEndian is the byte order of netlink header fields and errno codes.
var hostEndian = native.Endian

func syscallErrno(code int32) syscall.Errno {
	return syscall.Errno(code)
}
