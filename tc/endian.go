package tc

import "github.com/josharian/native"

// hostEndian is the byte order the kernel speaks on this machine.
var hostEndian = native.Endian
