//go:build !linux

package nlkit

import "errors"

func dialSocket(proto int, cfg *Config) (transport, uint32, error) {
	return nil, 0, errors.New("nlkit: netlink is only available on linux")
}
