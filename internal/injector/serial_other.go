//go:build !linux && !windows

package injector

import (
	"io"
	"log/slog"
	"os"
)

// openSerial opens the device as-is. Line settings must be configured out of
// band (stty) on this platform.
func openSerial(device string, baud int) (io.ReadWriteCloser, error) {
	f, err := os.OpenFile(device, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	slog.Warn("[injector] serial line settings are not configured on this platform", "device", device, "baud", baud)
	return f, nil
}
