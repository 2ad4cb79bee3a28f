//go:build windows

package injector

import (
	"fmt"
	"io"
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

// openSerial opens a COM port in 8N1 mode at baud.
func openSerial(device string, baud int) (io.ReadWriteCloser, error) {
	name := device
	if len(name) > 0 && name[0] != '\\' {
		name = `\\.\` + name
	}
	path, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, err
	}
	h, err := windows.CreateFile(
		path,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		0,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_ATTRIBUTE_NORMAL,
		0,
	)
	if err != nil {
		return nil, err
	}

	var dcb windows.DCB
	dcb.DCBlength = uint32(unsafe.Sizeof(dcb))
	if err := windows.GetCommState(h, &dcb); err != nil {
		windows.CloseHandle(h)
		return nil, fmt.Errorf("GetCommState: %w", err)
	}
	dcb.BaudRate = uint32(baud)
	dcb.ByteSize = 8
	dcb.Parity = windows.NOPARITY
	dcb.StopBits = windows.ONESTOPBIT
	if err := windows.SetCommState(h, &dcb); err != nil {
		windows.CloseHandle(h)
		return nil, fmt.Errorf("SetCommState: %w", err)
	}
	timeouts := windows.CommTimeouts{
		WriteTotalTimeoutConstant: 1000,
	}
	if err := windows.SetCommTimeouts(h, &timeouts); err != nil {
		windows.CloseHandle(h)
		return nil, fmt.Errorf("SetCommTimeouts: %w", err)
	}
	return os.NewFile(uintptr(h), device), nil
}
