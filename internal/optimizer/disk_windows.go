//go:build windows

package optimizer

import (
	"syscall"
	"unsafe"
)

// diskUsage reports free and total bytes for the volume containing dir.
func diskUsage(dir string) (free, total uint64, err error) {
	kernel32 := syscall.NewLazyDLL("kernel32.dll")
	proc := kernel32.NewProc("GetDiskFreeSpaceExW")

	path, err := syscall.UTF16PtrFromString(dir)
	if err != nil {
		return 0, 0, err
	}

	var freeBytes, totalBytes, totalFree uint64
	r1, _, callErr := proc.Call(
		uintptr(unsafe.Pointer(path)),
		uintptr(unsafe.Pointer(&freeBytes)),
		uintptr(unsafe.Pointer(&totalBytes)),
		uintptr(unsafe.Pointer(&totalFree)),
	)
	if r1 == 0 {
		return 0, 0, callErr
	}
	return freeBytes, totalBytes, nil
}
