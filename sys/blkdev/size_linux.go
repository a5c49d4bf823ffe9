package blkdev

import (
	"os"
	"runtime"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// QueryFileSize 获取文件或块设备的字节大小.
// 块设备通过 ioctl 查询, 普通文件取 stat 大小.
func QueryFileSize(fileName string) (size uint64, err error) {
	info, err := os.Stat(fileName)
	if err != nil {
		return 0, err
	}
	if info.Mode()&os.ModeDevice == 0 {
		return uint64(info.Size()), nil
	}
	f, err := os.Open(fileName)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var errno unix.Errno
	if runtime.GOARCH == "386" {
		var sectors uint32
		_, _, errno = unix.Syscall(unix.SYS_IOCTL, f.Fd(), LinuxIOCTLGetBlockSize, uintptr(unsafe.Pointer(&sectors)))
		size = uint64(sectors) << 9
	} else {
		_, _, errno = unix.Syscall(unix.SYS_IOCTL, f.Fd(), LinuxIOCTLGetBlockSize64, uintptr(unsafe.Pointer(&size)))
	}
	if errno != 0 {
		return 0, errors.Wrapf(errno, "ioctl size of %s", fileName)
	}
	return size, nil
}
