//go:build !linux

package blkdev

import (
	"io"
	"os"
)

// QueryFileSize 获取文件或设备的字节大小, 设备通过 seek 到末尾获取.
func QueryFileSize(fileName string) (uint64, error) {
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
	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	return uint64(end), nil
}
