package table

import (
	"fmt"

	"github.com/kisun-bit/volprobe/disk/volumeid"
	"github.com/kisun-bit/volprobe/util/logger"
	"github.com/pkg/errors"
)

type DiskType string

const (
	DTypeGPT DiskType = "GPT"
	DTypeMBR DiskType = "MBR"
	DTypeRAW DiskType = "RAW"
)

// GUIDToString 将原始GUID(混合字节序)转换为大写字符串.
// 注意: byteGuid 的长度只能等于16, 否则将返回空串.
func GUIDToString(b []byte) string {
	if len(b) != 16 {
		return ""
	}
	return fmt.Sprintf("%02X%02X%02X%02X-%02X%02X-%02X%02X-%02X%02X-%02X%02X%02X%02X%02X%02X",
		b[3], b[2], b[1], b[0],
		b[5], b[4],
		b[7], b[6],
		b[8], b[9],
		b[10], b[11], b[12], b[13], b[14], b[15])
}

// GetDiskType 获取磁盘类型, 不修改会话中的探测结果.
// 如何判定为GPT磁盘？有保护性MBR分区, 存在GPT类型的签名.
func GetDiskType(id *volumeid.VolumeID) (DiskType, error) {
	mbr, err := ReadMBR(id)
	if err != nil {
		if notApplicable(err) {
			return DTypeRAW, nil
		}
		return DTypeRAW, err
	}
	if !mbr.IsProtective() {
		return DTypeMBR, nil
	}
	if _, err = ReadGPT(id); err != nil {
		if notApplicable(err) {
			logger.Warnf("GetDiskType protective MBR without valid GPT: %v", err)
			return DTypeMBR, nil
		}
		return DTypeRAW, err
	}
	return DTypeGPT, nil
}

// Probe 探测分区表并将结果记录至会话, 无分区表时返回 DTypeRAW.
func Probe(id *volumeid.VolumeID) (DiskType, error) {
	dt, err := GetDiskType(id)
	if err != nil {
		return dt, err
	}
	switch dt {
	case DTypeGPT:
		_, err = ProbeGPT(id)
	case DTypeMBR:
		_, err = ProbeMBR(id)
	}
	return dt, err
}

// notApplicable 若错误表示"此处无此分区表", 则返回true.
func notApplicable(err error) bool {
	return volumeid.IsNotApplicable(err) ||
		errors.Is(err, ErrInvalidMBR) ||
		errors.Is(err, ErrInvalidGPT)
}
