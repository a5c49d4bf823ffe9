package volumeid

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// UUIDFormat 卷UUID在磁盘上的存储格式.
type UUIDFormat int

const (
	UUIDDOS       UUIDFormat = iota // 4字节卷序列号, 如FAT.
	UUIDNTFS                        // 8字节小端序列号.
	UUIDHFS                         // 8字节大端序列号.
	UUIDDCE                         // 16字节标准UUID.
	UUIDDCEString                   // 36字节文本形式UUID.
)

func (f UUIDFormat) rawLen() int {
	switch f {
	case UUIDDOS:
		return 4
	case UUIDNTFS, UUIDHFS:
		return 8
	case UUIDDCE:
		return 16
	case UUIDDCEString:
		return 36
	}
	return 0
}

// SetUUID 记录UUID原始字节, 并在其非全0时生成与原生平台一致的字符串形式.
func (id *VolumeID) SetUUID(buf []byte, format UUIDFormat) error {
	count := format.rawLen()
	if count == 0 {
		return errors.Errorf("unknown uuid format %v", format)
	}
	if len(buf) < count {
		return errors.Errorf("uuid buffer too short, %v bytes but should be %v", len(buf), count)
	}
	buf = buf[:count]
	id.UUIDRaw = append(id.UUIDRaw[:0], buf...)

	allZero := true
	for _, b := range buf {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return nil
	}

	switch format {
	case UUIDDOS:
		id.UUID = fmt.Sprintf("%02X%02X-%02X%02X", buf[3], buf[2], buf[1], buf[0])
	case UUIDNTFS:
		id.UUID = fmt.Sprintf("%02X%02X%02X%02X%02X%02X%02X%02X",
			buf[7], buf[6], buf[5], buf[4], buf[3], buf[2], buf[1], buf[0])
	case UUIDHFS:
		id.UUID = fmt.Sprintf("%02X%02X%02X%02X%02X%02X%02X%02X",
			buf[0], buf[1], buf[2], buf[3], buf[4], buf[5], buf[6], buf[7])
	case UUIDDCE:
		u, err := uuid.FromBytes(buf)
		if err != nil {
			return err
		}
		id.UUID = u.String()
	case UUIDDCEString:
		id.UUID = string(buf)
	}
	return nil
}
