package volumeid

import (
	"bytes"
	"strings"
	"unicode/utf16"
)

// Endian 多字节编码的字节序.
type Endian int

const (
	LittleEndian Endian = iota
	BigEndian
)

// SetLabelRaw 记录卷标的原始字节, 超过 LabelSize 的部分被截断.
func (id *VolumeID) SetLabelRaw(buf []byte) {
	if len(buf) > LabelSize {
		buf = buf[:LabelSize]
	}
	id.LabelRaw = append(id.LabelRaw[:0], buf...)
}

// SetLabelString 以单字节字符串设置卷标, 截止到首个NUL并去除尾部空白.
func (id *VolumeID) SetLabelString(buf []byte) {
	if len(buf) > LabelSize {
		buf = buf[:LabelSize]
	}
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	id.Label = strings.TrimRight(string(buf), " \t\n\v\f\r")
}

// SetLabelUnicode16 以UTF-16设置卷标, 遇到值为0的码元即结束.
func (id *VolumeID) SetLabelUnicode16(buf []byte, endian Endian) {
	units := make([]uint16, 0, len(buf)/2)
	for i := 0; i+2 <= len(buf); i += 2 {
		var c uint16
		if endian == LittleEndian {
			c = uint16(buf[i+1])<<8 | uint16(buf[i])
		} else {
			c = uint16(buf[i])<<8 | uint16(buf[i+1])
		}
		if c == 0 {
			break
		}
		units = append(units, c)
	}
	id.Label = string(utf16.Decode(units))
}
