package fossick

import (
	"encoding/binary"
	"fmt"
	"io"
	"strconv"

	"github.com/kisun-bit/volprobe/disk/volumeid"
	"github.com/kisun-bit/volprobe/util/logger"
	"github.com/pkg/errors"
)

var ErrUnknownFilesystem = errors.New("can not detect filesystem")

// Detect 获取会话数据源上的文件系统(或卷管理器、加密容器)类型.
// 魔数均经由会话缓存读取, 数据不足的位置视为不匹配.
func Detect(id *volumeid.VolumeID) (Filesystem, error) {
	s, err := detect(id)
	if err != nil {
		return Unknown, err
	}
	return s.fs, nil
}

// detect 一次读入魔数表覆盖的前缀(经由头部缓存)后逐项匹配.
// 头部缓存被配置得小于该前缀时, 超出的魔数逐个经由 GetView 读取.
func detect(id *volumeid.VolumeID) (signature, error) {
	size := signaturesEnd
	if fs := id.Config().FrontSize; size > fs {
		size = fs
	}
	head := make([]byte, size)
	n, err := id.ReadAt(head, 0)
	if err != nil && err != io.EOF {
		return signature{}, errors.Wrap(err, "failed to read signature area")
	}
	head = head[:n]

	for _, s := range signatures {
		var matched bool
		if s.end() <= size {
			matched = s.matches(head)
		} else {
			view, err := id.GetView(s.off, len(s.magic))
			if err != nil {
				if volumeid.IsNotApplicable(err) {
					continue
				}
				return signature{}, errors.Wrapf(err, "failed to read %s magic at %#x", s.fs, s.off)
			}
			matched = string(view) == s.magic
		}
		if matched {
			logger.Debugf("Detect found %s magic at %#x", s.fs, s.off)
			return s, nil
		}
	}
	return signature{}, ErrUnknownFilesystem
}

// prober 读取某类文件系统的卷标、UUID、版本等信息并写入会话.
type prober func(id *volumeid.VolumeID) error

var probers = map[Filesystem]prober{
	EXT:       probeEXT,
	XFS:       probeXFS,
	NTFS:      probeNTFS,
	FAT:       probeFAT,
	BTRFS:     probeBTRFS,
	JFS:       probeJFS,
	LUKS:      probeLUKS,
	Swap:      probeSwap,
	LinuxRAID: probeLinuxRAID,
}

// Probe 探测文件系统并将用途、类型、卷标、UUID 记录至会话.
func Probe(id *volumeid.VolumeID) (Filesystem, error) {
	s, err := detect(id)
	if err != nil {
		return Unknown, err
	}
	id.SetUsage(s.usage)
	id.Type = s.fs.String()
	if p, ok := probers[s.fs]; ok {
		if err = p(id); err != nil {
			return s.fs, errors.Wrapf(err, "failed to probe %s", s.fs)
		}
	}
	logger.Debugf("Probe type=%s version=%s label=%q uuid=%s", id.Type, id.TypeVersion, id.Label, id.UUID)
	return s.fs, nil
}

func probeEXT(id *volumeid.VolumeID) error {
	sb := new(extSuperBlock)
	if err := unpackAt(id, EXTSuperBlockOffset, 0x88, sb); err != nil {
		return err
	}
	id.Type = sb.version()
	id.SetLabelRaw(sb.VolumeName)
	id.SetLabelString(sb.VolumeName)
	logger.Debugf("probeEXT block size %d, blocks %d", sb.blockSize(), sb.BlocksCountLo)
	return id.SetUUID(sb.UUID, volumeid.UUIDDCE)
}

func probeXFS(id *volumeid.VolumeID) error {
	sb := new(xfsSuperBlock)
	if err := unpackAt(id, 0, 0x78, sb); err != nil {
		return err
	}
	id.TypeVersion = strconv.Itoa(int(sb.VersionNum & 0x000F))
	id.SetLabelRaw(sb.FName)
	id.SetLabelString(sb.FName)
	return id.SetUUID(sb.UUID, volumeid.UUIDDCE)
}

const (
	ntfsMFTRecordVolume       = 3
	ntfsAttrVolumeName        = 0x60
	ntfsAttrVolumeInformation = 0x70
	ntfsAttrEnd               = 0xFFFFFFFF
)

// probeNTFS 卷序列号来自启动扇区, 卷标与版本来自 $MFT 中的 $Volume 记录.
// $Volume 记录通常远离卷首, 由窗口缓存读取.
func probeNTFS(id *volumeid.VolumeID) error {
	bs := new(ntfsBootSector)
	if err := unpackAt(id, 0, 0x50, bs); err != nil {
		return err
	}
	if err := id.SetUUID(bs.VolumeSerialNumber, volumeid.UUIDNTFS); err != nil {
		return err
	}
	recordSize, err := bs.recordSize()
	if err != nil {
		return err
	}
	if bs.MFTClusterStartNo <= 0 || bs.clusterSize() == 0 {
		return errors.Errorf("invalid $MFT cluster %d", bs.MFTClusterStartNo)
	}
	off := uint64(bs.MFTClusterStartNo)*bs.clusterSize() + ntfsMFTRecordVolume*uint64(recordSize)
	rec, err := id.GetView(off, recordSize)
	if err != nil {
		if volumeid.IsNotApplicable(err) {
			logger.Warnf("probeNTFS $Volume record at %#x unavailable: %v", off, err)
			return nil
		}
		return err
	}
	if string(rec[:4]) != "FILE" {
		logger.Warnf("probeNTFS invalid $Volume record at %#x", off)
		return nil
	}

	attrOff := int(binary.LittleEndian.Uint16(rec[0x14:]))
	for attrOff+0x18 <= len(rec) {
		attrType := binary.LittleEndian.Uint32(rec[attrOff:])
		attrLen := int(binary.LittleEndian.Uint32(rec[attrOff+4:]))
		if attrType == ntfsAttrEnd || attrLen == 0 || attrOff+attrLen > len(rec) {
			break
		}
		// 仅处理常驻属性.
		if rec[attrOff+8] == 0 {
			valueLen := int(binary.LittleEndian.Uint32(rec[attrOff+0x10:]))
			valueOff := attrOff + int(binary.LittleEndian.Uint16(rec[attrOff+0x14:]))
			if valueOff+valueLen <= attrOff+attrLen {
				value := rec[valueOff : valueOff+valueLen]
				switch attrType {
				case ntfsAttrVolumeName:
					id.SetLabelRaw(value)
					id.SetLabelUnicode16(value, volumeid.LittleEndian)
				case ntfsAttrVolumeInformation:
					if len(value) >= 10 {
						id.TypeVersion = fmt.Sprintf("%d.%d", value[8], value[9])
					}
				}
			}
		}
		attrOff += attrLen
	}
	return nil
}

// probeFAT FAT32 与 FAT12/16 的扩展BPB位置不同.
func probeFAT(id *volumeid.VolumeID) error {
	idOff, labelOff := uint64(0x27), uint64(0x2B)
	version, err := id.GetView(0x36, 8)
	if err != nil {
		return err
	}
	if fat32, err := id.GetView(0x52, len(FAT32Magic)); err == nil && string(fat32) == FAT32Magic {
		idOff, labelOff = 0x43, 0x47
		version = fat32
	}
	id.TypeVersion = trimSpace(version)

	serial, err := id.GetView(idOff, 4)
	if err != nil {
		return err
	}
	label, err := id.GetView(labelOff, 11)
	if err != nil {
		return err
	}
	id.SetLabelRaw(label)
	id.SetLabelString(label)
	return id.SetUUID(serial, volumeid.UUIDDOS)
}

func probeBTRFS(id *volumeid.VolumeID) error {
	fsid, err := id.GetView(BTRFSSuperBlockOffset+0x20, 16)
	if err != nil {
		return err
	}
	label, err := id.GetView(BTRFSSuperBlockOffset+0x12B, 256)
	if err != nil {
		return err
	}
	id.SetLabelRaw(label)
	id.SetLabelString(label)
	return id.SetUUID(fsid, volumeid.UUIDDCE)
}

func probeJFS(id *volumeid.VolumeID) error {
	uuid, err := id.GetView(JFSSuperBlockOffset+0x88, 16)
	if err != nil {
		return err
	}
	label, err := id.GetView(JFSSuperBlockOffset+0x98, 16)
	if err != nil {
		return err
	}
	id.SetLabelRaw(label)
	id.SetLabelString(label)
	return id.SetUUID(uuid, volumeid.UUIDDCE)
}

// probeLUKS LUKS1/LUKS2 头部的 UUID 均为 36 字节的字符串, LUKS2 额外携带卷标.
func probeLUKS(id *volumeid.VolumeID) error {
	hdr, err := id.GetView(0, 0xA8+volumeid.UUIDSize)
	if err != nil {
		return err
	}
	version := binary.BigEndian.Uint16(hdr[6:])
	id.TypeVersion = strconv.Itoa(int(version))
	if version == 2 {
		id.SetLabelRaw(hdr[0x18:0x48])
		id.SetLabelString(hdr[0x18:0x48])
	}
	return id.SetUUID(hdr[0xA8:], volumeid.UUIDDCEString)
}

// probeSwap swap 头部位于第一个 1KiB 之后.
func probeSwap(id *volumeid.VolumeID) error {
	hdr, err := id.GetView(0x400, 0x2C)
	if err != nil {
		return err
	}
	id.TypeVersion = strconv.Itoa(int(binary.LittleEndian.Uint32(hdr)))
	id.SetLabelRaw(hdr[0x1C:0x2C])
	id.SetLabelString(hdr[0x1C:0x2C])
	return id.SetUUID(hdr[0x0C:0x1C], volumeid.UUIDDCE)
}

func probeLinuxRAID(id *volumeid.VolumeID) error {
	sb, err := id.GetView(MDSuperBlockOffset, 0x40)
	if err != nil {
		return err
	}
	id.TypeVersion = fmt.Sprintf("%d.2", binary.LittleEndian.Uint32(sb[4:]))
	id.SetLabelRaw(sb[0x20:0x40])
	id.SetLabelString(sb[0x20:0x40])
	return id.SetUUID(sb[0x10:0x20], volumeid.UUIDDCE)
}

func trimSpace(b []byte) string {
	i := len(b)
	for i > 0 && (b[i-1] == ' ' || b[i-1] == 0) {
		i--
	}
	return string(b[:i])
}
