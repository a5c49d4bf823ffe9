package fossick

import (
	"io"

	"github.com/kisun-bit/volprobe/disk/volumeid"
	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

// extSuperBlock EXT2/3/4 超级块中与识别相关的前 0x88 字节.
// https://ext4.wiki.kernel.org/index.php/Ext4_Disk_Layout#The_Super_Block
type extSuperBlock struct {
	InodesCount     uint32 `struc:"uint32,little"` // 0x00
	BlocksCountLo   uint32 `struc:"uint32,little"` // 0x04
	Reserved0x08    []byte `struc:"[16]byte"`      // 0x08
	LogBlockSize    uint32 `struc:"uint32,little"` // 0x18
	Reserved0x1C    []byte `struc:"[28]byte"`      // 0x1C
	Magic           uint16 `struc:"uint16,little"` // 0x38
	Reserved0x3A    []byte `struc:"[34]byte"`      // 0x3A
	FeatureCompat   uint32 `struc:"uint32,little"` // 0x5C
	FeatureIncompat uint32 `struc:"uint32,little"` // 0x60
	FeatureRoCompat uint32 `struc:"uint32,little"` // 0x64
	UUID            []byte `struc:"[16]byte"`      // 0x68
	VolumeName      []byte `struc:"[16]byte"`      // 0x78
}

const (
	extFeatureCompatHasJournal  = 0x0004
	extFeatureIncompatExtents   = 0x0040
	extFeatureIncompat64Bit     = 0x0080
	extFeatureIncompatFlexBG    = 0x0200
	extFeatureRoCompatHugeFile  = 0x0008
	extFeatureRoCompatDirNlink  = 0x0020
	extFeatureRoCompatExtraSize = 0x0040
)

func (sb *extSuperBlock) blockSize() uint64 {
	return 1024 << sb.LogBlockSize
}

// version 根据特性位区分 ext2/ext3/ext4.
func (sb *extSuperBlock) version() string {
	ext4Incompat := uint32(extFeatureIncompatExtents | extFeatureIncompat64Bit | extFeatureIncompatFlexBG)
	ext4RoCompat := uint32(extFeatureRoCompatHugeFile | extFeatureRoCompatDirNlink | extFeatureRoCompatExtraSize)
	switch {
	case sb.FeatureIncompat&ext4Incompat != 0, sb.FeatureRoCompat&ext4RoCompat != 0:
		return "ext4"
	case sb.FeatureCompat&extFeatureCompatHasJournal != 0:
		return "ext3"
	default:
		return "ext2"
	}
}

// xfsSuperBlock XFS 超级块(大端)中与识别相关的前 0x78 字节.
type xfsSuperBlock struct {
	Magic        []byte `struc:"[4]byte"`    // 0x00
	BlockSize    uint32 `struc:"uint32,big"` // 0x04
	DBlocks      uint64 `struc:"uint64,big"` // 0x08
	Reserved0x10 []byte `struc:"[16]byte"`   // 0x10
	UUID         []byte `struc:"[16]byte"`   // 0x20
	Reserved0x30 []byte `struc:"[52]byte"`   // 0x30
	VersionNum   uint16 `struc:"uint16,big"` // 0x64
	Reserved0x66 []byte `struc:"[6]byte"`    // 0x66
	FName        []byte `struc:"[12]byte"`   // 0x6C
}

// ntfsBootSector NTFS分区启动扇区的前 0x50 字节.
type ntfsBootSector struct {
	JMP                   []byte `struc:"[3]byte"`       // 0x00 | JMP 指令
	OEM                   []byte `struc:"[8]byte"`       // 0x03 | OEM 标
	BytesPerSector        uint16 `struc:"uint16,little"` // 0x0B | 每扇区字节数
	SectorsPerCluster     uint8  `struc:"uint8"`         // 0x0D | 每簇扇区数
	Reserved0x0E          []byte `struc:"[26]byte"`      // 0x0E | --
	TotalSectors          int64  `struc:"int64,little"`  // 0x28 | 总扇区数
	MFTClusterStartNo     int64  `struc:"int64,little"`  // 0x30 | $MFT簇号
	MFTMirrClusterStartNo int64  `struc:"int64,little"`  // 0x38 | $MFTMirr簇号
	ClustersPerRecord     int8   `struc:"int8"`          // 0x40 | 正数为簇数, 负数表示2的-value幂字节
	Reserved0x41          []byte `struc:"[7]byte"`       // 0x41 | --
	VolumeSerialNumber    []byte `struc:"[8]byte"`       // 0x48 | 卷序列号
}

func (bs *ntfsBootSector) clusterSize() uint64 {
	return uint64(bs.BytesPerSector) * uint64(bs.SectorsPerCluster)
}

// recordSize 每一项文件记录的字节数.
func (bs *ntfsBootSector) recordSize() (int, error) {
	size := 0
	switch {
	case bs.ClustersPerRecord > 0:
		size = int(bs.ClustersPerRecord) * int(bs.clusterSize())
	case bs.ClustersPerRecord < 0 && bs.ClustersPerRecord > -32:
		size = 1 << uint(-bs.ClustersPerRecord)
	}
	// 文件记录头部至少需要容纳属性偏移等字段.
	if size < 512 {
		return 0, errors.Errorf("invalid length(%d) of file record segment", bs.ClustersPerRecord)
	}
	return size, nil
}

// unpackAt 按 struc 布局解码会话数据源 [off, off+size) 处的结构, 读取经由会话缓存.
func unpackAt(id *volumeid.VolumeID, off uint64, size int, v interface{}) error {
	if err := struc.Unpack(io.NewSectionReader(id, int64(off), int64(size)), v); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return errors.Wrapf(volumeid.ErrInsufficientData, "structure at %#x of %#x bytes", off, size)
		}
		return err
	}
	return nil
}
