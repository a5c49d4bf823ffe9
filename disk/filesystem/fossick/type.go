package fossick

import "github.com/kisun-bit/volprobe/disk/volumeid"

type Filesystem string

func (f Filesystem) String() string {
	return string(f)
}

// signature 一个文件系统(或卷管理器)的魔数位置.
type signature struct {
	fs    Filesystem
	off   uint64
	magic string
	usage volumeid.Usage
}

// signatures 探测顺序即匹配优先级.
// 所有魔数均位于数据源的前 0x11000 字节(默认头部缓存大小), 探测时一次读入该前缀再逐项匹配.
var signatures = []signature{
	{LUKS, 0, LUKSMagic, volumeid.UsageCrypto},
	{LinuxRAID, MDSuperBlockOffset, MDMagic, volumeid.UsageRaid},
	{XFS, 0, XFSMagic, volumeid.UsageFilesystem},
	{BTRFS, BTRFSSuperBlockOffset + 0x40, BTRFSMagic, volumeid.UsageFilesystem},
	{EXT, EXTSuperBlockOffset + 0x38, EXTMagic, volumeid.UsageFilesystem},
	{NTFS, 0, NTFSMagic, volumeid.UsageFilesystem},
	{FAT, 0x52, FAT32Magic, volumeid.UsageFilesystem},
	{FAT, 0x36, FATMagic, volumeid.UsageFilesystem},
	{JFS, JFSSuperBlockOffset, JFSMagic, volumeid.UsageFilesystem},
	{APFS, 0x20, APFSMagic, volumeid.UsageFilesystem},
	{OracleASM, 0x20, OracleDiskMagic, volumeid.UsageRaid},
	{Swap, SwapPageSize - 10, SwapMagic, volumeid.UsageOther},
}

// signaturesEnd 魔数表覆盖的数据源前缀长度.
var signaturesEnd = func() int {
	end := 0
	for _, s := range signatures {
		if e := s.end(); e > end {
			end = e
		}
	}
	return end
}()

func (s signature) end() int {
	return int(s.off) + len(s.magic)
}

// matches 若 head(数据源前缀)中 off 处为该魔数, 则返回true.
func (s signature) matches(head []byte) bool {
	if len(head) < s.end() {
		return false
	}
	return string(head[s.off:s.end()]) == s.magic
}
