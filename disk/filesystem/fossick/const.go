package fossick

const (
	Unknown   Filesystem = "raw"
	NTFS      Filesystem = "ntfs"
	FAT       Filesystem = "vfat"
	EXT       Filesystem = "ext2/3/4" // 没有较好地办法从超级块魔数区分这三种文件系统, 具体版本见 TypeVersion.
	XFS       Filesystem = "xfs"
	OracleASM Filesystem = "oracle-asm"
	BTRFS     Filesystem = "btrfs"
	JFS       Filesystem = "jfs"
	APFS      Filesystem = "apfs"
	LUKS      Filesystem = "crypto_LUKS"
	Swap      Filesystem = "swap"
	LinuxRAID Filesystem = "linux_raid_member"
)

const (
	EXTMagic        = "\x53\xEF"
	FAT32Magic      = "FAT32   "
	FATMagic        = "FAT1"
	NTFSMagic       = "\xEB\x52\x90\x4E\x54\x46\x53"
	XFSMagic        = "\x58\x46\x53\x42"
	BTRFSMagic      = "_BHRfS_M"
	JFSMagic        = "JFS1"
	APFSMagic       = "NXSB"
	OracleDiskMagic = "\x4f\x52\x43\x4c\x44\x49\x53\x4b"
	LUKSMagic       = "LUKS\xba\xbe"
	SwapMagic       = "SWAPSPACE2"
	MDMagic         = "\xfc\x4e\x2b\xa9"
)

const (
	EXTSuperBlockOffset   = 0x400
	BTRFSSuperBlockOffset = 0x10000
	JFSSuperBlockOffset   = 0x8000
	MDSuperBlockOffset    = 0x1000 // md v1.2 超级块.
	SwapPageSize          = 0x1000
)
