package blkdev

const (
	LinuxIOCTLGetBlockSize   = 0x00001260 // BLKGETSIZE, 以512字节扇区为单位.
	LinuxIOCTLGetBlockSize64 = 0x80081272 // BLKGETSIZE64, 获取设备大小.
)
