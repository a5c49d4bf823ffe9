package table

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"testing"
	"unicode/utf16"

	"github.com/kisun-bit/volprobe/disk/volumeid"
	"github.com/kisun-bit/volprobe/util/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDiskSectors = 8192

func newSession(t *testing.T, img []byte) *volumeid.VolumeID {
	t.Helper()
	id, err := volumeid.New(bytes.NewReader(img), volumeid.WithLogger(logger.NewNopLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = id.Close() })
	return id
}

func putMBREntry(sector []byte, idx int, boot, ptype byte, startLBA, sectors uint32) {
	e := sector[0x1BE+idx*16:]
	e[0] = boot
	e[4] = ptype
	binary.LittleEndian.PutUint32(e[8:], startLBA)
	binary.LittleEndian.PutUint32(e[12:], sectors)
}

func putBootSignature(sector []byte) {
	sector[510] = MBRSignature510
	sector[511] = MBRSignature511
}

// guidToBytes 将GUID字符串编码为混合字节序的原始数据.
func guidToBytes(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.ReplaceAll(s, "-", ""))
	require.NoError(t, err)
	require.Len(t, b, 16)
	b[0], b[1], b[2], b[3] = b[3], b[2], b[1], b[0]
	b[4], b[5] = b[5], b[4]
	b[6], b[7] = b[7], b[6]
	return b
}

// newMBRImage 一个主分区 + 一个含两个逻辑分区的扩展分区.
func newMBRImage() []byte {
	img := make([]byte, testDiskSectors*MBRDefaultLBASize)
	mbr := img[:MBRDefaultLBASize]
	copy(mbr[440:], []byte{0x2c, 0x77, 0x0e, 0x00})
	putMBREntry(mbr, 0, MBRPartitionBootable, Linux, 2048, 2048)
	putMBREntry(mbr, 1, 0, ExtendCHS, 4096, 4096)
	putBootSignature(mbr)

	ebr1 := img[4096*MBRDefaultLBASize:]
	putMBREntry(ebr1, 0, 0, LinuxSwap, 63, 1000)
	putMBREntry(ebr1, 1, 0, ExtendCHS, 2048, 1100)
	putBootSignature(ebr1)

	ebr2 := img[6144*MBRDefaultLBASize:]
	putMBREntry(ebr2, 0, 0, Linux, 63, 500)
	putBootSignature(ebr2)
	return img
}

func TestGUIDToString(t *testing.T) {
	assert.Equal(t, LinuxFSData, GUIDToString(guidToBytes(t, LinuxFSData)))
	assert.Equal(t, "", GUIDToString([]byte{1, 2, 3}))
}

func TestProbeMBR(t *testing.T) {
	id := newSession(t, newMBRImage())

	dt, err := Probe(id)
	require.NoError(t, err)
	assert.Equal(t, DTypeMBR, dt)
	assert.Equal(t, "dos", id.Type)
	assert.Equal(t, volumeid.UsagePartitionTable, id.UsageID)
	assert.Equal(t, "000E-772C", id.UUID)

	require.Len(t, id.Partitions, 3)
	assert.Equal(t, volumeid.Partition{
		Index: 1, Offset: 2048 * 512, Size: 2048 * 512, Type: "0x83",
		UsageID: volumeid.UsageUnprobed, Usage: "unprobed",
	}, id.Partitions[0])
	assert.Equal(t, 5, id.Partitions[1].Index)
	assert.Equal(t, uint64(4159*512), id.Partitions[1].Offset)
	assert.Equal(t, uint64(1000*512), id.Partitions[1].Size)
	assert.Equal(t, "other", id.Partitions[1].Usage)
	assert.Equal(t, 6, id.Partitions[2].Index)
	assert.Equal(t, uint64(6207*512), id.Partitions[2].Offset)

	// MBR由头部缓存服务(仅一次读取), EBR由窗口缓存服务.
	st := id.Stats()
	assert.Equal(t, int64(1), st.FrontReads)
	assert.Equal(t, int64(2), st.WindowReads)
}

func TestMBRFormat(t *testing.T) {
	id := newSession(t, newMBRImage())
	mbr, err := ReadMBR(id)
	require.NoError(t, err)
	assert.False(t, mbr.IsProtective())
	assert.False(t, mbr.IsDynamic())
	assert.Equal(t, []byte{0x00, 0x0e, 0x77, 0x2c}, mbr.Signature)
	assert.Contains(t, mbr.Hexdump(), "55 aa")

	o, err := mbr.JSONFormat()
	require.NoError(t, err)
	assert.Contains(t, o, `"disk_identifier": "000e772c"`)
	assert.Contains(t, o, `"sectors": 8192`)

	d, err := mbr.DebugFormat()
	require.NoError(t, err)
	assert.Contains(t, d, "Found valid MBR.")
	assert.Contains(t, d, "4.0 MiB")
	assert.Contains(t, d, "Linux Swap")
}

func TestEBRChainLoopIsBounded(t *testing.T) {
	img := newMBRImage()
	// 第二个EBR指回第一个EBR.
	putMBREntry(img[6144*MBRDefaultLBASize:], 1, 0, ExtendCHS, 1, 100)
	putMBREntry(img[4097*MBRDefaultLBASize:], 1, 0, ExtendCHS, 2048, 100)
	putBootSignature(img[4097*MBRDefaultLBASize:])

	id := newSession(t, img)
	mbr, err := ReadMBR(id)
	require.NoError(t, err)
	ebrs, err := mbr.EBRs()
	require.NoError(t, err)
	assert.Len(t, ebrs, MBRMaxLogicalPartitions)
}

func TestDiskTypeRaw(t *testing.T) {
	id := newSession(t, make([]byte, 4096))
	dt, err := GetDiskType(id)
	require.NoError(t, err)
	assert.Equal(t, DTypeRAW, dt)

	short := newSession(t, make([]byte, 100))
	dt, err = Probe(short)
	require.NoError(t, err)
	assert.Equal(t, DTypeRAW, dt)
	assert.Equal(t, volumeid.UsageUnprobed, short.UsageID)
}

func newGPTImage(t *testing.T) []byte {
	img := make([]byte, testDiskSectors*GPTDefaultLBASize)
	pmbr := img[:MBRDefaultLBASize]
	putMBREntry(pmbr, 0, 0, EFIGPTProtectiveMBR, 1, testDiskSectors-1)
	putBootSignature(pmbr)

	diskGUID := guidToBytes(t, "B2D588EC-966D-445B-BAB3-846CE330166B")
	putHeader := func(lba, backup, entries int64) {
		h := img[lba*GPTDefaultLBASize:]
		copy(h, GPTSignature)
		binary.LittleEndian.PutUint32(h[0x08:], 0x00010000)
		binary.LittleEndian.PutUint32(h[0x0C:], 92)
		binary.LittleEndian.PutUint64(h[0x18:], uint64(lba))
		binary.LittleEndian.PutUint64(h[0x20:], uint64(backup))
		binary.LittleEndian.PutUint64(h[0x28:], 34)
		binary.LittleEndian.PutUint64(h[0x30:], testDiskSectors-34)
		copy(h[0x38:], diskGUID)
		binary.LittleEndian.PutUint64(h[0x48:], uint64(entries))
		binary.LittleEndian.PutUint32(h[0x50:], GPTPartitionEntryCount)
		binary.LittleEndian.PutUint32(h[0x54:], GPTPartitionEntrySize)
	}
	putEntries := func(lba int64) {
		putEntry := func(idx int, ptype string, first, last uint64, name string) {
			e := img[lba*GPTDefaultLBASize+int64(idx*GPTPartitionEntrySize):]
			copy(e[0x00:], guidToBytes(t, ptype))
			copy(e[0x10:], guidToBytes(t, "11111111-2222-3333-4444-555555555555"))
			binary.LittleEndian.PutUint64(e[0x20:], first)
			binary.LittleEndian.PutUint64(e[0x28:], last)
			for i, u := range utf16.Encode([]rune(name)) {
				binary.LittleEndian.PutUint16(e[0x38+2*i:], u)
			}
		}
		putEntry(0, GEFISystemPartition, 2048, 4095, "EFI")
		putEntry(2, LinuxFSData, 4096, 8000, "root")
		putEntry(3, LUKSPartition, 8001, 8100, "vault")
	}

	putHeader(1, testDiskSectors-1, 2)
	putEntries(2)
	putHeader(testDiskSectors-1, 1, testDiskSectors-1-GPTPartitionArrayLBAs)
	putEntries(testDiskSectors - 1 - GPTPartitionArrayLBAs)
	return img
}

func TestProbeGPT(t *testing.T) {
	id := newSession(t, newGPTImage(t))

	dt, err := Probe(id)
	require.NoError(t, err)
	assert.Equal(t, DTypeGPT, dt)
	assert.Equal(t, "gpt", id.Type)
	assert.Equal(t, "b2d588ec-966d-445b-bab3-846ce330166b", id.UUID)
	assert.Equal(t, volumeid.UsagePartitionTable, id.UsageID)

	require.Len(t, id.Partitions, 3)
	assert.Equal(t, 1, id.Partitions[0].Index)
	assert.Equal(t, GEFISystemPartition, id.Partitions[0].Type)
	assert.Equal(t, 3, id.Partitions[1].Index)
	assert.Equal(t, uint64(4096*512), id.Partitions[1].Offset)
	assert.Equal(t, uint64((8000-4096+1)*512), id.Partitions[1].Size)
	assert.Equal(t, volumeid.UsageCrypto, id.Partitions[2].UsageID)

	// 保护性MBR与GPT头、分区表项数组共用同一次头部读取之后的缓存.
	assert.Equal(t, int64(0), id.Stats().WindowReads)
}

func TestGPTDetails(t *testing.T) {
	id := newSession(t, newGPTImage(t))
	gpt, err := ReadGPT(id)
	require.NoError(t, err)

	parts := gpt.UsedPartitions()
	require.Len(t, parts, 3)
	assert.True(t, parts[0].IsBootable())
	assert.Equal(t, "root", parts[1].DecodedPartitionName())
	assert.Equal(t, "Linux Filesystem Data", parts[1].PartTypeDesc())
	assert.Equal(t, "11111111-2222-3333-4444-555555555555", parts[1].UniqGUIDInMixedEndian())
	assert.False(t, gpt.IsDynamic())

	bgpt, err := gpt.BackupGPT()
	require.NoError(t, err)
	assert.Equal(t, int64(1), bgpt.Header.BackupLBA)
	assert.Equal(t, gpt.PartitionEntries[2].FirstLBAIndex, bgpt.PartitionEntries[2].FirstLBAIndex)
	assert.Equal(t, int64(1), id.Stats().WindowReads)

	size, err := gpt.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(testDiskSectors*GPTDefaultLBASize), size)

	o, err := gpt.JSONFormat()
	require.NoError(t, err)
	assert.Contains(t, o, `"disk_identifier": "B2D588EC-966D-445B-BAB3-846CE330166B"`)

	d, err := gpt.DebugFormat()
	require.NoError(t, err)
	assert.Contains(t, d, "Found valid GPT.")
	assert.Contains(t, d, "the number of effective part is 3")
}

func TestProtectiveMBRWithoutGPT(t *testing.T) {
	img := make([]byte, 64<<10)
	putMBREntry(img, 0, 0, EFIGPTProtectiveMBR, 1, 127)
	putBootSignature(img)

	id := newSession(t, img)
	dt, err := GetDiskType(id)
	require.NoError(t, err)
	assert.Equal(t, DTypeMBR, dt)
}
