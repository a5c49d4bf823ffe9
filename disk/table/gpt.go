package table

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/dustin/go-humanize"
	"github.com/kisun-bit/volprobe/disk/volumeid"
	"github.com/kisun-bit/volprobe/util/logger"
	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
	"github.com/thoas/go-funk"
)

var ErrInvalidGPT = errors.New("invalid gpt signature")

// GPT GPT磁盘信息结构.
// 具体见：https://en.wikipedia.org/wiki/GUID_Partition_Table.
type GPT struct {
	id               *volumeid.VolumeID                        `struc:"skip"`      // 探测会话.
	Offset           int64                                     `struc:"skip"`      // GPT数据绝对起始偏移.
	BinProtectiveMBR []byte                                    `struc:"[512]byte"` // GPT数据-LBA0的保护性MBR数据.
	Header           GPTHeader                                 // GPT数据-LBA1的GPT头数据.
	PartitionEntries [GPTPartitionEntryCount]GPTPartitionEntry // GPT分区表项.
}

func (gpt *GPT) IsValid() bool {
	return gpt.Header.SignatureString() == GPTSignature
}

func (gpt *GPT) Size() (int64, error) {
	size, err := gpt.id.Size()
	return int64(size), err
}

// IsDynamic 若是Windows动态磁盘, 则返回true.
func (gpt *GPT) IsDynamic() bool {
	hasLDMMetaPart := false
	hasLDMDataPart := false
	for _, gp := range gpt.PartitionEntries {
		switch gp.PartTypeGUIDInMixedEndian() {
		case LDMMetaDataPartition:
			hasLDMMetaPart = true
		case LDMDataPartition:
			hasLDMDataPart = true
		}
	}
	return hasLDMMetaPart && hasLDMDataPart
}

// UsedPartitions 返回全部非空分区表项.
func (gpt *GPT) UsedPartitions() []GPTPartitionEntry {
	ps := make([]GPTPartitionEntry, 0)
	for i, p := range gpt.PartitionEntries {
		if i >= gpt.Header.NumberOfPartEntriesArray {
			break
		}
		if !p.IsEmpty() {
			ps = append(ps, p)
		}
	}
	return ps
}

type BackupGPT struct {
	Offset           int64                                     `struc:"skip"` // 次要GPT数据起始偏移.
	PartitionEntries [GPTPartitionEntryCount]GPTPartitionEntry // 次要GPT分区表项.
	Header           GPTHeader                                 // 次要GPT数据的GPT头数据.
}

// GPTHeader 位于GPT磁盘的LBA1数据(若为Backup GPT，则是LBA-1).
type GPTHeader struct {
	Signature                 []byte `struc:"[8]byte"`       // 0x00, 8, EFI签名 ("EFI PART").
	Revision                  uint32 `struc:"uint32,little"` // 0x08, 4, 版本号信息.
	HeaderSize                uint32 `struc:"uint32,little"` // 0x0C, 4, 分区表头数据字节大小.
	HeaderCRC32               uint32 `struc:"uint32,little"` // 0x10, 4, 分区表头数据0x00-0x5B之间数据的校验和.
	Reserved                  []byte `struc:"[4]byte"`       // 0x14, 4, 保留.
	CurrentLBA                int64  `struc:"int64,little"`  // 0x18, 8, 当前分区表头数据所处的LBA.
	BackupLBA                 int64  `struc:"int64,little"`  // 0x20, 8, 备份分区表头数据所处的LBA.
	FirstUnUsableLBAIndex     int64  `struc:"int64,little"`  // 0x28, 8, 首个可用LBA.
	LastUnUsableLBAIndex      int64  `struc:"int64,little"`  // 0x30, 8, 最后一个可用LBA.
	GUID                      []byte `struc:"[16]byte"`      // 0x38, 16, mixed endian, 磁盘GUID.
	StartingLBAForPartEntries int64  `struc:"int64,little"`  // 0x48, 8, 分区表项起始LBA（通常为2）.
	NumberOfPartEntriesArray  int    `struc:"int32,little"`  // 0x50, 4, 分区表项数组的成员个数.
	PartEntrySize             int    `struc:"int32,little"`  // 0x54, 4, 一个分区表项数据的字节长度.
	PartEntriesArrayCRC32     uint32 `struc:"uint32,little"` // 0x58, 4, 分区表项数组数据的校验和.
	TailReversed              []byte `struc:"[420]byte"`     // 0x5C, 420, 预留.
}

func (gh *GPTHeader) GUIDInMixedEndian() string {
	return GUIDToString(gh.GUID)
}

func (gh *GPTHeader) SignatureString() string {
	return string(gh.Signature)
}

// GPTPartitionEntry GPT磁盘的一项分区表项数据.
type GPTPartitionEntry struct {
	Index         int      `struc:"skip"`              // 分区位置索引.
	PartTypeGUID  []byte   `struc:"[16]byte"`          // 0x00, 16, mixed endian, 分区类型GUID.
	UniqGUID      []byte   `struc:"[16]byte"`          // 0x10, 16, mixed endian, 唯一编码GUID.
	FirstLBAIndex int64    `struc:"int64,little"`      // 0x20, 8, 起始LBA(包含).
	LastLBAIndex  int64    `struc:"int64,little"`      // 0x28, 8, 结束LBA(包含).
	AttrFlags     []byte   `struc:"[8]byte"`           // 0x30, 8, 属性, 例如位 60 表示只读.
	PartitionName []uint16 `struc:"[36]uint16,little"` // 0x38, 72, 分区名称, 36 个 UTF-16LE 代码单元.
}

func (gpe *GPTPartitionEntry) PartTypeGUIDInMixedEndian() string {
	return GUIDToString(gpe.PartTypeGUID)
}

func (gpe *GPTPartitionEntry) UniqGUIDInMixedEndian() string {
	return GUIDToString(gpe.UniqGUID)
}

func (gpe *GPTPartitionEntry) DecodedPartitionName() string {
	s := string(utf16.Decode(gpe.PartitionName))
	return strings.ReplaceAll(s, "\u0000", "")
}

// IsEmpty 若是空分区, 则返回True.
func (gpe *GPTPartitionEntry) IsEmpty() bool {
	return gpe.PartTypeGUIDInMixedEndian() == BlankEmptyPart
}

// IsBootable 若是启动分区, 则返回True.
func (gpe *GPTPartitionEntry) IsBootable() bool {
	return funk.InStrings(
		[]string{
			BIOSBootPartition,
			BootPartition,
			GEFISystemPartition,
		},
		gpe.PartTypeGUIDInMixedEndian())
}

// IsSwap 若是交换分区, 则返回True.
func (gpe *GPTPartitionEntry) IsSwap() bool {
	return funk.InStrings(
		[]string{
			SwapPartition,
			SwapPartition2,
		},
		gpe.PartTypeGUIDInMixedEndian())
}

// Usage 根据分区类型推断分区用途.
func (gpe *GPTPartitionEntry) Usage() volumeid.Usage {
	t := gpe.PartTypeGUIDInMixedEndian()
	switch {
	case funk.InStrings([]string{RAIDPartition, AppleRAIDPartition}, t):
		return volumeid.UsageRaid
	case funk.InStrings([]string{LUKSPartition, PlainDmCryptPartition}, t):
		return volumeid.UsageCrypto
	case t == LVMPartition || gpe.IsSwap():
		return volumeid.UsageOther
	}
	return volumeid.UsageUnprobed
}

func (gpe *GPTPartitionEntry) PartTypeDesc() string {
	v, ok := GPTPartitionTypeDesc[gpe.PartTypeGUIDInMixedEndian()]
	if !ok {
		v = "UNKNOWN"
	}
	return v
}

// ReadGPT 经由会话缓存读取LBA0-LBA33(保护性MBR、GPT头及分区表项数组).
// 这部分数据完全位于头部缓存之内.
func ReadGPT(id *volumeid.VolumeID) (*GPT, error) {
	buf, err := id.GetView(0, (1+1+GPTPartitionArrayLBAs)*GPTDefaultLBASize)
	if err != nil {
		return nil, err
	}
	gpt := new(GPT)
	if err = struc.Unpack(bytes.NewReader(buf), gpt); err != nil {
		return nil, err
	}
	if !gpt.IsValid() {
		return nil, ErrInvalidGPT
	}
	if gpt.Header.StartingLBAForPartEntries != 2 || gpt.Header.PartEntrySize != GPTPartitionEntrySize {
		return nil, errors.Errorf("unsupported gpt layout, entries at LBA %v, entry size %v",
			gpt.Header.StartingLBAForPartEntries, gpt.Header.PartEntrySize)
	}
	if gpt.Header.NumberOfPartEntriesArray > GPTPartitionEntryCount {
		gpt.Header.NumberOfPartEntriesArray = GPTPartitionEntryCount
	}
	gpt.id = id
	gpt.markIndex()
	return gpt, nil
}

// ProbeGPT 读取GPT并将分区表信息(类型、磁盘GUID、分区)记录至会话.
func ProbeGPT(id *volumeid.VolumeID) (*GPT, error) {
	gpt, err := ReadGPT(id)
	if err != nil {
		return nil, err
	}
	id.SetUsage(volumeid.UsagePartitionTable)
	id.Type = "gpt"
	id.UUIDRaw = append(id.UUIDRaw[:0], gpt.Header.GUID...)
	id.UUID = strings.ToLower(gpt.Header.GUIDInMixedEndian())
	parts := gpt.UsedPartitions()
	for _, p := range parts {
		vp := id.AddPartition(volumeid.Partition{
			Index:  p.Index,
			Offset: uint64(p.FirstLBAIndex) * GPTDefaultLBASize,
			Size:   uint64(p.LastLBAIndex-p.FirstLBAIndex+1) * GPTDefaultLBASize,
			Type:   p.PartTypeGUIDInMixedEndian(),
		})
		vp.SetUsage(p.Usage())
	}
	logger.Debugf("ProbeGPT found %v partitions, disk identifier %s", len(parts), id.UUID)
	return gpt, nil
}

func (gpt *GPT) markIndex() {
	for i := 0; i < GPTPartitionEntryCount; i++ {
		gpt.PartitionEntries[i].Index = i + 1
	}
}

// BackupGPT 备份分区表.
// 备份GPT头位于 BackupLBA, 其分区表项数组紧邻其前的32个LBA, 通常位于磁盘末尾, 由窗口缓存服务.
func (gpt *GPT) BackupGPT() (bgpt BackupGPT, err error) {
	if gpt.Header.BackupLBA <= GPTPartitionArrayLBAs {
		return BackupGPT{}, errors.Errorf("invalid backup LBA %v", gpt.Header.BackupLBA)
	}
	bgpt.Offset = (gpt.Header.BackupLBA - GPTPartitionArrayLBAs) * GPTDefaultLBASize
	buf, err := gpt.id.GetView(uint64(bgpt.Offset), (GPTPartitionArrayLBAs+1)*GPTDefaultLBASize)
	if err != nil {
		return BackupGPT{}, err
	}
	if err = struc.Unpack(bytes.NewReader(buf), &bgpt); err != nil {
		return BackupGPT{}, err
	}
	if bgpt.Header.SignatureString() != GPTSignature {
		return BackupGPT{}, errors.Wrapf(ErrInvalidGPT, "backup header at LBA %v", gpt.Header.BackupLBA)
	}
	return bgpt, nil
}

type GPTJson struct {
	DiskLabelType                  string        `json:"disk_label_type"`
	DiskIdentifier                 string        `json:"disk_identifier"`
	SectorSize                     int           `json:"sector_size"`
	Sectors                        int64         `json:"sectors"`
	Size                           int64         `json:"size"`
	FirstUnusedSectorIndex         int64         `json:"first_unused_sector_index"`
	LastUnusedSectorIndex          int64         `json:"last_unused_sector_index"`
	PartitionTableStartSectorIndex int64         `json:"partition_table_start_sector_index"`
	PartitionTableArrayLength      int           `json:"partition_table_array_size"`
	OnePartitionTableEntryBytes    int           `json:"one_partition_table_entry_bytes"`
	Parts                          []GPTPartJson `json:"parts"`
}

type GPTPartJson struct {
	Index       int    `json:"index"`
	Boot        bool   `json:"boot"`
	StartSector int64  `json:"start_sector"`
	EndSector   int64  `json:"end_sector"`
	Sectors     int64  `json:"sectors"`
	Size        int64  `json:"size"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	TypeDesc    string `json:"type_desc"`
}

// JSONFormat 以JSON格式获取显示输出.
// Size 取自GPT头记录的范围, 不代表实际磁盘文件大小.
func (gpt *GPT) JSONFormat() (string, error) {
	gj := new(GPTJson)
	gj.SectorSize = GPTDefaultLBASize
	gj.DiskLabelType = string(DTypeGPT)
	gj.Sectors = (gpt.Header.LastUnUsableLBAIndex + 1) + 1 + GPTPartitionArrayLBAs
	gj.FirstUnusedSectorIndex = gpt.Header.FirstUnUsableLBAIndex
	gj.LastUnusedSectorIndex = gpt.Header.LastUnUsableLBAIndex
	gj.PartitionTableStartSectorIndex = gpt.Header.StartingLBAForPartEntries
	gj.OnePartitionTableEntryBytes = gpt.Header.PartEntrySize
	gj.PartitionTableArrayLength = gpt.Header.NumberOfPartEntriesArray
	gj.Size = gj.Sectors * int64(gj.SectorSize)
	gj.DiskIdentifier = gpt.Header.GUIDInMixedEndian()
	gj.Parts = make([]GPTPartJson, 0)
	for _, p := range gpt.UsedPartitions() {
		sectors := p.LastLBAIndex - p.FirstLBAIndex + 1
		gj.Parts = append(gj.Parts, GPTPartJson{
			Index:       p.Index,
			Boot:        p.IsBootable(),
			StartSector: p.FirstLBAIndex,
			EndSector:   p.LastLBAIndex,
			Sectors:     sectors,
			Size:        sectors * GPTDefaultLBASize,
			Name:        p.DecodedPartitionName(),
			Type:        p.PartTypeGUIDInMixedEndian(),
			TypeDesc:    p.PartTypeDesc(),
		})
	}
	o, err := json.MarshalIndent(gj, "", "\t")
	return string(o), err
}

// DebugFormat 以Debug模式获取显示输出.
//
// 示例:
// ```
// Found valid GPT.
// Disk: 20971520 sectors, 10 GiB
// Logical sector size: 512 bytes
// Disk identifier <GUID>: B2D588EC-966D-445B-BAB3-846CE330166B
// Partition table holds up to 128 entries, the number of effective part is 1
// Partition table begins at sector 2 and the size of partition entry is 128 bytes
// First usable sector index is 34, last usable sector index is 20971486
//
// Number           Start             End                  Size    Type
//
//	1            2048           22527             10485760B    Linux Filesystem Data
//
// ```
func (gpt *GPT) DebugFormat() (string, error) {
	o, err := gpt.JSONFormat()
	if err != nil {
		return "", err
	}
	gj := new(GPTJson)
	if err = json.Unmarshal([]byte(o), gj); err != nil {
		return "", err
	}
	fmt_ := `
Found valid GPT.
Disk: %v sectors, %s
Logical sector size: %v bytes
Disk identifier <GUID>: %s
Partition table holds up to %v entries, the number of effective part is %v
Partition table begins at sector %v and the size of partition entry is %v bytes
First usable sector index is %v, last usable sector index is %v

%s
`
	partsDescList := make([]string, 0)
	for i, p := range gj.Parts {
		if i == 0 {
			partsDescList = append(partsDescList,
				fmt.Sprintf("%6s %15s %15s %21s    %s", "Number", "Start", "End", "Size", "Type"))
		}
		partsDescList = append(partsDescList,
			fmt.Sprintf("%6d %15d %15d %20dB    %s", p.Index, p.StartSector, p.EndSector, p.Size, p.TypeDesc))
	}
	return fmt.Sprintf(fmt_,
		gj.Sectors,
		humanize.IBytes(uint64(gj.Size)),
		gj.SectorSize,
		gj.DiskIdentifier,
		gj.PartitionTableArrayLength,
		len(gj.Parts),
		gj.PartitionTableStartSectorIndex,
		gj.OnePartitionTableEntryBytes,
		gj.FirstUnusedSectorIndex,
		gj.LastUnusedSectorIndex,
		strings.Join(partsDescList, "\n")), nil
}
