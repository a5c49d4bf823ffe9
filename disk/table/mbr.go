package table

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/kisun-bit/volprobe/disk/volumeid"
	"github.com/kisun-bit/volprobe/util/logger"
	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

var ErrInvalidMBR = errors.New("invalid boot signature for mbr")

// MBR MBR磁盘信息结构.
// 具体见 https://en.wikipedia.org/wiki/Master_boot_record.
// 参考现代MBR结构节(`Structure of a modern standard MBR`)的描述
type MBR struct {
	id                       *volumeid.VolumeID                   `struc:"skip"` // 探测会话, 所有读取均经由其缓存.
	Signature                []byte                               `struc:"skip"`
	isEBR                    bool                                 `struc:"skip"`      // 若此MBR为EBR时, 此字段为true.
	Offset                   int64                                `struc:"skip"`      // MBR数据绝对起始偏移.
	Bin                      []byte                               `struc:"skip"`      // MBR二进制数据(自缓存拷贝).
	BootLoader               []byte                               `struc:"[446]byte"` // 0x0000, 446.
	FullMainPartitionEntries [MBRPartitionEntryCount]MBRPartition // 0x01BE, 64, 所有多字节字段均为小端序.
	BootSignature            [2]byte                              `struc:"[2]byte"` // 0x01FE, 2.
}

// EBR MBR磁盘扩展BootRecorder信息结构.
// 具体见 https://en.wikipedia.org/wiki/Extended_boot_record.
//  1. 每一个逻辑分区，均持有一个EBR, 且EBR都位于它所描述的逻辑分区之前.
//  2. EBR 的第1个表项: StartingLBA 为相对该EBR的偏移, TotalSectors 为逻辑分区总扇区数.
//  3. EBR 的第2个表项: StartingLBA 为下一个EBR相对扩展分区的偏移.
type EBR = MBR

// ReadMBR 经由会话缓存读取LBA0的MBR, 不修改会话中的探测结果.
func ReadMBR(id *volumeid.VolumeID) (*MBR, error) {
	mbr, err := readBootRecord(id, 0, false)
	if err != nil {
		return nil, err
	}
	return &mbr, nil
}

// ProbeMBR 读取MBR并将分区表信息(类型、磁盘签名、分区)记录至会话.
func ProbeMBR(id *volumeid.VolumeID) (*MBR, error) {
	mbr, err := ReadMBR(id)
	if err != nil {
		return nil, err
	}
	parts, err := mbr.VolumePartitions()
	if err != nil {
		return nil, err
	}
	id.SetUsage(volumeid.UsagePartitionTable)
	id.Type = "dos"
	if err = id.SetUUID(mbr.BootLoader[440:444], volumeid.UUIDDOS); err != nil {
		return nil, err
	}
	for _, p := range parts {
		vp := id.AddPartition(volumeid.Partition{
			Index:  p.Index,
			Offset: uint64(p.StartingLBA) * MBRDefaultLBASize,
			Size:   uint64(p.TotalSectors) * MBRDefaultLBASize,
			Type:   fmt.Sprintf("0x%02x", p.PartitionType),
		})
		vp.SetUsage(p.Usage())
	}
	logger.Debugf("ProbeMBR found %v partitions, disk identifier %s", len(parts), id.UUID)
	return mbr, nil
}

// readBootRecord 解析 start 处的一个MBR/EBR扇区.
func readBootRecord(id *volumeid.VolumeID, start int64, isEBR bool) (mbr MBR, err error) {
	if start < 0 {
		return mbr, errors.Errorf("invalid boot record offset %v", start)
	}
	buf, err := id.GetView(uint64(start), MBRDefaultLBASize)
	if err != nil {
		return mbr, err
	}
	mbr.isEBR = isEBR
	mbr.Offset = start
	mbr.Bin = append([]byte(nil), buf...)
	if err = struc.Unpack(bytes.NewReader(mbr.Bin), &mbr); err != nil {
		return mbr, err
	}
	if !mbr.isValid() {
		return mbr, errors.Wrapf(ErrInvalidMBR, "offset %v", start)
	}
	mbr.id = id
	mbr.markIndexToMainPart()
	mbr.markSignature()
	return mbr, nil
}

// Hexdump 返回MBR/EBR的LBA0的hexdump格式输出.
func (mbr *MBR) Hexdump() string {
	return hex.Dump(mbr.Bin)
}

func (mbr *MBR) Size() (int64, error) {
	size, err := mbr.id.Size()
	return int64(size), err
}

// IsProtective 若为GPT磁盘的保护性MBR, 则返回true.
func (mbr *MBR) IsProtective() bool {
	for _, p := range mbr.FullMainPartitionEntries {
		if p.IsProtectiveMBR() {
			return true
		}
	}
	return false
}

// IsDynamic 判断硬盘是否为Windows平台的动态磁盘.
func (mbr *MBR) IsDynamic() bool {
	for _, mp := range mbr.FullMainPartitionEntries {
		if mp.IsDynamic() {
			return true
		}
	}
	return false
}

// EBRs 沿扩展分区的EBR链解析全部EBR.
// 扩展分区通常远离磁盘头部, 这些读取由窗口缓存服务.
func (mbr *MBR) EBRs() ([]EBR, error) {
	if mbr.isEBR {
		return nil, errors.New("EBR has no EBR list")
	}
	EBRs := make([]EBR, 0)
	for _, DPT := range mbr.FullMainPartitionEntries {
		if !DPT.IsExtend() {
			continue
		}
		EBROffset := DPT.StartingLBA * MBRDefaultLBASize
		for EBRIndex := 1; ; EBRIndex++ {
			if EBRIndex > MBRMaxLogicalPartitions {
				logger.Warnf("EBR chain exceeds %v entries, stop at Offset(%v)", MBRMaxLogicalPartitions, EBROffset)
				break
			}
			EBR_, err := readBootRecord(mbr.id, EBROffset, true)
			if err != nil {
				logger.Warnf("EBR can not be parsed at Offset(%v): %v", EBROffset, err)
				break
			}
			EBRs = append(EBRs, EBR_)
			next := EBR_.FullMainPartitionEntries[MBREBRPartitionEntryIndex]
			if !next.IsExtend() || next.StartingLBA == 0 {
				break
			}
			EBROffset = (DPT.StartingLBA + next.StartingLBA) * MBRDefaultLBASize
		}
	}
	return EBRs, nil
}

// isValid 若为有效BR,则返回true.
func (mbr *MBR) isValid() bool {
	return mbr.BootSignature[0] == MBRSignature510 && mbr.BootSignature[1] == MBRSignature511
}

// indexExtendMainPartition 获取主扩展分区的分区索引.
func (mbr *MBR) indexExtendMainPartition() int {
	if mbr.isEBR {
		return -1
	}
	for i, p := range mbr.FullMainPartitionEntries {
		if p.IsExtend() {
			return i
		}
	}
	return -1
}

// VolumePartitions 获取所有非空白、非扩展的逻辑/主分区.
func (mbr *MBR) VolumePartitions() ([]MBRPartition, error) {
	if mbr.isEBR {
		return nil, errors.New("EBR has no not-empty and not-extend partitions for MBR")
	}
	ps := make([]MBRPartition, 0)
	for _, mp := range mbr.FullMainPartitionEntries {
		if !mp.IsEmpty() && !mp.IsExtend() {
			ps = append(ps, mp)
		}
	}
	lps, err := mbr.LogicalPartitionEntries()
	if err != nil {
		return nil, err
	}
	return append(ps, lps...), nil
}

// markIndexToMainPart 主分区的索引即其所占用分区表项的序号(从1开始).
func (mbr *MBR) markIndexToMainPart() {
	for mpi := 1; mpi <= MBRPartitionEntryCount; mpi++ {
		mbr.FullMainPartitionEntries[mpi-1].Index = mpi
	}
}

func (mbr *MBR) markSignature() {
	signature := mbr.BootLoader[440 : 440+4]
	mbr.Signature = mbr.Signature[:0]
	for i := 3; i >= 0; i-- {
		mbr.Signature = append(mbr.Signature, signature[i])
	}
}

// LogicalPartitionEntries 获取所有逻辑分区表项, 逻辑分区索引从5开始.
func (mbr *MBR) LogicalPartitionEntries() ([]MBRPartition, error) {
	if mbr.isEBR {
		return nil, errors.New("EBR has no logical partitions")
	}
	EBRs, err := mbr.EBRs()
	if err != nil {
		return nil, err
	}
	if len(EBRs) == 0 {
		return nil, nil
	}
	index := mbr.indexExtendMainPartition()
	if index == -1 {
		return nil, errors.New("failed to fetch the index of main extend partition")
	}
	extStart := mbr.FullMainPartitionEntries[index].StartingLBA
	lps := make([]MBRPartition, 0)
	for lpi, EBR_ := range EBRs {
		peData := EBR_.FullMainPartitionEntries[MBRLogicalPartitionEntryIndex]
		// 修正相对LBA偏移为绝对LBA偏移.
		peData.StartingLBA += EBR_.Offset / MBRDefaultLBASize
		peData.IsLogical = true
		peData.Index = lpi + 1 + MBRPartitionEntryCount
		if !peData.IsEmpty() {
			lps = append(lps, peData)
		}
	}
	logger.Debugf("LogicalPartitionEntries extend partition at LBA %v holds %v logical partitions", extStart, len(lps))
	return lps, nil
}

type MBRJson struct {
	DiskLabelType  string        `json:"disk_label_type"`
	DiskIdentifier string        `json:"disk_identifier"`
	SectorSize     int           `json:"sector_size"`
	Sectors        int64         `json:"sectors"`
	Size           int64         `json:"size"`
	Parts          []MBRPartJson `json:"parts"`
}

type MBRPartJson struct {
	Index       int    `json:"index"`
	StartSector int64  `json:"start_sector"`
	EndSector   int64  `json:"end_sector"`
	Sectors     int64  `json:"sectors"`
	Size        int64  `json:"size"`
	Boot        bool   `json:"boot"`
	Type        string `json:"type"`
	TypeDesc    string `json:"type_desc"`
}

// JSONFormat 以JSON格式获取显示输出.
//
// 示例：
// ```
//
//	{
//	       "disk_label_type": "MBR",
//	       "disk_identifier": "000e772c",
//	       "sector_size": 512,
//	       "sectors": 83886080,
//	       "size": 42949672960,
//	       "parts": [
//	               {
//	                       "index": 1,
//	                       "start_sector": 2048,
//	                       "end_sector": 2099199,
//	                       "sectors": 2097152,
//	                       "size": 1073741824,
//	                       "boot": true,
//	                       "type": "83",
//	                       "type_desc": "Linux"
//	               }
//	       ]
//	}
//
// ```
func (mbr *MBR) JSONFormat() (string, error) {
	mj := new(MBRJson)
	mj.DiskLabelType = string(DTypeMBR)
	mj.DiskIdentifier = hex.EncodeToString(mbr.Signature)
	mj.SectorSize = MBRDefaultLBASize
	size, err := mbr.Size()
	if err != nil {
		return "", err
	}
	mj.Size = size
	mj.Sectors = mj.Size / MBRDefaultLBASize
	mj.Parts = make([]MBRPartJson, 0)
	mps, err := mbr.VolumePartitions()
	if err != nil {
		return "", err
	}
	for _, mp := range mps {
		mj.Parts = append(mj.Parts, MBRPartJson{
			Index:       mp.Index,
			StartSector: mp.StartingLBA,
			EndSector:   mp.EndSector(),
			Sectors:     mp.TotalSectors,
			Size:        mp.TotalSectors * MBRDefaultLBASize,
			Boot:        mp.IsBootable(),
			Type:        fmt.Sprintf("%02x", mp.PartitionType),
			TypeDesc:    mp.HumanReadablePartitionType(),
		})
	}
	o, err := json.MarshalIndent(mj, "", "\t")
	return string(o), err
}

// DebugFormat 以Debug模式获取显示输出.
//
// 示例:
// ```
// Found valid MBR.
// Disk: 40 GiB, 42949672960 bytes, 83886080 sectors
// Sector Size is 512 bytes
// Disk identifier <32-bit Signature>: 000e772c
//
// Number Boot      Start        End             Size    System
//
//	1    *       2048    2099199      1073741824B    Linux
//
// ```
func (mbr *MBR) DebugFormat() (string, error) {
	o, err := mbr.JSONFormat()
	if err != nil {
		return "", err
	}
	mj := new(MBRJson)
	if err = json.Unmarshal([]byte(o), mj); err != nil {
		return "", err
	}
	fmt_ := `
Found valid MBR.
Disk: %s, %v bytes, %v sectors
Sector Size is %v bytes
Disk identifier <32-bit Signature>: %s

%s
`
	partsDescList := make([]string, 0)
	for i, p := range mj.Parts {
		if i == 0 {
			partsDescList = append(partsDescList,
				fmt.Sprintf("%6s %4s %10s %10s %16s    %s", "Number", "Boot", "Start", "End", "Size", "System"))
		}
		bootFlag := " "
		if p.Boot {
			bootFlag = "*"
		}
		partsDescList = append(partsDescList,
			fmt.Sprintf("%6d %4s %10d %10d %15dB    %s", p.Index, bootFlag, p.StartSector, p.EndSector, p.Size, p.TypeDesc))
	}
	return fmt.Sprintf(fmt_,
		humanize.IBytes(uint64(mj.Size)),
		mj.Size,
		mj.Sectors,
		mj.SectorSize,
		mj.DiskIdentifier,
		strings.Join(partsDescList, "\n")), nil
}

// MBRPartition MBR磁盘的分区表项结构.
type MBRPartition struct {
	// Index 这一索引仅仅代表分区在分区表中的索引位置.
	Index            int              `struc:"skip"`
	IsLogical        bool             `struc:"skip"` // 若为逻辑分区, 此字段为true.
	BootIndicator    byte             // 0x00, 1.
	StartingHead     byte             // 0x01, 1.
	StartingSector   byte             // 0x02, 1, bit0-5表示起始扇区, bit6-7位表示起始柱面的高位.
	StartingCylinder byte             // 0x03, 1.
	PartitionType    MBRPartitionType `struc:"byte"` // 0x04, 1. 见 https://en.wikipedia.org/wiki/Partition_type.
	EndingHead       byte             // 0x05, 1.
	EndingSector     byte             // 0x06, 1.
	EndingCylinder   byte             // 0x07, 1.
	StartingLBA      int64            `struc:"uint32,little"` // 0x08, 4, 起始LBA(包含).
	TotalSectors     int64            `struc:"uint32,little"` // 0x0c, 4, 总扇区数.
}

// HumanReadablePartitionType 返回该分区用户可读的分区类型.
func (partition MBRPartition) HumanReadablePartitionType() string {
	v, ok := MBRPartitionTypeDesc[partition.PartitionType]
	if !ok {
		return "unknown"
	}
	return v
}

// Usage 根据分区类型推断分区用途.
func (partition MBRPartition) Usage() volumeid.Usage {
	switch partition.PartitionType {
	case LinuxRAID:
		return volumeid.UsageRaid
	case LinuxUnifiedKeySetup:
		return volumeid.UsageCrypto
	case LinuxLVM, LinuxSwap, VmwareSwap:
		return volumeid.UsageOther
	}
	return volumeid.UsageUnprobed
}

// IsEmpty 若为空分区, 则返回true.
func (partition MBRPartition) IsEmpty() bool {
	return partition.PartitionType == Empty
}

// IsBootable 若为可启动设备，则返回true.
func (partition MBRPartition) IsBootable() bool {
	return partition.BootIndicator == MBRPartitionBootable
}

// EndSector 分区的结束扇区(包含)
func (partition MBRPartition) EndSector() int64 {
	return partition.StartingLBA + partition.TotalSectors - 1
}

// IsExtend 若为扩展分区, 则返回true.
func (partition MBRPartition) IsExtend() bool {
	return bytes.IndexByte(MBRExtendPartTypes, partition.PartitionType) >= 0
}

// IsProtectiveMBR 若为GPT磁盘的保护性MBR分区, 则返回true.
func (partition MBRPartition) IsProtectiveMBR() bool {
	return partition.PartitionType == EFIGPTProtectiveMBR
}

// IsDynamic 若为动态磁盘的元数据卷, 则返回true.
func (partition MBRPartition) IsDynamic() bool {
	return partition.PartitionType == WindowsDynamicExtendedPartitionMarker
}
