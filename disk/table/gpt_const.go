package table

const (
	GPTPartitionEntryCount = 128
	GPTPartitionEntrySize  = 128
	GPTDefaultLBASize      = 512
	GPTPartitionArrayLBAs  = GPTPartitionEntryCount * GPTPartitionEntrySize / GPTDefaultLBASize
)

const GPTSignature = "EFI PART"

type GPTPartitionType = string

// http://en.wikipedia.org/wiki/GUID_Partition_Table#Partition_type_GUIDs
const (
	BlankEmptyPart        GPTPartitionType = "00000000-0000-0000-0000-000000000000"
	GEFISystemPartition   GPTPartitionType = "C12A7328-F81F-11D2-BA4B-00A0C93EC93B"
	BIOSBootPartition     GPTPartitionType = "21686148-6449-6E6F-744E-656564454649"
	MicroMSR              GPTPartitionType = "E3C9E316-0B5C-4DB8-817D-F92DF00215AE"
	BasicDataPartition    GPTPartitionType = "EBD0A0A2-B9E5-4433-87C0-68B6B72699C7"
	LDMMetaDataPartition  GPTPartitionType = "5808C8AA-7E8F-42E0-85D2-E1E90434CFB3"
	LDMDataPartition      GPTPartitionType = "AF9B60A0-1431-4F62-BC68-3311714A69AD"
	MicroMRE              GPTPartitionType = "DE94BBA4-06D1-4D40-A16A-BFD50179D6AC"
	LinuxFSData           GPTPartitionType = "0FC63DAF-8483-4772-8E79-3D69D8477DE4"
	RAIDPartition         GPTPartitionType = "A19D880F-05FC-4D3B-A006-743F0F84911E"
	SwapPartition         GPTPartitionType = "0657FD6D-A4AB-43C4-84E5-0933C84B4F4F"
	LVMPartition          GPTPartitionType = "E6D6D379-F507-44C2-A23C-238F2A3DF928"
	PlainDmCryptPartition GPTPartitionType = "7FFEC5C9-2D00-49B7-8941-3EA10A5586B7"
	LUKSPartition         GPTPartitionType = "CA7D7CCB-63ED-4C53-861C-1742536059CC"
	BootPartition         GPTPartitionType = "83BD6B9D-7F41-11DC-BE0B-001560B84F0F"
	HFSPlusPartition      GPTPartitionType = "48465300-0000-11AA-AA11-00306543ECAC"
	AppleRAIDPartition    GPTPartitionType = "52414944-0000-11AA-AA11-00306543ECAC"
	ZFS                   GPTPartitionType = "6A898CC3-1DD2-11B2-99A6-080020736631"
	SwapPartition2        GPTPartitionType = "516E7CB5-6ECF-11D6-8FF8-00022D09712B"
)

var GPTPartitionTypeDesc = map[GPTPartitionType]string{
	BlankEmptyPart:        "Blank Or Empty",
	GEFISystemPartition:   "EFI System Partition",
	BIOSBootPartition:     "BIOS Boot Partition",
	MicroMSR:              "Microsoft Reserved Partition (MSR)",
	BasicDataPartition:    "Basic Data Partition",
	LDMMetaDataPartition:  "Logical Disk Manager (LDM) Metadata Partition",
	LDMDataPartition:      "Logical Disk Manager Data Partition",
	MicroMRE:              "Windows Recovery Environment",
	LinuxFSData:           "Linux Filesystem Data",
	RAIDPartition:         "RAID Partition",
	SwapPartition:         "Swap Partition",
	LVMPartition:          "Logical Volume Manager (LVM) Partition",
	PlainDmCryptPartition: "Plain Dm-crypt Partition",
	LUKSPartition:         "LUKS Partition",
	BootPartition:         "Boot Partition",
	HFSPlusPartition:      "Hierarchical File System Plus (HFS+) Partition",
	AppleRAIDPartition:    "Apple RAID Partition",
	ZFS:                   "ZFS",
	SwapPartition2:        "Swap Partition 2",
}
