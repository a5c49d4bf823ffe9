package volumeid

// Usage 卷的用途分类.
type Usage int

const (
	UsageUnused Usage = iota
	UsageUnprobed
	UsageOther
	UsageFilesystem
	UsagePartitionTable
	UsageRaid
	UsageDiskLabel
	UsageCrypto
)

var usageNames = map[Usage]string{
	UsageFilesystem:     "filesystem",
	UsagePartitionTable: "partitiontable",
	UsageOther:          "other",
	UsageRaid:           "raid",
	UsageDiskLabel:      "disklabel",
	UsageCrypto:         "crypto",
	UsageUnprobed:       "unprobed",
	UsageUnused:         "unused",
}

// String 未知的用途返回空串.
func (u Usage) String() string {
	return usageNames[u]
}
