package volumeid

import (
	"io"
	"os"

	"github.com/kisun-bit/volprobe/sys/blkdev"
	"github.com/pkg/errors"
)

const (
	LabelSize = 64
	UUIDSize  = 36
)

// Partition 分区表探测得到的一个分区.
type Partition struct {
	Index   int
	Offset  uint64
	Size    uint64
	Type    string
	UsageID Usage
	Usage   string
}

func (p *Partition) SetUsage(u Usage) {
	p.UsageID = u
	p.Usage = u.String()
}

// VolumeID 一次探测会话.
// 持有数据源的双区域缓存及探测结果(用途、类型、卷标、UUID).
type VolumeID struct {
	*Cache

	UsageID     Usage
	Usage       string
	Type        string
	TypeVersion string
	LabelRaw    []byte
	Label       string
	UUIDRaw     []byte
	UUID        string
	Partitions  []Partition

	path  string
	src   Source
	owned io.Closer
}

// New 基于已打开的数据源创建探测会话, 会话不负责关闭数据源.
func New(src Source, opts ...Option) (*VolumeID, error) {
	c, err := NewCache(src, opts...)
	if err != nil {
		return nil, err
	}
	id := &VolumeID{Cache: c, src: src}
	id.SetUsage(UsageUnprobed)
	return id, nil
}

// Open 以只读方式打开设备或镜像文件并创建探测会话, Close 时一并关闭.
func Open(path string, opts ...Option) (*VolumeID, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	id, err := New(fp, opts...)
	if err != nil {
		_ = fp.Close()
		return nil, err
	}
	id.path = path
	id.owned = fp
	return id, nil
}

func (id *VolumeID) Path() string {
	return id.path
}

func (id *VolumeID) SetUsage(u Usage) {
	id.UsageID = u
	id.Usage = u.String()
}

// Size 数据源的字节大小.
// 由路径打开时通过 blkdev 查询(块设备), 否则通过 seek 到末尾获取.
func (id *VolumeID) Size() (uint64, error) {
	if id.path != "" {
		return blkdev.QueryFileSize(id.path)
	}
	end, err := id.src.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, errors.Wrap(err, "failed to seek to end of source")
	}
	return uint64(end), nil
}

// AddPartition 追加一个分区并返回其指针.
func (id *VolumeID) AddPartition(p Partition) *Partition {
	id.Partitions = append(id.Partitions, p)
	return &id.Partitions[len(id.Partitions)-1]
}

// Close 释放缓存; 若数据源由 Open 打开, 则一并关闭.
func (id *VolumeID) Close() error {
	id.ReleaseAll()
	if id.owned == nil {
		return nil
	}
	err := id.owned.Close()
	id.owned = nil
	return err
}
