package fossick

import (
	"github.com/cespare/xxhash/v2"
	"github.com/kisun-bit/volprobe/disk/volumeid"
	"github.com/pkg/errors"
)

// HeaderHash 计算数据源前 length 字节的 xxhash 值.
// 用于比较两次探测之间卷头部(超级块、启动扇区等)是否发生变化, length 不能超过头部缓存大小.
func HeaderHash(id *volumeid.VolumeID, length int) (uint64, error) {
	if length > id.Config().FrontSize {
		return 0, errors.Wrapf(volumeid.ErrInvalidRequest,
			"header length %#x exceeds front cache size %#x", length, id.Config().FrontSize)
	}
	view, err := id.GetView(0, length)
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(view), nil
}
