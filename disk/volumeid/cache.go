package volumeid

import (
	"fmt"
	"io"
	"math"

	"github.com/kisun-bit/volprobe/util/logger"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Source 已打开的数据源(块设备、磁盘镜像或普通文件).
// 缓存不持有数据源, 也不会关闭它.
type Source = io.ReadSeeker

// Stats 缓存命中与物理读取统计.
type Stats struct {
	FrontReads  int64 // 头部缓存物理读取次数.
	FrontHits   int64 // 头部缓存命中次数.
	WindowReads int64 // 窗口缓存物理读取次数.
	WindowHits  int64 // 窗口缓存命中次数.
	BytesRead   int64 // 物理读取的总字节数.
}

func (s Stats) Reads() int64 {
	return s.FrontReads + s.WindowReads
}

// Cache 双区域只读缓存.
//
// 头部缓存覆盖数据源 [0, FrontSize), 任何完全落在其中的请求都由它服务;
// 其余请求由一个可移动的窗口缓存服务, 窗口最多 WindowSize 字节, 新的越界请求总是替换旧窗口.
//
// GetView 返回的切片借用自缓存, 仅在同一区域下一次重新填充之前有效.
// Cache 不是并发安全的, 多个协程使用同一实例时需由调用方加锁.
type Cache struct {
	src    Source
	cfg    Config
	logger *zap.SugaredLogger
	front  region
	window region
	stats  Stats
}

// NewCache 基于数据源初始化一个缓存, 缓存区在首次使用时才分配.
func NewCache(src Source, opts ...Option) (*Cache, error) {
	if src == nil {
		return nil, errors.New("lack source")
	}
	o := buildOptions(opts)
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	if o.logger == nil {
		o.logger = logger.Default()
	}
	return &Cache{
		src:    src,
		cfg:    o.cfg,
		logger: o.logger,
		front:  region{name: "front", size: o.cfg.FrontSize},
		window: region{name: "window", size: o.cfg.WindowSize},
	}, nil
}

func (c *Cache) Config() Config {
	return c.cfg
}

func (c *Cache) Stats() Stats {
	return c.stats
}

// GetView 获取数据源 [offset, offset+length) 的只读视图.
//
// 请求完全位于 [0, FrontSize) 时使用头部缓存, 否则使用窗口缓存.
// 缓存未覆盖请求时执行一次 seek+read, 读到的数据不足时返回 ErrInsufficientData.
func (c *Cache) GetView(offset uint64, length int) ([]byte, error) {
	c.logger.Debugf("get buffer off %s(%d), len %#x", hexOff(offset), offset, length)
	if length < 0 {
		return nil, errors.Wrapf(ErrInvalidRequest, "negative length %v", length)
	}
	end := offset + uint64(length)
	if end < offset || end > math.MaxInt64 {
		return nil, errors.Wrapf(ErrInvalidRequest, "range %s+%#x overflows", hexOff(offset), length)
	}
	if end <= uint64(c.cfg.FrontSize) {
		return c.frontView(offset, length)
	}
	return c.windowView(offset, length)
}

func (c *Cache) frontView(offset uint64, length int) ([]byte, error) {
	if err := c.front.allocate(); err != nil {
		return nil, err
	}
	end := int(offset) + length
	if end > c.front.n {
		c.logger.Debugf("read front cache len:%#x", end)
		c.stats.FrontReads++
		n, err := c.front.fill(c.src, 0, end)
		c.stats.BytesRead += int64(n)
		if err != nil {
			c.logger.Warnf("front cache refill failed: %v", err)
			return nil, err
		}
		c.logger.Debugf("got %#x (%d) bytes", n, n)
		if n < end {
			return nil, errors.Wrapf(ErrInsufficientData,
				"front cache requested %#x bytes, got only %#x bytes", end, n)
		}
	} else {
		c.stats.FrontHits++
	}
	return c.front.view(offset, length)
}

func (c *Cache) windowView(offset uint64, length int) ([]byte, error) {
	if length > c.cfg.WindowSize {
		c.logger.Debugf("window cache too small %#x for len %#x", c.cfg.WindowSize, length)
		return nil, errors.Wrapf(ErrRequestTooLarge, "len %#x, window cache size %#x", length, c.cfg.WindowSize)
	}
	if err := c.window.allocate(); err != nil {
		return nil, err
	}
	if !c.window.covers(offset, length) {
		c.logger.Debugf("read window cache off:%s len:%#x", hexOff(offset), length)
		c.stats.WindowReads++
		n, err := c.window.fill(c.src, offset, length)
		c.stats.BytesRead += int64(n)
		if err != nil {
			c.logger.Warnf("window cache refill failed: %v", err)
			return nil, err
		}
		c.logger.Debugf("got %#x (%d) bytes", n, n)
		if n < length {
			return nil, errors.Wrapf(ErrInsufficientData,
				"window cache at %s requested %#x bytes, got only %#x bytes", hexOff(offset), length, n)
		}
	} else {
		c.stats.WindowHits++
	}
	return c.window.view(offset, length)
}

// ReadAt 实现 io.ReaderAt, 将缓存中的数据拷贝至 p.
// 头部区域内的部分由头部缓存服务, 其余部分按 WindowSize 分段经由窗口缓存完成;
// 数据源不足时返回已读字节数及 io.EOF.
func (c *Cache) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, errors.Wrapf(ErrInvalidRequest, "negative offset %v", off)
	}
	for n < len(p) {
		pos := uint64(off) + uint64(n)
		chunk := len(p) - n
		if front := uint64(c.cfg.FrontSize); pos < front {
			if rest := int(front - pos); chunk > rest {
				chunk = rest
			}
		} else if chunk > c.cfg.WindowSize {
			chunk = c.cfg.WindowSize
		}
		v, err := c.GetView(pos, chunk)
		if err != nil {
			if errors.Is(err, ErrInsufficientData) {
				n += copy(p[n:], c.available(pos, chunk))
				return n, io.EOF
			}
			return n, err
		}
		n += copy(p[n:], v)
	}
	return n, nil
}

// available 返回服务 [pos, pos+length) 的区域中自 pos 起的有效数据.
func (c *Cache) available(pos uint64, length int) []byte {
	r := &c.window
	if pos+uint64(length) <= uint64(c.cfg.FrontSize) {
		r = &c.front
	}
	if !r.allocated() || pos < r.off || pos >= r.off+uint64(r.n) {
		return nil
	}
	start := int(pos - r.off)
	return r.buf[start:r.n:r.n]
}

// ReleaseFront 释放头部缓存, 之后的请求将重新读取.
func (c *Cache) ReleaseFront() {
	c.front.release()
}

// ReleaseWindow 释放窗口缓存.
func (c *Cache) ReleaseWindow() {
	c.window.release()
}

// ReleaseAll 释放全部缓存区, 可重复调用. 不影响数据源.
func (c *Cache) ReleaseAll() {
	c.ReleaseFront()
	c.ReleaseWindow()
}

func hexOff(off uint64) string {
	return fmt.Sprintf("%#x", off)
}
