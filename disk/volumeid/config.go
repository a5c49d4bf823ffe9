package volumeid

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	// DefaultFrontSize 头部缓存容量, 覆盖常见超级块所在的前68KiB.
	DefaultFrontSize = 0x11000
	// DefaultWindowSize 窗口缓存容量.
	DefaultWindowSize = 0x10000
	// MaxCacheSize 单个缓存区的容量上限.
	MaxCacheSize = 64 << 20
)

// Config 缓存配置.
type Config struct {
	FrontSize  int // 头部缓存容量(字节).
	WindowSize int // 窗口缓存容量(字节).
}

func DefaultConfig() Config {
	return Config{
		FrontSize:  DefaultFrontSize,
		WindowSize: DefaultWindowSize,
	}
}

func (c Config) Validate() error {
	if c.FrontSize <= 0 || c.FrontSize > MaxCacheSize {
		return errors.Errorf("invalid front cache size %v", c.FrontSize)
	}
	if c.WindowSize <= 0 || c.WindowSize > MaxCacheSize {
		return errors.Errorf("invalid window cache size %v", c.WindowSize)
	}
	return nil
}

type options struct {
	cfg    Config
	logger *zap.SugaredLogger
}

type Option func(*options)

func WithFrontSize(size int) Option {
	return func(o *options) {
		o.cfg.FrontSize = size
	}
}

func WithWindowSize(size int) Option {
	return func(o *options) {
		o.cfg.WindowSize = size
	}
}

func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithLogger 指定日志, 为nil时使用包级默认日志.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func buildOptions(opts []Option) options {
	o := options{cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
