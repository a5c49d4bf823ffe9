package volumeid

import "github.com/pkg/errors"

var (
	// ErrAllocationFailed 缓存区分配失败, 对应区域保持未分配状态.
	ErrAllocationFailed = errors.New("cache buffer allocation failed")
	// ErrIOFailure 对数据源的seek或read出错.
	ErrIOFailure = errors.New("source i/o failure")
	// ErrInsufficientData 数据源返回的字节数少于请求长度(通常已到达设备末尾).
	ErrInsufficientData = errors.New("insufficient data")
	// ErrRequestTooLarge 请求长度超过窗口缓存容量.
	ErrRequestTooLarge = errors.New("request exceeds window cache size")
	// ErrInvalidRequest 请求参数非法(负长度或偏移溢出).
	ErrInvalidRequest = errors.New("invalid request")
)

// IsNotApplicable 若错误仅表示"此处无此数据", 则返回true.
// 探测器应将其视为"该探测不适用", 而不是设备损坏.
func IsNotApplicable(err error) bool {
	return errors.Is(err, ErrInsufficientData) || errors.Is(err, ErrRequestTooLarge)
}

// ioError 包装数据源返回的原始错误, 同时可被 errors.Is(err, ErrIOFailure) 识别.
type ioError struct {
	op    string
	off   uint64
	cause error
}

func (e *ioError) Error() string {
	return ErrIOFailure.Error() + ": " + e.op + " at " + hexOff(e.off) + ": " + e.cause.Error()
}

func (e *ioError) Is(target error) bool {
	return target == ErrIOFailure
}

func (e *ioError) Unwrap() error {
	return e.cause
}

func (e *ioError) Cause() error {
	return e.cause
}
