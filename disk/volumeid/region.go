package volumeid

import (
	"io"

	"github.com/pkg/errors"
)

// region 一段定长缓存区.
// buf 为nil表示未分配; [off, off+n) 为与数据源完全一致的有效数据.
type region struct {
	name string
	size int
	buf  []byte
	off  uint64
	n    int
}

func (r *region) allocated() bool {
	return r.buf != nil
}

func (r *region) allocate() (err error) {
	if r.buf != nil {
		return nil
	}
	defer func() {
		if e := recover(); e != nil {
			r.release()
			err = errors.Wrapf(ErrAllocationFailed, "%s cache of %v bytes: %v", r.name, r.size, e)
		}
	}()
	r.buf = make([]byte, r.size)
	r.off, r.n = 0, 0
	return nil
}

func (r *region) release() {
	r.buf = nil
	r.off = 0
	r.n = 0
}

// covers 若 [off, off+length) 完全位于有效数据之内, 则返回true.
func (r *region) covers(off uint64, length int) bool {
	if off < r.off {
		return false
	}
	return off+uint64(length) <= r.off+uint64(r.n)
}

// view 返回 [off, off+length) 的只读切片, 调用前需保证已覆盖.
func (r *region) view(off uint64, length int) ([]byte, error) {
	if !r.covers(off, length) {
		return nil, errors.Errorf("%s cache does not cover %s+%#x (valid %s+%#x)",
			r.name, hexOff(off), length, hexOff(r.off), r.n)
	}
	start := int(off - r.off)
	return r.buf[start : start+length : start+length], nil
}

// fill 从数据源 off 处读取至多 want 字节到缓存区起始位置.
//
// 短读不是错误, 返回实际读取字节数.
// seek失败时有效长度清零; read失败时, 若基址未变则保留原有效长度, 否则清零(旧数据已被覆盖).
// 保留原有效长度依赖一个前提: 数据源在返回错误时不会改写 p 中超出已读字节的部分(os.File、bytes.Reader 均满足).
func (r *region) fill(src Source, off uint64, want int) (int, error) {
	if _, err := src.Seek(int64(off), io.SeekStart); err != nil {
		r.n = 0
		return 0, &ioError{op: "seek", off: off, cause: err}
	}
	n, err := io.ReadFull(src, r.buf[:want])
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		if r.off != off {
			r.off, r.n = off, 0
		}
		return n, &ioError{op: "read", off: off, cause: err}
	}
	r.off = off
	r.n = n
	return n, nil
}
