package volumeid

import (
	"bytes"
	"io"
	"math"
	"math/rand"
	"testing"

	"github.com/kisun-bit/volprobe/util/logger"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingSource 记录 seek/read 次数并可注入错误的内存数据源.
type countingSource struct {
	r        *bytes.Reader
	seeks    int
	reads    int
	lastSeek int64
	seekErr  error
	readErr  error
}

func newCountingSource(data []byte) *countingSource {
	return &countingSource{r: bytes.NewReader(data)}
}

func (s *countingSource) Seek(off int64, whence int) (int64, error) {
	s.seeks++
	if s.seekErr != nil {
		return 0, s.seekErr
	}
	s.lastSeek = off
	return s.r.Seek(off, whence)
}

func (s *countingSource) Read(p []byte) (int, error) {
	s.reads++
	if s.readErr != nil {
		return 0, s.readErr
	}
	return s.r.Read(p)
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i>>8)
	}
	return b
}

const (
	testFront  = 1024
	testWindow = 256
)

func newTestCache(t *testing.T, data []byte) (*Cache, *countingSource) {
	t.Helper()
	src := newCountingSource(data)
	c, err := NewCache(src,
		WithFrontSize(testFront),
		WithWindowSize(testWindow),
		WithLogger(logger.NewNopLogger()))
	require.NoError(t, err)
	return c, src
}

func TestNewCacheValidation(t *testing.T) {
	src := newCountingSource(nil)
	tests := []struct {
		name string
		opts []Option
		ok   bool
	}{
		{"defaults", nil, true},
		{"zero front", []Option{WithFrontSize(0)}, false},
		{"negative window", []Option{WithWindowSize(-1)}, false},
		{"too large", []Option{WithWindowSize(MaxCacheSize + 1)}, false},
		{"config", []Option{WithConfig(Config{FrontSize: 1, WindowSize: 1})}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCache(src, append(tt.opts, WithLogger(logger.NewNopLogger()))...)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}

	_, err := NewCache(nil)
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	c, err := NewCache(newCountingSource(nil), WithLogger(logger.NewNopLogger()))
	require.NoError(t, err)
	assert.Equal(t, DefaultFrontSize, c.Config().FrontSize)
	assert.Equal(t, DefaultWindowSize, c.Config().WindowSize)
}

func TestFrontCacheServesRepeatedRequestsWithoutRereading(t *testing.T) {
	data := pattern(8192)
	c, src := newTestCache(t, data)

	v, err := c.GetView(100, 400)
	require.NoError(t, err)
	assert.Equal(t, data[100:500], v)
	assert.Equal(t, 1, src.seeks)
	assert.Equal(t, int64(0), src.lastSeek)

	for _, r := range [][2]int{{100, 400}, {0, 500}, {200, 10}, {499, 1}} {
		v, err := c.GetView(uint64(r[0]), r[1])
		require.NoError(t, err)
		assert.Equal(t, data[r[0]:r[0]+r[1]], v)
	}
	assert.Equal(t, 1, src.seeks)
	assert.Equal(t, int64(1), c.Stats().FrontReads)
	assert.Equal(t, int64(4), c.Stats().FrontHits)
}

func TestFrontCacheGrowsFromZero(t *testing.T) {
	data := pattern(8192)
	c, src := newTestCache(t, data)

	_, err := c.GetView(0, 16)
	require.NoError(t, err)
	v, err := c.GetView(600, 100)
	require.NoError(t, err)
	assert.Equal(t, data[600:700], v)
	assert.Equal(t, 2, src.seeks)
	assert.Equal(t, int64(0), src.lastSeek)
	assert.Equal(t, int64(16+700), c.Stats().BytesRead)
}

func TestWindowCacheRefillsOutsideCoveredRange(t *testing.T) {
	data := pattern(16384)
	c, src := newTestCache(t, data)

	v, err := c.GetView(4096, 128)
	require.NoError(t, err)
	assert.Equal(t, data[4096:4224], v)
	assert.Equal(t, 1, src.seeks)
	assert.Equal(t, int64(4096), src.lastSeek)

	// 完全位于当前窗口之内.
	v, err = c.GetView(4100, 64)
	require.NoError(t, err)
	assert.Equal(t, data[4100:4164], v)
	assert.Equal(t, 1, src.seeks)

	// 起点在窗口之前.
	_, err = c.GetView(4000, 16)
	require.NoError(t, err)
	assert.Equal(t, 2, src.seeks)
	assert.Equal(t, int64(4000), src.lastSeek)

	// 终点超出窗口.
	_, err = c.GetView(4010, 16)
	require.NoError(t, err)
	assert.Equal(t, 3, src.seeks)
	assert.Equal(t, int64(4010), src.lastSeek)

	// 远处偏移.
	v, err = c.GetView(12000, testWindow)
	require.NoError(t, err)
	assert.Equal(t, data[12000:12000+testWindow], v)
	assert.Equal(t, 4, src.seeks)
	assert.Equal(t, int64(12000), src.lastSeek)

	st := c.Stats()
	assert.Equal(t, int64(4), st.WindowReads)
	assert.Equal(t, int64(1), st.WindowHits)
	assert.Equal(t, int64(4), st.Reads())
}

func TestFrontBoundary(t *testing.T) {
	data := pattern(4096)

	c, src := newTestCache(t, data)
	v, err := c.GetView(testFront-10, 10)
	require.NoError(t, err)
	assert.Equal(t, data[testFront-10:testFront], v)
	assert.Equal(t, int64(0), src.lastSeek)
	assert.Equal(t, int64(1), c.Stats().FrontReads)
	assert.False(t, c.window.allocated())

	c, src = newTestCache(t, data)
	v, err = c.GetView(testFront-10, 11)
	require.NoError(t, err)
	assert.Equal(t, data[testFront-10:testFront+1], v)
	assert.Equal(t, int64(testFront-10), src.lastSeek)
	assert.Equal(t, int64(1), c.Stats().WindowReads)
	assert.False(t, c.front.allocated())
}

func TestRequestTooLarge(t *testing.T) {
	data := pattern(1 << 16)
	c, src := newTestCache(t, data)

	_, err := c.GetView(2048, testWindow+1)
	assert.True(t, errors.Is(err, ErrRequestTooLarge))
	assert.True(t, IsNotApplicable(err))
	assert.Equal(t, 0, src.seeks)
	assert.False(t, c.window.allocated())

	// 窗口已覆盖该区域时仍然失败.
	_, err = c.GetView(2048, testWindow)
	require.NoError(t, err)
	_, err = c.GetView(2048, testWindow+1)
	assert.True(t, errors.Is(err, ErrRequestTooLarge))
	assert.Equal(t, 1, src.seeks)

	// 头部区域内不受窗口容量限制.
	v, err := c.GetView(0, testFront)
	require.NoError(t, err)
	assert.Len(t, v, testFront)
}

func TestShortSourceFront(t *testing.T) {
	data := pattern(10)
	c, src := newTestCache(t, data)

	_, err := c.GetView(0, 20)
	assert.True(t, errors.Is(err, ErrInsufficientData))
	assert.True(t, IsNotApplicable(err))
	assert.Equal(t, 1, src.seeks)

	v, err := c.GetView(0, 10)
	require.NoError(t, err)
	assert.Equal(t, data, v)
	assert.Equal(t, 1, src.seeks)

	// 仍然超出有效数据时重新读取.
	_, err = c.GetView(5, 6)
	assert.True(t, errors.Is(err, ErrInsufficientData))
	assert.Equal(t, 2, src.seeks)
}

func TestShortSourceWindowKeepsPartialData(t *testing.T) {
	data := pattern(3000)
	c, src := newTestCache(t, data)

	_, err := c.GetView(2900, 200)
	assert.True(t, errors.Is(err, ErrInsufficientData))
	assert.Equal(t, 1, src.seeks)

	v, err := c.GetView(2950, 50)
	require.NoError(t, err)
	assert.Equal(t, data[2950:3000], v)
	assert.Equal(t, 1, src.seeks)

	_, err = c.GetView(5000, 10)
	assert.True(t, errors.Is(err, ErrInsufficientData))
	assert.Equal(t, 2, src.seeks)
}

func TestReleaseAllForcesFreshRead(t *testing.T) {
	data := pattern(8192)
	c, src := newTestCache(t, data)

	_, err := c.GetView(0, 512)
	require.NoError(t, err)
	_, err = c.GetView(5000, 100)
	require.NoError(t, err)
	require.Equal(t, 2, src.seeks)

	c.ReleaseAll()
	c.ReleaseAll()
	assert.False(t, c.front.allocated())
	assert.False(t, c.window.allocated())
	assert.Equal(t, 0, c.front.n)
	assert.Equal(t, 0, c.window.n)

	v, err := c.GetView(0, 16)
	require.NoError(t, err)
	assert.Equal(t, data[:16], v)
	assert.Equal(t, 3, src.seeks)

	v, err = c.GetView(5000, 100)
	require.NoError(t, err)
	assert.Equal(t, data[5000:5100], v)
	assert.Equal(t, 4, src.seeks)
}

func TestReleaseRegionsIndependently(t *testing.T) {
	data := pattern(8192)
	c, src := newTestCache(t, data)

	_, err := c.GetView(0, 512)
	require.NoError(t, err)
	_, err = c.GetView(5000, 100)
	require.NoError(t, err)

	c.ReleaseWindow()
	_, err = c.GetView(0, 512)
	require.NoError(t, err)
	assert.Equal(t, 2, src.seeks)

	_, err = c.GetView(5000, 100)
	require.NoError(t, err)
	assert.Equal(t, 3, src.seeks)

	c.ReleaseFront()
	_, err = c.GetView(0, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, src.seeks)
}

func TestRoundTripAgainstReference(t *testing.T) {
	data := pattern(64 << 10)
	c, _ := newTestCache(t, data)
	rnd := rand.New(rand.NewSource(42))

	for i := 0; i < 2000; i++ {
		var off, length int
		if rnd.Intn(2) == 0 {
			length = rnd.Intn(testFront) + 1
			off = rnd.Intn(testFront - length + 1)
		} else {
			length = rnd.Intn(testWindow) + 1
			off = testFront + rnd.Intn(len(data)-testFront-length)
		}
		v, err := c.GetView(uint64(off), length)
		require.NoError(t, err, "off=%v len=%v", off, length)
		require.Equal(t, data[off:off+length], v, "off=%v len=%v", off, length)
	}
}

func TestSeekFailureResetsRegion(t *testing.T) {
	data := pattern(8192)
	c, src := newTestCache(t, data)

	_, err := c.GetView(0, 100)
	require.NoError(t, err)

	src.seekErr = errors.New("boom")
	_, err = c.GetView(0, 200)
	assert.True(t, errors.Is(err, ErrIOFailure))
	assert.Equal(t, "boom", errors.Cause(err).Error())
	assert.Equal(t, 0, c.front.n)

	src.seekErr = nil
	v, err := c.GetView(0, 50)
	require.NoError(t, err)
	assert.Equal(t, data[:50], v)
}

func TestReadFailure(t *testing.T) {
	data := pattern(8192)
	c, src := newTestCache(t, data)

	_, err := c.GetView(0, 100)
	require.NoError(t, err)
	_, err = c.GetView(4096, 100)
	require.NoError(t, err)

	src.readErr = errors.New("medium error")
	_, err = c.GetView(0, 200)
	assert.True(t, errors.Is(err, ErrIOFailure))
	assert.False(t, IsNotApplicable(err))
	assert.Equal(t, 100, c.front.n)

	// 基址改变后旧窗口数据不再可信.
	_, err = c.GetView(6000, 100)
	assert.True(t, errors.Is(err, ErrIOFailure))
	assert.Equal(t, 0, c.window.n)

	src.readErr = nil
	seeks := src.seeks
	v, err := c.GetView(10, 90)
	require.NoError(t, err)
	assert.Equal(t, data[10:100], v)
	assert.Equal(t, seeks, src.seeks)
}

func TestInvalidRequests(t *testing.T) {
	c, src := newTestCache(t, pattern(100))

	_, err := c.GetView(0, -1)
	assert.True(t, errors.Is(err, ErrInvalidRequest))

	_, err = c.GetView(math.MaxUint64-1, 10)
	assert.True(t, errors.Is(err, ErrInvalidRequest))

	_, err = c.GetView(math.MaxInt64, 1)
	assert.True(t, errors.Is(err, ErrInvalidRequest))

	_, err = c.ReadAt(make([]byte, 1), -1)
	assert.True(t, errors.Is(err, ErrInvalidRequest))
	assert.Equal(t, 0, src.seeks)
}

func TestAllocationFailure(t *testing.T) {
	r := region{name: "front", size: -1}
	err := r.allocate()
	assert.True(t, errors.Is(err, ErrAllocationFailed))
	assert.False(t, r.allocated())
}

func TestViewIsCapped(t *testing.T) {
	data := pattern(4096)
	c, _ := newTestCache(t, data)

	v, err := c.GetView(0, 8)
	require.NoError(t, err)
	_ = append(v, 0xFF)

	v, err = c.GetView(8, 1)
	require.NoError(t, err)
	assert.Equal(t, data[8], v[0])
}

func TestReadAt(t *testing.T) {
	data := pattern(8192)
	c, _ := newTestCache(t, data)

	var r io.ReaderAt = c
	p := make([]byte, 64)
	n, err := r.ReadAt(p, 3000)
	require.NoError(t, err)
	assert.Equal(t, 64, n)
	assert.Equal(t, data[3000:3064], p)

	// 越过数据源末尾时返回可用部分及 io.EOF.
	p = make([]byte, 100)
	n, err = r.ReadAt(p, 8150)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 42, n)
	assert.Equal(t, data[8150:], p[:n])

	n, err = r.ReadAt(make([]byte, 8), 8192)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 0, n)
}

func TestReadAtSplitsLargeReads(t *testing.T) {
	data := pattern(8192)
	c, src := newTestCache(t, data)

	got, err := io.ReadAll(io.NewSectionReader(c, 4096, 4096))
	require.NoError(t, err)
	assert.Equal(t, data[4096:], got)

	// 跨越头部边界: 头部一次读取, 其余 976 字节分4段经由窗口缓存.
	reads := src.reads
	p := make([]byte, 2000)
	n, err := c.ReadAt(p, 0)
	require.NoError(t, err)
	assert.Equal(t, 2000, n)
	assert.Equal(t, data[:2000], p)
	assert.Equal(t, reads+5, src.reads)
}

func TestWindowReadFailureAtSameBaseKeepsData(t *testing.T) {
	data := pattern(8192)
	c, src := newTestCache(t, data)

	_, err := c.GetView(4096, 100)
	require.NoError(t, err)

	src.readErr = errors.New("medium error")
	_, err = c.GetView(4096, 200)
	assert.True(t, errors.Is(err, ErrIOFailure))
	assert.Equal(t, uint64(4096), c.window.off)
	assert.Equal(t, 100, c.window.n)

	src.readErr = nil
	seeks := src.seeks
	v, err := c.GetView(4100, 50)
	require.NoError(t, err)
	assert.Equal(t, data[4100:4150], v)
	assert.Equal(t, seeks, src.seeks)
}

func TestZeroLengthRequests(t *testing.T) {
	c, src := newTestCache(t, pattern(4096))

	// 头部区域: 有效长度已覆盖, 不产生读取.
	v, err := c.GetView(0, 0)
	require.NoError(t, err)
	assert.Len(t, v, 0)
	assert.Equal(t, 0, src.seeks)
	assert.True(t, c.front.allocated())

	// 窗口区域: 与其它请求走同一流程, 未覆盖时 seek 一次, 读取0字节即满足.
	v, err = c.GetView(3000, 0)
	require.NoError(t, err)
	assert.Len(t, v, 0)
	assert.Equal(t, 1, src.seeks)
	assert.Equal(t, uint64(3000), c.window.off)

	v, err = c.GetView(3000, 0)
	require.NoError(t, err)
	assert.Len(t, v, 0)
	assert.Equal(t, 1, src.seeks)

	// 数据源之外的零长度请求同样成功.
	_, err = c.GetView(1<<20, 0)
	require.NoError(t, err)
}
