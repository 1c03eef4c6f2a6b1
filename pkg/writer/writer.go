package writer

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"SMRecover/pkg/models"
)

// 可替换的落盘函数，测试用它模拟慢写入与底层错误。
var doWrite = writeNoClobber

// BoundedWriter 受限并发写入器：全局最多 N 个写入在途，
// 通过固定容量的许可通道做准入控制，超出的调用方阻塞等待空位。
type BoundedWriter struct {
	permits chan struct{}
	timeout time.Duration
}

// New 创建写入器。concurrency 是在途写入上限，timeout 是单次
// 写入的墙钟超时（从 Write 被调用起算，包含排队等待）。
func New(concurrency int, timeout time.Duration) *BoundedWriter {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BoundedWriter{
		permits: make(chan struct{}, concurrency),
		timeout: timeout,
	}
}

// Write 将 content 写入 path，目标已存在则返回 SkippedExists，
// 不覆盖（多次运行、多个 map 声明同一路径时保持先到先得）。
// 父目录链按需创建。超时后放弃本次尝试并归还许可；
// 已发出的底层写入不会被撤销，可能在超时之后仍然落盘，
// 这是沿用的已知竞态，调用方只依赖返回的结局计数。
func (w *BoundedWriter) Write(ctx context.Context, path string, content []byte) (models.WriteOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	// 准入：拿不到许可就一直等，直到超时。
	select {
	case w.permits <- struct{}{}:
	case <-ctx.Done():
		return models.SkippedTimeout, ctx.Err()
	}
	defer func() { <-w.permits }()

	type result struct {
		outcome models.WriteOutcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		o, err := doWrite(path, content)
		done <- result{o, err}
	}()

	select {
	case r := <-done:
		return r.outcome, r.err
	case <-ctx.Done():
		return models.SkippedTimeout, ctx.Err()
	}
}

// writeNoClobber 建父目录后以 O_EXCL 创建目标文件，
// 已存在视为冲突跳过而不是错误。
func writeNoClobber(path string, content []byte) (models.WriteOutcome, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return models.SkippedError, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return models.SkippedExists, nil
		}
		return models.SkippedError, err
	}

	_, werr := f.Write(content)
	cerr := f.Close()
	if werr != nil {
		// 写了一半的文件没有价值，尽力清掉。
		_ = os.Remove(path)
		return models.SkippedError, werr
	}
	if cerr != nil {
		return models.SkippedError, cerr
	}
	return models.Written, nil
}
