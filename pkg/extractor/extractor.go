package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/twmb/murmur3"

	"SMRecover/pkg/models"
	"SMRecover/pkg/sanitize"
	"SMRecover/pkg/ui"
	"SMRecover/pkg/writer"
)

// Processor 处理单个 map 文件：读取、解码、清洗路径、派发写入。
type Processor struct {
	cfg     models.Config
	writer  *writer.BoundedWriter
	secrets *SecretScanner // nil 表示关闭敏感信息扫描

	// OnProgress 每处理完一批 source 后回调一次（processed 单调不减）。
	OnProgress func(processed, total int, current string)
}

// NewProcessor 创建处理器，写入统一经过 w 的并发与超时控制。
func NewProcessor(cfg models.Config, w *writer.BoundedWriter) *Processor {
	p := &Processor{cfg: cfg, writer: w}
	if cfg.ScanSecrets {
		p.secrets = NewSecretScanner()
	}
	return p
}

// Process 处理一个 map 文件并返回提取报告。所有失败都收敛为
// 报告字段与日志，不向上抛出，保证后续 map 文件继续处理。
func (p *Processor) Process(ctx context.Context, mapPath string) *models.ExtractionReport {
	start := time.Now()
	rep := &models.ExtractionReport{MapFile: mapPath}
	defer func() { rep.Elapsed = time.Since(start).Round(time.Millisecond).String() }()

	info, err := os.Stat(mapPath)
	if err != nil {
		rep.Err = fmt.Sprintf("读取失败: %v", err)
		ui.PrintError("读取 %s 失败: %v", mapPath, err)
		return rep
	}
	// 病态大文件直接放弃，避免整个读进内存再解析。
	if info.Size() > p.cfg.MaxMapSize {
		rep.Err = fmt.Sprintf("map 文件超限（%d 字节）", info.Size())
		ui.PrintWarning("map 文件超限，跳过 %s（%d 字节 > %d）", mapPath, info.Size(), p.cfg.MaxMapSize)
		return rep
	}

	data, err := readFileTimeout(ctx, mapPath, p.cfg.ReadTimeout)
	if err != nil {
		rep.Err = fmt.Sprintf("读取失败: %v", err)
		ui.PrintError("读取 %s 失败: %v", mapPath, err)
		return rep
	}
	rep.Checksum = fingerprint(data)

	var doc models.SourceMapDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		rep.Err = fmt.Sprintf("解析失败: %v", err)
		ui.PrintError("解析 %s 失败: %v", mapPath, err)
		return rep
	}

	rep.Sources = len(doc.Sources)
	if rep.Sources == 0 {
		ui.PrintWarning("%s 不包含 sources，无可提取内容", mapPath)
		return rep
	}

	outDir := filepath.Join(p.cfg.Dir, p.cfg.OutputRoot, subdirName(mapPath))
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		rep.Err = fmt.Sprintf("创建输出目录失败: %v", err)
		ui.PrintError("创建输出目录 %s 失败: %v", outDir, err)
		return rep
	}
	rep.OutputDir = outDir

	p.extract(ctx, &doc, outDir, mapPath, rep)

	ui.PrintSuccess("%s: 共 %d 个 source，写入 %d，跳过 %d",
		filepath.Base(mapPath), rep.Processed, rep.Written, rep.Skipped)
	return rep
}

// extract 按声明顺序分批派发写入。同一批内的写入并发进行
// （再受写入器许可上限约束），批与批之间汇报一次进度，
// 单个写入的完成顺序不保证与声明顺序一致，只保证计数准确。
func (p *Processor) extract(ctx context.Context, doc *models.SourceMapDocument, outDir, mapPath string, rep *models.ExtractionReport) {
	pairs := doc.Pairs()
	batch := p.cfg.BatchSize
	if batch < 1 {
		batch = 1
	}

	var mu sync.Mutex
	for lo := 0; lo < pairs; lo += batch {
		hi := lo + batch
		if hi > pairs {
			hi = pairs
		}

		var wg sync.WaitGroup
		for i := lo; i < hi; i++ {
			src := doc.Sources[i]
			content, ok := doc.Content(i)
			if !ok || content == "" {
				// 无内容：计入 processed，既不算写入也不算跳过。
				mu.Lock()
				rep.Processed++
				mu.Unlock()
				continue
			}
			if int64(len(content)) > p.cfg.MaxContentSize {
				ui.PrintWarning("内容超限，跳过 %s（%d 字节 > %d）", src, len(content), p.cfg.MaxContentSize)
				mu.Lock()
				rep.Processed++
				rep.Skipped++
				rep.TooLarge++
				rep.Records = append(rep.Records, models.FileRecord{
					Source: src, Path: sanitize.Clean(src), Size: len(content), Outcome: models.SkippedTooLarge,
				})
				mu.Unlock()
				continue
			}

			wg.Add(1)
			go func(src, content string) {
				defer wg.Done()
				rec, finds := p.writeOne(ctx, outDir, src, content)
				mu.Lock()
				rep.Processed++
				switch rec.Outcome {
				case models.Written:
					rep.Written++
				case models.SkippedExists:
					rep.Skipped++
					rep.Collisions++
				case models.SkippedTimeout:
					rep.Skipped++
					rep.Timeouts++
				default:
					rep.Skipped++
					rep.Errors++
				}
				rep.Records = append(rep.Records, rec)
				rep.Findings = append(rep.Findings, finds...)
				mu.Unlock()
			}(src, content)
		}
		wg.Wait()

		if p.OnProgress != nil {
			mu.Lock()
			done := rep.Processed
			mu.Unlock()
			p.OnProgress(done, pairs, filepath.Base(mapPath))
		}
	}
}

// writeOne 清洗单个声明路径并写入，返回落盘记录与扫描发现。
func (p *Processor) writeOne(ctx context.Context, outDir, src, content string) (models.FileRecord, []models.Finding) {
	rec := models.FileRecord{Source: src, Size: len(content)}

	rel := sanitize.Clean(src)
	rec.Path = rel
	if rel == "" {
		ui.PrintWarning("声明路径为空，跳过: %q", src)
		rec.Outcome = models.SkippedError
		return rec, nil
	}

	target := filepath.Join(outDir, rel)
	// 清洗不折叠 ..，这里兜底拒绝写到输出子目录之外。
	if !within(outDir, target) {
		ui.PrintWarning("路径越出输出目录，拒绝写入: %s", src)
		rec.Outcome = models.SkippedError
		return rec, nil
	}

	outcome, err := p.writer.Write(ctx, target, []byte(content))
	rec.Outcome = outcome
	switch outcome {
	case models.SkippedExists:
		ui.PrintWarning("目标已存在，跳过: %s", rel)
	case models.SkippedTimeout:
		ui.PrintWarning("写入超时，放弃: %s", rel)
	case models.SkippedError:
		ui.PrintError("写入 %s 失败: %v", rel, err)
	}

	if outcome == models.Written && p.secrets != nil {
		return rec, p.secrets.Scan(rel, content)
	}
	return rec, nil
}

// subdirName 由 map 文件名去掉 .js.map 后缀得到输出子目录名。
func subdirName(mapPath string) string {
	base := filepath.Base(mapPath)
	if strings.HasSuffix(base, models.MapSuffix) {
		return strings.TrimSuffix(base, models.MapSuffix)
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// within 判断 target 是否仍位于 root 之内。
func within(root, target string) bool {
	rel, err := filepath.Rel(root, filepath.Clean(target))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// readFileTimeout 带超时地整读一个文件。超时后放弃等待，
// 底层读取由其自身的 goroutine 自行收尾。
func readFileTimeout(ctx context.Context, path string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		d, err := os.ReadFile(path)
		ch <- result{d, err}
	}()

	select {
	case r := <-ch:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fingerprint 计算 map 文件原始字节的 murmur3 指纹，
// 用于在导出结果里标识同一份 map。
func fingerprint(data []byte) string {
	h := murmur3.New32()
	_, _ = h.Write(data)
	return fmt.Sprintf("%08x", h.Sum32())
}
