package scanner

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"SMRecover/pkg/extractor"
	"SMRecover/pkg/models"
	"SMRecover/pkg/ui"
	"SMRecover/pkg/writer"
)

// Scanner 驱动整个提取流程：枚举候选 map 文件，逐个顺序处理。
// map 文件之间不并行，写入层面的并发由 BoundedWriter 控制。
type Scanner struct {
	cfg       models.Config
	processor *extractor.Processor
	Reports   []*models.ExtractionReport
}

func New(cfg models.Config) *Scanner {
	w := writer.New(cfg.Concurrency, cfg.WriteTimeout)
	return &Scanner{
		cfg:       cfg,
		processor: extractor.NewProcessor(cfg, w),
	}
}

// SetProgress 设置进度回调，透传给处理器。
func (s *Scanner) SetProgress(fn func(processed, total int, current string)) {
	s.processor.OnProgress = fn
}

// Collect 枚举候选 map 文件并返回完整路径列表。
//
// 优先使用清单文件：目录下第一个（按文件名序）至少含有一行
// .js.map 条目的 .txt 文件（忽略空行与 # 注释行，条目相对工作
// 目录，一行一个）；清单里磁盘上不存在的条目丢弃并告警。
// 没有符合条件的清单时，回落到目录内全部 *.js.map 条目。
//
// 这是整个流程里唯一的致命错误来源：目录本身枚举失败。
func (s *Scanner) Collect() ([]string, error) {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("枚举目录 %s 失败: %w", s.cfg.Dir, err)
	}

	var maps, txts []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case strings.HasSuffix(name, models.MapSuffix):
			maps = append(maps, filepath.Join(s.cfg.Dir, name))
		case strings.HasSuffix(name, ".txt"):
			txts = append(txts, name)
		}
	}

	// os.ReadDir 已按文件名排序，第一个合格的清单生效。
	for _, t := range txts {
		list, ok := s.readListFile(filepath.Join(s.cfg.Dir, t))
		if !ok {
			continue
		}
		ui.PrintInfo("使用清单文件 %s（%d 个有效条目）", t, len(list))
		return list, nil
	}

	return maps, nil
}

// readListFile 读取一个候选清单。只有至少包含一行 .js.map 条目的
// 清单才算合格；合格清单即使全部条目都不存在也会被采用（此时无事可做）。
func (s *Scanner) readListFile(path string) ([]string, bool) {
	f, err := os.Open(path)
	if err != nil {
		ui.PrintWarning("读取清单 %s 失败: %v", path, err)
		return nil, false
	}
	defer f.Close()

	var candidates []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasSuffix(line, models.MapSuffix) {
			candidates = append(candidates, line)
		}
	}
	if err := sc.Err(); err != nil {
		ui.PrintWarning("读取清单 %s 失败: %v", path, err)
		return nil, false
	}
	if len(candidates) == 0 {
		return nil, false
	}

	var out []string
	for _, c := range candidates {
		full := filepath.Join(s.cfg.Dir, c)
		if _, err := os.Stat(full); err != nil {
			ui.PrintWarning("清单条目不存在，忽略: %s", c)
			continue
		}
		out = append(out, full)
	}
	return out, true
}

// Run 顺序处理 files，相邻文件之间停顿 FileDelay，
// 避免对磁盘形成突发压力。单个文件的任何失败不影响后续文件。
func (s *Scanner) Run(ctx context.Context, files []string) {
	for i, f := range files {
		if i > 0 && s.cfg.FileDelay > 0 {
			select {
			case <-time.After(s.cfg.FileDelay):
			case <-ctx.Done():
				return
			}
		}
		rep := s.processor.Process(ctx, f)
		s.Reports = append(s.Reports, rep)
	}
}

// Totals 汇总所有报告的计数。
func (s *Scanner) Totals() (processed, written, skipped int) {
	for _, r := range s.Reports {
		processed += r.Processed
		written += r.Written
		skipped += r.Skipped
	}
	return
}
