package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"SMRecover/pkg/fetcher"
	"SMRecover/pkg/models"
	"SMRecover/pkg/scanner"
	"SMRecover/pkg/ui"
)

var (
	workDir      string
	concurrency  int
	writeTimeout int
	readTimeout  int
	maxSourceMiB int64
	maxMapMiB    int64
	delayMS      int
	batchSize    int
	outputFile   string
	saveFile     string
	showTree     bool
	scanSecrets  bool
	fetchURL     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "smrecover",
		Short: "SMRecover - 从 source map 恢复前端源码",
		Long: `SMRecover 扫描目录下的 .js.map 文件，解析其中内嵌的 sourcesContent，
把原始源码按声明路径还原成镜像目录树（输出到 src-recovered/）。
目录下若存在包含 .js.map 条目的 .txt 清单，则优先按清单处理。`,
		Run: runExtract,
	}

	rootCmd.Flags().StringVarP(&workDir, "dir", "d", ".", "工作目录 (默认: 当前目录)")
	rootCmd.Flags().IntVarP(&concurrency, "concurrency", "c", 5, "并发写入数 (默认: 5)")
	rootCmd.Flags().IntVar(&writeTimeout, "write-timeout", 10, "单次写入超时（秒）")
	rootCmd.Flags().IntVar(&readTimeout, "read-timeout", 30, "读取 map 文件超时（秒）")
	rootCmd.Flags().Int64Var(&maxSourceMiB, "max-source", 1, "单个源文件大小上限（MiB）")
	rootCmd.Flags().Int64Var(&maxMapMiB, "max-map", 50, "map 文件大小上限（MiB）")
	rootCmd.Flags().IntVar(&delayMS, "delay", 100, "相邻 map 文件之间的停顿（毫秒）")
	rootCmd.Flags().IntVar(&batchSize, "batch", 10, "每批派发的写入数")
	rootCmd.Flags().StringVarP(&outputFile, "output", "o", "", "输出报告文件 (支持 json, csv) - 覆盖模式")
	rootCmd.Flags().StringVarP(&saveFile, "save", "s", "", "保存报告文件 (支持 json, csv) - 追加模式")
	rootCmd.Flags().BoolVarP(&showTree, "tree", "t", false, "提取完成后以树形展示恢复的文件")
	rootCmd.Flags().BoolVar(&scanSecrets, "secrets", true, "对恢复出的源码做敏感信息扫描")

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "抓取页面引用的 source map 下载到本地并提取",
		Run:   runFetch,
	}
	fetchCmd.Flags().StringVarP(&fetchURL, "url", "u", "", "目标页面 URL")
	fetchCmd.Flags().StringVarP(&workDir, "dir", "d", ".", "下载目录 (默认: 当前目录)")
	_ = fetchCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(fetchCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func buildConfig() models.Config {
	cfg := models.DefaultConfig()
	cfg.Dir = workDir
	cfg.Concurrency = concurrency
	cfg.WriteTimeout = time.Duration(writeTimeout) * time.Second
	cfg.ReadTimeout = time.Duration(readTimeout) * time.Second
	cfg.MaxContentSize = maxSourceMiB << 20
	cfg.MaxMapSize = maxMapMiB << 20
	cfg.FileDelay = time.Duration(delayMS) * time.Millisecond
	cfg.BatchSize = batchSize
	cfg.ScanSecrets = scanSecrets
	return cfg
}

func runExtract(cmd *cobra.Command, args []string) {
	ui.PrintBanner()
	extract()
}

func runFetch(cmd *cobra.Command, args []string) {
	ui.PrintBanner()
	ui.PrintInfo("开始抓取: %s", fetchURL)

	f := fetcher.New(workDir)
	saved, err := f.Fetch(fetchURL)
	if err != nil {
		ui.PrintError("%v", err)
		os.Exit(1)
	}
	if len(saved) == 0 {
		ui.PrintWarning("没有发现可下载的 source map")
		return
	}
	ui.PrintSuccess("共下载 %d 个 map 文件，开始提取", len(saved))
	extract()
}

func extract() {
	cfg := buildConfig()
	s := scanner.New(cfg)

	files, err := s.Collect()
	if err != nil {
		ui.PrintError("%v", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		ui.PrintInfo("目录下没有发现 %s 文件", models.MapSuffix)
		return
	}

	ui.PrintInfo("共 %d 个 map 文件，输出目录: %s", len(files), filepath.Join(cfg.Dir, cfg.OutputRoot))

	progress := ui.NewProgress(0)
	s.SetProgress(func(done, total int, current string) {
		progress.SetTotal(total)
		progress.Update(done, current)
	})

	start := time.Now()
	s.Run(context.Background(), files)
	progress.Stop()

	ui.PrintSuccess("提取完成，耗时: %s", time.Since(start).Round(time.Millisecond))

	printTable(s.Reports)

	if showTree {
		for _, r := range s.Reports {
			if r.Written == 0 {
				continue
			}
			ui.PrintSection(filepath.Base(r.MapFile))
			ui.PrintTree(filepath.Base(r.OutputDir), r.Records)
		}
	}

	processed, written, skipped := s.Totals()
	ui.PrintSuccess("全部完成: processed=%d written=%d skipped=%d", processed, written, skipped)

	if outputFile != "" {
		exportReports(s.Reports, outputFile, false)
	}
	if saveFile != "" {
		exportReports(s.Reports, saveFile, true)
	}
}

func printTable(reports []*models.ExtractionReport) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Map 文件", "来源", "写入", "跳过", "敏感信息", "耗时"})
	table.SetAutoWrapText(true)
	table.SetRowLine(true)
	table.SetColWidth(40)

	for _, r := range reports {
		skipStr := fmt.Sprintf("%d", r.Skipped)
		if r.Skipped > 0 {
			skipStr = fmt.Sprintf("%d\n冲突:%d 超大:%d\n超时:%d 错误:%d",
				r.Skipped, r.Collisions, r.TooLarge, r.Timeouts, r.Errors)
		}
		if r.Err != "" {
			skipStr = r.Err
		}

		table.Append([]string{
			filepath.Base(r.MapFile),
			fmt.Sprintf("%d", r.Sources),
			fmt.Sprintf("%d", r.Written),
			skipStr,
			formatFindings(r.Findings),
			r.Elapsed,
		})
	}
	table.Render()
}

// formatFindings 把发现按类别聚合成 "kind:count" 摘要。
func formatFindings(findings []models.Finding) string {
	if len(findings) == 0 {
		return "-"
	}
	counts := map[string]int{}
	var order []string
	for _, f := range findings {
		if _, ok := counts[f.Kind]; !ok {
			order = append(order, f.Kind)
		}
		counts[f.Kind]++
	}
	var parts []string
	for _, k := range order {
		parts = append(parts, fmt.Sprintf("%s:%d", k, counts[k]))
	}
	return strings.Join(parts, "\n")
}

func exportReports(reports []*models.ExtractionReport, filename string, appendMode bool) {
	if strings.HasSuffix(filename, ".csv") {
		saveCSV(reports, filename, appendMode)
	} else {
		// 默认为 JSON
		saveJSON(reports, filename, appendMode)
	}
}

func saveJSON(reports []*models.ExtractionReport, filename string, appendMode bool) {
	var out []*models.ExtractionReport

	// 追加模式先读取现有文件
	if appendMode {
		if data, err := os.ReadFile(filename); err == nil && len(data) > 0 {
			var existing []*models.ExtractionReport
			if err := json.Unmarshal(data, &existing); err != nil {
				ui.PrintWarning("无法解析现有文件 %s（可能不是有效的 JSON 数组），将覆盖", filename)
			} else {
				out = append(out, existing...)
			}
		}
	}
	out = append(out, reports...)

	file, err := os.Create(filename)
	if err != nil {
		ui.PrintError("创建输出文件失败: %v", err)
		return
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(out); err != nil {
		ui.PrintError("写入 JSON 失败: %v", err)
		return
	}
	if appendMode {
		ui.PrintSuccess("报告已追加至: %s", filename)
	} else {
		ui.PrintSuccess("报告已保存至: %s", filename)
	}
}

func saveCSV(reports []*models.ExtractionReport, filename string, appendMode bool) {
	fileExists := false
	if _, err := os.Stat(filename); err == nil {
		fileExists = true
	}

	flags := os.O_RDWR | os.O_CREATE | os.O_TRUNC
	if appendMode {
		flags = os.O_RDWR | os.O_CREATE | os.O_APPEND
	}

	file, err := os.OpenFile(filename, flags, 0o644)
	if err != nil {
		ui.PrintError("打开 CSV 文件失败: %v", err)
		return
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()

	if !appendMode || !fileExists {
		_ = w.Write([]string{
			"MapFile", "Checksum", "Sources", "Processed", "Written", "Skipped",
			"Collisions", "TooLarge", "Timeouts", "Errors", "Findings", "Elapsed", "Error",
		})
	}

	for _, r := range reports {
		var findings []string
		for _, f := range r.Findings {
			findings = append(findings, fmt.Sprintf("[%s]%s", f.Kind, f.Match))
		}
		_ = w.Write([]string{
			r.MapFile,
			r.Checksum,
			fmt.Sprintf("%d", r.Sources),
			fmt.Sprintf("%d", r.Processed),
			fmt.Sprintf("%d", r.Written),
			fmt.Sprintf("%d", r.Skipped),
			fmt.Sprintf("%d", r.Collisions),
			fmt.Sprintf("%d", r.TooLarge),
			fmt.Sprintf("%d", r.Timeouts),
			fmt.Sprintf("%d", r.Errors),
			strings.Join(findings, "|"),
			r.Elapsed,
			r.Err,
		})
	}

	if appendMode {
		ui.PrintSuccess("报告已追加至 CSV: %s", filename)
	} else {
		ui.PrintSuccess("报告已保存至 CSV: %s", filename)
	}
}
