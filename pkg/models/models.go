package models

import (
	"encoding/json"
	"time"
)

// OutputRootName 恢复文件的根目录名（位于工作目录下）。
const OutputRootName = "src-recovered"

// MapSuffix source map 文件的后缀。
const MapSuffix = ".js.map"

// Config 提取流程的运行配置。
// 并发上限、超时、大小限制统一通过该结构体传入各组件，
// 不使用包级可变常量，便于测试覆盖不同配置。
type Config struct {
	Dir            string        // 工作目录
	OutputRoot     string        // 输出根目录名（相对 Dir）
	Concurrency    int           // 同时在途的写入数上限
	WriteTimeout   time.Duration // 单次写入的墙钟超时（从发起写入起算，含排队）
	ReadTimeout    time.Duration // 读取 map 文件的超时
	MaxContentSize int64         // 单个源文件内容的大小上限
	MaxMapSize     int64         // map 文件本体的大小上限
	FileDelay      time.Duration // 相邻 map 文件之间的停顿
	BatchSize      int           // 每批派发的写入数，也是进度汇报的间隔
	ScanSecrets    bool          // 是否对恢复出的源码做敏感信息扫描
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		Dir:            ".",
		OutputRoot:     OutputRootName,
		Concurrency:    5,
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    30 * time.Second,
		MaxContentSize: 1 << 20,  // 1 MiB
		MaxMapSize:     50 << 20, // 50 MiB
		FileDelay:      100 * time.Millisecond,
		BatchSize:      10,
		ScanSecrets:    true,
	}
}

// WriteOutcome 单次写入尝试的结局。每个具有非空字符串内容的
// source/content 对恰好产生一个结局。
type WriteOutcome int

const (
	Written WriteOutcome = iota
	SkippedExists
	SkippedTooLarge
	SkippedTimeout
	SkippedError
)

func (o WriteOutcome) String() string {
	switch o {
	case Written:
		return "written"
	case SkippedExists:
		return "skipped_exists"
	case SkippedTooLarge:
		return "skipped_too_large"
	case SkippedTimeout:
		return "skipped_timeout"
	default:
		return "skipped_error"
	}
}

func (o WriteOutcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// SourceMapDocument 只消费 sources / sourcesContent 两个顶层字段，
// 其余字段（version、file、mappings、names、sourceRoot 等）一律忽略。
// sourcesContent 的条目可能是 null 或非字符串，统一视为"无内容"。
type SourceMapDocument struct {
	Sources        []string `json:"sources"`
	SourcesContent []any    `json:"sourcesContent"`
}

// Pairs 返回参与处理的对数，两个数组取短的一侧，越界下标忽略。
func (d *SourceMapDocument) Pairs() int {
	n := len(d.Sources)
	if len(d.SourcesContent) < n {
		n = len(d.SourcesContent)
	}
	return n
}

// Content 返回第 i 对的内容字符串；缺失或非字符串时 ok 为 false。
func (d *SourceMapDocument) Content(i int) (string, bool) {
	if i < 0 || i >= len(d.SourcesContent) {
		return "", false
	}
	s, ok := d.SourcesContent[i].(string)
	return s, ok
}

// FileRecord 一条落盘记录，用于导出与树形展示。
type FileRecord struct {
	Source  string       `json:"source"` // map 中声明的原始路径
	Path    string       `json:"path"`   // 清洗后相对输出子目录的路径
	Size    int          `json:"size"`
	Outcome WriteOutcome `json:"outcome"`
}

// Finding 在恢复出的源码中发现的疑似敏感信息。
type Finding struct {
	Kind   string `json:"kind"`
	Match  string `json:"match"`
	Source string `json:"source"` // 所在源文件（清洗后的相对路径）
}

// ExtractionReport 单个 map 文件的提取结果。
// 不变式：Written + Skipped <= Processed <= Sources。
type ExtractionReport struct {
	MapFile    string       `json:"map_file"`
	OutputDir  string       `json:"output_dir,omitempty"`
	Checksum   string       `json:"checksum,omitempty"` // map 文件原始字节的 murmur3 指纹
	Sources    int          `json:"sources"`
	Processed  int          `json:"processed"`
	Written    int          `json:"written"`
	Skipped    int          `json:"skipped"`
	Collisions int          `json:"collisions"` // 目标已存在（不覆盖策略）
	TooLarge   int          `json:"too_large"`
	Timeouts   int          `json:"timeouts"`
	Errors     int          `json:"errors"`
	Findings   []Finding    `json:"findings,omitempty"`
	Records    []FileRecord `json:"files,omitempty"`
	Err        string       `json:"error,omitempty"` // 文件级失败原因（读取/解析失败等）
	Elapsed    string       `json:"elapsed,omitempty"`
}
