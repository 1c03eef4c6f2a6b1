package extractor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SMRecover/pkg/models"
	"SMRecover/pkg/writer"
)

func testConfig(dir string) models.Config {
	cfg := models.DefaultConfig()
	cfg.Dir = dir
	cfg.FileDelay = 0
	cfg.ScanSecrets = false
	return cfg
}

func newTestProcessor(cfg models.Config) *Processor {
	return NewProcessor(cfg, writer.New(cfg.Concurrency, cfg.WriteTimeout))
}

func writeMapFile(t *testing.T, dir, name string, doc any) string {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestProcessBasic(t *testing.T) {
	dir := t.TempDir()
	mapPath := writeMapFile(t, dir, "app.js.map", map[string]any{
		"version":        3,
		"sources":        []string{"a.js", "b.js"},
		"sourcesContent": []any{"console.log(1)", nil},
		"mappings":       "AAAA",
	})

	rep := newTestProcessor(testConfig(dir)).Process(context.Background(), mapPath)

	assert.Equal(t, 2, rep.Sources)
	assert.Equal(t, 2, rep.Processed)
	assert.Equal(t, 1, rep.Written)
	assert.Equal(t, 0, rep.Skipped)
	assert.NotEmpty(t, rep.Checksum)

	data, err := os.ReadFile(filepath.Join(dir, models.OutputRootName, "app", "a.js"))
	require.NoError(t, err)
	assert.Equal(t, "console.log(1)", string(data))

	// b.js 内容缺失，不应存在
	_, err = os.Stat(filepath.Join(dir, models.OutputRootName, "app", "b.js"))
	assert.True(t, os.IsNotExist(err))
}

func TestProcessRerunNoClobber(t *testing.T) {
	dir := t.TempDir()
	mapPath := writeMapFile(t, dir, "app.js.map", map[string]any{
		"sources":        []string{"a.js"},
		"sourcesContent": []any{"first run"},
	})
	p := newTestProcessor(testConfig(dir))

	first := p.Process(context.Background(), mapPath)
	assert.Equal(t, 1, first.Written)

	second := p.Process(context.Background(), mapPath)
	assert.Equal(t, 0, second.Written)
	assert.Equal(t, 1, second.Skipped)
	assert.Equal(t, 1, second.Collisions)

	// 第二次运行不得改动已有内容
	data, err := os.ReadFile(filepath.Join(dir, models.OutputRootName, "app", "a.js"))
	require.NoError(t, err)
	assert.Equal(t, "first run", string(data))
}

func TestProcessMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	mapPath := filepath.Join(dir, "bad.js.map")
	require.NoError(t, os.WriteFile(mapPath, []byte("{not json!!"), 0o644))

	rep := newTestProcessor(testConfig(dir)).Process(context.Background(), mapPath)

	assert.NotEmpty(t, rep.Err)
	assert.Equal(t, 0, rep.Written)
	assert.Equal(t, 0, rep.Processed)
}

func TestProcessNoSources(t *testing.T) {
	dir := t.TempDir()
	mapPath := writeMapFile(t, dir, "empty.js.map", map[string]any{
		"version":  3,
		"mappings": "AAAA",
	})

	rep := newTestProcessor(testConfig(dir)).Process(context.Background(), mapPath)

	assert.Empty(t, rep.Err)
	assert.Equal(t, 0, rep.Sources)
	assert.Equal(t, 0, rep.Processed)
	assert.Equal(t, 0, rep.Written)
}

func TestProcessOversizedContent(t *testing.T) {
	dir := t.TempDir()
	mapPath := writeMapFile(t, dir, "big.js.map", map[string]any{
		"sources":        []string{"big.js"},
		"sourcesContent": []any{"0123456789ABCDEF"},
	})

	cfg := testConfig(dir)
	cfg.MaxContentSize = 8
	rep := newTestProcessor(cfg).Process(context.Background(), mapPath)

	assert.Equal(t, 1, rep.Processed)
	assert.Equal(t, 0, rep.Written)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, 1, rep.TooLarge)

	_, err := os.Stat(filepath.Join(dir, models.OutputRootName, "big", "big.js"))
	assert.True(t, os.IsNotExist(err), "超限内容无论并发配置如何都不得落盘")
}

func TestProcessOversizedMapFile(t *testing.T) {
	dir := t.TempDir()
	mapPath := writeMapFile(t, dir, "huge.js.map", map[string]any{
		"sources":        []string{"a.js"},
		"sourcesContent": []any{"x"},
	})

	cfg := testConfig(dir)
	cfg.MaxMapSize = 4
	rep := newTestProcessor(cfg).Process(context.Background(), mapPath)

	assert.NotEmpty(t, rep.Err)
	assert.Equal(t, 0, rep.Written)
}

func TestProcessRefusesPathEscape(t *testing.T) {
	dir := t.TempDir()
	mapPath := writeMapFile(t, dir, "evil.js.map", map[string]any{
		"sources":        []string{"../../evil"},
		"sourcesContent": []any{"malicious"},
	})

	rep := newTestProcessor(testConfig(dir)).Process(context.Background(), mapPath)

	assert.Equal(t, 1, rep.Processed)
	assert.Equal(t, 0, rep.Written)
	assert.Equal(t, 1, rep.Errors)

	// 输出子目录之外不得出现任何文件
	_, err := os.Stat(filepath.Join(dir, "evil"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, models.OutputRootName, "evil"))
	assert.True(t, os.IsNotExist(err))
}

func TestProcessMinPairing(t *testing.T) {
	dir := t.TempDir()
	mapPath := writeMapFile(t, dir, "short.js.map", map[string]any{
		"sources":        []string{"a.js", "b.js", "c.js"},
		"sourcesContent": []any{"only one"},
	})

	rep := newTestProcessor(testConfig(dir)).Process(context.Background(), mapPath)

	assert.Equal(t, 3, rep.Sources)
	assert.Equal(t, 1, rep.Processed, "只处理 min(sources, sourcesContent) 对")
	assert.Equal(t, 1, rep.Written)
}

func TestProcessNonStringContent(t *testing.T) {
	dir := t.TempDir()
	mapPath := writeMapFile(t, dir, "mixed.js.map", map[string]any{
		"sources":        []string{"a.js", "b.js", "c.js"},
		"sourcesContent": []any{123, true, "ok"},
	})

	rep := newTestProcessor(testConfig(dir)).Process(context.Background(), mapPath)

	assert.Equal(t, 3, rep.Processed)
	assert.Equal(t, 1, rep.Written)
	assert.Equal(t, 0, rep.Skipped)
	// 不变式：processed == written + skipped + 无内容对
	assert.Equal(t, rep.Processed, rep.Written+rep.Skipped+2)
}

func TestProcessWebpackPaths(t *testing.T) {
	dir := t.TempDir()
	mapPath := writeMapFile(t, dir, "bundle.js.map", map[string]any{
		"sources":        []string{"webpack:///./src/components/Header.jsx?1234"},
		"sourcesContent": []any{"export default 1"},
	})

	rep := newTestProcessor(testConfig(dir)).Process(context.Background(), mapPath)
	assert.Equal(t, 1, rep.Written)

	data, err := os.ReadFile(filepath.Join(dir, models.OutputRootName, "bundle", "src", "components", "Header.jsx"))
	require.NoError(t, err)
	assert.Equal(t, "export default 1", string(data))
}

func TestProcessProgressMonotone(t *testing.T) {
	dir := t.TempDir()
	sources := make([]string, 25)
	contents := make([]any, 25)
	for i := range sources {
		sources[i] = filepath.Join("pkg", "file"+string(rune('a'+i))+".js")
		contents[i] = "var x = 1"
	}
	mapPath := writeMapFile(t, dir, "many.js.map", map[string]any{
		"sources":        sources,
		"sourcesContent": contents,
	})

	cfg := testConfig(dir)
	cfg.BatchSize = 10
	p := newTestProcessor(cfg)

	var seen []int
	p.OnProgress = func(processed, total int, current string) {
		assert.Equal(t, 25, total)
		seen = append(seen, processed)
	}

	rep := p.Process(context.Background(), mapPath)
	assert.Equal(t, 25, rep.Written)

	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1], "进度必须单调不减")
	}
	assert.Equal(t, 25, seen[len(seen)-1])
}

func TestSubdirName(t *testing.T) {
	assert.Equal(t, "app", subdirName(filepath.Join("x", "app.js.map")))
	assert.Equal(t, "main.min", subdirName("main.min.js.map"))
	assert.Equal(t, "odd", subdirName("odd.map"))
}

func TestFingerprint(t *testing.T) {
	a := fingerprint([]byte("hello"))
	b := fingerprint([]byte("hello"))
	c := fingerprint([]byte("world"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 8)
}

func TestReadFileTimeout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.js.map")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	data, err := readFileTimeout(context.Background(), path, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	_, err = readFileTimeout(context.Background(), filepath.Join(dir, "nope"), time.Second)
	assert.Error(t, err)
}
