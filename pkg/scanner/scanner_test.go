package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SMRecover/pkg/models"
)

func testConfig(dir string) models.Config {
	cfg := models.DefaultConfig()
	cfg.Dir = dir
	cfg.FileDelay = 0
	cfg.ScanSecrets = false
	return cfg
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

const validMap = `{"version":3,"sources":["a.js"],"sourcesContent":["console.log(1)"]}`

func TestCollectMapsInDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.js.map", validMap)
	writeFile(t, dir, "a.js.map", validMap)
	writeFile(t, dir, "c.js", "not a map")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.js.map"), 0o755)) // 目录不算

	files, err := New(testConfig(dir)).Collect()
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(dir, "a.js.map"),
		filepath.Join(dir, "b.js.map"),
	}, files)
}

func TestCollectListOverride(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "real.js.map", validMap)
	writeFile(t, dir, "other.js.map", validMap)
	writeFile(t, dir, "list.txt", `# 注释行

real.js.map
missing.js.map
not-a-map.js
`)

	files, err := New(testConfig(dir)).Collect()
	require.NoError(t, err)

	// 清单生效：目录里的 other.js.map 不参与，缺失条目被丢弃
	assert.Equal(t, []string{filepath.Join(dir, "real.js.map")}, files)
}

func TestCollectTxtWithoutMapLinesFallsBack(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.js.map", validMap)
	writeFile(t, dir, "notes.txt", "随便写点什么\n# 注释\n")

	files, err := New(testConfig(dir)).Collect()
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(dir, "a.js.map")}, files)
}

func TestCollectEnumerationFailure(t *testing.T) {
	cfg := testConfig(filepath.Join(t.TempDir(), "does-not-exist"))
	_, err := New(cfg).Collect()
	assert.Error(t, err)
}

func TestRunContinuesAfterBadFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "1-bad.js.map", "{{{ not json")
	writeFile(t, dir, "2-good.js.map", validMap)

	s := New(testConfig(dir))
	files, err := s.Collect()
	require.NoError(t, err)
	require.Len(t, files, 2)

	s.Run(context.Background(), files)

	require.Len(t, s.Reports, 2)
	assert.NotEmpty(t, s.Reports[0].Err, "坏文件记录解析错误")
	assert.Equal(t, 1, s.Reports[1].Written, "坏文件不影响后续文件")

	data, err := os.ReadFile(filepath.Join(dir, models.OutputRootName, "2-good", "a.js"))
	require.NoError(t, err)
	assert.Equal(t, "console.log(1)", string(data))
}

func TestTotals(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.js.map", validMap)
	writeFile(t, dir, "b.js.map", `{"sources":["x.js","y.js"],"sourcesContent":["1",null]}`)

	s := New(testConfig(dir))
	files, err := s.Collect()
	require.NoError(t, err)
	s.Run(context.Background(), files)

	processed, written, skipped := s.Totals()
	assert.Equal(t, 3, processed)
	assert.Equal(t, 2, written)
	assert.Equal(t, 0, skipped)
}
