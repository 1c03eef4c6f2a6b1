package sanitize

import "strings"

// webpack 路径里对文件系统不友好的字符，统一替换为下划线。
var invalidChars = strings.NewReplacer(
	"<", "_",
	">", "_",
	":", "_",
	`"`, "_",
	"|", "_",
	"?", "_",
	"*", "_",
)

// Clean 把 source map 中声明的原始路径整理成可以安全拼接到
// 输出目录下的相对路径。规则按顺序应用：
//
//  1. 剥掉开头的 webpack:// 协议前缀
//  2. 剥掉一层开头的 / 与 ./
//  3. 去掉第一个 ? 起的查询后缀
//  4. 反斜杠归一为 /
//  5. 以 / 结尾的目录路径补 index.js
//  6. 整串不含 . 的补 .js 扩展名
//  7. < > : " | ? * 替换为 _
//
// 这里不折叠 .. 片段，目录逃逸由提取侧的 containment 检查兜底。
// 对自身输出是幂等的：Clean(Clean(p)) == Clean(p)。
func Clean(p string) string {
	p = strings.TrimPrefix(p, "webpack://")
	p = strings.TrimPrefix(p, "/")
	p = strings.TrimPrefix(p, "./")

	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	p = strings.ReplaceAll(p, "\\", "/")

	if p == "" {
		return ""
	}
	if strings.HasSuffix(p, "/") {
		p += "index.js"
	}
	if !strings.Contains(p, ".") {
		p += ".js"
	}
	return invalidChars.Replace(p)
}
