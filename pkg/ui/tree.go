package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/disiqueira/gotree/v3"

	"SMRecover/pkg/models"
)

// PrintTree 以树形展示一次提取中成功写入的文件。
func PrintTree(root string, records []models.FileRecord) {
	var paths []string
	for _, r := range records {
		if r.Outcome == models.Written && r.Path != "" {
			paths = append(paths, r.Path)
		}
	}
	if len(paths) == 0 {
		return
	}
	sort.Strings(paths)

	t := gotree.New(root)
	dirs := map[string]gotree.Tree{}
	for _, p := range paths {
		parts := strings.Split(p, "/")
		parent := t
		prefix := ""
		for i, part := range parts {
			if i == len(parts)-1 {
				parent.Add(part)
				break
			}
			prefix += part + "/"
			node, ok := dirs[prefix]
			if !ok {
				node = parent.Add(part)
				dirs[prefix] = node
			}
			parent = node
		}
	}
	fmt.Print(t.Print())
}
