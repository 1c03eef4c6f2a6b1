package fetcher

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"SMRecover/pkg/models"
	"SMRecover/pkg/ui"
)

// Fetcher 从目标页面出发收集 JS 资源，跟踪 sourceMappingURL 注释
// 与"同名 .map"约定，把发现的 .js.map 下载到本地目录，
// 供后续的本地提取流程处理。
type Fetcher struct {
	dir       string
	userAgent string
	timeout   time.Duration

	// 匹配 //# sourceMappingURL=xxx 注释
	mapURLRegex *regexp.Regexp
	// 启发式：JS 代码里被引用的 chunk 文件名
	chunkRegex *regexp.Regexp

	mu    sync.Mutex
	seen  map[string]struct{}
	saved []string
}

func New(dir string) *Fetcher {
	return &Fetcher{
		dir:         dir,
		userAgent:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		timeout:     15 * time.Second,
		mapURLRegex: regexp.MustCompile(`(?m)^//[#@]\s*sourceMappingURL=(.*)$`),
		chunkRegex:  regexp.MustCompile(`["']([A-Za-z0-9._/\-]+\.js)["']`),
		seen:        make(map[string]struct{}),
	}
}

// Fetch 抓取 pageURL，返回保存到本地的 map 文件名列表。
// 只有页面本身访问失败才返回错误；单个资源的失败只告警。
func (f *Fetcher) Fetch(pageURL string) ([]string, error) {
	c := colly.NewCollector(
		colly.Async(true),
		colly.MaxDepth(3),
		colly.IgnoreRobotsTxt(),
	)
	c.WithTransport(&http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	})
	c.SetRequestTimeout(f.timeout)
	_ = c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 5,
		RandomDelay: 100 * time.Millisecond,
	})

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", f.userAgent)
	})

	c.OnResponse(func(r *colly.Response) {
		u := r.Request.URL
		switch {
		case strings.HasSuffix(u.Path, ".map"):
			f.saveMap(filepath.Base(u.Path), r.Body)
		case strings.HasSuffix(u.Path, ".js"):
			f.followJS(r)
		default:
			f.followHTML(r)
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		// 对每个 JS 盲猜同名 .map，404 是常态，不刷屏。
		if r != nil && r.StatusCode == http.StatusNotFound {
			return
		}
		ui.PrintWarning("请求失败 %s: %v", r.Request.URL, err)
	})

	if err := c.Visit(pageURL); err != nil {
		return nil, fmt.Errorf("访问 %s 失败: %w", pageURL, err)
	}
	c.Wait()

	return f.saved, nil
}

// followHTML 解析 HTML，访问外链脚本，扫描内联脚本。
func (f *Fetcher) followHTML(r *colly.Response) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
	if err != nil {
		return
	}
	doc.Find("script").Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok && src != "" {
			_ = r.Request.Visit(src)
			return
		}
		f.scanScript(r.Request, sel.Text())
	})
}

// followJS 在 JS 响应体里找 sourceMappingURL，并盲猜同名 .map。
func (f *Fetcher) followJS(r *colly.Response) {
	f.scanScript(r.Request, string(r.Body))

	raw := r.Request.URL.String()
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	_ = r.Request.Visit(raw + ".map")
}

func (f *Fetcher) scanScript(req *colly.Request, body string) {
	if m := f.mapURLRegex.FindStringSubmatch(body); len(m) > 1 {
		target := strings.TrimSpace(m[1])
		if target != "" && !strings.HasPrefix(target, "data:") {
			_ = req.Visit(target)
		}
	}

	// chunk 文件名是启发式猜测，数量要设上限
	for _, m := range f.chunkRegex.FindAllStringSubmatch(body, 30) {
		_ = req.Visit(m[1] + ".map")
	}
}

// saveMap 把下载到的 map 落盘。只接受形似 source map 的 JSON，
// 文件名归一成 *.js.map，已存在的不覆盖。
func (f *Fetcher) saveMap(name string, body []byte) {
	if !bytes.Contains(body, []byte(`"sources"`)) {
		return
	}
	if !strings.HasSuffix(name, models.MapSuffix) {
		if !strings.HasSuffix(name, ".map") {
			return
		}
		name = strings.TrimSuffix(name, ".map") + models.MapSuffix
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.seen[name]; ok {
		return
	}
	f.seen[name] = struct{}{}

	path := filepath.Join(f.dir, name)
	fh, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			ui.PrintWarning("本地已存在，跳过下载: %s", name)
			return
		}
		ui.PrintError("保存 %s 失败: %v", name, err)
		return
	}
	_, werr := fh.Write(body)
	cerr := fh.Close()
	if werr != nil || cerr != nil {
		ui.PrintError("保存 %s 失败: %v", name, werr)
		_ = os.Remove(path)
		return
	}

	f.saved = append(f.saved, name)
	ui.PrintSuccess("已下载 %s（%d 字节）", name, len(body))
}
