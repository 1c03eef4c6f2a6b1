package extractor

import (
	"regexp"
	"strings"

	"github.com/dlclark/regexp2"

	"SMRecover/pkg/models"
)

// 单个源文件的匹配上限，防止被构造出的大量匹配拖垮报告。
const findingLimit = 20

// SecretScanner 在恢复出的源码中查找疑似敏感信息与 API 路径。
// 只做提示，不影响写入结果。
type SecretScanner struct {
	keyRegex         *regexp2.Regexp
	credRegex        *regexp2.Regexp
	jwtRegex         *regexp.Regexp
	privateKeyRegex  *regexp.Regexp
	githubTokenRegex *regexp.Regexp
	awsKeyRegex      *regexp.Regexp
	apiRegex         *regexp.Regexp
}

func NewSecretScanner() *SecretScanner {
	return &SecretScanner{
		keyRegex:  regexp2.MustCompile(`(?i)\b(?:api[_-]?key|access[_-]?key|secret[_-]?key|auth[_-]?key|app[_-]?key|private[_-]?key)\b\s*[:=]\s*["']?([A-Za-z0-9\-_]{16,})["']?`, 0),
		credRegex: regexp2.MustCompile(`(?i)\b(password|passwd|pwd|token|access_token|auth_token|refresh_token|bearer)\b\s*[:=]\s*["']([A-Za-z0-9._\-!@#$%^&*]{6,64})["']`, 0),

		jwtRegex:         regexp.MustCompile(`eyJ[0-9A-Za-z_-]+\.[0-9A-Za-z_-]+\.[0-9A-Za-z_-]+`),
		privateKeyRegex:  regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),
		githubTokenRegex: regexp.MustCompile(`(?:ghp|gho|ghu|ghs|ghr)_[A-Za-z0-9]{36,}`),
		awsKeyRegex:      regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
		apiRegex:         regexp.MustCompile(`["'](/(?:api|v\d+)/[A-Za-z0-9/_\-\.]+)["']`),
	}
}

// Scan 扫描 body，source 是该内容落盘的相对路径（用于定位）。
func (s *SecretScanner) Scan(source, body string) []models.Finding {
	var out []models.Finding

	add := func(kind string, matches []string) {
		for _, m := range unique(matches) {
			if len(out) >= findingLimit {
				return
			}
			out = append(out, models.Finding{Kind: kind, Match: truncate(m, 80), Source: source})
		}
	}

	add("key", s.regexp2Matches(s.keyRegex, body))
	add("credential", s.regexp2Matches(s.credRegex, body))
	add("jwt", s.jwtRegex.FindAllString(body, findingLimit))
	add("private_key", s.privateKeyRegex.FindAllString(body, 5))
	add("github_token", s.githubTokenRegex.FindAllString(body, findingLimit))
	add("aws_key", s.awsKeyRegex.FindAllString(body, findingLimit))
	add("api", submatches(s.apiRegex, body, findingLimit))

	return out
}

// regexp2Matches 遍历 regexp2 的匹配结果（regexp2 没有 FindAll 族接口）。
func (s *SecretScanner) regexp2Matches(re *regexp2.Regexp, body string) []string {
	var results []string
	m, err := re.FindStringMatch(body)
	for err == nil && m != nil && len(results) < findingLimit {
		results = append(results, m.String())
		m, err = re.FindNextMatch(m)
	}
	return results
}

func submatches(re *regexp.Regexp, body string, limit int) []string {
	var results []string
	for _, m := range re.FindAllStringSubmatch(body, limit) {
		if len(m) > 1 {
			results = append(results, m[1])
		}
	}
	return results
}

func unique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
