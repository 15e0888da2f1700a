// Package title 提供片名归一化与模糊匹配（纯函数，无 I/O）。
package title

import (
	"regexp"
	"sort"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"github.com/John-Robertt/streamlux/internal/domain"
)

// MatchThreshold 是 Matches 的判定阈值（写死，不暴露配置）。
const MatchThreshold = 0.7

const containsScore = 0.8

var (
	yearRE    = regexp.MustCompile(`\([0-9]{4}\)`)
	nonWordRE = regexp.MustCompile(`[^a-z0-9\s]`)
	spaceRE   = regexp.MustCompile(`\s+`)
	qualityRE = regexp.MustCompile(`(?i)\b(HD|CAM|720p|1080p|MP4|3GP)\b`)
	seriesRE  = regexp.MustCompile(`(?i)series|tv|season|episode`)
)

// Normalize 把片名投影为仅用于比较的形态：小写、去掉 "(1999)"、去掉非字母数字、压缩空白。
// 结果有损，不能当作规范片名落盘。
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = yearRE.ReplaceAllString(s, "")
	s = nonWordRE.ReplaceAllString(s, "")
	s = spaceRE.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Similarity 返回 [0,1] 的相似度：
// - 归一化后相等 => 1.0
// - 任一方向包含 => 0.8
// - 否则 (maxLen - 编辑距离) / maxLen；maxLen==0 => 1.0
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return 1.0
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return containsScore
	}

	longer, shorter := []rune(na), []rune(nb)
	if len(shorter) > len(longer) {
		longer, shorter = shorter, longer
	}
	if len(longer) == 0 {
		return 1.0
	}
	d := levenshtein(longer, shorter)
	return float64(len(longer)-d) / float64(len(longer))
}

// Matches 判断抓取到的片名是否对应目录中的规范片名。
func Matches(scraped, canonical string) bool {
	return Similarity(scraped, canonical) >= MatchThreshold
}

// Levenshtein 计算编辑距离（插入/删除/替换代价均为 1）。
func Levenshtein(a, b string) int {
	return levenshtein([]rune(a), []rune(b))
}

// levenshtein 使用完整 DP 矩阵：m[i][j] 是 b[:i] 与 a[:j] 的距离。
func levenshtein(a, b []rune) int {
	m := make([][]int, len(b)+1)
	for i := range m {
		m[i] = make([]int, len(a)+1)
		m[i][0] = i
	}
	for j := 0; j <= len(a); j++ {
		m[0][j] = j
	}

	for i := 1; i <= len(b); i++ {
		for j := 1; j <= len(a); j++ {
			if b[i-1] == a[j-1] {
				m[i][j] = m[i-1][j-1]
				continue
			}
			m[i][j] = min(m[i-1][j-1]+1, m[i][j-1]+1, m[i-1][j]+1)
		}
	}
	return m[len(b)][len(a)]
}

// Clean 去掉年份与画质标记，用于拿抓取片名去外部目录检索。
func Clean(s string) string {
	s = yearRE.ReplaceAllString(s, "")
	s = qualityRE.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// LooksLikeSeries 根据分类或片名猜测是否为剧集。
func LooksLikeSeries(it domain.ScrapedItem) bool {
	if strings.EqualFold(it.Category, domain.CategorySeries) {
		return true
	}
	return seriesRE.MatchString(it.Category) || seriesRE.MatchString(it.Title)
}

// Rank 过滤出与 query 匹配的条目，并按相似度降序排列。
// 同分时用 Jaro-Winkler 打破平局（原始片名，大小写不敏感），仍相同则保持输入顺序。
func Rank(query string, items []domain.ScrapedItem) []domain.ScrapedItem {
	type scored struct {
		it  domain.ScrapedItem
		sim float64
		jw  float64
	}

	jw := metrics.NewJaroWinkler()
	jw.CaseSensitive = false

	kept := make([]scored, 0, len(items))
	for _, it := range items {
		sim := Similarity(it.Title, query)
		if sim < MatchThreshold {
			continue
		}
		kept = append(kept, scored{
			it:  it,
			sim: sim,
			jw:  strutil.Similarity(Clean(it.Title), Clean(query), jw),
		})
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].sim != kept[j].sim {
			return kept[i].sim > kept[j].sim
		}
		return kept[i].jw > kept[j].jw
	})

	out := make([]domain.ScrapedItem, 0, len(kept))
	for _, s := range kept {
		out = append(out, s.it)
	}
	return out
}

// Dedupe 去掉 (归一化片名, 来源) 重复的条目，保留首次出现。
func Dedupe(items []domain.ScrapedItem) []domain.ScrapedItem {
	type key struct {
		title  string
		source domain.Source
	}
	seen := make(map[key]struct{}, len(items))
	out := make([]domain.ScrapedItem, 0, len(items))
	for _, it := range items {
		k := key{title: Normalize(it.Title), source: it.Source}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, it)
	}
	return out
}
