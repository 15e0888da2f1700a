package domain

import "strings"

// Source 是抓取来源的闭合枚举；新增站点必须在这里登记。
type Source string

const (
	SourceNetNaija   Source = "NetNaija"
	SourceFzMovies   Source = "FzMovies"
	SourceO2TvSeries Source = "O2TvSeries"
	SourceToxicWap   Source = "ToxicWap"
	SourceYTS        Source = "YTS"
	SourceWaploaded  Source = "Waploaded"
	SourceCoolMovieZ Source = "CoolMovieZ"
	SourceMP4Mania   Source = "MP4Mania"
	SourceGoojara    Source = "Goojara"
	SourceSFlix      Source = "SFlix"
	SourceGogoAnime  Source = "GogoAnime"
	SourceDramacool  Source = "Dramacool"
	SourceOkRu       Source = "OK.ru"
)

var knownSources = []Source{
	SourceNetNaija, SourceFzMovies, SourceO2TvSeries, SourceToxicWap, SourceYTS,
	SourceWaploaded, SourceCoolMovieZ, SourceMP4Mania, SourceGoojara, SourceSFlix,
	SourceGogoAnime, SourceDramacool, SourceOkRu,
}

// ParseSource 按名称（大小写不敏感）查找 Source。
func ParseSource(s string) (Source, bool) {
	s = strings.TrimSpace(s)
	for _, k := range knownSources {
		if strings.EqualFold(string(k), s) {
			return k, true
		}
	}
	return "", false
}

const (
	CategoryMovie  = "Movie"
	CategorySeries = "Series"
)

// ScrapedItem 是所有 provider 在自身边界上归一化后的唯一结果形态。
//
// 约束：
// - 创建后不可变（聚合、合并都只复制，不修改）
// - 同一来源内保持插入顺序；跨来源只保证注册顺序
// - Title/URL/Source 必填；其余字段缺失时为空（JSON 中省略）
type ScrapedItem struct {
	Title    string  `json:"title"`
	URL      string  `json:"url"`
	Source   Source  `json:"source"`
	Category string  `json:"category,omitempty"`
	Quality  string  `json:"quality,omitempty"`
	Date     string  `json:"date,omitempty"`
	Year     int     `json:"year,omitempty"`
	Rating   float64 `json:"rating,omitempty"`
}

// Valid 只检查必填字段。
func (it ScrapedItem) Valid() bool {
	return strings.TrimSpace(it.Title) != "" && strings.TrimSpace(it.URL) != "" && it.Source != ""
}
