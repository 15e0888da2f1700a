package cards

import (
	"regexp"

	"github.com/John-Robertt/streamlux/internal/domain"
)

func ToxicWap() Provider {
	return New(Rules{
		Source:   domain.SourceToxicWap,
		BaseURL:  "https://newtoxic.com",
		Card:     "article, .post, .item",
		Title:    "h2 a, h3 a, .title a",
		Category: ".category, .cat",
		Quality:  regexp.MustCompile(`(?i)(720p|1080p|HD|CAM)`),
	})
}

func Waploaded() Provider {
	return New(Rules{
		Source:   domain.SourceWaploaded,
		BaseURL:  "https://waploaded.com",
		Path:     "/category/movies",
		Card:     "article, .post-item, .movie-item",
		Title:    "h2 a, h3 a, .entry-title a",
		Category: ".category, .cat-links",
	})
}

func CoolMovieZ() Provider {
	return New(Rules{
		Source:    domain.SourceCoolMovieZ,
		BaseURL:   "https://coolmoviez.live",
		Card:      "article, .movie, .post, .item",
		Title:     "h2 a, h3 a, .title a, a[title]",
		TitleAttr: "title",
		Quality:   regexp.MustCompile(`(?i)(MP4|720p|1080p|HD)`),
	})
}

func MP4Mania() Provider {
	return New(Rules{
		Source:  domain.SourceMP4Mania,
		BaseURL: "https://mp4mania.com",
		Card:    "article, .post, .movie-item, .entry",
		Title:   "h2 a, h3 a, .entry-title a",
		Quality: regexp.MustCompile(`(?i)(MP4|3GP|720p|480p)`),
	})
}

// All 按固定顺序返回本族全部站点。
func All() []Provider {
	return []Provider{ToxicWap(), Waploaded(), CoolMovieZ(), MP4Mania()}
}
