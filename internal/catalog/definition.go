package catalog

import (
	"net/url"
	"sort"
	"time"

	"github.com/cinehub/cinehub/internal/config"
)

const (
	KeyTrending         = "trending_movies"
	KeyNetflixOriginals = "netflix_originals"
	KeyTopRated         = "top_rated_movies"
	KeyActionMovies     = "action_movies"
	KeyComedyMovies     = "comedy_movies"
	KeyHorrorMovies     = "horror_movies"
	KeyRomanceMovies    = "romance_movies"
	KeyDocumentaries    = "documentaries"
	KeyPopularPeople    = "popular_people"
)

// Definition 描述一个已解析的目录：上游路径、查询参数、写缓存时使用的 TTL 与校验器名称。
// TTL 为 0 表示永不过期。
type Definition struct {
	Key      string
	Path     string
	Params   map[string]string
	TTL      time.Duration
	Validate string
}

// Query 将 Params 转成 url.Values。
func (d Definition) Query() url.Values {
	if len(d.Params) == 0 {
		return nil
	}
	values := make(url.Values, len(d.Params))
	for k, v := range d.Params {
		values.Set(k, v)
	}
	return values
}

// genreIDs 是 discover 接口使用的类型 ID。
var genreIDs = map[string]string{
	"action":        "28",
	"comedy":        "35",
	"horror":        "27",
	"romance":       "10749",
	"documentaries": "99",
}

// genreKeys 将类型名映射到目录键。
var genreKeys = map[string]string{
	"action":        KeyActionMovies,
	"comedy":        KeyComedyMovies,
	"horror":        KeyHorrorMovies,
	"romance":       KeyRomanceMovies,
	"documentaries": KeyDocumentaries,
}

// Genres 返回支持的类型名，按字母排序。
func Genres() []string {
	result := make([]string, 0, len(genreKeys))
	for name := range genreKeys {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// DefaultCatalogs 返回未在配置中声明 [[Catalog]] 时使用的内置目录。
func DefaultCatalogs() []config.CatalogConfig {
	catalogs := []config.CatalogConfig{
		{Key: KeyTrending, Path: "/trending/all/week", Validate: "list"},
		{Key: KeyNetflixOriginals, Path: "/discover/movie", Params: map[string]string{"with_networks": "213"}, Validate: "list"},
		{Key: KeyTopRated, Path: "/movie/top_rated", Validate: "list"},
	}
	for _, name := range []string{"action", "comedy", "horror", "romance", "documentaries"} {
		catalogs = append(catalogs, config.CatalogConfig{
			Key:      genreKeys[name],
			Path:     "/discover/movie",
			Params:   map[string]string{"with_genres": genreIDs[name]},
			Validate: "list",
		})
	}
	catalogs = append(catalogs, config.CatalogConfig{
		Key:      KeyPopularPeople,
		Path:     "/person/popular",
		Params:   map[string]string{"page": "1"},
		Validate: "list",
	})
	return catalogs
}

// FromConfig 按配置解析目录定义并计算每个目录生效的 TTL。
func FromConfig(cfg *config.Config) []Definition {
	catalogs := cfg.Catalogs
	if len(catalogs) == 0 {
		catalogs = DefaultCatalogs()
	}
	defs := make([]Definition, 0, len(catalogs))
	for _, cat := range catalogs {
		params := make(map[string]string, len(cat.Params))
		for k, v := range cat.Params {
			params[k] = v
		}
		defs = append(defs, Definition{
			Key:      cat.Key,
			Path:     cat.Path,
			Params:   params,
			TTL:      cfg.EffectiveCacheTTL(cat),
			Validate: cat.Validate,
		})
	}
	return defs
}
