package routes

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/cinehub/cinehub/internal/catalog"
	"github.com/cinehub/cinehub/internal/fetch"
	"github.com/cinehub/cinehub/internal/server"
)

// RegisterCatalogRoutes 暴露 /api 下的只读目录接口，数据全部经由缓存读取。
func RegisterCatalogRoutes(app *fiber.App, svc *catalog.Service, logger *logrus.Logger) {
	if app == nil || svc == nil || logger == nil {
		return
	}

	api := app.Group("/api")

	api.Get("/catalogs", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"catalogs": encodeCatalogs(svc.Registry().List()),
			"genres":   catalog.Genres(),
		})
	})

	api.Get("/catalogs/:key", func(c fiber.Ctx) error {
		key := strings.TrimSpace(c.Params("key"))
		res, err := svc.Get(requestContext(c), key)
		return renderResult(c, logger, key, res, err)
	})

	api.Get("/genres/:genre", func(c fiber.Ctx) error {
		genre := c.Params("genre")
		res, err := svc.ByGenre(requestContext(c), genre)
		return renderResult(c, logger, genre, res, err)
	})

	api.Get("/search", func(c fiber.Ctx) error {
		query := c.Query("q")
		res, err := svc.Search(requestContext(c), query)
		return renderResult(c, logger, catalog.SearchKey(query), res, err)
	})

	api.Get("/movies/:id", func(c fiber.Ctx) error {
		id, err := strconv.Atoi(c.Params("id"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_movie_id"})
		}
		res, err := svc.MovieDetails(requestContext(c), id)
		return renderResult(c, logger, catalog.DetailsKey(id), res, err)
	})
}

type catalogPayload struct {
	Key        string            `json:"key"`
	Path       string            `json:"path"`
	Params     map[string]string `json:"params,omitempty"`
	TTLSeconds int64             `json:"ttl_seconds"`
	Validate   string            `json:"validate,omitempty"`
}

func encodeCatalogs(defs []catalog.Definition) []catalogPayload {
	result := make([]catalogPayload, 0, len(defs))
	for _, def := range defs {
		result = append(result, catalogPayload{
			Key:        def.Key,
			Path:       def.Path,
			Params:     def.Params,
			TTLSeconds: int64(def.TTL / time.Second),
			Validate:   def.Validate,
		})
	}
	return result
}

func renderResult(c fiber.Ctx, logger *logrus.Logger, key string, res *fetch.Result, err error) error {
	if err != nil {
		status, label := classifyError(err)
		entry := logger.WithFields(logrus.Fields{
			"action":     "catalog_read",
			"cache_key":  key,
			"request_id": server.RequestID(c),
			"status":     status,
		}).WithError(err)
		if status >= fiber.StatusInternalServerError {
			entry.Warn("catalog_read_failed")
		} else {
			entry.Debug("catalog_read_rejected")
		}
		return c.Status(status).JSON(fiber.Map{"error": label})
	}

	c.Set(server.HeaderCacheSource, string(res.Source))
	if !res.CreatedAt.IsZero() {
		c.Set(fiber.HeaderLastModified, res.CreatedAt.UTC().Format(http.TimeFormat))
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSONCharsetUTF8)
	return c.Send(res.Payload)
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, catalog.ErrUnknownCatalog):
		return fiber.StatusNotFound, "catalog_not_found"
	case errors.Is(err, catalog.ErrUnknownGenre):
		return fiber.StatusNotFound, "genre_not_found"
	case errors.Is(err, catalog.ErrEmptyQuery):
		return fiber.StatusBadRequest, "query_required"
	case errors.Is(err, catalog.ErrInvalidMovieID):
		return fiber.StatusBadRequest, "invalid_movie_id"
	default:
		return fiber.StatusBadGateway, "upstream_unavailable"
	}
}
