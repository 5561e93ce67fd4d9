package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gracechurch/publisher/internal/assets"
	"github.com/gracechurch/publisher/internal/logger"
	"github.com/gracechurch/publisher/internal/middleware"
	"github.com/gracechurch/publisher/internal/models"
)

// ArticleService is implemented by publishing.Service.
type ArticleService interface {
	CreateArticle(ctx context.Context, draft models.ArticleDraft, author models.Author) (*models.Article, error)
	UpdateArticle(ctx context.Context, articleID string, draft models.ArticleDraft, author models.Author) (*models.Article, error)
	GetArticle(ctx context.Context, articleID string) (*models.Article, error)
}

// OrphanSweeper is implemented by assets.Sweeper.
type OrphanSweeper interface {
	Sweep(ctx context.Context) (assets.SweepResult, error)
}

// CleanupStats is implemented by assets.Manager.
type CleanupStats interface {
	FailedDeletes() int64
}

// ArticleRequest is the body of create and update calls. The author is
// resolved by the calling web app and trusted as given.
type ArticleRequest struct {
	Article models.ArticleDraft `json:"article"`
	Author  models.Author       `json:"author"`
}

type Handlers struct {
	articles ArticleService
	sweeper  OrphanSweeper
	stats    CleanupStats
}

// NewHandlers creates the handlers. sweeper and stats may be nil.
func NewHandlers(articles ArticleService, sweeper OrphanSweeper, stats CleanupStats) *Handlers {
	return &Handlers{articles: articles, sweeper: sweeper, stats: stats}
}

// HealthCheck handles the /health endpoint
func (h *Handlers) HealthCheck(c *fiber.Ctx) error {
	resp := fiber.Map{
		"status":  "ok",
		"version": "1.0.0",
		"time":    time.Now().Format(time.RFC3339),
	}
	if h.stats != nil {
		resp["failed_asset_cleanups"] = h.stats.FailedDeletes()
	}
	return c.JSON(resp)
}

// CreateArticle handles POST /api/v1/articles
func (h *Handlers) CreateArticle(c *fiber.Ctx) error {
	req := middleware.Validated[ArticleRequest](c)

	article, err := h.articles.CreateArticle(c.UserContext(), req.Article, req.Author)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(article)
}

// UpdateArticle handles PUT /api/v1/articles/:id
func (h *Handlers) UpdateArticle(c *fiber.Ctx) error {
	req := middleware.Validated[ArticleRequest](c)

	article, err := h.articles.UpdateArticle(c.UserContext(), c.Params("id"), req.Article, req.Author)
	if err != nil {
		return err
	}
	return c.JSON(article)
}

// GetArticle handles GET /api/v1/articles/:id
func (h *Handlers) GetArticle(c *fiber.Ctx) error {
	article, err := h.articles.GetArticle(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(article)
}

// SweepOrphans handles POST /api/v1/admin/orphans/sweep
func (h *Handlers) SweepOrphans(c *fiber.Ctx) error {
	if h.sweeper == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "orphan ledger is not configured")
	}

	start := time.Now()
	result, err := h.sweeper.Sweep(c.UserContext())
	if err != nil {
		return err
	}

	logger.WithContext(c.UserContext()).Info().
		Str("ip", c.IP()).
		Int("deleted", result.Deleted).
		Int("failed", result.Failed).
		Dur("took", time.Since(start)).
		Msg("Manual orphan sweep")
	return c.JSON(result)
}
