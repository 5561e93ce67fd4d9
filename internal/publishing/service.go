// Package publishing creates and updates articles together with their image
// assets. A failed attempt deletes what it uploaded; a successful update
// deletes the assets the article no longer uses.
package publishing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gracechurch/publisher/internal/assets"
	"github.com/gracechurch/publisher/internal/content"
	"github.com/gracechurch/publisher/internal/contentstore"
	"github.com/gracechurch/publisher/internal/domain"
	"github.com/gracechurch/publisher/internal/logger"
	"github.com/gracechurch/publisher/internal/models"
	"github.com/gracechurch/publisher/internal/seo"
	"github.com/gracechurch/publisher/internal/slug"
	"github.com/gracechurch/publisher/internal/validation"
	"github.com/rs/zerolog"
)

// Locker serialises work on a key across instances.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// Config tunes the transactions. Zero values fall back to defaults.
type Config struct {
	DocumentType       string
	TransactionTimeout time.Duration
	CleanupTimeout     time.Duration
	MaxContentDepth    int
	SlugAttempts       int
	LockTTL            time.Duration
}

func (c Config) withDefaults() Config {
	if c.DocumentType == "" {
		c.DocumentType = "post"
	}
	if c.CleanupTimeout <= 0 {
		c.CleanupTimeout = 30 * time.Second
	}
	if c.MaxContentDepth <= 0 {
		c.MaxContentDepth = content.DefaultMaxDepth
	}
	if c.SlugAttempts <= 0 {
		c.SlugAttempts = 3
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 2 * time.Minute
	}
	return c
}

// Service runs the article publishing transactions.
type Service struct {
	store    contentstore.Client
	assets   *assets.Manager
	locker   Locker
	seo      *seo.Builder
	slugs    slug.Generator
	validate *validator.Validate
	cfg      Config

	now   func() time.Time
	newID func() string
}

// NewService wires a Service. locker may be nil, in which case no edit lock is taken.
func NewService(store contentstore.Client, manager *assets.Manager, locker Locker, cfg Config) *Service {
	return &Service{
		store:    store,
		assets:   manager,
		locker:   locker,
		seo:      seo.NewBuilder(),
		validate: validation.New(),
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// GetArticle returns the stored article.
func (s *Service) GetArticle(ctx context.Context, articleID string) (*models.Article, error) {
	doc, err := s.fetch(ctx, articleID)
	if err != nil {
		return nil, err
	}
	var article models.Article
	if err := doc.Decode(&article); err != nil {
		return nil, &domain.IntegrityError{Message: fmt.Sprintf("article %s cannot be decoded", articleID), Err: err}
	}
	return &article, nil
}

func (s *Service) fetch(ctx context.Context, articleID string) (models.Document, error) {
	var doc models.Document
	err := s.store.Fetch(ctx, contentstore.ArticleByIDQuery(s.cfg.DocumentType), map[string]any{"id": articleID}, &doc)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch article %s: %w", articleID, err)
	}
	if doc.ID() == "" {
		return nil, &domain.NotFoundError{Resource: "article", ID: articleID}
	}
	return doc, nil
}

func (s *Service) validateInput(draft *models.ArticleDraft, author models.Author) error {
	merged := &domain.ValidationError{Message: "invalid article", Fields: map[string]string{}}
	for _, part := range []struct {
		prefix string
		value  any
	}{
		{"", draft},
		{"author.", author},
	} {
		err := validation.Struct(s.validate, part.value)
		if err == nil {
			continue
		}
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			return err
		}
		for field, tag := range verr.Fields {
			merged.Fields[part.prefix+field] = tag
		}
	}
	if len(merged.Fields) > 0 {
		return merged
	}
	return nil
}

func (s *Service) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.TransactionTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.TransactionTimeout)
	}
	return context.WithCancel(ctx)
}

// cleanupContext outlives the transaction deadline and caller cancellation.
func (s *Service) cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CleanupTimeout)
}

// lock takes key for the length of a transaction. When the lock backend is
// unreachable the transaction proceeds; the commit's revision check still
// guards concurrent updates.
func (s *Service) lock(ctx context.Context, key, conflict string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}

	log := logger.WithContext(ctx)
	token, ok, err := s.locker.AcquireLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		log.Warn().Err(err).Str("lock", key).Msg("Lock backend unavailable, continuing without lock")
		return func() {}, nil
	}
	if !ok {
		return nil, &domain.ConflictError{Message: conflict, ResourceID: key}
	}

	return func() {
		rctx, cancel := s.cleanupContext(ctx)
		defer cancel()
		if err := s.locker.ReleaseLock(rctx, key, token); err != nil {
			log.Warn().Err(err).Str("lock", key).Msg("Failed to release lock")
		}
	}, nil
}

// fail rolls back ids and wraps cause for the caller.
func (s *Service) fail(ctx context.Context, op, articleID string, cause error, rollback []string) error {
	var timeout *domain.TimeoutError
	if errors.Is(cause, context.DeadlineExceeded) && !errors.As(cause, &timeout) {
		cause = &domain.TimeoutError{Op: op + " article", Err: cause}
	}

	txErr := &domain.TransactionError{
		Op:        op,
		ArticleID: articleID,
		Message:   fmt.Sprintf("failed to %s article", op),
		Cause:     cause,
	}
	if len(rollback) > 0 {
		rctx, cancel := s.cleanupContext(ctx)
		txErr.RollbackFailures = s.assets.DeleteAll(rctx, rollback)
		cancel()
		txErr.RolledBack = len(rollback) - txErr.RollbackFailures
	}

	level := zerolog.ErrorLevel
	if domain.StatusCode(cause) < 500 {
		level = zerolog.WarnLevel
	}
	logger.WithContext(ctx).WithLevel(level).
		Err(cause).
		Str("op", op).
		Str("article_id", articleID).
		Int("rolled_back", txErr.RolledBack).
		Int("rollback_failures", txErr.RollbackFailures).
		Msg("Article transaction failed")
	return txErr
}

func depthError(err error) error {
	if errors.Is(err, content.ErrDepthExceeded) {
		return &domain.IntegrityError{Message: "article content is nested too deeply", Err: err}
	}
	return err
}

func commitError(op, articleID string, err error) error {
	switch {
	case contentstore.IsConflict(err):
		return &domain.CommitError{Op: op, Err: &domain.ConflictError{
			Message:    fmt.Sprintf("article %s was modified by someone else", articleID),
			ResourceID: articleID,
			Err:        err,
		}}
	case errors.Is(err, context.DeadlineExceeded):
		return &domain.TimeoutError{Op: op + " commit", Err: err}
	}
	return &domain.CommitError{Op: op, Err: err}
}

// slugOf reads slug.current from a raw document.
func slugOf(doc models.Document) string {
	s, _ := doc["slug"].(map[string]any)
	current, _ := s["current"].(string)
	return current
}

func (s *Service) slugTaken(ctx context.Context, value string) (bool, error) {
	var n int
	if err := s.store.Fetch(ctx, contentstore.SlugCountQuery(s.cfg.DocumentType), map[string]any{"slug": value}, &n); err != nil {
		return false, fmt.Errorf("failed to check slug %s: %w", value, err)
	}
	return n > 0, nil
}

// generateSlug retries on the rare collision with an existing slug.
func (s *Service) generateSlug(ctx context.Context, title, handle string) (string, error) {
	for attempt := 1; attempt <= s.cfg.SlugAttempts; attempt++ {
		candidate := s.slugs.Generate(title, handle, s.now())
		taken, err := s.slugTaken(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		logger.WithContext(ctx).Debug().Str("slug", candidate).Int("attempt", attempt).Msg("Slug collision")
	}
	return "", &domain.ConflictError{Message: fmt.Sprintf("no unique slug after %d attempts", s.cfg.SlugAttempts)}
}

// requestedSlug checks an explicit slug override. It returns "" when the draft has none.
func (s *Service) requestedSlug(ctx context.Context, draft *models.ArticleDraft, current string) (string, error) {
	if draft.Slug == nil {
		return "", nil
	}
	value := strings.TrimSpace(draft.Slug.Current)
	if value == "" || value == current {
		return value, nil
	}
	taken, err := s.slugTaken(ctx, value)
	if err != nil {
		return "", err
	}
	if taken {
		return "", &domain.ConflictError{Message: fmt.Sprintf("slug %q is already in use", value), ResourceID: value}
	}
	return value, nil
}

func newBlockKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// uploads records the asset ids uploaded during one attempt.
type uploads struct {
	ids []string
}

func (u *uploads) add(id string) {
	u.ids = append(u.ids, id)
}

// persistContent uploads inline images one block at a time and returns the
// blocks with persisted references.
func (s *Service) persistContent(ctx context.Context, blocks []models.ContentBlock, uploaded *uploads) ([]models.ContentBlock, error) {
	out := make([]models.ContentBlock, len(blocks))
	for i, b := range blocks {
		if b.Key == "" {
			b.Key = newBlockKey()
		}
		if b.Image.IsInline() {
			id, err := s.assets.UploadImage(ctx, b.Image, fmt.Sprintf("content-%d", i+1))
			if err != nil {
				return nil, err
			}
			uploaded.add(id)
			b.Image = b.Image.Persisted(id)
		}
		if b.Fields != nil {
			fields, err := s.persistNested(ctx, b.Fields, fmt.Sprintf("content-%d", i+1), uploaded)
			if err != nil {
				return nil, err
			}
			b.Fields = fields
		}
		out[i] = b
	}
	return out, nil
}

// persistNested uploads inline images held anywhere inside a block, such as
// gallery items, and returns the block fields with asset references instead.
func (s *Service) persistNested(ctx context.Context, fields map[string]any, prefix string, uploaded *uploads) (map[string]any, error) {
	n := 0
	out, err := content.RewriteInlineImages(fields, s.cfg.MaxContentDepth, func(img *models.ImageBlock) (*models.ImageBlock, error) {
		n++
		id, err := s.assets.UploadImage(ctx, img, fmt.Sprintf("%s-%d", prefix, n))
		if err != nil {
			return nil, err
		}
		uploaded.add(id)
		return img.Persisted(id), nil
	})
	switch {
	case errors.Is(err, models.ErrInvalidImage):
		return nil, &domain.ValidationError{Message: err.Error()}
	case err != nil:
		return nil, depthError(err)
	}
	return out.(map[string]any), nil
}

func (s *Service) persistPoster(ctx context.Context, poster *models.ImageBlock, uploaded *uploads) (*models.ImageBlock, error) {
	if !poster.IsInline() {
		return poster, nil
	}
	id, err := s.assets.UploadImage(ctx, poster, "poster")
	if err != nil {
		return nil, err
	}
	uploaded.add(id)
	return poster.Persisted(id), nil
}

// decodeCommitted reads back the stored document. The commit has already
// happened, so a document that cannot be decoded falls back to what was sent.
func decodeCommitted(ctx context.Context, committed models.Document, sent *models.Article) *models.Article {
	if committed.ID() == "" {
		return sent
	}
	var out models.Article
	if err := committed.Decode(&out); err != nil {
		logger.WithContext(ctx).Warn().Err(err).Str("article_id", sent.ID).Msg("Committed article could not be decoded")
		sent.Rev = committed.Rev()
		return sent
	}
	return &out
}
