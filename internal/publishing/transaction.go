package publishing

import (
	"context"
	"fmt"
	"strings"

	"github.com/gracechurch/publisher/internal/content"
	"github.com/gracechurch/publisher/internal/contentstore"
	"github.com/gracechurch/publisher/internal/domain"
	"github.com/gracechurch/publisher/internal/logger"
	"github.com/gracechurch/publisher/internal/models"
	"github.com/gracechurch/publisher/internal/utils"
)

// CreateArticle uploads the draft's inline images and commits a new article.
// On failure every asset uploaded by this call is deleted and a
// *domain.TransactionError is returned.
func (s *Service) CreateArticle(ctx context.Context, draft models.ArticleDraft, author models.Author) (*models.Article, error) {
	const op = "create"
	if err := s.validateInput(&draft, author); err != nil {
		return nil, s.fail(ctx, op, "", err, nil)
	}

	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	release, err := s.lock(ctx, "submit:"+utils.Fingerprint(author.ContentRef, strings.TrimSpace(draft.Title), draft.Excerpt),
		"an identical article is already being submitted")
	if err != nil {
		return nil, s.fail(ctx, op, "", err, nil)
	}
	defer release()

	var uploaded uploads
	article, err := s.create(ctx, &draft, author, &uploaded)
	if err != nil {
		return nil, s.fail(ctx, op, "", err, uploaded.ids)
	}

	logger.WithContext(ctx).Info().
		Str("article_id", article.ID).
		Str("slug", article.Slug.Current).
		Int("uploaded", len(uploaded.ids)).
		Msg("Article created")
	return article, nil
}

func (s *Service) create(ctx context.Context, draft *models.ArticleDraft, author models.Author, uploaded *uploads) (*models.Article, error) {
	blocks, err := s.persistContent(ctx, draft.Content, uploaded)
	if err != nil {
		return nil, err
	}
	poster, err := s.persistPoster(ctx, draft.PosterImage, uploaded)
	if err != nil {
		return nil, err
	}

	slugValue, err := s.requestedSlug(ctx, draft, "")
	if err != nil {
		return nil, err
	}
	if slugValue == "" {
		if slugValue, err = s.generateSlug(ctx, draft.Title, author.Handle); err != nil {
			return nil, err
		}
	}

	text, err := content.PlainText(blocks, s.cfg.MaxContentDepth)
	if err != nil {
		return nil, depthError(err)
	}

	title := strings.TrimSpace(draft.Title)
	now := s.now().UTC()
	article := &models.Article{
		ID:                        s.newID(),
		Type:                      s.cfg.DocumentType,
		Title:                     title,
		Slug:                      models.NewSlug(slugValue),
		Excerpt:                   draft.Excerpt,
		Content:                   blocks,
		PosterImage:               poster,
		Author:                    models.NewReference(author.ContentRef),
		AuthorDatabaseReferenceID: author.DatabaseRef,
		IsApprovedToBePublished:   false,
		PublishedAt:               &now,
		ReadingTime:               content.ReadingTime(text),
		SEO:                       s.seo.Build(title, draft.Excerpt, poster),
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}
	if n := article.InlineImages(); n > 0 {
		return nil, &domain.IntegrityError{Message: fmt.Sprintf("%d images were not uploaded", n)}
	}

	doc, err := models.ToDocument(article)
	if err != nil {
		return nil, err
	}
	committed, err := s.store.Create(ctx, doc)
	if err != nil {
		return nil, commitError("create", article.ID, err)
	}
	return decodeCommitted(ctx, committed, article), nil
}

// UpdateArticle applies draft to the stored article. Inline images are
// uploaded, kept references stay, and assets the article stops using are
// deleted after the commit. On failure only the assets uploaded by this call
// are deleted.
func (s *Service) UpdateArticle(ctx context.Context, articleID string, draft models.ArticleDraft, author models.Author) (*models.Article, error) {
	const op = "update"
	if strings.TrimSpace(articleID) == "" {
		return nil, s.fail(ctx, op, articleID, &domain.ValidationError{Message: "article id is required"}, nil)
	}
	if err := s.validateInput(&draft, author); err != nil {
		return nil, s.fail(ctx, op, articleID, err, nil)
	}

	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	release, err := s.lock(ctx, "article:"+articleID, fmt.Sprintf("article %s is being saved by another request", articleID))
	if err != nil {
		return nil, s.fail(ctx, op, articleID, err, nil)
	}
	defer release()

	current, err := s.fetch(ctx, articleID)
	if err != nil {
		return nil, s.fail(ctx, op, articleID, err, nil)
	}
	if draft.Revision != "" && draft.Revision != current.Rev() {
		return nil, s.fail(ctx, op, articleID, &domain.ConflictError{
			Message:    fmt.Sprintf("article %s has changed since revision %s", articleID, draft.Revision),
			ResourceID: articleID,
		}, nil)
	}

	existing, err := s.referencedAssets(ctx, current)
	if err != nil {
		return nil, s.fail(ctx, op, articleID, err, nil)
	}

	var uploaded uploads
	article, after, err := s.update(ctx, current, &draft, author, &uploaded)
	if err != nil {
		// Stores that deduplicate uploads can return an id the stored article already uses.
		rollback := make([]string, 0, len(uploaded.ids))
		for _, id := range uploaded.ids {
			if !existing.Has(id) {
				rollback = append(rollback, id)
			}
		}
		return nil, s.fail(ctx, op, articleID, err, rollback)
	}

	unused := existing.Minus(after)
	failed := 0
	if len(unused) > 0 {
		cctx, ccancel := s.cleanupContext(ctx)
		failed = s.assets.DeleteAll(cctx, unused)
		ccancel()
	}

	logger.WithContext(ctx).Info().
		Str("article_id", articleID).
		Str("slug", article.Slug.Current).
		Int("uploaded", len(uploaded.ids)).
		Int("unused", len(unused)).
		Int("cleanup_failures", failed).
		Msg("Article updated")
	return article, nil
}

// referencedAssets is every asset the stored content and poster point at.
func (s *Service) referencedAssets(ctx context.Context, doc models.Document) (content.AssetSet, error) {
	refs, err := content.ExtractAssetReferences(doc["content"], s.cfg.MaxContentDepth)
	if err != nil {
		return nil, depthError(err)
	}
	if poster := storedPoster(ctx, doc); poster.IsPersisted() {
		refs.Add(poster.AssetRef)
	}
	return refs, nil
}

func storedPoster(ctx context.Context, doc models.Document) *models.ImageBlock {
	raw, ok := doc["posterImage"].(map[string]any)
	if !ok {
		return nil
	}
	img, err := models.ImageFromFields(raw)
	if err != nil {
		logger.WithContext(ctx).Warn().Err(err).Str("article_id", doc.ID()).Msg("Stored poster image is malformed")
		return nil
	}
	return img
}

func (s *Service) update(ctx context.Context, current models.Document, draft *models.ArticleDraft, author models.Author, uploaded *uploads) (*models.Article, content.AssetSet, error) {
	blocks, err := s.persistContent(ctx, draft.Content, uploaded)
	if err != nil {
		return nil, nil, err
	}
	after, err := content.ExtractAssetReferences(blocks, s.cfg.MaxContentDepth)
	if err != nil {
		return nil, nil, depthError(err)
	}

	var poster *models.ImageBlock
	if draft.PosterImage != nil {
		if poster, err = s.persistPoster(ctx, draft.PosterImage, uploaded); err != nil {
			return nil, nil, err
		}
	} else {
		poster = storedPoster(ctx, current)
	}
	if poster.IsPersisted() {
		after.Add(poster.AssetRef)
	}

	currentSlug := slugOf(current)
	slugValue, err := s.requestedSlug(ctx, draft, currentSlug)
	if err != nil {
		return nil, nil, err
	}
	if slugValue == "" {
		slugValue = currentSlug
	}
	if slugValue == "" {
		if slugValue, err = s.generateSlug(ctx, draft.Title, author.Handle); err != nil {
			return nil, nil, err
		}
	}

	text, err := content.PlainText(blocks, s.cfg.MaxContentDepth)
	if err != nil {
		return nil, nil, depthError(err)
	}

	title := strings.TrimSpace(draft.Title)
	now := s.now().UTC()
	article := &models.Article{
		ID:                        current.ID(),
		Type:                      s.cfg.DocumentType,
		Title:                     title,
		Slug:                      models.NewSlug(slugValue),
		Excerpt:                   draft.Excerpt,
		Content:                   blocks,
		PosterImage:               poster,
		Author:                    models.NewReference(author.ContentRef),
		AuthorDatabaseReferenceID: author.DatabaseRef,
		ReadingTime:               content.ReadingTime(text),
		SEO:                       s.seo.Build(title, draft.Excerpt, poster),
		UpdatedAt:                 now,
	}
	if n := article.InlineImages(); n > 0 {
		return nil, nil, &domain.IntegrityError{Message: fmt.Sprintf("%d images were not uploaded", n)}
	}

	changes := map[string]any{
		"title":                     article.Title,
		"slug":                      article.Slug,
		"excerpt":                   article.Excerpt,
		"content":                   article.Content,
		"author":                    article.Author,
		"authorDatabaseReferenceId": article.AuthorDatabaseReferenceID,
		"readingTime":               article.ReadingTime,
		"seo":                       article.SEO,
		"updatedAt":                 article.UpdatedAt,
	}
	if draft.PosterImage != nil {
		changes["posterImage"] = poster
	}
	set, err := models.ToDocument(changes)
	if err != nil {
		return nil, nil, err
	}

	// Fields this service does not know about are carried over untouched.
	merged := current.WithoutSystemFields()
	delete(merged, "_type")
	for k, v := range set {
		merged[k] = v
	}
	if _, ok := merged["createdAt"]; !ok {
		merged["createdAt"] = now
	}

	committed, err := s.store.Patch(ctx, current.ID(), contentstore.PatchOps{
		Set:          merged,
		IfRevisionID: current.Rev(),
	})
	if err != nil {
		return nil, nil, commitError("update", current.ID(), err)
	}
	return decodeCommitted(ctx, committed, article), after, nil
}
