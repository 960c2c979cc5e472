package repository

import (
	"context"
	"fmt"

	"lawchat-backend/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ArticleRepository handles database operations for law articles
type ArticleRepository struct {
	db *pgxpool.Pool
}

// NewArticleRepository creates a new article repository
func NewArticleRepository(db *pgxpool.Pool) *ArticleRepository {
	return &ArticleRepository{db: db}
}

// ListAll returns every article in corpus order
func (r *ArticleRepository) ListAll(ctx context.Context) ([]models.Article, error) {
	query := `
		SELECT
			number,
			title,
			chapter_name,
			part_name,
			law_source,
			body_text,
			COALESCE(tags, '{}')
		FROM law_articles
		ORDER BY position, id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query law articles: %w", err)
	}
	defer rows.Close()

	var articles []models.Article
	for rows.Next() {
		var a models.Article
		err := rows.Scan(
			&a.Number,
			&a.Title,
			&a.ChapterName,
			&a.PartName,
			&a.LawSource,
			&a.BodyText,
			&a.Tags,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan law article: %w", err)
		}
		articles = append(articles, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating law articles: %w", err)
	}

	return articles, nil
}

// ReplaceAll swaps the stored corpus for articles inside one transaction.
// Slice order is persisted as position so ListAll returns the same order.
func (r *ArticleRepository) ReplaceAll(ctx context.Context, articles []models.Article) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM law_articles"); err != nil {
		return fmt.Errorf("failed to clear law articles: %w", err)
	}

	insert := `
		INSERT INTO law_articles (
			position, number, title, chapter_name, part_name, law_source, body_text, tags
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	batch := &pgx.Batch{}
	for i, a := range articles {
		tags := a.Tags
		if tags == nil {
			tags = []string{}
		}
		batch.Queue(insert, i, a.Number, a.Title, a.ChapterName, a.PartName, a.LawSource, a.BodyText, tags)
	}

	br := tx.SendBatch(ctx, batch)
	for i := range articles {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("failed to insert article %d: %w", articles[i].Number, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit law articles: %w", err)
	}
	return nil
}

// Count returns the number of stored articles
func (r *ArticleRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM law_articles").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count law articles: %w", err)
	}
	return n, nil
}
