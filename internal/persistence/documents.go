package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unicode"
)

// UpsertDocument inserts or replaces a document and its full-text index row.
func (s *SQLiteStore) UpsertDocument(ctx context.Context, doc Document) error {
	if strings.TrimSpace(doc.ID) == "" {
		return fmt.Errorf("document id is required")
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]string{}
	}
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return err
	}
	updatedAt := doc.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO documents (id, title, body, source, metadata_json, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			title=excluded.title,
			body=excluded.body,
			source=excluded.source,
			metadata_json=excluded.metadata_json,
			updated_at=excluded.updated_at`,
		doc.ID,
		doc.Title,
		doc.Body,
		doc.Source,
		string(meta),
		updatedAt.UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents_fts WHERE doc_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("clear document index: %w", err)
	}
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO documents_fts (doc_id, title, body) VALUES (?, ?, ?)`,
		doc.ID,
		doc.Title,
		doc.Body,
	); err != nil {
		return fmt.Errorf("index document: %w", err)
	}
	return tx.Commit()
}

// DeleteDocument removes a document and its index row.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents_fts WHERE doc_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// SearchDocuments runs a ranked full-text search. Any term may match; the
// best matches come first.
func (s *SQLiteStore) SearchDocuments(ctx context.Context, query string, limit int) ([]DocumentHit, error) {
	match := ftsQuery(query)
	if match == "" {
		return []DocumentHit{}, nil
	}
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT documents_fts.doc_id, d.title, d.source,
			snippet(documents_fts, 2, '[', ']', '...', 16),
			bm25(documents_fts) AS rank
		 FROM documents_fts
		 JOIN documents d ON d.id = documents_fts.doc_id
		 WHERE documents_fts MATCH ?
		 ORDER BY rank
		 LIMIT ?`,
		match,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	ret := make([]DocumentHit, 0)
	for rows.Next() {
		var hit DocumentHit
		var rank float64
		if err := rows.Scan(&hit.ID, &hit.Title, &hit.Source, &hit.Snippet, &rank); err != nil {
			return nil, err
		}
		hit.Score = 1 / (1 + math.Abs(rank))
		ret = append(ret, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// ftsQuery turns free text into an FTS5 expression of quoted terms joined
// with OR, so user punctuation can never be parsed as query syntax.
func ftsQuery(text string) string {
	terms := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(terms))
	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		term = strings.ToLower(term)
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		quoted = append(quoted, `"`+term+`"`)
	}
	return strings.Join(quoted, " OR ")
}
