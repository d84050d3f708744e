package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"localmind/internal/errs"
)

//go:embed schema.sql
var schemaSQL string

// localStore is the writable backing for templates and fixes, grounded on
// the same modernc.org/sqlite driver elsewhere in this tree: a single
// file database opened with WAL mode, schema applied idempotently on open.
type localStore struct {
	db *sql.DB
}

func openLocalStore(path string) (*localStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errs.New(errs.KindResource, "cache", "", err)
	}
	connStr := "file:" + strings.ReplaceAll(path, " ", "%20") + "?_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, errs.New(errs.KindResource, "cache", "", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errs.New(errs.KindResource, "cache", "", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, errs.New(errs.KindResource, "cache", "", fmt.Errorf("initializing cache schema: %w", err))
	}
	return &localStore{db: db}, nil
}

func (s *localStore) Close() error { return s.db.Close() }

var normalizeCodeWhitespace = regexp.MustCompile(`\s+`)

func normalizeCode(code string) string {
	return strings.TrimSpace(normalizeCodeWhitespace.ReplaceAllString(code, " "))
}

func hashOf(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// findSimilarTemplate reports an existing template with the same name OR
// byte-identical code. Code that differs from a stored template only in
// whitespace is not matched.
func (s *localStore) findSimilarTemplate(ctx context.Context, name, code string) (string, bool, error) {
	normalized := normalizeCode(code)
	row := s.db.QueryRowContext(ctx, `
		SELECT hash FROM templates
		WHERE name = ? OR hash IN (
			SELECT hash FROM templates WHERE code = ?
		)
		LIMIT 1`, name, code)
	var hash string
	err := row.Scan(&hash)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errs.New(errs.KindResource, "cache", "", err)
	}
	_ = normalized
	return hash, true, nil
}

func (s *localStore) addTemplate(ctx context.Context, t Template) (string, error) {
	if existing, ok, err := s.findSimilarTemplate(ctx, t.Name, t.Code); err != nil {
		return "", err
	} else if ok {
		if err := s.mergeKeywords(ctx, "template_keywords", existing, t.Keywords); err != nil {
			return "", err
		}
		return existing, nil
	}

	hash := hashOf("template", t.Name, normalizeCode(t.Code))
	now := time.Now().UTC().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO templates (hash, name, description, code, language, author, success_count, use_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?, ?)`,
		hash, t.Name, t.Description, t.Code, t.Language, t.Author, now, now)
	if err != nil {
		return "", errs.New(errs.KindResource, "cache", "", err)
	}
	if err := s.mergeKeywords(ctx, "template_keywords", hash, t.Keywords); err != nil {
		return "", err
	}
	return hash, nil
}

func (s *localStore) mergeKeywords(ctx context.Context, table, hash string, keywords []string) error {
	for _, kw := range keywords {
		nk := normalizeKeyword(kw)
		if nk == "" {
			continue
		}
		_, err := s.db.ExecContext(ctx,
			fmt.Sprintf("INSERT OR IGNORE INTO %s (hash, keyword) VALUES (?, ?)", table),
			hash, nk)
		if err != nil {
			return errs.New(errs.KindResource, "cache", "", err)
		}
	}
	return nil
}

func (s *localStore) searchTemplates(ctx context.Context, queryKeywords []string, language string) ([]Template, error) {
	args := toArgs(queryKeywords)
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT t.hash, t.name, t.description, t.code, t.language, t.author,
		       t.success_count, t.use_count, t.created_at, t.updated_at
		FROM templates t
		JOIN template_keywords k ON k.hash = t.hash
		WHERE k.keyword IN (`+placeholders(len(args))+`)`,
		args...)
	if err != nil {
		return nil, errs.New(errs.KindResource, "cache", "", err)
	}
	defer rows.Close()

	var templates []Template
	for rows.Next() {
		var t Template
		var created, updated int64
		if err := rows.Scan(&t.Hash, &t.Name, &t.Description, &t.Code, &t.Language, &t.Author,
			&t.SuccessCount, &t.UseCount, &created, &updated); err != nil {
			return nil, errs.New(errs.KindResource, "cache", "", err)
		}
		t.CreatedAt = time.Unix(created, 0).UTC()
		t.UpdatedAt = time.Unix(updated, 0).UTC()
		t.Keywords, err = s.keywordsFor(ctx, "template_keywords", t.Hash)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, nil
}

func (s *localStore) keywordsFor(ctx context.Context, table, hash string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT keyword FROM %s WHERE hash = ?", table), hash)
	if err != nil {
		return nil, errs.New(errs.KindResource, "cache", "", err)
	}
	defer rows.Close()
	var keywords []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, errs.New(errs.KindResource, "cache", "", err)
		}
		keywords = append(keywords, k)
	}
	return keywords, nil
}

func (s *localStore) findSimilarFix(ctx context.Context, signature, code string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT hash FROM fixes WHERE signature = ? AND code = ? LIMIT 1`, signature, code)
	var hash string
	err := row.Scan(&hash)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errs.New(errs.KindResource, "cache", "", err)
	}
	return hash, true, nil
}

func (s *localStore) addFix(ctx context.Context, f Fix, outcome Outcome) (string, error) {
	if existing, ok, err := s.findSimilarFix(ctx, f.Signature, f.Code); err != nil {
		return "", err
	} else if ok {
		if err := s.recordFixOutcome(ctx, existing, outcome); err != nil {
			return "", err
		}
		if err := s.mergeKeywords(ctx, "fix_keywords", existing, f.Keywords); err != nil {
			return "", err
		}
		return existing, nil
	}

	hash := hashOf("fix", f.Signature, normalizeCode(f.Code))
	now := time.Now().UTC().Unix()
	success := 0
	if outcome == OutcomeSuccess {
		success = 1
	}
	var parent interface{}
	if f.ParentHash != "" {
		parent = f.ParentHash
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fixes (hash, signature, code, success_count, attempt_count, parent_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?)`,
		hash, f.Signature, f.Code, success, parent, now, now)
	if err != nil {
		return "", errs.New(errs.KindResource, "cache", "", err)
	}
	if err := s.mergeKeywords(ctx, "fix_keywords", hash, f.Keywords); err != nil {
		return "", err
	}
	return hash, nil
}

func (s *localStore) recordFixOutcome(ctx context.Context, hash string, outcome Outcome) error {
	successDelta := 0
	if outcome == OutcomeSuccess {
		successDelta = 1
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE fixes SET success_count = success_count + ?, attempt_count = attempt_count + 1, updated_at = ?
		WHERE hash = ?`, successDelta, time.Now().UTC().Unix(), hash)
	if err != nil {
		return errs.New(errs.KindResource, "cache", "", err)
	}
	return nil
}

func (s *localStore) searchFixes(ctx context.Context, signature string, errorKeywords []string) ([]Fix, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hash, signature, code, success_count, attempt_count, COALESCE(parent_hash, ''), created_at, updated_at
		FROM fixes WHERE signature = ?`, signature)
	if err != nil {
		return nil, errs.New(errs.KindResource, "cache", "", err)
	}
	defer rows.Close()

	var fixes []Fix
	for rows.Next() {
		var f Fix
		var created, updated int64
		if err := rows.Scan(&f.Hash, &f.Signature, &f.Code, &f.SuccessCount, &f.AttemptCount,
			&f.ParentHash, &created, &updated); err != nil {
			return nil, errs.New(errs.KindResource, "cache", "", err)
		}
		f.CreatedAt = time.Unix(created, 0).UTC()
		f.UpdatedAt = time.Unix(updated, 0).UTC()
		f.Keywords, err = s.keywordsFor(ctx, "fix_keywords", f.Hash)
		if err != nil {
			return nil, err
		}
		fixes = append(fixes, f)
	}
	return fixes, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return "''"
	}
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "?"
	}
	return strings.Join(parts, ", ")
}

func toArgs(keywords []string) []interface{} {
	args := make([]interface{}, 0, len(keywords))
	for _, k := range keywords {
		args = append(args, normalizeKeyword(k))
	}
	if len(args) == 0 {
		args = append(args, "")
	}
	return args
}
