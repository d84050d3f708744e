// Package cache implements the Template/Fix Cache (C7): a two-tier
// keyword-indexed store for reusable code templates and error fixes, with
// deterministic Go-side relevance scoring over a modernc.org/sqlite local
// backing store.
package cache

import (
	"context"
	"sort"
	"time"

	"localmind/internal/logx"
)

// RemoteMirror is a read-only view of consensus data synced in by an
// external collaborator; the Cache never fetches the network itself.
// ApplyRemoteSnapshot replaces its contents wholesale.
type RemoteMirror struct {
	templates []Template
	fixes     []Fix
}

// ApplyRemoteSnapshot overwrites the mirror's contents. Safe to call from
// any goroutine; the Cache never mutates these slices.
func (m *RemoteMirror) ApplyRemoteSnapshot(templates []Template, fixes []Fix) {
	m.templates = templates
	m.fixes = fixes
}

// Cache is the component surface: local read-write store, remote read-only
// mirror, and a non-blocking consensus upload queue.
type Cache struct {
	local  *localStore
	Remote *RemoteMirror

	uploads chan ConsensusUploadRequest
}

// Open creates or opens the local store at <appDir>/cache.db.
func Open(dbPath string) (*Cache, error) {
	local, err := openLocalStore(dbPath)
	if err != nil {
		return nil, err
	}
	return &Cache{
		local:   local,
		Remote:  &RemoteMirror{},
		uploads: make(chan ConsensusUploadRequest, 256),
	}, nil
}

func (c *Cache) Close() error { return c.local.Close() }

// Uploads exposes the consensus upload queue for the external collaborator
// that drains it at idle time. Never read by the Cache itself.
func (c *Cache) Uploads() <-chan ConsensusUploadRequest {
	return c.uploads
}

func (c *Cache) enqueueUpload(kind, hash string) {
	select {
	case c.uploads <- ConsensusUploadRequest{Kind: kind, Hash: hash}:
	default:
		// Queue full: a successful add_* must never block the caller on
		// consensus publication, so the upload is dropped rather than
		// applying backpressure.
		logx.Get(logx.CategoryCache).Warn("consensus upload queue full, dropping %s %s", kind, hash)
	}
}

// SearchTemplates ranks candidates from the local store and the remote
// mirror together by TemplateRelevance, descending
func (c *Cache) SearchTemplates(ctx context.Context, queryText, language string) ([]Template, error) {
	keywords := extractKeywords(queryText)
	local, err := c.local.searchTemplates(ctx, keywords, language)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	candidates := append(append([]Template{}, local...), c.Remote.templates...)
	for i := range candidates {
		candidates[i].Relevance = TemplateRelevance(candidates[i], keywords, language, now)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Relevance > candidates[j].Relevance
	})
	return candidates, nil
}

// AddTemplate inserts or merges a template and enqueues a consensus upload.
func (c *Cache) AddTemplate(ctx context.Context, t Template) (string, error) {
	hash, err := c.local.addTemplate(ctx, t)
	if err != nil {
		return "", err
	}
	c.enqueueUpload("template", hash)
	return hash, nil
}

// FindSimilarTemplate reports the hash of an existing template matching by
// normalized code or name, without creating anything.
func (c *Cache) FindSimilarTemplate(ctx context.Context, name, code string) (string, bool, error) {
	return c.local.findSimilarTemplate(ctx, name, code)
}

// SearchFixes ranks fixes for an error signature, excluding any whose raw
// confidence falls below the experimental floor (never returned).
func (c *Cache) SearchFixes(ctx context.Context, signature, errorText string) ([]Fix, error) {
	keywords := extractKeywords(errorText)
	local, err := c.local.searchFixes(ctx, signature, keywords)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var eligible []Fix
	for _, f := range append(append([]Fix{}, local...), c.remoteFixesFor(signature)...) {
		if !IsFixReturnable(f) {
			continue
		}
		f.Confidence = FixConfidence(f)
		f.RankScore = FixScore(f, keywords, now)
		eligible = append(eligible, f)
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].RankScore > eligible[j].RankScore
	})
	return eligible, nil
}

func (c *Cache) remoteFixesFor(signature string) []Fix {
	var matched []Fix
	for _, f := range c.Remote.fixes {
		if f.Signature == signature {
			matched = append(matched, f)
		}
	}
	return matched
}

// AddFix inserts or records an outcome against an existing fix and enqueues
// a consensus upload.
func (c *Cache) AddFix(ctx context.Context, f Fix, outcome Outcome) (string, error) {
	hash, err := c.local.addFix(ctx, f, outcome)
	if err != nil {
		return "", err
	}
	c.enqueueUpload("fix", hash)
	return hash, nil
}

// FindSimilarFix reports the hash of an existing fix for the same
// signature and code, without creating anything.
func (c *Cache) FindSimilarFix(ctx context.Context, signature, code string) (string, bool, error) {
	return c.local.findSimilarFix(ctx, signature, code)
}
