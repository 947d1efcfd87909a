// Package cache persists research results with embeddings for semantic
// reuse. Lookups embed the incoming query and match it against stored
// question/answer documents by cosine distance, classified into
// confidence tiers. All SQLite access is confined to a single worker
// goroutine; see worker.go.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"webscout/internal/embedding"
	"webscout/internal/logging"
)

// Tier classifies a lookup by cosine distance to the best stored match.
type Tier string

const (
	// TierHigh means the stored answer can be served directly.
	TierHigh Tier = "high"
	// TierMedium means the match is close but may need qualification.
	TierMedium Tier = "medium"
	// TierMiss means nothing stored is close enough.
	TierMiss Tier = "miss"
)

// Entry is a stored research result.
type Entry struct {
	ID        int64
	SessionID string
	Query     string
	Answer    string
	Metadata  Metadata
	CreatedAt time.Time
}

// Metadata summarizes where a cached answer came from.
type Metadata struct {
	Timestamp   string   `json:"timestamp"`
	SourceCount int      `json:"source_count"`
	URLs        []string `json:"urls,omitempty"`
	Digest      string   `json:"digest,omitempty"`
}

// Match is the outcome of a lookup.
type Match struct {
	Entry    Entry
	Distance float64
	Tier     Tier
}

// Thresholds set the cosine distance boundaries between tiers.
type Thresholds struct {
	High   float64 // below this: TierHigh
	Medium float64 // below this: TierMedium
}

// DefaultThresholds returns the standard tier boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{High: 0.5, Medium: 0.85}
}

const (
	answerDocumentLimit = 500
	metadataURLLimit    = 3
	metadataURLMaxLen   = 100
)

// store owns the SQLite database. It is not safe for concurrent use and
// must only be touched from the cache worker goroutine.
type store struct {
	db         *sql.DB
	engine     embedding.Engine
	thresholds Thresholds
}

func openStore(path string, engine embedding.Engine, thresholds Thresholds) (*store, error) {
	timer := logging.StartTimer(logging.CategoryCache, "openStore")
	defer timer.Stop()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.CacheDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.CacheDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS research_cache (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		query TEXT NOT NULL,
		answer TEXT NOT NULL,
		document TEXT NOT NULL,
		embedding TEXT,
		metadata TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_research_cache_session ON research_cache(session_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}

	logging.Cache("Cache database ready at %s", path)
	return &store{db: db, engine: engine, thresholds: thresholds}, nil
}

// put embeds the query/answer document and stores the entry, returning
// the new entry id.
func (s *store) put(ctx context.Context, sessionID, query, answer string, meta Metadata) (int64, error) {
	doc := buildDocument(query, answer)

	vec, err := s.engine.Embed(ctx, doc)
	if err != nil {
		return 0, fmt.Errorf("failed to embed cache document: %w", err)
	}
	vecJSON, err := json.Marshal(vec)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize embedding: %w", err)
	}
	metaJSON, _ := json.Marshal(meta)

	result, err := s.db.ExecContext(ctx,
		"INSERT INTO research_cache (session_id, query, answer, document, embedding, metadata) VALUES (?, ?, ?, ?, ?, ?)",
		sessionID, query, answer, doc, string(vecJSON), string(metaJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to store cache entry: %w", err)
	}
	id, _ := result.LastInsertId()
	logging.Cache("Stored research for session %s: %q (%d sources)", sessionID, query, meta.SourceCount)
	return id, nil
}

// lookup embeds the query and scans stored entries for the nearest
// document by cosine distance.
func (s *store) lookup(ctx context.Context, query string) (*Match, error) {
	timer := logging.StartTimer(logging.CategoryCache, "lookup")
	defer timer.StopWithThreshold(2 * time.Second)

	queryVec, err := s.engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed lookup query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, session_id, query, answer, embedding, metadata, created_at FROM research_cache WHERE embedding IS NOT NULL",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	best := Match{Distance: -1, Tier: TierMiss}
	for rows.Next() {
		var entry Entry
		var vecJSON, metaJSON string
		if err := rows.Scan(&entry.ID, &entry.SessionID, &entry.Query, &entry.Answer, &vecJSON, &metaJSON, &entry.CreatedAt); err != nil {
			continue
		}

		var vec []float32
		if err := json.Unmarshal([]byte(vecJSON), &vec); err != nil {
			continue
		}
		distance, err := embedding.CosineDistance(queryVec, vec)
		if err != nil {
			continue
		}

		if best.Distance < 0 || distance < best.Distance {
			if metaJSON != "" {
				json.Unmarshal([]byte(metaJSON), &entry.Metadata)
			}
			best = Match{Entry: entry, Distance: distance}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if best.Distance < 0 {
		return &Match{Distance: 1, Tier: TierMiss}, nil
	}
	best.Tier = s.classify(best.Distance)
	logging.CacheDebug("Best cache match at distance %.4f (%s): %q", best.Distance, best.Tier, best.Entry.Query)
	return &best, nil
}

func (s *store) classify(distance float64) Tier {
	switch {
	case distance < s.thresholds.High:
		return TierHigh
	case distance < s.thresholds.Medium:
		return TierMedium
	default:
		return TierMiss
	}
}

// updateDigest attaches a background-generated digest to an entry.
func (s *store) updateDigest(ctx context.Context, id int64, digest string) error {
	var metaJSON string
	err := s.db.QueryRowContext(ctx, "SELECT metadata FROM research_cache WHERE id = ?", id).Scan(&metaJSON)
	if err != nil {
		return err
	}
	var meta Metadata
	if metaJSON != "" {
		json.Unmarshal([]byte(metaJSON), &meta)
	}
	meta.Digest = digest
	updated, _ := json.Marshal(meta)
	_, err = s.db.ExecContext(ctx, "UPDATE research_cache SET metadata = ? WHERE id = ?", string(updated), id)
	return err
}

// deleteSession removes every entry stored for the session.
func (s *store) deleteSession(ctx context.Context, sessionID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM research_cache WHERE session_id = ?", sessionID)
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		logging.Cache("Cleared %d cached entries for session %s", n, sessionID)
	}
	return n, nil
}

// stats returns entry counts for diagnostics.
func (s *store) stats(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64)
	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM research_cache").Scan(&total); err != nil {
		return nil, err
	}
	out["total_entries"] = total

	var sessions int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(DISTINCT session_id) FROM research_cache").Scan(&sessions); err != nil {
		return nil, err
	}
	out["sessions"] = sessions
	return out, nil
}

func (s *store) close() error {
	return s.db.Close()
}

// buildDocument forms the embedded text for a cached answer. Long
// answers are clipped so the embedding stays dominated by the question.
func buildDocument(query, answer string) string {
	clipped := answer
	if len(clipped) > answerDocumentLimit {
		clipped = clipped[:answerDocumentLimit]
	}
	return fmt.Sprintf("Q: %s\nA: %s", query, clipped)
}

// BuildMetadata derives storage metadata from the research sources.
func BuildMetadata(sourceURLs []string) Metadata {
	meta := Metadata{
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		SourceCount: len(sourceURLs),
	}
	for i, u := range sourceURLs {
		if i >= metadataURLLimit {
			break
		}
		if len(u) > metadataURLMaxLen {
			u = u[:metadataURLMaxLen]
		}
		meta.URLs = append(meta.URLs, u)
	}
	return meta
}
