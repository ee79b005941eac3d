package risk

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// TTLRiskModel bounds how long a cached risk model is served before
// re-estimation.
const TTLRiskModel = 24 * time.Hour

// Cache stores estimated risk models in the cache database, keyed by a hash
// of the estimation inputs. Optional: estimation works without it.
type Cache struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewCache creates a risk model cache and ensures the schema exists.
func NewCache(db *sql.DB, log zerolog.Logger) (*Cache, error) {
	c := &Cache{
		db:  db,
		log: log.With().Str("component", "risk_cache").Logger(),
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS risk_cache (
			key        TEXT PRIMARY KEY,
			payload    BLOB NOT NULL,
			expires_at INTEGER NOT NULL
		)
	`); err != nil {
		return nil, fmt.Errorf("failed to create risk_cache schema: %w", err)
	}
	return c, nil
}

// Key builds a deterministic cache key from the estimation inputs. Tickers
// are sorted so the key is order-independent. Extras distinguish models
// that share assets and method but differ elsewhere (forecaster, return
// frequency).
func Key(assets []string, method Method, lookbackDays int, extras ...string) string {
	sorted := make([]string, len(assets))
	copy(sorted, assets)
	sort.Strings(sorted)
	data := fmt.Sprintf("%s|%s|%d|%s", strings.Join(sorted, ","), method, lookbackDays, strings.Join(extras, "|"))
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:16])
}

// Get returns a cached model if present and not expired.
func (c *Cache) Get(key string) (Model, bool) {
	var payload []byte
	var expiresAt int64
	err := c.db.QueryRow(
		`SELECT payload, expires_at FROM risk_cache WHERE key = ?`, key,
	).Scan(&payload, &expiresAt)
	if err != nil {
		return Model{}, false
	}
	if time.Now().Unix() >= expiresAt {
		return Model{}, false
	}

	var model Model
	if err := msgpack.Unmarshal(payload, &model); err != nil {
		c.log.Warn().Err(err).Msg("Failed to decode cached risk model, discarding")
		return Model{}, false
	}
	return model, true
}

// Set stores a model under key with the given TTL.
func (c *Cache) Set(key string, model Model, ttl time.Duration) error {
	payload, err := msgpack.Marshal(model)
	if err != nil {
		return fmt.Errorf("failed to encode risk model: %w", err)
	}

	expiresAt := time.Now().Add(ttl).Unix()
	if _, err := c.db.Exec(`
		INSERT INTO risk_cache (key, payload, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, expires_at = excluded.expires_at
	`, key, payload, expiresAt); err != nil {
		return fmt.Errorf("failed to store risk model: %w", err)
	}

	c.log.Debug().Str("key", key[:8]).Msg("Cached risk model")
	return nil
}
