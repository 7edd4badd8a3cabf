package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dissonance.ai/internal/persistence/indexdb"
	"dissonance.ai/internal/persistence/snapshot"
	"dissonance.ai/internal/sim/catalogs"
	"dissonance.ai/internal/sim/game"
	"dissonance.ai/internal/sim/tuning"
)

type runtimeIndex interface {
	game.TickLogger
	game.AuditLogger
	Close() error
	UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error
	RecordGameStart(id string, seed int64, names [game.Seats]string, started time.Time)
	RecordGameEnd(id string, loser int, ticks uint64, ended time.Time, snapshotPath string)
	RecordSnapshot(path string, snap snapshot.Snapshot)
}

func openRuntimeIndex(gameDir, gameID string, disableDB bool, logger *log.Logger) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("DSN_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		idx, err := indexdb.OpenSQLite(filepath.Join(gameDir, "index", "game.sqlite"))
		if err != nil {
			return nil, err
		}
		return idx, nil
	case "d1":
		endpoint := strings.TrimSpace(os.Getenv("DSN_INDEX_D1_INGEST_URL"))
		token := strings.TrimSpace(os.Getenv("DSN_INDEX_D1_TOKEN"))
		if endpoint == "" {
			return nil, fmt.Errorf("DSN_INDEX_BACKEND=d1 but DSN_INDEX_D1_INGEST_URL is empty")
		}
		idx, err := indexdb.OpenD1(indexdb.D1Config{
			Endpoint:      endpoint,
			Token:         token,
			GameID:        gameID,
			BatchSize:     envInt("DSN_INDEX_D1_BATCH_SIZE", 128),
			FlushInterval: time.Duration(envInt("DSN_INDEX_D1_FLUSH_MS", 500)) * time.Millisecond,
			HTTPTimeout:   time.Duration(envInt("DSN_INDEX_D1_TIMEOUT_MS", 5000)) * time.Millisecond,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported DSN_INDEX_BACKEND: %s", backend)
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
