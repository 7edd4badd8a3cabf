package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"dissonance.ai/internal/persistence/snapshot"
)

type GameArchiveMeta struct {
	GameID    string    `json:"game_id"`
	EndTick   uint64    `json:"end_tick"`
	Seed      int64     `json:"seed"`
	Snapshot  string    `json:"snapshot"`
	CreatedAt string    `json:"created_at"`
	Names     [2]string `json:"names"`
	Loser     int       `json:"loser"` // -1 when nobody lost
	Voltage   [2]int    `json:"nucleus_voltage"`
	Status    string    `json:"status"`
}

// ArchiveFinalSnapshot copies the end-of-game snapshot into
// `dataDir/archives/<game_id>/` next to a meta.json summary. Snapshots of games
// that are still running are not archived.
func ArchiveFinalSnapshot(dataDir, snapshotPath string, snap snapshot.Snapshot) (archivedPath string, archived bool, err error) {
	if snap.Status != "CLOSED" {
		return "", false, nil
	}
	if snap.Header.GameID == "" {
		return "", false, fmt.Errorf("archive: snapshot has no game id")
	}

	archiveDir := filepath.Join(dataDir, "archives", snap.Header.GameID)
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", false, err
	}
	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", false, err
	}

	meta := GameArchiveMeta{
		GameID:    snap.Header.GameID,
		EndTick:   snap.Header.Tick,
		Seed:      snap.Seed,
		Snapshot:  filepath.Base(dst),
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Loser:     -1,
		Status:    snap.Status,
	}
	for i, p := range snap.Players {
		meta.Names[i] = p.Name
		meta.Voltage[i] = p.Nucleus.Voltage
		if p.Lost && meta.Loser < 0 {
			meta.Loser = i
		}
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}
	return dst, true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
