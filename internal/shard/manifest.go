package shard

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// Manifest is the sealed record written alongside a completed shard.
// FileHash is a BLAKE3 digest over the shard's full byte content, so
// any mutation of a sealed file — even a comment edit — is detectable.
type Manifest struct {
	ShardName  string `json:"shard_name"`
	EventCount int    `json:"event_count"`
	ByteLen    int64  `json:"byte_len"`
	FileHash   string `json:"file_hash"`
}

// ReadManifest loads the manifest for a sealed (year, month) shard.
func (m *Manager) ReadManifest(year, month int) (Manifest, error) {
	data, err := os.ReadFile(m.manifestPath(year, month)) // #nosec G304 -- path derived from validated year/month
	if err != nil {
		return Manifest{}, fmt.Errorf("shard: reading manifest %04d-%02d: %w", year, month, err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("shard: parsing manifest %04d-%02d: %w", year, month, err)
	}
	return manifest, nil
}

// ComputeManifest derives the manifest fields from the shard file as it
// currently exists on disk, without writing anything.
func (m *Manager) ComputeManifest(year, month int) (Manifest, error) {
	path := m.shardPath(year, month)
	data, err := os.ReadFile(path) // #nosec G304 -- path derived from validated year/month
	if err != nil {
		return Manifest{}, fmt.Errorf("shard: reading %s: %w", path, err)
	}
	count := 0
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" || line[0] == '#' {
			continue
		}
		count++
	}
	sum := blake3.Sum256(data)
	return Manifest{
		ShardName:  shardBaseName(year, month) + ".events",
		EventCount: count,
		ByteLen:    int64(len(data)),
		FileHash:   "blake3:" + hex.EncodeToString(sum[:]),
	}, nil
}

// IsSealed reports whether the (year, month) shard already has a
// manifest on disk.
func (m *Manager) IsSealed(year, month int) bool {
	_, err := os.Stat(m.manifestPath(year, month))
	return err == nil
}

// WriteManifest computes and atomically persists the manifest for a
// shard, sealing it. Subsequent Append/AppendRaw calls against this
// (year, month) fail with *SealedShardMutationError.
func (m *Manager) WriteManifest(year, month int) (Manifest, error) {
	manifest, err := m.ComputeManifest(year, month)
	if err != nil {
		return Manifest{}, err
	}
	if err := writeManifestAtomic(m.manifestPath(year, month), manifest); err != nil {
		return Manifest{}, err
	}
	return manifest, nil
}

func writeManifestAtomic(path string, manifest Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("shard: marshaling manifest: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("shard: creating temp manifest: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("shard: writing manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("shard: fsyncing manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("shard: closing manifest: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("shard: replacing manifest: %w", err)
	}
	return nil
}
