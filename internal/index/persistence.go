package index

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tyouritsugun/curated-heuristic-loop/internal/kberrors"
)

// snapshotHeader is the versioned header stored alongside the ANN snapshot
// artifact. If ModelVersion disagrees with the current config, the snapshot
// is ignored and a rebuild is forced.
type snapshotHeader struct {
	ModelVersion string
	Dimension    int
	Size         int
	CreatedAt    time.Time
}

type snapshotMeta struct {
	Header     snapshotHeader
	IDToEntity map[uint64]Entity
	LiveByKey  map[entityKey][]uint64
	Tombstones map[uint64]struct{}
	NextID     uint64
}

// Save persists the ANN artifact and the mapping table as one coherent
// snapshot (graph file + sidecar metadata file), atomically via
// write-to-temp-then-rename.
func (m *Manager) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}

	tmpGraph := path + ".tmp"
	gf, err := os.Create(tmpGraph)
	if err != nil {
		return fmt.Errorf("create graph file: %w", err)
	}
	if err := m.graph.Export(gf); err != nil {
		gf.Close()
		os.Remove(tmpGraph)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := gf.Close(); err != nil {
		os.Remove(tmpGraph)
		return err
	}
	if err := os.Rename(tmpGraph, path); err != nil {
		os.Remove(tmpGraph)
		return err
	}

	metaPath := path + ".meta"
	tmpMeta := metaPath + ".tmp"
	mf, err := os.Create(tmpMeta)
	if err != nil {
		return fmt.Errorf("create metadata file: %w", err)
	}

	meta := snapshotMeta{
		Header: snapshotHeader{
			ModelVersion: m.modelVersion,
			Dimension:    m.cfg.Dimensions,
			Size:         len(m.idToEntity),
			CreatedAt:    time.Now().UTC(),
		},
		IDToEntity: m.idToEntity,
		LiveByKey:  m.liveByKey,
		Tombstones: m.tombstones,
		NextID:     m.nextID,
	}
	if err := gob.NewEncoder(mf).Encode(meta); err != nil {
		mf.Close()
		os.Remove(tmpMeta)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := mf.Close(); err != nil {
		os.Remove(tmpMeta)
		return err
	}
	return os.Rename(tmpMeta, metaPath)
}

// Load reopens a persisted snapshot. If the header's model version
// disagrees with the manager's configured model version, or the artifact is
// missing/inconsistent, Load returns a recoverable error and the caller
// should trigger RebuildFromEmbeddings instead.
func (m *Manager) Load(path string) error {
	metaPath := path + ".meta"

	mf, err := os.Open(metaPath)
	if err != nil {
		return kberrors.New(kberrors.CodeSnapshotInconsistent, "snapshot metadata missing").WithDetail("path", metaPath)
	}
	defer mf.Close()

	var meta snapshotMeta
	if err := gob.NewDecoder(mf).Decode(&meta); err != nil {
		return kberrors.Wrap(kberrors.CodeSnapshotInconsistent, "snapshot metadata corrupt", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if meta.Header.ModelVersion != m.modelVersion {
		return kberrors.New(kberrors.CodeSnapshotInconsistent, "snapshot model version mismatch").
			WithDetail("snapshot_model", meta.Header.ModelVersion).
			WithDetail("configured_model", m.modelVersion)
	}

	gfile, err := os.Open(path)
	if err != nil {
		return kberrors.Wrap(kberrors.CodeSnapshotInconsistent, "snapshot graph missing", err)
	}
	defer gfile.Close()

	reader := bufio.NewReader(gfile)
	if err := m.graph.Import(reader); err != nil {
		return kberrors.Wrap(kberrors.CodeSnapshotInconsistent, "snapshot graph import failed", err)
	}

	m.idToEntity = meta.IDToEntity
	m.liveByKey = meta.LiveByKey
	m.tombstones = meta.Tombstones
	m.nextID = meta.NextID
	m.unsavedMutations = 0

	return nil
}
