package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/assentworks/assent/pkg/archive"
	"github.com/assentworks/assent/pkg/contracts"
)

// EvidenceBundle is an exportable, independently verifiable slice of
// the audit log.
type EvidenceBundle struct {
	BundleID   string                  `json:"bundle_id"`
	Version    string                  `json:"version"`
	CreatedAt  time.Time               `json:"created_at"`
	StartSeq   uint64                  `json:"start_seq"`
	EndSeq     uint64                  `json:"end_seq"`
	EntryCount int                     `json:"entry_count"`
	Entries    []*contracts.AuditEntry `json:"entries"`
	ChainHead  string                  `json:"chain_head"`
	BundleHash string                  `json:"bundle_hash"`
}

// ExportBundle exports entries matching filter as an evidence bundle.
func (l *Log) ExportBundle(ctx context.Context, filter Filter) (*EvidenceBundle, error) {
	entries, err := l.Query(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}

	bundle := &EvidenceBundle{
		BundleID:   uuid.New().String(),
		Version:    "1.0.0",
		CreatedAt:  l.now().UTC(),
		StartSeq:   entries[0].Seq,
		EndSeq:     entries[len(entries)-1].Seq,
		EntryCount: len(entries),
		Entries:    entries,
		ChainHead:  entries[len(entries)-1].EntryHash,
	}

	hash, err := bundleHash(entries)
	if err != nil {
		return nil, fmt.Errorf("compute bundle hash: %w", err)
	}
	bundle.BundleHash = hash
	return bundle, nil
}

// VerifyBundle checks a bundle without access to the originating log:
// the bundle hash, the internal linkage, and every entry hash.
func VerifyBundle(bundle *EvidenceBundle) error {
	if len(bundle.Entries) == 0 {
		return fmt.Errorf("bundle is empty")
	}

	hash, err := bundleHash(bundle.Entries)
	if err != nil {
		return fmt.Errorf("compute bundle hash: %w", err)
	}
	if hash != bundle.BundleHash {
		return fmt.Errorf("bundle hash mismatch")
	}

	for i, entry := range bundle.Entries {
		if i > 0 && entry.PrevHash != bundle.Entries[i-1].EntryHash {
			return fmt.Errorf("%w: bundle entry %d", ErrChainBroken, i)
		}
		computed, err := entryHash(entry)
		if err != nil {
			return fmt.Errorf("%w: bundle entry %d: %v", ErrChainBroken, i, err)
		}
		if computed != entry.EntryHash {
			return fmt.Errorf("%w: bundle entry %d hash mismatch", ErrChainBroken, i)
		}
	}
	return nil
}

func bundleHash(entries []*contracts.AuditEntry) (string, error) {
	raw, err := json.Marshal(entries)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	return computeHash(canonical), nil
}

// Exporter packages evidence bundles as zip files and pushes them to
// long-term archive storage.
type Exporter struct {
	log   *Log
	store archive.Store
}

// NewExporter creates an exporter over log. store may be nil when no
// archive backend is configured; GeneratePack still works, ArchivePack
// fails closed.
func NewExporter(log *Log, store archive.Store) *Exporter {
	return &Exporter{log: log, store: store}
}

// GeneratePack builds a zip containing the bundle entries and a
// manifest, returning the zip bytes and the bundle hash.
func (e *Exporter) GeneratePack(ctx context.Context, filter Filter) ([]byte, string, error) {
	bundle, err := e.log.ExportBundle(ctx, filter)
	if err != nil {
		return nil, "", err
	}

	entriesJSON, err := json.MarshalIndent(bundle.Entries, "", "  ")
	if err != nil {
		return nil, "", err
	}

	manifest := map[string]any{
		"bundle_id":   bundle.BundleID,
		"version":     bundle.Version,
		"created_at":  bundle.CreatedAt,
		"start_seq":   bundle.StartSeq,
		"end_seq":     bundle.EndSeq,
		"entry_count": bundle.EntryCount,
		"chain_head":  bundle.ChainHead,
		"bundle_hash": bundle.BundleHash,
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("marshal manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	f, err := w.Create("entries.json")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(entriesJSON)

	f, err = w.Create("manifest.json")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(manifestJSON)

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), bundle.BundleHash, nil
}

// ArchivePack generates a pack and stores it in the archive backend,
// returning the content-addressed reference.
func (e *Exporter) ArchivePack(ctx context.Context, filter Filter) (string, error) {
	if e.store == nil {
		return "", fmt.Errorf("audit: archive store not configured")
	}
	pack, _, err := e.GeneratePack(ctx, filter)
	if err != nil {
		return "", err
	}
	ref, err := e.store.Store(ctx, pack)
	if err != nil {
		return "", fmt.Errorf("archive evidence pack: %w", err)
	}
	return ref, nil
}
