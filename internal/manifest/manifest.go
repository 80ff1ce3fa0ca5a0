package manifest

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"example.com/dflashgate/internal/common"
)

// Item records one file covered by a manifest.
type Item struct {
	Path   string `json:"path"`
	Sha256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// SignatureInfo describes a detached signature produced over the saved
// manifest document. The metadata travels in API responses only; the
// signed file itself never embeds it.
type SignatureInfo struct {
	Algorithm string    `json:"algorithm"`
	Signer    string    `json:"signer,omitempty"`
	SignedAt  time.Time `json:"signedAt"`
}

// Manifest lists the digests of a set of artifacts. It is the payload
// for detached JWS signing and the source of the QR code printed on
// reports.
type Manifest struct {
	ShaAlgo   string         `json:"shaAlgo"`
	CreatedAt time.Time      `json:"createdAt"`
	Items     []Item         `json:"items"`
	Signature *SignatureInfo `json:"signature,omitempty"`
}

// Build hashes every path and assembles a manifest. Entries are sorted
// by path so identical inputs produce identical manifests.
func Build(paths []string) (Manifest, error) {
	if len(paths) == 0 {
		return Manifest{}, errors.New("no inputs")
	}
	m := Manifest{
		ShaAlgo:   "sha256",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Items:     make([]Item, 0, len(paths)),
	}
	for _, path := range paths {
		hash, size, err := common.Sha256OfFile(path)
		if err != nil {
			return Manifest{}, err
		}
		m.Items = append(m.Items, Item{
			Path:   filepath.Base(path),
			Sha256: hash,
			Size:   size,
		})
	}
	sort.Slice(m.Items, func(i, j int) bool { return m.Items[i].Path < m.Items[j].Path })
	return m, nil
}

// Save writes the manifest as indented JSON.
func Save(m Manifest, out string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0o644)
}

// Load reads a manifest written by Save.
func Load(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(data, &m)
	return m, err
}

// Digest returns a single hex digest over the item digests, suitable
// for QR encoding. The timestamp is excluded so re-signing the same
// artifacts yields the same digest.
func (m Manifest) Digest() string {
	stable := struct {
		ShaAlgo string `json:"shaAlgo"`
		Items   []Item `json:"items"`
	}{ShaAlgo: m.ShaAlgo, Items: m.Items}
	data, _ := json.Marshal(stable)
	return common.Sha256OfBytes(data)
}
