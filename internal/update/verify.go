package update

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"example.com/dflashgate/internal/common"
	"example.com/dflashgate/internal/crypto"
	"example.com/dflashgate/internal/manifest"
)

// A release extracted from a .update.zip. Every file listed in its signed
// manifest has been re-hashed on disk before a Release is handed out.
type Release struct {
	Root     string
	Version  string
	Manifest manifest.Manifest
}

// requiredReleaseFiles are the manifest entries every dflashgate release
// must carry: both shipped binaries, the bundled dump profiles and the
// version and license markers. Paths are slash-separated as in the
// manifest itself.
var requiredReleaseFiles = []string{
	versionFileName,
	licenseFileName,
	binDirName + "/" + daemonBinary,
	binDirName + "/" + cliBinary,
	profileIndexPath,
}

// verifyExtracted checks the detached manifest signature of an extracted
// release and then re-hashes every file the manifest lists.
func verifyExtracted(root string, certPEM []byte) (Release, error) {
	if root == "" {
		return Release{}, errors.New("empty root")
	}
	manifestBytes, err := os.ReadFile(filepath.Join(root, manifestFileName))
	if err != nil {
		return Release{}, fmt.Errorf("read manifest: %w", err)
	}
	sigBytes, err := os.ReadFile(filepath.Join(root, manifestSigName))
	if err != nil {
		return Release{}, fmt.Errorf("read signature: %w", err)
	}
	jws, err := crypto.ParseDetachedJWS(sigBytes)
	if err != nil {
		return Release{}, fmt.Errorf("parse jws: %w", err)
	}
	if err := crypto.VerifyDetachedJWS(manifestBytes, jws, certPEM); err != nil {
		return Release{}, fmt.Errorf("verify signature: %w", err)
	}
	var mani manifest.Manifest
	if err := json.Unmarshal(manifestBytes, &mani); err != nil {
		return Release{}, fmt.Errorf("parse manifest: %w", err)
	}
	if mani.ShaAlgo != "sha256" {
		return Release{}, fmt.Errorf("unsupported manifest algorithm %q", mani.ShaAlgo)
	}
	if len(mani.Items) == 0 {
		return Release{}, errors.New("manifest has no items")
	}
	if err := checkReleaseContents(root, mani.Items); err != nil {
		return Release{}, err
	}
	versionBytes, err := os.ReadFile(filepath.Join(root, versionFileName))
	if err != nil {
		return Release{}, fmt.Errorf("read version: %w", err)
	}
	version := strings.TrimSpace(string(versionBytes))
	if version == "" {
		return Release{}, errors.New("empty version in update package")
	}
	return Release{Root: root, Version: version, Manifest: mani}, nil
}

// checkReleaseContents re-hashes every manifest item and confirms that the
// files a release cannot run without are all covered by the manifest.
func checkReleaseContents(root string, items []manifest.Item) error {
	covered := make(map[string]bool, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.Path) == "" {
			return errors.New("manifest item missing path")
		}
		cleaned := filepath.Clean(filepath.FromSlash(item.Path))
		if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(os.PathSeparator)) {
			return fmt.Errorf("manifest item %q escapes package root", item.Path)
		}
		if filepath.IsAbs(cleaned) {
			return fmt.Errorf("manifest item %q is absolute", item.Path)
		}
		path := filepath.Join(root, cleaned)
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("manifest item %q: %w", item.Path, err)
		}
		if info.IsDir() {
			return fmt.Errorf("manifest item %q is a directory", item.Path)
		}
		hash, size, err := common.Sha256OfFile(path)
		if err != nil {
			return fmt.Errorf("hash %q: %w", item.Path, err)
		}
		if hash != item.Sha256 {
			return fmt.Errorf("manifest digest mismatch for %s", item.Path)
		}
		if size != item.Size {
			return fmt.Errorf("manifest size mismatch for %s", item.Path)
		}
		covered[filepath.ToSlash(cleaned)] = true
	}
	for _, name := range requiredReleaseFiles {
		if !covered[name] {
			return fmt.Errorf("update package manifest does not cover %s", name)
		}
	}
	return nil
}
