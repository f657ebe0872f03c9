package action

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Hash returns the first 8 hex characters of the SHA-256 digest of script,
// which calls sufficient for uniqueness within a workspace.
func Hash(script string) string {
	sum := sha256.Sum256([]byte(script))
	return hex.EncodeToString(sum[:])[:8]
}

// WriteCache idempotently writes script to <cacheDir>/<hash>.<ext> with the
// executable bit set, skipping the write if the entry already exists
// (content is identical by construction, so a racing writer is harmless).
func WriteCache(cacheDir, hash string, lang Language, script string) (string, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", errors.Wrapf(err, "creating cache dir %s", cacheDir)
	}
	path := filepath.Join(cacheDir, hash+"."+lang.Ext())
	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !os.IsNotExist(err) {
		return "", errors.Wrapf(err, "stat %s", path)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(script), 0o755); err != nil {
		return "", errors.Wrapf(err, "writing %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		// Another writer may have won the race; that's fine since content
		// is identical by construction.
		if _, statErr := os.Stat(path); statErr == nil {
			_ = os.Remove(tmp)
			return path, nil
		}
		return "", errors.Wrapf(err, "renaming %s to %s", tmp, path)
	}
	return path, nil
}

// SymlinkScript makes <taskDir>/script.<ext> a symlink to the cache entry at
// cachePath, replacing any previous symlink at that location.
func SymlinkScript(taskDir, cachePath string, lang Language) error {
	link := filepath.Join(taskDir, "script."+lang.Ext())
	_ = os.Remove(link)
	rel, err := filepath.Rel(taskDir, cachePath)
	if err != nil {
		rel = cachePath
	}
	if err := os.Symlink(rel, link); err != nil {
		return errors.Wrapf(err, "symlinking %s to %s", link, cachePath)
	}
	return nil
}
