package disclosurelog

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ensureInstanceID returns the id stored under ~/.disclosurelog/id,
// creating it on first use. Any filesystem trouble yields an ephemeral id.
func ensureInstanceID() (string, error) {
	dir := ""
	if homeDir, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(homeDir, ".disclosurelog")
	}
	if id, err := loadOrCreateID(dir); err == nil {
		return id, nil
	}
	return uuid.NewString(), nil
}

// loadOrCreateID reads the id kept in dir, writing a fresh one if there is
// none. The error reports that the id could not be persisted.
func loadOrCreateID(dir string) (string, error) {
	if dir == "" {
		return "", os.ErrNotExist
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	idFile := filepath.Join(dir, "id")
	if data, err := os.ReadFile(idFile); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	id := uuid.NewString()
	if err := os.WriteFile(idFile, []byte(id), 0644); err != nil {
		return "", err
	}
	return id, nil
}
