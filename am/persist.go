package am

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/teranos/treesync/errors"
	"github.com/teranos/treesync/logger"
)

// backupCount is how many rotated copies Set keeps (.back1 newest)
const backupCount = 3

// UserConfigPath returns ~/.treesync/am.toml
func UserConfigPath() string {
	dir := UserConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "am.toml")
}

// Set writes one dotted key into the user config file, keeping rotated
// backups, and drops the cached configuration so the next Load sees it.
func Set(key string, value interface{}) error {
	if key == "" || strings.HasPrefix(key, ".") || strings.HasSuffix(key, ".") {
		return errors.Newf("invalid config key %q", key)
	}

	path := UserConfigPath()
	if path == "" {
		return errors.New("could not determine home directory")
	}
	config, err := readTOML(path)
	if err != nil {
		return err
	}

	parts := strings.Split(key, ".")
	section := config
	for _, p := range parts[:len(parts)-1] {
		next, ok := section[p].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			section[p] = next
		}
		section = next
	}
	section[parts[len(parts)-1]] = value

	if err := writeTOML(path, config); err != nil {
		return err
	}
	Reset()
	return nil
}

func readTOML(path string) (map[string]interface{}, error) {
	config := make(map[string]interface{})
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	return config, nil
}

func writeTOML(path string, config map[string]interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), DefaultDirPermissions); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}
	if err := createBackup(path); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	data, err := toml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if w := GetGlobalWatcher(); w != nil {
		w.MarkOwnWrite()
	}
	if err := os.WriteFile(path, data, DefaultFilePermissions); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

// createBackup rotates .back1 .. .backN and copies the current file to .back1
func createBackup(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	oldest := backupName(path, backupCount)
	if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
		logger.Warnw("Failed to delete old config backup", logger.FieldPath, oldest, logger.FieldError, err)
	}
	for i := backupCount - 1; i >= 1; i-- {
		from := backupName(path, i)
		if _, err := os.Stat(from); err != nil {
			continue
		}
		if err := os.Rename(from, backupName(path, i+1)); err != nil {
			return errors.Wrapf(err, "failed to rotate %s", from)
		}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}
	return os.WriteFile(backupName(path, 1), content, DefaultFilePermissions)
}

func backupName(path string, n int) string {
	return path + ".back" + string(rune('0'+n))
}

// isBackupFile checks if the file is a rotated config backup
func isBackupFile(path string) bool {
	base := filepath.Base(path)
	for i := 1; i <= backupCount; i++ {
		if base == backupName("am.toml", i) {
			return true
		}
	}
	return false
}
