package reporting

import (
	"encoding/json"
	"os"
)

// FormatJSON returns the snapshot as indented JSON.
func FormatJSON(s Snapshot) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// WriteJSON writes the snapshot to path.
func WriteJSON(s Snapshot, path string) error {
	data, err := FormatJSON(s)
	if err != nil {
		return err
	}
	if err := EnsureDirectoryExists(path); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
