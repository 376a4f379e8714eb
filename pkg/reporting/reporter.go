package reporting

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Export writes s in the format implied by the path extension: .xlsx, .json
// or .csv (signals only).
func Export(s Snapshot, path string) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".xlsx":
		return WriteXLSX(s, path)
	case ".json":
		return WriteJSON(s, path)
	case ".csv":
		return WriteSignalsCSV(s, path)
	default:
		return fmt.Errorf("unsupported export format %q", ext)
	}
}
