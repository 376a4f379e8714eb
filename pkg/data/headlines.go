package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/afadxb/bot4.1/pkg/types"
)

// JSONHeadlineSource reads catalyst headlines from a JSON array file. The
// file is re-read on every call so an external job can rewrite it between
// cycles.
type JSONHeadlineSource struct {
	path string
}

// NewJSONHeadlineSource creates a file-backed headline source.
func NewJSONHeadlineSource(path string) *JSONHeadlineSource {
	return &JSONHeadlineSource{path: path}
}

// Headlines returns the headlines for symbol, newest first. A missing file
// yields none.
func (s *JSONHeadlineSource) Headlines(ctx context.Context, symbol string) ([]types.Headline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read headlines %s: %w", s.path, err)
	}

	var all []types.Headline
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("decode headlines %s: %w", s.path, err)
	}

	var out []types.Headline
	for _, h := range all {
		if strings.EqualFold(h.Symbol, symbol) {
			h.Symbol = strings.ToUpper(h.Symbol)
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PublishedAt.After(out[j].PublishedAt) })
	return out, nil
}
