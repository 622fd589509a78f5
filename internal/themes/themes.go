package themes

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/voc-classifier/backend/pkg/logger"
)

// NotMatched is the fallback theme offered to the model alongside the catalog.
const NotMatched = "not_matched"

// ErrConfig marks an unreadable theme configuration. Callers degrade to an
// empty catalog instead of aborting.
var ErrConfig = errors.New("theme config error")

// Catalog is the ordered set of configured theme names.
type Catalog struct {
	names []string
}

func NewCatalog(names ...string) *Catalog {
	seen := make(map[string]struct{}, len(names))
	c := &Catalog{}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		c.names = append(c.names, n)
	}
	return c
}

// Names returns the configured themes in file order.
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// WithFallback returns the configured themes followed by NotMatched.
func (c *Catalog) WithFallback() []string {
	return append(c.Names(), NotMatched)
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.names)
}

// Key is a stable identity for memoization.
func (c *Catalog) Key() string {
	return strings.Join(c.Names(), "\x1f")
}

// Load reads a JSON object of theme name to metadata and keeps its keys in
// file order. On failure it returns an empty catalog together with an error
// wrapping ErrConfig.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return NewCatalog(), fmt.Errorf("%w: read %s: %v", ErrConfig, path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	if !gjson.ValidBytes(data) {
		return NewCatalog(), fmt.Errorf("%w: invalid JSON", ErrConfig)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return NewCatalog(), fmt.Errorf("%w: expected a JSON object of themes", ErrConfig)
	}

	var names []string
	root.ForEach(func(key, _ gjson.Result) bool {
		names = append(names, key.String())
		return true
	})
	return NewCatalog(names...), nil
}

// LoadOrEmpty logs configuration errors and always returns a usable catalog.
func LoadOrEmpty(path string) *Catalog {
	catalog, err := Load(path)
	if err != nil {
		logger.Warn("Failed to load themes configuration, continuing without themes",
			zap.String("path", path),
			zap.Error(err),
		)
		return catalog
	}
	logger.Info("Themes configuration loaded", zap.Int("themes", catalog.Len()))
	return catalog
}
