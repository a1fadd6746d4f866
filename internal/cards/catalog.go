package cards

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"memematch/internal/domain"
)

// DefaultCatalogSize covers eight full hands with room for a round of redraws
const DefaultCatalogSize = 150

// URLPrefix is prepended to a card's filename to form its URL
const URLPrefix = "/memes/"

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// DefaultCatalog returns the numbered built-in meme set
func DefaultCatalog() []domain.MemeCard {
	catalog := make([]domain.MemeCard, 0, DefaultCatalogSize)
	for i := 1; i <= DefaultCatalogSize; i++ {
		catalog = append(catalog, newCard(fmt.Sprintf("meme_%03d.jpg", i)))
	}
	return catalog
}

// LoadCatalog builds a catalog from the image files at the root of fsys
func LoadCatalog(fsys fs.FS) ([]domain.MemeCard, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read memes dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(path.Ext(e.Name()))] {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	if len(names) < domain.HandSize {
		return nil, fmt.Errorf("%w: catalog has %d images", ErrPoolExhausted, len(names))
	}

	catalog := make([]domain.MemeCard, 0, len(names))
	for _, n := range names {
		catalog = append(catalog, newCard(n))
	}
	return catalog, nil
}

// Index maps card ids to their records
func Index(catalog []domain.MemeCard) map[string]domain.MemeCard {
	idx := make(map[string]domain.MemeCard, len(catalog))
	for _, c := range catalog {
		idx[c.ID] = c
	}
	return idx
}

func newCard(filename string) domain.MemeCard {
	return domain.MemeCard{
		ID:       strings.TrimSuffix(filename, path.Ext(filename)),
		Filename: filename,
		URL:      URLPrefix + filename,
	}
}
