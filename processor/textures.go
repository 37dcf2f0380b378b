package processor

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/flywave/go-cdasset"
	"go.uber.org/zap"
)

func textureFileName(t *cdasset.Texture) string {
	if t.Path != "" {
		return filepath.Base(filepath.FromSlash(t.Path))
	}
	return t.Name
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

// SearchTextures relinks textures whose file is missing to a file with the
// same base name, compared case insensitively, found under folders. Folders
// are searched in order and the first match wins. It returns the number of
// textures left unresolved.
func SearchTextures(db *cdasset.SceneDatabase, folders []string, log *zap.Logger) int {
	if log == nil {
		log = zap.NewNop()
	}
	wanted := make(map[string][]*cdasset.Texture)
	for _, t := range db.Textures() {
		if t.IsEmbedded() || (t.Path != "" && fileExists(t.Path)) {
			continue
		}
		name := strings.ToLower(textureFileName(t))
		if name == "" {
			continue
		}
		wanted[name] = append(wanted[name], t)
	}
	if len(wanted) == 0 {
		return 0
	}

	for _, folder := range folders {
		err := filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				log.Warn("texture search", zap.String("path", path), zap.Error(err))
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			key := strings.ToLower(d.Name())
			matches, ok := wanted[key]
			if !ok {
				return nil
			}
			for _, t := range matches {
				log.Debug("texture relinked", zap.String("texture", t.Name), zap.String("path", path))
				t.Path = path
			}
			delete(wanted, key)
			if len(wanted) == 0 {
				return fs.SkipAll
			}
			return nil
		})
		if err != nil {
			log.Warn("texture search", zap.String("folder", folder), zap.Error(err))
		}
		if len(wanted) == 0 {
			break
		}
	}

	missing := 0
	for _, ts := range wanted {
		for _, t := range ts {
			log.Warn("texture not found", zap.String("texture", t.Name), zap.String("path", t.Path))
			missing++
		}
	}
	return missing
}

// EmbedTextures decodes every referenced texture file into the database.
// Textures that cannot be read keep their reference. It returns the number
// of textures embedded.
func EmbedTextures(db *cdasset.SceneDatabase, log *zap.Logger) int {
	if log == nil {
		log = zap.NewNop()
	}
	embedded := 0
	for _, t := range db.Textures() {
		if t.IsEmbedded() || t.Path == "" {
			continue
		}
		loaded, err := cdasset.CreateTexture(t.Path, t.Repeated)
		if err != nil {
			log.Warn("texture not embedded", zap.String("texture", t.Name), zap.Error(err))
			continue
		}
		t.Size = loaded.Size
		t.Format = loaded.Format
		t.Compressed = loaded.Compressed
		t.Data = loaded.Data
		if t.Name == "" {
			t.Name = loaded.Name
		}
		embedded++
	}
	if embedded > 0 {
		log.Info("textures embedded", zap.Int("count", embedded))
	}
	return embedded
}
