package textraster

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"

	"github.com/thereceipt/label-engine/internal/labelerr"
	"github.com/thereceipt/label-engine/internal/logging"
)

// IsCJK reports whether r belongs to a CJK ideograph block served by the CJK face
func IsCJK(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF: // CJK Unified Ideographs
		return true
	case r >= 0x3400 && r <= 0x4DBF: // Extension A
		return true
	case r >= 0x20000 && r <= 0x2A6DF: // Extension B
		return true
	}
	return false
}

// loadFont reads a TrueType/OpenType file; collections use their first face
func loadFont(path string) (*opentype.Font, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read font %s: %w", path, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".ttc" || ext == ".otc" {
		collection, err := opentype.ParseCollection(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse font collection %s: %w", path, err)
		}
		return collection.Font(0)
	}

	f, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font %s: %w", path, err)
	}
	return f, nil
}

func loadLatin(path string) (*opentype.Font, error) {
	if path == "" {
		f, err := opentype.Parse(gobold.TTF)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to parse built-in font: %v", labelerr.ErrRasterization, err)
		}
		return f, nil
	}

	f, err := loadFont(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", labelerr.ErrRasterization, err)
	}
	return f, nil
}

// loadCJK resolves the CJK face: explicit path, then system fonts, then the Latin face
func loadCJK(path string, searchSystem bool, latin *opentype.Font) (*opentype.Font, error) {
	if path != "" {
		f, err := loadFont(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", labelerr.ErrRasterization, err)
		}
		return f, nil
	}

	if searchSystem {
		for _, candidate := range systemCJKFonts() {
			if _, err := os.Stat(candidate); err != nil {
				continue
			}
			f, err := loadFont(candidate)
			if err != nil {
				logging.Logger().Warn("skipping unreadable CJK font", "path", candidate, "error", err)
				continue
			}
			logging.Logger().Debug("using system CJK font", "path", candidate)
			return f, nil
		}
	}

	logging.Logger().Warn("no CJK font found, CJK characters fall back to the Latin face")
	return latin, nil
}

func systemCJKFonts() []string {
	switch runtime.GOOS {
	case "windows":
		root := os.Getenv("WINDIR")
		if root == "" {
			root = `C:\Windows`
		}
		return []string{
			filepath.Join(root, "Fonts", "msyh.ttc"),
			filepath.Join(root, "Fonts", "simhei.ttf"),
			filepath.Join(root, "Fonts", "simsun.ttc"),
		}
	case "darwin":
		return []string{
			"/System/Library/Fonts/PingFang.ttc",
			"/System/Library/Fonts/STHeiti Medium.ttc",
			"/System/Library/Fonts/Hiragino Sans GB.ttc",
			"/Library/Fonts/Arial Unicode.ttf",
		}
	default:
		return []string{
			"/usr/share/fonts/opentype/noto/NotoSansCJK-Bold.ttc",
			"/usr/share/fonts/opentype/noto/NotoSansCJK-Regular.ttc",
			"/usr/share/fonts/noto-cjk/NotoSansCJK-Regular.ttc",
			"/usr/share/fonts/google-noto-cjk/NotoSansCJK-Regular.ttc",
			"/usr/share/fonts/truetype/wqy/wqy-zenhei.ttc",
			"/usr/share/fonts/truetype/wqy/wqy-microhei.ttc",
			"/usr/share/fonts/wenquanyi/wqy-zenhei/wqy-zenhei.ttc",
			"/usr/share/fonts/truetype/droid/DroidSansFallbackFull.ttf",
		}
	}
}
