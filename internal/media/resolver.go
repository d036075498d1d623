package media

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go2tv.app/go2tv/v2/utils"
)

const octetStream = "application/octet-stream"

// PassthroughResolver plays http(s) URLs as they are and hands local files
// to a Publisher.
type PassthroughResolver struct {
	Publisher Publisher
}

func (r PassthroughResolver) Resolve(ctx context.Context, ref string) (Resolution, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Resolution{}, fmt.Errorf("content reference is empty")
	}

	if parsed, err := url.Parse(ref); err == nil && parsed.Scheme != "" && len(parsed.Scheme) > 1 {
		switch strings.ToLower(parsed.Scheme) {
		case "http", "https":
			return Resolution{PlayableURL: ref, MimeType: DetectURLMediaType(ref)}, nil
		case "file":
			ref = parsed.Path
		default:
			return Resolution{}, fmt.Errorf("unsupported scheme %q", parsed.Scheme)
		}
	}

	info, err := os.Stat(ref)
	if err != nil {
		return Resolution{}, fmt.Errorf("stat %s: %w", ref, err)
	}
	if info.IsDir() {
		return Resolution{}, fmt.Errorf("%s is a directory", ref)
	}
	if r.Publisher == nil {
		return Resolution{}, fmt.Errorf("no publisher for local file %s", ref)
	}
	published, err := r.Publisher.Publish(ctx, ref)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{PlayableURL: published, MimeType: DetectFileMediaType(ref)}, nil
}

func DetectFileMediaType(source string) string {
	mediaType, err := utils.GetMimeDetailsFromPath(source)
	if err == nil && mediaType != "" && mediaType != "/" && mediaType != octetStream {
		return mediaType
	}
	if guessed := mimeForExt(filepath.Ext(source)); guessed != "" {
		return guessed
	}
	return octetStream
}

func DetectURLMediaType(sourceURL string) string {
	if guessed := mimeForExt(mediaExt(sourceURL)); guessed != "" {
		return guessed
	}
	return octetStream
}

func mimeForExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext == "" {
		return ""
	}
	guessed := mime.TypeByExtension(ext)
	if guessed == "" {
		return ""
	}
	return strings.TrimSpace(strings.Split(guessed, ";")[0])
}

func mediaExt(source string) string {
	if parsed, err := url.Parse(source); err == nil && parsed.Path != "" {
		ext := strings.ToLower(path.Ext(parsed.Path))
		if isSafeExt(ext) {
			return ext
		}
	}
	ext := strings.ToLower(filepath.Ext(source))
	if isSafeExt(ext) {
		return ext
	}
	return ""
}

func isSafeExt(ext string) bool {
	if ext == "" || len(ext) > 16 || !strings.HasPrefix(ext, ".") {
		return false
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
