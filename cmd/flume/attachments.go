package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/flumechat/flume/client"
)

// expandAttachments resolves -attach globs into content blocks. Globs
// support ** (doublestar). A glob matching nothing is an error — a typo'd
// path silently attaching nothing is worse than failing at startup.
func expandAttachments(globs []string) ([]client.Block, error) {
	var blocks []client.Block
	for _, glob := range globs {
		matches, err := doublestar.FilepathGlob(glob)
		if err != nil {
			return nil, fmt.Errorf("attach %q: %w", glob, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("attach %q: no files matched", glob)
		}
		for _, path := range matches {
			info, err := os.Stat(path)
			if err != nil {
				return nil, fmt.Errorf("attach %q: %w", path, err)
			}
			if info.IsDir() {
				continue
			}
			block, err := blockForFile(path)
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, block)
		}
	}
	return blocks, nil
}

// blockForFile reads a file and classifies it by extension: images and audio
// get their own block types, everything else is a document.
func blockForFile(path string) (client.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return client.Block{}, fmt.Errorf("attach %q: %w", path, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	switch ext {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return client.Block{Type: "image", Data: data, MimeType: mimeType}, nil
	case ".mp3", ".wav", ".m4a", ".ogg", ".flac":
		return client.Block{Type: "audio", Filename: filepath.Base(path), Data: data, MimeType: mimeType}, nil
	default:
		return client.Block{Type: "file", Filename: filepath.Base(path), Data: data, MimeType: mimeType}, nil
	}
}
