package persistence

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MimeLyc/reactagent/pkg/file"
	"github.com/MimeLyc/reactagent/pkg/log"
)

// DefaultIngestExtensions are the file types indexed by IngestDir
var DefaultIngestExtensions = []string{".md", ".markdown", ".txt"}

const maxIngestSize = 1 << 20

// IngestDir indexes the text files under dir modified after since. Each file
// becomes one document keyed by its slash-separated path relative to dir.
// Files that cannot be read are logged and skipped.
func (s *SQLiteStore) IngestDir(ctx context.Context, dir string, since time.Time, exts ...string) (int, error) {
	if len(exts) == 0 {
		exts = DefaultIngestExtensions
	}
	paths, err := file.FindRecentAfter(dir, since, exts...)
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", dir, err)
	}

	indexed := 0
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return indexed, err
		}

		doc, err := readDocument(dir, p)
		if err != nil {
			log.Warn("Skipping %s: %v", p, err)
			continue
		}
		if err := s.UpsertDocument(ctx, doc); err != nil {
			return indexed, err
		}
		indexed++
	}
	return indexed, nil
}

func readDocument(root, path string) (Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Document{}, err
	}
	if info.Size() > maxIngestSize {
		return Document{}, fmt.Errorf("file larger than %d bytes", maxIngestSize)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}

	rel := file.RelSlash(root, path)
	title := headingTitle(body)
	if title == "" {
		title = file.Stem(path)
	}
	return Document{
		ID:        rel,
		Title:     title,
		Body:      string(body),
		Source:    path,
		Metadata:  map[string]string{"path": rel},
		UpdatedAt: info.ModTime(),
	}, nil
}

// headingTitle returns the first markdown level-one heading, if any
func headingTitle(body []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return ""
}
