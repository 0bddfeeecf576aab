// Package copyengine moves file trees between containers through the control
// plane's archive endpoints.
//
// Its correctness-critical job is exclusion: a template refresh must never
// overwrite a tenant's per-instance files (runtime config, environment file).
// Exclusion happens by rewriting the tar stream in memory before upload, so
// an excluded file is guaranteed absent from the uploaded archive rather than
// merely skipped on a best-effort basis.
package copyengine

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/rentafleet/orchestrator/common"
	"github.com/rentafleet/orchestrator/orchestrator"
)

// Failure classes for copy operations.
var (
	// ErrSourceDownload wraps failures reading the source archive.
	ErrSourceDownload = errors.New("source download failed")

	// ErrTargetUpload wraps failures writing the destination archive.
	ErrTargetUpload = errors.New("target upload failed")

	// ErrArchiveRewrite reports a malformed archive during rewrite.
	ErrArchiveRewrite = errors.New("archive rewrite failed")
)

// Engine copies trees between containers using an orchestrator client.
type Engine struct {
	client orchestrator.Client
	log    *common.ContextLogger
}

// New creates a copy engine. A nil logger falls back to the global one.
func New(client orchestrator.Client, log *common.ContextLogger) *Engine {
	if log == nil {
		log = common.ServiceLogger(nil, "copyengine")
	}
	return &Engine{client: client, log: log}
}

// Options controls how CopyTree rewrites the archive in flight.
type Options struct {
	// ExcludeNames drops every archive entry whose base filename matches,
	// at any depth.
	ExcludeNames []string

	// FlattenSourceDir strips the top-level directory component from every
	// entry, so "html/index.html" lands as "index.html" under destPath.
	FlattenSourceDir bool
}

func (o Options) rewriteNeeded() bool {
	return len(o.ExcludeNames) > 0 || o.FlattenSourceDir
}

// CopyTree downloads sourcePath from sourceContainer, applies the rewrite
// options, and uploads the result to destPath in targetContainer. It returns
// the number of archive bytes uploaded.
//
// With zero options the archive passes through byte-for-byte.
func (e *Engine) CopyTree(ctx context.Context, sourceContainer, targetContainer, sourcePath, destPath string, opts Options) (int64, error) {
	data, err := e.client.DownloadArchive(ctx, sourceContainer, sourcePath)
	if err != nil {
		return 0, fmt.Errorf("%w: %s:%s: %v", ErrSourceDownload, sourceContainer, sourcePath, err)
	}

	if opts.rewriteNeeded() {
		data, err = RewriteArchive(data, opts)
		if err != nil {
			return 0, err
		}
	}

	if err := e.client.UploadArchive(ctx, targetContainer, destPath, data); err != nil {
		return 0, fmt.Errorf("%w: %s:%s: %v", ErrTargetUpload, targetContainer, destPath, err)
	}

	e.log.WithFields(map[string]interface{}{
		"source": sourceContainer + ":" + sourcePath,
		"target": targetContainer + ":" + destPath,
		"bytes":  len(data),
	}).Info("copied tree between containers")

	return int64(len(data)), nil
}

// RewriteArchive streams a tar archive through the exclusion and flattening
// rules and returns the rewritten archive.
func RewriteArchive(data []byte, opts Options) ([]byte, error) {
	excluded := make(map[string]struct{}, len(opts.ExcludeNames))
	for _, name := range opts.ExcludeNames {
		excluded[name] = struct{}{}
	}

	reader := tar.NewReader(bytes.NewReader(data))
	var out bytes.Buffer
	writer := tar.NewWriter(&out)

	for {
		hdr, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrArchiveRewrite, err)
		}

		if _, drop := excluded[path.Base(strings.TrimSuffix(hdr.Name, "/"))]; drop {
			continue
		}

		name := hdr.Name
		if opts.FlattenSourceDir {
			name = stripTopDir(name)
			if name == "" {
				// The top-level directory entry itself vanishes
				continue
			}
		}

		hdr.Name = name
		if err := writer.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrArchiveRewrite, err)
		}
		if _, err := io.Copy(writer, reader); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrArchiveRewrite, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchiveRewrite, err)
	}
	return out.Bytes(), nil
}

// stripTopDir removes the first path component. "frontend/app.json" becomes
// "app.json"; "frontend/" becomes "".
func stripTopDir(name string) string {
	trimmed := strings.TrimPrefix(name, "./")
	i := strings.IndexByte(trimmed, '/')
	if i < 0 {
		return ""
	}
	rest := trimmed[i+1:]
	return rest
}

// TarFile packs a single file into an in-memory tar archive, ready for
// UploadArchive. Used for pushing generated files (runtime config, server
// config) into a container directory.
func TarFile(name string, content []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := tar.NewWriter(&buf)

	hdr := &tar.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(content)),
	}
	if err := writer.WriteHeader(hdr); err != nil {
		return nil, fmt.Errorf("write tar header for %q: %w", name, err)
	}
	if _, err := writer.Write(content); err != nil {
		return nil, fmt.Errorf("write tar content for %q: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close tar archive: %w", err)
	}
	return buf.Bytes(), nil
}
