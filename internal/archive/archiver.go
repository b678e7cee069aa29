// Package archive persists the extracted document and the recognition result
// of a finished job under a key derived from its request id.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"golang.org/x/sync/errgroup"
)

const (
	documentName = "result.pdf"
	resultName   = "result.json"
)

// Archiver writes and reads the two artifacts of a job.
type Archiver struct {
	store ObjectStore
	root  string
}

func New(store ObjectStore, root string) *Archiver {
	return &Archiver{store: store, root: strings.Trim(root, "/")}
}

// KeyPrefix returns <root>/<last path segment of requestID>.
func (a *Archiver) KeyPrefix(requestID string) (string, error) {
	trimmed := strings.TrimRight(requestID, "/")
	suffix := trimmed[strings.LastIndex(trimmed, "/")+1:]
	if suffix == "" || suffix == "." || suffix == ".." {
		return "", fmt.Errorf("request id %q has no usable suffix", requestID)
	}
	if a.root == "" {
		return suffix, nil
	}
	return path.Join(a.root, suffix), nil
}

// Archive writes the document and the result, overwriting earlier copies.
func (a *Archiver) Archive(ctx context.Context, requestID string, pdf []byte, result json.RawMessage) error {
	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return a.StoreDocument(gctx, requestID, pdf) })
	eg.Go(func() error { return a.StoreResult(gctx, requestID, result) })
	return eg.Wait()
}

// StoreDocument writes the extracted PDF.
func (a *Archiver) StoreDocument(ctx context.Context, requestID string, pdf []byte) error {
	prefix, err := a.KeyPrefix(requestID)
	if err != nil {
		return err
	}
	if err := a.store.Put(ctx, path.Join(prefix, documentName), pdf, "application/pdf"); err != nil {
		return fmt.Errorf("archive document: %w", err)
	}
	return nil
}

// StoreResult writes the result payload as indented UTF-8 JSON.
func (a *Archiver) StoreResult(ctx context.Context, requestID string, result json.RawMessage) error {
	prefix, err := a.KeyPrefix(requestID)
	if err != nil {
		return err
	}
	body, err := formatResult(result)
	if err != nil {
		return err
	}
	if err := a.store.Put(ctx, path.Join(prefix, resultName), body, "application/json; charset=utf-8"); err != nil {
		return fmt.Errorf("archive result: %w", err)
	}
	return nil
}

// LoadDocument reads back a document stored by StoreDocument.
func (a *Archiver) LoadDocument(ctx context.Context, requestID string) ([]byte, error) {
	prefix, err := a.KeyPrefix(requestID)
	if err != nil {
		return nil, err
	}
	return a.store.Get(ctx, path.Join(prefix, documentName))
}

// Fetch returns both artifacts of a job. ErrNotFound is wrapped when either is missing.
func (a *Archiver) Fetch(ctx context.Context, requestID string) ([]byte, json.RawMessage, error) {
	pdf, err := a.LoadDocument(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	prefix, _ := a.KeyPrefix(requestID)
	result, err := a.store.Get(ctx, path.Join(prefix, resultName))
	if err != nil {
		return nil, nil, err
	}
	if !json.Valid(result) {
		return nil, nil, errors.New("archived result is not valid JSON")
	}
	return pdf, json.RawMessage(result), nil
}

func formatResult(result json.RawMessage) ([]byte, error) {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, result, "", "  "); err != nil {
		return nil, fmt.Errorf("format result: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
