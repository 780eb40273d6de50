package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pendergraft/verify-contracts/internal/observability/metrics"
	"github.com/pendergraft/verify-contracts/internal/validation"
	"github.com/pendergraft/verify-contracts/internal/verification/domain"
)

// ErrDirectoryMissing means the network has no deployments directory.
var ErrDirectoryMissing = fmt.Errorf("deployments directory missing: %w", fs.ErrNotExist)

// Load reads every *.json deployment record in dir, in lexical file name
// order. Incomplete records are skipped and reported in Manifest.Skipped.
func Load(dir string, logger *slog.Logger) (*Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDirectoryMissing, dir)
		}
		return nil, fmt.Errorf("reading deployments directory: %w", err)
	}

	// os.ReadDir sorts by file name already; keep the order explicit.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	m := &Manifest{Network: filepath.Base(dir), Dir: dir}
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".json")
		path := filepath.Join(dir, entry.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}

		req, reason, err := parseRecord(name, data)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		if reason != "" {
			logger.Warn("skipping deployment", "name", name, "path", path, "reason", reason)
			metrics.ManifestSkip()
			m.Skipped = append(m.Skipped, Skip{Name: name, Path: path, Reason: reason})
			continue
		}
		m.Requests = append(m.Requests, req)
	}

	logger.Debug("loaded deployments", "dir", dir, "requests", len(m.Requests), "skipped", len(m.Skipped))
	return m, nil
}

// parseRecord turns one deployment file into a request. A non-empty reason
// means the record is incomplete and should be skipped.
func parseRecord(name string, data []byte) (*domain.Request, string, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, "", err
	}

	meta, ok, err := decodeMetadata(rec.Metadata)
	if err != nil {
		return nil, "", fmt.Errorf("decoding metadata: %w", err)
	}
	if !ok {
		return nil, ReasonNoMetadata, nil
	}

	source, contract, err := firstTarget(meta.Settings.CompilationTarget)
	if err != nil {
		return nil, "", fmt.Errorf("decoding compilation target: %w", err)
	}
	if source == "" || contract == "" {
		return nil, ReasonNoTarget, nil
	}

	if validation.ValidateAddress(rec.Address) != nil {
		return nil, ReasonBadAddress, nil
	}

	req := domain.NewRequest(name, rec.Address, source+":"+contract, rec.Args, rec.Libraries)
	req.CompilerVersion = validation.NormalizeCompilerVersion(meta.Compiler.Version)
	return req, "", nil
}

// decodeMetadata accepts the metadata either as an object or, as
// hardhat-deploy writes it, as a string holding the JSON object.
func decodeMetadata(raw json.RawMessage) (*metadata, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, false, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, false, err
		}
		if strings.TrimSpace(s) == "" {
			return nil, false, nil
		}
		raw = json.RawMessage(s)
	}

	var meta metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, false, err
	}
	return &meta, true, nil
}

// firstTarget returns the first source path and contract name of a
// compilationTarget object in document order.
func firstTarget(raw json.RawMessage) (string, string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", "", nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return "", "", err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return "", "", fmt.Errorf("expected object, got %v", tok)
	}
	if !dec.More() {
		return "", "", nil
	}

	tok, err = dec.Token()
	if err != nil {
		return "", "", err
	}
	source, _ := tok.(string)

	var contract string
	if err := dec.Decode(&contract); err != nil {
		return "", "", err
	}
	return source, contract, nil
}
