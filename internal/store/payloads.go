package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/scraper-orchestrator/internal/model"
)

// FilenameLayout is the timestamp layout embedded in result filenames.
const FilenameLayout = "20060102_150405"

var (
	filenameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*\.json$`)
	prefixRe   = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
	analysisRe = regexp.MustCompile(model.AnalysisSuffix + `_\d{8}_\d{6}(_\d+)?\.json$`)
)

// Payloads stores result and analysis JSON files under one directory.
// Files are written once and never modified.
type Payloads struct {
	dir string
}

// NewPayloads creates the data directory if needed.
func NewPayloads(dir string) (*Payloads, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "payloads: create %s", dir)
	}
	return &Payloads{dir: dir}, nil
}

// Dir returns the data directory.
func (p *Payloads) Dir() string { return p.dir }

// ValidateFilename rejects anything that is not a plain .json name inside
// the data directory.
func ValidateFilename(name string) error {
	if !filenameRe.MatchString(name) || strings.Contains(name, "..") {
		return &model.NotFoundError{Kind: "file", Key: name}
	}
	return nil
}

// Write marshals v and stores it as <prefix>_<YYYYMMDD_HHMMSS>.json. A
// collision within the same second gets a _<n> suffix.
func (p *Payloads) Write(prefix string, ts time.Time, v any) (string, error) {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "payloads: marshal")
	}
	return p.WriteBytes(prefix, ts, body)
}

// WriteBytes stores body under a fresh unique filename.
func (p *Payloads) WriteBytes(prefix string, ts time.Time, body []byte) (string, error) {
	tmp, err := os.CreateTemp(p.dir, ".tmp-*")
	if err != nil {
		return "", eris.Wrap(err, "payloads: create temp")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if _, err := tmp.Write(body); err != nil {
		tmp.Close() //nolint:errcheck
		return "", eris.Wrap(err, "payloads: write temp")
	}
	if err := tmp.Close(); err != nil {
		return "", eris.Wrap(err, "payloads: close temp")
	}

	stem := sanitizePrefix(prefix) + "_" + ts.Format(FilenameLayout)
	for n := 0; n < 1000; n++ {
		name := stem + ".json"
		if n > 0 {
			name = fmt.Sprintf("%s_%d.json", stem, n)
		}
		// Link fails if the name exists, so the file appears fully
		// written and never overwrites another.
		err := os.Link(tmpName, filepath.Join(p.dir, name))
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", eris.Wrapf(err, "payloads: link %s", name)
		}
	}
	return "", eris.Errorf("payloads: no free filename for %s", stem)
}

// Read returns the raw bytes of a stored file.
func (p *Payloads) Read(name string) ([]byte, error) {
	if err := ValidateFilename(name); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filepath.Join(p.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &model.NotFoundError{Kind: "file", Key: name}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "payloads: read %s", name)
	}
	return b, nil
}

// ReadPayload decodes a result file.
func (p *Payloads) ReadPayload(name string) (*model.Payload, error) {
	b, err := p.Read(name)
	if err != nil {
		return nil, err
	}
	var out model.Payload
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, eris.Wrapf(err, "payloads: decode %s", name)
	}
	return &out, nil
}

// Exists reports whether a valid filename is present.
func (p *Payloads) Exists(name string) bool {
	if ValidateFilename(name) != nil {
		return false
	}
	_, err := os.Stat(filepath.Join(p.dir, name))
	return err == nil
}

// IsAnalysisFile reports whether name is an analysis file rather than a
// run result.
func IsAnalysisFile(name string) bool {
	return analysisRe.MatchString(name)
}

// Stem strips the .json suffix.
func Stem(name string) string {
	return strings.TrimSuffix(name, ".json")
}

func sanitizePrefix(s string) string {
	s = prefixRe.ReplaceAllString(s, "_")
	if s == "" {
		return "result"
	}
	return s
}
