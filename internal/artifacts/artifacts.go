// Package artifacts lays out a run directory: numbered screenshots, replayed
// payloads, the CSV export and a README describing the run.
package artifacts

import (
	"bytes"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/adarchive/api/schemas"
	"github.com/xkilldash9x/adarchive/internal/capture"
	"github.com/xkilldash9x/adarchive/internal/records"
)

const (
	ReadmeName   = "README.txt"
	FullPageName = "page.png"
	timeLayout   = "20060102150405"
)

// Manifest describes a run for the README.
type Manifest struct {
	Query   string
	Started time.Time
	// Limit is omitted from the README when zero.
	Limit     int
	RunID     string
	SessionID string
}

// Dir is a run directory. All names it returns are relative to Path.
type Dir struct {
	Path    string
	csvName string
	logger  *zap.Logger
}

// dirNameReplacer keeps the query a single path element.
var dirNameReplacer = strings.NewReplacer(
	"/", "_",
	`\`, "_",
	"..", "_",
	" ", "_",
)

// DirName returns "<query>-<timestamp>" with spaces, path separators and
// parent references in the query replaced by underscores.
func DirName(query string, started time.Time) string {
	return fmt.Sprintf("%s-%s", dirNameReplacer.Replace(strings.TrimSpace(query)), started.Format(timeLayout))
}

// Create makes a fresh run directory under base. It fails if the directory already exists.
func Create(base, query string, started time.Time, csvName string, logger *zap.Logger) (*Dir, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csvName == "" {
		csvName = "ads.csv"
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output base %s: %w", base, err)
	}
	path := filepath.Join(base, DirName(query, started))
	if err := os.Mkdir(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}
	logger.Info("Run directory created", zap.String("path", path))
	return &Dir{Path: path, csvName: csvName, logger: logger.Named("artifacts")}, nil
}

// ScreenshotName returns the file name of the seq'th screenshot (1-based).
func ScreenshotName(seq int) string {
	return fmt.Sprintf("ad-%04d.png", seq)
}

// PayloadName returns the file name of the seq'th payload of a category (1-based).
func PayloadName(category string, seq int) string {
	return fmt.Sprintf("%s-%04d.json", category, seq)
}

// WriteScreenshot encodes img as the seq'th screenshot and returns its name.
func (d *Dir) WriteScreenshot(seq int, img image.Image) (string, error) {
	name := ScreenshotName(seq)
	return name, d.writePNG(name, img)
}

// WriteFullPage writes the full-page capture.
func (d *Dir) WriteFullPage(img image.Image) (string, error) {
	return FullPageName, d.writePNG(FullPageName, img)
}

func (d *Dir) writePNG(name string, img image.Image) error {
	var buf bytes.Buffer
	if err := capture.EncodePNG(&buf, img); err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	return d.write(name, buf.Bytes())
}

// WritePayload stores a replayed payload verbatim and returns its name.
func (d *Dir) WritePayload(category string, seq int, body []byte) (string, error) {
	name := PayloadName(category, seq)
	return name, d.write(name, body)
}

// WriteRecords writes the CSV export and returns its name.
func (d *Dir) WriteRecords(recs []schemas.AdRecord) (string, error) {
	var buf bytes.Buffer
	if err := records.WriteCSV(&buf, recs); err != nil {
		return "", err
	}
	return d.csvName, d.write(d.csvName, buf.Bytes())
}

// WriteReadme writes the run manifest.
func (d *Dir) WriteReadme(m Manifest) error {
	var b strings.Builder
	b.WriteString("Scrape of the archive of ads with political content\n")
	b.WriteString("Performed by adarchive.\n\n")
	fmt.Fprintf(&b, "Query: %s\n", m.Query)
	fmt.Fprintf(&b, "Started: %s\n", m.Started.Format(time.RFC3339))
	if m.Limit > 0 {
		fmt.Fprintf(&b, "Limit: %d\n", m.Limit)
	}
	if m.RunID != "" {
		fmt.Fprintf(&b, "Run: %s\n", m.RunID)
	}
	if m.SessionID != "" {
		fmt.Fprintf(&b, "Browser session: %s\n", m.SessionID)
	}
	return d.write(ReadmeName, []byte(b.String()))
}

func (d *Dir) write(name string, data []byte) error {
	path := filepath.Join(d.Path, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	d.logger.Debug("Artifact written", zap.String("name", name), zap.Int("bytes", len(data)))
	return nil
}
