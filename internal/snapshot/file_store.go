package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"policywatch/internal/models"
)

// File names inside the data directory.
const (
	GlobalSummaryFile        = "global_summary.json"
	ComprehensiveSummaryFile = "comprehensive_summary.json"
	ChangeResultsFile        = "change_detection_results.json"
	CurrentSnapshotFile      = "current_snapshot.json"
	PreviousSnapshotFile     = "previous_snapshot.json"

	countryPoliciesSuffix = "_policies.json"
	countryAnalysisSuffix = "_analysis.json"

	// tempFilePrefix marks in-flight atomic writes.
	tempFilePrefix = ".policywatch-tmp-"
)

// FileStore keeps JSON files in a single data directory.
type FileStore struct {
	writeFile func(filename string, data []byte, perm os.FileMode) error
	dir       string
	pretty    bool
}

// NewFileStore creates the data directory if needed.
func NewFileStore(dir string, pretty bool) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	return &FileStore{dir: dir, pretty: pretty, writeFile: writeFileAtomic}, nil
}

// Dir returns the data directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// CountryPoliciesFile returns the file name of a country's policies.
func CountryPoliciesFile(code string) string {
	return strings.ToUpper(code) + countryPoliciesSuffix
}

// CountryAnalysisFile returns the file name of a country's weekly analysis.
func CountryAnalysisFile(code string) string {
	return strings.ToUpper(code) + countryAnalysisSuffix
}

// LoadPrevious implements Store.
func (s *FileStore) LoadPrevious(ctx context.Context) (*models.PolicySnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(CurrentSnapshotFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoSnapshot
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap models.PolicySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	if snap.Countries == nil {
		snap.Countries = make(map[string][]models.NormalizedPolicy)
	}

	return &snap, nil
}

// SaveCurrent implements Store. The committed snapshot is copied to
// previous_snapshot.json, then the new one replaces it. current_snapshot.json
// always holds a complete snapshot: a failed write leaves the old one.
func (s *FileStore) SaveCurrent(ctx context.Context, snap *models.PolicySnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := s.marshal(snap)
	if err != nil {
		return err
	}

	current := s.path(CurrentSnapshotFile)

	committed, err := os.ReadFile(current)

	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("failed to read snapshot: %w", err)
	default:
		if err := s.writeFile(s.path(PreviousSnapshotFile), committed, 0o644); err != nil {
			return fmt.Errorf("failed to rotate snapshot: %w", err)
		}
	}

	return s.writeFile(current, data, 0o644)
}

// SaveCountry implements Store.
func (s *FileStore) SaveCountry(ctx context.Context, data models.CountryPolicies) error {
	return s.writeJSON(ctx, CountryPoliciesFile(data.CountryCode), data)
}

// SaveGlobalSummary implements Store.
func (s *FileStore) SaveGlobalSummary(ctx context.Context, summary models.GlobalSummary) error {
	return s.writeJSON(ctx, GlobalSummaryFile, summary)
}

// SaveAnalysis implements Store.
func (s *FileStore) SaveAnalysis(ctx context.Context, analysis models.CountryAnalysis) error {
	return s.writeJSON(ctx, CountryAnalysisFile(analysis.CountryCode), analysis)
}

// SaveComprehensive implements Store.
func (s *FileStore) SaveComprehensive(ctx context.Context, summary models.ComprehensiveSummary) error {
	return s.writeJSON(ctx, ComprehensiveSummaryFile, summary)
}

// SaveChangeResults implements Store.
func (s *FileStore) SaveChangeResults(ctx context.Context, results models.ChangeDetectionResults) error {
	return s.writeJSON(ctx, ChangeResultsFile, results)
}

// Files lists the JSON files in the data directory matching a doublestar
// pattern such as "*_policies.json".
func (s *FileStore) Files(pattern string) ([]FileInfo, error) {
	matches, err := doublestar.Glob(os.DirFS(s.dir), pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", pattern, err)
	}

	files := make([]FileInfo, 0, len(matches))

	for _, name := range matches {
		if strings.HasPrefix(filepath.Base(name), tempFilePrefix) {
			continue
		}

		info, err := os.Stat(s.path(name))
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", name, err)
		}

		files = append(files, FileInfo{Name: name, Size: info.Size(), ModTime: info.ModTime()})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	return files, nil
}

// Status implements Store.
func (s *FileStore) Status(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}

	files, err := s.Files("*.json")
	if err != nil {
		return Status{}, err
	}

	status := Status{State: StateNoData, Files: files}
	if len(files) == 0 {
		return status, nil
	}

	status.State = StateDataAvailable

	latest := files[0].ModTime
	for _, f := range files[1:] {
		if f.ModTime.After(latest) {
			latest = f.ModTime
		}
	}

	status.LatestUpdate = &latest

	data, err := os.ReadFile(s.path(GlobalSummaryFile))

	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Status{}, fmt.Errorf("failed to read global summary: %w", err)
	default:
		var summary models.GlobalSummary
		if err := json.Unmarshal(data, &summary); err != nil {
			return Status{}, fmt.Errorf("failed to decode global summary: %w", err)
		}

		status.GlobalSummary = &summary
	}

	return status, nil
}

func (s *FileStore) writeJSON(ctx context.Context, name string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := s.marshal(v)
	if err != nil {
		return err
	}

	return s.writeFile(s.path(name), data, 0o644)
}

func (s *FileStore) marshal(v any) ([]byte, error) {
	var (
		data []byte
		err  error
	)

	if s.pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}

	return data, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name)
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it over filename.
func writeFileAtomic(filename string, data []byte, perm os.FileMode) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(filename), tempFilePrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmpFile.Name()) // Clean up if we fail before rename

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()

		return fmt.Errorf("failed to write to temp file: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()

		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Chmod(tmpFile.Name(), perm); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}

	if err := os.Rename(tmpFile.Name(), filename); err != nil {
		return fmt.Errorf("failed to rename temp file to %s: %w", filename, err)
	}

	return nil
}
