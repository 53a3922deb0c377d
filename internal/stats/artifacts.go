package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	runIndexFile       = "run_index.json"
	runConfigFile      = "config.json"
	trajectoryCSVFile  = "score_trajectory.csv"
	trajectoryJSONFile = "score_trajectory.json"
)

type RunConfig struct {
	RunID            string    `json:"run_id"`
	InputDir         string    `json:"input_dir,omitempty"`
	ResidueSpec      string    `json:"residue_spec,omitempty"`
	FlagsFile        string    `json:"flags_file,omitempty"`
	StartingSeqs     string    `json:"starting_seqs,omitempty"`
	PoolSize         int       `json:"pool_size"`
	Iterations       int       `json:"iterations"`
	Workers          int       `json:"workers"`
	CrossoverRate    float64   `json:"crossover_rate"`
	MutationSchedule []float64 `json:"mutation_schedule"`
	MPNNIterations   []int     `json:"mpnn_iterations,omitempty"`
	Stabilize        []string  `json:"stabilize,omitempty"`
	Contacts         []string  `json:"contacts,omitempty"`
	ScoreFunc        string    `json:"score_func"`
	RMSDFunc         string    `json:"rmsd_func,omitempty"`
	Predictor        string    `json:"predictor,omitempty"`
	Designer         string    `json:"designer,omitempty"`
	StoreKind        string    `json:"store_kind"`
	BlobDriver       string    `json:"blob_driver,omitempty"`
	WriteStructures  bool      `json:"write_structures"`
	Plot             bool      `json:"plot"`
	Seed             int64     `json:"seed"`
}

type RunIndexEntry struct {
	RunID          string  `json:"run_id"`
	PoolSize       int     `json:"pool_size"`
	Iterations     int     `json:"iterations"`
	Workers        int     `json:"workers"`
	Seed           int64   `json:"seed"`
	Stabilize      string  `json:"stabilize,omitempty"`
	FinalBestTotal float64 `json:"final_best_total"`
	Predictions    int     `json:"predictions"`
	CreatedAtUTC   string  `json:"created_at_utc"`
}

func RunDir(baseDir, runID string) string {
	return filepath.Join(baseDir, runID)
}

func WriteRunConfig(baseDir, runID string, cfg RunConfig) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(cfg.RunID) == "" {
		cfg.RunID = strings.TrimSpace(runID)
	}
	if cfg.RunID != strings.TrimSpace(runID) {
		return fmt.Errorf("run config run id mismatch: got=%s want=%s", cfg.RunID, strings.TrimSpace(runID))
	}
	runDir := RunDir(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(runDir, runConfigFile), cfg)
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	data, err := os.ReadFile(filepath.Join(RunDir(baseDir, runID), runConfigFile))
	if err != nil {
		if os.IsNotExist(err) {
			return RunConfig{}, false, nil
		}
		return RunConfig{}, false, err
	}

	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, false, err
	}
	return cfg, true, nil
}

// AppendRunIndex adds entry to the index, replacing any entry with the same
// run id.
func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns entries newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// WriteTrajectory writes the per-iteration score series as CSV and JSON.
func WriteTrajectory(runDir string, points []TrajectoryPoint) error {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(runDir, trajectoryJSONFile), points); err != nil {
		return err
	}

	file, err := os.Create(filepath.Join(runDir, trajectoryCSVFile))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(trajectoryHeader); err != nil {
		return err
	}
	for _, p := range points {
		if err := writer.Write([]string{
			strconv.Itoa(p.Iteration),
			formatFloat(p.Best),
			formatFloat(p.Mean),
			formatFloat(p.Worst),
			formatFloat(p.BestComplex),
			formatFloat(p.BestMonomer),
			formatFloat(p.BestRMSD),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

var trajectoryHeader = []string{"iteration", "best_total", "mean_total", "worst_total", "best_complex", "best_monomer_total", "best_rmsd_total"}

func ReadTrajectory(baseDir, runID string) ([]TrajectoryPoint, bool, error) {
	file, err := os.Open(filepath.Join(RunDir(baseDir, runID), trajectoryCSVFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []TrajectoryPoint{}, true, nil
		}
		return nil, false, err
	}
	if len(header) != len(trajectoryHeader) {
		return nil, false, fmt.Errorf("score trajectory header must have %d columns", len(trajectoryHeader))
	}

	points := make([]TrajectoryPoint, 0, 64)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		iteration, err := strconv.Atoi(record[0])
		if err != nil {
			return nil, false, err
		}
		values := make([]float64, len(record)-1)
		for i, field := range record[1:] {
			values[i], err = strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, false, err
			}
		}
		points = append(points, TrajectoryPoint{
			Iteration:   iteration,
			Best:        values[0],
			Mean:        values[1],
			Worst:       values[2],
			BestComplex: values[3],
			BestMonomer: values[4],
			BestRMSD:    values[5],
		})
	}
	return points, true, nil
}

// ExportRunArtifacts copies the JSON and CSV artifacts of a run to outDir.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	srcDir := RunDir(baseDir, runID)
	if _, err := os.Stat(srcDir); err != nil {
		return "", fmt.Errorf("run artifacts not found for %s: %w", runID, err)
	}
	dstDir := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return "", err
	}
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".json", ".csv", ".log", ".png":
		default:
			continue
		}
		if err := copyFile(filepath.Join(srcDir, entry.Name()), filepath.Join(dstDir, entry.Name())); err != nil {
			return "", err
		}
	}
	return dstDir, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
