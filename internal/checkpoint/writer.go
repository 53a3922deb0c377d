// Package checkpoint persists what a run produces: the per-iteration runtime
// log, the final aggregate log, rankings, structure files and the score
// trajectory.
package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"evoprot/internal/blob"
	"evoprot/internal/evo"
	"evoprot/internal/model"
	"evoprot/internal/stats"
	"evoprot/internal/storage"
)

const (
	RuntimeLogFile = "runtime_seqs_and_scores.log"
	FinalLogFile   = "seqs_and_scores.log"
	IterationDir   = "pdbs_per_iter"
)

type Options struct {
	// Dir receives the log files and the trajectory.
	Dir   string
	RunID string
	// Store receives each iteration's ranking. Optional.
	Store storage.Store
	// Structures receives PDB files. Required when WriteStructures is set;
	// final structures are written whenever it is non-nil.
	Structures      blob.Store
	WriteStructures bool
	// Plot writes the trajectory CSV and PNG. Stabilized adds the monomer and
	// RMSD series to the PNG.
	Plot       bool
	Stabilized bool
	Logger     logrus.FieldLogger
}

// Writer implements evo.Sink. Every write error is returned so the run aborts.
type Writer struct {
	opts Options
	log  logrus.FieldLogger
}

var _ evo.Sink = (*Writer)(nil)

func New(opts Options) (*Writer, error) {
	if opts.Dir == "" {
		return nil, errors.New("checkpoint directory is required")
	}
	if opts.WriteStructures && opts.Structures == nil {
		return nil, errors.New("structure store is required when writing structures")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	log := opts.Logger
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}
	return &Writer{opts: opts, log: log.WithField("component", "checkpoint")}, nil
}

// IterationDone appends the ranked pool to the runtime log and syncs it before
// returning, so the log is durable before the next dispatch starts.
func (w *Writer) IterationDone(ctx context.Context, report evo.IterationReport) error {
	entries := evo.Rank(report.Ranked)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "starting iteration %d log\n", report.Iteration)
	for _, entry := range entries {
		if err := writeEntry(&buf, entry); err != nil {
			return err
		}
	}
	if err := appendSynced(filepath.Join(w.opts.Dir, RuntimeLogFile), buf.Bytes()); err != nil {
		return fmt.Errorf("write runtime log: %w", err)
	}

	if w.opts.Store != nil {
		ranking := model.IterationRanking{Iteration: report.Iteration, Variant: report.Variant, Entries: entries}
		if err := w.opts.Store.SaveRanking(ctx, w.opts.RunID, ranking); err != nil {
			return fmt.Errorf("save ranking: %w", err)
		}
	}

	if w.opts.WriteStructures {
		for j, rec := range report.Pool {
			prefix := fmt.Sprintf("%s/seq_%d_iter_%d", IterationDir, j, report.Iteration)
			if err := w.putStructures(ctx, prefix, rec); err != nil {
				return err
			}
		}
	}
	w.log.WithFields(logrus.Fields{
		"iteration": report.Iteration,
		"entries":   len(entries),
	}).Debug("iteration checkpointed")
	return nil
}

// Finish writes the aggregate log, the trajectory when plotting is enabled and
// the structures of the final pool.
func (w *Writer) Finish(ctx context.Context, report evo.FinalReport) error {
	if err := w.writeFinalLog(report.History); err != nil {
		return fmt.Errorf("write final log: %w", err)
	}
	if w.opts.Plot {
		points := stats.BuildTrajectory(report.History)
		if err := stats.WriteTrajectory(w.opts.Dir, points); err != nil {
			return fmt.Errorf("write score trajectory: %w", err)
		}
		if len(points) > 0 {
			if _, err := stats.WriteTrajectoryPlot(w.opts.Dir, points, w.opts.Stabilized); err != nil {
				return fmt.Errorf("plot score trajectory: %w", err)
			}
		}
	}
	if w.opts.Structures != nil {
		for j, rec := range report.Final {
			if err := w.putStructures(ctx, fmt.Sprintf("seq_%d_final", j), rec); err != nil {
				return err
			}
		}
	}
	w.log.WithFields(logrus.Fields{
		"iterations":  len(report.History),
		"final_pool":  len(report.Final),
		"predictions": report.UnitsDispatched,
	}).Info("run checkpoint complete")
	return nil
}

func (w *Writer) writeFinalLog(history []model.IterationRanking) error {
	var buf bytes.Buffer
	for _, ranking := range history {
		fmt.Fprintf(&buf, ">iteration%d\n", ranking.Iteration)
		for _, entry := range ranking.Entries {
			if err := writeEntry(&buf, entry); err != nil {
				return err
			}
		}
	}
	return writeSynced(filepath.Join(w.opts.Dir, FinalLogFile), buf.Bytes())
}

// putStructures writes the complex model and one file per stabilized chain.
func (w *Writer) putStructures(ctx context.Context, prefix string, rec model.ScoreRecord) error {
	for i, structure := range rec.Structures() {
		key := prefix + "_model_1_complex.pdb"
		if i > 0 {
			key = fmt.Sprintf("%s_model_1_binderonly_chain%s.pdb", prefix, rec.Monomers[i-1].Chain)
		}
		if err := w.put(ctx, key, structure.PDB); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) put(ctx context.Context, key, pdb string) error {
	_, err := w.opts.Structures.Put(ctx, key, strings.NewReader(pdb), blob.PutOptions{
		Metadata: map[string]string{"run_id": w.opts.RunID},
	})
	if err != nil {
		return fmt.Errorf("write structure %s: %w", key, err)
	}
	return nil
}

type breakdown struct {
	Complex    float64 `json:"complex"`
	MonomerSum float64 `json:"monomer_total"`
	RMSDSum    float64 `json:"rmsd_total"`
}

// writeEntry formats one "identity<TAB>total<TAB>breakdown" line.
func writeEntry(w io.Writer, entry model.RankedEntry) error {
	detail, err := json.Marshal(breakdown{Complex: entry.Complex, MonomerSum: entry.MonomerSum, RMSDSum: entry.RMSDSum})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\t%s\t%s\n", entry.Identity, strconv.FormatFloat(entry.Total, 'g', -1, 64), detail)
	return err
}

func appendSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return syncAndClose(f, data)
}

func writeSynced(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	return syncAndClose(f, data)
}

func syncAndClose(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
