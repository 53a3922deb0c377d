package workerpool

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"evoprot/internal/model"
)

// ExecConfig describes the predictor command started once per worker.
type ExecConfig struct {
	Command   string
	Args      []string
	FlagsPath string
	Env       []string
	Stderr    io.Writer
}

type predictRequest struct {
	ID        int64    `json:"id"`
	Chains    []string `json:"chains"`
	Sequences []string `json:"sequences"`
}

type predictResponse struct {
	ID        int64              `json:"id"`
	Sequences []string           `json:"sequences"`
	PDB       string             `json:"pdb"`
	PLDDT     []float64          `json:"plddt"`
	Metrics   map[string]float64 `json:"metrics"`
	Error     string             `json:"error"`
}

// ExecPredictor talks to a long-lived predictor process over stdin/stdout,
// one JSON object per line in each direction.
type ExecPredictor struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	mu     sync.Mutex
	nextID int64
	closed bool
}

// ExecInitializer starts one predictor process per worker, pinned to the GPU
// with the worker's index.
func ExecInitializer(cfg ExecConfig) Initializer {
	return func(_ context.Context, worker int) (Predictor, error) {
		return StartExecPredictor(cfg, worker)
	}
}

func StartExecPredictor(cfg ExecConfig, worker int) (*ExecPredictor, error) {
	if cfg.Command == "" {
		return nil, errors.New("predictor command is required")
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = append(os.Environ(), cfg.Env...)
	cmd.Env = append(cmd.Env,
		"CUDA_VISIBLE_DEVICES="+strconv.Itoa(worker),
		"EVOPROT_WORKER="+strconv.Itoa(worker),
	)
	if cfg.FlagsPath != "" {
		cmd.Env = append(cmd.Env, "EVOPROT_FLAGS_FILE="+cfg.FlagsPath)
	}
	if cfg.Stderr != nil {
		cmd.Stderr = cfg.Stderr
	} else {
		cmd.Stderr = os.Stderr
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start predictor %q: %w", cfg.Command, err)
	}
	return &ExecPredictor{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
	}, nil
}

// Predict sends one request and waits for its response. An in-flight request
// is not interrupted by ctx.
func (p *ExecPredictor) Predict(ctx context.Context, unit model.WorkUnit) (model.RawResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return model.RawResult{}, ErrPoolClosed
	}
	if err := ctx.Err(); err != nil {
		return model.RawResult{}, err
	}

	p.nextID++
	req := predictRequest{ID: p.nextID, Chains: unit.Chains, Sequences: unit.Sequences}
	line, err := json.Marshal(req)
	if err != nil {
		return model.RawResult{}, err
	}
	line = append(line, '\n')
	if _, err := p.stdin.Write(line); err != nil {
		return model.RawResult{}, fmt.Errorf("write predictor request: %w", err)
	}

	reply, err := p.stdout.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			return model.RawResult{}, errors.New("predictor process exited")
		}
		return model.RawResult{}, fmt.Errorf("read predictor response: %w", err)
	}
	var resp predictResponse
	if err := json.Unmarshal(reply, &resp); err != nil {
		return model.RawResult{}, fmt.Errorf("decode predictor response: %w", err)
	}
	if resp.Error != "" {
		return model.RawResult{}, fmt.Errorf("predictor: %s", resp.Error)
	}
	if resp.ID != req.ID {
		return model.RawResult{}, fmt.Errorf("predictor response id mismatch: got=%d want=%d", resp.ID, req.ID)
	}
	return model.RawResult{
		Sequences: resp.Sequences,
		PDB:       resp.PDB,
		PLDDT:     resp.PLDDT,
		Metrics:   resp.Metrics,
	}, nil
}

// Close ends the request stream and waits for the process to exit.
func (p *ExecPredictor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	_ = p.stdin.Close()
	return p.cmd.Wait()
}
