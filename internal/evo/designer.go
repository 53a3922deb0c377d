package evo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"evoprot/internal/model"
)

type HistoryEntry struct {
	Identity string  `json:"identity"`
	Total    float64 `json:"total"`
}

// DesignRequest asks a designer for Count new candidates.
type DesignRequest struct {
	Iteration int                `json:"iteration"`
	Count     int                `json:"count"`
	Seeds     []model.Individual `json:"seeds"`
	History   []HistoryEntry     `json:"history"`
}

// Designer proposes chain sequences, one slice of chain sequences per
// candidate in chain order.
type Designer interface {
	Design(ctx context.Context, req DesignRequest) ([][]string, error)
}

// ExecDesigner runs a sequence-design command once per request. The request
// is written to stdin as JSON and the command prints {"sequences": [...]}.
type ExecDesigner struct {
	Command string
	Args    []string
	Env     []string
	Stderr  io.Writer
}

type designResponse struct {
	Sequences [][]string `json:"sequences"`
}

func (d ExecDesigner) Design(ctx context.Context, req DesignRequest) ([][]string, error) {
	if d.Command == "" {
		return nil, errors.New("designer command is required")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, d.Command, d.Args...)
	cmd.Env = append(os.Environ(), d.Env...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if d.Stderr != nil {
		cmd.Stderr = d.Stderr
	} else {
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("run designer %q: %w", d.Command, err)
	}

	var resp designResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode designer output: %w", err)
	}
	return resp.Sequences, nil
}
