package main

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	evoapi "evoprot/pkg/evoprot"
)

// loadOrDefaultRunRequest reads a run document when path is set. YAML is a
// superset of JSON so both formats are accepted.
func loadOrDefaultRunRequest(path string) (evoapi.RunRequest, error) {
	if path == "" {
		return evoapi.RunRequest{}, nil
	}
	return loadRunRequestFromConfig(path)
}

func loadRunRequestFromConfig(path string) (evoapi.RunRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return evoapi.RunRequest{}, err
	}
	var req evoapi.RunRequest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&req); err != nil {
		return evoapi.RunRequest{}, fmt.Errorf("decode run config %s: %w", path, err)
	}
	return req, nil
}

func overrideFromFlags(req *evoapi.RunRequest, set map[string]bool, flagValue map[string]any) error {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "run-id":
			req.RunID = v.(string)
		case "input-dir":
			req.InputDir = v.(string)
		case "residue-spec":
			req.ResidueSpec = v.(string)
		case "flags-file":
			req.FlagsFile = v.(string)
		case "starting-seqs":
			req.StartingSeqs = v.(string)
		case "pool-size":
			req.PoolSize = v.(int)
		case "num-iter":
			req.Iterations = v.(int)
		case "workers":
			req.Workers = v.(int)
		case "crossover":
			rate := v.(float64)
			req.CrossoverRate = &rate
		case "mutation-rates":
			req.MutationRates = v.(string)
		case "mpnn-iters":
			req.MPNNIters = v.(string)
		case "mpnn-freq":
			req.MPNNFreq = v.(int)
		case "stabilize":
			req.Stabilize = v.([]string)
		case "contacts":
			req.Contacts = v.(string)
		case "score-func":
			req.ScoreFunc = v.(string)
		case "rmsd-func":
			req.RMSDFunc = v.(string)
		case "predictor":
			req.PredictorCommand = v.(string)
		case "predictor-arg":
			req.PredictorArgs = v.([]string)
		case "designer":
			req.DesignerCommand = v.(string)
		case "designer-arg":
			req.DesignerArgs = v.([]string)
		case "blob-driver":
			req.BlobDriver = v.(string)
		case "write-pdbs":
			req.WriteStructures = v.(bool)
		case "plot":
			req.Plot = v.(bool)
		case "metrics-addr":
			req.MetricsAddr = v.(string)
		case "seed":
			req.Seed = v.(int64)
		default:
			return fmt.Errorf("unsupported override flag: %s", name)
		}
	}
	return nil
}
