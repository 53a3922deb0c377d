package workerpool

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"

	"evoprot/internal/model"
)

// TestHelperProcess is the predictor process started by the exec tests.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("EVOPROT_WANT_HELPER_PROCESS") != "1" {
		return
	}
	scanner := bufio.NewScanner(os.Stdin)
	enc := json.NewEncoder(os.Stdout)
	for scanner.Scan() {
		var req predictRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			os.Exit(2)
		}
		resp := predictResponse{ID: req.ID, Sequences: req.Sequences}
		if strings.Contains(strings.Join(req.Sequences, ""), "X") {
			resp.Error = "unsupported residue"
		} else {
			resp.PDB = fmt.Sprintf("gpu=%s", os.Getenv("CUDA_VISIBLE_DEVICES"))
			resp.PLDDT = []float64{90, 80}
		}
		_ = enc.Encode(resp)
	}
	os.Exit(0)
}

func helperConfig() ExecConfig {
	return ExecConfig{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcess"},
		Env:     []string{"EVOPROT_WANT_HELPER_PROCESS=1"},
	}
}

func TestExecPredictorRoundTrip(t *testing.T) {
	p, err := StartExecPredictor(helperConfig(), 3)
	if err != nil {
		t.Fatalf("start predictor: %v", err)
	}
	defer p.Close()

	unit := model.WorkUnit{Chains: []string{"A", "B"}, Sequences: []string{"MKV", "GSG"}}
	for i := 0; i < 2; i++ {
		res, err := p.Predict(context.Background(), unit)
		if err != nil {
			t.Fatalf("predict: %v", err)
		}
		if res.PDB != "gpu=3" {
			t.Fatalf("unexpected pdb payload: %q", res.PDB)
		}
		if len(res.Sequences) != 2 || res.Sequences[1] != "GSG" || len(res.PLDDT) != 2 {
			t.Fatalf("unexpected result: %+v", res)
		}
	}

	if _, err := p.Predict(context.Background(), model.WorkUnit{Sequences: []string{"MXV"}}); err == nil {
		t.Fatal("expected predictor error response to fail the unit")
	}
}

func TestExecInitializerRunsThroughPool(t *testing.T) {
	pool, err := New(context.Background(), 2, ExecInitializer(helperConfig()), Options{})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	units := []model.WorkUnit{
		{Individual: "a", Sequences: []string{"AAA"}},
		{Individual: "b", Sequences: []string{"CCC"}},
		{Individual: "c", Sequences: []string{"DDD"}},
	}
	results, err := pool.Churn(context.Background(), units)
	if err != nil {
		t.Fatalf("churn: %v", err)
	}
	for i, res := range results {
		if res.Sequences[0] != units[i].Sequences[0] {
			t.Fatalf("result %d out of order: %+v", i, res)
		}
	}
	if err := pool.SpinDown(); err != nil {
		t.Fatalf("spin down: %v", err)
	}
}

func TestStartExecPredictorRequiresCommand(t *testing.T) {
	if _, err := StartExecPredictor(ExecConfig{}, 0); err == nil {
		t.Fatal("expected missing command error")
	}
}
