package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/google/uuid"

	"yachtlog-go/internal/worker"
	"yachtlog-go/internal/yacht"
)

// ImportResult summarizes a bulk position upload.
type ImportResult struct {
	Submitted int
	Uploaded  int
	Failed    []worker.DeadLetter
}

// positionTask uploads one position through the yacht client.
type positionTask struct {
	id     string
	input  yacht.PositionInput
	client *yacht.Client
}

func (t *positionTask) ID() string { return t.id }

func (t *positionTask) Process(ctx context.Context) error {
	_, err := t.client.AddPosition(ctx, t.input)
	if err == nil {
		return nil
	}

	// Only server-side and network failures are worth another attempt.
	var apiErr *yacht.APIError
	switch {
	case errors.Is(err, yacht.ErrInvalidInput), errors.Is(err, yacht.ErrUnauthenticated):
		return worker.Permanent(err)
	case errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError:
		return worker.Permanent(err)
	}
	return err
}

// ReadPositionsFile loads a JSON array of positions.
func ReadPositionsFile(path string) ([]yacht.PositionInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading positions file: %w", err)
	}
	var inputs []yacht.PositionInput
	if err := json.Unmarshal(data, &inputs); err != nil {
		return nil, fmt.Errorf("parsing positions file: %w", err)
	}
	return inputs, nil
}

// ImportPositions uploads positions concurrently through the worker pool
// and waits for every task to finish. The pool must be started and is
// stopped on return.
func (a *Application) ImportPositions(ctx context.Context, inputs []yacht.PositionInput) (ImportResult, error) {
	if !a.Auth.State().IsAuthenticated {
		return ImportResult{}, yacht.ErrUnauthenticated
	}

	batch := uuid.NewString()
	log := a.Logger.With("batch", batch)

	before := a.WorkerPool.Stats().Completed
	result := ImportResult{}
	for i, in := range inputs {
		task := &positionTask{
			id:     fmt.Sprintf("%s/%d", batch, i),
			input:  in,
			client: a.Yachts,
		}
		if err := a.WorkerPool.SubmitWait(ctx, task); err != nil {
			a.WorkerPool.Stop()
			return result, fmt.Errorf("submitting position %d: %w", i, err)
		}
		result.Submitted++
	}

	a.WorkerPool.Stop()

	result.Uploaded = int(a.WorkerPool.Stats().Completed - before)
	result.Failed = a.WorkerPool.DeadLetters()
	log.Info("position import finished",
		"submitted", result.Submitted,
		"uploaded", result.Uploaded,
		"failed", len(result.Failed),
	)
	return result, nil
}
