package routes

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"snapdiff/internal/myhttp"
	"snapdiff/internal/resultstore"
)

type RunResponse struct {
	ID         string  `json:"id"`
	Reference  string  `json:"reference"`
	Candidate  string  `json:"candidate"`
	Fuzz       float64 `json:"fuzz"`
	StartedAt  string  `json:"startedAt"`
	FinishedAt string  `json:"finishedAt,omitempty"`
	Pairs      int     `json:"pairs"`
	Skipped    int     `json:"skipped"`
}

func ListRuns(store *resultstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := myhttp.Logger(r.Context())

		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = n
		}

		runs, err := store.Runs(r.Context(), limit)
		if err != nil {
			logger.Error(fmt.Sprintf("failed to list runs: %s", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		response := make([]RunResponse, 0, len(runs))
		for _, run := range runs {
			item := RunResponse{
				ID:        run.ID,
				Reference: run.Reference,
				Candidate: run.Candidate,
				Fuzz:      run.Fuzz,
				StartedAt: run.StartedAt.Format(time.RFC3339),
				Pairs:     run.Pairs,
				Skipped:   run.Skipped,
			}
			if !run.FinishedAt.IsZero() {
				item.FinishedAt = run.FinishedAt.Format(time.RFC3339)
			}
			response = append(response, item)
		}

		b, err := json.Marshal(response)
		if err != nil {
			logger.Error(fmt.Sprintf("failed to marshal json: %s", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(b)
	}
}
