package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/api"
	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/computemodule"
)

// TranslationJobHandler answers compute module jobs whose query is a translation batch
// (the POST /v1/translations body) with the JSON batch response.
func TranslationJobHandler(h *api.Handler) computemodule.HandlerFunc {
	return func(ctx context.Context, job computemodule.Job) ([]byte, error) {
		var req api.TranslateRequest
		if err := json.Unmarshal(job.Query, &req); err != nil {
			return nil, fmt.Errorf("decode translation query: %w", err)
		}
		resp, err := h.Process(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	}
}
