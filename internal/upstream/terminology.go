package upstream

import (
	"context"
	"fmt"
	"strings"
	"time"

	"authorline/internal/domain"
)

// TerminologyClient resolves concept IDs against the terminology server.
type TerminologyClient struct {
	client
}

// NewTerminologyClient creates a client for the terminology server.
func NewTerminologyClient(baseURL, bearerToken string) *TerminologyClient {
	return &TerminologyClient{client: newClient(baseURL, bearerToken, 10*time.Second)}
}

type conceptSearchRequest struct {
	ConceptIDs []string `json:"conceptIds"`
	Limit      int      `json:"limit"`
}

type conceptSearchResponse struct {
	Items []domain.ConceptRecord `json:"items"`
	Total int                    `json:"total"`
}

// ResolveConcepts bulk-resolves concept IDs on a branch. IDs the server no
// longer knows are simply absent from the result.
func (c *TerminologyClient) ResolveConcepts(ctx context.Context, branch string, conceptIDs []string) ([]domain.ConceptRecord, error) {
	if len(conceptIDs) == 0 {
		return nil, nil
	}
	endpoint := fmt.Sprintf("%s/concepts/search", strings.Trim(branch, "/"))
	req := conceptSearchRequest{ConceptIDs: conceptIDs, Limit: len(conceptIDs)}
	var resp conceptSearchResponse
	if err := c.do(ctx, "POST", endpoint, req, &resp); err != nil {
		return nil, fmt.Errorf("resolve %d concepts on %s: %w", len(conceptIDs), branch, err)
	}
	return resp.Items, nil
}
