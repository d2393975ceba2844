package deps

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/obsidiansec/argus/api/schemas"
)

const defaultOSVBaseURL = "https://api.osv.dev"

// OSVClient queries the OSV batch API for known vulnerabilities. It
// implements AdvisorySource.
type OSVClient struct {
	httpc  *resty.Client
	logger *zap.Logger
}

func NewOSVClient(baseURL string, timeout time.Duration, logger *zap.Logger) *OSVClient {
	if baseURL == "" {
		baseURL = defaultOSVBaseURL
	}
	httpc := resty.New()
	httpc.SetBaseURL(baseURL)
	httpc.SetTimeout(timeout)
	httpc.SetHeader("Content-Type", "application/json")
	return &OSVClient{httpc: httpc, logger: logger.Named("osv")}
}

type osvQuery struct {
	Package osvPackage `json:"package"`
	Version string     `json:"version,omitempty"`
}

type osvPackage struct {
	Name      string `json:"name"`
	Ecosystem string `json:"ecosystem"`
}

type osvBatchRequest struct {
	Queries []osvQuery `json:"queries"`
}

type osvBatchResponse struct {
	Results []struct {
		Vulns []osvVuln `json:"vulns"`
	} `json:"results"`
}

type osvVuln struct {
	ID       string `json:"id"`
	Summary  string `json:"summary"`
	Severity []struct {
		Type  string `json:"type"`
		Score string `json:"score"`
	} `json:"severity"`
	References []struct {
		URL string `json:"url"`
	} `json:"references"`
	DatabaseSpecific struct {
		Severity string `json:"severity"`
	} `json:"database_specific"`
}

// Query posts the dependency set to /v1/querybatch with exponential backoff
// on transient failures. OSV version-filters server-side, so returned
// advisories carry an empty affected range.
func (c *OSVClient) Query(ctx context.Context, deps []schemas.Dependency) (map[string][]schemas.Advisory, error) {
	req := osvBatchRequest{Queries: make([]osvQuery, 0, len(deps))}
	for _, d := range deps {
		req.Queries = append(req.Queries, osvQuery{
			Package: osvPackage{Name: d.Name, Ecosystem: d.Ecosystem},
			Version: d.Version,
		})
	}

	var parsed osvBatchResponse
	operation := func() error {
		resp, err := c.httpc.R().
			SetContext(ctx).
			SetBody(req).
			SetResult(&parsed).
			Post("/v1/querybatch")
		if err != nil {
			return fmt.Errorf("osv request failed: %w", err)
		}
		code := resp.StatusCode()
		switch {
		case code == http.StatusOK:
			return nil
		case code == http.StatusTooManyRequests || code >= http.StatusInternalServerError:
			return fmt.Errorf("osv returned transient status %d", code)
		default:
			return backoff.Permanent(fmt.Errorf("osv returned status %d", code))
		}
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}

	out := make(map[string][]schemas.Advisory)
	for i, result := range parsed.Results {
		if i >= len(deps) || len(result.Vulns) == 0 {
			continue
		}
		key := DependencyKey(deps[i])
		for _, v := range result.Vulns {
			out[key] = append(out[key], schemas.Advisory{
				ID:        v.ID,
				Severity:  osvSeverity(v),
				Summary:   v.Summary,
				Reference: firstReference(v),
			})
		}
	}
	c.logger.Debug("OSV batch query complete",
		zap.Int("queries", len(deps)), zap.Int("affected", len(out)))
	return out, nil
}

func osvSeverity(v osvVuln) schemas.Severity {
	switch strings.ToLower(v.DatabaseSpecific.Severity) {
	case "critical":
		return schemas.SeverityCritical
	case "high":
		return schemas.SeverityHigh
	case "moderate", "medium":
		return schemas.SeverityMedium
	case "low":
		return schemas.SeverityLow
	}
	// CVSS vectors without a database label default to high impact handling.
	if len(v.Severity) > 0 {
		return schemas.SeverityHigh
	}
	return schemas.SeverityMedium
}

func firstReference(v osvVuln) string {
	if len(v.References) > 0 {
		return v.References[0].URL
	}
	return ""
}
