package gmail

import (
	"context"
	"fmt"
	"strings"

	gmail "google.golang.org/api/gmail/v1"
)

// LabelService is the subset of Client used by LabelEnsurer.
type LabelService interface {
	ListLabels(ctx context.Context) ([]*gmail.Label, error)
	CreateLabel(ctx context.Context, name string) (*gmail.Label, error)
}

// LabelEnsurer resolves a label name to its id, creating the label when it
// does not exist. The id is cached after the first success. It is not safe
// for concurrent use.
type LabelEnsurer struct {
	api   LabelService
	cache map[string]string
}

// NewLabelEnsurer creates a LabelEnsurer backed by api.
func NewLabelEnsurer(api LabelService) *LabelEnsurer {
	return &LabelEnsurer{
		api:   api,
		cache: make(map[string]string),
	}
}

// EnsureLabel returns the id of the label called name, matched
// case-insensitively, creating it if needed.
func (e *LabelEnsurer) EnsureLabel(ctx context.Context, name string) (string, error) {
	key := strings.ToLower(name)
	if id, ok := e.cache[key]; ok {
		return id, nil
	}

	labels, err := e.api.ListLabels(ctx)
	if err != nil {
		return "", fmt.Errorf("listing labels: %w", err)
	}

	for _, l := range labels {
		if strings.EqualFold(l.Name, name) {
			e.cache[key] = l.Id
			return l.Id, nil
		}
	}

	created, err := e.api.CreateLabel(ctx, name)
	if err != nil {
		return "", fmt.Errorf("creating label %q: %w", name, err)
	}

	e.cache[key] = created.Id
	return created.Id, nil
}
