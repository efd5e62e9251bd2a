package api

import (
	"context"

	"github.com/nhle/taskdesk/internal/model"
)

// ProjectSettings fetches the organisation-wide project rules.
func (c *Client) ProjectSettings(ctx context.Context) (*model.ProjectSettings, error) {
	var settings model.ProjectSettings
	if err := c.Get(ctx, "/settings/project", &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}
