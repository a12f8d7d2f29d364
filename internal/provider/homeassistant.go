package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/berfenger/dtsu666emu/internal/core/domain"
	"github.com/berfenger/dtsu666emu/internal/core/port"
)

// HomeAssistant reads entity states from the Home Assistant REST API.
type HomeAssistant struct {
	baseURL string
	token   string
	client  *http.Client
}

type haState struct {
	EntityId string `json:"entity_id"`
	State    string `json:"state"`
}

func NewHomeAssistant(baseURL, token string, timeout time.Duration) *HomeAssistant {
	return &HomeAssistant{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (h *HomeAssistant) GetState(ctx context.Context, entityId string) (domain.RawState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/states/%s", h.baseURL, url.PathEscape(entityId)), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("home assistant: %s: unexpected status %d", entityId, resp.StatusCode)
	}

	var state haState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, fmt.Errorf("home assistant: %s: %w", entityId, err)
	}
	return state.State, nil
}

var _ port.ValueProvider = (*HomeAssistant)(nil)
