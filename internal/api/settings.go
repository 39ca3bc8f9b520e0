package api

import (
	"net/http"
	"sort"

	"github.com/artha-au/baasd/internal/apperrors"
	"github.com/artha-au/baasd/internal/settings"
)

type settingResponse struct {
	Category        string `json:"category"`
	Key             string `json:"key"`
	Value           string `json:"value"`
	DataType        string `json:"data_type"`
	Sensitive       bool   `json:"sensitive"`
	RequiresRestart bool   `json:"requires_restart"`
}

// handleListSettings returns every setting, sensitive values redacted.
func (a *API) handleListSettings(w http.ResponseWriter, r *http.Request) {
	all := a.settings.All()
	out := make([]settingResponse, 0, len(all))
	for _, s := range all {
		out = append(out, settingResponse{
			Category:        s.Category,
			Key:             s.Key,
			Value:           s.Value,
			DataType:        string(s.DataType),
			Sensitive:       s.Sensitive,
			RequiresRestart: s.RequiresRestart,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Key < out[j].Key
	})
	respondData(w, http.StatusOK, out)
}

type updateSettingRequest struct {
	Category        string `json:"category"`
	Key             string `json:"key"`
	Value           string `json:"value"`
	DataType        string `json:"data_type,omitempty"`
	Sensitive       bool   `json:"sensitive,omitempty"`
	RequiresRestart bool   `json:"requires_restart,omitempty"`
}

// handleUpdateSetting writes a setting through the cache to storage.
func (a *API) handleUpdateSetting(w http.ResponseWriter, r *http.Request) {
	var req updateSettingRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, a.logger, err)
		return
	}
	if req.Category == "" || req.Key == "" {
		respondError(w, a.logger, apperrors.Validation("category and key are required"))
		return
	}

	dataType := settings.DataType(req.DataType)
	sensitive := req.Sensitive
	requiresRestart := req.RequiresRestart
	if existing, ok := a.settings.Get(req.Category, req.Key); ok {
		if req.DataType == "" {
			dataType = existing.DataType
		}
		sensitive = sensitive || existing.Sensitive
		requiresRestart = requiresRestart || existing.RequiresRestart
	} else if req.DataType == "" {
		dataType = settings.TypeString
	}

	if err := a.settings.Set(r.Context(), req.Category, req.Key, req.Value, dataType, sensitive, requiresRestart); err != nil {
		respondError(w, a.logger, err)
		return
	}

	a.logger.Info().Str("category", req.Category).Str("key", req.Key).Msg("setting updated")
	respondMessage(w, http.StatusOK, "setting updated")
}
