package integrations

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
)

const SettingTeamID = "team_id"

// Figma exposes team projects as folders. It is read only.
type Figma struct {
	unsupported
	BaseURL string
}

func (f *Figma) ListFolders(ctx context.Context, s *Session, parent string) ([]Folder, error) {
	team := parent
	if team == "" {
		team = s.Settings[SettingTeamID]
	}
	if team == "" {
		return nil, apperror.New(apperror.KindValidation, "figma needs a team id")
	}
	req, err := jsonRequest(ctx, http.MethodGet, f.BaseURL+"/v1/teams/"+url.PathEscape(team)+"/projects", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Projects []struct {
			ID   interface{} `json:"id"`
			Name string      `json:"name"`
		} `json:"projects"`
	}
	if err := do(s, req, &out); err != nil {
		return nil, err
	}
	folders := make([]Folder, 0, len(out.Projects))
	for _, p := range out.Projects {
		folders = append(folders, Folder{ID: idString(p.ID), Name: p.Name})
	}
	return folders, nil
}
