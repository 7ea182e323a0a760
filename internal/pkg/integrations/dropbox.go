package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"path"
	"strings"
)

// Dropbox talks to the v2 HTTP API. Uploads go to the content host.
type Dropbox struct {
	APIURL     string
	ContentURL string
}

type dropboxEntry struct {
	Tag         string `json:".tag"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	PathDisplay string `json:"path_display"`
}

func (d *Dropbox) ListFolders(ctx context.Context, s *Session, parent string) ([]Folder, error) {
	req, err := jsonRequest(ctx, http.MethodPost, d.APIURL+"/2/files/list_folder", map[string]interface{}{
		"path":      dropboxPath(parent),
		"recursive": false,
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Entries []dropboxEntry `json:"entries"`
	}
	if err := do(s, req, &out); err != nil {
		return nil, err
	}
	var folders []Folder
	for _, e := range out.Entries {
		if e.Tag != "folder" {
			continue
		}
		folders = append(folders, Folder{ID: e.ID, Name: e.Name, Path: e.PathDisplay})
	}
	return folders, nil
}

func (d *Dropbox) ListProducts(ctx context.Context, s *Session, limit int) ([]Product, error) {
	return unsupported{}.ListProducts(ctx, s, limit)
}

// Publish uploads into the folder path target. Name clashes are renamed by Dropbox.
func (d *Dropbox) Publish(ctx context.Context, s *Session, target string, f File) (*Published, error) {
	arg, err := json.Marshal(map[string]interface{}{
		"path":       path.Join("/", dropboxPath(target), f.Name),
		"mode":       "add",
		"autorename": true,
		"mute":       true,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.ContentURL+"/2/files/upload", bytes.NewReader(f.Data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Dropbox-API-Arg", string(arg))

	var created dropboxEntry
	if err := do(s, req, &created); err != nil {
		return nil, err
	}
	return &Published{RemoteID: created.ID, URL: created.PathDisplay}, nil
}

// dropboxPath normalizes a folder path: root is "", everything else starts with "/".
func dropboxPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "/" {
		return ""
	}
	if !strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "id:") {
		p = "/" + p
	}
	return strings.TrimSuffix(p, "/")
}
