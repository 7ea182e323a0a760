package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
)

const driveFolderMime = "application/vnd.google-apps.folder"

// GoogleDrive lists folders and uploads files with the Drive v3 API.
type GoogleDrive struct {
	BaseURL string
}

type driveFile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	WebViewLink string `json:"webViewLink"`
}

func (g *GoogleDrive) ListFolders(ctx context.Context, s *Session, parent string) ([]Folder, error) {
	q := fmt.Sprintf("mimeType='%s' and trashed=false", driveFolderMime)
	if parent != "" {
		q += fmt.Sprintf(" and '%s' in parents", strings.ReplaceAll(parent, "'", `\'`))
	}
	v := url.Values{}
	v.Set("q", q)
	v.Set("fields", "files(id,name)")
	v.Set("pageSize", "100")
	v.Set("orderBy", "name")

	req, err := jsonRequest(ctx, http.MethodGet, g.BaseURL+"/drive/v3/files?"+v.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Files []driveFile `json:"files"`
	}
	if err := do(s, req, &out); err != nil {
		return nil, err
	}
	folders := make([]Folder, 0, len(out.Files))
	for _, f := range out.Files {
		folders = append(folders, Folder{ID: f.ID, Name: f.Name})
	}
	return folders, nil
}

func (g *GoogleDrive) ListProducts(ctx context.Context, s *Session, limit int) ([]Product, error) {
	return unsupported{}.ListProducts(ctx, s, limit)
}

// Publish uploads f into the folder target (root when empty) as a multipart
// upload: JSON metadata part followed by the media part.
func (g *GoogleDrive) Publish(ctx context.Context, s *Session, target string, f File) (*Published, error) {
	meta := map[string]interface{}{"name": f.Name}
	if target != "" {
		meta["parents"] = []string{target}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mh := textproto.MIMEHeader{}
	mh.Set("Content-Type", "application/json; charset=UTF-8")
	part, err := mw.CreatePart(mh)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(metaJSON); err != nil {
		return nil, err
	}
	fh := textproto.MIMEHeader{}
	fh.Set("Content-Type", f.ContentType)
	part, err = mw.CreatePart(fh)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(f.Data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	u := g.BaseURL + "/upload/drive/v3/files?uploadType=multipart&fields=id,name,webViewLink"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "multipart/related; boundary="+mw.Boundary())

	var created driveFile
	if err := do(s, req, &created); err != nil {
		return nil, err
	}
	return &Published{RemoteID: created.ID, URL: created.WebViewLink}, nil
}
