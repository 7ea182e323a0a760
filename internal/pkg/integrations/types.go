// Package integrations runs operations against connected third-party
// platforms on behalf of a user. Expired tokens are refreshed transparently
// and imported products are persisted idempotently by remote id.
package integrations

import (
	"encoding/json"
	"net/http"

	"github.com/ManuelReschke/MockupSuite/app/models"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
)

type Operation string

const (
	OpListFolders   Operation = "list_folders"
	OpSyncProducts  Operation = "sync_products"
	OpPublishMockup Operation = "publish_mockup"
	OpUploadMockups Operation = "upload_mockups"
)

func (o Operation) Valid() bool {
	switch o {
	case OpListFolders, OpSyncProducts, OpPublishMockup, OpUploadMockups:
		return true
	}
	return false
}

// Params carries the operation input. Target is a folder id, folder path or
// product id depending on platform and operation.
type Params struct {
	Parent      string   `json:"parent,omitempty"`
	Target      string   `json:"target,omitempty"`
	MockupPaths []string `json:"mockup_paths,omitempty"`
	Limit       int      `json:"limit,omitempty"`
}

type Folder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
}

// Product is a remote product before it is persisted.
type Product struct {
	RemoteID string
	Title    string
	ImageURL string
	Raw      json.RawMessage
}

type File struct {
	Name        string
	ContentType string
	Data        []byte
}

type Published struct {
	Source   string `json:"source"`
	RemoteID string `json:"remote_id"`
	URL      string `json:"url,omitempty"`
}

type ItemError struct {
	Item    string        `json:"item"`
	Kind    apperror.Kind `json:"kind"`
	Message string        `json:"message"`
}

// Result reports what an operation did. Persisted counts the items that were
// actually written, which can be less than Attempted.
type Result struct {
	Operation Operation                `json:"operation"`
	Platform  string                   `json:"platform"`
	Attempted int                      `json:"attempted"`
	Persisted int                      `json:"persisted"`
	Folders   []Folder                 `json:"folders,omitempty"`
	Products  []models.ImportedProduct `json:"products,omitempty"`
	Published []Published              `json:"published,omitempty"`
	Errors    []ItemError              `json:"errors,omitempty"`
}

// Session is an authenticated view of one connection.
type Session struct {
	UserID      uint
	Platform    string
	AccessToken string
	Settings    map[string]string
	HTTP        *http.Client
}
