package integrations

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/oauth"
)

const maxShopifyPage = 250

// Shopify uses the Admin REST API of the connected shop. BaseURL overrides
// the per-shop URL and is only set in tests.
type Shopify struct {
	APIVersion string
	BaseURL    string
}

func (sh *Shopify) base(s *Session) (string, error) {
	if sh.BaseURL != "" {
		return sh.BaseURL, nil
	}
	shop := s.Settings[oauth.SettingShop]
	if !oauth.ValidShopDomain(shop) {
		return "", apperror.New(apperror.KindValidation, "connection has no valid shop domain")
	}
	return fmt.Sprintf("https://%s/admin/api/%s", shop, sh.APIVersion), nil
}

func (sh *Shopify) request(ctx context.Context, s *Session, method, u string, body interface{}) (*http.Request, error) {
	req, err := jsonRequest(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Shopify-Access-Token", s.AccessToken)
	return req, nil
}

func (sh *Shopify) ListFolders(ctx context.Context, s *Session, parent string) ([]Folder, error) {
	return unsupported{}.ListFolders(ctx, s, parent)
}

func (sh *Shopify) ListProducts(ctx context.Context, s *Session, limit int) ([]Product, error) {
	base, err := sh.base(s)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxShopifyPage {
		limit = maxShopifyPage
	}
	v := url.Values{}
	v.Set("limit", strconv.Itoa(limit))
	v.Set("fields", "id,title,image")
	req, err := sh.request(ctx, s, http.MethodGet, base+"/products.json?"+v.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Products []json.RawMessage `json:"products"`
	}
	if err := do(s, req, &out); err != nil {
		return nil, err
	}

	products := make([]Product, 0, len(out.Products))
	for _, raw := range out.Products {
		var p struct {
			ID    json.Number `json:"id"`
			Title string      `json:"title"`
			Image *struct {
				Src string `json:"src"`
			} `json:"image"`
		}
		if err := json.Unmarshal(raw, &p); err != nil || p.ID == "" {
			continue
		}
		product := Product{RemoteID: p.ID.String(), Title: p.Title, Raw: raw}
		if p.Image != nil {
			product.ImageURL = p.Image.Src
		}
		products = append(products, product)
	}
	return products, nil
}

// Publish attaches f as an image of the product target.
func (sh *Shopify) Publish(ctx context.Context, s *Session, target string, f File) (*Published, error) {
	if target == "" {
		return nil, apperror.New(apperror.KindValidation, "product id is required")
	}
	base, err := sh.base(s)
	if err != nil {
		return nil, err
	}
	body := map[string]interface{}{
		"image": map[string]string{
			"attachment": base64.StdEncoding.EncodeToString(f.Data),
			"filename":   f.Name,
		},
	}
	req, err := sh.request(ctx, s, http.MethodPost, base+"/products/"+url.PathEscape(target)+"/images.json", body)
	if err != nil {
		return nil, err
	}
	var out struct {
		Image struct {
			ID  json.Number `json:"id"`
			Src string      `json:"src"`
		} `json:"image"`
	}
	if err := do(s, req, &out); err != nil {
		return nil, err
	}
	return &Published{RemoteID: out.Image.ID.String(), URL: out.Image.Src}, nil
}

func idString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
