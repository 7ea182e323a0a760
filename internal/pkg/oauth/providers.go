package oauth

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
	"golang.org/x/oauth2/google"

	"github.com/ManuelReschke/MockupSuite/app/models"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/env"
)

// SettingShop is the platform setting carrying a Shopify shop domain.
const SettingShop = "shop"

// SettingTransport selects how the callback reports back. It is kept on the
// state only and never stored with the connection.
const (
	SettingTransport  = "transport"
	TransportPopup    = "popup"
	TransportRedirect = "redirect"
)

var shopDomainPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*\.myshopify\.com$`)

// Provider holds the OAuth client configuration of one integration platform.
type Provider struct {
	Slug         string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	Scopes       []string
	// AuthParams are appended to the authorization URL, e.g. offline access.
	AuthParams map[string]string
	// PerShop marks providers whose endpoints live on the merchant's shop domain.
	PerShop bool
}

func (p Provider) Configured() bool {
	return strings.TrimSpace(p.ClientID) != "" && strings.TrimSpace(p.ClientSecret) != ""
}

// ValidShopDomain accepts only *.myshopify.com hosts.
func ValidShopDomain(shop string) bool {
	return shopDomainPattern.MatchString(strings.ToLower(strings.TrimSpace(shop)))
}

// Config builds the oauth2 configuration. Per-shop providers substitute the
// shop domain from settings into their endpoints.
func (p Provider) Config(redirectURL string, settings map[string]string) (*oauth2.Config, error) {
	if !p.Configured() {
		return nil, apperror.Newf(apperror.KindValidation, "OAuth for %s is not configured", p.Slug)
	}
	authURL, tokenURL := p.AuthURL, p.TokenURL
	if p.PerShop {
		shop := strings.ToLower(strings.TrimSpace(settings[SettingShop]))
		if !ValidShopDomain(shop) {
			return nil, apperror.New(apperror.KindValidation, "a valid shop domain (name.myshopify.com) is required")
		}
		authURL = strings.ReplaceAll(authURL, "{shop}", shop)
		tokenURL = strings.ReplaceAll(tokenURL, "{shop}", shop)
	}
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       p.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   authURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}, nil
}

func (p Provider) authOptions() []oauth2.AuthCodeOption {
	opts := make([]oauth2.AuthCodeOption, 0, len(p.AuthParams))
	for k, v := range p.AuthParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	return opts
}

// ProvidersFromEnv reads client credentials for every supported platform.
// Scopes default to the catalog's scopes when left empty here.
func ProvidersFromEnv() map[string]Provider {
	return map[string]Provider{
		models.IntegrationGoogleDrive: {
			Slug:         models.IntegrationGoogleDrive,
			ClientID:     env.GetEnv("GOOGLE_DRIVE_CLIENT_ID", ""),
			ClientSecret: env.GetEnv("GOOGLE_DRIVE_CLIENT_SECRET", ""),
			AuthURL:      google.Endpoint.AuthURL,
			TokenURL:     google.Endpoint.TokenURL,
			AuthParams:   map[string]string{"access_type": "offline", "prompt": "consent"},
		},
		models.IntegrationDropbox: {
			Slug:         models.IntegrationDropbox,
			ClientID:     env.GetEnv("DROPBOX_CLIENT_ID", ""),
			ClientSecret: env.GetEnv("DROPBOX_CLIENT_SECRET", ""),
			AuthURL:      endpoints.Dropbox.AuthURL,
			TokenURL:     endpoints.Dropbox.TokenURL,
			AuthParams:   map[string]string{"token_access_type": "offline"},
		},
		models.IntegrationFigma: {
			Slug:         models.IntegrationFigma,
			ClientID:     env.GetEnv("FIGMA_CLIENT_ID", ""),
			ClientSecret: env.GetEnv("FIGMA_CLIENT_SECRET", ""),
			AuthURL:      "https://www.figma.com/oauth",
			TokenURL:     "https://api.figma.com/v1/oauth/token",
		},
		models.IntegrationShopify: {
			Slug:         models.IntegrationShopify,
			ClientID:     env.GetEnv("SHOPIFY_CLIENT_ID", ""),
			ClientSecret: env.GetEnv("SHOPIFY_CLIENT_SECRET", ""),
			AuthURL:      "https://{shop}/admin/oauth/authorize",
			TokenURL:     "https://{shop}/admin/oauth/access_token",
			PerShop:      true,
		},
	}
}

// CallbackURL is the redirect URI registered with every provider.
func CallbackURL(baseURL, slug string) string {
	return fmt.Sprintf("%s/integrations/%s/callback", strings.TrimRight(baseURL, "/"), slug)
}
