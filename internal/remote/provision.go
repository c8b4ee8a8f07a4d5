package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"upgradebot/internal/dispatch"
)

const (
	DefaultProvisionURL = "https://api.nextdns.io"
	DefaultLinkTemplate = "https://apple.nextdns.io/?profile=%s"
	defaultProfileName  = "Locket Gold Block"
)

type ProvisionerConfig struct {
	BaseURL      string
	APIKey       string
	LinkTemplate string
	ProfileName  string
	Timeout      time.Duration
}

// Provisioner creates one NextDNS profile per successful upgrade.
type Provisioner struct {
	api  *apiClient
	link string
	name string
}

func NewProvisioner(cfg ProvisionerConfig) (*Provisioner, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("provisioner: api key is required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultProvisionURL
	}
	api, err := newAPIClient(base, cfg.Timeout, func(h http.Header) {
		h.Set("X-Api-Key", cfg.APIKey)
	})
	if err != nil {
		return nil, fmt.Errorf("provisioner: %w", err)
	}
	p := &Provisioner{api: api, link: cfg.LinkTemplate, name: cfg.ProfileName}
	if p.link == "" || !strings.Contains(p.link, "%s") {
		p.link = DefaultLinkTemplate
	}
	if p.name == "" {
		p.name = defaultProfileName
	}
	return p, nil
}

func (p *Provisioner) Provision(ctx context.Context, progress dispatch.ProgressFunc) (dispatch.Profile, error) {
	progress("[NextDNS] Creating profile...")
	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := p.api.doJSON(ctx, http.MethodPost, "/profiles", map[string]string{"name": p.name}, &out); err != nil {
		progress("[NextDNS] Failed: " + err.Error())
		return dispatch.Profile{}, fmt.Errorf("create profile: %w", err)
	}
	if out.Data.ID == "" {
		progress("[NextDNS] Failed: empty profile id")
		return dispatch.Profile{}, errors.New("create profile: empty profile id")
	}
	progress("[NextDNS] Profile " + out.Data.ID + " ready")
	return dispatch.Profile{ID: out.Data.ID, Link: fmt.Sprintf(p.link, out.Data.ID)}, nil
}
