package commands

import (
	"fmt"
	"time"

	"github.com/graphctl/graphctl/internal/auth"
	"github.com/graphctl/graphctl/internal/config"
	"github.com/graphctl/graphctl/internal/output"
	"github.com/graphctl/graphctl/internal/token"
)

// flowOptions collects the per-invocation knobs that select and tune a
// credential flow.
type flowOptions struct {
	Via             string // interactive, device, secret, certificate, managed-identity
	Token           string // bring-your-own token; wins over Via
	CertificatePath string
	Timeout         time.Duration
}

// buildFlow assembles the flow selected by flags and configuration. With no
// explicit selection the available credential material decides: a client
// secret or certificate from the environment wins, otherwise the interactive
// flow runs.
func buildFlow(cfg *config.Config, opts flowOptions) (auth.Flow, error) {
	if opts.Token != "" {
		return &auth.RawToken{Token: opts.Token}, nil
	}

	via := opts.Via
	if via == "" {
		switch {
		case cfg.ClientSecret != "":
			via = "secret"
		case cfg.CertificatePath != "" || opts.CertificatePath != "":
			via = "certificate"
		default:
			via = "interactive"
		}
	}

	switch via {
	case "interactive":
		if err := requireClientID(cfg); err != nil {
			return nil, err
		}
		return &auth.Interactive{
			AuthorizeEndpoint: cfg.AuthorizeEndpoint(),
			TokenEndpoint:     cfg.TokenEndpoint(),
			ClientID:          cfg.ClientID,
			Scopes:            cfg.Scopes,
			RedirectWait:      opts.Timeout,
		}, nil

	case "device", "device-code":
		if err := requireClientID(cfg); err != nil {
			return nil, err
		}
		return &auth.DeviceCode{
			DeviceEndpoint: cfg.DeviceCodeEndpoint(),
			TokenEndpoint:  cfg.TokenEndpoint(),
			ClientID:       cfg.ClientID,
			Scopes:         cfg.Scopes,
		}, nil

	case "secret":
		if err := requireClientID(cfg); err != nil {
			return nil, err
		}
		if cfg.ClientSecret == "" {
			return nil, output.ErrUsageHint(
				"No client secret available",
				"Set GRAPHCTL_CLIENT_SECRET; secrets are never read from config files",
			)
		}
		return &auth.ClientSecret{
			TokenEndpoint: cfg.TokenEndpoint(),
			ClientID:      cfg.ClientID,
			Secret:        cfg.ClientSecret,
			Scopes:        cfg.Scopes,
		}, nil

	case "certificate":
		if err := requireClientID(cfg); err != nil {
			return nil, err
		}
		path := opts.CertificatePath
		if path == "" {
			path = cfg.CertificatePath
		}
		if path == "" {
			return nil, output.ErrUsageHint(
				"No certificate available",
				"Use --certificate or set GRAPHCTL_CERTIFICATE_PATH",
			)
		}
		cert, err := token.LoadCertificate(path)
		if err != nil {
			return nil, err
		}
		return &auth.ClientCertificate{
			TokenEndpoint: cfg.TokenEndpoint(),
			ClientID:      cfg.ClientID,
			Certificate:   cert,
			Scopes:        cfg.Scopes,
		}, nil

	case "managed-identity", "mi":
		return &auth.ManagedIdentity{
			Resource: cfg.BaseURL,
			ClientID: cfg.ClientID,
		}, nil

	default:
		return nil, output.ErrUsage(fmt.Sprintf("Unknown flow %q", via))
	}
}

func requireClientID(cfg *config.Config) error {
	if cfg.ClientID == "" {
		return output.ErrUsageHint(
			"No client ID configured",
			"Use --client-id or set GRAPHCTL_CLIENT_ID",
		)
	}
	return nil
}
