package cli

import (
	"context"
	"fmt"
	"net/url"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"github.com/grafana/amgctl/api"
	"github.com/grafana/amgctl/api/azure"
	"github.com/grafana/amgctl/api/grafana"
	"github.com/grafana/amgctl/flags"
)

// connection is a Grafana client together with the name it was reached by.
type connection struct {
	Name     string
	Endpoint string
	Client   grafana.APIClient
}

func (e *env) credential() (azcore.TokenCredential, error) {
	if e.cred != nil {
		return e.cred, nil
	}
	cred, err := e.newCredential()
	if err != nil {
		return nil, err
	}
	e.cred = cred
	return cred, nil
}

func (e *env) subscription() (string, error) {
	if e.global.Subscription != "" {
		return e.global.Subscription, nil
	}
	return "", flags.Usage("--subscription or %s is required to look up workspaces", flags.EnvSubscription)
}

// resolver returns the Resolver for resourceGroup, creating it on first use.
func (e *env) resolver(resourceGroup string) (*azure.Resolver, error) {
	if r, ok := e.resolvers[resourceGroup]; ok {
		return r, nil
	}
	sub, err := e.subscription()
	if err != nil {
		return nil, err
	}
	cred, err := e.credential()
	if err != nil {
		return nil, err
	}
	client, err := e.newWorkspacesClient(sub, cred)
	if err != nil {
		return nil, err
	}
	r := azure.NewResolver(client, resourceGroup)
	e.resolvers[resourceGroup] = r
	return r, nil
}

// connect returns a Grafana client for w. A URL with a token skips Azure
// entirely. Anything else authenticates with an Azure AD token.
func (e *env) connect(ctx context.Context, w flags.Workspace) (*connection, error) {
	opts := []api.ClientOption{api.WithTimeout(e.global.Timeout)}
	token := w.APIToken()

	var endpoint, name string
	if azure.IsURL(w.Workspace) {
		endpoint = w.Workspace
		name = hostName(w.Workspace)
	} else {
		r, err := e.resolver(w.ResourceGroup)
		if err != nil {
			return nil, err
		}
		if endpoint, err = r.Endpoint(ctx, w.Workspace); err != nil {
			return nil, fmt.Errorf("workspace %q: %w", w.Workspace, err)
		}
		name = w.Workspace
	}

	if token != "" {
		opts = append(opts, api.WithAuthentication(token))
	} else {
		cred, err := e.credential()
		if err != nil {
			return nil, err
		}
		opts = append(opts, api.WithTokenSource(azure.GrafanaTokenSource(cred)))
	}
	e.log.Verbose().Log("Using Grafana %s at %s", name, endpoint)
	return &connection{
		Name:     name,
		Endpoint: endpoint,
		Client:   grafana.NewAPIClient(endpoint, opts...),
	}, nil
}

func hostName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "grafana"
	}
	return u.Hostname()
}
