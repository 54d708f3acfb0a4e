// Package azure talks to Azure Resource Manager on behalf of amgctl:
// workspace lookup, data plane tokens and role assignments.
package azure

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/dashboard/armdashboard"
	"github.com/pkg/errors"
)

var ErrResourceNotFound = errors.New("resource not found")

// Workspace is an Azure Managed Grafana workspace.
type Workspace struct {
	ID            string `json:"id" yaml:"id"`
	Name          string `json:"name" yaml:"name"`
	ResourceGroup string `json:"resourceGroup" yaml:"resourceGroup"`
	Location      string `json:"location" yaml:"location"`
	SKU           string `json:"sku,omitempty" yaml:"sku,omitempty"`
	Endpoint      string `json:"endpoint" yaml:"endpoint"`
}

// WorkspacesClient is the part of armdashboard.GrafanaClient used here.
type WorkspacesClient interface {
	Get(ctx context.Context, resourceGroupName, workspaceName string, options *armdashboard.GrafanaClientGetOptions) (armdashboard.GrafanaClientGetResponse, error)
	NewListPager(options *armdashboard.GrafanaClientListOptions) *runtime.Pager[armdashboard.GrafanaClientListResponse]
	NewListByResourceGroupPager(resourceGroupName string, options *armdashboard.GrafanaClientListByResourceGroupOptions) *runtime.Pager[armdashboard.GrafanaClientListByResourceGroupResponse]
}

// static check
var _ WorkspacesClient = &armdashboard.GrafanaClient{}

// NewWorkspacesClient returns an ARM client for the Microsoft.Dashboard
// workspaces of subscriptionID.
func NewWorkspacesClient(subscriptionID string, cred azcore.TokenCredential) (*armdashboard.GrafanaClient, error) {
	client, err := armdashboard.NewGrafanaClient(subscriptionID, cred, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Azure Managed Grafana client")
	}
	return client, nil
}

// IsURL reports whether workspace is a Grafana URL rather than a workspace name.
func IsURL(workspace string) bool {
	return strings.HasPrefix(workspace, "http://") || strings.HasPrefix(workspace, "https://")
}

func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimSuffix(endpoint, "/")
	if endpoint != "" && !IsURL(endpoint) {
		endpoint = "https://" + endpoint
	}
	return endpoint
}

// ResourceGroupFromID extracts the resource group from an ARM resource id.
func ResourceGroupFromID(id string) string {
	parts := strings.Split(id, "/")
	for i := 0; i+1 < len(parts); i++ {
		if strings.EqualFold(parts[i], "resourceGroups") {
			return parts[i+1]
		}
	}
	return ""
}

func workspaceFrom(g *armdashboard.ManagedGrafana) Workspace {
	var w Workspace
	if g == nil {
		return w
	}
	if g.ID != nil {
		w.ID = *g.ID
		w.ResourceGroup = ResourceGroupFromID(w.ID)
	}
	if g.Name != nil {
		w.Name = *g.Name
	}
	if g.Location != nil {
		w.Location = *g.Location
	}
	if g.SKU != nil && g.SKU.Name != nil {
		w.SKU = *g.SKU.Name
	}
	if g.Properties != nil && g.Properties.Endpoint != nil {
		w.Endpoint = normalizeEndpoint(*g.Properties.Endpoint)
	}
	return w
}

// Resolver looks up workspaces and memoises the results. One Resolver is
// meant to live for a single command invocation.
type Resolver struct {
	client        WorkspacesClient
	resourceGroup string

	mu    sync.Mutex
	cache map[string]Workspace
}

// NewResolver returns a Resolver. With an empty resourceGroup, names are
// looked up across the whole subscription.
func NewResolver(client WorkspacesClient, resourceGroup string) *Resolver {
	return &Resolver{
		client:        client,
		resourceGroup: resourceGroup,
		cache:         map[string]Workspace{},
	}
}

// Endpoint returns the Grafana URL of workspace, which is either a URL,
// returned as is, or a workspace name.
func (r *Resolver) Endpoint(ctx context.Context, workspace string) (string, error) {
	if IsURL(workspace) {
		return normalizeEndpoint(workspace), nil
	}
	w, err := r.Workspace(ctx, workspace)
	if err != nil {
		return "", err
	}
	if w.Endpoint == "" {
		return "", errors.Errorf("workspace %q has no endpoint", workspace)
	}
	return w.Endpoint, nil
}

// Workspace returns the workspace named name.
func (r *Resolver) Workspace(ctx context.Context, name string) (Workspace, error) {
	key := strings.ToLower(r.resourceGroup + "/" + name)
	r.mu.Lock()
	w, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		return w, nil
	}

	w, err := r.lookup(ctx, name)
	if err != nil {
		return Workspace{}, err
	}
	r.mu.Lock()
	r.cache[key] = w
	r.mu.Unlock()
	return w, nil
}

func (r *Resolver) lookup(ctx context.Context, name string) (Workspace, error) {
	if r.resourceGroup != "" {
		resp, err := r.client.Get(ctx, r.resourceGroup, name, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
				return Workspace{}, errors.Wrapf(ErrResourceNotFound, "workspace %q in resource group %q", name, r.resourceGroup)
			}
			return Workspace{}, errors.Wrapf(err, "failed to get workspace %q", name)
		}
		return workspaceFrom(&resp.ManagedGrafana), nil
	}

	all, err := r.List(ctx)
	if err != nil {
		return Workspace{}, err
	}
	var found []Workspace
	for _, w := range all {
		if strings.EqualFold(w.Name, name) {
			found = append(found, w)
		}
	}
	switch len(found) {
	case 0:
		return Workspace{}, errors.Wrapf(ErrResourceNotFound, "workspace %q", name)
	case 1:
		return found[0], nil
	default:
		return Workspace{}, errors.Errorf("found %d workspaces named %q, set a resource group", len(found), name)
	}
}

// List returns the workspaces of the resource group, or of the whole
// subscription when no resource group is set, sorted by name.
func (r *Resolver) List(ctx context.Context) ([]Workspace, error) {
	var out []Workspace
	if r.resourceGroup != "" {
		pager := r.client.NewListByResourceGroupPager(r.resourceGroup, nil)
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to list workspaces in resource group %q", r.resourceGroup)
			}
			for _, g := range page.Value {
				out = append(out, workspaceFrom(g))
			}
		}
	} else {
		pager := r.client.NewListPager(nil)
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return nil, errors.Wrap(err, "failed to list workspaces")
			}
			for _, g := range page.Value {
				out = append(out, workspaceFrom(g))
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	// Without a resource group, Workspace looks names up across the
	// subscription, so unambiguous names are cached under that key too.
	names := map[string]int{}
	for _, w := range out {
		names[strings.ToLower(w.Name)]++
	}
	r.mu.Lock()
	for _, w := range out {
		r.cache[strings.ToLower(w.ResourceGroup+"/"+w.Name)] = w
		if r.resourceGroup == "" && names[strings.ToLower(w.Name)] == 1 {
			r.cache["/"+strings.ToLower(w.Name)] = w
		}
	}
	r.mu.Unlock()
	return out, nil
}
