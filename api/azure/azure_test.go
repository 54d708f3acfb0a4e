package azure

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/authorization/armauthorization/v2"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/dashboard/armdashboard"
	"github.com/stretchr/testify/require"

	"github.com/grafana/amgctl/logger"
)

func responseError(status int, code string) error {
	req, _ := http.NewRequest(http.MethodPut, "https://management.azure.com/subscriptions/sub", nil)
	return &azcore.ResponseError{
		ErrorCode:  code,
		StatusCode: status,
		RawResponse: &http.Response{
			StatusCode: status,
			Header:     http.Header{"X-Ms-Error-Code": []string{code}},
			Body:       io.NopCloser(strings.NewReader("{}")),
			Request:    req,
		},
	}
}

func grafanaResource(rg, name, endpoint string) *armdashboard.ManagedGrafana {
	return &armdashboard.ManagedGrafana{
		ID:       to.Ptr("/subscriptions/sub/resourceGroups/" + rg + "/providers/Microsoft.Dashboard/grafana/" + name),
		Name:     to.Ptr(name),
		Location: to.Ptr("westeurope"),
		Properties: &armdashboard.ManagedGrafanaProperties{
			Endpoint: to.Ptr(endpoint),
		},
	}
}

type fakeWorkspaces struct {
	workspaces []*armdashboard.ManagedGrafana
	gets       int
	lists      int
}

func (f *fakeWorkspaces) Get(_ context.Context, rg, name string, _ *armdashboard.GrafanaClientGetOptions) (armdashboard.GrafanaClientGetResponse, error) {
	f.gets++
	for _, g := range f.workspaces {
		if ResourceGroupFromID(*g.ID) == rg && *g.Name == name {
			return armdashboard.GrafanaClientGetResponse{ManagedGrafana: *g}, nil
		}
	}
	return armdashboard.GrafanaClientGetResponse{}, responseError(http.StatusNotFound, "ResourceNotFound")
}

// pages splits the workspaces into two pages linked by NextLink.
func (f *fakeWorkspaces) pages(filter func(*armdashboard.ManagedGrafana) bool) [][]*armdashboard.ManagedGrafana {
	var all []*armdashboard.ManagedGrafana
	for _, g := range f.workspaces {
		if filter(g) {
			all = append(all, g)
		}
	}
	half := len(all) / 2
	return [][]*armdashboard.ManagedGrafana{all[:half], all[half:]}
}

func fetchPages(pages [][]*armdashboard.ManagedGrafana) func(context.Context, *armdashboard.ManagedGrafanaListResponse) (armdashboard.ManagedGrafanaListResponse, error) {
	return func(_ context.Context, prev *armdashboard.ManagedGrafanaListResponse) (armdashboard.ManagedGrafanaListResponse, error) {
		if prev == nil {
			return armdashboard.ManagedGrafanaListResponse{Value: pages[0], NextLink: to.Ptr("page2")}, nil
		}
		return armdashboard.ManagedGrafanaListResponse{Value: pages[1]}, nil
	}
}

func (f *fakeWorkspaces) NewListPager(_ *armdashboard.GrafanaClientListOptions) *runtime.Pager[armdashboard.GrafanaClientListResponse] {
	f.lists++
	fetch := fetchPages(f.pages(func(*armdashboard.ManagedGrafana) bool { return true }))
	return runtime.NewPager(runtime.PagingHandler[armdashboard.GrafanaClientListResponse]{
		More: func(page armdashboard.GrafanaClientListResponse) bool {
			return page.NextLink != nil && *page.NextLink != ""
		},
		Fetcher: func(ctx context.Context, page *armdashboard.GrafanaClientListResponse) (armdashboard.GrafanaClientListResponse, error) {
			var prev *armdashboard.ManagedGrafanaListResponse
			if page != nil {
				prev = &page.ManagedGrafanaListResponse
			}
			resp, err := fetch(ctx, prev)
			return armdashboard.GrafanaClientListResponse{ManagedGrafanaListResponse: resp}, err
		},
	})
}

func (f *fakeWorkspaces) NewListByResourceGroupPager(rg string, _ *armdashboard.GrafanaClientListByResourceGroupOptions) *runtime.Pager[armdashboard.GrafanaClientListByResourceGroupResponse] {
	f.lists++
	fetch := fetchPages(f.pages(func(g *armdashboard.ManagedGrafana) bool { return ResourceGroupFromID(*g.ID) == rg }))
	return runtime.NewPager(runtime.PagingHandler[armdashboard.GrafanaClientListByResourceGroupResponse]{
		More: func(page armdashboard.GrafanaClientListByResourceGroupResponse) bool {
			return page.NextLink != nil && *page.NextLink != ""
		},
		Fetcher: func(ctx context.Context, page *armdashboard.GrafanaClientListByResourceGroupResponse) (armdashboard.GrafanaClientListByResourceGroupResponse, error) {
			var prev *armdashboard.ManagedGrafanaListResponse
			if page != nil {
				prev = &page.ManagedGrafanaListResponse
			}
			resp, err := fetch(ctx, prev)
			return armdashboard.GrafanaClientListByResourceGroupResponse{ManagedGrafanaListResponse: resp}, err
		},
	})
}

func newFakeWorkspaces() *fakeWorkspaces {
	return &fakeWorkspaces{workspaces: []*armdashboard.ManagedGrafana{
		grafanaResource("rg1", "alpha", "alpha-abc.weu.grafana.azure.com"),
		grafanaResource("rg1", "beta", "https://beta-abc.weu.grafana.azure.com/"),
		grafanaResource("rg2", "gamma", "https://gamma-abc.weu.grafana.azure.com"),
		grafanaResource("rg3", "gamma", "https://gamma-def.weu.grafana.azure.com"),
	}}
}

func TestResolver(t *testing.T) {
	ctx := context.Background()

	t.Run("URL is returned as is", func(t *testing.T) {
		f := newFakeWorkspaces()
		endpoint, err := NewResolver(f, "rg1").Endpoint(ctx, "https://my.grafana.example/")
		require.NoError(t, err)
		require.Equal(t, "https://my.grafana.example", endpoint)
		require.Zero(t, f.gets)
	})

	t.Run("name in resource group is cached", func(t *testing.T) {
		f := newFakeWorkspaces()
		r := NewResolver(f, "rg1")
		for i := 0; i < 3; i++ {
			endpoint, err := r.Endpoint(ctx, "alpha")
			require.NoError(t, err)
			require.Equal(t, "https://alpha-abc.weu.grafana.azure.com", endpoint)
		}
		require.Equal(t, 1, f.gets)

		// A second resolver does not share the cache.
		_, err := NewResolver(f, "rg1").Endpoint(ctx, "alpha")
		require.NoError(t, err)
		require.Equal(t, 2, f.gets)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := NewResolver(newFakeWorkspaces(), "rg1").Workspace(ctx, "nope")
		require.ErrorIs(t, err, ErrResourceNotFound)
	})

	t.Run("name across the subscription", func(t *testing.T) {
		f := newFakeWorkspaces()
		r := NewResolver(f, "")
		w, err := r.Workspace(ctx, "BETA")
		require.NoError(t, err)
		require.Equal(t, "rg1", w.ResourceGroup)
		require.Equal(t, "https://beta-abc.weu.grafana.azure.com", w.Endpoint)

		_, err = r.Workspace(ctx, "gamma")
		require.ErrorContains(t, err, "found 2 workspaces")

		_, err = r.Workspace(ctx, "nope")
		require.ErrorIs(t, err, ErrResourceNotFound)
	})

	t.Run("list", func(t *testing.T) {
		f := newFakeWorkspaces()
		all, err := NewResolver(f, "").List(ctx)
		require.NoError(t, err)
		require.Len(t, all, 4)
		require.Equal(t, "alpha", all[0].Name)
		require.Equal(t, "westeurope", all[0].Location)

		inGroup, err := NewResolver(f, "rg1").List(ctx)
		require.NoError(t, err)
		require.Len(t, inGroup, 2)
	})

	t.Run("list fills the cache for names across the subscription", func(t *testing.T) {
		f := newFakeWorkspaces()
		r := NewResolver(f, "")
		_, err := r.List(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, f.lists)

		w, err := r.Workspace(ctx, "Alpha")
		require.NoError(t, err)
		require.Equal(t, "rg1", w.ResourceGroup)
		require.Equal(t, 1, f.lists)

		_, err = r.Workspace(ctx, "gamma")
		require.ErrorContains(t, err, "found 2 workspaces")
		require.Equal(t, 2, f.lists)
	})
}

func TestResourceGroupFromID(t *testing.T) {
	require.Equal(t, "my-rg", ResourceGroupFromID("/subscriptions/s/resourceGroups/my-rg/providers/Microsoft.Dashboard/grafana/g"))
	require.Equal(t, "my-rg", ResourceGroupFromID("/subscriptions/s/resourcegroups/my-rg"))
	require.Empty(t, ResourceGroupFromID("/subscriptions/s"))
}

type fakeRoleDefinitions struct {
	definitions []*armauthorization.RoleDefinition
	filter      string
}

func (f *fakeRoleDefinitions) NewListPager(_ string, options *armauthorization.RoleDefinitionsClientListOptions) *runtime.Pager[armauthorization.RoleDefinitionsClientListResponse] {
	if options != nil && options.Filter != nil {
		f.filter = *options.Filter
	}
	return runtime.NewPager(runtime.PagingHandler[armauthorization.RoleDefinitionsClientListResponse]{
		More: func(armauthorization.RoleDefinitionsClientListResponse) bool { return false },
		Fetcher: func(context.Context, *armauthorization.RoleDefinitionsClientListResponse) (armauthorization.RoleDefinitionsClientListResponse, error) {
			return armauthorization.RoleDefinitionsClientListResponse{
				RoleDefinitionListResult: armauthorization.RoleDefinitionListResult{Value: f.definitions},
			}, nil
		},
	})
}

type fakeRoleAssignments struct {
	errs  []error
	names []string
	calls int
}

func (f *fakeRoleAssignments) Create(_ context.Context, _, name string, params armauthorization.RoleAssignmentCreateParameters, _ *armauthorization.RoleAssignmentsClientCreateOptions) (armauthorization.RoleAssignmentsClientCreateResponse, error) {
	f.calls++
	f.names = append(f.names, name)
	if len(f.errs) == 0 {
		return armauthorization.RoleAssignmentsClientCreateResponse{}, nil
	}
	err := f.errs[0]
	if len(f.errs) > 1 {
		f.errs = f.errs[1:]
	}
	return armauthorization.RoleAssignmentsClientCreateResponse{}, err
}

func newAssigner(assignments *fakeRoleAssignments) (*RoleAssigner, *int) {
	definitions := &fakeRoleDefinitions{definitions: []*armauthorization.RoleDefinition{{ID: to.Ptr("/roles/admin")}}}
	a := NewRoleAssigner(assignments, definitions, logger.Discard())
	var sleeps int
	a.sleep = func(context.Context, time.Duration) error {
		sleeps++
		return nil
	}
	a.newName = func() string { return "assignment-1" }
	return a, &sleeps
}

func TestAssign(t *testing.T) {
	ctx := context.Background()
	notFound := responseError(http.StatusBadRequest, "PrincipalNotFound")

	t.Run("success", func(t *testing.T) {
		assignments := &fakeRoleAssignments{}
		a, sleeps := newAssigner(assignments)
		require.NoError(t, a.Assign(ctx, "/scope", "principal", DefaultRole))
		require.Equal(t, 1, assignments.calls)
		require.Zero(t, *sleeps)
	})

	t.Run("retries while the principal is not found", func(t *testing.T) {
		assignments := &fakeRoleAssignments{errs: []error{notFound, notFound, notFound, nil}}
		a, sleeps := newAssigner(assignments)
		require.NoError(t, a.Assign(ctx, "/scope", "principal", DefaultRole))
		require.Equal(t, 4, assignments.calls)
		require.Equal(t, 3, *sleeps)
		require.Equal(t, []string{"assignment-1", "assignment-1", "assignment-1", "assignment-1"}, assignments.names)
	})

	t.Run("existing assignment is success", func(t *testing.T) {
		assignments := &fakeRoleAssignments{errs: []error{responseError(http.StatusConflict, "RoleAssignmentExists")}}
		a, _ := newAssigner(assignments)
		require.NoError(t, a.Assign(ctx, "/scope", "principal", DefaultRole))
		require.Equal(t, 1, assignments.calls)
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		assignments := &fakeRoleAssignments{errs: []error{responseError(http.StatusForbidden, "AuthorizationFailed")}}
		a, sleeps := newAssigner(assignments)
		err := a.Assign(ctx, "/scope", "principal", DefaultRole)
		require.Error(t, err)
		var respErr *azcore.ResponseError
		require.True(t, errors.As(err, &respErr))
		require.Equal(t, "AuthorizationFailed", respErr.ErrorCode)
		require.Equal(t, 1, assignments.calls)
		require.Zero(t, *sleeps)

		assignments = &fakeRoleAssignments{errs: []error{errors.New("connection reset")}}
		a, _ = newAssigner(assignments)
		require.ErrorContains(t, a.Assign(ctx, "/scope", "principal", DefaultRole), "connection reset")
		require.Equal(t, 1, assignments.calls)
	})

	t.Run("gives up", func(t *testing.T) {
		assignments := &fakeRoleAssignments{errs: []error{notFound}}
		a, sleeps := newAssigner(assignments)
		err := a.Assign(ctx, "/scope", "principal", DefaultRole)
		require.ErrorIs(t, err, ErrRoleAssignmentTimeout)
		require.Equal(t, RoleAssignmentAttempts, assignments.calls)
		require.Equal(t, RoleAssignmentAttempts-1, *sleeps)
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		assignments := &fakeRoleAssignments{errs: []error{notFound}}
		a, _ := newAssigner(assignments)
		a.sleep = sleepContext
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		require.ErrorIs(t, a.Assign(cctx, "/scope", "principal", DefaultRole), context.Canceled)
		require.Equal(t, 1, assignments.calls)
	})
}

func TestRoleDefinition(t *testing.T) {
	ctx := context.Background()

	definitions := &fakeRoleDefinitions{}
	a := NewRoleAssigner(&fakeRoleAssignments{}, definitions, logger.Discard())
	_, err := a.RoleDefinition(ctx, "/scope", "Grafana Viewer")
	require.ErrorIs(t, err, ErrResourceNotFound)
	require.Equal(t, "roleName eq 'Grafana Viewer'", definitions.filter)

	definitions.definitions = []*armauthorization.RoleDefinition{{ID: to.Ptr("a")}, {ID: to.Ptr("b")}}
	_, err = a.RoleDefinition(ctx, "/scope", "Grafana Viewer")
	require.ErrorContains(t, err, "found 2 role definitions")
}
