package azure

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/pkg/errors"

	"github.com/grafana/amgctl/api"
)

// GrafanaScope is the AAD scope of the Azure Managed Grafana data plane.
const GrafanaScope = "ce34e7e5-485f-4d76-964f-b3d2b16d1e4f/.default"

// NewCredential returns the default Azure credential chain: environment,
// workload identity, managed identity, then the az CLI login.
func NewCredential() (azcore.TokenCredential, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Azure credential")
	}
	return cred, nil
}

// GrafanaTokenSource returns an api.TokenSource issuing data plane tokens
// from cred. Token caching is left to the credential.
func GrafanaTokenSource(cred azcore.TokenCredential) api.TokenSource {
	return func(ctx context.Context) (string, error) {
		tok, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{GrafanaScope}})
		if err != nil {
			return "", errors.Wrap(err, "failed to get Grafana access token")
		}
		return tok.Token, nil
	}
}
