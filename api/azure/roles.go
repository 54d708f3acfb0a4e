package azure

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/authorization/armauthorization/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/grafana/amgctl/logger"
)

const (
	// RoleAssignmentAttempts and RoleAssignmentDelay bound the wait for a
	// new principal to replicate, three minutes in total.
	RoleAssignmentAttempts = 36
	RoleAssignmentDelay    = 5 * time.Second

	// DefaultRole is the built-in role granted when none is named.
	DefaultRole = "Grafana Admin"
)

const (
	errorCodePrincipalNotFound    = "PrincipalNotFound"
	errorCodeRoleAssignmentExists = "RoleAssignmentExists"
)

var ErrRoleAssignmentTimeout = errors.New("timed out assigning role, the principal was not found")

type RoleAssignmentsClient interface {
	Create(ctx context.Context, scope, roleAssignmentName string, parameters armauthorization.RoleAssignmentCreateParameters, options *armauthorization.RoleAssignmentsClientCreateOptions) (armauthorization.RoleAssignmentsClientCreateResponse, error)
}

type RoleDefinitionsClient interface {
	NewListPager(scope string, options *armauthorization.RoleDefinitionsClientListOptions) *runtime.Pager[armauthorization.RoleDefinitionsClientListResponse]
}

// static checks
var (
	_ RoleAssignmentsClient = &armauthorization.RoleAssignmentsClient{}
	_ RoleDefinitionsClient = &armauthorization.RoleDefinitionsClient{}
)

// RoleAssigner grants Azure roles on a scope, typically a workspace.
type RoleAssigner struct {
	assignments RoleAssignmentsClient
	definitions RoleDefinitionsClient
	log         *logger.LeveledLogger

	attempts int
	delay    time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	newName  func() string
}

func NewRoleAssigner(assignments RoleAssignmentsClient, definitions RoleDefinitionsClient, log *logger.LeveledLogger) *RoleAssigner {
	return &RoleAssigner{
		assignments: assignments,
		definitions: definitions,
		log:         log,
		attempts:    RoleAssignmentAttempts,
		delay:       RoleAssignmentDelay,
		sleep:       sleepContext,
		newName:     uuid.NewString,
	}
}

// NewRoleAssignerForSubscription builds a RoleAssigner from ARM clients.
func NewRoleAssignerForSubscription(subscriptionID string, cred azcore.TokenCredential, log *logger.LeveledLogger) (*RoleAssigner, error) {
	factory, err := armauthorization.NewClientFactory(subscriptionID, cred, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create authorization client")
	}
	return NewRoleAssigner(factory.NewRoleAssignmentsClient(), factory.NewRoleDefinitionsClient(), log), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RoleDefinition returns the single role definition named roleName visible
// at scope.
func (a *RoleAssigner) RoleDefinition(ctx context.Context, scope, roleName string) (*armauthorization.RoleDefinition, error) {
	pager := a.definitions.NewListPager(scope, &armauthorization.RoleDefinitionsClientListOptions{
		Filter: to.Ptr(fmt.Sprintf("roleName eq '%s'", roleName)),
	})
	var found []*armauthorization.RoleDefinition
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list role definitions for %q", roleName)
		}
		found = append(found, page.Value...)
	}
	switch len(found) {
	case 0:
		return nil, errors.Wrapf(ErrResourceNotFound, "role %q", roleName)
	case 1:
		return found[0], nil
	default:
		return nil, errors.Errorf("found %d role definitions for %q, expected one", len(found), roleName)
	}
}

// Assign grants roleName on scope to principalID. A principal that is not
// replicated yet is retried; an existing assignment counts as success.
func (a *RoleAssigner) Assign(ctx context.Context, scope, principalID, roleName string) error {
	role, err := a.RoleDefinition(ctx, scope, roleName)
	if err != nil {
		return err
	}
	name := a.newName()
	params := armauthorization.RoleAssignmentCreateParameters{
		Properties: &armauthorization.RoleAssignmentProperties{
			PrincipalID:      to.Ptr(principalID),
			RoleDefinitionID: role.ID,
		},
	}
	for attempt := 1; attempt <= a.attempts; attempt++ {
		_, err := a.assignments.Create(ctx, scope, name, params, nil)
		if err == nil {
			a.log.Log("Assigned role %q to principal %s on %s", roleName, principalID, scope)
			return nil
		}
		var respErr *azcore.ResponseError
		if !errors.As(err, &respErr) {
			return errors.Wrapf(err, "failed to assign role %q", roleName)
		}
		switch respErr.ErrorCode {
		case errorCodeRoleAssignmentExists:
			a.log.Verbose().Log("Role %q already assigned to principal %s", roleName, principalID)
			return nil
		case errorCodePrincipalNotFound:
			if attempt == a.attempts {
				break
			}
			a.log.Verbose().Log("Principal %s not found yet, retrying (%d/%d)", principalID, attempt, a.attempts)
			if err := a.sleep(ctx, a.delay); err != nil {
				return err
			}
			continue
		default:
			return errors.Wrapf(err, "failed to assign role %q", roleName)
		}
	}
	return errors.Wrapf(ErrRoleAssignmentTimeout, "principal %s after %d attempts", principalID, a.attempts)
}
