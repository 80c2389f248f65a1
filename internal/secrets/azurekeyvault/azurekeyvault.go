// Package azurekeyvault implements the SecretStore collaborator against an
// Azure Key Vault, resolving named secrets by a "<job>-<name>" naming
// convention scoped per organization.
package azurekeyvault

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/keyvault/azsecrets"
)

// Store resolves secrets from an Azure Key Vault.
type Store struct {
	client *azsecrets.Client
	// Names lists the secret names registered for a given job/org pair, since
	// Key Vault has no notion of scoping secrets to a build's job directly.
	names func(ctx context.Context, jobID, orgID string) ([]string, error)
}

// NewFromVaultURL constructs a Store authenticating via the default Azure
// credential chain (environment, managed identity, CLI).
func NewFromVaultURL(vaultURL string, names func(ctx context.Context, jobID, orgID string) ([]string, error)) (*Store, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("azurekeyvault: credential: %w", err)
	}
	client, err := azsecrets.NewClient(vaultURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azurekeyvault: client: %w", err)
	}
	return &Store{client: client, names: names}, nil
}

// GetSecretsForBuild resolves every secret name registered for jobID/orgID.
func (s *Store) GetSecretsForBuild(ctx context.Context, jobID, orgID string) (map[string]string, error) {
	names, err := s.names(ctx, jobID, orgID)
	if err != nil {
		return nil, fmt.Errorf("azurekeyvault: list secret names: %w", err)
	}

	out := make(map[string]string, len(names))
	for _, name := range names {
		resp, err := s.client.GetSecret(ctx, name, "", nil)
		if err != nil {
			return nil, fmt.Errorf("azurekeyvault: get secret %q: %w", name, err)
		}
		if resp.Value != nil {
			out[name] = *resp.Value
		}
	}
	return out, nil
}
