package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/yairfalse/wipeit/pkg/resource"
)

// SecretHandler discovers and deletes Secrets Manager secrets by ARN.
type SecretHandler struct {
	client SecretsManagerAPI
}

// Kind returns resource.KindSecret.
func (h *SecretHandler) Kind() resource.Kind { return resource.KindSecret }

// Discover lists every secret not already scheduled for deletion.
func (h *SecretHandler) Discover(ctx context.Context, _ resource.Scope) ([]resource.Descriptor, error) {
	descriptors := []resource.Descriptor{}
	paginator := secretsmanager.NewListSecretsPaginator(h.client, &secretsmanager.ListSecretsInput{})

	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, resource.NewProviderError("list secrets", err)
		}

		for _, secret := range output.SecretList {
			if secret.DeletedDate != nil {
				continue
			}
			d := newDescriptor(resource.KindSecret, aws.ToString(secret.ARN), aws.ToString(secret.Name))
			setIfNotEmpty(&d, "description", aws.ToString(secret.Description))
			setIfNotEmpty(&d, "created", formatDate(secret.CreatedDate))
			setIfNotEmpty(&d, "last_accessed", formatDate(secret.LastAccessedDate))
			for _, tag := range secret.Tags {
				d.Attributes[tagPrefix+aws.ToString(tag.Key)] = aws.ToString(tag.Value)
			}
			descriptors = append(descriptors, d)
		}
	}

	return descriptors, nil
}

// Delete removes the secret immediately, without a recovery window.
func (h *SecretHandler) Delete(ctx context.Context, id string) error {
	_, err := h.client.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:                   aws.String(id),
		ForceDeleteWithoutRecovery: aws.Bool(true),
	})
	if err != nil {
		return resource.NewProviderError("delete secret", err)
	}
	return nil
}
