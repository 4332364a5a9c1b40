package credentials

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretStore resolves secret references through AWS Secrets Manager.
type AWSSecretStore struct {
	api secretsManagerAPI
}

// NewAWSSecretStore wraps a Secrets Manager client.
func NewAWSSecretStore(client *secretsmanager.Client) *AWSSecretStore {
	if client == nil {
		panic("credentials: secrets manager client cannot be nil")
	}
	return &AWSSecretStore{api: client}
}

func newAWSSecretStoreWithAPI(api secretsManagerAPI) *AWSSecretStore {
	return &AWSSecretStore{api: api}
}

// GetSecret fetches the named secret's string value.
func (s *AWSSecretStore) GetSecret(ctx context.Context, name string) (string, error) {
	out, err := s.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("credentials: get secret %q: %w", name, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("credentials: secret %q has no string value", name)
	}
	return *out.SecretString, nil
}
