package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecretsManager struct {
	values map[string]string
	err    error
	lastID string
}

func (f *fakeSecretsManager) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.lastID = aws.ToString(params.SecretId)
	if f.err != nil {
		return nil, f.err
	}
	value, ok := f.values[f.lastID]
	if !ok {
		return &secretsmanager.GetSecretValueOutput{}, nil
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(value)}, nil
}

func TestAWSSecretStoreFetchesValue(t *testing.T) {
	store := newAWSSecretStoreWithAPI(&fakeSecretsManager{
		values: map[string]string{"zillow/password": "hunter2"},
	})

	value, err := store.GetSecret(context.Background(), "zillow/password")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", value)
}

func TestAWSSecretStoreWrapsProviderError(t *testing.T) {
	store := newAWSSecretStoreWithAPI(&fakeSecretsManager{err: errors.New("access denied")})

	_, err := store.GetSecret(context.Background(), "zillow/password")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zillow/password")
}

func TestAWSSecretStoreRejectsBinarySecret(t *testing.T) {
	store := newAWSSecretStoreWithAPI(&fakeSecretsManager{})

	_, err := store.GetSecret(context.Background(), "zillow/cookie-jar")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no string value")
}
