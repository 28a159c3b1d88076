package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSM struct {
	value  *string
	put    *string
	getErr error
}

func (f *fakeSM) GetSecretValue(_ context.Context, _ *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: f.value}, nil
}

func (f *fakeSM) PutSecretValue(_ context.Context, in *secretsmanager.PutSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
	f.put = in.SecretString
	return &secretsmanager.PutSecretValueOutput{}, nil
}

func TestAWSProvider_GetSecret(t *testing.T) {
	p := &AWSSecretsManagerProvider{client: &fakeSM{value: aws.String(`{"client_id":"abc","refresh_token":"r1"}`)}}

	got, err := p.GetSecret(context.Background(), "marketplace-sync/amazon")
	require.NoError(t, err)
	assert.Equal(t, "abc", got["client_id"])
	assert.Equal(t, "r1", got["refresh_token"])
}

func TestAWSProvider_GetSecret_Errors(t *testing.T) {
	p := &AWSSecretsManagerProvider{client: &fakeSM{getErr: errors.New("denied")}}
	_, err := p.GetSecret(context.Background(), "x")
	assert.ErrorContains(t, err, "failed to fetch secret [x]")

	p = &AWSSecretsManagerProvider{client: &fakeSM{value: aws.String("not-json")}}
	_, err = p.GetSecret(context.Background(), "x")
	assert.ErrorContains(t, err, "invalid secret format")

	p = &AWSSecretsManagerProvider{client: &fakeSM{}}
	_, err = p.GetSecret(context.Background(), "x")
	assert.ErrorContains(t, err, "no string value")
}

func TestAWSProvider_PutSecret(t *testing.T) {
	fake := &fakeSM{}
	p := &AWSSecretsManagerProvider{client: fake}

	require.NoError(t, p.PutSecret(context.Background(), "x", map[string]string{"refresh_token": "r2"}))
	require.NotNil(t, fake.put)
	assert.JSONEq(t, `{"refresh_token":"r2"}`, *fake.put)
}
