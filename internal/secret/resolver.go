// Package secret retrieves the token signing secret from SSM Parameter
// Store, KMS encrypted environment variables, or plain environment variables.
package secret

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// SSMClient is the subset of *ssm.Client methods used by SSMResolver.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// KMSClient is the subset of *kms.Client methods used by KMSResolver.
type KMSClient interface {
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// Resolver retrieves secret values by name.
type Resolver interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SSMResolver fetches secrets from AWS Systems Manager Parameter Store.
type SSMResolver struct {
	client SSMClient
}

func NewSSMResolver(client SSMClient) *SSMResolver {
	return &SSMResolver{client: client}
}

// GetSecret retrieves a SecureString parameter with decryption.
func (r *SSMResolver) GetSecret(ctx context.Context, name string) (string, error) {
	out, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("ssm get parameter %q: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("ssm parameter %q has no value", name)
	}
	return *out.Parameter.Value, nil
}

// KMSResolver reads a base64 KMS ciphertext from the environment variable
// derived from name and decrypts it.
type KMSResolver struct {
	client KMSClient
	keyID  string
}

// NewKMSResolver returns a KMS backed resolver. keyID may be a key ID, ARN
// or alias such as "alias/cloudbox-token-key".
func NewKMSResolver(client KMSClient, keyID string) *KMSResolver {
	return &KMSResolver{client: client, keyID: keyID}
}

func (r *KMSResolver) GetSecret(ctx context.Context, name string) (string, error) {
	envName := paramNameToEnvVar(name)
	ciphertext := os.Getenv(envName)
	if ciphertext == "" {
		return "", fmt.Errorf("environment variable %q (from param %q) is not set", envName, name)
	}

	blob, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext in %q: %w", envName, err)
	}

	input := &kms.DecryptInput{CiphertextBlob: blob}
	if r.keyID != "" {
		input.KeyId = aws.String(r.keyID)
	}
	out, err := r.client.Decrypt(ctx, input)
	if err != nil {
		return "", fmt.Errorf("kms decrypt %q: %w", envName, err)
	}
	return string(out.Plaintext), nil
}

// EnvResolver fetches secrets from environment variables. The parameter name
// "/cloudbox/wopi-token-secret" maps to WOPI_TOKEN_SECRET.
type EnvResolver struct{}

func NewEnvResolver() *EnvResolver {
	return &EnvResolver{}
}

func (r *EnvResolver) GetSecret(_ context.Context, name string) (string, error) {
	envName := paramNameToEnvVar(name)
	val := os.Getenv(envName)
	if val == "" {
		return "", fmt.Errorf("environment variable %q (from param %q) is not set", envName, name)
	}
	return val, nil
}

// paramNameToEnvVar takes the last path segment, uppercases it and replaces
// hyphens with underscores.
func paramNameToEnvVar(name string) string {
	parts := strings.Split(name, "/")
	last := parts[len(parts)-1]
	return strings.ToUpper(strings.ReplaceAll(last, "-", "_"))
}
