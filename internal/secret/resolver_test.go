package secret

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type fakeSSMClient struct {
	params map[string]string
}

func (f *fakeSSMClient) GetParameter(_ context.Context, input *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	val, ok := f.params[*input.Name]
	if !ok {
		return nil, fmt.Errorf("parameter not found: %s", *input.Name)
	}
	return &ssm.GetParameterOutput{
		Parameter: &ssmtypes.Parameter{
			Name:  input.Name,
			Value: aws.String(val),
		},
	}, nil
}

// fakeKMSClient "decrypts" by stripping a fixed prefix.
type fakeKMSClient struct {
	lastKeyID *string
}

func (f *fakeKMSClient) Decrypt(_ context.Context, input *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	f.lastKeyID = input.KeyId
	plain, ok := bytes.CutPrefix(input.CiphertextBlob, []byte("enc:"))
	if !ok {
		return nil, errors.New("InvalidCiphertextException")
	}
	return &kms.DecryptOutput{Plaintext: plain}, nil
}

func TestSSMResolver_GetSecret_Success(t *testing.T) {
	client := &fakeSSMClient{
		params: map[string]string{
			"/cloudbox/wopi-token-secret": "super-secret-value",
		},
	}
	resolver := NewSSMResolver(client)

	val, err := resolver.GetSecret(context.Background(), "/cloudbox/wopi-token-secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "super-secret-value" {
		t.Fatalf("expected %q, got %q", "super-secret-value", val)
	}
}

func TestSSMResolver_GetSecret_NotFound(t *testing.T) {
	resolver := NewSSMResolver(&fakeSSMClient{params: map[string]string{}})

	if _, err := resolver.GetSecret(context.Background(), "/cloudbox/nonexistent"); err == nil {
		t.Fatal("expected error for missing parameter, got nil")
	}
}

func TestKMSResolver_GetSecret_Success(t *testing.T) {
	t.Setenv("WOPI_TOKEN_SECRET", base64.StdEncoding.EncodeToString([]byte("enc:kms-secret")))
	client := &fakeKMSClient{}
	resolver := NewKMSResolver(client, "alias/cloudbox-token-key")

	val, err := resolver.GetSecret(context.Background(), "/cloudbox/wopi-token-secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "kms-secret" {
		t.Fatalf("expected %q, got %q", "kms-secret", val)
	}
	if client.lastKeyID == nil || *client.lastKeyID != "alias/cloudbox-token-key" {
		t.Fatalf("expected key id to be forwarded, got %v", client.lastKeyID)
	}
}

func TestKMSResolver_GetSecret_Errors(t *testing.T) {
	resolver := NewKMSResolver(&fakeKMSClient{}, "")

	t.Setenv("WOPI_TOKEN_SECRET", "")
	if _, err := resolver.GetSecret(context.Background(), "/cloudbox/wopi-token-secret"); err == nil {
		t.Fatal("expected error for unset variable")
	}

	t.Setenv("WOPI_TOKEN_SECRET", "%%%not-base64")
	if _, err := resolver.GetSecret(context.Background(), "/cloudbox/wopi-token-secret"); err == nil {
		t.Fatal("expected error for invalid base64")
	}

	t.Setenv("WOPI_TOKEN_SECRET", base64.StdEncoding.EncodeToString([]byte("plain")))
	if _, err := resolver.GetSecret(context.Background(), "/cloudbox/wopi-token-secret"); err == nil {
		t.Fatal("expected error from kms")
	}
}

func TestEnvResolver_GetSecret_Success(t *testing.T) {
	t.Setenv("WOPI_TOKEN_SECRET", "env-secret-value")

	val, err := NewEnvResolver().GetSecret(context.Background(), "/cloudbox/wopi-token-secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "env-secret-value" {
		t.Fatalf("expected %q, got %q", "env-secret-value", val)
	}
}

func TestEnvResolver_GetSecret_NotSet(t *testing.T) {
	t.Setenv("NONEXISTENT_SECRET", "")

	if _, err := NewEnvResolver().GetSecret(context.Background(), "/cloudbox/nonexistent-secret"); err == nil {
		t.Fatal("expected error for missing env var, got nil")
	}
}

func TestParamNameToEnvVar(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/cloudbox/wopi-token-secret", "WOPI_TOKEN_SECRET"},
		{"/cloudbox/prod/nats-url", "NATS_URL"},
		{"plain", "PLAIN"},
	}

	for _, tc := range tests {
		if got := paramNameToEnvVar(tc.input); got != tc.expected {
			t.Errorf("paramNameToEnvVar(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}
