package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestResolveCachesRemoteValue(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	name := "projects/pos-prod/secrets/backend-token/versions/latest"
	client.values[name] = "remote-token"

	fetcher, err := NewFetcher(ctx, WithProject("pos-prod"), WithSecretManagerClient(client), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	for i := 0; i < 3; i++ {
		value, err := fetcher.Resolve(ctx, "secret://backend-token")
		if err != nil {
			t.Fatalf("Resolve returned error: %v", err)
		}
		if value != "remote-token" {
			t.Fatalf("expected remote-token, got %s", value)
		}
	}
	if calls := client.callCount(name); calls != 1 {
		t.Fatalf("expected a single remote call, got %d", calls)
	}
}

func TestResolveUsesRequestedVersion(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values["projects/pos-prod/secrets/backend-token/versions/3"] = "v3"

	fetcher, err := NewFetcher(ctx, WithProject("pos-prod"), WithSecretManagerClient(client), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	value, err := fetcher.ResolveSecret(ctx, "sm://backend-token?version=3")
	if err != nil {
		t.Fatalf("ResolveSecret returned error: %v", err)
	}
	if value != "v3" {
		t.Fatalf("expected v3, got %s", value)
	}
}

func TestResolveFallsBackWhenRemoteUnavailable(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.errors["projects/pos-prod/secrets/backend-token/versions/latest"] = status.Error(codes.Unavailable, "down")

	dir := t.TempDir()
	path := filepath.Join(dir, ".secrets.local")
	content := "# local\nsecret://backend-token=local-token\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing fallback file: %v", err)
	}

	fetcher, err := NewFetcher(ctx, WithProject("pos-prod"), WithSecretManagerClient(client), WithFallbackFile(path))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	value, err := fetcher.Resolve(ctx, "secret://backend-token")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if value != "local-token" {
		t.Fatalf("expected local-token, got %s", value)
	}
}

func TestResolvePropagatesNonFallbackErrors(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.errors["projects/pos-prod/secrets/backend-token/versions/latest"] = status.Error(codes.InvalidArgument, "bad name")

	fetcher, err := NewFetcher(ctx, WithProject("pos-prod"), WithSecretManagerClient(client), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	if _, err := fetcher.Resolve(ctx, "secret://backend-token"); status.Code(errors.Unwrap(err)) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument to surface, got %v", err)
	}
}

func TestResolveRejectsInvalidReferences(t *testing.T) {
	fetcher, err := NewFetcher(context.Background(), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	for _, ref := range []string{"", "https://example.com/token", "secret://"} {
		if _, err := fetcher.Resolve(context.Background(), ref); err == nil {
			t.Errorf("expected error for %q", ref)
		}
	}
}

func TestNewFetcherWithoutCredentialsUsesFallback(t *testing.T) {
	ctx := context.Background()

	original := newSecretManagerClient
	newSecretManagerClient = func(context.Context, ...option.ClientOption) (*secretmanager.Client, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() {
		newSecretManagerClient = original
	})

	dir := t.TempDir()
	path := filepath.Join(dir, ".secrets.local")
	if err := os.WriteFile(path, []byte("secret://backend-token=local-secret\n"), 0o600); err != nil {
		t.Fatalf("failed writing fallback file: %v", err)
	}

	fetcher, err := NewFetcher(ctx, WithProject("pos-prod"), WithFallbackFile(path))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	value, err := fetcher.Resolve(ctx, "secret://backend-token")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if value != "local-secret" {
		t.Fatalf("expected local secret, got %s", value)
	}
}

type fakeSecretClient struct {
	mu      sync.Mutex
	values  map[string]string
	errors  map[string]error
	counter map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{
		values:  make(map[string]string),
		errors:  make(map[string]error),
		counter: make(map[string]int),
	}
}

func (f *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := req.GetName()
	f.counter[name]++

	if err, ok := f.errors[name]; ok && err != nil {
		return nil, err
	}
	if value, ok := f.values[name]; ok {
		return &secretmanagerpb.AccessSecretVersionResponse{
			Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
		}, nil
	}
	return nil, status.Error(codes.NotFound, "not found")
}

func (f *fakeSecretClient) Close() error {
	return nil
}

func (f *fakeSecretClient) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counter[name]
}
