package archive

import (
	"context"
	"testing"
)

func TestKey(t *testing.T) {
	if got := Key("abc"); got != "samples/abc" {
		t.Errorf("Key = %q", got)
	}
}

func TestNew_RejectsEndpointWithPath(t *testing.T) {
	_, err := New(context.Background(), Config{Endpoint: "http://minio.local/samples", Bucket: "samples"})
	if err == nil {
		t.Fatal("New accepted an endpoint with a scheme and path")
	}
}
