package storage

import (
	"errors"
	"net/http"
	"testing"

	"github.com/minio/minio-go/v7"

	"github.com/your-org/rollcall/internal/config"
)

func TestObjectError(t *testing.T) {
	missing := minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}
	if err := objectError("get", "frames/a.jpg", missing); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("NoSuchKey not mapped: %v", err)
	}

	denied := minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}
	err := objectError("get", "frames/a.jpg", denied)
	if errors.Is(err, ErrObjectNotFound) {
		t.Errorf("AccessDenied mapped to not found: %v", err)
	}
}

func TestNewMinIOStoreRequiresBucket(t *testing.T) {
	if _, err := NewMinIOStore(config.MinIOConfig{Endpoint: "localhost:9000"}); err == nil {
		t.Fatal("accepted empty bucket")
	}
}
