package backend

import (
	"context"
	"fmt"

	"github.com/smallbiznis/fakturo/internal/config"
	filedomain "github.com/smallbiznis/fakturo/internal/filestore/domain"
	"go.uber.org/zap"
)

// New selects the backend named by STORAGE_BACKEND.
func New(cfg config.Config, log *zap.Logger) (filedomain.Backend, error) {
	switch cfg.Storage.Backend {
	case "", config.StorageLocal:
		log.Info("file storage on local disk", zap.String("root", cfg.Storage.LocalRoot))
		return NewLocal(cfg.Storage.LocalRoot)
	case config.StorageS3:
		log.Info("file storage on s3", zap.String("bucket", cfg.Storage.S3.Bucket))
		return NewS3(context.Background(), cfg.Storage.S3)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
