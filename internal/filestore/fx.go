package filestore

import (
	"github.com/smallbiznis/fakturo/internal/filestore/backend"
	"github.com/smallbiznis/fakturo/internal/filestore/service"
	"go.uber.org/fx"
)

var Module = fx.Module("filestore.service",
	fx.Provide(backend.New),
	fx.Provide(service.New),
)
