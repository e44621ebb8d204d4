package service

import (
	"context"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fakturo/internal/actor"
	"github.com/smallbiznis/fakturo/internal/authorization"
	"github.com/smallbiznis/fakturo/internal/clock"
	filedomain "github.com/smallbiznis/fakturo/internal/filestore/domain"
	"github.com/smallbiznis/fakturo/pkg/db/pagination"
	"github.com/smallbiznis/fakturo/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var gridColumns = pagination.Columns{
	"id":         "id",
	"name":       "name",
	"mime":       "mime",
	"folder":     "folder",
	"size":       "size",
	"created_at": "created_at",
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Authz   authorization.Service
	Backend filedomain.Backend
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    repository.Repository[filedomain.File]
	genID   *snowflake.Node
	clock   clock.Clock
	authz   authorization.Service
	backend filedomain.Backend
}

func New(p Params) filedomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("filestore.service"),
		repo:    repository.ProvideStore[filedomain.File](p.DB),
		genID:   p.GenID,
		clock:   p.Clock,
		authz:   p.Authz,
		backend: p.Backend,
	}
}

func (s *Service) Store(ctx context.Context, tx *gorm.DB, in filedomain.FileInput) (*filedomain.File, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || strings.ContainsAny(name, "/\\") {
		return nil, filedomain.ErrInvalidName
	}
	if len(in.Data) == 0 {
		return nil, filedomain.ErrEmptyFile
	}
	if in.UserID == 0 {
		return nil, filedomain.ErrInvalidOwner
	}
	mimeType := in.Mime
	if mimeType == "" {
		mimeType = mime.TypeByExtension(path.Ext(name))
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	now := s.clock.Now()
	key := storageKey(in.Folder, name, now)
	if err := s.backend.Put(ctx, key, in.Data, mimeType); err != nil {
		return nil, err
	}

	f := &filedomain.File{
		ID:         s.genID.Generate(),
		UserID:     in.UserID,
		Name:       name,
		Mime:       mimeType,
		Size:       int64(len(in.Data)),
		Folder:     in.Folder,
		Backend:    s.backend.Name(),
		StorageKey: key,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	repo := s.repo
	if tx != nil {
		repo = repo.WithTrx(tx)
	}
	if err := repo.Create(ctx, f); err != nil {
		if delErr := s.backend.Delete(ctx, key); delErr != nil {
			s.log.Warn("failed to remove orphaned blob", zap.String("key", key), zap.Error(delErr))
		}
		return nil, err
	}

	s.log.Debug("file stored",
		zap.String("file_id", f.ID.String()),
		zap.String("key", key),
		zap.Int64("size", f.Size),
	)
	return f, nil
}

func (s *Service) Read(ctx context.Context, id snowflake.ID) (*filedomain.File, []byte, error) {
	f, err := s.find(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.backend.Get(ctx, f.StorageKey)
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, nil, err
	}
	return f, data, nil
}

func (s *Service) Open(ctx context.Context, a actor.Actor, id snowflake.ID) (*filedomain.File, io.ReadCloser, error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectFile, authorization.ActionView); err != nil {
		return nil, nil, err
	}
	f, err := s.find(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !a.CanAccess(f.UserID) {
		return nil, nil, authorization.ErrForbidden
	}
	rc, err := s.backend.Get(ctx, f.StorageKey)
	if err != nil {
		return nil, nil, err
	}
	return f, rc, nil
}

func (s *Service) List(ctx context.Context, a actor.Actor, grid pagination.GridRequest) (*pagination.GridResponse[filedomain.File], error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectFile, authorization.ActionView); err != nil {
		return nil, err
	}
	filter := &filedomain.File{}
	if !a.IsPrivileged() {
		filter.UserID = a.UserID
	}

	return s.repo.Grid(ctx, filter, grid, gridColumns)
}

func (s *Service) find(ctx context.Context, id snowflake.ID) (*filedomain.File, error) {
	f, err := s.repo.FindOne(ctx, &filedomain.File{ID: id})
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, filedomain.ErrNotFound
	}
	return f, nil
}
