package service

import (
	"context"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fakturo/internal/actor"
	"github.com/smallbiznis/fakturo/internal/authorization"
	"github.com/smallbiznis/fakturo/internal/authorization/authztest"
	"github.com/smallbiznis/fakturo/internal/clock"
	"github.com/smallbiznis/fakturo/internal/filestore/backend"
	filedomain "github.com/smallbiznis/fakturo/internal/filestore/domain"
	"github.com/smallbiznis/fakturo/internal/testutil"
	"github.com/smallbiznis/fakturo/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) filedomain.Service {
	t.Helper()
	db := testutil.NewSQLite(t, &filedomain.File{})
	local, err := backend.NewLocal(t.TempDir())
	require.NoError(t, err)
	return New(Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   testutil.NewNode(t),
		Clock:   clock.NewFakeClock(time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)),
		Authz:   authztest.New(t),
		Backend: local,
	})
}

func TestStoreAndOpen(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	f, err := svc.Store(ctx, nil, filedomain.FileInput{
		Name:   "Invoice 2026-7.pdf",
		Data:   []byte("%PDF-1.3 test"),
		UserID: 10,
		Folder: filedomain.FolderInvoices,
	})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", f.Mime)
	assert.Equal(t, int64(13), f.Size)
	assert.Equal(t, "local", f.Backend)
	assert.Regexp(t, regexp.MustCompile(`^invoices/2026/03/[0-9a-z]{26}-invoice-2026-7\.pdf$`), f.StorageKey)

	got, rc, err := svc.Open(ctx, actor.Customer(10), f.ID)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.ID)
	assert.Equal(t, "%PDF-1.3 test", string(body))

	_, data, err := svc.Read(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, body, data)
}

func TestOpenRestrictsToOwner(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	f, err := svc.Store(ctx, nil, filedomain.FileInput{Name: "a.pdf", Data: []byte("x"), UserID: 10})
	require.NoError(t, err)

	_, _, err = svc.Open(ctx, actor.Customer(11), f.ID)
	assert.ErrorIs(t, err, authorization.ErrForbidden)

	_, rc, err := svc.Open(ctx, actor.Admin(1), f.ID)
	require.NoError(t, err)
	rc.Close()

	_, _, err = svc.Open(ctx, actor.Admin(1), 999)
	assert.ErrorIs(t, err, filedomain.ErrNotFound)
}

func TestStoreValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Store(ctx, nil, filedomain.FileInput{Name: "", Data: []byte("x"), UserID: 1})
	assert.ErrorIs(t, err, filedomain.ErrInvalidName)
	_, err = svc.Store(ctx, nil, filedomain.FileInput{Name: "../a.pdf", Data: []byte("x"), UserID: 1})
	assert.ErrorIs(t, err, filedomain.ErrInvalidName)
	_, err = svc.Store(ctx, nil, filedomain.FileInput{Name: "a.pdf", UserID: 1})
	assert.ErrorIs(t, err, filedomain.ErrEmptyFile)
	_, err = svc.Store(ctx, nil, filedomain.FileInput{Name: "a.pdf", Data: []byte("x")})
	assert.ErrorIs(t, err, filedomain.ErrInvalidOwner)
}

func TestListScopesCustomers(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for _, owner := range []int64{10, 10, 20} {
		_, err := svc.Store(ctx, nil, filedomain.FileInput{Name: "doc.pdf", Data: []byte("x"), UserID: snowflake.ID(owner)})
		require.NoError(t, err)
	}

	res, err := svc.List(ctx, actor.Customer(10), pagination.GridRequest{Draw: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Draw)
	assert.EqualValues(t, 2, res.RecordsTotal)
	assert.Len(t, res.Data, 2)

	res, err = svc.List(ctx, actor.Admin(1), pagination.GridRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.RecordsTotal)
}
