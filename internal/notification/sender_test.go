package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/fakturo/internal/actor"
	"github.com/smallbiznis/fakturo/internal/providers/email"
	"github.com/smallbiznis/fakturo/internal/testutil"
	userdomain "github.com/smallbiznis/fakturo/internal/user/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingProvider struct {
	mu    sync.Mutex
	calls []recorded
	err   error
}

type recorded struct {
	to       []string
	template string
	data     map[string]any
	files    int
}

func (p *recordingProvider) Send(context.Context, email.Message) error { return p.err }

func (p *recordingProvider) SendTemplate(_ context.Context, to []string, name string, data map[string]any, attachments ...email.Attachment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, recorded{to: to, template: name, data: data, files: len(attachments)})
	return p.err
}

func TestEmailSenderDeliversToUser(t *testing.T) {
	db := testutil.NewSQLite(t, &userdomain.User{})
	node := testutil.NewNode(t)
	u := userdomain.User{ID: node.Generate(), Name: "Jane", Email: "jane@example.com", Role: actor.RoleCustomer,
		CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, db.Create(&u).Error)

	provider := &recordingProvider{}
	s := newEmailSender(db, zap.NewNop(), provider)

	s.Send(context.Background(), Event{
		Kind:        KindInvoicePublished,
		UserID:      u.ID,
		Data:        map[string]any{"number": "2026-1"},
		Attachments: []email.Attachment{{Filename: "2026-1.pdf", ContentType: "application/pdf"}},
	})
	s.Wait()

	require.Len(t, provider.calls, 1)
	call := provider.calls[0]
	assert.Equal(t, []string{"jane@example.com"}, call.to)
	assert.Equal(t, "invoice_published", call.template)
	assert.Equal(t, "Jane", call.data["name"])
	assert.Equal(t, "2026-1", call.data["number"])
	assert.Equal(t, 1, call.files)
}

func TestEmailSenderSwallowsFailures(t *testing.T) {
	db := testutil.NewSQLite(t, &userdomain.User{})
	provider := &recordingProvider{err: errors.New("smtp down")}
	s := newEmailSender(db, zap.NewNop(), provider)

	// unknown user and unknown kind never reach the provider
	s.Send(context.Background(), Event{Kind: KindContractStopped, UserID: 42})
	s.Send(context.Background(), Event{Kind: "bogus", UserID: 42})
	s.Wait()

	assert.Empty(t, provider.calls)
}

func TestKindTemplates(t *testing.T) {
	for _, k := range []Kind{KindInvoicePublished, KindInvoiceReminder, KindContractStopped, KindContractExtended,
		KindContractCancelled, KindShopApproved, KindShopDisapproved, KindShopSetup} {
		assert.NotEmpty(t, k.Template(), string(k))
	}
}
