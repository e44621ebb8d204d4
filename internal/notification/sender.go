package notification

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/fakturo/internal/providers/email"
	userdomain "github.com/smallbiznis/fakturo/internal/user/domain"
	"github.com/smallbiznis/fakturo/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const sendTimeout = 30 * time.Second

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	DB        *gorm.DB
	Log       *zap.Logger
	Email     email.Provider
}

type EmailSender struct {
	log   *zap.Logger
	users repository.Repository[userdomain.User]
	email email.Provider
	wg    sync.WaitGroup
}

func NewSender(p Params) Sender {
	s := newEmailSender(p.DB, p.Log, p.Email)
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			done := make(chan struct{})
			go func() {
				s.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
	return s
}

func newEmailSender(db *gorm.DB, log *zap.Logger, provider email.Provider) *EmailSender {
	return &EmailSender{
		log:   log.Named("notification.sender"),
		users: repository.ProvideStore[userdomain.User](db),
		email: provider,
	}
}

// Send dispatches in the background and returns immediately.
func (s *EmailSender) Send(ctx context.Context, ev Event) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
		defer cancel()
		s.deliver(sendCtx, ev)
	}()
}

// Wait blocks until in-flight deliveries finish.
func (s *EmailSender) Wait() {
	s.wg.Wait()
}

func (s *EmailSender) deliver(ctx context.Context, ev Event) {
	log := s.log.With(zap.String("kind", string(ev.Kind)), zap.String("user_id", ev.UserID.String()))

	tmpl := ev.Kind.Template()
	if tmpl == "" {
		log.Warn("unknown notification kind")
		return
	}

	u, err := s.users.FindOne(ctx, &userdomain.User{ID: ev.UserID})
	if err != nil {
		log.Warn("failed to load recipient", zap.Error(err))
		return
	}
	if u == nil || u.Email == "" {
		log.Warn("recipient has no email address")
		return
	}

	data := make(map[string]any, len(ev.Data)+1)
	for k, v := range ev.Data {
		data[k] = v
	}
	data["name"] = u.DisplayName()

	if err := s.email.SendTemplate(ctx, []string{u.Email}, tmpl, data, ev.Attachments...); err != nil {
		log.Warn("failed to send notification", zap.Error(err))
		return
	}
	log.Debug("notification sent")
}
