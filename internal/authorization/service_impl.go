package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/smallbiznis/fakturo/internal/actor"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectContract  = "contract"
	ObjectInvoice   = "invoice"
	ObjectDunning   = "dunning"
	ObjectPrepaid   = "prepaid"
	ObjectShopForm  = "shop_form"
	ObjectShopOrder = "shop_order"
	ObjectFile      = "file"
	ObjectAPIKey    = "api_key"
	ObjectUser      = "user"
)

const (
	ActionView   = "view"
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"

	ActionContractStart              = "start"
	ActionContractStop               = "stop"
	ActionContractCancel             = "cancel"
	ActionContractExtend             = "extend"
	ActionContractRestart            = "restart"
	ActionContractRevokeCancellation = "revoke_cancellation"

	ActionInvoicePublish = "publish"
	ActionInvoicePay     = "pay"
	ActionInvoiceRefund  = "refund"

	ActionPrepaidDeposit = "deposit"
	ActionPrepaidCorrect = "correct"

	ActionShopOrderReview  = "review"
	ActionShopOrderProcess = "process"
)

const (
	roleAdmin    = "role:admin"
	roleCustomer = "role:customer"
	roleSystem   = "role:system"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer builds an enforcer whose policies persist through the gorm adapter.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	return enforcer, nil
}

// NewMemoryEnforcer builds an enforcer with the default policies and no storage.
func NewMemoryEnforcer() (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, a actor.Actor, object, action string) error {
	subject := subjectFor(a)
	if subject == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Info("authorization denied",
			zap.String("actor", a.String()),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func subjectFor(a actor.Actor) string {
	switch a.Role {
	case actor.RoleAdmin:
		return roleAdmin
	case actor.RoleCustomer:
		if a.UserID == 0 {
			return ""
		}
		return roleCustomer
	case actor.RoleSystem:
		return roleSystem
	default:
		return ""
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{roleCustomer, ObjectContract, ActionView},
		{roleCustomer, ObjectContract, ActionContractCancel},
		{roleCustomer, ObjectContract, ActionContractExtend},
		{roleCustomer, ObjectContract, ActionContractRevokeCancellation},
		{roleCustomer, ObjectInvoice, ActionView},
		{roleCustomer, ObjectPrepaid, ActionView},
		{roleCustomer, ObjectShopForm, ActionView},
		{roleCustomer, ObjectShopOrder, ActionView},
		{roleCustomer, ObjectShopOrder, ActionCreate},
		{roleCustomer, ObjectShopOrder, ActionUpdate},
		{roleCustomer, ObjectShopOrder, ActionDelete},
		{roleCustomer, ObjectFile, ActionView},
		{roleCustomer, ObjectAPIKey, ActionView},
	}
	for _, object := range []string{
		ObjectContract, ObjectInvoice, ObjectDunning, ObjectPrepaid, ObjectShopForm,
		ObjectShopOrder, ObjectFile, ObjectAPIKey, ObjectUser,
	} {
		policies = append(policies, []string{roleAdmin, object, "*"})
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	_, err := enforcer.AddGroupingPolicy(roleSystem, roleAdmin)
	return err
}
