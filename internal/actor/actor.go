// Package actor carries the identity on whose behalf a billing operation runs.
package actor

import (
	"strconv"

	"github.com/bwmarrin/snowflake"
)

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleCustomer Role = "customer"
	RoleSystem   Role = "system"
)

// Actor is passed explicitly into every service call.
type Actor struct {
	UserID snowflake.ID
	Role   Role
}

// System is used by scheduled jobs. It has no user id and is recorded as a
// null creator.
var System = Actor{Role: RoleSystem}

func Admin(userID snowflake.ID) Actor {
	return Actor{UserID: userID, Role: RoleAdmin}
}

func Customer(userID snowflake.ID) Actor {
	return Actor{UserID: userID, Role: RoleCustomer}
}

func (a Actor) IsSystem() bool {
	return a.Role == RoleSystem
}

// IsPrivileged reports whether the actor may act on any user's records.
func (a Actor) IsPrivileged() bool {
	return a.Role == RoleAdmin || a.Role == RoleSystem
}

// CanAccess reports whether the actor may touch records owned by userID.
func (a Actor) CanAccess(userID snowflake.ID) bool {
	return a.IsPrivileged() || a.UserID == userID
}

// CreatorID returns the user id to persist as creator, nil for the system actor.
func (a Actor) CreatorID() *snowflake.ID {
	if a.IsSystem() || a.UserID == 0 {
		return nil
	}
	id := a.UserID
	return &id
}

// Subject is the casbin subject for this actor.
func (a Actor) Subject() string {
	return string(a.Role)
}

func (a Actor) String() string {
	if a.IsSystem() {
		return "system"
	}
	return string(a.Role) + ":" + strconv.FormatInt(a.UserID.Int64(), 10)
}
