// Package db dispatches backing-store driver construction by profile.
package db

import (
	"github.com/pkg/errors"

	"github.com/agentrium/recall/internal/profile"
	"github.com/agentrium/recall/store"
	"github.com/agentrium/recall/store/db/postgres"
	"github.com/agentrium/recall/store/db/sqlite"
)

// NewDBDriver creates a new driver based on the profile.
func NewDBDriver(p *profile.Profile) (store.Driver, error) {
	switch p.Driver {
	case "sqlite":
		return sqlite.NewDB(p)
	case "postgres":
		return postgres.NewDB(p)
	default:
		return nil, errors.Errorf("unknown db driver: %s", p.Driver)
	}
}
