package session

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/user/vitrader/backend/internal/accounts"
	"github.com/user/vitrader/backend/internal/protocol"
)

// Accounts is what the session port needs from the account service.
type Accounts interface {
	Authenticate(ctx context.Context, username, password string) (int64, error)
	Register(ctx context.Context, username, password, email string) (int64, error)
}

// Dispatcher runs one decoded command and turns its outcome into a wire result.
type Dispatcher struct {
	accounts Accounts
	logger   *zap.Logger
}

func NewDispatcher(accts Accounts, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{accounts: accts, logger: logger}
}

func (d *Dispatcher) Dispatch(ctx context.Context, cmd protocol.Command) protocol.Result {
	switch c := cmd.(type) {
	case protocol.Login:
		id, err := d.accounts.Authenticate(ctx, c.Username, c.Password)
		res := resultFor(id, err)
		d.logger.Info("login", zap.String("username", c.Username), zap.Stringer("result", res), zap.Error(err))
		return res
	case protocol.Register:
		id, err := d.accounts.Register(ctx, c.Username, c.Password, c.Email)
		res := resultFor(id, err)
		d.logger.Info("register", zap.String("username", c.Username), zap.String("email", c.Email),
			zap.Stringer("result", res), zap.Error(err))
		return res
	default:
		return protocol.ResultUnknown
	}
}

func resultFor(id int64, err error) protocol.Result {
	switch {
	case err == nil:
		return protocol.ResultID(id)
	case errors.Is(err, accounts.ErrWrongInfo):
		return protocol.ResultWrongInfo
	case errors.Is(err, accounts.ErrInactiveAccount):
		return protocol.ResultInactiveAccount
	case errors.Is(err, accounts.ErrUsernameExists):
		return protocol.ResultUsernameExists
	case errors.Is(err, accounts.ErrEmailExists):
		return protocol.ResultEmailExists
	case errors.Is(err, accounts.ErrMailNotSent):
		return protocol.ResultMailNotSent
	default:
		return protocol.ResultUnknown
	}
}
