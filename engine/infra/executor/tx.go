package executor

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rapidcrm/crmstore/engine/core"
	"github.com/rapidcrm/crmstore/engine/infra/conn"
	"github.com/rapidcrm/crmstore/pkg/logger"
)

type txKey struct{}

// txState serializes statements on one pgx.Tx, which is not safe for
// concurrent use. turn holds a token while a statement owns the tx.
type txState struct {
	connectionID string
	tx           pgx.Tx
	turn         chan struct{}
}

func newTxState(connectionID string, tx pgx.Tx) *txState {
	return &txState{connectionID: connectionID, tx: tx, turn: make(chan struct{}, 1)}
}

// querier picks the tx carried by ctx or the connection's pool. Waiting for
// a sibling statement on the same tx gives up when ctx is done.
func (e *Executor) querier(ctx context.Context, c *conn.Connection) (conn.Querier, func(), error) {
	st, ok := ctx.Value(txKey{}).(*txState)
	if !ok || st.connectionID != c.ID() {
		return c.DB(), func() {}, nil
	}
	select {
	case st.turn <- struct{}{}:
		return st.tx, func() { <-st.turn }, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// InTransaction reports whether ctx carries a transaction on connectionID.
func InTransaction(ctx context.Context, connectionID string) bool {
	st, ok := ctx.Value(txKey{}).(*txState)
	return ok && st.connectionID == connectionID
}

// WithTransaction runs fn inside BEGIN/COMMIT on connectionID. Statements
// issued with the context passed to fn join the transaction. An error or
// panic from fn rolls back. Nested calls on the same connection join the
// outer transaction.
func (e *Executor) WithTransaction(
	ctx context.Context,
	connectionID string,
	fn func(ctx context.Context) error,
) (err error) {
	if InTransaction(ctx, connectionID) {
		return fn(ctx)
	}
	c, ok := e.registry.Connection(connectionID)
	if !ok {
		return core.NewNotFound("connection", connectionID)
	}
	if !c.IsConnected() {
		return fmt.Errorf("connection %s is not connected", connectionID)
	}
	log := logger.FromContext(ctx)
	tx, err := c.DB().Begin(ctx)
	if err != nil {
		c.RecordError()
		return fmt.Errorf("beginning transaction: %w", err)
	}
	txCtx := context.WithValue(ctx, txKey{}, newTxState(connectionID, tx))

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error("Failed to rollback transaction after panic", "error", rbErr)
			}
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error("Failed to rollback transaction", "error", rbErr)
			}
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			c.RecordError()
			err = fmt.Errorf("committing transaction: %w", commitErr)
		}
	}()

	return fn(txCtx)
}
