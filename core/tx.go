package core

import (
	"context"
	"fmt"

	"github.com/rs/xid"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// WithTransaction opens a session, runs fn inside a transaction and
// commits when fn returns nil, aborting otherwise. fn must thread the
// context it receives into every facade call it makes; the session is
// bound to that context and must not outlive this call. The session is
// closed on every exit path.
func (d *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	sess, err := d.client.StartSession()
	if err != nil {
		return fmt.Errorf("docstore: start session: %w", err)
	}
	defer sess.EndSession(ctx)

	log := d.log.With("tx", xid.New().String())

	if err := sess.StartTransaction(); err != nil {
		return fmt.Errorf("docstore: start transaction: %w", err)
	}
	sctx := mongo.NewSessionContext(ctx, sess)

	if err := fn(sctx); err != nil {
		if abortErr := sess.AbortTransaction(ctx); abortErr != nil {
			log.Errorw("transaction abort failed", "error", abortErr)
		}
		log.Debugw("transaction aborted", "error", err)
		return &TransactionError{Err: err}
	}

	if err := sess.CommitTransaction(sctx); err != nil {
		log.Errorw("transaction commit failed", "error", err)
		return &TransactionError{Err: err}
	}
	log.Debugw("transaction committed")
	return nil
}
