package db

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
)

// ErrNoMatch aborts a transaction when a write inside it matched no document.
var ErrNoMatch = errors.New("no matching document")

// TxFunc is the body of a transaction. Every operation must use sc as its context.
type TxFunc func(sc mongo.SessionContext) error

// RunInTransaction runs fn inside one multi-document transaction.
// Either every write made by fn is committed or none is.
func RunInTransaction(ctx context.Context, client *mongo.Client, fn TxFunc) error {
	session, err := client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

// RequireMatch turns an update that matched nothing into ErrNoMatch.
func RequireMatch(res *mongo.UpdateResult, err error) error {
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNoMatch
	}
	return nil
}
