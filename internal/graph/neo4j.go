package graph

import (
	"context"
	"log"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// SessionRunner abstracts neo4j.SessionWithContext.
type SessionRunner interface {
	ExecuteWrite(ctx context.Context, work neo4j.ManagedTransactionWork, configurers ...func(*neo4j.TransactionConfig)) (any, error)
	Close(ctx context.Context) error
}

// DriverSessioner abstracts neo4j.DriverWithContext.
type DriverSessioner interface {
	NewSession(ctx context.Context, config neo4j.SessionConfig) SessionRunner
	Close(ctx context.Context) error
}

// Driver adapts a neo4j.DriverWithContext to DriverSessioner.
type Driver struct {
	driver neo4j.DriverWithContext
}

// NewDriver connects to uri with basic auth.
func NewDriver(uri, user, password string) (*Driver, error) {
	d, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, err
	}
	return &Driver{driver: d}, nil
}

func (d *Driver) NewSession(ctx context.Context, config neo4j.SessionConfig) SessionRunner {
	return d.driver.NewSession(ctx, config)
}

func (d *Driver) Close(ctx context.Context) error {
	return d.driver.Close(ctx)
}

// Statement is one parameterised Cypher write.
type Statement struct {
	Query  string
	Params map[string]any
}

// RunWrite executes statements in a single write transaction.
func RunWrite(ctx context.Context, driver DriverSessioner, statements []Statement) error {
	if len(statements) == 0 {
		return nil
	}
	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer func() {
		if err := session.Close(ctx); err != nil {
			log.Printf("neo4j session close error: %v", err)
		}
	}()

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, st := range statements {
			if _, err := tx.Run(ctx, st.Query, st.Params); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}
