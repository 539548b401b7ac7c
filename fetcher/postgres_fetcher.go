// Package fetcher supplies the concrete "load a service's policies"
// collaborator the engine package treats as external (spec.md §1).
package fetcher

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"

	"github.com/polyauthz/policyengine/policyengine"
	"github.com/polyauthz/policyengine/rulepolicy"
)

// Fetcher loads an already-compiled ServicePolicies for a named service.
// Concrete implementations own whatever storage and versioning scheme
// backs the policies; the engine package never sees past this interface.
type Fetcher interface {
	FetchServicePolicies(ctx context.Context, serviceName string) (policyengine.ServicePolicies, error)
}

// DB wraps a *sql.DB connection pool, grounded on
// pablohgiraldo-llm-control-plane/backend/repositories/postgres/connection.go.
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB opens a PostgreSQL connection pool and verifies it with a ping.
func NewDB(dsn string, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("database connection established")
	return &DB{DB: db, logger: logger}, nil
}

// Close closes the underlying connection pool.
func (d *DB) Close() error {
	d.logger.Info("closing database connection")
	return d.DB.Close()
}

// PostgresFetcher loads resource and tag policy documents from a
// "policies" table, compiling each document with rulepolicy as it is
// read. One row holds one document: (service_name, kind, version, body).
type PostgresFetcher struct {
	db     *DB
	logger *zap.Logger
}

// NewPostgresFetcher builds a Fetcher backed by db.
func NewPostgresFetcher(db *DB, logger *zap.Logger) *PostgresFetcher {
	return &PostgresFetcher{db: db, logger: logger}
}

// FetchServicePolicies loads the latest resource document for
// serviceName, and the latest tag document if one exists, compiling both
// into policyengine.PolicyEvaluator slices.
func (f *PostgresFetcher) FetchServicePolicies(ctx context.Context, serviceName string) (policyengine.ServicePolicies, error) {
	resourceDoc, version, err := f.loadDocument(ctx, serviceName, "resource")
	if err != nil {
		return policyengine.ServicePolicies{}, fmt.Errorf("load resource policies for %q: %w", serviceName, err)
	}

	resourceEvaluators, err := rulepolicy.CompileEvaluators(resourceDoc)
	if err != nil {
		return policyengine.ServicePolicies{}, fmt.Errorf("compile resource policies for %q: %w", serviceName, err)
	}

	evaluators := make([]policyengine.PolicyEvaluator, len(resourceEvaluators))
	for i, e := range resourceEvaluators {
		evaluators[i] = e
	}

	policies := policyengine.ServicePolicies{
		ServiceName:   serviceName,
		ServiceDef:    &policyengine.ServiceDef{Name: serviceName, Kind: "resource"},
		PolicyVersion: version,
		Evaluators:    evaluators,
	}

	tagDoc, tagVersion, err := f.loadDocument(ctx, serviceName, "tag")
	if err != nil {
		if err == sql.ErrNoRows {
			f.logger.Debug("no tag policy document found", zap.String("service", serviceName))
			return policies, nil
		}
		return policyengine.ServicePolicies{}, fmt.Errorf("load tag policies for %q: %w", serviceName, err)
	}

	tagEvaluators, err := rulepolicy.CompileEvaluators(tagDoc)
	if err != nil {
		return policyengine.ServicePolicies{}, fmt.Errorf("compile tag policies for %q: %w", serviceName, err)
	}

	tagEvalSlice := make([]policyengine.PolicyEvaluator, len(tagEvaluators))
	for i, e := range tagEvaluators {
		tagEvalSlice[i] = e
	}

	policies.TagPolicies = &policyengine.TagPolicies{
		ServiceName: serviceName,
		ServiceDef:  &policyengine.ServiceDef{Name: serviceName, Kind: "tag"},
		Evaluators:  tagEvalSlice,
	}

	f.logger.Info("loaded service policies",
		zap.String("service", serviceName),
		zap.Int64("version", version),
		zap.Int64("tagVersion", tagVersion),
		zap.Int("resourcePolicies", len(evaluators)),
		zap.Int("tagPolicies", len(tagEvalSlice)))

	return policies, nil
}

// loadDocument fetches the highest-versioned row for (serviceName, kind)
// and parses its JSON body into a rulepolicy.Document.
func (f *PostgresFetcher) loadDocument(ctx context.Context, serviceName, kind string) (rulepolicy.Document, int64, error) {
	const query = `
		SELECT version, body
		FROM policies
		WHERE service_name = $1 AND kind = $2
		ORDER BY version DESC
		LIMIT 1
	`

	var version int64
	var body []byte

	err := f.db.QueryRowContext(ctx, query, serviceName, kind).Scan(&version, &body)
	if err != nil {
		return rulepolicy.Document{}, 0, err
	}

	doc, err := rulepolicy.ParseJSONDocument(bytes.NewReader(body))
	if err != nil {
		return rulepolicy.Document{}, 0, fmt.Errorf("parse %s document: %w", kind, err)
	}

	return doc, version, nil
}
