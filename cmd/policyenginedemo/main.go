// Command policyenginedemo wires config, logging, rule policies and
// context enrichers into a policyengine.Engine and runs a handful of
// access requests through it, printing each decision. It supersedes the
// teacher's single flat policy/document demo (see DESIGN.md): where the
// teacher evaluated one Transaction against one Document, this demo
// builds a two-repository engine (resource policies plus tag policies)
// and walks a small scenario table through it.
package main

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/polyauthz/policyengine/config"
	"github.com/polyauthz/policyengine/enrichers"
	"github.com/polyauthz/policyengine/logging"
	"github.com/polyauthz/policyengine/policyengine"
	"github.com/polyauthz/policyengine/rulepolicy"
)

func main() {
	// A missing .env is fine; local development conveniences should
	// never be required in production.
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfg, err := config.Load(".", "./config")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	serviceDef := &policyengine.ServiceDef{Name: cfg.Server.ServiceName, Kind: "resource"}

	resourceEvaluators, err := compileResourceEvaluators()
	if err != nil {
		logger.Fatal("compile resource policies", zap.Error(err))
	}

	tagEvaluators, err := compileTagEvaluators()
	if err != nil {
		logger.Fatal("compile tag policies", zap.Error(err))
	}

	tagEnricher := enrichers.NewStaticTagEnricher()
	tagEnricher.Register(
		policyengine.AccessResource{"database": "prod", "table": "accounts", "column": "ssn"},
		policyengine.ResourceTag{Name: "PII"},
	)

	policies := policyengine.ServicePolicies{
		ServiceName:   cfg.Server.ServiceName,
		ServiceDef:    serviceDef,
		PolicyVersion: 1,
		Evaluators:    toEvaluators(resourceEvaluators),
		Enrichers:     []policyengine.ContextEnricher{tagEnricher},
		TagPolicies: &policyengine.TagPolicies{
			ServiceName: cfg.Server.ServiceName,
			ServiceDef:  &policyengine.ServiceDef{Name: cfg.Server.ServiceName, Kind: "tag"},
			Evaluators:  toEvaluators(tagEvaluators),
		},
	}

	opts := &policyengine.Options{
		AuditCacheSize:             cfg.Engine.AuditCacheSize,
		DisableTagPolicyEvaluation: cfg.Engine.DisableTagPolicyEvaluation,
		TagAuditSink: func(user string, records []policyengine.TagAuditRecord) {
			for _, r := range records {
				logger.Info("tag audit event",
					zap.String("user", user),
					zap.String("tag", r.TagName),
					zap.String("policy", r.PolicyID),
					zap.Bool("allowed", r.Allowed))
			}
		},
	}

	engine, err := policyengine.NewEngine(policies, opts, logger)
	if err != nil {
		logger.Fatal("build engine", zap.Error(err))
	}

	for _, scenario := range scenarios() {
		request := scenario.request
		request.SessionID = uuid.NewString()
		request.AccessTime = time.Now()

		engine.EnrichContext(request)
		result := engine.IsAccessAllowed(request, nil)

		fmt.Printf("%-28s allowed=%-5v audited=%-5v policy=%s reason=%q\n",
			scenario.name, result.IsAllowed, result.IsAudited, result.PolicyID, result.Reason)
	}
}

type scenario struct {
	name    string
	request *policyengine.AccessRequest
}

func scenarios() []scenario {
	return []scenario{
		{
			name: "prod-read-allowed",
			request: &policyengine.AccessRequest{
				Resource:   policyengine.AccessResource{"database": "prod", "table": "orders"},
				User:       "alice",
				UserGroups: policyengine.UserGroupSet("analyst"),
				Action:     "select",
				AccessType: "select",
			},
		},
		{
			name: "pii-column-denied-by-tag",
			request: &policyengine.AccessRequest{
				Resource:   policyengine.AccessResource{"database": "prod", "table": "accounts", "column": "ssn"},
				User:       "alice",
				UserGroups: policyengine.UserGroupSet("analyst"),
				Action:     "select",
				AccessType: "select",
			},
		},
		{
			name: "write-denied-no-rule",
			request: &policyengine.AccessRequest{
				Resource:   policyengine.AccessResource{"database": "prod", "table": "orders"},
				User:       "alice",
				UserGroups: policyengine.UserGroupSet("analyst"),
				Action:     "delete",
				AccessType: "delete",
			},
		},
	}
}

// compileResourceEvaluators builds the resource-policy document this demo
// runs scenarios against.
func compileResourceEvaluators() ([]*rulepolicy.Evaluator, error) {
	doc := rulepolicy.Document{
		Policies: []rulepolicy.Policy{
			{
				ID:        "allow-analyst-select",
				Name:      "analysts can select",
				Resources: map[string]string{"database": "prod"},
				Rules: []rulepolicy.Rule{
					{
						Effect:    rulepolicy.EffectAllow,
						Condition: `accessType == "select" && "analyst" in groups`,
					},
				},
			},
		},
	}
	return rulepolicy.CompileEvaluators(doc, rulepolicy.WithDefaultEffect(rulepolicy.EffectDeny))
}

// compileTagEvaluators builds the tag-policy document: a single
// final-decider policy that denies any access to a PII-tagged resource
// outright, regardless of what the resource stage would otherwise allow.
func compileTagEvaluators() ([]*rulepolicy.Evaluator, error) {
	doc := rulepolicy.Document{
		Policies: []rulepolicy.Policy{
			{
				ID:           "deny-pii",
				Name:         "deny access to PII-tagged resources",
				FinalDecider: true,
				Rules: []rulepolicy.Rule{
					{Effect: rulepolicy.EffectDeny, Condition: `tag.name == "PII"`},
				},
			},
		},
	}
	return rulepolicy.CompileEvaluators(doc)
}

func toEvaluators(evaluators []*rulepolicy.Evaluator) []policyengine.PolicyEvaluator {
	out := make([]policyengine.PolicyEvaluator, len(evaluators))
	for i, e := range evaluators {
		out[i] = e
	}
	return out
}
