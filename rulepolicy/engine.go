package rulepolicy

import (
	"errors"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// EngineOption configures compilation behaviour.
type EngineOption func(*engineConfig)

type engineConfig struct {
	exprOptions   []expr.Option
	defaultEffect Effect
	env           any
	strictTypes   bool
}

// WithExprOptions passes expr compilation options for every rule.
func WithExprOptions(opts ...expr.Option) EngineOption {
	return func(cfg *engineConfig) {
		cfg.exprOptions = append(cfg.exprOptions, opts...)
	}
}

// WithSchemaDefinition defines the expected data structure for type validation at compile time.
// Pass an empty struct to define which fields exist and their types.
// Unknown fields or type mismatches will be caught during policy compilation.
// Example: rulepolicy.WithSchemaDefinition(struct{ Action string }{})
func WithSchemaDefinition(schema any) EngineOption {
	return func(cfg *engineConfig) {
		cfg.env = schema
		cfg.strictTypes = true // Enable strict type checking when schema is provided
	}
}

// WithDefaultEffect sets the document-wide default effect, which
// CompileEvaluators validates. An Evaluator whose rules do not match applies
// only its policy's own DefaultEffect; a policy without one leaves the
// result undetermined, whatever this option says.
func WithDefaultEffect(effect Effect) EngineOption {
	return func(cfg *engineConfig) {
		cfg.defaultEffect = effect
	}
}

// compiledPolicy and compiledRule are the shared compilation result
// CompileEvaluators (evaluator_adapter.go) wraps one-per-policy into a
// policyengine.PolicyEvaluator. There is no longer a combined multi-policy
// Engine.Evaluate: the decision engine evaluates one compiledPolicy per
// Evaluator, in repository order, instead of folding them all into a
// single call.
type compiledPolicy struct {
	policy          Policy
	rules           []*compiledRule
	defaultEffect   Effect
	hasLocalDefault bool
}

type compiledRule struct {
	rule    Rule
	program *vm.Program
}

func compilePolicy(p Policy, cfg engineConfig) (*compiledPolicy, error) {
	if p.Name == "" {
		return nil, errors.New("policy name is required")
	}

	policyDefault := cfg.defaultEffect
	hasLocalDefault := false

	if p.DefaultEffect != nil {
		policyDefault = *p.DefaultEffect
		hasLocalDefault = true
	}

	if hasLocalDefault && !policyDefault.IsValid() {
		return nil, fmt.Errorf("policy %q has invalid default effect %q", p.Name, policyDefault)
	}

	if len(p.Rules) == 0 && !hasLocalDefault {
		return nil, fmt.Errorf("policy %q must include at least one rule or specify a default effect", p.Name)
	}

	baseOptions := make([]expr.Option, 0, len(cfg.exprOptions)+3)
	baseOptions = append(baseOptions, cfg.exprOptions...)

	if cfg.env != nil {
		baseOptions = append(baseOptions, expr.Env(cfg.env))
	} else {
		baseOptions = append(baseOptions, expr.Env(map[string]any{}))
	}

	// Only allow undefined variables if strict types are disabled. This
	// must come after expr.Env, which resets strictness from the env.
	if !cfg.strictTypes {
		baseOptions = append(baseOptions, expr.AllowUndefinedVariables())
	}
	baseOptions = append(baseOptions, expr.AsBool())

	rules := make([]*compiledRule, 0, len(p.Rules))

	for idx := range p.Rules {
		rule := p.Rules[idx]

		if rule.ID == "" {
			rule.ID = fmt.Sprintf("%s_rule_%d", p.Name, idx)
		}

		p.Rules[idx] = rule

		if !rule.Effect.IsValid() {
			return nil, fmt.Errorf("rule %q has invalid effect %q", rule.ID, rule.Effect)
		}

		if rule.Condition == "" {
			return nil, fmt.Errorf("rule %q condition cannot be empty", rule.ID)
		}

		program, err := expr.Compile(rule.Condition, baseOptions...)
		if err != nil {
			return nil, fmt.Errorf("compile rule %q: %w", rule.ID, err)
		}

		cr := &compiledRule{
			rule:    rule,
			program: program,
		}

		rules = append(rules, cr)
	}

	return &compiledPolicy{
		policy:          p,
		rules:           rules,
		defaultEffect:   policyDefault,
		hasLocalDefault: hasLocalDefault,
	}, nil
}

func (r *compiledRule) evaluate(input any) (bool, error) {
	output, err := expr.Run(r.program, input)
	if err != nil {
		return false, err
	}

	boolResult, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("rule %q did not return a boolean", r.rule.ID)
	}

	return boolResult, nil
}
