package rules

import (
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Custom rules extend the seven built-ins with CEL expressions supplied
// in the RiskConfig. Each enabled expression compiles to a program that
// is evaluated per record and contributes one extra mask and reason.

type compiledCustom struct {
	rule domain.CustomRule
	prog cel.Program
}

func newCustomEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("notes", cel.StringType),
		cel.Variable("from_account", cel.StringType),
		cel.Variable("to_account", cel.StringType),
		cel.Variable("sender_country", cel.StringType),
		cel.Variable("receiver_country", cel.StringType),
	)
}

// ValidateCustomRule compiles a custom rule without loading it, so the
// API can reject bad expressions up front.
func (e *Engine) ValidateCustomRule(rule domain.CustomRule) error {
	_, err := e.compileOne(rule)
	return err
}

// compileCustom compiles the enabled custom rules. An expression that
// fails to compile disables that rule for the run (fail open) and is
// logged; it never aborts scoring.
func (e *Engine) compileCustom(rules []domain.CustomRule) []compiledCustom {
	out := make([]compiledCustom, 0, len(rules))
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		prog, err := e.compileOne(rule)
		if err != nil {
			slog.Warn("custom rule disabled",
				"rule_id", rule.ID,
				"error", err,
			)
			continue
		}
		out = append(out, compiledCustom{rule: rule, prog: prog})
	}
	return out
}

func (e *Engine) compileOne(rule domain.CustomRule) (cel.Program, error) {
	e.mu.Lock()
	if prog, ok := e.programs[rule.Expression]; ok {
		e.mu.Unlock()
		return prog, nil
	}
	e.mu.Unlock()

	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", rule.ID, ast.OutputType())
	}

	prog, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}

	e.mu.Lock()
	e.programs[rule.Expression] = prog
	e.mu.Unlock()
	return prog, nil
}

// evalCustomMask evaluates one compiled rule over the batch. Evaluation
// errors and non-bool results count as no match.
func evalCustomMask(c compiledCustom, batch []domain.Transaction) []bool {
	mask := make([]bool, len(batch))
	for i, tx := range batch {
		out, _, err := c.prog.Eval(map[string]any{
			"amount":           tx.Amount,
			"currency":         tx.Currency,
			"notes":            tx.Notes,
			"from_account":     tx.FromAccount,
			"to_account":       tx.ToAccount,
			"sender_country":   tx.SenderCountry,
			"receiver_country": tx.ReceiverCountry,
		})
		if err != nil {
			continue
		}
		if b, ok := out.(types.Bool); ok {
			mask[i] = bool(b)
		}
	}
	return mask
}
