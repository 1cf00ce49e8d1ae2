/*
formula.go - Restricted arithmetic evaluator for formula components

PURPOSE:
  Evaluates component formulas like "{BASE_SALARY} * 0.1 + {HOUSING}" against
  a variable map. The grammar is arithmetic-only BY CONSTRUCTION: after
  placeholder substitution, anything other than digits, decimal points,
  parentheses, and + - * / is rejected outright. There is no identifier
  syntax, no function calls, and no access to host state, so the evaluator
  cannot be escaped - safety comes from the grammar, not a blacklist.

CONTRACT:
  EvaluateFormula(expr, vars) -> decimal, error
  - Every {name} placeholder is substituted from vars; a missing entry
    fails with UnboundVariableError.
  - Structural problems (bad characters, unbalanced parentheses, leading/
    trailing/repeated operators) fail fast with ErrInvalidExpression,
    before any arithmetic runs.
  - Evaluation uses standard operator precedence. Division by zero fails
    with ErrEvaluation; the evaluator never returns Inf or NaN.

PRECISION:
  All arithmetic is decimal.Decimal. Money never touches float64.

SEE ALSO:
  - pipeline.go: Supplies the calculation context as the variable map
  - errors.go: ErrUnboundVariable, ErrInvalidExpression, ErrEvaluation
*/
package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var placeholderRe = regexp.MustCompile(`\{([^{}]+)\}`)

// =============================================================================
// PUBLIC ENTRY POINT
// =============================================================================

// EvaluateFormula substitutes {name} placeholders from vars and evaluates the
// resulting arithmetic expression.
func EvaluateFormula(expression string, vars map[string]decimal.Decimal) (decimal.Decimal, error) {
	substituted, err := substitutePlaceholders(expression, vars)
	if err != nil {
		return decimal.Zero, err
	}

	compact := strings.ReplaceAll(substituted, " ", "")
	if err := validateExpression(compact); err != nil {
		return decimal.Zero, err
	}

	tokens, err := tokenize(compact)
	if err != nil {
		return decimal.Zero, err
	}

	p := &exprParser{tokens: tokens}
	result, err := p.parseExpression()
	if err != nil {
		return decimal.Zero, err
	}
	if p.pos != len(p.tokens) {
		return decimal.Zero, fmt.Errorf("%w: unexpected trailing input", ErrInvalidExpression)
	}
	return result, nil
}

// =============================================================================
// SUBSTITUTION
// =============================================================================

func substitutePlaceholders(expression string, vars map[string]decimal.Decimal) (string, error) {
	var unbound string
	out := placeholderRe.ReplaceAllStringFunc(expression, func(match string) string {
		name := strings.TrimSpace(match[1 : len(match)-1])
		value, ok := vars[name]
		if !ok {
			if unbound == "" {
				unbound = name
			}
			return match
		}
		// Negative values are wrapped so the sign cannot collide with an
		// adjacent operator (the grammar has no unary minus).
		if value.IsNegative() {
			return "(0" + value.String() + ")"
		}
		return value.String()
	})
	if unbound != "" {
		return "", &UnboundVariableError{Name: unbound}
	}
	if strings.ContainsAny(out, "{}") {
		return "", fmt.Errorf("%w: malformed placeholder", ErrInvalidExpression)
	}
	return out, nil
}

// =============================================================================
// STRUCTURAL VALIDATION - Fail fast, before arithmetic
// =============================================================================

func isOperator(c byte) bool {
	return c == '+' || c == '-' || c == '*' || c == '/'
}

func validateExpression(expr string) error {
	if expr == "" {
		return fmt.Errorf("%w: empty expression", ErrInvalidExpression)
	}

	depth := 0
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		switch {
		case c >= '0' && c <= '9', c == '.':
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth < 0 {
				return fmt.Errorf("%w: unbalanced parentheses", ErrInvalidExpression)
			}
		case isOperator(c):
			if i == 0 || i == len(expr)-1 {
				return fmt.Errorf("%w: leading or trailing operator", ErrInvalidExpression)
			}
			if isOperator(expr[i-1]) {
				return fmt.Errorf("%w: repeated operator", ErrInvalidExpression)
			}
			if expr[i-1] == '(' || expr[i+1] == ')' {
				return fmt.Errorf("%w: operator adjacent to parenthesis", ErrInvalidExpression)
			}
		default:
			return fmt.Errorf("%w: illegal character %q", ErrInvalidExpression, string(c))
		}
	}
	if depth != 0 {
		return fmt.Errorf("%w: unbalanced parentheses", ErrInvalidExpression)
	}
	if strings.Contains(expr, "()") {
		return fmt.Errorf("%w: empty parentheses", ErrInvalidExpression)
	}
	return nil
}

// =============================================================================
// TOKENIZER
// =============================================================================

type tokenKind int

const (
	tokenNumber tokenKind = iota
	tokenOperator
	tokenLParen
	tokenRParen
)

type token struct {
	kind  tokenKind
	op    byte
	value decimal.Decimal
}

func tokenize(expr string) ([]token, error) {
	var tokens []token
	for i := 0; i < len(expr); {
		c := expr[i]
		switch {
		case c == '(':
			tokens = append(tokens, token{kind: tokenLParen})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokenRParen})
			i++
		case isOperator(c):
			tokens = append(tokens, token{kind: tokenOperator, op: c})
			i++
		default:
			start := i
			for i < len(expr) && (expr[i] >= '0' && expr[i] <= '9' || expr[i] == '.') {
				i++
			}
			value, err := decimal.NewFromString(expr[start:i])
			if err != nil {
				return nil, fmt.Errorf("%w: bad number %q", ErrInvalidExpression, expr[start:i])
			}
			tokens = append(tokens, token{kind: tokenNumber, value: value})
		}
	}
	return tokens, nil
}

// =============================================================================
// PARSER - Recursive descent with standard precedence
// =============================================================================

type exprParser struct {
	tokens []token
	pos    int
}

func (p *exprParser) peek() (token, bool) {
	if p.pos >= len(p.tokens) {
		return token{}, false
	}
	return p.tokens[p.pos], true
}

// parseExpression handles + and - (lowest precedence).
func (p *exprParser) parseExpression() (decimal.Decimal, error) {
	left, err := p.parseTerm()
	if err != nil {
		return decimal.Zero, err
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokenOperator || (t.op != '+' && t.op != '-') {
			return left, nil
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return decimal.Zero, err
		}
		if t.op == '+' {
			left = left.Add(right)
		} else {
			left = left.Sub(right)
		}
	}
}

// parseTerm handles * and /.
func (p *exprParser) parseTerm() (decimal.Decimal, error) {
	left, err := p.parseFactor()
	if err != nil {
		return decimal.Zero, err
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokenOperator || (t.op != '*' && t.op != '/') {
			return left, nil
		}
		p.pos++
		right, err := p.parseFactor()
		if err != nil {
			return decimal.Zero, err
		}
		if t.op == '*' {
			left = left.Mul(right)
		} else {
			if right.IsZero() {
				return decimal.Zero, fmt.Errorf("%w: division by zero", ErrEvaluation)
			}
			left = left.Div(right)
		}
	}
}

// parseFactor handles numbers and parenthesized sub-expressions.
func (p *exprParser) parseFactor() (decimal.Decimal, error) {
	t, ok := p.peek()
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: unexpected end of expression", ErrInvalidExpression)
	}
	switch t.kind {
	case tokenNumber:
		p.pos++
		return t.value, nil
	case tokenLParen:
		p.pos++
		inner, err := p.parseExpression()
		if err != nil {
			return decimal.Zero, err
		}
		closing, ok := p.peek()
		if !ok || closing.kind != tokenRParen {
			return decimal.Zero, fmt.Errorf("%w: missing closing parenthesis", ErrInvalidExpression)
		}
		p.pos++
		return inner, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: unexpected token", ErrInvalidExpression)
	}
}
