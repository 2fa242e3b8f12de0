package service

import "context"

type contextKey string

const operatorKey contextKey = "operator"

// Operator is the authenticated caller of an admin endpoint.
type Operator struct {
	Subject string
	Role    string
}

func WithOperator(ctx context.Context, op *Operator) context.Context {
	return context.WithValue(ctx, operatorKey, op)
}

// OperatorFrom returns the operator stored in ctx, or nil.
func OperatorFrom(ctx context.Context) *Operator {
	op, _ := ctx.Value(operatorKey).(*Operator)
	return op
}

// OperatorName is the subject of the operator in ctx, "system" when absent.
func OperatorName(ctx context.Context) string {
	if op := OperatorFrom(ctx); op != nil && op.Subject != "" {
		return op.Subject
	}
	return "system"
}
