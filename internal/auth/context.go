// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// SystemActor is recorded when no authenticated operator is on the context.
const SystemActor = "system"

type operatorContextKey struct{}

var ctxOperatorKey operatorContextKey

// Operator is an authenticated factory-floor user.
type Operator struct {
	ID                uuid.UUID
	Name              string
	MaxRequestsPerMin int
}

// WithOperator stores the resolved operator on request context.
func WithOperator(ctx context.Context, op Operator) context.Context {
	return context.WithValue(ctx, ctxOperatorKey, op)
}

// OperatorFromContext reads the resolved operator from context.
func OperatorFromContext(ctx context.Context) (Operator, bool) {
	v := ctx.Value(ctxOperatorKey)
	op, ok := v.(Operator)
	if !ok || op.ID == uuid.Nil {
		return Operator{}, false
	}
	return op, true
}

// ActorFromContext names whoever is acting on the request.
func ActorFromContext(ctx context.Context) string {
	op, ok := OperatorFromContext(ctx)
	if !ok || strings.TrimSpace(op.Name) == "" {
		return SystemActor
	}
	return op.Name
}
