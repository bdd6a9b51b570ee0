// ABOUTME: Request context helpers carrying the authenticated subject
// ABOUTME: Set by the bearer middleware, read by websocket handlers

package auth

import "context"

type subjectKey struct{}

// WithSubject returns a context carrying the authenticated subject.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

// SubjectFromContext returns the authenticated subject, or "" when the
// request was not authenticated.
func SubjectFromContext(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}
