package tenancy

import "context"

type ctxKey string

const (
	hospitalKey ctxKey = "schedadmin.hospital_id"
	subjectKey  ctxKey = "schedadmin.subject"
)

// WithHospitalID stores the hospital id in context.
func WithHospitalID(ctx context.Context, hospitalID string) context.Context {
	return context.WithValue(ctx, hospitalKey, hospitalID)
}

// HospitalIDFromContext extracts the hospital id if present.
func HospitalIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, hospitalKey)
}

// WithSubject stores the authenticated admin (JWT sub) in context.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// SubjectFromContext extracts the admin subject if present.
func SubjectFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, subjectKey)
}

func stringValue(ctx context.Context, key ctxKey) (string, bool) {
	val := ctx.Value(key)
	if val == nil {
		return "", false
	}
	s, ok := val.(string)
	return s, ok && s != ""
}
