package auth

import "context"

type contextKey struct{}

// DeviceContext identifies the authenticated companion device on a request.
type DeviceContext struct {
	DeviceID  string
	ProfileID int64
}

func WithDevice(ctx context.Context, dc DeviceContext) context.Context {
	return context.WithValue(ctx, contextKey{}, dc)
}

func FromContext(ctx context.Context) (DeviceContext, bool) {
	dc, ok := ctx.Value(contextKey{}).(DeviceContext)
	return dc, ok
}

func DeviceID(ctx context.Context) string {
	dc, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return dc.DeviceID
}

func ProfileID(ctx context.Context) int64 {
	dc, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return dc.ProfileID
}
