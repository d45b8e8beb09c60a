package notify

import "context"

// Funcs adapts plain functions to Callback. Nil fields are no-ops.
type Funcs struct {
	OnResponse func(ctx context.Context, responses map[string]Response)
	OnError    func(ctx context.Context, responses map[string]Response)
	OnTimeout  func(ctx context.Context, pending []string, responses map[string]Response)
}

// HandleResponse implements Callback.
func (f Funcs) HandleResponse(ctx context.Context, responses map[string]Response) {
	if f.OnResponse != nil {
		f.OnResponse(ctx, responses)
	}
}

// HandleError implements Callback.
func (f Funcs) HandleError(ctx context.Context, responses map[string]Response) {
	if f.OnError != nil {
		f.OnError(ctx, responses)
	}
}

// HandleTimeout implements Callback.
func (f Funcs) HandleTimeout(ctx context.Context, pending []string, responses map[string]Response) {
	if f.OnTimeout != nil {
		f.OnTimeout(ctx, pending, responses)
	}
}
