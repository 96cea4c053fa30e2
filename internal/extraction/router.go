package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"strings"
)

// Router picks a Converter by MIME type and falls back to a default one.
// A nil default makes unrouted types a permanent ErrUnsupportedFormat.
type Router struct {
	def    Converter
	byMIME map[string]Converter
}

func NewRouter(def Converter) *Router {
	return &Router{def: def, byMIME: map[string]Converter{}}
}

func (r *Router) Handle(mimeType string, c Converter) *Router {
	r.byMIME[baseMIME(mimeType)] = c
	return r
}

func (r *Router) Convert(ctx context.Context, data []byte, mimeType, prompt string) (json.RawMessage, error) {
	if c, ok := r.byMIME[baseMIME(mimeType)]; ok {
		return c.Convert(ctx, data, mimeType, prompt)
	}
	if r.def == nil {
		return nil, Permanent(fmt.Errorf("%w: %s", ErrUnsupportedFormat, mimeType))
	}
	return r.def.Convert(ctx, data, mimeType, prompt)
}

func baseMIME(m string) string {
	if mt, _, err := mime.ParseMediaType(m); err == nil {
		return mt
	}
	return strings.ToLower(strings.TrimSpace(m))
}
