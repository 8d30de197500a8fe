package logger

import (
	"context"
	"log/slog"
	"runtime"
	"strings"
)

// ContextHandler is a slog.Handler that enriches records with fields stored
// in the context (session id, model, tool call id, ...) and redacts
// credentials from string attributes before delegating to an inner handler.
type ContextHandler struct {
	inner        slog.Handler
	commonFields []slog.Attr
}

// ModuleHandler adds per-module level filtering to ContextHandler. The module
// is derived from the package of the logging call site.
type ModuleHandler struct {
	ContextHandler
	moduleConfig *ModuleConfig
}

// NewContextHandler creates a new ContextHandler wrapping the given handler.
// The commonFields are added to every log record.
func NewContextHandler(inner slog.Handler, commonFields ...slog.Attr) *ContextHandler {
	return &ContextHandler{
		inner:        inner,
		commonFields: commonFields,
	}
}

// Enabled delegates to the inner handler.
func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enriches and redacts the record, then passes it on.
//
//nolint:gocritic // slog.Record is passed by value per slog.Handler interface contract
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.inner.Handle(ctx, h.enrich(ctx, r, ""))
}

// enrich builds the outgoing record: common fields, optional logger name,
// context fields, then the original attributes.
//
//nolint:gocritic // slog.Record is passed by value per slog.Handler interface contract
func (h *ContextHandler) enrich(ctx context.Context, r slog.Record, module string) slog.Record {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	out.AddAttrs(h.commonFields...)
	if module != "" {
		out.AddAttrs(slog.String("logger", module))
	}
	if ctx != nil {
		for _, key := range allContextKeys {
			if s, ok := ctx.Value(key).(string); ok && s != "" {
				out.AddAttrs(slog.String(string(key), s))
			}
		}
	}
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redactAttr(a))
		return true
	})
	return out
}

// redactAttr scrubs credentials from string-valued attributes.
func redactAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, RedactSensitiveData(a.Value.String()))
	}
	return a
}

// WithAttrs returns a new handler with the given attributes added.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{
		inner:        h.inner.WithAttrs(attrs),
		commonFields: h.commonFields,
	}
}

// WithGroup returns a new handler with the given group name.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{
		inner:        h.inner.WithGroup(name),
		commonFields: h.commonFields,
	}
}

// Unwrap returns the inner handler.
func (h *ContextHandler) Unwrap() slog.Handler {
	return h.inner
}

var _ slog.Handler = (*ContextHandler)(nil)

// NewModuleHandler creates a new ModuleHandler with per-module log level filtering.
func NewModuleHandler(inner slog.Handler, moduleConfig *ModuleConfig, commonFields ...slog.Attr) *ModuleHandler {
	return &ModuleHandler{
		ContextHandler: ContextHandler{
			inner:        inner,
			commonFields: commonFields,
		},
		moduleConfig: moduleConfig,
	}
}

// Enabled reports whether the calling module logs at level.
func (h *ModuleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.moduleConfig.LevelFor(callerModule())
}

// Handle drops records below the module's level and tags the rest with
// the module name.
//
//nolint:gocritic // slog.Record is passed by value per slog.Handler interface contract
func (h *ModuleHandler) Handle(ctx context.Context, r slog.Record) error {
	module := moduleFromPC(r.PC)
	if r.Level < h.moduleConfig.LevelFor(module) {
		return nil
	}
	return h.inner.Handle(ctx, h.enrich(ctx, r, module))
}

// WithAttrs returns a new handler with the given attributes added.
func (h *ModuleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return NewModuleHandler(h.inner.WithAttrs(attrs), h.moduleConfig, h.commonFields...)
}

// WithGroup returns a new handler with the given group name.
func (h *ModuleHandler) WithGroup(name string) slog.Handler {
	return NewModuleHandler(h.inner.WithGroup(name), h.moduleConfig, h.commonFields...)
}

var _ slog.Handler = (*ModuleHandler)(nil)

// callerModule walks the stack to the first frame outside this package.
func callerModule() string {
	const maxDepth = 12
	var pcs [maxDepth]uintptr
	//nolint:mnd // skip runtime.Callers, callerModule, Enabled
	n := runtime.Callers(3, pcs[:])
	if n == 0 {
		return ""
	}

	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if module := moduleFromFunction(frame.Function); module != "" && module != "logger" {
			return module
		}
		if !more {
			return ""
		}
	}
}

func moduleFromPC(pc uintptr) string {
	if pc == 0 {
		return ""
	}
	frame, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	return moduleFromFunction(frame.Function)
}

// moduleFromFunction maps a fully qualified function name to a dotted module.
// "github.com/AltairaLabs/robolive/internal/streaming.(*Conn).Send"
// becomes "internal.streaming". Functions outside the module map to "".
func moduleFromFunction(fn string) string {
	const moduleRoot = "github.com/AltairaLabs/robolive/"
	idx := strings.Index(fn, moduleRoot)
	if idx == -1 {
		return ""
	}

	path := fn[idx+len(moduleRoot):]
	if slash := strings.LastIndex(path, "/"); slash != -1 {
		if dot := strings.Index(path[slash:], "."); dot != -1 {
			path = path[:slash+dot]
		}
	} else if dot := strings.Index(path, "."); dot != -1 {
		path = path[:dot]
	}

	return strings.ReplaceAll(path, "/", ".")
}
