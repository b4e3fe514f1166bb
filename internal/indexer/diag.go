package indexer

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/predindexer/internal/domain"
)

// SlogSink writes diagnostics to the structured log: warnings at Warn level,
// fatals at Error level.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink that logs every diagnostic.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger.With(slog.String("component", "diagnostics"))}
}

// Emit implements domain.DiagnosticSink.
func (s *SlogSink) Emit(ctx context.Context, d domain.Diagnostic) {
	attrs := []any{
		slog.String("id", d.ID),
		slog.String("code", d.Code),
		slog.String("kind", string(d.Kind)),
		slog.String("cursor", d.Cursor.String()),
		slog.String("tx_hash", d.TxHash),
	}
	if d.Severity == domain.SeverityFatal {
		s.logger.ErrorContext(ctx, d.Message, attrs...)
		return
	}
	s.logger.WarnContext(ctx, d.Message, attrs...)
}

// MultiSink fans one diagnostic out to several sinks.
type MultiSink []domain.DiagnosticSink

// Emit implements domain.DiagnosticSink.
func (m MultiSink) Emit(ctx context.Context, d domain.Diagnostic) {
	for _, s := range m {
		s.Emit(ctx, d)
	}
}

// NopSink discards diagnostics.
type NopSink struct{}

// Emit implements domain.DiagnosticSink.
func (NopSink) Emit(context.Context, domain.Diagnostic) {}

// CollectSink buffers diagnostics in memory. Test helper and replay-report
// accumulator; not safe for concurrent use.
type CollectSink struct {
	Diags []domain.Diagnostic
}

// Emit implements domain.DiagnosticSink.
func (c *CollectSink) Emit(_ context.Context, d domain.Diagnostic) {
	c.Diags = append(c.Diags, d)
}
