package search

import (
	"log/slog"

	"github.com/poiesic/vocabdex/core"
)

// SearchMonitor provides hooks to observe the search process.
// Implement this interface to track intermediate steps and results during search.
type SearchMonitor interface {
	Start(query string, mode Mode)
	AfterExactSearch(ids []uint64)
	AfterFuzzySearch(ids []uint64)
	AfterSemanticSearch(ids []uint64)
	SemanticDisabled(err error)
	Finish(hits []core.SearchHit)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string, _ Mode)         {}
func (n *noopMonitor) AfterExactSearch(_ []uint64)    {}
func (n *noopMonitor) AfterFuzzySearch(_ []uint64)    {}
func (n *noopMonitor) AfterSemanticSearch(_ []uint64) {}
func (n *noopMonitor) SemanticDisabled(_ error)       {}
func (n *noopMonitor) Finish(_ []core.SearchHit)      {}

// LoggingMonitor logs every stage of the search process at debug level.
type LoggingMonitor struct {
	logger *slog.Logger
}

var _ SearchMonitor = (*LoggingMonitor)(nil)

// NewLoggingMonitor creates a monitor that reports search stages to the
// given logger. A nil logger falls back to slog.Default().
func NewLoggingMonitor(logger *slog.Logger) *LoggingMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingMonitor{logger: logger}
}

func (m *LoggingMonitor) Start(query string, mode Mode) {
	m.logger.Debug("search started", "query", query, "mode", mode)
}

func (m *LoggingMonitor) AfterExactSearch(ids []uint64) {
	m.logger.Debug("exact matching finished", "hits", len(ids))
}

func (m *LoggingMonitor) AfterFuzzySearch(ids []uint64) {
	m.logger.Debug("fuzzy matching finished", "hits", len(ids))
}

func (m *LoggingMonitor) AfterSemanticSearch(ids []uint64) {
	m.logger.Debug("semantic matching finished", "hits", len(ids))
}

func (m *LoggingMonitor) SemanticDisabled(err error) {
	m.logger.Warn("semantic matching disabled for this request", "err", err)
}

func (m *LoggingMonitor) Finish(hits []core.SearchHit) {
	m.logger.Debug("search finished", "results", len(hits))
}
