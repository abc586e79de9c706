// Package command parses bot mentions in review comments and dispatches them.
package command

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/compliancebot/internal/compliance"
	"github.com/dshills/compliancebot/internal/metrics"
)

// Aliases are the mentions the bot answers to, in match order.
var Aliases = []string{"@compliance-bot", "@compliance-copilot", "@compliancebot"}

var mentionPatterns = func() []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(Aliases))
	for i, alias := range Aliases {
		out[i] = regexp.MustCompile(regexp.QuoteMeta(alias) + `\s+(\w+)(?:\s+(.*))?`)
	}
	return out
}()

// Command is a parsed mention.
type Command struct {
	Name string
	Args []string
}

// Parse extracts the first command addressed to the bot. Aliases are
// matched case-sensitively; the command name is lower-cased.
func Parse(body string) (Command, bool) {
	for i, alias := range Aliases {
		if !strings.Contains(body, alias) {
			continue
		}
		m := mentionPatterns[i].FindStringSubmatch(body)
		if m == nil {
			continue
		}
		return Command{Name: strings.ToLower(m[1]), Args: strings.Fields(m[2])}, true
	}
	return Command{}, false
}

// FixReply acknowledges a fix command.
const FixReply = "🔧 Automated fix generation is in progress..."

// Available lists the commands the dispatcher understands.
var Available = []string{"scan", "fix", "ignore"}

// IgnoreReply acknowledges an ignore command.
func IgnoreReply(ruleIDs []string) string {
	return "✓ Ignoring rules: " + strings.Join(ruleIDs, ", ")
}

// UnknownReply answers a command the bot does not know.
func UnknownReply(name string) string {
	return fmt.Sprintf("Unknown command: `%s`. Available commands: %s", name, strings.Join(Available, ", "))
}

// Analyzer re-runs analysis for a target.
type Analyzer interface {
	Analyze(ctx context.Context, target compliance.Target) (*compliance.AnalysisRun, error)
}

// Replier posts plain-text answers.
type Replier interface {
	Reply(ctx context.Context, target compliance.Target, body string) error
}

// Dispatcher maps commands to actions.
type Dispatcher struct {
	analyzer Analyzer
	replier  Replier
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewDispatcher returns a dispatcher. m may be nil.
func NewDispatcher(a Analyzer, r Replier, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{analyzer: a, replier: r, logger: logger.Named("command"), metrics: m}
}

// HandleComment parses body and executes the command it carries. It reports
// false when the comment is not addressed to the bot.
func (d *Dispatcher) HandleComment(ctx context.Context, target compliance.Target, body string) (bool, error) {
	cmd, ok := Parse(body)
	if !ok {
		return false, nil
	}
	return true, d.Execute(ctx, target, cmd)
}

// Execute runs cmd against target.
func (d *Dispatcher) Execute(ctx context.Context, target compliance.Target, cmd Command) error {
	d.logger.Info("handling command",
		zap.String("command", cmd.Name),
		zap.Strings("args", cmd.Args),
		zap.Stringer("target", target))
	d.metrics.RecordCommand(cmd.Name)

	switch cmd.Name {
	case "scan":
		// The run is published by the analyzer; a fatal error is already
		// recorded on the run.
		if _, err := d.analyzer.Analyze(ctx, target); err != nil {
			return fmt.Errorf("scan %s: %w", target, err)
		}
		return nil
	case "fix":
		return d.reply(ctx, target, FixReply)
	case "ignore":
		return d.reply(ctx, target, IgnoreReply(cmd.Args))
	default:
		return d.reply(ctx, target, UnknownReply(cmd.Name))
	}
}

func (d *Dispatcher) reply(ctx context.Context, target compliance.Target, body string) error {
	if err := d.replier.Reply(ctx, target, body); err != nil {
		return fmt.Errorf("replying on %s: %w", target, err)
	}
	return nil
}
