package judge

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/dyike/SentiTrader/internal/metrics"
	"github.com/dyike/SentiTrader/internal/models"
	"github.com/dyike/SentiTrader/internal/retry"
)

// InstructionVersion identifies the instruction text sent with every call.
// Bump it whenever prompts/sentiment_v1.md changes meaning.
const InstructionVersion = "sentiment-v1"

//go:embed prompts/sentiment_v1.md
var instruction string

// Result is the outcome of judging one text. When every attempt failed,
// Judgment is the neutral fallback and Err holds the last attempt's error.
type Result struct {
	Judgment models.Judgment
	Attempts int
	Err      error
}

func (r Result) Degraded() bool { return r.Err != nil }

// Judge classifies post text with a chat model.
type Judge struct {
	runnable compose.Runnable[map[string]any, *schema.Message]
	retry    retry.Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

type Option func(*Judge)

func WithRetry(cfg retry.Config) Option {
	return func(j *Judge) { j.retry = cfg }
}

func WithLogger(logger *zap.Logger) Option {
	return func(j *Judge) {
		if logger != nil {
			j.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(j *Judge) { j.metrics = m }
}

func New(ctx context.Context, cm model.BaseChatModel, opts ...Option) (*Judge, error) {
	if cm == nil {
		return nil, errors.New("judge: chat model is required")
	}

	j := &Judge{
		retry:  retry.DefaultConfig(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(j)
	}
	j.logger = j.logger.Named("judge")

	// The instruction is passed as a variable so its JSON example is not
	// parsed as template placeholders.
	tpl := prompt.FromMessages(schema.FString,
		schema.SystemMessage("{instruction}"),
		schema.UserMessage("Analyze the financial sentiment of this text: {text}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.
		AppendChatTemplate(tpl).
		AppendChatModel(cm)

	runnable, err := chain.Compile(ctx, compose.WithGraphName("sentiment_judge"))
	if err != nil {
		return nil, fmt.Errorf("compile judge chain: %w", err)
	}
	j.runnable = runnable
	return j, nil
}

// Judge never fails: after the last attempt it returns the neutral
// fallback with Result.Err set.
func (j *Judge) Judge(ctx context.Context, text string) Result {
	attempts := 0
	cfg := j.retry
	cfg.OnRetry = func(attempt int, err error, backoff time.Duration) {
		j.logger.Warn("sentiment attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", cfg.MaxAttempts),
			zap.Duration("backoff", backoff),
			zap.Error(err))
	}

	judgment, err := retry.Do(ctx, cfg, func(ctx context.Context, attempt int) (models.Judgment, error) {
		attempts = attempt
		jd, err := j.classify(ctx, text, attempt)
		j.metrics.JudgeAttempt(attemptResult(err))
		return jd, err
	})
	if err != nil {
		j.metrics.JudgeFallback()
		j.logger.Warn("sentiment unavailable, using neutral fallback",
			zap.Int("attempts", attempts),
			zap.Error(err))
		return Result{Judgment: models.NeutralJudgment(), Attempts: attempts, Err: err}
	}
	return Result{Judgment: judgment, Attempts: attempts}
}

func (j *Judge) classify(ctx context.Context, text string, attempt int) (models.Judgment, error) {
	msg, err := j.runnable.Invoke(ctx, map[string]any{
		"instruction": instruction,
		"text":        text,
	})
	if err != nil {
		return models.Judgment{}, &Error{Kind: ErrTransport, Attempt: attempt, Err: err}
	}
	if msg == nil {
		return models.Judgment{}, &Error{Kind: ErrTransport, Attempt: attempt, Err: errors.New("empty reply")}
	}

	jd, err := ParseJudgment(msg.Content)
	if err != nil {
		return models.Judgment{}, &Error{Kind: ErrMalformed, Attempt: attempt, Err: err}
	}
	return jd, nil
}

func attemptResult(err error) string {
	var jerr *Error
	if errors.As(err, &jerr) {
		return jerr.Kind.String()
	}
	if err != nil {
		return "error"
	}
	return "ok"
}
