// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/oraclesentinel/oracle-sentinel/internal/logger"
	"github.com/oraclesentinel/oracle-sentinel/internal/models"
)

// telegram rejects messages above 4096 characters.
const maxMessageLen = 4000

// ReportFunc renders the plain-text performance report for the /report command.
type ReportFunc func(ctx context.Context) (string, error)

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	report         ReportFunc
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// SetReportHandler registers the renderer used by the /report command.
func (c *Client) SetReportHandler(fn ReportFunc) {
	c.report = fn
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(ctx, update.Message)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "ping":
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Pong")
		c.bot.Send(reply) //nolint:errcheck
	case "report":
		if c.report == nil {
			return
		}
		text, err := c.report(ctx)
		if err != nil {
			text = "Report unavailable: " + err.Error()
		}
		reply := tgbotapi.NewMessage(msg.Chat.ID, FormatPre(text))
		reply.ParseMode = "MarkdownV2"
		if _, err := c.bot.Send(reply); err != nil {
			logger.Warn("Failed to send report reply: %v", err)
		}
	}
}

// Notify sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) Notify(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a job error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(ctx context.Context, job string, jobErr error) error {
	text := fmt.Sprintf("⚠️ *%s failed*\n`%s`", escapeMarkdownV2(job), escapeCode(jobErr.Error()))
	return c.Notify(ctx, text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(ctx context.Context, job string, failureCount int) error {
	text := fmt.Sprintf("✅ *%s recovered* after %d consecutive failure\\(s\\)", escapeMarkdownV2(job), failureCount)
	return c.Notify(ctx, text)
}

// FormatSignal renders a new prediction.
func FormatSignal(p models.Prediction, eventURL string) string {
	var b strings.Builder
	emoji := "🟢"
	if p.Signal == models.BuyNo {
		emoji = "🔴"
	}
	fmt.Fprintf(&b, "%s *%s* signal\n\n", emoji, escapeMarkdownV2(string(p.Signal)))
	b.WriteString(questionLine(p.Question, eventURL))
	fmt.Fprintf(&b, "📊 Market: %s  AI: %s\n",
		escapeMarkdownV2(pct(p.MarketPrice)), escapeMarkdownV2(pct(p.AIProbability)))
	fmt.Fprintf(&b, "📐 Edge: *%s*  Confidence: %s\n",
		escapeMarkdownV2(fmt.Sprintf("%+.1fpp", p.Edge)), escapeMarkdownV2(string(p.Confidence)))
	if p.Category != "" {
		fmt.Fprintf(&b, "🏷 %s\n", escapeMarkdownV2(p.Category))
	}
	if !p.MarketEndDate.IsZero() {
		fmt.Fprintf(&b, "⏰ Closes: %s\n", escapeMarkdownV2(p.MarketEndDate.UTC().Format("2006-01-02 15:04 UTC")))
	}
	if p.Reasoning != "" {
		fmt.Fprintf(&b, "\n_%s_\n", escapeMarkdownV2(truncate(p.Reasoning, 400)))
	}
	return b.String()
}

// FormatResolution renders one resolved prediction.
func FormatResolution(p models.Prediction) string {
	var b strings.Builder
	verdict := "❌ *Wrong*"
	if p.DirectionCorrect {
		verdict = "✅ *Correct*"
	}
	fmt.Fprintf(&b, "%s \\- resolved %s\n\n", verdict, escapeMarkdownV2(string(p.Resolution)))
	b.WriteString(questionLine(p.Question, ""))
	fmt.Fprintf(&b, "Signal: %s at %s\n", escapeMarkdownV2(string(p.Signal)), escapeMarkdownV2(pct(p.MarketPrice)))
	fmt.Fprintf(&b, "P&L: *%s*\n", escapeMarkdownV2(money(p.PnL)))
	return b.String()
}

// FormatResolutionSummary renders the digest sent when several predictions
// resolve in one run.
func FormatResolutionSummary(ps []models.Prediction) string {
	correct := 0
	var pnl float64
	for _, p := range ps {
		if p.DirectionCorrect {
			correct++
		}
		pnl += p.PnL
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📋 *%d predictions resolved*\n\n", len(ps))
	for i, p := range ps {
		mark := "❌"
		if p.DirectionCorrect {
			mark = "✅"
		}
		fmt.Fprintf(&b, "%d\\. %s %s %s\n", i+1, mark, escapeMarkdownV2(truncate(p.Question, 60)), escapeMarkdownV2(money(p.PnL)))
	}
	fmt.Fprintf(&b, "\nCorrect: %d/%d  Total P&L: *%s*\n", correct, len(ps), escapeMarkdownV2(money(pnl)))
	return b.String()
}

// FormatRevision renders a signal change made during re-evaluation.
func FormatRevision(p models.Prediction, before models.Recommendation, d models.Decision, reason string) string {
	var b strings.Builder
	b.WriteString("🔄 *Signal revised*\n\n")
	b.WriteString(questionLine(p.Question, ""))
	fmt.Fprintf(&b, "%s → *%s*\n", escapeMarkdownV2(string(before)), escapeMarkdownV2(string(d.Recommendation)))
	fmt.Fprintf(&b, "Edge: %s  Confidence: %s\n",
		escapeMarkdownV2(fmt.Sprintf("%+.1fpp", d.Edge)), escapeMarkdownV2(string(d.Confidence)))
	if reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", escapeMarkdownV2(reason))
	}
	return b.String()
}

// FormatCycle renders an improvement cycle digest.
func FormatCycle(digest string) string {
	return "🧠 *Self\\-improvement cycle*\n" + FormatPre(digest)
}

// FormatPre wraps plain text in a MarkdownV2 pre block, truncated to fit one message.
func FormatPre(text string) string {
	return "```\n" + escapeCode(truncate(text, maxMessageLen)) + "\n```"
}

func questionLine(question, url string) string {
	q := escapeMarkdownV2(question)
	if url != "" {
		return fmt.Sprintf("❓ [%s](%s)\n", q, escapeURL(url))
	}
	return fmt.Sprintf("❓ %s\n", q)
}

func pct(p float64) string {
	return fmt.Sprintf("%.1f%%", p*100)
}

func money(v float64) string {
	if v < 0 {
		return fmt.Sprintf("-$%.2f", -v)
	}
	return fmt.Sprintf("+$%.2f", v)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// escapeCode escapes text inside pre and code entities.
func escapeCode(text string) string {
	r := strings.NewReplacer("\\", "\\\\", "`", "\\`")
	return r.Replace(text)
}

// escapeURL escapes text inside the (...) part of an inline link.
func escapeURL(text string) string {
	r := strings.NewReplacer("\\", "\\\\", ")", "\\)")
	return r.Replace(text)
}
