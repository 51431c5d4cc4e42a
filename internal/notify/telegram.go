package notify

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/cheryl9/grantdeck/internal/models"
)

// digestLimit caps how many grants one digest message lists.
const digestLimit = 15

// TelegramNotifier pushes a short digest of newly discovered grants to a
// configured chat after each ingestion run.
type TelegramNotifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramFromEnv builds a notifier from TELEGRAM_BOT_TOKEN and
// TELEGRAM_CHAT_ID. Returns nil when either is unset or invalid, which
// disables digests without failing startup.
func NewTelegramFromEnv() *TelegramNotifier {
	token := strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
	chatRaw := strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID"))
	if token == "" || chatRaw == "" {
		return nil
	}

	chatID, err := strconv.ParseInt(chatRaw, 10, 64)
	if err != nil {
		log.Printf("[notify] invalid TELEGRAM_CHAT_ID %q: %v", chatRaw, err)
		return nil
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		log.Printf("[notify] telegram setup failed: %v", err)
		return nil
	}

	return &TelegramNotifier{api: api, chatID: chatID}
}

func (t *TelegramNotifier) NotifyNewGrants(ctx context.Context, sourceName string, grants []models.Grant) error {
	if t == nil || t.api == nil || len(grants) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(t.chatID, formatDigest(sourceName, grants))
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = true

	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("send telegram digest: %w", err)
	}
	return nil
}

func formatDigest(sourceName string, grants []models.Grant) string {
	var b strings.Builder

	noun := "grants"
	if len(grants) == 1 {
		noun = "grant"
	}
	fmt.Fprintf(&b, "<b>%s</b>: %d new %s\n", escapeHTML(sourceName), len(grants), noun)

	shown := grants
	if len(shown) > digestLimit {
		shown = shown[:digestLimit]
	}

	for _, g := range shown {
		b.WriteString("\n• ")
		link := g.ApplyURL
		if link == "" {
			link = g.SourceURL
		}
		if link != "" {
			fmt.Fprintf(&b, `<a href="%s">%s</a>`, escapeHTML(link), escapeHTML(g.Title))
		} else {
			b.WriteString(escapeHTML(g.Title))
		}
		if g.Agency != "" {
			fmt.Fprintf(&b, " (%s)", escapeHTML(g.Agency))
		}
		fmt.Fprintf(&b, "\n   %s, %s", fundingLabel(g), deadlineLabel(g))
	}

	if rest := len(grants) - len(shown); rest > 0 {
		fmt.Fprintf(&b, "\n\n…and %d more", rest)
	}

	return b.String()
}

func fundingLabel(g models.Grant) string {
	if !g.HasStructuredFunding() {
		return "amount unlisted"
	}
	if g.FundingMin > 0 && g.FundingMin != g.FundingMax {
		return fmt.Sprintf("S$%s to S$%s", formatAmount(g.FundingMin), formatAmount(g.FundingMax))
	}
	return fmt.Sprintf("up to S$%s", formatAmount(g.FundingMax))
}

func deadlineLabel(g models.Grant) string {
	if g.OpenAllYear {
		return "open all year"
	}
	if g.Deadline == "" || g.Deadline == models.NoDeadline {
		return models.NoDeadline
	}
	d := g.Deadline
	if len(d) > 60 {
		d = d[:60] + "…"
	}
	return escapeHTML(d)
}

// formatAmount renders 150000 as "150,000". Fractional cents are not worth
// showing in a chat digest.
func formatAmount(v float64) string {
	s := strconv.FormatInt(int64(v), 10)
	if len(s) <= 3 {
		return s
	}

	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

func escapeHTML(s string) string {
	return tgbotapi.EscapeText("HTML", s)
}
