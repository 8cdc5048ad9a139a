package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"voice-planner/internal/model"
	"voice-planner/internal/service"
)

const (
	cbApprovePrefix  = "approve:"
	cbCompletePrefix = "complete:"
)

const (
	iconPending  = "🕓"
	iconApproved = "🟢"
	iconDue      = "⏳"
	iconOverdue  = "⚠️"
	iconDone     = "✅"

	menuLabelTasks   = "📋 Tasks"
	menuLabelSummary = "📊 Summary"
	menuLabelHelp    = "ℹ️ Help"

	platformTelegram = "telegram"
)

// API is the part of tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot lets a Telegram chat receive reminders for a planner account and
// manage its tasks.
type Bot struct {
	api       API
	tasks     *service.TaskService
	accounts  *service.AccountService
	summaries *service.SummaryService
	now       func() time.Time

	mu    sync.Mutex
	links map[int64]string
}

func New(api API, tasks *service.TaskService, accounts *service.AccountService, summaries *service.SummaryService) *Bot {
	return &Bot{
		api:       api,
		tasks:     tasks,
		accounts:  accounts,
		summaries: summaries,
		now:       time.Now,
		links:     make(map[int64]string),
	}
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	log.Info().Msg("start polling telegram updates")
	log.Warn().Msg("telegram /start links chats to accounts without verification")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		b.handleUpdate(ctx, update)
	}
	return nil
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
			log.Error().Err(err).Msg("handle callback")
		}
	case update.Message != nil:
		if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
			return
		}
		if err := b.handleMessage(ctx, update.Message); err != nil {
			log.Error().Err(err).Int64("chat_id", update.Message.Chat.ID).Msg("handle message")
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}

	if msg.IsCommand() {
		log.Info().
			Int64("chat_id", msg.Chat.ID).
			Str("command", msg.Command()).
			Msg("telegram command")
		return b.handleCommand(ctx, msg)
	}

	switch strings.ToLower(strings.TrimSpace(msg.Text)) {
	case strings.ToLower(menuLabelTasks):
		return b.handleListTasks(ctx, msg)
	case strings.ToLower(menuLabelSummary):
		return b.handleSummary(ctx, msg)
	case strings.ToLower(menuLabelHelp):
		return b.handleHelp(msg)
	}
	return b.sendText(msg.Chat.ID, "I didn't get that. Try /tasks or /help.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		return b.handleStart(ctx, msg)
	case "stop":
		return b.handleStop(ctx, msg)
	case "help":
		return b.handleHelp(msg)
	case "tasks":
		return b.handleListTasks(ctx, msg)
	case "plan":
		return b.handlePlan(ctx, msg)
	case "tz":
		return b.handleTimezone(ctx, msg)
	case "summary":
		return b.handleSummary(ctx, msg)
	default:
		return b.sendText(msg.Chat.ID, "Unknown command. See /help.")
	}
}

// handleStart links the chat to a planner account. Without an argument the
// Telegram user id is used as the account id. Linking is trust-on-first-use:
// nothing proves the chat owns the account it names.
func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	userID := strings.TrimSpace(msg.CommandArguments())
	if userID == "" {
		userID = strconv.FormatInt(msg.From.ID, 10)
	}
	chatToken := strconv.FormatInt(msg.Chat.ID, 10)
	if err := b.accounts.RegisterDevice(ctx, userID, chatToken, platformTelegram); err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Could not link this chat: %s", escape(err.Error())))
	}
	b.setLink(msg.Chat.ID, userID)

	name := strings.TrimSpace(msg.From.FirstName)
	if name == "" {
		name = "there"
	}
	text := fmt.Sprintf(
		"👋 Hi, %s!\n<b>Reminders for account %s will arrive in this chat.</b>\n\n%s",
		escape(name), escape(userID), helpText,
	)
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleStop(ctx context.Context, msg *tgbotapi.Message) error {
	userID := b.userID(msg.Chat.ID, msg.From)
	if err := b.accounts.UnregisterDevice(ctx, userID, strconv.FormatInt(msg.Chat.ID, 10)); err != nil {
		return err
	}
	b.clearLink(msg.Chat.ID)
	return b.sendText(msg.Chat.ID, "🔕 This chat will no longer receive reminders. Send /start to link it again.")
}

const helpText = "Commands:\n" +
	"• /tasks : active tasks with approve and complete buttons\n" +
	"• /plan &lt;assistant reply&gt; : create tasks from an assistant reply\n" +
	"• /tz &lt;Area/City&gt; : set your timezone\n" +
	"• /summary : today's summary\n" +
	"• /stop : stop reminders in this chat\n" +
	"• /help : this message"

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	return b.sendText(msg.Chat.ID, "ℹ️ <b>Help</b>\n"+helpText)
}

func (b *Bot) handlePlan(ctx context.Context, msg *tgbotapi.Message) error {
	raw := strings.TrimSpace(msg.CommandArguments())
	if raw == "" {
		return b.sendText(msg.Chat.ID, "Paste the assistant reply after the command: /plan {...}")
	}
	res, err := b.tasks.CreateFromProposal(ctx, b.userID(msg.Chat.ID, msg.From), []byte(raw), false)
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Could not create tasks: %s", escape(err.Error())))
	}
	if !res.Success {
		return b.sendText(msg.Chat.ID, escape(res.Message))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📝 <b>%d task(s) waiting for approval</b>\n", len(res.Tasks))
	for _, task := range res.Tasks {
		fmt.Fprintf(&sb, "• %s (%d reminder(s))\n", escape(normalizeTitle(task.Title)), len(task.Reminders))
	}
	for _, s := range res.Suggestions {
		fmt.Fprintf(&sb, "\n💡 <b>%s</b>: %s", escape(s.Title), escape(s.Description))
	}
	if err := b.sendText(msg.Chat.ID, strings.TrimSpace(sb.String())); err != nil {
		return err
	}
	return b.sendTaskList(ctx, msg.Chat.ID, b.userID(msg.Chat.ID, msg.From))
}

func (b *Bot) handleTimezone(ctx context.Context, msg *tgbotapi.Message) error {
	tz := strings.TrimSpace(msg.CommandArguments())
	if err := b.accounts.SetTimezone(ctx, b.userID(msg.Chat.ID, msg.From), tz); err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			return b.sendText(msg.Chat.ID, "Use an IANA timezone name, e.g. /tz Europe/Istanbul")
		}
		return err
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("🌍 Timezone set to %s.", escape(tz)))
}

func (b *Bot) handleSummary(ctx context.Context, msg *tgbotapi.Message) error {
	_, text, err := b.summaries.DailySummary(ctx, b.userID(msg.Chat.ID, msg.From), b.now())
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Could not build the summary: %s", escape(err.Error())))
	}
	return b.sendText(msg.Chat.ID, "📊 <b>Daily Summary</b>\n"+escape(text))
}

func (b *Bot) handleListTasks(ctx context.Context, msg *tgbotapi.Message) error {
	return b.sendTaskList(ctx, msg.Chat.ID, b.userID(msg.Chat.ID, msg.From))
}

func (b *Bot) sendTaskList(ctx context.Context, chatID int64, userID string) error {
	tasks, err := b.tasks.ListTasks(ctx, userID, false)
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("Could not load tasks: %s", escape(err.Error())))
	}

	active := tasks[:0]
	for _, task := range tasks {
		if task.Status.IsActive() {
			active = append(active, task)
		}
	}
	if len(active) == 0 {
		return b.sendText(chatID, "No active tasks. Send /plan with an assistant reply to add some.")
	}

	sort.SliceStable(active, func(i, j int) bool {
		a, c := active[i], active[j]
		switch {
		case a.DueDate != nil && c.DueDate != nil:
			return a.DueDate.Before(*c.DueDate)
		case a.DueDate != nil:
			return true
		case c.DueDate != nil:
			return false
		}
		return a.CreatedAt.Before(c.CreatedAt)
	})

	now := b.now()
	loc := b.location(ctx, userID)
	var builder strings.Builder
	builder.WriteString("📋 <b>Your tasks</b>\n\n")
	var buttons [][]tgbotapi.InlineKeyboardButton
	for _, task := range active {
		builder.WriteString(formatTask(task, now, loc))
		var row []tgbotapi.InlineKeyboardButton
		if task.Status == model.TaskStatusPending {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData("👍 Approve · "+shortTitle(task.Title, 18), cbApprovePrefix+task.ID))
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(iconDone+" Done · "+shortTitle(task.Title, 18), cbCompletePrefix+task.ID))
		buttons = append(buttons, row)
	}

	msg := tgbotapi.NewMessage(chatID, strings.TrimSpace(builder.String()))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err = b.api.Send(msg)
	return err
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil || cb.Message.Chat == nil {
		return nil
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		log.Warn().Err(err).Msg("callback ack")
	}

	chatID := cb.Message.Chat.ID
	userID := b.userID(chatID, cb.From)
	var (
		task *model.Task
		err  error
		verb string
	)
	switch {
	case strings.HasPrefix(cb.Data, cbApprovePrefix):
		task, err = b.tasks.ApproveTask(ctx, userID, strings.TrimPrefix(cb.Data, cbApprovePrefix))
		verb = "approved"
	case strings.HasPrefix(cb.Data, cbCompletePrefix):
		task, err = b.tasks.CompleteTask(ctx, userID, strings.TrimPrefix(cb.Data, cbCompletePrefix))
		verb = "completed"
	default:
		return nil
	}
	log.Info().Str("user_id", userID).Str("data", cb.Data).Err(err).Msg("telegram callback")

	switch {
	case errors.Is(err, service.ErrNotFound):
		return b.sendText(chatID, "Task not found.")
	case errors.Is(err, service.ErrInvalidTransition):
		return b.sendText(chatID, "That task is no longer active.")
	case err != nil:
		return b.sendText(chatID, fmt.Sprintf("Error: %s", escape(err.Error())))
	}
	if err := b.sendText(chatID, fmt.Sprintf("✅ «%s» %s.", escape(normalizeTitle(task.Title)), verb)); err != nil {
		return err
	}
	return b.sendTaskList(ctx, chatID, userID)
}

// location returns the user's timezone, or UTC when it cannot be loaded.
func (b *Bot) location(ctx context.Context, userID string) *time.Location {
	tz, err := b.accounts.Timezone(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("timezone lookup")
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// userID returns the account linked to the chat, or the Telegram user id.
func (b *Bot) userID(chatID int64, from *tgbotapi.User) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id, ok := b.links[chatID]; ok {
		return id
	}
	if from == nil {
		return strconv.FormatInt(chatID, 10)
	}
	return strconv.FormatInt(from.ID, 10)
}

func (b *Bot) setLink(chatID int64, userID string) {
	b.mu.Lock()
	b.links[chatID] = userID
	b.mu.Unlock()
}

func (b *Bot) clearLink(chatID int64) {
	b.mu.Lock()
	delete(b.links, chatID)
	b.mu.Unlock()
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.api.Send(msg)
	return err
}

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelTasks),
			tgbotapi.NewKeyboardButton(menuLabelSummary),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelHelp),
		),
	)
	kb.ResizeKeyboard = true
	return kb
}

func formatTask(task model.Task, now time.Time, loc *time.Location) string {
	var b strings.Builder
	icon := iconApproved
	if task.Status == model.TaskStatusPending {
		icon = iconPending
	}
	if task.DueDate != nil {
		switch d := *task.DueDate; {
		case now.After(d):
			icon = iconOverdue
		case d.Sub(now) <= 48*time.Hour:
			icon = iconDue
		}
	}
	b.WriteString(fmt.Sprintf("%s <b>%s</b> · %s\n", icon, escape(normalizeTitle(task.Title)), task.Priority))
	if task.DueDate != nil {
		d := task.DueDate.In(loc)
		if now.After(d) {
			b.WriteString(fmt.Sprintf("   ⏰ Due: %s, <b>overdue</b>\n", d.Format("2006-01-02 15:04 MST")))
		} else {
			b.WriteString(fmt.Sprintf("   ⏰ Due: %s\n", d.Format("2006-01-02 15:04 MST")))
		}
	}
	pending := 0
	for _, r := range task.Reminders {
		if !r.Sent {
			pending++
		}
	}
	b.WriteString(fmt.Sprintf("   🔔 %d of %d reminder(s) pending\n", pending, len(task.Reminders)))
	if task.Description != "" && task.Description != task.Title {
		b.WriteString(fmt.Sprintf("   📝 %s\n", escape(task.Description)))
	}
	b.WriteByte('\n')
	return b.String()
}

func shortTitle(title string, maxLen int) string {
	clean := normalizeTitle(strings.ReplaceAll(title, "\n", " "))
	runes := []rune(clean)
	if len(runes) <= maxLen {
		return clean
	}
	if maxLen <= 1 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-1]) + "…"
}

func normalizeTitle(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	runes := []rune(value)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func escape(s string) string {
	return html.EscapeString(s)
}
