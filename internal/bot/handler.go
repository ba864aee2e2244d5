// Package bot delivers stories over Telegram. A user's first photo is
// rendered on its own right away and also held; the next photo is stacked
// under it into a split layout.
package bot

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/storyframe/internal/domain"
	"github.com/dunamismax/storyframe/internal/pipeline"
	"github.com/dunamismax/storyframe/internal/session"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	helpText = "Hi! I create Instagram Stories.\n\n" +
		"1. Send ONE photo for a standard story.\n" +
		"2. Send TWO photos to create a split-screen layout.\n" +
		"3. Use /reset to clear if you made a mistake."
	resetClearedText = "Pending photo cleared. You can start a new story."
	resetNothingText = "You don't have any pending photos."
	resetExpiredText = "Your pending photo had already expired. You can start a new story."
	firstPhotoText   = "Photo 1 saved! Send a second photo to create a top/bottom layout.\n(Or just use this one? I'll send the single version now too.)"
	secondPhotoText  = "Second photo received! Creating layout..."
	storyCaption     = "Here is your story!"
	errorTextPrefix  = "An error occurred: "
)

type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type FileDownloader interface {
	Download(ctx context.Context, fileID string) ([]byte, error)
}

type StoryRenderer interface {
	RenderSoloBytes(ctx context.Context, src []byte, mode domain.LayoutMode) (pipeline.Rendered, error)
	RenderPairedBytes(ctx context.Context, first, second []byte, mode domain.LayoutMode) (pipeline.Rendered, error)
}

// Handler turns chat updates into session transitions and renders. Held
// sessions store Telegram file ids, so pending photos are downloaded again
// when their partner arrives.
type Handler struct {
	logger      *log.Logger
	sender      Sender
	files       FileDownloader
	renderer    StoryRenderer
	sessions    session.Store[string]
	defaultMode domain.LayoutMode
	metrics     *metrics
}

func NewHandler(logger *log.Logger, sender Sender, files FileDownloader, renderer StoryRenderer, sessions session.Store[string], defaultMode domain.LayoutMode) *Handler {
	if defaultMode == "" {
		defaultMode = domain.ModeFitBlurred
	}
	return &Handler{
		logger:      logger,
		sender:      sender,
		files:       files,
		renderer:    renderer,
		sessions:    sessions,
		defaultMode: defaultMode,
		metrics:     newMetrics(),
	}
}

// HandleUpdate processes one update to completion.
func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	if render := h.Route(ctx, update); render != nil {
		render(ctx)
	}
}

// Route applies the update's session transition and answers commands
// immediately. For photos it returns the download and render work, which the
// caller may run asynchronously; the pairing decision is already fixed.
func (h *Handler) Route(ctx context.Context, update tgbotapi.Update) func(context.Context) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return nil
	}

	if msg.IsCommand() {
		h.metrics.updatesTotal.WithLabelValues("command").Inc()
		switch msg.Command() {
		case "start", "help":
			h.reply(msg.Chat.ID, helpText)
		case "reset":
			h.reset(ctx, msg)
		}
		return nil
	}

	fileID, ok := imageFileID(msg)
	if !ok {
		h.metrics.updatesTotal.WithLabelValues("ignored").Inc()
		return nil
	}
	h.metrics.updatesTotal.WithLabelValues("photo").Inc()

	mode, err := domain.ParseLayoutMode(msg.Caption, h.defaultMode)
	if err != nil {
		mode = h.defaultMode
	}

	sub, err := h.sessions.Submit(ctx, submitterKey(msg), fileID)
	if err != nil {
		h.logger.Printf("session submit failed chat_id=%d err=%v", msg.Chat.ID, err)
		h.reply(msg.Chat.ID, errorTextPrefix+err.Error())
		return nil
	}
	h.metrics.sessionSubmissions.WithLabelValues(sub.Role.String()).Inc()

	chatID := msg.Chat.ID
	if sub.Role == session.RoleSecond {
		h.reply(chatID, secondPhotoText)
		first := sub.First
		return func(ctx context.Context) {
			h.renderPaired(ctx, chatID, first, fileID, mode)
		}
	}

	h.reply(chatID, firstPhotoText)
	return func(ctx context.Context) {
		h.renderSolo(ctx, chatID, fileID, mode)
	}
}

func (h *Handler) reset(ctx context.Context, msg *tgbotapi.Message) {
	outcome, err := h.sessions.Reset(ctx, submitterKey(msg))
	if err != nil {
		h.logger.Printf("session reset failed chat_id=%d err=%v", msg.Chat.ID, err)
		h.reply(msg.Chat.ID, errorTextPrefix+err.Error())
		return
	}
	h.metrics.sessionResets.WithLabelValues(outcome.String()).Inc()

	switch outcome {
	case session.Cleared:
		h.reply(msg.Chat.ID, resetClearedText)
	case session.SessionExpired:
		h.reply(msg.Chat.ID, resetExpiredText)
	default:
		h.reply(msg.Chat.ID, resetNothingText)
	}
}

func (h *Handler) renderSolo(ctx context.Context, chatID int64, fileID string, mode domain.LayoutMode) {
	started := time.Now()
	data, err := h.files.Download(ctx, fileID)
	if err != nil {
		h.fail(chatID, domain.LayoutSolo, fmt.Errorf("download photo: %w", err))
		return
	}

	rendered, err := h.renderer.RenderSoloBytes(ctx, data, mode)
	if err != nil {
		h.fail(chatID, domain.LayoutSolo, err)
		return
	}
	h.deliver(chatID, domain.LayoutSolo, rendered, started)
}

func (h *Handler) renderPaired(ctx context.Context, chatID int64, firstID, secondID string, mode domain.LayoutMode) {
	started := time.Now()
	first, err := h.files.Download(ctx, firstID)
	if err != nil {
		h.fail(chatID, domain.LayoutPaired, fmt.Errorf("download first photo: %w", err))
		return
	}
	second, err := h.files.Download(ctx, secondID)
	if err != nil {
		h.fail(chatID, domain.LayoutPaired, fmt.Errorf("download second photo: %w", err))
		return
	}

	rendered, err := h.renderer.RenderPairedBytes(ctx, first, second, mode)
	if err != nil {
		h.fail(chatID, domain.LayoutPaired, err)
		return
	}
	h.deliver(chatID, domain.LayoutPaired, rendered, started)
}

func (h *Handler) deliver(chatID int64, layout domain.Layout, rendered pipeline.Rendered, started time.Time) {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{
		Name:  pipeline.OutputName(layout, rendered.Format),
		Bytes: rendered.Data,
	})
	doc.Caption = storyCaption
	if _, err := h.sender.Send(doc); err != nil {
		h.logger.Printf("send story failed chat_id=%d layout=%s err=%v", chatID, layout, err)
		h.metrics.storiesTotal.WithLabelValues(string(layout), "send_failed").Inc()
		return
	}

	h.metrics.storiesTotal.WithLabelValues(string(layout), "delivered").Inc()
	h.metrics.renderDuration.WithLabelValues(string(layout)).Observe(time.Since(started).Seconds())
	h.logger.Printf("delivered chat_id=%d layout=%s bytes=%d", chatID, layout, len(rendered.Data))
}

func (h *Handler) fail(chatID int64, layout domain.Layout, err error) {
	h.metrics.storiesTotal.WithLabelValues(string(layout), "failed").Inc()
	h.logger.Printf("render failed chat_id=%d layout=%s err=%v", chatID, layout, err)
	h.reply(chatID, errorTextPrefix+err.Error())
}

func (h *Handler) reply(chatID int64, text string) {
	if _, err := h.sender.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		h.logger.Printf("send message failed chat_id=%d err=%v", chatID, err)
	}
}

// imageFileID picks the largest photo size, or an image sent as a file.
func imageFileID(msg *tgbotapi.Message) (string, bool) {
	if msg.Document != nil {
		if strings.HasPrefix(msg.Document.MimeType, "image/") {
			return msg.Document.FileID, true
		}
		return "", false
	}
	if len(msg.Photo) == 0 {
		return "", false
	}

	best := msg.Photo[0]
	for _, size := range msg.Photo[1:] {
		if size.Width*size.Height > best.Width*best.Height {
			best = size
		}
	}
	return best.FileID, true
}

// submitterKey is the sender's user id, or the chat id for anonymous posts.
func submitterKey(msg *tgbotapi.Message) string {
	if msg.From != nil {
		return "tg:" + strconv.FormatInt(msg.From.ID, 10)
	}
	return "tg-chat:" + strconv.FormatInt(msg.Chat.ID, 10)
}
