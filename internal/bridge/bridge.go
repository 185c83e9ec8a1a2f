// Package bridge turns Telegram messages into Pinboard bookmarks.
//
// A chat moves between three states: unlinked, idle and awaiting tags. The
// only state kept between messages is what linking.Store persists, so any
// process can handle any update.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrSnakeDoc/pinbook/internal/domain"
	"github.com/MrSnakeDoc/pinbook/internal/linking"
	"github.com/MrSnakeDoc/pinbook/internal/logger"
	"github.com/MrSnakeDoc/pinbook/internal/pinboard"
	"github.com/MrSnakeDoc/pinbook/internal/telegram"
)

const errorReplyTimeout = 5 * time.Second

// Saver persists a bookmark remotely.
type Saver interface {
	AddBookmark(ctx context.Context, p domain.AddParams) (domain.Bookmark, error)
}

// ClientFunc returns the Saver bound to a linked credential.
type ClientFunc func(credential string) (Saver, error)

// TitleSource resolves a display title for a URL. Implementations must not
// fail: they fall back to the URL.
type TitleSource interface {
	Title(ctx context.Context, rawURL string) string
}

type Options struct {
	Store   linking.Store
	Sender  telegram.Sender
	Clients ClientFunc
	Titles  TitleSource
	Logger  logger.Logger
	Now     func() time.Time
}

type Bridge struct {
	store   linking.Store
	sender  telegram.Sender
	clients ClientFunc
	titles  TitleSource
	log     logger.Logger
	now     func() time.Time
}

func New(opts Options) *Bridge {
	b := &Bridge{
		store:   opts.Store,
		sender:  opts.Sender,
		clients: opts.Clients,
		titles:  opts.Titles,
		log:     opts.Logger,
		now:     opts.Now,
	}
	if b.log == nil {
		b.log = logger.Nop()
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.titles == nil {
		b.titles = NewTitleFetcher(0)
	}
	return b
}

// Handle processes one update. Errors are reported to the chat with a
// generic reply and returned for logging; callers must still acknowledge
// the update to Telegram.
func (b *Bridge) Handle(ctx context.Context, u telegram.Update) error {
	msg := u.Message
	if msg == nil || strings.TrimSpace(msg.Text) == "" {
		return nil
	}
	chatID := msg.Chat.ID

	err := b.handle(ctx, chatID, strings.TrimSpace(msg.Text))
	if err == nil {
		return nil
	}

	b.log.Error("bridge: update failed",
		logger.Int64("update_id", u.UpdateID),
		logger.Int64("chat_id", chatID),
		logger.Error(err),
	)
	// the update context may already be spent by the failure itself
	replyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), errorReplyTimeout)
	defer cancel()
	if sendErr := b.sender.SendMessage(replyCtx, chatID, msgGenericError); sendErr != nil {
		b.log.Warn("bridge: could not deliver error reply", logger.Error(sendErr))
	}
	return err
}

func (b *Bridge) handle(ctx context.Context, chatID int64, text string) error {
	cmd, arg := parseCommand(text)

	credential, linked, err := b.store.LookupCredential(ctx, chatID)
	if err != nil {
		return fmt.Errorf("lookup chat: %w", err)
	}

	if !linked {
		switch cmd {
		case "/start":
			if arg == "" {
				return b.reply(ctx, chatID, msgStartInstructions)
			}
			return b.redeem(ctx, chatID, arg)
		case "/help":
			return b.reply(ctx, chatID, msgStartInstructions)
		default:
			return b.reply(ctx, chatID, msgLinkFirst)
		}
	}

	switch cmd {
	case "":
	case "/start":
		if arg == "" {
			return b.reply(ctx, chatID, msgAlreadyLinked(domain.UsernameFromToken(credential)))
		}
		return b.redeem(ctx, chatID, arg)
	case "/help":
		return b.reply(ctx, chatID, msgHelp)
	case "/disconnect":
		return b.disconnect(ctx, chatID, credential)
	case "/skip":
		return b.skip(ctx, chatID, credential)
	default:
		// a link pasted right after an unknown command still counts
		if _, ok := domain.ExtractFirstURL(text); !ok {
			return b.reply(ctx, chatID, msgUnknownCmd)
		}
	}

	if rawURL, ok := domain.ExtractFirstURL(text); ok {
		return b.receiveURL(ctx, chatID, credential, rawURL)
	}

	pending, ok, err := b.store.GetPending(ctx, chatID)
	if err != nil {
		return fmt.Errorf("get pending: %w", err)
	}
	if !ok {
		return b.reply(ctx, chatID, msgAskForURL)
	}
	return b.savePending(ctx, chatID, credential, pending, domain.ParseTags(text))
}

// redeem links the chat to the credential behind code. Re-linking an
// already linked chat replaces its credential.
func (b *Bridge) redeem(ctx context.Context, chatID int64, code string) error {
	credential, ok, err := b.store.RedeemCode(ctx, code)
	if err != nil {
		return fmt.Errorf("redeem code: %w", err)
	}
	if !ok {
		return b.reply(ctx, chatID, msgInvalidCode)
	}
	if err := b.store.LinkChat(ctx, chatID, credential); err != nil {
		return fmt.Errorf("link chat: %w", err)
	}

	user := domain.UsernameFromToken(credential)
	b.log.Info("🔗 chat linked", logger.Int64("chat_id", chatID), logger.String("user", user))
	return b.reply(ctx, chatID, msgLinked(user))
}

func (b *Bridge) disconnect(ctx context.Context, chatID int64, credential string) error {
	if err := b.store.ClearPending(ctx, chatID); err != nil {
		return fmt.Errorf("clear pending: %w", err)
	}
	wasLinked, err := b.store.Unlink(ctx, credential)
	if err != nil {
		return fmt.Errorf("unlink: %w", err)
	}
	if !wasLinked {
		return b.reply(ctx, chatID, msgNotLinked)
	}
	b.log.Info("🔌 chat unlinked", logger.Int64("chat_id", chatID))
	return b.reply(ctx, chatID, msgDisconnected)
}

func (b *Bridge) skip(ctx context.Context, chatID int64, credential string) error {
	pending, ok, err := b.store.GetPending(ctx, chatID)
	if err != nil {
		return fmt.Errorf("get pending: %w", err)
	}
	if !ok {
		return b.reply(ctx, chatID, msgNothingToSkip)
	}
	return b.savePending(ctx, chatID, credential, pending, nil)
}

// receiveURL either parks the link until tags arrive or, without a durable
// store, saves it straight away.
func (b *Bridge) receiveURL(ctx context.Context, chatID int64, credential, rawURL string) error {
	pending := domain.PendingBookmark{
		URL:         rawURL,
		Description: b.titles.Title(ctx, rawURL),
		CreatedAt:   b.now(),
	}

	if !b.store.Durable() {
		return b.save(ctx, chatID, credential, pending, nil)
	}

	_, replaced, err := b.store.GetPending(ctx, chatID)
	if err != nil {
		return fmt.Errorf("get pending: %w", err)
	}
	if err := b.store.SetPending(ctx, chatID, pending); err != nil {
		return fmt.Errorf("set pending: %w", err)
	}
	if replaced {
		return b.reply(ctx, chatID, msgReplaced(pending.Description))
	}
	return b.reply(ctx, chatID, msgAskForTags(pending.Description))
}

func (b *Bridge) savePending(ctx context.Context, chatID int64, credential string, p domain.PendingBookmark, tags []string) error {
	if err := b.save(ctx, chatID, credential, p, tags); err != nil {
		return err
	}
	if err := b.store.ClearPending(ctx, chatID); err != nil {
		return fmt.Errorf("clear pending: %w", err)
	}
	return nil
}

func (b *Bridge) save(ctx context.Context, chatID int64, credential string, p domain.PendingBookmark, tags []string) error {
	client, err := b.clients(credential)
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}

	title := p.Description
	if strings.TrimSpace(title) == "" {
		title = p.URL
	}

	_, err = client.AddBookmark(ctx, domain.AddParams{
		URL:         p.URL,
		Description: title,
		Tags:        tags,
	})
	switch {
	case err == nil:
		b.log.Info("💾 bookmark saved from chat",
			logger.Int64("chat_id", chatID),
			logger.String("url", p.URL),
			logger.Int("tags", len(tags)),
		)
		return b.reply(ctx, chatID, msgSaved(title, tags))
	case pinboard.IsAlreadyExists(err):
		return b.reply(ctx, chatID, msgAlreadySaved(title))
	case errors.Is(err, pinboard.ErrAuth):
		b.log.Warn("bridge: credential rejected", logger.Int64("chat_id", chatID))
		return b.reply(ctx, chatID, msgAuthRejected)
	default:
		return fmt.Errorf("save %s: %w", p.URL, err)
	}
}

func (b *Bridge) reply(ctx context.Context, chatID int64, text string) error {
	if err := b.sender.SendMessage(ctx, chatID, text); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

// parseCommand splits "/cmd@bot arg" into its lower-cased command and the
// remaining argument. Plain text yields an empty command.
func parseCommand(text string) (cmd, arg string) {
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	head, rest, _ := strings.Cut(text, " ")
	head, _, _ = strings.Cut(head, "@")
	return strings.ToLower(head), strings.TrimSpace(rest)
}
