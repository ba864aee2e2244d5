package bot

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// maxDownloadBytes matches the Bot API's file download ceiling.
const maxDownloadBytes = 20 << 20

// TelegramFiles downloads files referenced by update file ids.
type TelegramFiles struct {
	API        *tgbotapi.BotAPI
	HTTPClient *http.Client
}

func (f TelegramFiles) Download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := f.API.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file %s: %w", fileID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	client := f.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file %s: %w", fileID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file %s: status=%d", fileID, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", fileID, err)
	}
	if len(data) > maxDownloadBytes {
		return nil, fmt.Errorf("file %s exceeds %d bytes", fileID, maxDownloadBytes)
	}
	return data, nil
}

// Poller long-polls Telegram and feeds updates to a Handler. Session
// transitions run in arrival order; renders run on at most MaxRenders
// goroutines.
type Poller struct {
	API        *tgbotapi.BotAPI
	Handler    *Handler
	Logger     *log.Logger
	Timeout    int
	MaxRenders int
}

func (p *Poller) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = p.Timeout
	updates := p.API.GetUpdatesChan(cfg)
	p.Logger.Printf("polling updates as @%s", p.API.Self.UserName)

	sem := make(chan struct{}, max(1, p.MaxRenders))
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			p.API.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("update channel closed")
			}

			render := p.Handler.Route(ctx, update)
			if render == nil {
				continue
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				p.API.StopReceivingUpdates()
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				renderCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
				defer cancel()
				render(renderCtx)
			}()
		}
	}
}
