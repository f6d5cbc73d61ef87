package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/DINO060/RENAMBOT/internal/channel"
)

var getFileForTest func(bot *tgbotapi.BotAPI, fileID string) (tgbotapi.File, error)

var downloadClient = &http.Client{}

// DownloadToPath saves the file behind handle to destPath. A self-hosted Bot
// API server running with --local reports absolute paths, which are copied
// straight from disk.
func (a *TelegramAdapter) DownloadToPath(ctx context.Context, file channel.FileHandle, destPath string, onProgress channel.ProgressFunc) (string, error) {
	if strings.TrimSpace(file.ID) == "" {
		return "", fmt.Errorf("telegram file id is required")
	}
	bot, err := a.getOrCreateBot()
	if err != nil {
		return "", err
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return "", err
	}
	var info tgbotapi.File
	if getFileForTest != nil {
		info, err = getFileForTest(bot, file.ID)
	} else {
		info, err = bot.GetFile(tgbotapi.FileConfig{FileID: file.ID})
	}
	if err != nil {
		return "", fmt.Errorf("resolve telegram file: %w", toChannelError(err))
	}
	total := int64(info.FileSize)
	if filepath.IsAbs(info.FilePath) {
		if _, statErr := os.Stat(info.FilePath); statErr == nil {
			return destPath, copyLocalFile(info.FilePath, destPath, total, onProgress)
		}
	}
	url := fmt.Sprintf(resolveFileEndpoint(a.cfg.APIEndpoint), bot.Token, strings.TrimLeft(info.FilePath, "/"))
	if err := downloadURL(ctx, url, destPath, total, onProgress); err != nil {
		a.logger.Warn("download failed", slog.String("file_id", file.ID), slog.Any("error", err))
		return "", err
	}
	return destPath, nil
}

func downloadURL(ctx context.Context, url, destPath string, total int64, onProgress channel.ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}
	resp, err := downloadClient.Do(req)
	if err != nil {
		return fmt.Errorf("download file: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode == http.StatusTooManyRequests {
		return &channel.RateLimitError{RetryAfter: parseRetryAfterHeader(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("download file status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if total <= 0 && resp.ContentLength > 0 {
		total = resp.ContentLength
	}
	return writeWithProgress(resp.Body, destPath, total, onProgress)
}

func copyLocalFile(src, destPath string, total int64, onProgress channel.ProgressFunc) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer f.Close()
	if total <= 0 {
		if st, statErr := f.Stat(); statErr == nil {
			total = st.Size()
		}
	}
	return writeWithProgress(f, destPath, total, onProgress)
}

func writeWithProgress(r io.Reader, destPath string, total int64, onProgress channel.ProgressFunc) error {
	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	if _, err := io.Copy(out, &progressReader{r: r, total: total, onProgress: onProgress}); err != nil {
		_ = out.Close()
		return fmt.Errorf("write destination: %w", err)
	}
	return out.Close()
}

// UploadFile sends a local file back to the chat. Videos go out as video
// messages when AsVideo is set, everything else as a document.
func (a *TelegramAdapter) UploadFile(ctx context.Context, chatID int64, req channel.UploadRequest, onProgress channel.ProgressFunc) error {
	f, err := os.Open(req.Path)
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat upload: %w", err)
	}
	name := strings.TrimSpace(req.Filename)
	if name == "" {
		name = filepath.Base(req.Path)
	}
	file := tgbotapi.FileReader{
		Name:   name,
		Reader: &progressReader{r: f, total: st.Size(), onProgress: onProgress},
	}
	caption := truncateCaption(req.Caption)
	var thumb tgbotapi.RequestFileData
	if req.ThumbnailPath != "" {
		thumb = tgbotapi.FilePath(req.ThumbnailPath)
	}

	var c tgbotapi.Chattable
	if req.Attributes.AsVideo {
		video := tgbotapi.NewVideo(chatID, file)
		video.Caption = caption
		video.ParseMode = tgbotapi.ModeHTML
		video.Duration = req.Attributes.DurationS
		video.SupportsStreaming = req.Attributes.SupportsStreaming
		video.Thumb = thumb
		c = video
	} else {
		document := tgbotapi.NewDocument(chatID, file)
		document.Caption = caption
		document.ParseMode = tgbotapi.ModeHTML
		document.Thumb = thumb
		c = document
	}
	if _, err := a.send(ctx, c); err != nil {
		a.logger.Warn("upload failed", slog.Int64("chat_id", chatID), slog.String("filename", name), slog.Any("error", err))
		return err
	}
	return nil
}

// progressReader reports cumulative bytes to onProgress as they are read.
type progressReader struct {
	r          io.Reader
	total      int64
	done       int64
	onProgress channel.ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.done += int64(n)
		if p.onProgress != nil {
			p.onProgress(p.done, p.total)
		}
	}
	return n, err
}

func parseRetryAfterHeader(raw string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || secs <= 0 {
		return time.Second
	}
	return time.Duration(secs) * time.Second
}
