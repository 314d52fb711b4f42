package handlers

import (
	"bufio"
	"errors"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hirpha/mini-chat-backend/internal/httpx"
	"github.com/hirpha/mini-chat-backend/internal/service"
)

type MediaHandler struct {
	avatarService *service.AvatarService
}

func NewMediaHandler(avatarService *service.AvatarService) *MediaHandler {
	return &MediaHandler{avatarService: avatarService}
}

func normalizeETag(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "W/")
	v = strings.Trim(v, "\"")
	return v
}

func (h *MediaHandler) GetAvatar(c *fiber.Ctx) error {
	keyParam := strings.TrimSpace(c.Params("*"))

	obj, st, err := h.avatarService.OpenAvatar(c.UserContext(), "avatars/"+keyParam)
	if err != nil {
		// Hide details.
		if errors.Is(err, service.ErrValidation) || errors.Is(err, service.ErrNotFound) {
			return httpx.NotFound(c, "not_found", "Not found")
		}
		log.Printf("[media] avatar get error key=%q err=%v", keyParam, err)
		return httpx.FromError(c, err)
	}

	etag := st.ETag
	if etag != "" {
		c.Set("ETag", "\""+etag+"\"")
		if inm := normalizeETag(c.Get("If-None-Match")); inm != "" && inm == normalizeETag(etag) {
			_ = obj.Close()
			return c.SendStatus(fiber.StatusNotModified)
		}
	}
	if !st.LastModified.IsZero() {
		c.Set("Last-Modified", st.LastModified.UTC().Format(time.RFC1123))
	}

	c.Set("Cache-Control", "private, max-age=31536000, immutable")
	if st.ContentType != "" {
		c.Type(st.ContentType)
	} else {
		c.Type("image/jpeg")
	}
	if st.Size > 0 {
		c.Set("Content-Length", strconv.FormatInt(st.Size, 10))
	}

	// Stream object while capturing any mid-stream errors.
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			_ = obj.Close()
		}()

		n, copyErr := io.Copy(w, obj)
		if copyErr != nil {
			log.Printf("[media] avatar stream error key=%q copied=%d err=%v", keyParam, n, copyErr)
			return
		}
		if err := w.Flush(); err != nil {
			log.Printf("[media] avatar stream flush error key=%q copied=%d err=%v", keyParam, n, err)
		}
	})
	return nil
}
