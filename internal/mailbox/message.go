package mailbox

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"
)

// parser turns a raw RFC 5322 message into a Message.
type parser struct {
	// fallbackCharset decodes text parts that declare no charset.
	fallbackCharset string

	// attachmentsDir receives attachment content when non-empty.
	attachmentsDir string

	log *zap.Logger
}

func (p parser) parse(msg *Message, raw []byte) error {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// If parsing fails, treat the whole thing as plain text
		msg.TextBody = string(raw)
		return nil
	}
	defer mr.Close()

	index := 0
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, params, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			if params["charset"] == "" {
				body = p.decodeFallback(body)
			}

			switch {
			case strings.HasPrefix(contentType, "text/plain"):
				msg.TextBody = string(body)
			case strings.HasPrefix(contentType, "text/html"):
				msg.HTMLBody = string(body)
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()

			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}

			att := Attachment{
				Filename: filename,
				Size:     int64(len(body)),
				MIMEType: contentType,
			}
			if p.attachmentsDir != "" {
				path, err := p.save(msg.Envelope.UID, index, filename, body)
				if err != nil {
					return err
				}
				att.Path = path
			}
			index++
			msg.Attachments = append(msg.Attachments, att)
		}
	}

	return nil
}

func (p parser) decodeFallback(body []byte) []byte {
	cs := strings.ToLower(p.fallbackCharset)
	if cs == "" || cs == "utf-8" || cs == "utf8" || cs == "us-ascii" {
		return body
	}

	r, err := charset.Reader(p.fallbackCharset, bytes.NewReader(body))
	if err != nil {
		return body
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return body
	}
	return decoded
}

// save writes attachment content as <uid>_<index>_<name> with owner-only
// permissions.
func (p parser) save(uid uint32, index int, filename string, body []byte) (string, error) {
	name := fmt.Sprintf("%d_%d_%s", uid, index, sanitizeFilename(filename))
	path := filepath.Join(p.attachmentsDir, name)

	if err := os.WriteFile(path, body, 0o600); err != nil {
		return "", fmt.Errorf("saving attachment %s: %w", name, err)
	}

	if p.log != nil {
		p.log.Debug("Saved attachment",
			zap.String("path", path),
			zap.String("size", humanize.Bytes(uint64(len(body)))))
	}
	return path, nil
}

func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == 0x7f:
			return -1
		case strings.ContainsRune(`<>:"/\|?*`, r):
			return '_'
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "attachment"
	}
	return name
}
