package formatter

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mixelka/mailcore/internal/eml"
	"github.com/mixelka/mailcore/internal/service"
)

// HTMLRenderer turns an HTML body into plain text
type HTMLRenderer interface {
	Parse(html string) (string, error)
}

// TelegramFormatter formats emails for Telegram
type TelegramFormatter struct {
	maxLength int
	html      HTMLRenderer
}

// NewTelegramFormatter creates a new Telegram formatter
func NewTelegramFormatter(html HTMLRenderer) *TelegramFormatter {
	return &TelegramFormatter{
		maxLength: 4000, // Leave room for markup
		html:      html,
	}
}

// FormatHeader formats the header block of a message
func (f *TelegramFormatter) FormatHeader(meta *eml.Meta) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("<b>От:</b> %s\n", f.escapeHTML(eml.FormatMailboxes(meta.From))))
	if len(meta.To) > 0 {
		sb.WriteString(fmt.Sprintf("<b>Кому:</b> %s\n", f.escapeHTML(eml.FormatAddrList(meta.To))))
	}
	if len(meta.Cc) > 0 {
		sb.WriteString(fmt.Sprintf("<b>Копия:</b> %s\n", f.escapeHTML(eml.FormatAddrList(meta.Cc))))
	}
	sb.WriteString(fmt.Sprintf("<b>Тема:</b> %s\n", f.escapeHTML(subjectOf(meta))))
	sb.WriteString(fmt.Sprintf("<b>Дата:</b> %s\n", formatDate(meta.Timestamp)))
	if len(meta.Tags) > 0 {
		sb.WriteString(fmt.Sprintf("<b>Теги:</b> %s\n", f.escapeHTML(strings.Join(meta.Tags, ", "))))
	}
	sb.WriteString(fmt.Sprintf("<code>%s</code>\n", f.escapeHTML(meta.ID)))

	return sb.String()
}

// FormatMessage formats a message with its text for Telegram
func (f *TelegramFormatter) FormatMessage(meta *eml.Meta, body *eml.Body) string {
	var sb strings.Builder

	sb.WriteString(f.FormatHeader(meta))
	sb.WriteString("\n")

	if atts := body.Attachments(); len(atts) > 0 {
		sb.WriteString("<b>Вложения:</b>\n")
		for _, a := range atts {
			name := a.Mimetype
			if a.Filename != nil {
				name = *a.Filename
			}
			sb.WriteString(fmt.Sprintf("- %s\n", f.escapeHTML(name)))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("<b>Сообщение:</b>\n")
	full := f.BodyText(body)
	text := f.truncate(full, f.maxLength-sb.Len()-50)
	sb.WriteString(f.escapeHTML(text))
	if text != full {
		sb.WriteString("\n\n<i>... (сообщение обрезано)</i>")
	}

	return sb.String()
}

// FormatList formats a search result listing. Messages that could not be
// read are listed with the reason.
func (f *TelegramFormatter) FormatList(results []service.MetaResult) string {
	if len(results) == 0 {
		return "Ничего не найдено"
	}

	var sb strings.Builder
	for i, r := range results {
		if r.Err != nil {
			sb.WriteString(fmt.Sprintf("%d. <i>не удалось прочитать</i> <code>%s</code>: %s\n",
				i+1, f.escapeHTML(r.Err.ID), f.escapeHTML(r.Err.Error())))
			continue
		}

		meta := r.Meta
		marker := ""
		if slices.Contains(meta.Tags, "unread") {
			marker = "• "
		}
		sb.WriteString(fmt.Sprintf("%d. %s<b>%s</b>\n    %s, %s\n    <code>%s</code>\n",
			i+1,
			marker,
			f.escapeHTML(subjectOf(meta)),
			f.escapeHTML(eml.FormatMailboxes(meta.From)),
			formatDate(meta.Timestamp),
			f.escapeHTML(meta.ID)))
	}
	return f.truncate(sb.String(), f.maxLength)
}

// FormatReply formats a reply template preview
func (f *TelegramFormatter) FormatReply(tmpl *eml.ReplyTemplate) string {
	var sb strings.Builder

	sb.WriteString("<b>Ответ</b>\n")
	sb.WriteString(fmt.Sprintf("<b>От:</b> %s\n", f.escapeHTML(eml.FormatMailboxes(tmpl.Meta.From))))
	sb.WriteString(fmt.Sprintf("<b>Кому:</b> %s\n", f.escapeHTML(eml.FormatAddrList(tmpl.Meta.To))))
	sb.WriteString(fmt.Sprintf("<b>Тема:</b> %s\n\n", f.escapeHTML(subjectOf(&tmpl.Meta))))
	sb.WriteString(fmt.Sprintf("<pre>%s</pre>", f.escapeHTML(f.truncate(strings.TrimSpace(tmpl.Body), f.maxLength-sb.Len()-50))))

	return sb.String()
}

// FormatTags formats the tag listing
func (f *TelegramFormatter) FormatTags(tags []string) string {
	if len(tags) == 0 {
		return "Тегов нет"
	}
	var sb strings.Builder
	sb.WriteString("<b>Теги:</b>\n")
	for _, t := range tags {
		sb.WriteString(fmt.Sprintf("<code>%s</code>\n", f.escapeHTML(t)))
	}
	return sb.String()
}

// BodyText picks the text shown for a body: the plain text part, else
// the HTML part rendered as text.
func (f *TelegramFormatter) BodyText(body *eml.Body) string {
	if text, ok := eml.Plaintext(body); ok {
		return strings.TrimSpace(text)
	}

	candidates := append(slices.Clone(body.Alternatives), body)
	for _, c := range candidates {
		if c.Mimetype != "text/html" || f.html == nil {
			continue
		}
		text, err := f.html.Parse(c.Content)
		if err == nil {
			return text
		}
	}
	return "[без текста]"
}

// escapeHTML escapes HTML special characters for Telegram
func (f *TelegramFormatter) escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// truncate truncates text to maxLen characters
func (f *TelegramFormatter) truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = 100
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}

func subjectOf(meta *eml.Meta) string {
	if meta.Subject == nil || *meta.Subject == "" {
		return "(без темы)"
	}
	return *meta.Subject
}

func formatDate(ts int64) string {
	return time.Unix(ts, 0).UTC().Format("02.01.2006 15:04")
}
