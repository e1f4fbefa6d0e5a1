package ui

import (
	"fmt"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"deskchat/assistant"
	"deskchat/db"
	"deskchat/llm"
	"deskchat/utils"
)

// sendEntry is a multi-line entry that submits on Ctrl+Enter
type sendEntry struct {
	widget.Entry
	onSubmit func()
}

func newSendEntry(onSubmit func()) *sendEntry {
	e := &sendEntry{onSubmit: onSubmit}
	e.MultiLine = true
	e.Wrapping = fyne.TextWrapWord
	e.ExtendBaseWidget(e)
	return e
}

// TypedShortcut handles Ctrl+Enter
func (e *sendEntry) TypedShortcut(shortcut fyne.Shortcut) {
	if ks, ok := shortcut.(*desktop.CustomShortcut); ok {
		if (ks.KeyName == fyne.KeyReturn || ks.KeyName == fyne.KeyEnter) && ks.Modifier == fyne.KeyModifierControl {
			if e.onSubmit != nil {
				e.onSubmit()
				return
			}
		}
	}
	e.Entry.TypedShortcut(shortcut)
}

func newSelectableText(text string) *widget.Label {
	label := widget.NewLabel(text)
	label.Wrapping = fyne.TextWrapWord
	label.Selectable = true
	return label
}

func newMarkdownText(markdown string) *widget.RichText {
	rt := widget.NewRichTextFromMarkdown(markdown)
	rt.Wrapping = fyne.TextWrapWord
	return rt
}

// ChatView shows one chat and sends messages to it
type ChatView struct {
	app    *App
	chatID int64

	title       *widget.Label
	messages    *fyne.Container
	scroll      *container.Scroll
	input       *sendEntry
	attachments *AttachmentArea
	attachBtn   *widget.Button
	sendBtn     *widget.Button
	stopBtn     *widget.Button
}

// NewChatView creates an empty chat view
func NewChatView(app *App) *ChatView {
	return &ChatView{app: app}
}

// ChatID returns the open chat, 0 when none
func (cv *ChatView) ChatID() int64 {
	return cv.chatID
}

// Build builds the chat view UI
func (cv *ChatView) Build() fyne.CanvasObject {
	cv.title = widget.NewLabelWithStyle("", fyne.TextAlignLeading, fyne.TextStyle{Bold: true})
	cv.title.Truncation = fyne.TextTruncateEllipsis

	cv.messages = container.NewVBox()
	cv.scroll = container.NewVScroll(cv.messages)
	cv.scroll.SetMinSize(fyne.NewSize(500, 400))

	cv.attachments = NewAttachmentArea(cv.app)
	cv.input = newSendEntry(cv.send)
	cv.input.SetPlaceHolder("Type a message... (Ctrl+Enter to send)")
	cv.input.SetMinRowsVisible(3)

	cv.attachBtn = widget.NewButtonWithIcon("", theme.MailAttachmentIcon(), cv.attachments.ShowPicker)
	cv.sendBtn = widget.NewButtonWithIcon("Send", theme.MailSendIcon(), cv.send)
	cv.sendBtn.Importance = widget.HighImportance
	cv.stopBtn = widget.NewButtonWithIcon("Stop", theme.MediaStopIcon(), func() {
		cv.app.assistant.Stop(cv.chatID)
	})

	inputRow := container.NewBorder(
		cv.attachments, nil,
		cv.attachBtn,
		container.NewVBox(cv.sendBtn, cv.stopBtn),
		cv.input,
	)

	cv.SetChat(0)
	return container.NewBorder(cv.title, inputRow, nil, nil, cv.scroll)
}

// SetChat switches to chatID. Leaving a chat stops its running reply.
func (cv *ChatView) SetChat(chatID int64) {
	if cv.chatID != 0 && cv.chatID != chatID {
		cv.app.assistant.Stop(cv.chatID)
	}
	cv.chatID = chatID
	cv.attachments.Clear()
	cv.loadMessages()
}

func (cv *ChatView) loadMessages() {
	cv.messages.Objects = nil
	if cv.chatID == 0 {
		cv.title.SetText("")
		cv.messages.Add(widget.NewLabel("Select a chat or start a new one."))
		cv.messages.Refresh()
		cv.setStreaming(false)
		return
	}

	chat, err := cv.app.db.GetChat(cv.app.ctx, cv.chatID)
	if err != nil {
		cv.app.showError("load chat", err)
		cv.chatID = 0
		cv.loadMessages()
		return
	}
	cv.title.SetText(chat.Title)

	msgs, err := cv.app.db.GetMessages(cv.app.ctx, cv.chatID)
	if err != nil {
		cv.app.showError("load messages", err)
		return
	}
	for _, msg := range msgs {
		cv.messages.Add(cv.messageUI(msg))
	}
	cv.messages.Refresh()
	cv.scroll.ScrollToBottom()
	cv.setStreaming(cv.app.assistant.Busy(cv.chatID))
}

func (cv *ChatView) messageUI(msg *db.Message) fyne.CanvasObject {
	header := widget.NewLabelWithStyle(
		fmt.Sprintf("%s  %s", msg.Role.Label(), msg.CreatedAt.Local().Format("2006-01-02 15:04")),
		fyne.TextAlignLeading, fyne.TextStyle{Bold: true},
	)

	content := container.NewVBox()
	if msg.Image != nil {
		if img := cv.imageUI(msg); img != nil {
			content.Add(img)
		}
	}
	if msg.Content != "" {
		if msg.Role == llm.RoleAssistant {
			content.Add(newMarkdownText(msg.Content))
		} else {
			content.Add(newSelectableText(msg.Content))
		}
	}

	text := msg.Content
	copyBtn := widget.NewButtonWithIcon("", theme.ContentCopyIcon(), func() {
		cv.app.window.Clipboard().SetContent(text)
	})
	copyBtn.Importance = widget.LowImportance

	return container.NewVBox(
		container.NewBorder(nil, nil, nil, copyBtn, header),
		content,
		widget.NewSeparator(),
	)
}

func (cv *ChatView) imageUI(msg *db.Message) fyne.CanvasObject {
	data, err := msg.Image.Bytes()
	if err != nil {
		cv.app.logger.Warn().Err(err).Int64("message_id", msg.ID).Msg("stored image is unreadable")
		return widget.NewLabel("[image could not be displayed]")
	}
	img := canvas.NewImageFromResource(fyne.NewStaticResource(fmt.Sprintf("message-%d", msg.ID), data))
	img.FillMode = canvas.ImageFillContain
	img.SetMinSize(fyne.NewSize(320, 240))
	return img
}

func (cv *ChatView) setStreaming(streaming bool) {
	if streaming {
		cv.sendBtn.Disable()
		cv.attachBtn.Disable()
		cv.stopBtn.Enable()
		return
	}
	if cv.chatID == 0 {
		cv.sendBtn.Disable()
		cv.attachBtn.Disable()
	} else {
		cv.sendBtn.Enable()
		cv.attachBtn.Enable()
	}
	cv.stopBtn.Disable()
}

func (cv *ChatView) send() {
	chatID := cv.chatID
	if chatID == 0 {
		return
	}
	settings, ok := cv.app.currentSettings()
	if !ok {
		return
	}

	reply, err := cv.app.assistant.SendMessage(cv.app.ctx, settings, chatID, cv.input.Text, cv.attachments.Attachments())
	if err != nil {
		cv.app.showError("send message", err)
		return
	}

	cv.input.SetText("")
	cv.attachments.Clear()
	cv.loadMessages()
	cv.app.sidebar.Reload()
	cv.setStreaming(true)

	placeholder := newMarkdownText("*Thinking...*")
	cv.messages.Add(container.NewVBox(
		widget.NewLabelWithStyle(llm.RoleAssistant.Label(), fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		placeholder,
	))
	cv.messages.Refresh()
	cv.scroll.ScrollToBottom()

	cv.consume(chatID, reply, placeholder)
}

// consume renders the reply as it arrives and reloads the stored chat once it
// has finished.
func (cv *ChatView) consume(chatID int64, reply *assistant.Reply, target *widget.RichText) {
	log := cv.app.logger.With().Str("stream_id", reply.ID).Int64("chat_id", chatID).Logger()
	utils.SafeGo(log, "chat reply view", func() {
		var sb strings.Builder
		for chunk := range reply.Chunks {
			sb.WriteString(chunk)
			content := sb.String()
			fyne.Do(func() {
				if cv.chatID != chatID {
					return
				}
				target.ParseMarkdown(content)
				cv.scroll.ScrollToBottom()
			})
		}

		res := reply.Wait()
		fyne.Do(func() {
			if res.Err != nil {
				cv.app.showError("stream reply", res.Err)
			}
			if cv.chatID == chatID {
				cv.loadMessages()
			}
			cv.app.sidebar.Reload()
		})
	})
}
