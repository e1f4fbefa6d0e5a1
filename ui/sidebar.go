package ui

import (
	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"deskchat/db"
	"deskchat/utils"
)

// ChatItem is a clickable chat title with a context menu
type ChatItem struct {
	widget.BaseWidget
	app      *App
	chat     *db.Chat
	label    *widget.Label
	onTapped func()
}

// NewChatItem creates a sidebar entry for chat
func NewChatItem(app *App, chat *db.Chat, onTapped func()) *ChatItem {
	item := &ChatItem{
		app:      app,
		chat:     chat,
		label:    widget.NewLabel(chat.Title),
		onTapped: onTapped,
	}
	item.label.Truncation = fyne.TextTruncateEllipsis
	item.ExtendBaseWidget(item)
	return item
}

func (ci *ChatItem) CreateRenderer() fyne.WidgetRenderer {
	return widget.NewSimpleRenderer(container.NewStack(ci.label))
}

// Tapped handles left-click
func (ci *ChatItem) Tapped(_ *fyne.PointEvent) {
	if ci.onTapped != nil {
		ci.onTapped()
	}
}

// TappedSecondary handles right-click
func (ci *ChatItem) TappedSecondary(pe *fyne.PointEvent) {
	id := ci.chat.ID
	menu := fyne.NewMenu("",
		fyne.NewMenuItem("Rename", func() { ci.app.renameChat(id) }),
		fyne.NewMenuItem("Export as JSON", func() { ci.app.exportChat(id, utils.FormatJSON) }),
		fyne.NewMenuItem("Export as Markdown", func() { ci.app.exportChat(id, utils.FormatMarkdown) }),
		fyne.NewMenuItem("Delete", func() { ci.app.deleteChat(id) }),
	)
	widget.ShowPopUpMenuAtPosition(menu, ci.app.window.Canvas(), pe.AbsolutePosition)
}

// SetHighlighted marks the chat that is open
func (ci *ChatItem) SetHighlighted(highlighted bool) {
	ci.label.TextStyle = fyne.TextStyle{Bold: highlighted}
	ci.label.Refresh()
}

// ChatSidebar lists chats, most recently active first, filtered by the search box
type ChatSidebar struct {
	widget.BaseWidget
	app         *App
	items       []*ChatItem
	list        *fyne.Container
	searchEntry *widget.Entry
	query       string
}

// NewChatSidebar creates the sidebar and loads the chat list
func NewChatSidebar(app *App) *ChatSidebar {
	cs := &ChatSidebar{
		app:  app,
		list: container.NewVBox(),
	}

	cs.searchEntry = widget.NewEntry()
	cs.searchEntry.SetPlaceHolder("Search chats...")
	cs.searchEntry.OnChanged = func(text string) {
		cs.query = text
		cs.Reload()
	}

	cs.ExtendBaseWidget(cs)
	cs.Reload()
	return cs
}

func (cs *ChatSidebar) CreateRenderer() fyne.WidgetRenderer {
	newBtn := widget.NewButtonWithIcon("New chat", theme.ContentAddIcon(), func() {
		cs.app.newChat()
	})
	importBtn := widget.NewButtonWithIcon("", theme.FolderOpenIcon(), func() {
		cs.app.showImportDialog()
	})
	top := container.NewVBox(
		container.NewBorder(nil, nil, nil, importBtn, newBtn),
		cs.searchEntry,
	)
	return widget.NewSimpleRenderer(container.NewBorder(top, nil, nil, nil, container.NewVScroll(cs.list)))
}

// Reload rebuilds the list from the database
func (cs *ChatSidebar) Reload() {
	chats, err := cs.app.db.SearchChats(cs.app.ctx, cs.query, db.DefaultSearchLimit)
	if err != nil {
		cs.app.logger.Error().Err(err).Msg("failed to load chats")
		return
	}

	active := cs.app.chatView.ChatID()
	cs.items = cs.items[:0]
	cs.list.Objects = nil
	for _, chat := range chats {
		chat := chat
		item := NewChatItem(cs.app, chat, func() {
			cs.app.openChat(chat.ID)
		})
		if chat.ID == active {
			item.SetHighlighted(true)
		}
		cs.items = append(cs.items, item)
		cs.list.Add(item)
		cs.list.Add(widget.NewSeparator())
	}
	if len(chats) == 0 && cs.query != "" {
		cs.list.Add(widget.NewLabel("No matching chats"))
	}
	cs.list.Refresh()
}

func (cs *ChatSidebar) highlight(chatID int64) {
	for _, item := range cs.items {
		item.SetHighlighted(item.chat.ID == chatID)
	}
}

func (a *App) openChat(chatID int64) {
	a.chatView.SetChat(chatID)
	a.sidebar.highlight(chatID)
}

func (a *App) newChat() {
	chat, err := a.db.CreateChat(a.ctx, "")
	if err != nil {
		a.showError("create chat", err)
		return
	}
	a.logger.Info().Int64("chat_id", chat.ID).Msg("chat created")
	a.sidebar.Reload()
	a.openChat(chat.ID)
}

func (a *App) renameChat(chatID int64) {
	chat, err := a.db.GetChat(a.ctx, chatID)
	if err != nil {
		a.showError("load chat", err)
		return
	}
	a.promptText("Rename chat", "Title", chat.Title, func(title string) {
		if err := a.db.RenameChat(a.ctx, chatID, title); err != nil {
			a.showError("rename chat", err)
			return
		}
		a.sidebar.Reload()
	})
}

func (a *App) deleteChat(chatID int64) {
	dialog.ShowConfirm("Delete chat", "Delete this chat and all of its messages?", func(ok bool) {
		if !ok {
			return
		}
		a.assistant.Stop(chatID)
		if err := a.db.DeleteChat(a.ctx, chatID); err != nil {
			a.showError("delete chat", err)
			return
		}
		a.logger.Info().Int64("chat_id", chatID).Msg("chat deleted")
		if a.chatView.ChatID() == chatID {
			a.chatView.SetChat(0)
		}
		a.sidebar.Reload()
	}, a.window)
}

func (a *App) exportChat(chatID int64, format utils.ExportFormat) {
	chat, err := a.db.GetChat(a.ctx, chatID)
	if err != nil {
		a.showError("load chat", err)
		return
	}

	d := dialog.NewFileSave(func(w fyne.URIWriteCloser, err error) {
		if err != nil {
			a.showError("export chat", err)
			return
		}
		if w == nil {
			return
		}
		defer w.Close()

		write := utils.WriteChatJSON
		if format == utils.FormatMarkdown {
			write = utils.WriteChatMarkdown
		}
		if err := write(a.ctx, a.db, chatID, w); err != nil {
			a.showError("export chat", err)
			return
		}
		a.logger.Info().Int64("chat_id", chatID).Str("path", w.URI().Path()).Msg("chat exported")
		a.showInfo("Exported to " + w.URI().Path())
	}, a.window)

	d.SetFileName(utils.GenerateExportFilename(chat.Title, format))
	if dir, err := utils.GetDefaultExportPath(); err == nil {
		if lister, err := storage.ListerForURI(storage.NewFileURI(dir)); err == nil {
			d.SetLocation(lister)
		}
	}
	d.Show()
}

func (a *App) showImportDialog() {
	d := dialog.NewFileOpen(func(r fyne.URIReadCloser, err error) {
		if err != nil {
			a.showError("import chat", err)
			return
		}
		if r == nil {
			return
		}
		defer r.Close()

		chat, err := utils.ImportChat(a.ctx, a.db, r)
		if err != nil {
			a.showError("import chat", err)
			return
		}
		a.logger.Info().Int64("chat_id", chat.ID).Str("path", r.URI().Path()).Msg("chat imported")
		a.sidebar.Reload()
		a.openChat(chat.ID)
	}, a.window)
	d.SetFilter(storage.NewExtensionFileFilter([]string{".json"}))
	d.Show()
}
