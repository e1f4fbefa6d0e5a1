package ui

import (
	"context"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"deskchat/apperr"
	"deskchat/assistant"
	"deskchat/db"
	"deskchat/utils"
)

const appID = "io.deskchat.app"

// App represents the main application
type App struct {
	fyneApp    fyne.App
	window     fyne.Window
	config     *utils.Config
	configPath string
	db         *db.DB
	assistant  *assistant.Service
	logger     *utils.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// UI components
	sidebar      *ChatSidebar
	chatView     *ChatView
	presetView   *PresetView
	settingsView *SettingsView
	tabs         *container.AppTabs
}

// NewApp creates the application window and its views
func NewApp(config *utils.Config, configPath string, database *db.DB, svc *assistant.Service, logger *utils.Logger) *App {
	fyneApp := app.NewWithID(appID)
	window := fyneApp.NewWindow("deskchat")

	window.Resize(fyne.NewSize(
		float32(config.UI.WindowWidth),
		float32(config.UI.WindowHeight),
	))

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		fyneApp:    fyneApp,
		window:     window,
		config:     config,
		configPath: configPath,
		db:         database,
		assistant:  svc,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}

	window.SetOnClosed(func() {
		size := window.Canvas().Size()
		a.config.UI.WindowWidth = int(size.Width)
		a.config.UI.WindowHeight = int(size.Height)
		if err := utils.SaveConfig(a.configPath, a.config); err != nil {
			a.logger.Error().Err(err).Msg("failed to save window size")
		}
	})

	a.applyTheme()
	a.buildUI()
	return a
}

func (a *App) buildUI() {
	a.chatView = NewChatView(a)
	a.sidebar = NewChatSidebar(a)
	a.presetView = NewPresetView(a)
	a.settingsView = NewSettingsView(a)

	split := container.NewHSplit(a.sidebar, a.chatView.Build())
	split.SetOffset(0.25)

	a.tabs = container.NewAppTabs(
		container.NewTabItem("Chats", split),
		container.NewTabItem("Presets", a.presetView.Build()),
		container.NewTabItem("Settings", a.settingsView.Build()),
	)
	a.tabs.OnSelected = func(item *container.TabItem) {
		switch item.Text {
		case "Presets":
			a.presetView.Reload()
		case "Settings":
			a.settingsView.Reload()
		}
	}
	a.window.SetContent(a.tabs)
}

// Run shows the window and blocks until it is closed
func (a *App) Run() {
	a.logger.Info().Msg("window opened")
	a.window.ShowAndRun()
}

// Cleanup stops every running stream
func (a *App) Cleanup() {
	a.assistant.StopAll()
	a.cancel()
}

func (a *App) applyTheme() {
	a.fyneApp.Settings().SetTheme(newChatTheme(a.config.UI.Theme, a.config.UI.FontSize))
}

// currentSettings reads the stored API key and model
func (a *App) currentSettings() (db.Settings, bool) {
	settings, err := a.db.GetSettings(a.ctx)
	if err != nil {
		a.showError("load settings", err)
		return db.Settings{}, false
	}
	return settings, true
}

// showError logs err and tells the user what went wrong. Rule violations are
// shown as is; anything else gets a generic notice.
func (a *App) showError(op string, err error) {
	if apperr.IsValidation(err) || apperr.IsBusy(err) {
		a.logger.Warn().Err(err).Str("op", op).Msg("request rejected")
	} else {
		a.logger.Error().Err(err).Str("op", op).Msg("operation failed")
	}
	a.showMessage("Error", apperr.UserMessage(err))
}

func (a *App) showInfo(message string) {
	a.showMessage("Info", message)
}

func (a *App) showMessage(title, message string) {
	var popup *widget.PopUp
	text := widget.NewLabel(message)
	text.Wrapping = fyne.TextWrapWord
	popup = widget.NewModalPopUp(
		container.NewVBox(
			widget.NewLabelWithStyle(title, fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
			text,
			widget.NewButton("OK", func() {
				popup.Hide()
			}),
		),
		a.window.Canvas(),
	)
	popup.Resize(fyne.NewSize(360, popup.MinSize().Height))
	popup.Show()
}

// promptText asks for a single line of text
func (a *App) promptText(title, label, initial string, onSubmit func(string)) {
	entry := widget.NewEntry()
	entry.SetText(initial)
	items := []*widget.FormItem{widget.NewFormItem(label, entry)}
	d := dialog.NewForm(title, "Save", "Cancel", items, func(ok bool) {
		if ok {
			onSubmit(entry.Text)
		}
	}, a.window)
	d.Resize(fyne.NewSize(400, d.MinSize().Height))
	d.Show()
	a.window.Canvas().Focus(entry)
}
