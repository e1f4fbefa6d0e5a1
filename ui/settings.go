package ui

import (
	"fmt"
	"strconv"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"deskchat/db"
	"deskchat/llm"
	"deskchat/utils"
)

// SettingsView edits the API credentials, appearance and database upkeep
type SettingsView struct {
	app *App

	apiKey      *widget.Entry
	modelSelect *widget.Select
	keyStatus   *widget.Label

	themeSelect *widget.Select
	fontSelect  *widget.Select

	statsLabel *widget.Label
}

// NewSettingsView creates the settings tab
func NewSettingsView(app *App) *SettingsView {
	return &SettingsView{app: app}
}

// Build builds the settings tab UI
func (sv *SettingsView) Build() fyne.CanvasObject {
	tabs := container.NewAppTabs(
		container.NewTabItem("API", sv.buildAPITab()),
		container.NewTabItem("Appearance", sv.buildAppearanceTab()),
		container.NewTabItem("Data", sv.buildDataTab()),
	)
	sv.Reload()
	return tabs
}

func (sv *SettingsView) buildAPITab() fyne.CanvasObject {
	sv.apiKey = widget.NewPasswordEntry()
	sv.apiKey.SetPlaceHolder(db.APIKeyPrefix + "...")
	sv.modelSelect = widget.NewSelect(llm.ModelNames(), nil)
	sv.keyStatus = widget.NewLabel("")
	sv.keyStatus.Wrapping = fyne.TextWrapWord

	saveBtn := widget.NewButtonWithIcon("Save", theme.DocumentSaveIcon(), sv.saveAPISettings)
	saveBtn.Importance = widget.HighImportance

	form := widget.NewForm(
		widget.NewFormItem("API key", sv.apiKey),
		widget.NewFormItem("Model", sv.modelSelect),
	)
	return container.NewVBox(form, container.NewHBox(saveBtn), sv.keyStatus)
}

func (sv *SettingsView) saveAPISettings() {
	settings := db.Settings{
		APIKey: sv.apiKey.Text,
		Model:  llm.Model(sv.modelSelect.Selected),
	}
	if err := sv.app.db.SaveSettings(sv.app.ctx, settings); err != nil {
		sv.app.showError("save settings", err)
		return
	}
	sv.app.logger.Info().Str("model", string(settings.Model)).Msg("settings saved")
	sv.keyStatus.SetText("Settings saved.")
}

func (sv *SettingsView) buildAppearanceTab() fyne.CanvasObject {
	sv.themeSelect = widget.NewSelect([]string{themeLight, themeDark}, nil)
	sv.themeSelect.SetSelected(sv.app.config.UI.Theme)

	sizes := make([]string, 0, maxFontSize-minFontSize+1)
	for s := minFontSize; s <= maxFontSize; s++ {
		sizes = append(sizes, strconv.Itoa(s))
	}
	sv.fontSelect = widget.NewSelect(sizes, nil)
	sv.fontSelect.SetSelected(strconv.Itoa(sv.app.config.UI.FontSize))

	applyBtn := widget.NewButtonWithIcon("Apply", theme.ConfirmIcon(), func() {
		sv.app.config.UI.Theme = sv.themeSelect.Selected
		if n, err := strconv.Atoi(sv.fontSelect.Selected); err == nil {
			sv.app.config.UI.FontSize = n
		}
		sv.app.applyTheme()
		if err := utils.SaveConfig(sv.app.configPath, sv.app.config); err != nil {
			sv.app.showError("save config", err)
			return
		}
		sv.app.logger.Info().Str("theme", sv.app.config.UI.Theme).Int("font_size", sv.app.config.UI.FontSize).Msg("appearance updated")
	})

	form := widget.NewForm(
		widget.NewFormItem("Theme", sv.themeSelect),
		widget.NewFormItem("Font size", sv.fontSelect),
	)
	return container.NewVBox(form, container.NewHBox(applyBtn))
}

func (sv *SettingsView) buildDataTab() fyne.CanvasObject {
	sv.statsLabel = widget.NewLabel("")

	paths := widget.NewForm(
		widget.NewFormItem("Database", newSelectableText(sv.app.config.Data.DBPath)),
		widget.NewFormItem("Config", newSelectableText(sv.app.configPath)),
		widget.NewFormItem("Logs", newSelectableText(sv.app.config.Log.Dir)),
	)

	refreshBtn := widget.NewButtonWithIcon("Refresh", theme.ViewRefreshIcon(), sv.updateStats)
	vacuumBtn := widget.NewButtonWithIcon("Optimize database", theme.StorageIcon(), sv.vacuum)

	return container.NewVBox(
		paths,
		widget.NewSeparator(),
		sv.statsLabel,
		container.NewHBox(refreshBtn, vacuumBtn),
	)
}

// Reload shows the stored settings and current statistics
func (sv *SettingsView) Reload() {
	settings, err := sv.app.db.GetSettings(sv.app.ctx)
	if err != nil {
		sv.app.showError("load settings", err)
		return
	}
	sv.apiKey.SetText(settings.APIKey)
	sv.modelSelect.SetSelected(string(settings.Model))
	if settings.APIKey == "" {
		sv.keyStatus.SetText("No API key saved yet. Chats and presets need one to run.")
	} else {
		sv.keyStatus.SetText("")
	}
	sv.updateStats()
}

func (sv *SettingsView) updateStats() {
	stats, err := sv.app.db.GetStats(sv.app.ctx)
	if err != nil {
		sv.app.logger.Error().Err(err).Msg("failed to get database stats")
		sv.statsLabel.SetText("Statistics unavailable")
		return
	}
	sv.statsLabel.SetText(fmt.Sprintf(
		"Chats: %d\nMessages: %d\nPresets: %d\nDatabase size: %s",
		stats.ChatCount,
		stats.MessageCount,
		stats.PresetCount,
		utils.FormatFileSize(stats.DBSizeBytes),
	))
}

func (sv *SettingsView) vacuum() {
	if err := sv.app.db.Vacuum(sv.app.ctx); err != nil {
		sv.app.showError("vacuum database", err)
		return
	}
	sv.app.logger.Info().Msg("database vacuumed")
	sv.updateStats()
	sv.app.showInfo("Database optimized.")
}
