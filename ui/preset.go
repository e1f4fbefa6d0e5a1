package ui

import (
	"fmt"
	"sort"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"deskchat/assistant"
	"deskchat/db"
	"deskchat/utils"
)

// fieldRow is one editable field line in the preset editor
type fieldRow struct {
	name        *widget.Entry
	label       *widget.Entry
	placeholder *widget.Entry
	value       string
}

func (r *fieldRow) spec() db.FieldSpec {
	return db.FieldSpec{
		Name:        strings.TrimSpace(r.name.Text),
		Label:       strings.TrimSpace(r.label.Text),
		Placeholder: r.placeholder.Text,
		Value:       r.value,
	}
}

// PresetView lists presets and runs, edits and reviews the selected one
type PresetView struct {
	app     *App
	presets []*db.Preset
	list    *widget.List
	detail  *fyne.Container

	// run tab
	inputs  map[string]*widget.Entry
	output  *widget.RichText
	runBtn  *widget.Button
	stopBtn *widget.Button
}

// NewPresetView creates the presets tab
func NewPresetView(app *App) *PresetView {
	return &PresetView{app: app}
}

// Build builds the presets tab UI
func (pv *PresetView) Build() fyne.CanvasObject {
	pv.list = widget.NewList(
		func() int { return len(pv.presets) },
		func() fyne.CanvasObject {
			l := widget.NewLabel("")
			l.Truncation = fyne.TextTruncateEllipsis
			return l
		},
		func(id widget.ListItemID, o fyne.CanvasObject) {
			o.(*widget.Label).SetText(pv.presets[id].Name)
		},
	)
	pv.list.OnSelected = func(id widget.ListItemID) {
		pv.open(pv.presets[id].ID)
	}

	newBtn := widget.NewButtonWithIcon("New preset", theme.ContentAddIcon(), func() {
		pv.list.UnselectAll()
		pv.showEditor(&db.Preset{})
	})

	pv.detail = container.NewStack(widget.NewLabel("Select a preset or create a new one."))

	split := container.NewHSplit(
		container.NewBorder(newBtn, nil, nil, nil, pv.list),
		pv.detail,
	)
	split.SetOffset(0.25)

	pv.Reload()
	return split
}

// Reload refreshes the preset list
func (pv *PresetView) Reload() {
	presets, err := pv.app.db.ListPresets(pv.app.ctx)
	if err != nil {
		pv.app.showError("load presets", err)
		return
	}
	pv.presets = presets
	pv.list.Refresh()
}

func (pv *PresetView) setDetail(obj fyne.CanvasObject) {
	pv.detail.Objects = []fyne.CanvasObject{obj}
	pv.detail.Refresh()
}

func (pv *PresetView) open(presetID int64) {
	preset, err := pv.app.db.GetPreset(pv.app.ctx, presetID)
	if err != nil {
		pv.app.showError("load preset", err)
		pv.Reload()
		return
	}
	tabs := container.NewAppTabs(
		container.NewTabItem("Run", pv.runTab(preset)),
		container.NewTabItem("Edit", pv.editor(preset)),
		container.NewTabItem("History", pv.historyTab(preset)),
	)
	pv.setDetail(tabs)
}

func (pv *PresetView) showEditor(preset *db.Preset) {
	pv.setDetail(pv.editor(preset))
}

func (pv *PresetView) runTab(preset *db.Preset) fyne.CanvasObject {
	pv.inputs = make(map[string]*widget.Entry, len(preset.Fields))
	form := widget.NewForm()
	for _, f := range preset.Fields {
		entry := widget.NewMultiLineEntry()
		entry.Wrapping = fyne.TextWrapWord
		entry.SetMinRowsVisible(2)
		entry.SetPlaceHolder(f.Placeholder)
		entry.SetText(f.Value)
		pv.inputs[f.Name] = entry
		form.Append(f.DisplayLabel(), entry)
	}
	if len(preset.Fields) == 0 {
		form.Append("", widget.NewLabel("This preset has no fields; it runs with its system prompt only."))
	}

	pv.output = newMarkdownText("")
	id := preset.ID
	pv.runBtn = widget.NewButtonWithIcon("Run", theme.MediaPlayIcon(), func() { pv.run(id) })
	pv.runBtn.Importance = widget.HighImportance
	pv.stopBtn = widget.NewButtonWithIcon("Stop", theme.MediaStopIcon(), func() {
		pv.app.assistant.StopPreset(id)
	})
	clearBtn := widget.NewButtonWithIcon("Clear fields", theme.ContentClearIcon(), func() {
		if err := pv.app.db.ClearPresetFieldValues(pv.app.ctx, id); err != nil {
			pv.app.showError("clear fields", err)
			return
		}
		for _, e := range pv.inputs {
			e.SetText("")
		}
	})
	pv.setRunning(pv.app.assistant.PresetBusy(id))

	top := container.NewVBox(form, container.NewHBox(pv.runBtn, pv.stopBtn, clearBtn), widget.NewSeparator())
	return container.NewBorder(top, nil, nil, nil, container.NewVScroll(pv.output))
}

func (pv *PresetView) setRunning(running bool) {
	if running {
		pv.runBtn.Disable()
		pv.stopBtn.Enable()
	} else {
		pv.runBtn.Enable()
		pv.stopBtn.Disable()
	}
}

func (pv *PresetView) run(presetID int64) {
	settings, ok := pv.app.currentSettings()
	if !ok {
		return
	}
	values := make(map[string]string, len(pv.inputs))
	for name, e := range pv.inputs {
		values[name] = e.Text
	}

	reply, err := pv.app.assistant.RunPreset(pv.app.ctx, settings, presetID, values)
	if err != nil {
		pv.app.showError("run preset", err)
		return
	}
	pv.setRunning(true)
	pv.output.ParseMarkdown("*Thinking...*")
	pv.consume(presetID, reply, pv.output)
}

func (pv *PresetView) consume(presetID int64, reply *assistant.Reply, target *widget.RichText) {
	log := pv.app.logger.With().Str("stream_id", reply.ID).Int64("preset_id", presetID).Logger()
	utils.SafeGo(log, "preset reply view", func() {
		var sb strings.Builder
		for chunk := range reply.Chunks {
			sb.WriteString(chunk)
			content := sb.String()
			fyne.Do(func() {
				target.ParseMarkdown(content)
			})
		}

		res := reply.Wait()
		fyne.Do(func() {
			if pv.output == target {
				pv.setRunning(false)
			}
			switch {
			case res.Err != nil:
				pv.app.showError("preset reply", res.Err)
			case res.Cancelled:
				target.ParseMarkdown(res.Text + "\n\n*Stopped.*")
			}
		})
	})
}

func (pv *PresetView) editor(preset *db.Preset) fyne.CanvasObject {
	name := widget.NewEntry()
	name.SetText(preset.Name)
	name.SetPlaceHolder("Preset name")

	prompt := widget.NewMultiLineEntry()
	prompt.Wrapping = fyne.TextWrapWord
	prompt.SetMinRowsVisible(6)
	prompt.SetText(preset.SystemPrompt)
	prompt.SetPlaceHolder("System prompt; use {{field_name}} to insert a field value")

	var rows []*fieldRow
	rowsBox := container.NewVBox()
	var rebuild func()
	addRow := func(f db.PresetField) {
		r := &fieldRow{
			name:        widget.NewEntry(),
			label:       widget.NewEntry(),
			placeholder: widget.NewEntry(),
			value:       f.Value,
		}
		r.name.SetPlaceHolder("name")
		r.name.SetText(f.Name)
		r.label.SetPlaceHolder("label")
		r.label.SetText(f.Label)
		r.placeholder.SetPlaceHolder("placeholder")
		r.placeholder.SetText(f.Placeholder)
		rows = append(rows, r)
	}
	rebuild = func() {
		rowsBox.Objects = nil
		for i, r := range rows {
			index := i
			remove := widget.NewButtonWithIcon("", theme.DeleteIcon(), func() {
				rows = append(rows[:index], rows[index+1:]...)
				rebuild()
			})
			remove.Importance = widget.LowImportance
			rowsBox.Add(container.NewBorder(nil, nil, nil, remove,
				container.NewGridWithColumns(3, r.name, r.label, r.placeholder)))
		}
		rowsBox.Refresh()
	}
	for _, f := range preset.Fields {
		addRow(f)
	}
	rebuild()

	addBtn := widget.NewButtonWithIcon("Add field", theme.ContentAddIcon(), func() {
		addRow(db.PresetField{})
		rebuild()
	})

	saveBtn := widget.NewButtonWithIcon("Save", theme.DocumentSaveIcon(), func() {
		specs := make([]db.FieldSpec, 0, len(rows))
		for _, r := range rows {
			specs = append(specs, r.spec())
		}
		pv.save(preset.ID, name.Text, prompt.Text, specs)
	})
	saveBtn.Importance = widget.HighImportance

	buttons := container.NewHBox(saveBtn)
	if preset.ID != 0 {
		id := preset.ID
		buttons.Add(widget.NewButtonWithIcon("Delete", theme.DeleteIcon(), func() { pv.delete(id) }))
	}

	form := container.NewVBox(
		widget.NewForm(
			widget.NewFormItem("Name", name),
			widget.NewFormItem("System prompt", prompt),
		),
		widget.NewLabelWithStyle("Fields", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		rowsBox,
		addBtn,
		widget.NewSeparator(),
		buttons,
	)
	return container.NewVScroll(form)
}

func (pv *PresetView) save(id int64, name, prompt string, specs []db.FieldSpec) {
	var (
		saved *db.Preset
		err   error
	)
	if id == 0 {
		saved, err = pv.app.db.CreatePreset(pv.app.ctx, name, prompt, specs)
	} else {
		saved, err = pv.app.db.UpdatePreset(pv.app.ctx, id, name, prompt, specs)
	}
	if err != nil {
		pv.app.showError("save preset", err)
		return
	}
	pv.app.logger.Info().Int64("preset_id", saved.ID).Int("fields", len(saved.Fields)).Msg("preset saved")
	pv.Reload()
	pv.selectPreset(saved.ID)
}

func (pv *PresetView) selectPreset(presetID int64) {
	for i, p := range pv.presets {
		if p.ID == presetID {
			pv.list.UnselectAll()
			pv.list.Select(i)
			return
		}
	}
}

func (pv *PresetView) delete(presetID int64) {
	dialog.ShowConfirm("Delete preset", "Delete this preset and its run history?", func(ok bool) {
		if !ok {
			return
		}
		pv.app.assistant.StopPreset(presetID)
		if err := pv.app.db.DeletePreset(pv.app.ctx, presetID); err != nil {
			pv.app.showError("delete preset", err)
			return
		}
		pv.app.logger.Info().Int64("preset_id", presetID).Msg("preset deleted")
		pv.list.UnselectAll()
		pv.setDetail(widget.NewLabel("Select a preset or create a new one."))
		pv.Reload()
	}, pv.app.window)
}

func (pv *PresetView) historyTab(preset *db.Preset) fyne.CanvasObject {
	acc := widget.NewAccordion()
	box := container.NewVBox()

	id := preset.ID
	load := func() {
		runs, err := pv.app.db.ListPresetRuns(pv.app.ctx, id)
		if err != nil {
			pv.app.showError("load run history", err)
			return
		}
		acc.Items = nil
		// Newest first.
		for i := len(runs) - 1; i >= 0; i-- {
			run := runs[i]
			acc.Append(widget.NewAccordionItem(
				run.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				container.NewVBox(newSelectableText(formatRunValues(run.FieldValues)), newMarkdownText(run.Response)),
			))
		}
		acc.Refresh()
		box.Objects = nil
		if len(runs) == 0 {
			box.Add(widget.NewLabel("No runs yet."))
		}
		box.Refresh()
	}
	load()

	refresh := widget.NewButtonWithIcon("Refresh", theme.ViewRefreshIcon(), load)
	return container.NewBorder(container.NewHBox(refresh), nil, nil, nil, container.NewVScroll(container.NewVBox(box, acc)))
}

func formatRunValues(values map[string]string) string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		fmt.Fprintf(&sb, "%s: %s\n", name, values[name])
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
