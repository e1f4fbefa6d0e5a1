package ui

import (
	"fmt"
	"image/color"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"deskchat/llm"
	"deskchat/utils"
)

// attachmentChip shows one pending attachment with a remove button
func attachmentChip(app *App, att *llm.Attachment, onRemove func()) fyne.CanvasObject {
	var icon fyne.CanvasObject
	if att.IsImage() && len(att.Data) > 0 {
		img := canvas.NewImageFromResource(fyne.NewStaticResource(att.Filename, att.Data))
		img.FillMode = canvas.ImageFillContain
		img.SetMinSize(fyne.NewSize(48, 48))
		icon = img
	} else {
		icon = widget.NewIcon(theme.FileTextIcon())
	}

	info := widget.NewLabel(fmt.Sprintf("%s (%s)", att.Filename, utils.FormatFileSize(int64(len(att.Data)))))
	info.Truncation = fyne.TextTruncateEllipsis

	preview := widget.NewButtonWithIcon("", theme.VisibilityIcon(), func() {
		showAttachmentPreview(app, att)
	})
	preview.Importance = widget.LowImportance
	remove := widget.NewButtonWithIcon("", theme.DeleteIcon(), onRemove)
	remove.Importance = widget.LowImportance

	bg := canvas.NewRectangle(color.NRGBA{R: 200, G: 200, B: 200, A: 50})
	bg.CornerRadius = 5
	return container.NewStack(bg, container.NewBorder(nil, nil, icon, container.NewHBox(preview, remove), info))
}

// AttachmentArea holds the files picked for the next message
type AttachmentArea struct {
	widget.BaseWidget
	app         *App
	handler     *utils.FileUploadHandler
	attachments []*llm.Attachment
	list        *fyne.Container
}

// NewAttachmentArea creates an empty attachment area
func NewAttachmentArea(app *App) *AttachmentArea {
	a := &AttachmentArea{
		app:     app,
		handler: utils.NewFileUploadHandler(),
		list:    container.NewVBox(),
	}
	a.ExtendBaseWidget(a)
	return a
}

func (a *AttachmentArea) CreateRenderer() fyne.WidgetRenderer {
	return widget.NewSimpleRenderer(a.list)
}

// ShowPicker opens a file dialog limited to the supported extensions
func (a *AttachmentArea) ShowPicker() {
	d := dialog.NewFileOpen(func(r fyne.URIReadCloser, err error) {
		if err != nil {
			a.app.showError("open file", err)
			return
		}
		if r == nil {
			return
		}
		defer r.Close()

		att, err := a.handler.ProcessReader(r.URI().Name(), r)
		if err != nil {
			a.app.showError("attach file", err)
			return
		}
		a.app.logger.Debug().Str("file", att.Filename).Str("mime", att.MimeType).Int("bytes", len(att.Data)).Msg("file attached")
		a.add(att)
	}, a.app.window)
	d.SetFilter(storage.NewExtensionFileFilter(utils.ExtensionFilter()))
	d.Show()
}

func (a *AttachmentArea) add(att *llm.Attachment) {
	a.attachments = append(a.attachments, att)
	a.rebuild()
}

func (a *AttachmentArea) remove(index int) {
	if index < 0 || index >= len(a.attachments) {
		return
	}
	a.attachments = append(a.attachments[:index], a.attachments[index+1:]...)
	a.rebuild()
}

func (a *AttachmentArea) rebuild() {
	a.list.Objects = nil
	for i, att := range a.attachments {
		index := i
		a.list.Add(attachmentChip(a.app, att, func() { a.remove(index) }))
	}
	a.list.Refresh()
}

// Clear drops every pending attachment
func (a *AttachmentArea) Clear() {
	a.attachments = nil
	a.rebuild()
}

// Attachments returns the pending attachments
func (a *AttachmentArea) Attachments() []*llm.Attachment {
	return a.attachments
}

func showAttachmentPreview(app *App, att *llm.Attachment) {
	var content fyne.CanvasObject
	if att.IsImage() {
		img := canvas.NewImageFromResource(fyne.NewStaticResource(att.Filename, att.Data))
		img.FillMode = canvas.ImageFillContain
		img.SetMinSize(fyne.NewSize(600, 400))
		content = img
	} else {
		text := string(att.Data)
		if len(text) > 10000 {
			text = text[:10000] + "\n\n... (truncated)"
		}
		label := newSelectableText(text)
		scroll := container.NewScroll(label)
		scroll.SetMinSize(fyne.NewSize(600, 400))
		content = scroll
	}

	d := dialog.NewCustom("Preview: "+att.Filename, "Close", content, app.window)
	d.Resize(fyne.NewSize(700, 500))
	d.Show()
}
