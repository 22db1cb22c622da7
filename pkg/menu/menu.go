// Copyright 2020 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package menu draws the terminal windows used to pick a network and type
// its passphrase.
package menu

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
)

const (
	menuWidth    = 60
	menuHeight   = 12
	pageSize     = menuHeight - 2
	resultHeight = 20
	resultWidth  = 70
)

// ErrEscape is returned when the user leaves a window with <Escape>.
var ErrEscape = fmt.Errorf("escape pressed")

// Validator checks an input. It returns the accepted value, or a warning
// and false.
type Validator func(string) (string, string, bool)

// Entry is one line of a menu.
type Entry interface {
	Label() string
}

// Init takes over the terminal.
func Init() error {
	return ui.Init()
}

// Close gives the terminal back.
func Close() {
	ui.Close()
}

// Events returns the keyboard and mouse events of the terminal.
func Events() <-chan ui.Event {
	return ui.PollEvents()
}

// AlwaysValid accepts any input.
func AlwaysValid(input string) (string, string, bool) {
	return input, "", true
}

func newParagraph(text string, border bool, location, wid, ht int) *widgets.Paragraph {
	p := widgets.NewParagraph()
	p.Text = text
	p.Border = border
	p.SetRect(0, location, wid, location+ht)
	p.TextStyle.Fg = ui.ColorWhite
	return p
}

func readKey(uiEvents <-chan ui.Event) string {
	for {
		e := <-uiEvents
		if e.Type == ui.KeyboardEvent || e.Type == ui.MouseEvent {
			return e.ID
		}
	}
}

// printable reports whether k is a character rather than one of termui's
// "<Name>" special keys.
func printable(k string) bool {
	return k != "" && !strings.HasPrefix(k, "<")
}

// processInput reads a line into an input box until isValid accepts it.
// A secret input is echoed as asterisks.
func processInput(introwords string, location, wid, ht int, secret bool, isValid Validator, uiEvents <-chan ui.Event) (string, string, error) {
	intro := newParagraph(introwords, false, location, len(introwords)+4, 3)
	location += 2
	input := newParagraph("", true, location, wid, ht+2)
	location += ht + 2
	warning := newParagraph("", false, location, wid, 15)
	ui.Render(intro, input, warning)

	var text string
	show := func() {
		input.Text = text
		if secret {
			input.Text = strings.Repeat("*", len(text))
		}
		ui.Render(input)
	}
	for {
		switch k := readKey(uiEvents); k {
		case "<C-d>":
			return text, warning.Text, io.EOF
		case "<Escape>":
			return "", "", ErrEscape
		case "<Enter>":
			v, warn, ok := isValid(text)
			if ok {
				return v, warning.Text, nil
			}
			text = ""
			warning.Text = warn
			show()
			ui.Render(warning)
		case "<Backspace>":
			if len(text) > 0 {
				text = text[:len(text)-1]
				show()
			}
		case "<Space>":
			text += " "
			show()
		default:
			if printable(k) {
				text += k
				show()
			}
		}
	}
}

// NewInputWindow asks for one line of input.
func NewInputWindow(introwords string, isValid Validator, uiEvents <-chan ui.Event) (string, error) {
	defer ui.Clear()
	input, _, err := processInput(introwords, 0, 80, 1, false, isValid, uiEvents)
	return input, err
}

// NewSecretWindow asks for one line of input without showing it.
func NewSecretWindow(introwords string, isValid Validator, uiEvents <-chan ui.Event) (string, error) {
	defer ui.Clear()
	input, _, err := processInput(introwords, 0, 80, 1, true, isValid, uiEvents)
	return input, err
}

// DisplayResult shows message one page at a time, wrapping long lines. It
// returns the text of the last page shown.
func DisplayResult(message []string, uiEvents <-chan ui.Event) (string, error) {
	defer ui.Clear()

	var text []string
	for _, m := range message {
		for len(m) > resultWidth {
			text = append(text, m[:resultWidth])
			m = m[resultWidth:]
		}
		text = append(text, m)
	}

	p := widgets.NewParagraph()
	p.Border = true
	p.SetRect(0, 0, resultWidth+2, resultHeight+3)
	p.TextStyle.Fg = ui.ColorWhite

	const hint = "(Press any key to continue, press <Esc> to exit.)"
	for line := 0; line < len(text); line += resultHeight {
		p.Title = fmt.Sprintf("Message---%v/%v", line, len(text))
		p.Text = strings.Join(text[line:min(len(text), line+resultHeight)], "\n") + "\n" + hint
		ui.Render(p)
		switch readKey(uiEvents) {
		case "<C-d>":
			return p.Text, io.EOF
		case "<Escape>":
			return p.Text, nil
		}
	}
	return p.Text, nil
}

// pager is the window of labels shown in a menu.
type pager struct {
	list        *widgets.List
	title       string
	labels      []string
	first, last int
}

func (p *pager) show(first int) {
	p.first = max(0, min(first, len(p.labels)-pageSize))
	p.last = min(p.first+pageSize, len(p.labels))
	p.list.Rows = p.labels[p.first:p.last]
	p.list.Title = fmt.Sprintf("%s---%v/%v", p.title, p.first, len(p.labels))
	ui.Render(p.list)
}

// choose reads the number of an entry on the current page. Entries with a
// warning cannot be chosen; the warning is shown instead.
func (p *pager) choose(input, warning *widgets.Paragraph, uiEvents <-chan ui.Event, warnings []string) (int, error) {
	p.show(0)
	for {
		switch k := readKey(uiEvents); k {
		case "<C-d>":
			return 0, io.EOF
		case "<Escape>":
			return 0, ErrEscape
		case "<Enter>":
			c, err := strconv.Atoi(input.Text)
			input.Text = ""
			ui.Render(input)
			if err != nil || c < p.first || c >= p.last {
				warning.Text = "Please enter a valid entry number."
				ui.Render(warning)
				continue
			}
			if c < len(warnings) && warnings[c] != "" {
				warning.Text = warnings[c]
				ui.Render(warning)
				continue
			}
			return c, nil
		case "<Backspace>":
			if len(input.Text) > 0 {
				input.Text = input.Text[:len(input.Text)-1]
				ui.Render(input)
			}
		case "<Left>", "<PageUp>":
			p.show(p.first - pageSize)
		case "<Right>", "<PageDown>":
			if p.first+pageSize < len(p.labels) {
				p.first += pageSize
				p.last = min(p.first+pageSize, len(p.labels))
				p.list.Rows = p.labels[p.first:p.last]
				p.list.Title = fmt.Sprintf("%s---%v/%v", p.title, p.first, len(p.labels))
				ui.Render(p.list)
			}
		case "<Up>", "<MouseWheelUp>":
			p.show(p.first - 1)
		case "<Down>", "<MouseWheelDown>":
			p.show(p.first + 1)
		case "<Home>":
			p.show(0)
		case "<End>":
			p.show(len(p.labels))
		default:
			if printable(k) {
				input.Text += k
				ui.Render(input)
			}
		}
	}
}

// DisplayMenu shows entries with their numbers and returns the one the user
// types. warnings[i], when set, is shown instead of accepting entry i.
func DisplayMenu(title, introwords string, entries []Entry, uiEvents <-chan ui.Event, warnings ...string) (Entry, error) {
	defer ui.Clear()
	if len(entries) == 0 {
		return nil, fmt.Errorf("no entries in menu %q", title)
	}

	labels := make([]string, len(entries))
	for i, e := range entries {
		labels[i] = fmt.Sprintf("[%d] %s", i, e.Label())
	}

	location := 0
	list := widgets.NewList()
	list.SetRect(0, location, menuWidth, location+menuHeight)
	list.TextStyle.Fg = ui.ColorWhite
	location += menuHeight

	intro := newParagraph(introwords, false, location, len(introwords)+4, 3)
	location += 2
	input := newParagraph("", true, location, menuWidth, 3)
	location += 3
	warning := newParagraph("", false, location, menuWidth, 3)
	ui.Render(intro, input, warning)

	p := &pager{list: list, title: title, labels: labels}
	i, err := p.choose(input, warning, uiEvents, warnings)
	if err != nil {
		return nil, err
	}
	return entries[i], nil
}

// Progress is a window shown while a slow operation runs.
type Progress struct {
	paragraph *widgets.Paragraph
	text      string

	mu   sync.Mutex
	done chan struct{}
	wg   sync.WaitGroup
}

// NewProgress shows text. An animated window adds dots every second.
func NewProgress(text string, animated bool) *Progress {
	p := &Progress{
		paragraph: widgets.NewParagraph(),
		text:      text,
		done:      make(chan struct{}),
	}
	p.paragraph.Border = true
	p.paragraph.SetRect(0, 0, resultWidth, 10)
	p.paragraph.TextStyle.Fg = ui.ColorWhite
	p.paragraph.Title = "Operation Running"
	p.Update(text)
	if animated {
		p.wg.Add(1)
		go p.animate()
	}
	return p
}

// Update replaces the text of the window.
func (p *Progress) Update(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.text = text
	p.paragraph.Text = text
	ui.Render(p.paragraph)
}

func (p *Progress) animate() {
	defer p.wg.Done()
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for n := 1; ; n++ {
		select {
		case <-p.done:
			return
		case <-t.C:
			p.mu.Lock()
			p.paragraph.Text = p.text + strings.Repeat(".", n%4)
			ui.Render(p.paragraph)
			p.mu.Unlock()
		}
	}
}

// Close stops the animation and clears the window.
func (p *Progress) Close() {
	close(p.done)
	p.wg.Wait()
	ui.Clear()
}
