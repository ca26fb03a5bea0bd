// Package browsertest provides a scripted in-memory browser.Page.
package browsertest

import (
	"context"
	"dropcarter/lib/browser"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

type Action struct {
	Kind     string
	Selector string
	Value    string
}

func (a Action) String() string {
	if a.Value == "" {
		return fmt.Sprintf("%s(%s)", a.Kind, a.Selector)
	}
	return fmt.Sprintf("%s(%s, %s)", a.Kind, a.Selector, a.Value)
}

// Page serves static html and lets a test script react to every action by
// swapping the current html.
type Page struct {
	lock    sync.Mutex
	html    string
	actions []Action

	// Routes maps navigated urls to the html shown afterwards.
	Routes map[string]string
	// OnAction runs after an action is recorded, with the page lock released.
	OnAction func(p *Page, a Action) error
	// Missing lists selectors that fail as if the element does not exist.
	Missing map[string]bool
	// Snapshot is returned by Screenshot.
	Snapshot []byte
}

var _ browser.Page = (*Page)(nil)

func New(html string) *Page {
	return &Page{html: html, Routes: map[string]string{}, Missing: map[string]bool{}}
}

func (p *Page) SetHTML(html string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.html = html
}

func (p *Page) HTML() string {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.html
}

// Actions returns a copy of every action performed so far.
func (p *Page) Actions() []Action {
	p.lock.Lock()
	defer p.lock.Unlock()
	return append([]Action(nil), p.actions...)
}

func (p *Page) record(ctx context.Context, a Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.lock.Lock()
	if p.Missing[a.Selector] {
		p.lock.Unlock()
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, a.Selector)
	}
	p.actions = append(p.actions, a)
	onAction := p.OnAction
	p.lock.Unlock()

	if onAction != nil {
		return onAction(p, a)
	}
	return nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	err := p.record(ctx, Action{Kind: "navigate", Value: url})
	if err != nil {
		return err
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	if html, ok := p.Routes[url]; ok {
		p.html = html
	}
	return nil
}

func (p *Page) Document(ctx context.Context) (*goquery.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(strings.NewReader(p.HTML()))
}

func (p *Page) Click(ctx context.Context, selector string) error {
	return p.record(ctx, Action{Kind: "click", Selector: selector})
}

func (p *Page) Submit(ctx context.Context, selector string) error {
	return p.record(ctx, Action{Kind: "submit", Selector: selector})
}

func (p *Page) SendKeys(ctx context.Context, selector, text string) error {
	return p.record(ctx, Action{Kind: "keys", Selector: selector, Value: text})
}

func (p *Page) SetValue(ctx context.Context, selector, value string) error {
	return p.record(ctx, Action{Kind: "value", Selector: selector, Value: value})
}

func (p *Page) SelectIndex(ctx context.Context, selector string, index int) error {
	return p.record(ctx, Action{Kind: "select", Selector: selector, Value: fmt.Sprint(index)})
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	err := p.record(ctx, Action{Kind: "screenshot"})
	if err != nil {
		return nil, err
	}
	return p.Snapshot, nil
}
