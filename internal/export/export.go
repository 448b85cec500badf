// Package export renders reconstructed threads as standalone HTML documents.
package export

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/skip2/go-qrcode"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"nostr-threads/internal/nips"
	"nostr-threads/internal/nostr"
	"nostr-threads/internal/thread"
	"nostr-threads/internal/types"
)

// indentPerLevel is the left margin, in em, added per reply depth.
const indentPerLevel = 1.5

// qrSize is the PNG edge length of the embedded share code.
const qrSize = 256

var (
	markdownOnce sync.Once
	markdown     goldmark.Markdown

	policyOnce sync.Once
	policy     *bluemonday.Policy

	pageOnce sync.Once
	page     *template.Template
	pageErr  error
)

func markdownRenderer() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdown = goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		)
	})
	return markdown
}

func sanitizer() *bluemonday.Policy {
	policyOnce.Do(func() {
		policy = bluemonday.UGCPolicy()
		policy.RequireNoReferrerOnLinks(true)
		policy.AddTargetBlankToFullyQualifiedLinks(true)
	})
	return policy
}

func pageTemplate() (*template.Template, error) {
	pageOnce.Do(func() {
		funcMap := template.FuncMap{
			"formatTime": func(ts int64) string {
				return time.Unix(ts, 0).UTC().Format("2006-01-02 15:04:05")
			},
			"shortID": nostr.ShortID,
			"indent": func(depth int) string {
				return fmt.Sprintf("%.1fem", float64(depth)*indentPerLevel)
			},
		}
		page, pageErr = template.New("export").Funcs(funcMap).Parse(threadPage)
	})
	return page, pageErr
}

// RenderContent converts note content from markdown to sanitised HTML.
func RenderContent(content string) template.HTML {
	var buf bytes.Buffer
	if err := markdownRenderer().Convert([]byte(content), &buf); err != nil {
		slog.Warn("markdown conversion failed", "error", err)
		return template.HTML(template.HTMLEscapeString(content))
	}
	return template.HTML(sanitizer().SanitizeBytes(buf.Bytes()))
}

// ShareURI returns the nostr:nevent link for a thread root.
func ShareURI(rootID, author string, relays []string) (string, error) {
	return nips.NEventURI(rootID, author, relays)
}

// QRCodeDataURL encodes content as a PNG QR code data URL.
func QRCodeDataURL(content string) (string, error) {
	png, err := qrcode.Encode(content, qrcode.Medium, qrSize)
	if err != nil {
		return "", fmt.Errorf("generating QR code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// QRCodeTerminal renders content as a QR code drawn with block characters.
func QRCodeTerminal(content string) (string, error) {
	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("generating QR code: %w", err)
	}
	return q.ToSmallString(false), nil
}

// Note is one rendered entry of the exported thread.
type Note struct {
	ID          string
	Pubkey      string
	CreatedAt   int64
	Depth       int
	Root        bool
	ContentHTML template.HTML
}

// Document is everything the export page shows.
type Document struct {
	Title       string
	RootID      string
	ShareURI    string
	QRCode      template.URL
	Notes       []Note
	HasMore     bool
	NotFound    bool
	Degraded    bool
	Stage       string
	Relays      []string
	GeneratedAt time.Time
}

// NewDocument builds a document from a flattened thread. root may be nil when
// only replies are known.
func NewDocument(rootID string, root *types.Event, nodes thread.FlatList, relays []string) Document {
	doc := Document{
		Title:       "Thread " + nostr.ShortID(rootID),
		RootID:      rootID,
		Relays:      relays,
		GeneratedAt: time.Now().UTC(),
	}

	author := ""
	if root != nil {
		author = root.PubKey
	}
	uri, err := ShareURI(rootID, author, relays)
	if err != nil {
		slog.Warn("failed to encode share link", "root", nostr.ShortID(rootID), "error", err)
	} else {
		doc.ShareURI = uri
		if qr, err := QRCodeDataURL(uri); err == nil {
			doc.QRCode = template.URL(qr)
		}
	}

	doc.Notes = make([]Note, len(nodes))
	for i, n := range nodes {
		doc.Notes[i] = Note{
			ID:          n.ID,
			Pubkey:      n.Event.PubKey,
			CreatedAt:   n.Event.CreatedAt,
			Depth:       n.Depth,
			Root:        n.ID == rootID,
			ContentHTML: RenderContent(n.Event.Content),
		}
	}
	return doc
}

// FromThread builds a document from a reconstructed thread.
func FromThread(t *thread.Thread, opts thread.FlattenOptions) Document {
	doc := NewDocument(t.RootID(), t.Root(), t.Flatten(opts), t.Relays())
	doc.HasMore = t.HasMore()
	doc.NotFound = t.NotFound()
	doc.Degraded = t.Degraded()
	doc.Stage = t.Stage().String()
	return doc
}

// Render writes doc as a complete HTML page.
func Render(w io.Writer, doc Document) error {
	tmpl, err := pageTemplate()
	if err != nil {
		return fmt.Errorf("parsing export template: %w", err)
	}
	if err := tmpl.Execute(w, doc); err != nil {
		return fmt.Errorf("rendering export: %w", err)
	}
	return nil
}
