package export

// threadPage is a self-contained page: no external stylesheets or scripts.
var threadPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>{{.Title}}</title>
  <style>
    * { box-sizing: border-box; }
    body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; background: #f5f5f5; margin: 0; padding: 20px; }
    .container { max-width: 800px; margin: 0 auto; }
    .note { background: #fff; border-left: 3px solid #ddd; border-radius: 4px; padding: 12px 16px; margin-bottom: 8px; }
    .note.root { border-left-color: #667eea; }
    .meta { font-size: 12px; color: #888; }
    .banner { background: #fff3cd; border-radius: 4px; padding: 8px 12px; margin-bottom: 12px; }
    .share { text-align: center; margin-top: 24px; }
    .share code { word-break: break-all; font-size: 12px; }
  </style>
</head>
<body>
<div class="container">
  <h1>{{.Title}}</h1>
  {{if .NotFound}}<div class="banner" role="status">Thread not found on any relay.</div>{{end}}
  {{if .Degraded}}<div class="banner" role="status">Some relays failed; this thread may be incomplete.</div>{{end}}
  {{if .HasMore}}<div class="banner" role="status">More replies exist beyond what was fetched.</div>{{end}}
  {{range .Notes}}
  <article class="note{{if .Root}} root{{end}}" id="note-{{.ID}}" data-depth="{{.Depth}}" style="margin-left: {{indent .Depth}}">
    <div class="meta"><span title="{{.Pubkey}}">{{shortID .Pubkey}}</span> &middot; <time datetime="{{.CreatedAt}}">{{formatTime .CreatedAt}}</time></div>
    <div class="content">{{.ContentHTML}}</div>
  </article>
  {{end}}
  {{if .ShareURI}}
  <div class="share">
    {{if .QRCode}}<img src="{{.QRCode}}" alt="QR code for {{.ShareURI}}" width="256" height="256">{{end}}
    <p><code>{{.ShareURI}}</code></p>
  </div>
  {{end}}
  <footer class="meta">Stage {{.Stage}}{{if .Relays}} &middot; {{len .Relays}} relays{{end}} &middot; generated {{.GeneratedAt.Format "2006-01-02 15:04 UTC"}}</footer>
</div>
</body>
</html>
`
