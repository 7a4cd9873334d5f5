package api

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/onkernel/vmconf/lib/logger"
)

var swaggerPage = template.Must(template.New("swagger").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Title}}</title>
<link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
<style>body { margin: 0; }</style>
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
<script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-standalone-preset.js"></script>
<script>
window.onload = () => SwaggerUIBundle({
	url: {{.SpecURL}},
	dom_id: "#swagger-ui",
	presets: [SwaggerUIBundle.presets.apis, SwaggerUIStandalonePreset],
	layout: "StandaloneLayout",
	deepLinking: true,
	persistAuthorization: true,
});
</script>
</body>
</html>
`))

// SwaggerUI serves a Swagger UI page that loads the API document from specURL.
func SwaggerUI(specURL string) http.HandlerFunc {
	return renderPage(swaggerPage, struct{ Title, SpecURL string }{"vmconf API", specURL})
}

// renderPage executes page into a buffer so a failed render answers 500
// instead of a truncated page.
func renderPage(page *template.Template, data any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := page.Execute(&buf, data); err != nil {
			logger.FromContext(r.Context()).ErrorContext(r.Context(), "render page", "page", page.Name(), "error", err)
			http.Error(w, "failed to render page", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(buf.Bytes())
	}
}
