package schema

import (
	"bytes"
	"strings"
	"text/template"
)

var ddlTemplate = template.Must(template.New("ddl").Funcs(template.FuncMap{
	"indent": func(s string) string {
		return "    " + strings.ReplaceAll(s, "\n", "\n    ")
	},
}).Parse(`{{- range .Unmapped }}-- unmapped: {{ . }}
{{ end -}}
CREATE TABLE IF NOT EXISTS ` + "`{{ .Database }}`.`{{ .Table }}`" + `
(
{{ indent .Fragment }}
)
ENGINE = MergeTree
ORDER BY {{ if .OrderBy }}` + "`{{ .OrderBy }}`" + `{{ else }}tuple(){{ end }};
`))

type ddlData struct {
	Database string
	Table    string
	Translation
}

// Render produces a ClickHouse MergeTree CREATE TABLE statement. Unmapped
// columns are listed as comments above the statement.
func Render(database, table string, t Translation) (string, error) {
	var buf bytes.Buffer
	if err := ddlTemplate.Execute(&buf, ddlData{Database: database, Table: table, Translation: t}); err != nil {
		return "", err
	}
	return buf.String(), nil
}
