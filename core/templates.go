package core

import (
	"bytes"
	"fmt"
	"html/template"
)

const htmlContentType = "text/html; charset=utf-8"

// pageTemplates backs every HTML page the service serves. The frontend is a
// thin shell: watchlist management, login, and the admin user list. Anything
// data-heavy goes through the JSON API instead.
var pageTemplates = template.Must(template.New("pages").Parse(`
{{define "layout_head"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}} - Stock Analysis WebUI</title>
</head>
<body>
{{end}}

{{define "layout_foot"}}</body>
</html>
{{end}}

{{define "index"}}{{template "layout_head" .}}
<h1>Stock Watchlist</h1>
<p>Signed in as <strong>{{.Username}}</strong>{{if .IsAdmin}} (admin){{end}}.</p>
<form method="post" action="/update">
<label for="stock_list">Watched stock codes (comma separated):</label><br>
<textarea id="stock_list" name="stock_list" rows="4" cols="60">{{.StockList}}</textarea><br>
<button type="submit">Save</button>
</form>
{{if .Message}}<p>{{.Message}}</p>{{end}}
<p><a href="/tasks">Task history (JSON)</a>{{if .IsAdmin}} | <a href="/admin/users">Manage users</a>{{end}} | <a href="/api/logout">Logout</a></p>
{{template "layout_foot" .}}{{end}}

{{define "login"}}{{template "layout_head" .}}
<h1>Sign In</h1>
{{if .Error}}<p style="color:red">{{.Error}}</p>{{end}}
<form method="post" action="/api/login">
<label for="username">Username</label>
<input id="username" name="username" autocomplete="username"><br>
<label for="password">Password</label>
<input id="password" name="password" type="password" autocomplete="current-password"><br>
<button type="submit">Login</button>
</form>
{{template "layout_foot" .}}{{end}}

{{define "admin_users"}}{{template "layout_head" .}}
<h1>User Management</h1>
<table border="1" cellpadding="4">
<tr><th>ID</th><th>Username</th><th>Enabled</th><th>Admin</th><th>Custom Tasks</th></tr>
{{range .Users}}<tr>
<td>{{.ID}}</td><td>{{.Username}}</td><td>{{.Enabled}}</td><td>{{.IsAdmin}}</td><td>{{.CanCustomTask}}</td>
</tr>{{end}}
</table>
<p><a href="/">Back</a></p>
{{template "layout_foot" .}}{{end}}

{{define "redirect"}}{{template "layout_head" .}}
<p>Redirecting to <a href="{{.Target}}">{{.Target}}</a>.</p>
{{template "layout_foot" .}}{{end}}

{{define "error"}}{{template "layout_head" .}}
<h1>{{.Status}} {{.Title}}</h1>
<p>{{.Detail}}</p>
<p><a href="/">Back to home</a></p>
{{template "layout_foot" .}}{{end}}
`))

func renderRedirectPage(target string) []byte {
	var buf bytes.Buffer
	err := pageTemplates.ExecuteTemplate(&buf, "redirect", map[string]any{
		"Title":  "Redirecting",
		"Target": target,
	})
	if err != nil {
		return []byte(fmt.Sprintf("redirecting to %s", target))
	}
	return buf.Bytes()
}

func renderErrorPage(status int, title, detail string) []byte {
	var buf bytes.Buffer
	err := pageTemplates.ExecuteTemplate(&buf, "error", map[string]any{
		"Title":  title,
		"Status": status,
		"Detail": detail,
	})
	if err != nil {
		return []byte(fmt.Sprintf("%d %s", status, title))
	}
	return buf.Bytes()
}
