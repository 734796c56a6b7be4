package extract

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/net/html"
)

const selectorDoc = `<html><body>
<form id="login" class="form login-form">
  <div class="field"><input id="user-name" name="user-name" data-test="username" placeholder="Username" type="text"></div>
  <div class="field"><input id="password" name="password" data-test="password" placeholder="Password" type="password"></div>
  <input type="submit" id="login-button" class="submit-button btn_action" value="Login">
</form>
<ul class="menu"><li><a href="/a">Inventory</a></li><li><a href="/b">About us</a></li></ul>
<button class="error-button"><span>Close</span></button>
<p>Login with <b>standard user</b></p>
</body></html>`

func parseDoc(t *testing.T, s string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func TestSelector_Match(t *testing.T) {
	doc := parseDoc(t, selectorDoc)
	tests := []struct {
		sel  string
		want int
	}{
		{"#user-name", 1},
		{"input", 3},
		{"input.submit-button", 1},
		{".submit-button.btn_action", 1},
		{`[data-test="username"]`, 1},
		{`[data-test='password']`, 1},
		{"[data-test]", 2},
		{`[placeholder="username" i]`, 1},
		{`[id^="user"]`, 1},
		{`[id$="button"]`, 1},
		{`[class*="btn"]`, 1},
		{`[class~="field"]`, 2},
		{"form#login input", 3},
		{"form > input", 1},
		{"form > div > input", 2},
		{"ul.menu a", 2},
		{`a:has-text("about")`, 1},
		{`li:text-is("Inventory")`, 1},
		{"#user-name, #password", 2},
		{"text=Close", 1},
		{`text="standard user"`, 1},
		{"text=inventory", 1},
		{"css=#password", 1},
		{"#missing", 0},
		{"form > div:nth-child(2) > input", 1},
		{`body:has-text("inventory") > form > input[type="submit"]`, 1},
		{`ul.menu > li a:text-is("About us")`, 1},
		{`ul :has-text("inventory")`, 2},
		{`li:has-text("about"), #password`, 2},
		{"//input[@id='password']", 1},
		{"xpath=//form//input", 3},
		{"(//li)[2]", 1},
		{`//button[contains(., 'Close')]`, 1},
	}
	for _, tt := range tests {
		t.Run(tt.sel, func(t *testing.T) {
			sel, err := Compile(tt.sel)
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			got := len(sel.MatchAll(doc))
			if got != tt.want {
				t.Errorf("got %d matches, want %d", got, tt.want)
			}
		})
	}
}

func TestSelector_TextSelectsInnermost(t *testing.T) {
	doc := parseDoc(t, selectorDoc)
	sel, err := Compile("text=Close")
	if err != nil {
		t.Fatal(err)
	}
	got := sel.MatchAll(doc)
	if len(got) != 1 || got[0].Data != "span" {
		t.Fatalf("got %v, want the span", got)
	}
}

func TestSelector_Errors(t *testing.T) {
	for _, sel := range []string{"", "  ", "//div[", "xpath=//input[@", "input >", "[name", `[name="x]`, "div:bogus", "text=", "a,,b", `li:has-text("x") + li`} {
		if _, err := Compile(sel); err == nil {
			t.Errorf("Compile(%q): expected error", sel)
		}
	}
	for _, sel := range []string{`li:has-text("x") ~ li`, `a:has-text("x") + b`} {
		if _, err := Compile(sel); !errors.Is(err, ErrUnsupported) {
			t.Errorf("%s: got %v, want ErrUnsupported", sel, err)
		}
	}
}

func TestSelector_EscapedValue(t *testing.T) {
	doc := parseDoc(t, `<body><input name='say "hi"'></body>`)
	sel, err := Compile(`[name="say \"hi\""]`)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(sel.MatchAll(doc)); got != 1 {
		t.Errorf("got %d matches, want 1", got)
	}
}
