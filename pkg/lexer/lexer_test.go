package lexer

import (
	"testing"
)

func collect(t *testing.T, input string) []Token {
	t.Helper()
	toks, err := New(input).Tokenize()
	if err != nil {
		t.Fatalf("tokenize error: %v", err)
	}
	return toks
}

func TestNextToken_TemplateDataAndVariable(t *testing.T) {
	toks := collect(t, `hello {{ name }}!`)

	kinds := []TokenKind{
		TokenTemplateData, TokenVariableStart, TokenIdent, TokenVariableEnd,
		TokenTemplateData, TokenEOF,
	}
	if len(toks) != len(kinds) {
		t.Fatalf("expected %d tokens, got %d: %+v", len(kinds), len(toks), toks)
	}
	for i, k := range kinds {
		if toks[i].Kind != k {
			t.Errorf("token %d: expected kind %s, got %s", i, k, toks[i].Kind)
		}
	}
	if toks[0].Literal != "hello " {
		t.Errorf("expected leading literal %q, got %q", "hello ", toks[0].Literal)
	}
	if toks[2].Literal != "name" {
		t.Errorf("expected ident %q, got %q", "name", toks[2].Literal)
	}
	if toks[4].Literal != "!" {
		t.Errorf("expected trailing literal %q, got %q", "!", toks[4].Literal)
	}
}

func TestNextToken_BlockTags(t *testing.T) {
	toks := collect(t, `{% if x %}yes{% endif %}`)
	var kinds []TokenKind
	for _, tok := range toks {
		kinds = append(kinds, tok.Kind)
	}
	want := []TokenKind{
		TokenBlockStart, TokenIdent, TokenIdent, TokenBlockEnd,
		TokenTemplateData,
		TokenBlockStart, TokenIdent, TokenBlockEnd,
		TokenEOF,
	}
	if len(kinds) != len(want) {
		t.Fatalf("expected %d tokens, got %d: %+v", len(want), len(kinds), toks)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("token %d: expected %s, got %s", i, want[i], kinds[i])
		}
	}
}

func TestWhitespaceControl_TrimDash(t *testing.T) {
	toks := collect(t, "a  {%- if x -%}  b  {%- endif -%}  c")
	// first TemplateData should be right-trimmed, last piece of text
	// between end-dash and next start-dash left+right trimmed.
	if toks[0].Kind != TokenTemplateData || toks[0].Literal != "a" {
		t.Errorf("expected trimmed leading literal %q, got %q", "a", toks[0].Literal)
	}
}

func TestComment(t *testing.T) {
	toks := collect(t, `before{# this is a comment #}after`)
	if len(toks) != 3 {
		t.Fatalf("expected 3 tokens (merged data would differ), got %d: %+v", len(toks), toks)
	}
	if toks[0].Literal != "before" || toks[1].Literal != "after" {
		t.Errorf("unexpected literals: %q %q", toks[0].Literal, toks[1].Literal)
	}
}

func TestRawBlock(t *testing.T) {
	toks := collect(t, `{% raw %}{{ not a var }}{% endraw %}`)
	var data []string
	for _, tok := range toks {
		if tok.Kind == TokenTemplateData {
			data = append(data, tok.Literal)
		}
	}
	if len(data) != 1 || data[0] != `{{ not a var }}` {
		t.Errorf("expected raw passthrough of %q, got %v", `{{ not a var }}`, data)
	}
}

func TestLexNumber(t *testing.T) {
	toks := collect(t, `{{ 42 3.14 1e10 1.5e-3 }}`)
	var got []string
	var kinds []TokenKind
	for _, tok := range toks {
		if tok.Kind == TokenInt || tok.Kind == TokenFloat {
			got = append(got, tok.Literal)
			kinds = append(kinds, tok.Kind)
		}
	}
	wantLit := []string{"42", "3.14", "1e10", "1.5e-3"}
	wantKind := []TokenKind{TokenInt, TokenFloat, TokenFloat, TokenFloat}
	if len(got) != len(wantLit) {
		t.Fatalf("expected %d numeric tokens, got %d: %v", len(wantLit), len(got), got)
	}
	for i := range wantLit {
		if got[i] != wantLit[i] {
			t.Errorf("literal %d: expected %q, got %q", i, wantLit[i], got[i])
		}
		if kinds[i] != wantKind[i] {
			t.Errorf("kind %d: expected %s, got %s", i, wantKind[i], kinds[i])
		}
	}
}

func TestLexString_Escapes(t *testing.T) {
	toks := collect(t, `{{ "a\nb\tc\"d" }}`)
	var str string
	for _, tok := range toks {
		if tok.Kind == TokenString {
			str = tok.Literal
		}
	}
	want := "a\nb\tc\"d"
	if str != want {
		t.Errorf("expected %q, got %q", want, str)
	}
}

func TestLexString_UnicodeEscape(t *testing.T) {
	toks := collect(t, `{{ "\u00e9" }}`)
	var str string
	for _, tok := range toks {
		if tok.Kind == TokenString {
			str = tok.Literal
		}
	}
	if str != "é" {
		t.Errorf("expected %q, got %q", "é", str)
	}
}

func TestLexString_SurrogatePair(t *testing.T) {
	toks := collect(t, `{{ "\ud83d\ude00" }}`)
	var str string
	for _, tok := range toks {
		if tok.Kind == TokenString {
			str = tok.Literal
		}
	}
	if str != "😀" {
		t.Errorf("expected grinning face emoji, got %q (%x)", str, []rune(str))
	}
}

func TestOperators(t *testing.T) {
	toks := collect(t, `{{ a ** b // c == d != e <= f >= g < h > i ~ j }}`)
	var kinds []TokenKind
	for _, tok := range toks {
		switch tok.Kind {
		case TokenStarStar, TokenSlashSlash, TokenEq, TokenNe, TokenLte, TokenGte, TokenLt, TokenGt, TokenTilde:
			kinds = append(kinds, tok.Kind)
		}
	}
	want := []TokenKind{
		TokenStarStar, TokenSlashSlash, TokenEq, TokenNe, TokenLte, TokenGte, TokenLt, TokenGt, TokenTilde,
	}
	if len(kinds) != len(want) {
		t.Fatalf("expected %d operator tokens, got %d: %v", len(want), len(kinds), kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("operator %d: expected %s, got %s", i, want[i], kinds[i])
		}
	}
}

func TestBangAloneIsIllegal(t *testing.T) {
	_, err := New(`{{ a ! b }}`).Tokenize()
	if err == nil {
		t.Fatalf("expected an error for a bare '!' token")
	}
}

func TestUnterminatedComment(t *testing.T) {
	_, err := New(`hello {# comment never closes`).Tokenize()
	if err == nil {
		t.Fatalf("expected unterminated comment error")
	}
}

func TestSpansTrackLineAndColumn(t *testing.T) {
	toks := collect(t, "line1\n{{ x }}")
	var varTok Token
	for _, tok := range toks {
		if tok.Kind == TokenVariableStart {
			varTok = tok
		}
	}
	if varTok.Span.StartLine != 2 {
		t.Errorf("expected variable start on line 2, got %d", varTok.Span.StartLine)
	}
}
