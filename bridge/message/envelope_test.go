package message

import (
	"errors"
	"strings"
	"testing"
)

var trickyPayloads = []string{
	"",
	"plain",
	`{"elements":[{"id":"a","text":"say \"hi\""}]}`,
	"back\\slash and \\u0041 literal",
	"quotes ' \" ` mixed",
	"braces { } [ ] ( ) ; //",
	"control \x00 \x01 \b \f \n \r \t \x1f \x7f",
	"line separators \u2028 \u2029",
	"</script><script>alert(1)</script> & <!--",
	"unicode: héllo 日本語 🎨 \U0001F600",
	"${template} `backtick` \\n",
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	for _, typ := range []Type{TypeUpdate, TypeSVGContent, Type("x-custom")} {
		for _, p := range trickyPayloads {
			raw, err := Encode(typ, p)
			if err != nil {
				t.Fatalf("Encode(%s, %q): %v", typ, p, err)
			}
			env, err := Decode(raw)
			if err != nil {
				t.Fatalf("Decode(%q): %v", raw, err)
			}
			if env.Type != typ || env.Data != p {
				t.Fatalf("round trip: got (%q, %q), want (%q, %q)", env.Type, env.Data, typ, p)
			}
		}
	}
}

func TestQuoteUnquote_RoundTrip(t *testing.T) {
	for _, p := range trickyPayloads {
		raw, err := Encode(TypeJSONContent, p)
		if err != nil {
			t.Fatal(err)
		}
		lit := Quote(raw)
		if !strings.HasPrefix(lit, `"`) || !strings.HasSuffix(lit, `"`) {
			t.Fatalf("Quote: not a double-quoted literal: %s", lit)
		}
		for _, bad := range []string{"\n", "\r", "\u2028", "\u2029", "<", ">", "\x00"} {
			if strings.Contains(lit, bad) {
				t.Fatalf("Quote: literal contains unescaped %q: %s", bad, lit)
			}
		}
		back, err := Unquote(lit)
		if err != nil {
			t.Fatalf("Unquote: %v", err)
		}
		env, err := Decode(back)
		if err != nil {
			t.Fatalf("Decode after Unquote: %v", err)
		}
		if env.Data != p {
			t.Fatalf("quoted round trip: got %q, want %q", env.Data, p)
		}
	}
}

func TestEncode_RejectsInvalidUTF8(t *testing.T) {
	if _, err := Encode(TypeUpdate, "bad \xff byte"); !errors.Is(err, ErrEncoding) {
		t.Fatalf("Encode invalid UTF-8: got %v, want ErrEncoding", err)
	}
	if _, err := Encode("", "x"); !errors.Is(err, ErrEncoding) {
		t.Fatalf("Encode empty type: got %v, want ErrEncoding", err)
	}
}

func TestDecode_Malformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"not json",
		`"just a string"`,
		`{"data":"x"}`,
		`{"type":""}`,
		`{"type":"update","data":{"elements":[]}}`,
		`{"type":"update","data":"x"} trailing`,
		`[1,2,3]`,
	} {
		if _, err := Decode(raw); !errors.Is(err, ErrDecoding) {
			t.Errorf("Decode(%q): got %v, want ErrDecoding", raw, err)
		}
	}
}

func TestDecode_BareReady(t *testing.T) {
	env, err := Decode(`{"type":"ready"}`)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Type != TypeReady || env.Data != "" {
		t.Fatalf("Decode: got %+v", env)
	}
}
