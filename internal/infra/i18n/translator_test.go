//go:build !integration

package i18n

import (
	"testing"
)

func TestTranslator(t *testing.T) {
	translator, err := newTranslatorFromBytes("pt-BR", []byte("greeting: Olá\nwelcome_user: Olá %s"))
	if err != nil {
		t.Fatalf("newTranslatorFromBytes failed: %v", err)
	}

	t.Run("should translate a simple key", func(t *testing.T) {
		if got, want := translator.T("greeting"), "Olá"; got != want {
			t.Errorf("wanted '%s', got '%s'", want, got)
		}
	})

	t.Run("should return key if not found", func(t *testing.T) {
		if got, want := translator.T("nonexistent_key"), "nonexistent_key"; got != want {
			t.Errorf("wanted '%s', got '%s'", want, got)
		}
	})

	t.Run("should format arguments correctly", func(t *testing.T) {
		if got, want := translator.T("welcome_user", "Ana"), "Olá Ana"; got != want {
			t.Errorf("wanted '%s', got '%s'", want, got)
		}
	})
}

func TestBundle_For(t *testing.T) {
	b, err := LoadBundle(LocalesFS, "pt-BR", "en")
	if err != nil {
		t.Fatalf("LoadBundle failed: %v", err)
	}

	cases := []struct {
		header string
		want   string
	}{
		{"", "pt-BR"},
		{"en-US,en;q=0.9", "en"},
		{"pt-BR,pt;q=0.9,en;q=0.8", "pt-BR"},
		{"de-DE", "pt-BR"},
		{"not a header;;", "pt-BR"},
	}
	for _, c := range cases {
		if got := b.For(c.header).Lang(); got != c.want {
			t.Errorf("%q: wanted %s, got %s", c.header, c.want, got)
		}
	}

	// every page key exists in every locale
	for _, lang := range []string{"pt-BR", "en"} {
		tr, err := NewTranslator(LocalesFS, lang)
		if err != nil {
			t.Fatal(err)
		}
		for _, r := range []string{"success", "pending", "failure", "cancel"} {
			for _, k := range []string{"return." + r + ".title", "return." + r + ".message"} {
				if tr.T(k) == k {
					t.Errorf("%s: missing key %s", lang, k)
				}
			}
		}
	}
}
