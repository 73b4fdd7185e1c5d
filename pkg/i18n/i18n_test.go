package i18n

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAcceptLanguage(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", LocaleEnglish},
		{"es", LocaleSpanish},
		{"es-CL,es;q=0.9,en;q=0.8", LocaleSpanish},
		{"en-US,es;q=0.5", LocaleEnglish},
		{"fr-FR,es;q=0.3", LocaleSpanish},
		{"de-DE", LocaleEnglish},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseAcceptLanguage(tt.header))
		})
	}
}

func TestLocalizer_T(t *testing.T) {
	es := NewLocalizer(LocaleSpanish)
	assert.Equal(t, "No encontrado: Medicamento", es.T("errors.not_found", map[string]string{"resource": "Medicamento"}))

	en := NewLocalizer("xx")
	assert.Equal(t, LocaleEnglish, en.GetLocale())
	assert.Equal(t, "Batch", en.T("resources.batch"))
	assert.Equal(t, "missing.key", en.T("missing.key"))
}

func TestTFromContext(t *testing.T) {
	ctx := WithLocale(context.Background(), LocaleSpanish)
	assert.Equal(t, "Salida", TFromContext(ctx, "export.outbound"))
	assert.Equal(t, "Outbound", TFromContext(context.Background(), "export.outbound"))
}

func TestTWithLocale(t *testing.T) {
	assert.Equal(t, "Movimientos", TWithLocale(LocaleSpanish, "export.sheet"))
	assert.Equal(t, "Movements", TWithLocale("fr", "export.sheet"))
	assert.Equal(t, "Movements", T("export.sheet"))
}
