package llm_test

import (
	"testing"

	"github.com/MrWong99/minutas/pkg/provider/llm"
)

func TestImage_DataURL(t *testing.T) {
	t.Parallel()
	img := llm.Image{MIMEType: "image/png", Data: []byte("abc")}
	if got, want := img.DataURL(), "data:image/png;base64,YWJj"; got != want {
		t.Errorf("DataURL = %q, want %q", got, want)
	}
}
