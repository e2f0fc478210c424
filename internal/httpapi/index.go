package httpapi

import (
	"bytes"
	_ "embed"
	"html/template"
	"net/http"

	"github.com/book-expert/voiceclone-service/internal/core"
)

//go:embed index.html
var indexHTML string

var indexTemplate = template.Must(template.New("index").Parse(indexHTML))

type indexExample struct {
	Index int
	Text  string
	Speed float64
}

type indexData struct {
	Title        string
	MinSpeed     float64
	MaxSpeed     float64
	DefaultSpeed float64
	Examples     []indexExample
}

func (s *Server) index(w http.ResponseWriter, _ *http.Request) {
	data := indexData{
		Title:        "F5-TTS Vietnamese",
		MinSpeed:     core.MinSpeed,
		MaxSpeed:     core.MaxSpeed,
		DefaultSpeed: core.DefaultSpeed,
		Examples:     make([]indexExample, 0, len(s.examples)),
	}

	for i, example := range s.examples {
		data.Examples = append(data.Examples, indexExample{Index: i, Text: example.Text, Speed: example.Speed})
	}

	var buf bytes.Buffer

	err := indexTemplate.Execute(&buf, data)
	if err != nil {
		s.log.Error("Failed to render demo page: %v", err)
		writeError(w, http.StatusInternalServerError, string(core.KindInferenceFailure), err.Error())

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
