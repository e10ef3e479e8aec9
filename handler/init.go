package handler

import (
	"embed"
	"fmt"
	"html/template"
)

var (
	//go:embed template/*
	content embed.FS

	unsubscribeTmpl *template.Template
)

func init() {
	b, err := content.ReadFile("template/unsubscribe.html")
	if err != nil {
		panic(fmt.Errorf("read template unsubscribe.html: %v", err))
	}

	unsubscribeTmpl, err = template.New("unsubscribe").Parse(string(b))
	if err != nil {
		panic(fmt.Errorf("parse template unsubscribe.html: %v", err))
	}
}
