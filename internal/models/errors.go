package models

import (
	"errors"
	"fmt"
)

var (
	ErrBootstrap    = errors.New("bootstrap failed")
	ErrLoad         = errors.New("model loading failed")
	ErrModelMissing = fmt.Errorf("%w: model file not found", ErrLoad)
	ErrIngestion    = errors.New("document ingestion failed")
	ErrNoText       = fmt.Errorf("%w: no extractable text", ErrIngestion)
	ErrIndex        = errors.New("index build failed")
	ErrNoIndex      = errors.New("no PDF loaded")
	ErrEmptyInput   = errors.New("empty question")
	ErrGeneration   = errors.New("answer generation failed")
	ErrBusy         = errors.New("another operation is in progress")
)
