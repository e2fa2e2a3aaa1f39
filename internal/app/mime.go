package app

import (
	"fmt"
	"log/slog"
	"mime"
)

func init() {
	for ext, typ := range map[string]string{".pdf": "application/pdf", ".json": "application/json"} {
		if err := ensureMimeType(ext, typ); err != nil {
			slog.Default().Warn("register mime type", slog.String("ext", ext), slog.Any("error", err))
		}
	}
}

func ensureMimeType(ext, typ string) error {
	if mime.TypeByExtension(ext) != "" {
		return nil
	}
	if err := mime.AddExtensionType(ext, typ); err != nil {
		return fmt.Errorf("app: register %s: %w", ext, err)
	}
	return nil
}
