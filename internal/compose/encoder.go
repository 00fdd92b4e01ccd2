package compose

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gemdesk/internal/domain"
	"gemdesk/internal/metrics"

	"github.com/gabriel-vasile/mimetype"
)

// maxAttachmentBytes caps a single attachment read. The Send API
// transports payloads inline, so oversized files are rejected here
// rather than half-uploaded.
const maxAttachmentBytes = 16 << 20 // 16MB

// Encoder converts locally-selected binary resources into transmittable
// base64 data URIs for the Send API.
type Encoder struct {
	logger *slog.Logger
}

func NewEncoder(logger *slog.Logger) *Encoder {
	return &Encoder{logger: logger}
}

// Encode reads one file and produces its encoded payload.
func (e *Encoder) Encode(path string) (domain.EncodedPayload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return domain.EncodedPayload{}, fmt.Errorf("stat attachment: %w", err)
	}
	if info.Size() > maxAttachmentBytes {
		return domain.EncodedPayload{}, fmt.Errorf("attachment %s too large: %d bytes", path, info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return domain.EncodedPayload{}, fmt.Errorf("read attachment: %w", err)
	}

	mime := mimetype.Detect(data)

	return domain.EncodedPayload{
		Name:     filepath.Base(path),
		MIMEType: mime.String(),
		DataURI:  "data:" + mime.String() + ";base64," + base64.StdEncoding.EncodeToString(data),
	}, nil
}

// EncodeAll encodes every ref it can. A failing attachment is skipped
// and logged; the rest of the batch proceeds.
func (e *Encoder) EncodeAll(refs []string) []domain.EncodedPayload {
	payloads := make([]domain.EncodedPayload, 0, len(refs))
	for _, ref := range refs {
		payload, err := e.Encode(ref)
		if err != nil {
			e.logger.Warn("attachment skipped", "ref", ref, "err", err)
			metrics.EncodeFailures.Inc()
			continue
		}
		payloads = append(payloads, payload)
	}
	return payloads
}
