package processor

import (
	"context"
	"fmt"
	"os"

	"vidrender/internal/artifact"
	"vidrender/internal/metrics"
	"vidrender/internal/pkg/logger"
	"vidrender/internal/ports"
)

// archiveArtifact copies a successful render to the archive provider and
// returns the stored key. Failures are logged and counted, never returned:
// the caller still gets the video.
func (p *Processor) archiveArtifact(ctx context.Context, log *logger.Logger, loc artifact.Location) string {
	key := archiveKey(loc.Token, loc.DeliveryName)

	out, err := p.upload(ctx, loc.InternalPath, key, ContentTypeFor(loc.DeliveryName))
	if err != nil {
		metrics.ArchiveFailures.Inc()
		log.Warn("archive failed",
			"provider", p.archive.Provider(),
			"key", key,
			"error", err.Error(),
		)
		return ""
	}

	log.Info("artifact archived",
		"provider", p.archive.Provider(),
		"key", out.ObjectKey,
		"size_bytes", out.Size,
	)
	return out.ObjectKey
}

func (p *Processor) upload(ctx context.Context, localPath, key, mime string) (ports.PutObjectOutput, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return ports.PutObjectOutput{}, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return ports.PutObjectOutput{}, fmt.Errorf("stat artifact: %w", err)
	}

	out, err := p.archive.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   key,
		ContentType: mime,
		Reader:      f,
		Size:        st.Size(),
	})
	if err != nil {
		return ports.PutObjectOutput{}, fmt.Errorf("upload artifact: %w", err)
	}
	return out, nil
}
