package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	contracts "vidrender/internal/contracts/renderer/v0"
	"vidrender/internal/httpkit"
	"vidrender/internal/pkg/errors"
	"vidrender/internal/processor"
)

// PostRender renders the requested composition and streams the video back as
// an attachment. The request blocks for the whole render.
func (h *Handler) PostRender(w http.ResponseWriter, r *http.Request) error {
	var req contracts.RenderRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		return err
	}

	d := &httpDeliverer{w: w}
	_, err := h.runner.Run(r.Context(), req, d)
	if err != nil && d.Committed() {
		// Headers and part of the body are already out; the processor has
		// logged the failure and the client sees a truncated stream.
		return nil
	}
	return err
}

// httpDeliverer writes an artifact as the response body.
type httpDeliverer struct {
	w         http.ResponseWriter
	committed bool
}

func (d *httpDeliverer) Deliver(ctx context.Context, a processor.Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	hdr := d.w.Header()
	hdr.Set("Content-Type", a.ContentType)
	hdr.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.Name))
	hdr.Set("Content-Length", strconv.FormatInt(a.Size, 10))
	hdr.Set("Cache-Control", "no-store")

	d.committed = true
	d.w.WriteHeader(http.StatusOK)

	n, err := io.Copy(d.w, a.Body)
	if err != nil {
		return err
	}
	if n != a.Size {
		return errors.Newf(errors.CodeDeliveryFailed, "short write: sent %d of %d bytes", n, a.Size)
	}
	return nil
}

func (d *httpDeliverer) Committed() bool { return d.committed }
