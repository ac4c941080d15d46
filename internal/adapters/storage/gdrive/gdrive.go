package gdrive

import (
	"context"
	"fmt"
	"path"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"vidrender/internal/ports"
)

// Client archives artifacts to Google Drive. The returned object key is the
// Drive file ID.
type Client struct {
	srv      *drive.Service
	folderID string
}

func NewClient(srv *drive.Service, folderID string) *Client {
	return &Client{srv: srv, folderID: folderID}
}

func (c *Client) Provider() string { return "gdrive" }

func (c *Client) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	if in.ObjectKey == "" {
		return ports.PutObjectOutput{}, fmt.Errorf("object_key is required")
	}

	// Drive has no directories in the name; keep the key in the description
	// so the token stays searchable.
	file := &drive.File{
		Name:        path.Base(in.ObjectKey),
		Description: in.ObjectKey,
		MimeType:    in.ContentType,
	}
	if c.folderID != "" {
		file.Parents = []string{c.folderID}
	}

	call := c.srv.Files.Create(file).SupportsAllDrives(true)
	if in.ContentType != "" {
		call = call.Media(in.Reader, googleapi.ContentType(in.ContentType))
	} else {
		call = call.Media(in.Reader)
	}

	created, err := call.Context(ctx).Do()
	if err != nil {
		return ports.PutObjectOutput{}, fmt.Errorf("gdrive upload failed: %w", err)
	}

	size := in.Size
	if created.Size > 0 {
		size = created.Size
	}
	return ports.PutObjectOutput{ObjectKey: created.Id, Size: size}, nil
}

// Check calls about.get, which fails fast on bad credentials.
func (c *Client) Check(ctx context.Context) error {
	if _, err := c.srv.About.Get().Fields("user").Context(ctx).Do(); err != nil {
		return fmt.Errorf("gdrive about failed: %w", err)
	}
	return nil
}
