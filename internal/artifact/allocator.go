// Package artifact names the transient files a render writes to.
package artifact

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"vidrender/internal/pkg/errors"
)

// MaxCompositionIDLen bounds the composition ID so generated file names stay
// well under common filesystem limits.
const MaxCompositionIDLen = 128

var compositionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// Location is the pair of names one render uses.
type Location struct {
	// Token is unique per request and doubles as the render ID in logs.
	Token string
	// InternalPath is absolute and is the engine's output target.
	InternalPath string
	// DeliveryName is what the caller sees; it is not unique.
	DeliveryName string
}

type Allocator struct {
	outputDir string
	ext       string
	now       func() time.Time
	newToken  func() string
}

// NewAllocator returns an allocator for files under outputDir with the given
// extension (".mp4"). outputDir must already exist and be absolute.
func NewAllocator(outputDir, ext string) *Allocator {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return &Allocator{
		outputDir: outputDir,
		ext:       ext,
		now:       time.Now,
		newToken:  func() string { return uuid.NewString() },
	}
}

// WithClock replaces the clock used for delivery names.
func (a *Allocator) WithClock(now func() time.Time) *Allocator {
	a.now = now
	return a
}

// OutputDir returns the directory artifacts are placed in.
func (a *Allocator) OutputDir() string { return a.outputDir }

// Allocate builds the paths for one render. It does not touch the disk.
func (a *Allocator) Allocate(compositionID string) (Location, error) {
	if err := ValidateCompositionID(compositionID); err != nil {
		return Location{}, err
	}

	token := a.newToken()
	return Location{
		Token:        token,
		InternalPath: filepath.Join(a.outputDir, compositionID+"-"+token+a.ext),
		DeliveryName: compositionID + "-" + strconv.FormatInt(a.now().UnixMilli(), 10) + a.ext,
	}, nil
}

// ValidateCompositionID rejects IDs that are empty or could not be used as a
// single path element. IDs are rejected rather than rewritten because the
// same string selects the composition inside the engine.
func ValidateCompositionID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.ValidationField("compositionId", "compositionId is required")
	}
	if len(id) > MaxCompositionIDLen {
		return errors.ValidationField("compositionId", "compositionId is too long").
			WithField("max_length", MaxCompositionIDLen)
	}
	if !compositionIDPattern.MatchString(id) {
		return errors.ValidationField("compositionId",
			"compositionId may only contain letters, digits, '-' and '_' and must start with a letter or digit")
	}
	return nil
}
