package cloudinary

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/rs/zerolog"
)

// Config contains credentials required to talk to Cloudinary.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// Enabled reports whether all credentials are present.
func (c Config) Enabled() bool {
	return c.CloudName != "" && c.APIKey != "" && c.APISecret != ""
}

// Service stores snapshot images in Cloudinary.
type Service struct {
	client *cloudinary.Cloudinary
	folder string
	logger zerolog.Logger
}

// New constructs a Cloudinary service instance.
func New(cfg Config, logger zerolog.Logger) (*Service, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("cloudinary credentials must be provided")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}

	return &Service{
		client: cld,
		folder: strings.Trim(cfg.Folder, "/"),
		logger: logger.With().Str("component", "cloudinary").Logger(),
	}, nil
}

// UploadSnapshot stores the image under objectPath (relative to the configured
// folder) and returns its secure URL. Existing objects are never overwritten.
func (s *Service) UploadSnapshot(ctx context.Context, objectPath string, reader io.Reader) (string, error) {
	folder, publicID := splitObjectPath(s.folder, objectPath)
	if publicID == "" {
		return "", fmt.Errorf("snapshot path must not be empty")
	}

	params := uploader.UploadParams{
		Folder:       folder,
		PublicID:     publicID,
		ResourceType: "image",
		Overwrite:    api.Bool(false),
		Tags:         []string{"proctoring", "suspicious-snapshot"},
	}

	result, err := s.client.Upload.Upload(ctx, reader, params)
	if err != nil {
		return "", fmt.Errorf("failed to upload snapshot: %w", err)
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("cloudinary rejected snapshot: %s", result.Error.Message)
	}

	s.logger.Info().Str("public_id", result.PublicID).Msg("snapshot uploaded to cloudinary")

	return result.SecureURL, nil
}

func splitObjectPath(baseFolder, objectPath string) (string, string) {
	cleaned := strings.Trim(path.Clean("/"+objectPath), "/")
	if cleaned == "" || cleaned == "." {
		return baseFolder, ""
	}

	dir, file := path.Split(cleaned)
	publicID := strings.TrimSuffix(file, path.Ext(file))
	folder := strings.Trim(path.Join(baseFolder, dir), "/")
	return folder, publicID
}
