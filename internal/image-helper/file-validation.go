package imagehelper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

const (
	MAX_IMAGE_SIZE = 2 << 20
	SIGNATURE_SIZE = 512
)

var ErrUnsupportedImage = errors.New("unsupported image format")

// IsImage checks the magic bytes and decodes the image header. The reader is
// rewound before returning so it can be uploaded as is.
func IsImage(file io.ReadSeeker) (string, error) {
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to reset file pointer: %w", err)
	}

	signature := make([]byte, SIGNATURE_SIZE)
	n, err := io.ReadFull(file, signature)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("failed to read file signature: %w", err)
	}

	format, err := detectImageFormat(signature[:n])
	if err != nil {
		return "", err
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to reset file pointer: %w", err)
	}
	if _, _, err := image.DecodeConfig(file); err != nil {
		return "", fmt.Errorf("image.DecodeConfig failed: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to reset file pointer: %w", err)
	}

	return format, nil
}

func detectImageFormat(signature []byte) (string, error) {
	// JPEG
	if bytes.HasPrefix(signature, []byte{0xFF, 0xD8}) {
		return "jpeg", nil
	}

	// PNG
	if bytes.HasPrefix(signature, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}) {
		return "png", nil
	}

	return "", ErrUnsupportedImage
}

type Uploader interface {
	UploadImage(ctx context.Context, src io.Reader, folder string) (string, error)
}

type Cloudinary struct {
	cld *cloudinary.Cloudinary
}

func NewCloudinary(cloudName, apiKey, apiSecret string) (*Cloudinary, error) {
	cld, err := cloudinary.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("cloudinary fail to initiate %w", err)
	}
	return &Cloudinary{cld: cld}, nil
}

func (c *Cloudinary) UploadImage(ctx context.Context, src io.Reader, folder string) (string, error) {
	result, err := c.cld.Upload.Upload(
		ctx,
		src,
		uploader.UploadParams{
			ResourceType: "image",
			Folder:       folder,
		},
	)
	if err != nil {
		return "", fmt.Errorf("failed to upload image %w", err)
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("failed to upload image: %s", result.Error.Message)
	}
	return result.SecureURL, nil
}

var ErrUploadsDisabled = errors.New("image upload is not configured")

// Disabled is wired when no media host credentials are configured.
type Disabled struct{}

func (Disabled) UploadImage(context.Context, io.Reader, string) (string, error) {
	return "", ErrUploadsDisabled
}
