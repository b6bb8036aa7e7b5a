package opencv

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/model"
)

// Encoder encodes frames to JPEG at a fixed quality.
type Encoder struct {
	quality int
}

func NewEncoder(quality int) *Encoder {
	return &Encoder{quality: quality}
}

// EncodeJPEG encodes img, which must come from this package.
func (e *Encoder) EncodeJPEG(img model.Image) ([]byte, error) {
	frame, ok := img.(*Image)
	if !ok {
		return nil, fmt.Errorf("unsupported image type %T", img)
	}
	if frame.mat.Empty() {
		return nil, fmt.Errorf("cannot encode empty frame")
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, frame.mat, []int{int(gocv.IMWriteJpegQuality), e.quality})
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	encoded := make([]byte, len(buf.GetBytes()))
	copy(encoded, buf.GetBytes())
	return encoded, nil
}

// DecodeImage decodes any OpenCV-readable image (JPEG, PNG, BMP) into an Image owned by the caller.
func DecodeImage(data []byte) (*Image, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("decoded image is empty")
	}
	return &Image{mat: mat}, nil
}
