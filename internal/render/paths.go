package render

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
)

// IndividualSegment replaces the lot id in paths of certificates issued outside a lot.
const IndividualSegment = "individual"

// OutputPath returns the storage key of a rendered certificate:
// {companyId}/{lotId or "individual"}/{code}.{ext}. Rendering the same code
// twice therefore overwrites the same object.
func OutputPath(companyID int64, lotID *uuid.UUID, code, ext string) string {
	segment := IndividualSegment
	if lotID != nil {
		segment = lotID.String()
	}
	return fmt.Sprintf("%d/%s/%s.%s", companyID, segment, code, strings.TrimPrefix(ext, "."))
}

// VerificationURL is the URL encoded in the scannable code.
func VerificationURL(baseURL, code string) string {
	return strings.TrimRight(baseURL, "/") + "/" + code
}

// EncodeQR encodes content as a square PNG QR code of size pixels.
func EncodeQR(content string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(content, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}
	return png, nil
}
