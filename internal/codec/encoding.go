package codec

import (
	"fmt"

	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"

	"github.com/gasops/bankbridge/internal/apperrors"
	"github.com/gasops/bankbridge/internal/core/domain"
)

// encodeText converts UTF-8 text to the bank's wire encoding. A rune with no
// representation in the target encoding is a hard failure: the batch must be
// rejected rather than ship a garbled payee name.
func encodeText(s string, enc domain.TextEncoding) ([]byte, error) {
	switch enc {
	case domain.EncodingUTF8, "":
		return []byte(s), nil
	case domain.EncodingBig5:
		// The plain Big5 encoder errors on unmappable runes, which is exactly
		// the strictness required here. No ReplaceUnsupported wrapping.
		out, _, err := transform.Bytes(traditionalchinese.Big5.NewEncoder(), []byte(s))
		if err != nil {
			return nil, fmt.Errorf("%w: %q not representable in Big5: %v", apperrors.ErrEncoding, s, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown encoding %q", apperrors.ErrEncoding, enc)
	}
}

// decodeText converts wire bytes back to UTF-8 text.
func decodeText(b []byte, enc domain.TextEncoding) (string, error) {
	switch enc {
	case domain.EncodingUTF8, "":
		return string(b), nil
	case domain.EncodingBig5:
		out, _, err := transform.Bytes(traditionalchinese.Big5.NewDecoder(), b)
		if err != nil {
			return "", fmt.Errorf("%w: invalid Big5 bytes: %v", apperrors.ErrEncoding, err)
		}
		return string(out), nil
	default:
		return "", fmt.Errorf("%w: unknown encoding %q", apperrors.ErrEncoding, enc)
	}
}
