package models

// ImagePart is one image as sent over the wire.
type ImagePart struct {
	Data     []byte
	MimeType string
}

// TryOnRequest is the decoded form of a POST /api/tryon body.
type TryOnRequest struct {
	Subject     ImagePart
	Garment     ImagePart
	ImageCount  int
	IsFreeRetry bool
}

type ImagePartBody struct {
	Data     string `json:"data" validate:"required"`
	MimeType string `json:"mime_type" validate:"omitempty,startswith=image/"`
}

// TryOnRequestBody is the JSON encoding of TryOnRequest.
type TryOnRequestBody struct {
	Person      *ImagePartBody `json:"person" validate:"required"`
	Clothing    *ImagePartBody `json:"clothing" validate:"required"`
	ImageCount  *int           `json:"imageCount,omitempty"`
	IsFreeRetry *bool          `json:"isFreeRetry,omitempty"`
}

type TryOnImagesResponse struct {
	Images []string `json:"images"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Code    string `json:"code,omitempty"`
}
